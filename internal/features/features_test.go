package features

import "testing"

func TestRegisterDefaults(t *testing.T) {
	m := NewManager()
	RegisterDefaults(m)

	if !m.IsEnabled(FeatureCoupons) {
		t.Error("Expected coupons to be enabled by default")
	}
	if m.IsEnabled(FeatureDevEndpoints) {
		t.Error("Expected dev endpoints to be disabled by default")
	}
	if got := len(m.GetAll()); got != 6 {
		t.Errorf("Expected 6 flags, got %d", got)
	}
}

func TestManager_SetUnknownFlag(t *testing.T) {
	m := NewManager()

	if m.Set("missing", true) {
		t.Error("Expected Set on unknown flag to report false")
	}
	if m.IsEnabled("missing") {
		t.Error("Expected unknown flag to be disabled")
	}
}

func TestManager_Toggle(t *testing.T) {
	m := NewManager()
	m.Register(FeatureReferrals, true, "")

	m.Disable(FeatureReferrals)
	if m.IsEnabled(FeatureReferrals) {
		t.Error("Expected flag to be disabled")
	}
	m.Enable(FeatureReferrals)
	if !m.IsEnabled(FeatureReferrals) {
		t.Error("Expected flag to be enabled")
	}

	flags := m.GetAll()
	flags[0].Enabled = false
	if !m.IsEnabled(FeatureReferrals) {
		t.Error("Expected GetAll to return copies")
	}
}
