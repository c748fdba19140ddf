package features

import (
	"sort"
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}
	return flag.Enabled
}

// Set enables or disables a registered flag and reports whether it exists.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if exists {
		flag.Enabled = enabled
	}
	return exists
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.Set(name, true)
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.Set(name, false)
}

// GetAll returns copies of all feature flags ordered by name.
func (m *Manager) GetAll() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Predefined feature flag names
const (
	// FeatureCoupons accepts signed coupons on purchases
	FeatureCoupons = "coupons_enabled"
	// FeatureReferrals accepts referral codes on purchases
	FeatureReferrals = "referrals_enabled"
	// FeatureRoundCache serves settled rounds from the cache
	FeatureRoundCache = "round_cache_enabled"
	// FeatureKeeperAutoDraw lets the keeper draw rounds it has closed
	FeatureKeeperAutoDraw = "keeper_auto_draw"
	// FeatureDevEndpoints exposes the faucet and approve endpoints
	FeatureDevEndpoints = "dev_endpoints"
	// FeatureEventHooks enables/disables event-driven hooks
	FeatureEventHooks = "event_hooks_enabled"
)

// RegisterDefaults registers every predefined flag with its default state.
func RegisterDefaults(m *Manager) {
	m.Register(FeatureCoupons, true, "Accept signed coupons on ticket purchases")
	m.Register(FeatureReferrals, true, "Accept referral codes on ticket purchases")
	m.Register(FeatureRoundCache, true, "Cache claimable round snapshots")
	m.Register(FeatureKeeperAutoDraw, false, "Draw rounds automatically after the keeper closes them")
	m.Register(FeatureDevEndpoints, false, "Expose token faucet and approve endpoints")
	m.Register(FeatureEventHooks, true, "Log engine events through the event manager")
}
