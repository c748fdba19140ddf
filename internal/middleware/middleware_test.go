package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testSecret = "test-secret"

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(caller.Hex()))
	})
}

func TestAuth_Token(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token, err := IssueToken(testSecret, account, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	h := NewAuth(testSecret, false, nil).Handler(callerEcho())
	req := httptest.NewRequest(http.MethodPost, "/claims", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != account.Hex() {
		t.Errorf("Expected caller %s, got %s", account.Hex(), rec.Body.String())
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	account := common.HexToAddress("0xa1")
	token, _ := IssueToken("other-secret", account, jwt.RegisteredClaims{})

	logger, hook := test.NewNullLogger()
	h := NewAuth(testSecret, true, logger).Handler(callerEcho())
	req := httptest.NewRequest(http.MethodPost, "/claims", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(CallerHeader, account.Hex())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Level != logrus.WarnLevel {
		t.Error("Expected a warning to be logged")
	}
}

func TestAuth_Header(t *testing.T) {
	account := common.HexToAddress("0xb2")

	tests := []struct {
		name        string
		allowHeader bool
		wantStatus  int
	}{
		{"header trusted", true, http.StatusOK},
		{"header ignored", false, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuth("", tt.allowHeader, nil).Handler(callerEcho())
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(CallerHeader, account.Hex())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, nil)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected the first two requests to pass")
	}
	if rl.Allow("a") {
		t.Error("Expected the third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("Expected other clients to have their own bucket")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, logrus.New())
	defer rl.Stop()

	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("Request %d: expected status %d, got %d", i, want, rec.Code)
		}
	}
}

func TestGetClientKey_PrefersCaller(t *testing.T) {
	account := common.HexToAddress("0xc3")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req = req.WithContext(WithCaller(req.Context(), account))

	if got := GetClientKey(req); got != account.Hex() {
		t.Errorf("Expected %s, got %s", account.Hex(), got)
	}
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/lotteries", nil))

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("Expected a log entry")
	}
	if entry.Level != logrus.WarnLevel {
		t.Errorf("Expected warn level, got %s", entry.Level)
	}
	if entry.Data["status"] != http.StatusBadRequest {
		t.Errorf("Expected status field 400, got %v", entry.Data["status"])
	}
}
