package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMutatingRequestsRequireCSRFToken(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader([]byte(`{"cashier_name":"Lan","opening_cash_cents":0}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing csrf token status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader([]byte(`{"cashier_name":"Lan","opening_cash_cents":0}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("X-CSRF-Token", "forged")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("forged csrf token status = %d, want 403", rec.Code)
	}
}

func TestLoginIsCSRFExempt(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":"admin","password":"admin123"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login without csrf token status = %d, want 200", rec.Code)
	}
}

func TestCSRFTokenValidAcrossHourBoundary(t *testing.T) {
	api := New(nil, nil, "*")

	now := time.Now().UTC()
	current := api.csrfTokenForHour(now.Truncate(time.Hour).Unix())
	previous := api.csrfTokenForHour(now.Truncate(time.Hour).Unix() - 3600)
	stale := api.csrfTokenForHour(now.Truncate(time.Hour).Unix() - 7200)

	if !api.validateCSRFToken(current) {
		t.Fatal("current hour token rejected")
	}
	if !api.validateCSRFToken(previous) {
		t.Fatal("previous hour token rejected")
	}
	if api.validateCSRFToken(stale) {
		t.Fatal("two hour old token accepted")
	}
	if api.validateCSRFToken("") {
		t.Fatal("empty token accepted")
	}
}

func TestLoginRateLimit(t *testing.T) {
	h := newHarness(t)

	// The harness already consumed one login attempt for the same client key.
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(`{"username":"admin","password":"wrong"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("final login attempt status = %d, want 429", last)
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, 50*time.Millisecond)

	if !limiter.Allow("key") || !limiter.Allow("key") {
		t.Fatal("first two attempts should be allowed")
	}
	if limiter.Allow("key") {
		t.Fatal("third attempt within window should be denied")
	}
	if !limiter.Allow("other") {
		t.Fatal("different key should not be affected")
	}

	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("key") {
		t.Fatal("attempt after window expiry should be allowed")
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Errorf("header %s = %q, want %q", name, got, want)
		}
	}
}

func TestOptionsPreflightShortCircuits(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if allow := rec.Header().Get("Access-Control-Allow-Methods"); allow == "" {
		t.Fatal("missing Access-Control-Allow-Methods header")
	}
}

func TestMissingBearerTokenIsUnauthorized(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestOversizedJSONBodyRejected(t *testing.T) {
	h := newHarness(t)

	big := bytes.Repeat([]byte("a"), (1<<20)+1024)
	payload := append([]byte(`{"note":"`), big...)
	payload = append(payload, []byte(`"}`)...)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("X-CSRF-Token", h.csrf)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body status = %d, want 400", rec.Code)
	}
}
