package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

func limitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func callAs(e *echo.Echo, h echo.HandlerFunc, userID, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats", nil)
	if ip != "" {
		req.Header.Set(echo.HeaderXRealIP, ip)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set(UserIDKey, userID)
	}
	return rec, h(c)
}

func expectTooMany(t *testing.T, err error) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		rec, err := callAs(e, h, "clinician-1", "")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "1" {
			t.Errorf("request %d: unexpected limit header %q", i+1, rec.Header().Get("X-RateLimit-Limit"))
		}
		wantRemaining := strconv.Itoa(2 - i)
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: expected remaining %s, got %s", i+1, wantRemaining, got)
		}
	}

	rec, err := callAs(e, h, "clinician-1", "")
	expectTooMany(t, err)
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_FractionalRateHeaders(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 0.5, BurstSize: 1})

	rec, err := callAs(e, h, "", "10.0.0.9")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "0.5" {
		t.Errorf("expected fractional limit header, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec, err = callAs(e, h, "", "10.0.0.9")
	expectTooMany(t, err)
	if rec.Header().Get("Retry-After") != "2" {
		t.Errorf("expected Retry-After 2 at half a request per second, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_UsersIsolated(t *testing.T) {
	e := echo.New()
	h := limitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := callAs(e, h, "user-a", "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	_, err := callAs(e, h, "user-a", "10.0.0.1")
	expectTooMany(t, err)

	// Same IP, different user.
	if _, err := callAs(e, h, "user-b", "10.0.0.1"); err != nil {
		t.Errorf("expected user-b to have its own allowance, got %v", err)
	}
	// Anonymous callers are keyed by IP.
	if _, err := callAs(e, h, "", "10.0.0.1"); err != nil {
		t.Errorf("expected anonymous IP bucket to be separate, got %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 || cfg.BurstSize != 40 || cfg.IdleTTL != 10*time.Minute {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestVisitors_EvictsIdleCallers(t *testing.T) {
	store := newVisitors(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	store.get("user:a")
	store.get("user:b")
	if store.len() != 2 {
		t.Fatalf("expected 2 visitors, got %d", store.len())
	}

	now = now.Add(30 * time.Second)
	store.get("user:b")

	now = now.Add(45 * time.Second)
	store.get("user:c")
	if store.len() != 2 {
		t.Errorf("expected idle user:a evicted, got %d visitors", store.len())
	}
}

func TestRetryAfterSeconds_ZeroRate(t *testing.T) {
	l := rate.NewLimiter(0, 0)
	if got := retryAfterSeconds(l, time.Now()); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}
