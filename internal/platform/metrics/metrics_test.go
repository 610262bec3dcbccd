package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func scrape(t *testing.T, m *Collector) string {
	t.Helper()
	e := echo.New()
	e.GET("/metrics", m.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	for _, path := range []string{"/api/v1/patients/1", "/api/v1/patients/2", "/missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := scrape(t, m)
	if !strings.Contains(out, `medflow_http_requests_total{method="GET",route="/api/v1/patients/:id",status_code="200"} 2`) {
		t.Errorf("expected 2 requests on the route pattern in:\n%s", out)
	}
	if !strings.Contains(out, `medflow_http_requests_total{method="GET",route="/missing",status_code="404"} 1`) {
		t.Errorf("expected one 404 in:\n%s", out)
	}
}

func TestRecordWebhook(t *testing.T) {
	m := New()
	m.RecordWebhook("COMPLETE", "processed")
	m.RecordWebhook("COMPLETE", "processed")
	m.RecordWebhook("FAILED", "ignored")

	out := scrape(t, m)
	if !strings.Contains(out, `medflow_payment_webhooks_total{outcome="processed",state="COMPLETE"} 2`) {
		t.Errorf("expected processed webhook count in:\n%s", out)
	}
}

func TestRecordAnalysis(t *testing.T) {
	m := New()
	m.RecordAnalysis("admission", "ok", 3*time.Second)

	out := scrape(t, m)
	if !strings.Contains(out, `medflow_analyses_total{kind="admission",status="ok"} 1`) {
		t.Errorf("expected analyses counter in exposition output")
	}
	if !strings.Contains(out, `medflow_analysis_duration_seconds_count{kind="admission"} 1`) {
		t.Errorf("expected analysis histogram in exposition output")
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var m *Collector
	m.RecordWebhook("COMPLETE", "processed")
	m.RecordAnalysis("admission", "ok", time.Second)
	m.RecordUpstream("openrouter", "ok")
	m.SetBreakerState("openrouter", 2)
	m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
}
