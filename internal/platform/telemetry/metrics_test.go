package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Cumulative(t *testing.T) {
	h := newHistogram([]float64{0.1, 1})
	h.observe(0.05)
	h.observe(0.1)
	h.observe(0.5)
	h.observe(3)

	got := h.cumulative()
	want := []int64{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %d, want %d", i, got[i], want[i])
		}
	}
	if s := h.sum(); s < 3.64 || s > 3.66 {
		t.Errorf("sum = %v, want 3.65", s)
	}
}

func TestRegistry_BeginRecords(t *testing.T) {
	r := NewRegistry()
	done := r.Begin(http.MethodGet)
	if r.InFlight() != 1 {
		t.Fatalf("expected 1 in flight, got %d", r.InFlight())
	}
	done("/api/v1/appointments/:id", http.StatusOK)

	if r.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", r.InFlight())
	}
	if n := r.RequestCount(http.MethodGet, "/api/v1/appointments/:id", http.StatusOK); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}

	r.Begin(http.MethodGet)("", http.StatusNotFound)
	if n := r.RequestCount(http.MethodGet, "unmatched", http.StatusNotFound); n != 1 {
		t.Errorf("expected unmatched route to be counted, got %d", n)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Begin(http.MethodPost)("/api/v1/appointments", http.StatusCreated)
	r.Begin(http.MethodPost)("/api/v1/appointments", http.StatusConflict)
	r.RegisterGauge("realtime_connections", "Open live notification streams.", func() float64 { return 3 })

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := r.Handler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`http_requests_total{method="POST",route="/api/v1/appointments",status="201"} 1`,
		`http_requests_total{method="POST",route="/api/v1/appointments",status="409"} 1`,
		`http_request_duration_seconds_count{method="POST",route="/api/v1/appointments"} 2`,
		`http_request_duration_seconds_bucket{method="POST",route="/api/v1/appointments",le="+Inf"} 2`,
		"# TYPE http_requests_in_flight gauge",
		"realtime_connections 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q\n%s", want, body)
		}
	}
}
