package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func serveWithHeaders(t *testing.T, hsts bool, path string) http.Header {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), rec)
	err := SecurityHeaders(hsts)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return rec.Header()
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name      string
		hsts      bool
		path      string
		wantHSTS  bool
		wantCache bool
	}{
		{"production api", true, "/api/v1/profile", true, true},
		{"development api", false, "/api/v1/profile", false, true},
		{"health probe", true, "/health", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := serveWithHeaders(t, tt.hsts, tt.path)
			if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
				t.Errorf("missing baseline headers: %v", h)
			}
			if got := h.Get("Strict-Transport-Security") != ""; got != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", got, tt.wantHSTS)
			}
			if got := h.Get("Cache-Control") == "no-store"; got != tt.wantCache {
				t.Errorf("no-store = %v, want %v", got, tt.wantCache)
			}
		})
	}
}
