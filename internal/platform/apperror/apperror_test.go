package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestError_Status(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{Unauthorized("who"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{Conflict("taken"), http.StatusConflict},
		{Unavailable("later"), http.StatusServiceUnavailable},
		{Internal(errors.New("boom"), "oops"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.err.Status(); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.err.Kind, tt.want, got)
		}
	}
}

func TestAs_Wrapped(t *testing.T) {
	err := fmt.Errorf("book: %w", Conflict("slot taken"))
	ae, ok := As(err)
	if !ok {
		t.Fatal("expected *Error in chain")
	}
	if ae.Kind != KindConflict {
		t.Errorf("expected conflict, got %s", ae.Kind)
	}
	if !Is(err, KindConflict) {
		t.Error("expected Is(conflict)")
	}
	if Is(errors.New("plain"), KindConflict) {
		t.Error("plain error should not match")
	}
}

func render(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	HTTPErrorHandler(zerolog.New(io.Discard))(err, c)

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v (%s)", err, rec.Body.String())
	}
	return rec, body
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	rec, body := render(t, Validation("invalid input").WithField("date", "required"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if body["status"] != false {
		t.Errorf("expected status false, got %v", body["status"])
	}
	if body["message"] != "invalid input" {
		t.Errorf("unexpected message: %v", body["message"])
	}
	errs, ok := body["errors"].(map[string]interface{})
	if !ok || errs["date"] != "required" {
		t.Errorf("expected field errors, got %v", body["errors"])
	}
}

func TestHTTPErrorHandler_InternalDoesNotLeak(t *testing.T) {
	rec, body := render(t, errors.New("pq: relation \"secret_table\" does not exist"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret_table") {
		t.Error("internal error text leaked to client")
	}
	if body["message"] != "internal server error" {
		t.Errorf("unexpected message: %v", body["message"])
	}
}

func TestHTTPErrorHandler_EchoHTTPError(t *testing.T) {
	rec, body := render(t, echo.NewHTTPError(http.StatusForbidden, "required role: cardiologist"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	if body["message"] != "required role: cardiologist" {
		t.Errorf("unexpected message: %v", body["message"])
	}
}

func TestHTTPErrorHandler_Details(t *testing.T) {
	details := []string{"Warfarin + Aspirin"}
	rec, body := render(t, Validation("interactions found").WithDetails(details))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	list, ok := body["errors"].([]interface{})
	if !ok || len(list) != 1 {
		t.Errorf("expected details list, got %v", body["errors"])
	}
}
