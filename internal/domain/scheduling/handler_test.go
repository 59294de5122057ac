package scheduling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/validation"
	"github.com/heartflow/clinic/pkg/calendar"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *fixture) {
	t.Helper()
	f := newFixture(t)
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(f.svc), e, f
}

func jsonRequest(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func asUser(c echo.Context, u *identity.User) {
	req := c.Request()
	c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), u.ID, u.Role)))
}

func withID(c echo.Context, id uuid.UUID) {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) string {
	t.Helper()
	var env struct {
		Status  bool            `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env.Message
}

func TestHandler_CheckAvailability(t *testing.T) {
	h, e, f := newTestHandler(t)

	body := `{"doctor_id":"` + f.doctor.ID.String() + `","date":"2025-03-10","time":"10:00"}`
	c, rec := jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.patient)
	if err := h.CheckAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d Decision
	if msg := decodeData(t, rec, &d); msg != "Doctor is available" || !d.Available {
		t.Errorf("unexpected result %q %+v", msg, d)
	}

	body = `{"doctor_id":"` + f.doctor.ID.String() + `","date":"2025-03-10","time":"18:30"}`
	c, rec = jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.patient)
	if err := h.CheckAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg := decodeData(t, rec, &d); msg != ReasonOutsideHours || d.Available {
		t.Errorf("unexpected result %q %+v", msg, d)
	}
}

func TestHandler_CheckAvailability_Invalid(t *testing.T) {
	h, e, f := newTestHandler(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing time", `{"doctor_id":"` + f.doctor.ID.String() + `","date":"2025-03-10"}`},
		{"missing date", `{"doctor_id":"` + f.doctor.ID.String() + `","time":"10:00"}`},
		{"missing doctor", `{"date":"2025-03-10","time":"10:00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := jsonRequest(e, http.MethodPost, "/", tt.body)
			asUser(c, f.patient)
			err := h.CheckAvailability(c)
			if !apperror.Is(err, apperror.KindValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	c, _ := jsonRequest(e, http.MethodPost, "/", `{"doctor_id":"`+f.doctor.ID.String()+`","date":"10/03/2025","time":"10:00"}`)
	asUser(c, f.patient)
	if err := h.CheckAvailability(c); err == nil {
		t.Error("expected an error for a malformed date")
	}
}

func TestHandler_Book(t *testing.T) {
	h, e, f := newTestHandler(t)
	body := `{"doctor":"` + f.doctor.ID.String() + `","date":"2025-03-10","time":"10:00","notes":"chest pain"}`

	c, rec := jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.patient)
	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var a Appointment
	decodeData(t, rec, &a)
	if a.Status != StatusScheduled || a.Time != calendar.Clock(10, 0) || a.DoctorName != "Raj Patel" {
		t.Errorf("unexpected appointment: %+v", a)
	}

	c, _ = jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.patient)
	err := h.Book(c)
	if !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected conflict for a taken slot, got %v", err)
	}
}

func TestHandler_Edit(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.book(t, "2025-03-10", calendar.Clock(10, 0))

	c, rec := jsonRequest(e, http.MethodPatch, "/", `{"time":"11:30","notes":"moved"}`)
	asUser(c, f.patient)
	withID(c, a.ID)
	if err := h.Edit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	decodeData(t, rec, &got)
	if got.Time != calendar.Clock(11, 30) || got.Notes != "moved" {
		t.Errorf("unexpected appointment: %+v", got)
	}

	c, _ = jsonRequest(e, http.MethodPatch, "/", `{"status":"Pending"}`)
	asUser(c, f.patient)
	withID(c, a.ID)
	if err := h.Edit(c); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	c, _ = jsonRequest(e, http.MethodPatch, "/", `{"notes":"x"}`)
	asUser(c, f.patient)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.Edit(c); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error for bad id, got %v", err)
	}
}

func TestHandler_Cancel(t *testing.T) {
	h, e, f := newTestHandler(t)
	a := f.book(t, "2025-03-10", calendar.Clock(10, 0))

	c, rec := jsonRequest(e, http.MethodPost, "/", "")
	asUser(c, f.doctor)
	withID(c, a.ID)
	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Appointment
	decodeData(t, rec, &got)
	if got.Status != StatusCancelled {
		t.Errorf("expected Cancelled, got %s", got.Status)
	}

	c, _ = jsonRequest(e, http.MethodPost, "/", "")
	asUser(c, f.doctor)
	withID(c, a.ID)
	if err := h.Cancel(c); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error on second cancel, got %v", err)
	}

	c, _ = jsonRequest(e, http.MethodPost, "/", "")
	asUser(c, f.doctor)
	withID(c, uuid.New())
	if err := h.Cancel(c); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestHandler_ListAppointments(t *testing.T) {
	h, e, f := newTestHandler(t)
	f.book(t, "2025-03-10", calendar.Clock(10, 0))
	f.book(t, "2025-03-10", calendar.Clock(11, 0))

	c, rec := jsonRequest(e, http.MethodGet, "/?doctor_id="+f.doctor.ID.String()+"&status=scheduled&limit=1", "")
	asUser(c, f.staff)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Items []Appointment `json:"items"`
		Total int           `json:"total"`
	}
	decodeData(t, rec, &page)
	if page.Total != 2 || len(page.Items) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}

	for _, q := range []string{"?doctor_id=nope", "?status=Pending", "?date=2025/03/10"} {
		c, _ = jsonRequest(e, http.MethodGet, "/"+q, "")
		asUser(c, f.staff)
		if err := h.ListAppointments(c); !apperror.Is(err, apperror.KindValidation) {
			t.Errorf("%s: expected validation error, got %v", q, err)
		}
	}
}

func TestHandler_DoctorViews(t *testing.T) {
	h, e, f := newTestHandler(t)
	f.book(t, "2025-03-03", calendar.Clock(15, 0))

	c, rec := jsonRequest(e, http.MethodGet, "/", "")
	asUser(c, f.doctor)
	if err := h.DoctorToday(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var today []Appointment
	decodeData(t, rec, &today)
	if len(today) != 1 {
		t.Errorf("expected 1 appointment today, got %d", len(today))
	}

	c, rec = jsonRequest(e, http.MethodGet, "/", "")
	asUser(c, f.doctor)
	if err := h.DoctorDashboard(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var dash Dashboard
	decodeData(t, rec, &dash)
	if dash.TotalPatients != 1 || dash.TodayAppointments != 1 {
		t.Errorf("unexpected dashboard: %+v", dash)
	}

	c, rec = jsonRequest(e, http.MethodGet, "/", "")
	asUser(c, f.doctor)
	if err := h.RecentPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var recent []RecentPatient
	decodeData(t, rec, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &struct {
		Data *[]RecentPatient `json:"data"`
	}{&recent}); err != nil || len(recent) != 0 {
		t.Errorf("no past visits yet, got %s", rec.Body.String())
	}
}

func TestHandler_AvailabilityAndLeave(t *testing.T) {
	h, e, f := newTestHandler(t)

	body := `{"doctor_id":"` + f.doctor.ID.String() + `","day_of_week":"friday","start_time":"08:00","end_time":"12:00"}`
	c, rec := jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.staff)
	if err := h.CreateAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var a Availability
	decodeData(t, rec, &a)
	if a.DayOfWeek != "Friday" || a.EndTime != calendar.Clock(12, 0) {
		t.Errorf("unexpected availability: %+v", a)
	}

	body = `{"doctor_id":"` + f.doctor.ID.String() + `","day_of_week":"friday","start_time":"08:00"}`
	c, _ = jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.staff)
	if err := h.CreateAvailability(c); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	c, rec = jsonRequest(e, http.MethodGet, "/", "")
	asUser(c, f.doctor)
	if err := h.DoctorAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Total int `json:"total"`
	}
	decodeData(t, rec, &page)
	if page.Total != 2 {
		t.Errorf("expected 2 windows, got %d", page.Total)
	}

	body = `{"doctor_id":"` + f.doctor.ID.String() + `","date":"2025-03-14","reason":"conference"}`
	c, rec = jsonRequest(e, http.MethodPost, "/", body)
	asUser(c, f.staff)
	if err := h.CreateLeave(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var l Leave
	decodeData(t, rec, &l)

	c, rec = jsonRequest(e, http.MethodDelete, "/", "")
	asUser(c, f.staff)
	withID(c, l.ID)
	if err := h.DeleteLeave(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_RoutesRequireRoles(t *testing.T) {
	h, e, f := newTestHandler(t)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		_ = c.NoContent(code)
	}
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			asUser(c, f.patient)
			return next(c)
		}
	})
	h.RegisterRoutes(api)

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/appointments"},
		{http.MethodPost, "/api/v1/availability"},
		{http.MethodPost, "/api/v1/leave"},
		{http.MethodGet, "/api/v1/doctor/dashboard"},
		{http.MethodGet, "/api/v1/doctor/appointments/today"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403 for a patient, got %d", tt.method, tt.path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patient/appointments/upcoming", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("patient route: expected 200, got %d", rec.Code)
	}
}
