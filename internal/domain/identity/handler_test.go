package identity

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/validation"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	e := echo.New()
	e.Validator = validation.New()
	return NewHandler(env.svc), e, env
}

func jsonRequest(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func asUser(c echo.Context, id uuid.UUID, roles ...auth.Role) {
	req := c.Request()
	c.SetRequest(req.WithContext(auth.WithIdentity(req.Context(), id, roles...)))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env struct {
		Status bool            `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if !env.Status {
		t.Fatalf("expected status true: %s", rec.Body.String())
	}
	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func TestHandler_Register(t *testing.T) {
	h, e, _ := newTestHandler(t)
	body := `{"email":"ana@example.com","password":"s3cretpass","first_name":"Ana","last_name":"Lee","role":"patient","profile":{"gender":"female"}}`
	c, rec := jsonRequest(e, http.MethodPost, body)

	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var acct Account
	decodeData(t, rec, &acct)
	if acct.Email != "ana@example.com" || acct.UniqueID == "" {
		t.Errorf("unexpected account: %+v", acct)
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Error("password hash must not be serialised")
	}
}

func TestHandler_Register_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, _ := jsonRequest(e, http.MethodPost, `{"email":"not-an-email","password":"x"}`)

	err := h.Register(c)
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	ae, _ := apperror.As(err)
	if _, ok := ae.Fields["email"]; !ok {
		t.Errorf("expected email field error, got %v", ae.Fields)
	}
}

func TestHandler_LoginAndVerify(t *testing.T) {
	h, e, env := newTestHandler(t)
	registerPatient(t, env, "ana@example.com")

	c, rec := jsonRequest(e, http.MethodPost, `{"email":"ana@example.com","password":"s3cretpass"}`)
	if err := h.Login(c); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, rec = jsonRequest(e, http.MethodPost, `{"email":"ana@example.com","otp":"424242","purpose":"login"}`)
	if err := h.VerifyOTP(c); err != nil {
		t.Fatalf("verify: %v", err)
	}
	var sess Session
	decodeData(t, rec, &sess)
	if sess.Access == "" || sess.Role != auth.RolePatient {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestHandler_VerifyOTP_BadCodeFormat(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, _ := jsonRequest(e, http.MethodPost, `{"email":"ana@example.com","otp":"12ab"}`)
	if err := h.VerifyOTP(c); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_ForgotPassword_AlwaysOK(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := jsonRequest(e, http.MethodPost, `{"email":"ghost@example.com"}`)
	if err := h.ForgotPassword(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetProfile(t *testing.T) {
	h, e, env := newTestHandler(t)
	acct := registerPatient(t, env, "ana@example.com")

	c, rec := jsonRequest(e, http.MethodGet, "")
	asUser(c, acct.ID, auth.RolePatient)
	if err := h.GetProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Account
	decodeData(t, rec, &got)
	if got.ID != acct.ID {
		t.Errorf("expected %s, got %s", acct.ID, got.ID)
	}
}

func TestHandler_GetProfile_Unauthenticated(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, _ := jsonRequest(e, http.MethodGet, "")
	if err := h.GetProfile(c); !apperror.Is(err, apperror.KindUnauthorized) {
		t.Errorf("expected unauthorized, got %v", err)
	}
}

func TestHandler_UpdateProfile(t *testing.T) {
	h, e, env := newTestHandler(t)
	acct := registerPatient(t, env, "ana@example.com")

	c, rec := jsonRequest(e, http.MethodPatch, `{"phone":"+64 21 000","profile":{"country":"NZ"}}`)
	asUser(c, acct.ID, auth.RolePatient)
	if err := h.UpdateProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Account
	decodeData(t, rec, &got)
	if got.Phone != "+64 21 000" || !strings.Contains(string(got.Profile), `"country":"NZ"`) {
		t.Errorf("unexpected account: %+v %s", got.User, got.Profile)
	}
}

func TestHandler_ListDoctors(t *testing.T) {
	h, e, env := newTestHandler(t)
	registerPatient(t, env, "ana@example.com")
	c, rec := jsonRequest(e, http.MethodGet, "")
	if err := h.ListDoctors(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Items []Account `json:"items"`
		Total int       `json:"total"`
		Limit int       `json:"limit"`
	}
	decodeData(t, rec, &page)
	if page.Total != 0 || len(page.Items) != 0 || page.Limit != 20 {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestHandler_GetDoctor(t *testing.T) {
	h, e, env := newTestHandler(t)
	patient := registerPatient(t, env, "ana@example.com")

	c, _ := jsonRequest(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues(patient.ID.String())
	if err := h.GetDoctor(c); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("a patient is not a doctor, got %v", err)
	}

	c, _ = jsonRequest(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.GetDoctor(c); !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestHandler_AddPatient(t *testing.T) {
	h, e, _ := newTestHandler(t)
	c, rec := jsonRequest(e, http.MethodPost, `{"email":"walkin@example.com","first_name":"Walk","last_name":"In"}`)
	if err := h.AddPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_RoutesRequireRoles(t *testing.T) {
	h, e, _ := newTestHandler(t)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		_ = c.NoContent(code)
	}
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			asUser(c, uuid.New(), auth.RolePatient)
			return next(c)
		}
	})
	h.RegisterRoutes(api.Group("/auth"), api)

	for _, path := range []string{"/api/v1/users", "/api/v1/patients", "/api/v1/staff"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403 for a patient, got %d", path, rec.Code)
		}
	}
}
