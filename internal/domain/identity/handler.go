package identity

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/validation"
	"github.com/heartflow/clinic/pkg/pagination"
	"github.com/heartflow/clinic/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the unauthenticated auth endpoints on public and the
// rest on api, which must already carry the JWT middleware.
func (h *Handler) RegisterRoutes(public, api *echo.Group) {
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)
	public.POST("/verify-otp", h.VerifyOTP)
	public.POST("/resend-otp", h.ResendOTP)
	public.POST("/token/refresh", h.Refresh)
	public.POST("/forgot-password", h.ForgotPassword)
	public.POST("/reset-password", h.ResetPassword)

	api.POST("/auth/logout", h.Logout)
	api.POST("/auth/change-password", h.ChangePassword)
	api.GET("/profile", h.GetProfile)
	api.PATCH("/profile", h.UpdateProfile)

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/search", h.SearchDoctors)
	api.GET("/doctors/:id", h.GetDoctor)

	clinical := api.Group("", auth.RequireRole(
		auth.RoleCardiologist, auth.RoleNurse, auth.RoleSonographer,
		auth.RoleAdministrativeStaff, auth.RoleGeneralPractitioner,
	))
	clinical.GET("/patients", h.ListPatients)
	clinical.GET("/patients/search", h.SearchPatients)

	staff := api.Group("", auth.RequireRole(auth.RoleAdministrativeStaff))
	staff.POST("/patients", h.AddPatient)
	staff.GET("/staff", h.ListStaff)

	api.GET("/users", h.ListUsers, auth.RequireRole(auth.RoleAdmin))
}

// -- Auth --

type registerRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	Password  string          `json:"password" validate:"required,min=8"`
	FirstName string          `json:"first_name" validate:"required,max=100"`
	LastName  string          `json:"last_name" validate:"required,max=100"`
	Role      string          `json:"role" validate:"required"`
	Phone     string          `json:"phone" validate:"omitempty,max=20"`
	Profile   json.RawMessage `json:"profile"`
}

func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	acct, err := h.svc.Register(c.Request().Context(), RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		Phone:     req.Phone,
		Profile:   req.Profile,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Registration successful. A verification code has been sent to your email.", acct)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.Login(c.Request().Context(), req.Email, req.Password); err != nil {
		return err
	}
	return response.Message(c, "A login code has been sent to your email")
}

type verifyOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	OTP     string `json:"otp" validate:"required,len=6,numeric"`
	Purpose string `json:"purpose" validate:"omitempty,oneof=login registration"`
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req verifyOTPRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	sess, err := h.svc.VerifyOTP(c.Request().Context(), req.Email, req.OTP, req.Purpose)
	if err != nil {
		return err
	}
	return response.OK(c, "Login successful", sess)
}

type resendOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"omitempty,oneof=login registration password_reset"`
}

func (h *Handler) ResendOTP(c echo.Context) error {
	var req resendOTPRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResendOTP(c.Request().Context(), req.Email, req.Purpose); err != nil {
		return err
	}
	return response.Message(c, "If the account exists, a new code has been sent")
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

func (h *Handler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	access, exp, err := h.svc.Refresh(c.Request().Context(), req.Refresh)
	if err != nil {
		return err
	}
	return response.OK(c, "Token refreshed", map[string]interface{}{
		"access":            access,
		"access_expires_at": exp,
	})
}

type logoutRequest struct {
	Refresh string `json:"refresh"`
}

func (h *Handler) Logout(c echo.Context) error {
	var req logoutRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.Logout(ctx, auth.TokenIDFromContext(ctx), auth.TokenExpiryFromContext(ctx), req.Refresh); err != nil {
		return err
	}
	return response.Message(c, "Logged out")
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return response.Message(c, "If the account exists, a reset code has been sent")
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		return err
	}
	return response.Message(c, "Password has been reset")
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req changePasswordRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	if err := h.svc.ChangePassword(ctx, uid, req.OldPassword, req.NewPassword); err != nil {
		return err
	}
	return response.Message(c, "Password changed")
}

// -- Profile --

func (h *Handler) GetProfile(c echo.Context) error {
	ctx := c.Request().Context()
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	acct, err := h.svc.GetAccount(ctx, uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", acct)
}

type updateProfileRequest struct {
	FirstName *string         `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName  *string         `json:"last_name" validate:"omitempty,min=1,max=100"`
	Phone     *string         `json:"phone" validate:"omitempty,max=20"`
	Profile   json.RawMessage `json:"profile"`
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	var req updateProfileRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return apperror.Unauthorized("authentication required")
	}
	acct, err := h.svc.UpdateProfile(ctx, uid, UpdateProfileInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Profile:   req.Profile,
	})
	if err != nil {
		return err
	}
	return response.OK(c, "Profile updated", acct)
}

// -- Directory --

func page(c echo.Context, items []*Account, total int, p pagination.Params) error {
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) ListUsers(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListUsers(c.Request().Context(), c.QueryParam("role"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, p)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), "", p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, p)
}

func (h *Handler) SearchDoctors(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("q"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, p)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid id")
	}
	acct, err := h.svc.GetAccount(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if acct.Role != auth.RoleCardiologist {
		return apperror.NotFound("doctor not found")
	}
	return response.OK(c, "", acct)
}

func (h *Handler) ListPatients(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), c.QueryParam("q"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), c.QueryParam("q"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, p)
}

type addPatientRequest struct {
	Email     string          `json:"email" validate:"required,email"`
	FirstName string          `json:"first_name" validate:"required,max=100"`
	LastName  string          `json:"last_name" validate:"required,max=100"`
	Phone     string          `json:"phone" validate:"omitempty,max=20"`
	Profile   json.RawMessage `json:"profile"`
}

func (h *Handler) AddPatient(c echo.Context) error {
	var req addPatientRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	acct, err := h.svc.AddPatient(c.Request().Context(), RegisterInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Profile:   req.Profile,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Patient added", acct)
}

func (h *Handler) ListStaff(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListStaff(c.Request().Context(), c.QueryParam("role"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return page(c, items, total, p)
}
