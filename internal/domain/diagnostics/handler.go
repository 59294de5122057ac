package diagnostics

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/validation"
	"github.com/heartflow/clinic/pkg/calendar"
	"github.com/heartflow/clinic/pkg/pagination"
	"github.com/heartflow/clinic/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/diagnostic-tests", h.ListTests)

	booking := api.Group("", auth.RequireRole(auth.RoleAdministrativeStaff))
	booking.POST("/diagnostic-appointments", h.Book)
	booking.GET("/diagnostic-appointments", h.ListAppointments)

	staff := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleSonographer, auth.RoleITStaff))
	staff.GET("/diagnostic-appointments/assigned", h.Assigned)
	staff.GET("/diagnostic-appointments/today", h.Today)
	staff.GET("/diagnostic-appointments/summary", h.Summary)
	staff.PUT("/diagnostic-appointments/:id/result", h.RecordResult)

	readers := api.Group("", auth.RequireRole(
		auth.RolePatient, auth.RoleCardiologist, auth.RoleNurse, auth.RoleSonographer,
		auth.RoleGeneralPractitioner, auth.RoleAdministrativeStaff,
	))
	readers.GET("/patients/:id/diagnostic-results", h.PatientResults)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	uid, err := auth.UserUUIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, apperror.Unauthorized("authentication required")
	}
	return uid, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) ListTests(c echo.Context) error {
	items, err := h.svc.ListTests(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, "", items)
}

type bookRequest struct {
	Patient       uuid.UUID           `json:"patient" validate:"required"`
	Test          uuid.UUID           `json:"test" validate:"required"`
	AssignedStaff uuid.UUID           `json:"assigned_staff" validate:"required"`
	Date          calendar.Date       `json:"date" validate:"required"`
	Time          *calendar.TimeOfDay `json:"time" validate:"required"`
	Notes         string              `json:"notes" validate:"max=2000"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Book(c.Request().Context(), BookInput{
		PatientID:       req.Patient,
		TestID:          req.Test,
		AssignedStaffID: req.AssignedStaff,
		Date:            req.Date,
		Time:            *req.Time,
		Notes:           req.Notes,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Diagnostic test appointment booked successfully", a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	for name, dst := range map[string]**uuid.UUID{"patient_id": &f.PatientID, "staff_id": &f.StaffID} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return apperror.Validation("invalid %s", name).WithField(name, "must be a UUID")
		}
		*dst = &id
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := ParseStatus(v)
		if !ok {
			return apperror.Validation("invalid status %q", v)
		}
		f.Statuses = []Status{st}
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) Assigned(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.Assigned(c.Request().Context(), uid, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "Assigned patients list", pagination.NewPage(items, total, p))
}

func (h *Handler) Today(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Today(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "List todays appointment", items)
}

func (h *Handler) Summary(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", sum)
}

type resultRequest struct {
	ResultSummary *string `json:"result_summary" validate:"omitempty,max=5000"`
	ReportURL     *string `json:"report_url" validate:"omitempty,max=500"`
}

func (h *Handler) RecordResult(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req resultRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, created, err := h.svc.RecordResult(c.Request().Context(), id, ResultInput(req))
	if err != nil {
		return err
	}
	if created {
		return response.Created(c, "Diagnostic test result uploaded successfully", res)
	}
	return response.OK(c, "Diagnostic test result updated successfully", res)
}

func (h *Handler) PatientResults(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.PatientResults(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}
