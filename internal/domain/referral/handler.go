package referral

import (
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	gp := api.Group("", auth.RequireRole(auth.RoleGeneralPractitioner))
	gp.POST("/referrals", h.Refer)

	readers := api.Group("", auth.RequireRole(auth.RoleGeneralPractitioner, auth.RoleCardiologist, auth.RoleAdministrativeStaff))
	readers.GET("/referrals", h.ListReferrals)
	readers.GET("/referrals/status/:status", h.ListByStage)
	readers.GET("/referrals/:id", h.GetReferral)

	doctor := api.Group("", auth.RequireRole(auth.RoleCardiologist))
	doctor.PATCH("/referrals/:id/notes", h.AddNotes)
	doctor.PATCH("/referrals/:id/status", h.Decide)
	doctor.POST("/sonography-referrals", h.ReferSonography)

	staff := api.Group("", auth.RequireRole(auth.RoleAdministrativeStaff))
	staff.POST("/referrals/:id/link", h.Link)

	sono := api.Group("", auth.RequireRole(auth.RoleCardiologist, auth.RoleSonographer))
	sono.GET("/sonography-referrals", h.ListSonography)
	sono.GET("/sonography-referrals/latest", h.LatestSonography)

	sonographer := api.Group("", auth.RequireRole(auth.RoleSonographer))
	sonographer.PUT("/sonography-referrals/:id/report", h.UploadReport)

	reports := api.Group("", auth.RequireRole(auth.RoleCardiologist, auth.RoleSonographer, auth.RolePatient))
	reports.GET("/sonography-referrals/:id/report", h.Report)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid id")
	}
	return id, nil
}

// -- Patient referrals --

type referRequest struct {
	ReferredTo       uuid.UUID `json:"referred_to" validate:"required"`
	PatientFirstName string    `json:"patient_first_name" validate:"required,max=100"`
	PatientLastName  string    `json:"patient_last_name" validate:"required,max=100"`
	PatientEmail     string    `json:"patient_email" validate:"omitempty,email"`
	PatientPhone     string    `json:"patient_phone" validate:"max=20"`
	Reason           string    `json:"reason" validate:"required,max=5000"`
	Summary          string    `json:"summary" validate:"max=5000"`
}

func (h *Handler) Refer(c echo.Context) error {
	var req referRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := h.svc.Refer(c.Request().Context(), ReferralInput{
		ReferredToID:     req.ReferredTo,
		PatientFirstName: req.PatientFirstName,
		PatientLastName:  req.PatientLastName,
		PatientEmail:     req.PatientEmail,
		PatientPhone:     req.PatientPhone,
		Reason:           req.Reason,
		Summary:          req.Summary,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Referral submitted successfully", r)
}

func (h *Handler) ListReferrals(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListReferrals(c.Request().Context(), "", p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "Patients referral listed successfully", pagination.NewPage(items, total, p))
}

func (h *Handler) ListByStage(c echo.Context) error {
	stage, ok := ParseStage(c.Param("status"))
	if !ok {
		return apperror.Validation("Invalid status. Must be 'Ongoing' or 'Pending'.")
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListReferrals(c.Request().Context(), stage, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) GetReferral(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetReferral(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "", r)
}

type notesRequest struct {
	DoctorNotes string `json:"doctor_notes" validate:"required,max=5000"`
}

func (h *Handler) AddNotes(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req notesRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := h.svc.AddNotes(c.Request().Context(), id, req.DoctorNotes)
	if err != nil {
		return err
	}
	return response.OK(c, "Doctor notes added successfully.", r)
}

type decideRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) Decide(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req decideRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	status, ok := ParseStatus(req.Status)
	if !ok {
		return apperror.Validation("invalid status %q", req.Status).WithField("status", "must be Accepted or Rejected")
	}
	r, err := h.svc.Decide(c.Request().Context(), id, status)
	if err != nil {
		return err
	}
	return response.OK(c, "Referral status updated", r)
}

type linkRequest struct {
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
}

func (h *Handler) Link(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req linkRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := h.svc.Link(c.Request().Context(), id, req.PatientID)
	if err != nil {
		return err
	}
	return response.OK(c, "Patient linked to referral", r)
}

// -- Sonography referrals --

type sonographyRequest struct {
	Sonographer uuid.UUID  `json:"sonographer" validate:"required"`
	Patient     uuid.UUID  `json:"patient" validate:"required"`
	Appointment *uuid.UUID `json:"appointment"`
	Reason      string     `json:"reason" validate:"required,max=5000"`
}

func (h *Handler) ReferSonography(c echo.Context) error {
	var req sonographyRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ref, err := h.svc.ReferSonography(c.Request().Context(), SonographyInput{
		SonographerID: req.Sonographer,
		PatientID:     req.Patient,
		AppointmentID: req.Appointment,
		Reason:        req.Reason,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Referral created", ref)
}

func (h *Handler) ListSonography(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListSonography(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "Referrals fetched", pagination.NewPage(items, total, p))
}

func (h *Handler) LatestSonography(c echo.Context) error {
	items, err := h.svc.LatestSonography(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, "Latest 3 referrals fetched successfully", items)
}

type reportRequest struct {
	ReportURL string `json:"report_url" validate:"required,max=500"`
	Notes     string `json:"notes" validate:"max=5000"`
}

func (h *Handler) UploadReport(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reportRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	ref, err := h.svc.UploadReport(c.Request().Context(), id, ReportInput(req))
	if err != nil {
		return err
	}
	return response.OK(c, "Report uploaded and status updated", ref)
}

func (h *Handler) Report(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	rep, err := h.svc.ReportFor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "Sonography report retrieved successfully", rep)
}
