package medication

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
	api.GET("/medications", h.SearchMedications)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/medications", h.CreateMedication)
	admin.POST("/interactions", h.CreateInteraction)

	clinical := api.Group("", auth.RequireRole(
		auth.RoleCardiologist, auth.RoleNurse, auth.RoleGeneralPractitioner, auth.RoleAdministrativeStaff,
	))
	clinical.GET("/interactions", h.ListInteractions)

	doctor := api.Group("", auth.RequireRole(auth.RoleCardiologist))
	doctor.POST("/interactions/check", h.CheckInteractions)
	doctor.POST("/appointments/:id/prescriptions", h.Prescribe)

	// Patients are limited to their own records by the service.
	readers := api.Group("", auth.RequireRole(
		auth.RolePatient, auth.RoleCardiologist, auth.RoleNurse, auth.RoleGeneralPractitioner, auth.RoleAdministrativeStaff,
	))
	readers.GET("/prescriptions/:id", h.GetPrescription)
	readers.GET("/patients/:id/prescriptions", h.PatientPrescriptions)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid id")
	}
	return id, nil
}

type medicationRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Code        string `json:"code" validate:"required,max=50"`
	Description string `json:"description"`
}

func (h *Handler) CreateMedication(c echo.Context) error {
	var req medicationRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	m, err := h.svc.CreateMedication(c.Request().Context(), MedicationInput(req))
	if err != nil {
		return err
	}
	return response.Created(c, "Medication added", m)
}

func (h *Handler) SearchMedications(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.SearchMedications(c.Request().Context(), c.QueryParam("q"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

type interactionRequest struct {
	Medication1 uuid.UUID `json:"medication_1" validate:"required"`
	Medication2 uuid.UUID `json:"medication_2" validate:"required"`
	Severity    string    `json:"severity" validate:"required"`
	Description string    `json:"description"`
}

func (h *Handler) CreateInteraction(c echo.Context) error {
	var req interactionRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	in, err := h.svc.CreateInteraction(c.Request().Context(), InteractionInput{
		Medication1ID: req.Medication1,
		Medication2ID: req.Medication2,
		Severity:      req.Severity,
		Description:   req.Description,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Interaction recorded", in)
}

func (h *Handler) ListInteractions(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListInteractions(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

type checkRequest struct {
	MedicationIDs []uuid.UUID `json:"medication_ids" validate:"required,min=1"`
}

func (h *Handler) CheckInteractions(c echo.Context) error {
	var req checkRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.CheckInteractions(c.Request().Context(), req.MedicationIDs)
	if err != nil {
		return err
	}
	msg := "No blocking interactions"
	if res.Blocked() {
		msg = "High severity drug interaction detected"
	}
	return response.OK(c, msg, res)
}

type itemRequest struct {
	MedicationID uuid.UUID `json:"medication_id" validate:"required"`
	Dosage       string    `json:"dosage" validate:"required,max=100"`
	Frequency    string    `json:"frequency" validate:"required,max=100"`
	Duration     string    `json:"duration" validate:"required,max=100"`
}

type prescriptionRequest struct {
	Notes string        `json:"notes" validate:"max=2000"`
	Items []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) Prescribe(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req prescriptionRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	in := PrescriptionInput{Notes: req.Notes, Items: make([]ItemInput, len(req.Items))}
	for i, it := range req.Items {
		in.Items[i] = ItemInput(it)
	}
	res, err := h.svc.Prescribe(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return response.Created(c, "Prescription created successfully", res)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPrescription(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "", p)
}

func (h *Handler) PatientPrescriptions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.PatientPrescriptions(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}
