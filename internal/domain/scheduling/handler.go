package scheduling

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
	api.POST("/check-doctor-availability", h.CheckAvailability)
	api.GET("/appointments/:id", h.GetAppointment)

	booking := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleAdministrativeStaff))
	booking.POST("/book-appointment", h.Book)

	// Ownership is checked by the service.
	parties := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleCardiologist, auth.RoleAdministrativeStaff))
	parties.PATCH("/edit-appointment/:id", h.Edit)
	parties.POST("/cancel-appointment/:id", h.Cancel)

	staff := api.Group("", auth.RequireRole(auth.RoleAdministrativeStaff))
	staff.GET("/appointments", h.ListAppointments)
	staff.POST("/availability", h.CreateAvailability)
	staff.GET("/availability", h.ListAvailability)
	staff.DELETE("/availability/:id", h.DeleteAvailability)
	staff.POST("/leave", h.CreateLeave)
	staff.DELETE("/leave/:id", h.DeleteLeave)

	doctor := api.Group("/doctor", auth.RequireRole(auth.RoleCardiologist))
	doctor.GET("/appointments", h.DoctorAppointments)
	doctor.GET("/appointments/today", h.DoctorToday)
	doctor.GET("/dashboard", h.DoctorDashboard)
	doctor.GET("/patients/recent", h.RecentPatients)
	doctor.GET("/patients/:id", h.DoctorPatient)
	doctor.GET("/availability", h.DoctorAvailability)
	doctor.GET("/leave", h.DoctorLeave)

	patient := api.Group("/patient", auth.RequireRole(auth.RolePatient))
	patient.GET("/appointments", h.PatientAppointments)
	patient.GET("/appointments/upcoming", h.PatientUpcoming)
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

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperror.Validation("invalid %s", name).WithField(name, "must be a UUID")
	}
	return &id, nil
}

// -- Booking --

type checkRequest struct {
	DoctorID uuid.UUID           `json:"doctor_id" validate:"required"`
	Date     calendar.Date       `json:"date" validate:"required"`
	Time     *calendar.TimeOfDay `json:"time" validate:"required"`
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	var req checkRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CheckAvailability(c.Request().Context(), req.DoctorID, req.Date, *req.Time)
	if err != nil {
		return err
	}
	msg := "Doctor is available"
	if !d.Available {
		msg = d.Reason
	}
	return response.OK(c, msg, d)
}

type bookRequest struct {
	Doctor  uuid.UUID           `json:"doctor" validate:"required"`
	Patient uuid.UUID           `json:"patient"`
	Date    calendar.Date       `json:"date" validate:"required"`
	Time    *calendar.TimeOfDay `json:"time" validate:"required"`
	Notes   string              `json:"notes" validate:"max=2000"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Book(c.Request().Context(), BookInput{
		DoctorID:  req.Doctor,
		PatientID: req.Patient,
		Date:      req.Date,
		Time:      *req.Time,
		Notes:     req.Notes,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Appointment booked successfully", a)
}

type editRequest struct {
	Date   *calendar.Date      `json:"date"`
	Time   *calendar.TimeOfDay `json:"time"`
	Status *string             `json:"status"`
	Notes  *string             `json:"notes" validate:"omitempty,max=2000"`
}

func (h *Handler) Edit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req editRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	in := EditInput{Date: req.Date, Time: req.Time, Notes: req.Notes}
	if req.Status != nil {
		st, ok := ParseStatus(*req.Status)
		if !ok {
			return apperror.Validation("invalid status %q", *req.Status).WithField("status", "must be one of: Scheduled Completed Cancelled")
		}
		in.Status = &st
	}
	a, err := h.svc.Edit(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return response.OK(c, "Appointment updated successfully", a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "Appointment cancelled successfully", a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "", a)
}

// -- Listings --

func (h *Handler) ListAppointments(c echo.Context) error {
	var f AppointmentFilter
	var err error
	if f.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return err
	}
	if v := c.QueryParam("status"); v != "" {
		st, ok := ParseStatus(v)
		if !ok {
			return apperror.Validation("invalid status %q", v)
		}
		f.Statuses = []Status{st}
	}
	if v := c.QueryParam("date"); v != "" {
		d, err := calendar.ParseDate(v)
		if err != nil {
			return apperror.Validation("%v", err).WithField("date", "expected YYYY-MM-DD")
		}
		f.Date = &d
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) DoctorAppointments(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.DoctorAppointments(c.Request().Context(), uid, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) DoctorToday(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.DoctorToday(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", items)
}

func (h *Handler) DoctorDashboard(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.DoctorDashboard(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", d)
}

func (h *Handler) RecentPatients(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.RecentPatients(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", items)
}

func (h *Handler) DoctorPatient(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	pid, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.DoctorPatient(c.Request().Context(), uid, pid)
	if err != nil {
		return err
	}
	return response.OK(c, "", d)
}

func (h *Handler) PatientAppointments(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.PatientAppointments(c.Request().Context(), uid, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) PatientUpcoming(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.PatientUpcoming(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", items)
}

// -- Availability and leave --

type availabilityRequest struct {
	DoctorID  uuid.UUID           `json:"doctor_id" validate:"required"`
	DayOfWeek string              `json:"day_of_week" validate:"required"`
	StartTime *calendar.TimeOfDay `json:"start_time" validate:"required"`
	EndTime   *calendar.TimeOfDay `json:"end_time" validate:"required"`
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	var req availabilityRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.CreateAvailability(c.Request().Context(), AvailabilityInput{
		DoctorID:  req.DoctorID,
		DayOfWeek: req.DayOfWeek,
		StartTime: *req.StartTime,
		EndTime:   *req.EndTime,
	})
	if err != nil {
		return err
	}
	return response.Created(c, "Availability added", a)
}

func (h *Handler) ListAvailability(c echo.Context) error {
	f := AvailabilityFilter{DoctorName: c.QueryParam("doctor_name")}
	var err error
	if f.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListAvailability(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) DoctorAvailability(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListAvailability(c.Request().Context(), AvailabilityFilter{DoctorID: &uid}, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "", pagination.NewPage(items, total, p))
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), id); err != nil {
		return err
	}
	return response.Message(c, "Availability removed")
}

type leaveRequest struct {
	DoctorID uuid.UUID     `json:"doctor_id" validate:"required"`
	Date     calendar.Date `json:"date" validate:"required"`
	Reason   string        `json:"reason" validate:"max=500"`
}

func (h *Handler) CreateLeave(c echo.Context) error {
	var req leaveRequest
	if err := validation.BindAndValidate(c, &req); err != nil {
		return err
	}
	l, err := h.svc.CreateLeave(c.Request().Context(), LeaveInput{DoctorID: req.DoctorID, Date: req.Date, Reason: req.Reason})
	if err != nil {
		return err
	}
	return response.Created(c, "Leave recorded", l)
}

func (h *Handler) DoctorLeave(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.DoctorLeave(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return response.OK(c, "", items)
}

func (h *Handler) DeleteLeave(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteLeave(c.Request().Context(), id); err != nil {
		return err
	}
	return response.Message(c, "Leave removed")
}
