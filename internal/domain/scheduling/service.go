package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/domain/inbox"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/clock"
	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/internal/platform/notification"
	"github.com/heartflow/clinic/pkg/calendar"
)

// Directory resolves users referenced by appointments.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*identity.Account, error)
}

type Notifier interface {
	Notify(ctx context.Context, n inbox.Notice) error
}

type Service struct {
	avail    AvailabilityRepository
	leaves   LeaveRepository
	appts    AppointmentRepository
	tx       db.Transactor
	users    Directory
	notifier Notifier
	clock    clock.Clock
	loc      *time.Location
	logger   zerolog.Logger
}

type Deps struct {
	Availability AvailabilityRepository
	Leaves       LeaveRepository
	Appointments AppointmentRepository
	Tx           db.Transactor
	Users        Directory
	Notifier     Notifier
	Clock        clock.Clock
	// Location is the clinic's time zone. Dates and times are wall-clock
	// values in it.
	Location *time.Location
	Logger   zerolog.Logger
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		avail:    d.Availability,
		leaves:   d.Leaves,
		appts:    d.Appointments,
		tx:       d.Tx,
		users:    d.Users,
		notifier: d.Notifier,
		clock:    d.Clock,
		loc:      loc,
		logger:   d.Logger.With().Str("component", "scheduling").Logger(),
	}
}

func (s *Service) now() time.Time { return s.clock.Now().In(s.loc) }

func (s *Service) today() calendar.Date { return calendar.DateOf(s.now()) }

// userWithRole loads a user and requires the given role. A user with another
// role is reported as missing.
func (s *Service) userWithRole(ctx context.Context, id uuid.UUID, role auth.Role, what string) (*identity.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.NotFound("%s not found", what)
		}
		return nil, err
	}
	if u.Role != role || !u.IsActive {
		return nil, apperror.NotFound("%s not found", what)
	}
	return u, nil
}

func lookupErr(err error, what string) error {
	if db.IsNoRows(err) {
		return apperror.NotFound("%s not found", what)
	}
	return apperror.Internal(err, "failed to load %s", what)
}

// -- Availability check --

// evaluate applies the booking rules in order: leave, weekday window, working
// hours, then an exact-time clash with another Scheduled appointment.
func (s *Service) evaluate(ctx context.Context, doctorID uuid.UUID, date calendar.Date, t calendar.TimeOfDay, exclude uuid.UUID) (*Decision, error) {
	onLeave, err := s.leaves.Exists(ctx, doctorID, date)
	if err != nil {
		return nil, apperror.Internal(err, "failed to check leave")
	}
	if onLeave {
		return &Decision{Reason: ReasonOnLeave}, nil
	}

	day := date.Weekday()
	windows, err := s.avail.ListForDay(ctx, doctorID, day)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load availability")
	}
	if len(windows) == 0 {
		return &Decision{Reason: notWorkingOn(day)}, nil
	}
	inside := false
	for _, w := range windows {
		if w.Contains(t) {
			inside = true
			break
		}
	}
	if !inside {
		return &Decision{Reason: ReasonOutsideHours}, nil
	}

	taken, err := s.appts.SlotTaken(ctx, doctorID, date, t, exclude)
	if err != nil {
		return nil, apperror.Internal(err, "failed to check slot")
	}
	if taken {
		return &Decision{Reason: ReasonSlotTaken}, nil
	}
	return &Decision{Available: true}, nil
}

// CheckAvailability reports whether the doctor can be booked at date and t.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date calendar.Date, t calendar.TimeOfDay) (*Decision, error) {
	if _, err := s.userWithRole(ctx, doctorID, auth.RoleCardiologist, "doctor"); err != nil {
		return nil, err
	}
	return s.evaluate(ctx, doctorID, date, t, uuid.Nil)
}

// rejection turns a negative decision into an error. A clash is a conflict;
// every other reason is a validation failure.
func rejection(d *Decision) error {
	if d.Reason == ReasonSlotTaken {
		return apperror.Conflict("%s", d.Reason).WithDetails(d)
	}
	return apperror.Validation("%s", d.Reason).WithDetails(d)
}

func (s *Service) requireFuture(date calendar.Date, t calendar.TimeOfDay) error {
	if calendar.Combine(date, t, s.loc).Before(s.now()) {
		return apperror.Validation("appointment time is in the past")
	}
	return nil
}

// -- Booking --

type BookInput struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      calendar.Date
	Time      calendar.TimeOfDay
	Notes     string
}

// Book creates a Scheduled appointment. Patients book for themselves; staff
// name the patient.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	caller, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	if !auth.HasRole(ctx, auth.RoleAdministrativeStaff) {
		if in.PatientID != uuid.Nil && in.PatientID != caller {
			return nil, apperror.Forbidden("patients can only book for themselves")
		}
		in.PatientID = caller
	}
	if in.PatientID == uuid.Nil {
		return nil, apperror.Validation("patient is required").WithField("patient", "this field is required")
	}
	if in.Date.IsZero() {
		return nil, apperror.Validation("date is required").WithField("date", "this field is required")
	}

	doctor, err := s.userWithRole(ctx, in.DoctorID, auth.RoleCardiologist, "doctor")
	if err != nil {
		return nil, err
	}
	patient, err := s.userWithRole(ctx, in.PatientID, auth.RolePatient, "patient")
	if err != nil {
		return nil, err
	}
	if err := s.requireFuture(in.Date, in.Time); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:   patient.ID,
		PatientName: patient.FullName(),
		DoctorID:    doctor.ID,
		DoctorName:  doctor.FullName(),
		Date:        in.Date,
		Time:        in.Time,
		Status:      StatusScheduled,
		Notes:       strings.TrimSpace(in.Notes),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := s.evaluate(ctx, a.DoctorID, a.Date, a.Time, uuid.Nil)
		if err != nil {
			return err
		}
		if !d.Available {
			return rejection(d)
		}
		return s.appts.Create(ctx, a)
	})
	if err != nil {
		return nil, s.writeErr(err, "failed to book appointment")
	}

	when := a.Date.String() + " at " + a.Time.String()
	s.notify(ctx, inbox.Notice{
		UserID: doctor.ID, Type: inbox.TypeAppointmentCreated, AppointmentID: &a.ID,
		Title:   "New appointment",
		Message: fmt.Sprintf("%s booked an appointment on %s", patient.FullName(), when),
	})
	s.notify(ctx, inbox.Notice{
		UserID: patient.ID, Type: inbox.TypeAppointmentCreated, AppointmentID: &a.ID,
		Title:   "Appointment booked",
		Message: fmt.Sprintf("Your appointment with Dr. %s is booked for %s", doctor.FullName(), when),
		EmailTo: patient.Email, Template: notification.TplAppointmentBooked,
		Data: s.emailData(patient, doctor, a),
	})
	return a, nil
}

// writeErr classifies an error from a booking or rescheduling transaction.
func (s *Service) writeErr(err error, msg string) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	if db.IsUniqueViolation(err, "appointment_scheduled_slot_key") {
		return apperror.Conflict(ReasonSlotTaken)
	}
	if db.IsNoRows(err) {
		return apperror.Conflict(ReasonChanged)
	}
	return apperror.Internal(err, msg)
}

func (s *Service) emailData(patient, doctor *identity.User, a *Appointment) map[string]string {
	return map[string]string{
		"name":   patient.FullName(),
		"doctor": "Dr. " + doctor.FullName(),
		"date":   a.Date.String(),
		"time":   a.Time.String(),
	}
}

func (s *Service) notify(ctx context.Context, n inbox.Notice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("user_id", n.UserID.String()).Str("type", string(n.Type)).Msg("notification not stored")
	}
}

// -- Access --

// party describes how the caller relates to an appointment.
type party int

const (
	partyNone party = iota
	partyPatient
	partyDoctor
	partyStaff
)

func callerParty(ctx context.Context, a *Appointment) party {
	if auth.HasRole(ctx, auth.RoleAdministrativeStaff) {
		return partyStaff
	}
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return partyNone
	}
	switch uid {
	case a.PatientID:
		return partyPatient
	case a.DoctorID:
		return partyDoctor
	}
	return partyNone
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Appointment, party, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, partyNone, lookupErr(err, "appointment")
	}
	p := callerParty(ctx, a)
	if p == partyNone {
		return nil, partyNone, apperror.Forbidden("you do not have access to this appointment")
	}
	a, err = s.settle(ctx, a)
	if err != nil {
		return nil, partyNone, err
	}
	return a, p, nil
}

// GetAppointment returns one appointment to a participant or staff.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.load(ctx, id)
	return a, err
}

// -- Editing --

type EditInput struct {
	Date   *calendar.Date
	Time   *calendar.TimeOfDay
	Status *Status
	Notes  *string
}

// Edit reschedules an appointment, changes its status or notes.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, in EditInput) (*Appointment, error) {
	a, who, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	moved := false
	if in.Date != nil && *in.Date != a.Date {
		moved = true
	}
	if in.Time != nil && *in.Time != a.Time {
		moved = true
	}

	newStatus := a.Status
	if in.Status != nil && *in.Status != a.Status {
		if a.Status.Terminal() {
			return nil, apperror.Validation("cannot change the status of a %s appointment", strings.ToLower(string(a.Status)))
		}
		switch *in.Status {
		case StatusCancelled:
		case StatusCompleted:
			if who == partyPatient {
				return nil, apperror.Forbidden("patients cannot complete appointments")
			}
		default:
			return nil, apperror.Validation("invalid status %q", *in.Status)
		}
		newStatus = *in.Status
	}

	if moved {
		if a.Status != StatusScheduled || newStatus != StatusScheduled {
			return nil, apperror.Validation("only scheduled appointments can be rescheduled")
		}
		if in.Date != nil {
			a.Date = *in.Date
		}
		if in.Time != nil {
			a.Time = *in.Time
		}
		if err := s.requireFuture(a.Date, a.Time); err != nil {
			return nil, err
		}
	}
	prevStatus := a.Status
	a.Status = newStatus
	if in.Notes != nil {
		a.Notes = strings.TrimSpace(*in.Notes)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if moved {
			d, err := s.evaluate(ctx, a.DoctorID, a.Date, a.Time, a.ID)
			if err != nil {
				return err
			}
			if !d.Available {
				return rejection(d)
			}
		}
		return s.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, s.writeErr(err, "failed to update appointment")
	}

	if moved || a.Status != prevStatus {
		s.announce(ctx, a, who, a.Status == StatusCancelled && prevStatus != StatusCancelled)
	}
	return a, nil
}

// Cancel cancels a Scheduled appointment. Cancelling twice is an error, and
// of two concurrent cancels only one succeeds.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := notCancellable(a.Status); err != nil {
		return nil, err
	}
	ok, err := s.appts.CancelScheduled(ctx, id)
	if err != nil {
		return nil, apperror.Internal(err, "failed to cancel appointment")
	}
	if !ok {
		// Changed since it was loaded.
		cur, err := s.appts.GetByID(ctx, id)
		if err != nil {
			return nil, lookupErr(err, "appointment")
		}
		if err := notCancellable(cur.Status); err != nil {
			return nil, err
		}
		return nil, apperror.Conflict(ReasonChanged)
	}
	a, err = s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "appointment")
	}
	s.announce(ctx, a, partyStaff, true)
	return a, nil
}

func notCancellable(st Status) error {
	switch st {
	case StatusCancelled:
		return apperror.Validation("Appointment is already cancelled")
	case StatusCompleted:
		return apperror.Validation("Completed appointments cannot be cancelled")
	}
	return nil
}

// announce tells the parties other than the actor about a change. Staff
// changes reach both patient and doctor.
func (s *Service) announce(ctx context.Context, a *Appointment, actor party, cancelled bool) {
	patient, perr := s.users.GetUser(ctx, a.PatientID)
	doctor, derr := s.users.GetUser(ctx, a.DoctorID)
	if perr != nil || derr != nil {
		s.logger.Warn().Str("appointment_id", a.ID.String()).Msg("cannot resolve appointment parties for notification")
		return
	}

	typ, tpl, title := inbox.TypeAppointmentUpdated, notification.TplAppointmentUpdated, "Appointment updated"
	if cancelled {
		typ, tpl, title = inbox.TypeAppointmentCancelled, notification.TplAppointmentCancelled, "Appointment cancelled"
	}
	when := a.Date.String() + " at " + a.Time.String()

	if actor != partyPatient {
		s.notify(ctx, inbox.Notice{
			UserID: patient.ID, Type: typ, AppointmentID: &a.ID, Title: title,
			Message: fmt.Sprintf("Your appointment with Dr. %s on %s is now %s", doctor.FullName(), when, strings.ToLower(string(a.Status))),
			EmailTo: patient.Email, Template: tpl, Data: s.emailData(patient, doctor, a),
		})
	}
	if actor != partyDoctor {
		data := s.emailData(patient, doctor, a)
		data["name"] = "Dr. " + doctor.FullName()
		data["doctor"] = patient.FullName()
		s.notify(ctx, inbox.Notice{
			UserID: doctor.ID, Type: typ, AppointmentID: &a.ID, Title: title,
			Message: fmt.Sprintf("Appointment with %s on %s is now %s", patient.FullName(), when, strings.ToLower(string(a.Status))),
			EmailTo: doctor.Email, Template: tpl, Data: data,
		})
	}
}

// -- Reconciliation --

// settle completes a if its start has passed and returns the stored row.
// Cancelled rows are left alone.
func (s *Service) settle(ctx context.Context, a *Appointment) (*Appointment, error) {
	if !a.Elapsed(s.now(), s.loc) {
		return a, nil
	}
	if _, err := s.appts.MarkCompleted(ctx, []uuid.UUID{a.ID}); err != nil {
		return nil, apperror.Internal(err, "failed to update appointment status")
	}
	fresh, err := s.appts.GetByID(ctx, a.ID)
	if err != nil {
		return nil, lookupErr(err, "appointment")
	}
	return fresh, nil
}

// list completes every elapsed appointment in the filter's party scope
// before reading, so status filters and later pages see settled rows.
func (s *Service) list(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if _, err := s.appts.CompleteElapsed(ctx, f.Scope(), s.now()); err != nil {
		return nil, 0, apperror.Internal(err, "failed to update appointment status")
	}
	items, total, err := s.appts.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list appointments")
	}
	if items == nil {
		items = []*Appointment{}
	}
	return items, total, nil
}

// -- Listings --

// ListAppointments is the staff view over every appointment, newest first.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.list(ctx, f, limit, offset)
}

func (s *Service) DoctorAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.list(ctx, AppointmentFilter{DoctorID: &doctorID, ExcludeCancelled: true}, limit, offset)
}

// DoctorToday lists today's Scheduled and Completed appointments in time order.
func (s *Service) DoctorToday(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	today := s.today()
	items, _, err := s.list(ctx, AppointmentFilter{
		DoctorID:  &doctorID,
		Date:      &today,
		Statuses:  []Status{StatusScheduled, StatusCompleted},
		Ascending: true,
	}, maxDayItems, 0)
	return items, err
}

const (
	maxDayItems        = 200
	recentPatientCount = 3
)

func (s *Service) DoctorDashboard(ctx context.Context, doctorID uuid.UUID) (*Dashboard, error) {
	patients, err := s.appts.CountPatients(ctx, doctorID)
	if err != nil {
		return nil, apperror.Internal(err, "failed to count patients")
	}
	today := s.today()
	_, n, err := s.appts.List(ctx, AppointmentFilter{DoctorID: &doctorID, Date: &today, ExcludeCancelled: true}, 1, 0)
	if err != nil {
		return nil, apperror.Internal(err, "failed to count appointments")
	}
	return &Dashboard{TotalPatients: patients, TodayAppointments: n}, nil
}

func (s *Service) RecentPatients(ctx context.Context, doctorID uuid.UUID) ([]*RecentPatient, error) {
	items, err := s.appts.RecentPatients(ctx, doctorID, s.now(), recentPatientCount)
	if err != nil {
		return nil, apperror.Internal(err, "failed to list recent patients")
	}
	if items == nil {
		items = []*RecentPatient{}
	}
	return items, nil
}

// PatientDetail is what a doctor sees about one of their patients.
type PatientDetail struct {
	Patient      *identity.Account `json:"patient"`
	Appointments []*Appointment    `json:"appointments"`
}

// DoctorPatient returns a patient's profile and their appointments with the
// doctor. Doctors only see patients they have an appointment with.
func (s *Service) DoctorPatient(ctx context.Context, doctorID, patientID uuid.UUID) (*PatientDetail, error) {
	items, _, err := s.list(ctx, AppointmentFilter{DoctorID: &doctorID, PatientID: &patientID}, maxDayItems, 0)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperror.NotFound("patient not found")
	}
	acct, err := s.users.GetAccount(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &PatientDetail{Patient: acct, Appointments: items}, nil
}

func (s *Service) PatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.list(ctx, AppointmentFilter{PatientID: &patientID}, limit, offset)
}

// PatientUpcoming lists Scheduled appointments that have not started yet,
// soonest first.
func (s *Service) PatientUpcoming(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	today := s.today()
	items, _, err := s.list(ctx, AppointmentFilter{
		PatientID: &patientID,
		Statuses:  []Status{StatusScheduled},
		From:      &today,
		Ascending: true,
	}, maxDayItems, 0)
	if err != nil {
		return nil, err
	}
	upcoming := items[:0]
	for _, a := range items {
		if a.Status == StatusScheduled {
			upcoming = append(upcoming, a)
		}
	}
	return upcoming, nil
}

// -- Availability management --

type AvailabilityInput struct {
	DoctorID  uuid.UUID
	DayOfWeek string
	StartTime calendar.TimeOfDay
	EndTime   calendar.TimeOfDay
}

func (s *Service) CreateAvailability(ctx context.Context, in AvailabilityInput) (*Availability, error) {
	day, ok := calendar.NormalizeWeekday(in.DayOfWeek)
	if !ok {
		return nil, apperror.Validation("invalid day of week %q", in.DayOfWeek).WithField("day_of_week", "must be a weekday name")
	}
	if in.StartTime >= in.EndTime {
		return nil, apperror.Validation("start time must be before end time").WithField("end_time", "must be after start_time")
	}
	doctor, err := s.userWithRole(ctx, in.DoctorID, auth.RoleCardiologist, "doctor")
	if err != nil {
		return nil, err
	}
	a := &Availability{
		DoctorID:   doctor.ID,
		DoctorName: doctor.FullName(),
		DayOfWeek:  day,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
	}
	if err := s.avail.Create(ctx, a); err != nil {
		if db.IsCheckViolation(err) {
			return nil, apperror.Validation("start time must be before end time")
		}
		return nil, apperror.Internal(err, "failed to create availability")
	}
	return a, nil
}

func (s *Service) ListAvailability(ctx context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error) {
	items, total, err := s.avail.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list availability")
	}
	if items == nil {
		items = []*Availability{}
	}
	return items, total, nil
}

func (s *Service) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	if err := s.avail.Delete(ctx, id); err != nil {
		return lookupErr(err, "availability")
	}
	return nil
}

type LeaveInput struct {
	DoctorID uuid.UUID
	Date     calendar.Date
	Reason   string
}

func (s *Service) CreateLeave(ctx context.Context, in LeaveInput) (*Leave, error) {
	if in.Date.IsZero() {
		return nil, apperror.Validation("date is required").WithField("date", "this field is required")
	}
	if in.Date.Before(s.today()) {
		return nil, apperror.Validation("leave cannot be recorded for a past date")
	}
	if _, err := s.userWithRole(ctx, in.DoctorID, auth.RoleCardiologist, "doctor"); err != nil {
		return nil, err
	}
	l := &Leave{DoctorID: in.DoctorID, Date: in.Date, Reason: strings.TrimSpace(in.Reason)}
	if err := s.leaves.Create(ctx, l); err != nil {
		if db.IsUniqueViolation(err, "doctor_leave_doctor_date_key") {
			return nil, apperror.Conflict("doctor already has leave on %s", in.Date)
		}
		return nil, apperror.Internal(err, "failed to record leave")
	}
	return l, nil
}

// DoctorLeave lists the doctor's leave from today on.
func (s *Service) DoctorLeave(ctx context.Context, doctorID uuid.UUID) ([]*Leave, error) {
	items, err := s.leaves.ListByDoctor(ctx, doctorID, s.today())
	if err != nil {
		return nil, apperror.Internal(err, "failed to list leave")
	}
	if items == nil {
		items = []*Leave{}
	}
	return items, nil
}

func (s *Service) DeleteLeave(ctx context.Context, id uuid.UUID) error {
	if err := s.leaves.Delete(ctx, id); err != nil {
		return lookupErr(err, "leave")
	}
	return nil
}

// AppointmentByID returns an appointment for another domain to attach
// records to, without access checks or reconciliation.
func (s *Service) AppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "appointment")
	}
	return a, nil
}
