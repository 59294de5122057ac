package diagnostics

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

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, n inbox.Notice) error
}

type Service struct {
	tests    TestRepository
	appts    AppointmentRepository
	results  ResultRepository
	tx       db.Transactor
	users    Directory
	notifier Notifier
	clock    clock.Clock
	loc      *time.Location
	logger   zerolog.Logger
}

type Deps struct {
	Tests        TestRepository
	Appointments AppointmentRepository
	Results      ResultRepository
	Tx           db.Transactor
	Users        Directory
	Notifier     Notifier
	Clock        clock.Clock
	Location     *time.Location
	Logger       zerolog.Logger
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		tests:    d.Tests,
		appts:    d.Appointments,
		results:  d.Results,
		tx:       d.Tx,
		users:    d.Users,
		notifier: d.Notifier,
		clock:    d.Clock,
		loc:      loc,
		logger:   d.Logger.With().Str("component", "diagnostics").Logger(),
	}
}

func (s *Service) now() time.Time { return s.clock.Now().In(s.loc) }

func lookupErr(err error, what string) error {
	if db.IsNoRows(err) {
		return apperror.NotFound("%s not found", what)
	}
	return apperror.Internal(err, "failed to load %s", what)
}

// activeUser loads a user holding one of roles. Anyone else is reported as
// missing.
func (s *Service) activeUser(ctx context.Context, id uuid.UUID, what string, roles ...auth.Role) (*identity.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.NotFound("%s not found", what)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, apperror.NotFound("%s not found", what)
	}
	for _, r := range roles {
		if u.Role == r {
			return u, nil
		}
	}
	return nil, apperror.NotFound("%s not found", what)
}

func (s *Service) notify(ctx context.Context, n inbox.Notice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("user_id", n.UserID.String()).Msg("notification not stored")
	}
}

func emptyIfNil(items []*Appointment) []*Appointment {
	if items == nil {
		return []*Appointment{}
	}
	return items
}

// -- Catalogue --

func (s *Service) ListTests(ctx context.Context) ([]*Test, error) {
	items, err := s.tests.List(ctx)
	if err != nil {
		return nil, apperror.Internal(err, "failed to list diagnostic tests")
	}
	if items == nil {
		items = []*Test{}
	}
	return items, nil
}

// -- Booking --

type BookInput struct {
	PatientID       uuid.UUID
	TestID          uuid.UUID
	AssignedStaffID uuid.UUID
	Date            calendar.Date
	Time            calendar.TimeOfDay
	Notes           string
}

// Book schedules a diagnostic test and assigns it to a nurse or sonographer.
func (s *Service) Book(ctx context.Context, in BookInput) (*Appointment, error) {
	caller, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	if in.Date.IsZero() {
		return nil, apperror.Validation("date is required").WithField("date", "this field is required")
	}
	if calendar.Combine(in.Date, in.Time, s.loc).Before(s.now()) {
		return nil, apperror.Validation("appointment time is in the past")
	}
	test, err := s.tests.GetByID(ctx, in.TestID)
	if err != nil {
		return nil, lookupErr(err, "diagnostic test")
	}
	patient, err := s.activeUser(ctx, in.PatientID, "patient", auth.RolePatient)
	if err != nil {
		return nil, err
	}
	staff, err := s.activeUser(ctx, in.AssignedStaffID, "assigned staff", auth.RoleNurse, auth.RoleSonographer)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.Validation("assigned staff must be a nurse or sonographer").WithField("assigned_staff", "must be a nurse or sonographer")
	}
	if err != nil {
		return nil, err
	}

	staffID := staff.ID
	a := &Appointment{
		PatientID:         patient.ID,
		PatientName:       patient.FullName(),
		TestID:            test.ID,
		TestName:          test.Name,
		BookedBy:          caller,
		AssignedStaffID:   &staffID,
		AssignedStaffName: staff.FullName(),
		Date:              in.Date,
		Time:              in.Time,
		Status:            StatusScheduled,
		Notes:             strings.TrimSpace(in.Notes),
	}
	if err := s.appts.Create(ctx, a); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, apperror.Validation("patient, test or staff no longer exists")
		}
		return nil, apperror.Internal(err, "failed to book diagnostic test")
	}

	when := a.Date.String() + " at " + a.Time.String()
	s.notify(ctx, inbox.Notice{
		UserID: patient.ID, Type: inbox.TypeDiagnosticUpdate,
		Title:   test.Name + " booked",
		Message: fmt.Sprintf("Your %s is booked for %s", test.Name, when),
		EmailTo: patient.Email, Template: notification.TplDiagnosticBooked,
		Data: map[string]string{"name": patient.FullName(), "test": test.Name, "date": a.Date.String(), "time": a.Time.String()},
	})
	s.notify(ctx, inbox.Notice{
		UserID: staff.ID, Type: inbox.TypeDiagnosticUpdate,
		Title:   "New diagnostic assignment",
		Message: fmt.Sprintf("%s for %s on %s", test.Name, patient.FullName(), when),
	})
	return a, nil
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	items, total, err := s.appts.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list diagnostic appointments")
	}
	return emptyIfNil(items), total, nil
}

// -- Staff views --

// Assigned lists the staff member's assignments, soonest first, each with
// its result when one has been recorded.
func (s *Service) Assigned(ctx context.Context, staffID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.ListAppointments(ctx, AppointmentFilter{StaffID: &staffID, Ascending: true}, limit, offset)
}

const maxDayItems = 200

// Today lists today's Scheduled and Completed assignments in time order.
func (s *Service) Today(ctx context.Context, staffID uuid.UUID) ([]*Appointment, error) {
	today := calendar.DateOf(s.now())
	items, _, err := s.ListAppointments(ctx, AppointmentFilter{
		StaffID:   &staffID,
		Date:      &today,
		Statuses:  []Status{StatusScheduled, StatusCompleted},
		Ascending: true,
	}, maxDayItems, 0)
	return items, err
}

func (s *Service) Summary(ctx context.Context, staffID uuid.UUID) (*Summary, error) {
	sum, err := s.appts.Summarize(ctx, staffID, calendar.DateOf(s.now()))
	if err != nil {
		return nil, apperror.Internal(err, "failed to summarise assignments")
	}
	return sum, nil
}

// -- Results --

type ResultInput struct {
	ResultSummary *string
	ReportURL     *string
}

// RecordResult stores the result of a diagnostic test. The first upload
// creates the result and completes the appointment; later uploads replace
// whichever fields they carry. It reports whether the result was created.
func (s *Service) RecordResult(ctx context.Context, appointmentID uuid.UUID, in ResultInput) (*Result, bool, error) {
	caller, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return nil, false, apperror.Unauthorized("authentication required")
	}
	if in.ResultSummary == nil && in.ReportURL == nil {
		return nil, false, apperror.Validation("result_summary or report_url is required")
	}
	a, err := s.appts.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, false, lookupErr(err, "diagnostic appointment")
	}
	if !a.AssignedTo(caller) && !auth.HasRole(ctx, auth.RoleITStaff) {
		return nil, false, apperror.Forbidden("you are not assigned to this appointment")
	}
	if a.Status == StatusCancelled {
		return nil, false, apperror.Validation("cannot record a result for a cancelled appointment")
	}

	var res *Result
	created := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.results.GetByAppointment(ctx, a.ID)
		switch {
		case err == nil:
			res = existing
			if in.ResultSummary != nil {
				res.ResultSummary = strings.TrimSpace(*in.ResultSummary)
			}
			if in.ReportURL != nil {
				res.ReportURL = strings.TrimSpace(*in.ReportURL)
			}
			return s.results.Update(ctx, res)
		case db.IsNoRows(err):
			res = &Result{AppointmentID: a.ID, RecordedBy: caller}
			if in.ResultSummary != nil {
				res.ResultSummary = strings.TrimSpace(*in.ResultSummary)
			}
			if in.ReportURL != nil {
				res.ReportURL = strings.TrimSpace(*in.ReportURL)
			}
			if err := s.results.Create(ctx, res); err != nil {
				return err
			}
			created = true
			return s.appts.SetStatus(ctx, a.ID, StatusCompleted)
		default:
			return err
		}
	})
	if err != nil {
		if db.IsUniqueViolation(err, "diagnostic_result_appointment_key") {
			return nil, false, apperror.Conflict("Test result has already been uploaded for this appointment")
		}
		return nil, false, apperror.Internal(err, "failed to record result")
	}

	s.logger.Info().Str("appointment_id", a.ID.String()).Bool("created", created).Msg("diagnostic result recorded")
	if created {
		s.announceResult(ctx, a)
	}
	return res, created, nil
}

func (s *Service) announceResult(ctx context.Context, a *Appointment) {
	patient, err := s.users.GetUser(ctx, a.PatientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("cannot resolve patient for result notification")
		return
	}
	s.notify(ctx, inbox.Notice{
		UserID: patient.ID, Type: inbox.TypeDiagnosticUpdate,
		Title:   a.TestName + " result ready",
		Message: fmt.Sprintf("The result of your %s is now available", a.TestName),
		EmailTo: patient.Email, Template: notification.TplDiagnosticResultReady,
		Data: map[string]string{"name": patient.FullName(), "test": a.TestName},
	})
}

// PatientResults lists a patient's diagnostic appointments that have a
// result, newest first. Patients only see their own.
func (s *Service) PatientResults(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if auth.HasRole(ctx, auth.RolePatient) && !auth.IsAdmin(ctx) {
		uid, err := auth.UserUUIDFromContext(ctx)
		if err != nil || uid != patientID {
			return nil, 0, apperror.Forbidden("you can only view your own results")
		}
	}
	return s.ListAppointments(ctx, AppointmentFilter{PatientID: &patientID, WithResult: true}, limit, offset)
}
