package referral

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/domain/inbox"
	"github.com/heartflow/clinic/internal/domain/scheduling"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/clock"
	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/internal/platform/notification"
)

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type Notifier interface {
	Notify(ctx context.Context, n inbox.Notice) error
}

// Appointments resolves the consultation a sonography referral came from.
type Appointments interface {
	AppointmentByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

const latestSonography = 3

type Service struct {
	referrals  ReferralRepository
	sonography SonographyRepository
	users      Directory
	appts      Appointments
	notifier   Notifier
	clock      clock.Clock
	logger     zerolog.Logger
}

type Deps struct {
	Referrals    ReferralRepository
	Sonography   SonographyRepository
	Users        Directory
	Appointments Appointments
	Notifier     Notifier
	Clock        clock.Clock
	Logger       zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		referrals:  d.Referrals,
		sonography: d.Sonography,
		users:      d.Users,
		appts:      d.Appointments,
		notifier:   d.Notifier,
		clock:      d.Clock,
		logger:     d.Logger.With().Str("component", "referral").Logger(),
	}
}

func lookupErr(err error, what string) error {
	if db.IsNoRows(err) {
		return apperror.NotFound("%s not found", what)
	}
	return apperror.Internal(err, "failed to load %s", what)
}

func caller(ctx context.Context) (uuid.UUID, error) {
	uid, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return uuid.Nil, apperror.Unauthorized("authentication required")
	}
	return uid, nil
}

// activeUser loads an active user holding role. Anyone else is reported as
// missing.
func (s *Service) activeUser(ctx context.Context, id uuid.UUID, what string, role auth.Role) (*identity.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return nil, apperror.NotFound("%s not found", what)
		}
		return nil, err
	}
	if !u.IsActive || u.Role != role {
		return nil, apperror.NotFound("%s not found", what)
	}
	return u, nil
}

func (s *Service) displayName(ctx context.Context, id uuid.UUID) string {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return ""
	}
	return u.FullName()
}

func (s *Service) notify(ctx context.Context, n inbox.Notice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("user_id", n.UserID.String()).Msg("notification not stored")
	}
}

// -- Patient referrals --

type ReferralInput struct {
	ReferredToID     uuid.UUID
	PatientFirstName string
	PatientLastName  string
	PatientEmail     string
	PatientPhone     string
	Reason           string
	Summary          string
}

// Refer records a GP's referral to a cardiologist and lets the
// cardiologist know.
func (s *Service) Refer(ctx context.Context, in ReferralInput) (*Referral, error) {
	gpID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	doctor, err := s.activeUser(ctx, in.ReferredToID, "cardiologist", auth.RoleCardiologist)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.Validation("referrals must be sent to a cardiologist").WithField("referred_to", "must be a cardiologist")
	}
	if err != nil {
		return nil, err
	}

	r := &Referral{
		GPID:             gpID,
		ReferredToID:     doctor.ID,
		ReferredToName:   doctor.FullName(),
		PatientFirstName: strings.TrimSpace(in.PatientFirstName),
		PatientLastName:  strings.TrimSpace(in.PatientLastName),
		PatientEmail:     strings.ToLower(strings.TrimSpace(in.PatientEmail)),
		PatientPhone:     strings.TrimSpace(in.PatientPhone),
		Reason:           strings.TrimSpace(in.Reason),
		Summary:          strings.TrimSpace(in.Summary),
		Status:           StatusPending,
	}
	if err := s.referrals.Create(ctx, r); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, apperror.Validation("referring GP or cardiologist no longer exists")
		}
		return nil, apperror.Internal(err, "failed to create referral")
	}
	r.GPName = s.displayName(ctx, gpID)
	s.logger.Info().Str("referral_id", r.ID.String()).Str("referred_to", doctor.ID.String()).Msg("referral created")

	referrer := r.GPName
	if referrer == "" {
		referrer = "A general practitioner"
	}
	s.notify(ctx, inbox.Notice{
		UserID: doctor.ID, Type: inbox.TypeReferralReceived,
		Title:   "New Referral Received",
		Message: fmt.Sprintf("You have received a referral for patient %s from %s", r.PatientName(), referrer),
		EmailTo: doctor.Email, Template: notification.TplReferralReceived,
		Data: map[string]string{"name": doctor.FullName(), "referrer": referrer, "patient": r.PatientName(), "reason": r.Reason},
	})
	return r, nil
}

// scope narrows a listing to what the caller may see: GPs their own
// referrals, cardiologists the ones sent to them, staff everything.
func scope(ctx context.Context, uid uuid.UUID, f *Filter) {
	if auth.IsAdmin(ctx) {
		return
	}
	switch {
	case auth.HasRole(ctx, auth.RoleGeneralPractitioner):
		f.GPID = &uid
	case auth.HasRole(ctx, auth.RoleCardiologist):
		f.ReferredToID = &uid
	}
}

func (s *Service) ListReferrals(ctx context.Context, stage Stage, limit, offset int) ([]*Referral, int, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, 0, err
	}
	f := Filter{Stage: stage}
	scope(ctx, uid, &f)
	items, total, err := s.referrals.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list referrals")
	}
	if items == nil {
		items = []*Referral{}
	}
	return items, total, nil
}

func canSee(ctx context.Context, uid uuid.UUID, r *Referral) bool {
	switch {
	case auth.IsAdmin(ctx), auth.HasRole(ctx, auth.RoleAdministrativeStaff):
		return true
	case auth.HasRole(ctx, auth.RoleGeneralPractitioner):
		return r.GPID == uid
	case auth.HasRole(ctx, auth.RoleCardiologist):
		return r.ReferredToID == uid
	}
	return false
}

func (s *Service) GetReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.referrals.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "referral")
	}
	if !canSee(ctx, uid, r) {
		return nil, apperror.NotFound("referral not found")
	}
	return r, nil
}

// forReferredDoctor loads a referral the caller was sent.
func (s *Service) forReferredDoctor(ctx context.Context, id uuid.UUID) (*Referral, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.referrals.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "referral")
	}
	if r.ReferredToID != uid && !auth.IsAdmin(ctx) {
		return nil, apperror.Forbidden("this referral was sent to another cardiologist")
	}
	return r, nil
}

func (s *Service) save(ctx context.Context, r *Referral) error {
	if err := s.referrals.Update(ctx, r); err != nil {
		if db.IsNoRows(err) {
			return apperror.NotFound("referral not found")
		}
		if db.IsForeignKeyViolation(err) {
			return apperror.Validation("linked patient no longer exists")
		}
		return apperror.Internal(err, "failed to update referral")
	}
	return nil
}

// AddNotes records the cardiologist's notes for the administrative staff
// who will book the patient in. A Pending referral becomes Ongoing.
func (s *Service) AddNotes(ctx context.Context, id uuid.UUID, notes string) (*Referral, error) {
	r, err := s.forReferredDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusRejected {
		return nil, apperror.Validation("referral has been rejected")
	}
	r.DoctorNotes = strings.TrimSpace(notes)
	if r.Status == StatusPending {
		r.Status = StatusOngoing
	}
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Decide accepts or rejects a referral. A rejection is final.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, status Status) (*Referral, error) {
	if status != StatusAccepted && status != StatusRejected {
		return nil, apperror.Validation("status must be Accepted or Rejected").WithField("status", "must be Accepted or Rejected")
	}
	r, err := s.forReferredDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == StatusRejected && status != StatusRejected {
		return nil, apperror.Validation("referral has already been rejected")
	}
	r.Status = status
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info().Str("referral_id", r.ID.String()).Str("status", string(status)).Msg("referral decided")
	return r, nil
}

// Link attaches the registered patient account to a referral.
func (s *Service) Link(ctx context.Context, id, patientID uuid.UUID) (*Referral, error) {
	r, err := s.referrals.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "referral")
	}
	if r.Status == StatusRejected {
		return nil, apperror.Validation("referral has been rejected")
	}
	if r.LinkedPatientID != nil && *r.LinkedPatientID != patientID {
		return nil, apperror.Conflict("referral is already linked to another patient")
	}
	patient, err := s.activeUser(ctx, patientID, "patient", auth.RolePatient)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.Validation("patient account not found").WithField("patient_id", "must be a registered patient")
	}
	if err != nil {
		return nil, err
	}
	r.LinkedPatientID = &patient.ID
	if err := s.save(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// -- Sonography referrals --

type SonographyInput struct {
	SonographerID uuid.UUID
	PatientID     uuid.UUID
	AppointmentID *uuid.UUID
	Reason        string
}

// ReferSonography asks a sonographer to scan the calling cardiologist's
// patient.
func (s *Service) ReferSonography(ctx context.Context, in SonographyInput) (*SonographyReferral, error) {
	doctorID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	sono, err := s.activeUser(ctx, in.SonographerID, "sonographer", auth.RoleSonographer)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.Validation("sonographer not found").WithField("sonographer", "must be a sonographer")
	}
	if err != nil {
		return nil, err
	}
	patient, err := s.activeUser(ctx, in.PatientID, "patient", auth.RolePatient)
	if err != nil {
		return nil, err
	}
	if in.AppointmentID != nil {
		appt, err := s.appts.AppointmentByID(ctx, *in.AppointmentID)
		if err != nil {
			return nil, err
		}
		if appt.PatientID != patient.ID || (appt.DoctorID != doctorID && !auth.IsAdmin(ctx)) {
			return nil, apperror.Validation("appointment does not belong to this patient and doctor").
				WithField("appointment", "must be your appointment with this patient")
		}
	}

	ref := &SonographyReferral{
		DoctorID:        doctorID,
		SonographerID:   sono.ID,
		SonographerName: sono.FullName(),
		PatientID:       patient.ID,
		PatientName:     patient.FullName(),
		AppointmentID:   in.AppointmentID,
		Reason:          strings.TrimSpace(in.Reason),
		Status:          SonographyPending,
	}
	if err := s.sonography.Create(ctx, ref); err != nil {
		if db.IsForeignKeyViolation(err) {
			return nil, apperror.Validation("doctor, sonographer, patient or appointment no longer exists")
		}
		return nil, apperror.Internal(err, "failed to create sonography referral")
	}
	ref.DoctorName = s.displayName(ctx, doctorID)

	s.notify(ctx, inbox.Notice{
		UserID: sono.ID, Type: inbox.TypeReferralReceived,
		Title:         "New Sonography Referral",
		Message:       "You have been referred a new patient: " + patient.FullName(),
		AppointmentID: ref.AppointmentID,
		EmailTo:       sono.Email, Template: notification.TplSonographyReferral,
		Data: map[string]string{"name": sono.FullName(), "doctor": ref.DoctorName, "patient": patient.FullName()},
	})
	return ref, nil
}

func (s *Service) sonographyScope(ctx context.Context) (SonographyFilter, error) {
	uid, err := caller(ctx)
	if err != nil {
		return SonographyFilter{}, err
	}
	switch {
	case auth.IsAdmin(ctx):
		return SonographyFilter{}, nil
	case auth.HasRole(ctx, auth.RoleSonographer):
		return SonographyFilter{SonographerID: &uid}, nil
	case auth.HasRole(ctx, auth.RoleCardiologist):
		return SonographyFilter{DoctorID: &uid}, nil
	}
	return SonographyFilter{}, apperror.Forbidden("sonography referrals are only available to doctors and sonographers")
}

// ListSonography lists the caller's sonography referrals, newest first:
// those they sent as a cardiologist or received as a sonographer.
func (s *Service) ListSonography(ctx context.Context, limit, offset int) ([]*SonographyReferral, int, error) {
	f, err := s.sonographyScope(ctx)
	if err != nil {
		return nil, 0, err
	}
	items, total, err := s.sonography.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list sonography referrals")
	}
	if items == nil {
		items = []*SonographyReferral{}
	}
	return items, total, nil
}

func (s *Service) LatestSonography(ctx context.Context) ([]*SonographyReferral, error) {
	items, _, err := s.ListSonography(ctx, latestSonography, 0)
	return items, err
}

type ReportInput struct {
	ReportURL string
	Notes     string
}

// UploadReport stores the assigned sonographer's report, completes the
// referral and tells the referring doctor.
func (s *Service) UploadReport(ctx context.Context, id uuid.UUID, in ReportInput) (*SonographyReferral, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	url := strings.TrimSpace(in.ReportURL)
	if url == "" {
		return nil, apperror.Validation("report_url is required").WithField("report_url", "this field is required")
	}
	ref, err := s.sonography.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "sonography referral")
	}
	if ref.SonographerID != uid && !auth.IsAdmin(ctx) {
		return nil, apperror.Forbidden("this referral is assigned to another sonographer")
	}

	first := ref.Status != SonographyCompleted
	ref.ReportURL = url
	ref.ReportNotes = strings.TrimSpace(in.Notes)
	ref.Status = SonographyCompleted
	if ref.CompletedAt == nil {
		now := s.clock.Now().UTC().Truncate(time.Microsecond)
		ref.CompletedAt = &now
	}
	if err := s.sonography.SaveReport(ctx, ref); err != nil {
		if db.IsNoRows(err) {
			return nil, apperror.NotFound("sonography referral not found")
		}
		return nil, apperror.Internal(err, "failed to save sonography report")
	}
	s.logger.Info().Str("referral_id", ref.ID.String()).Bool("first", first).Msg("sonography report uploaded")

	if first {
		if doctor, err := s.users.GetUser(ctx, ref.DoctorID); err != nil {
			s.logger.Warn().Err(err).Str("referral_id", ref.ID.String()).Msg("cannot resolve doctor for report notification")
		} else {
			s.notify(ctx, inbox.Notice{
				UserID: doctor.ID, Type: inbox.TypeReferralReceived,
				Title:         "Sonography Completed",
				Message:       fmt.Sprintf("Sonography report uploaded for patient %s by %s", ref.PatientName, ref.SonographerName),
				AppointmentID: ref.AppointmentID,
				EmailTo:       doctor.Email, Template: notification.TplSonographyReportReady,
				Data: map[string]string{"name": doctor.FullName(), "patient": ref.PatientName, "sonographer": ref.SonographerName},
			})
		}
	}
	return ref, nil
}

// ReportFor returns the report of a completed sonography referral. The
// referring doctor, the sonographer and the patient may read it.
func (s *Service) ReportFor(ctx context.Context, id uuid.UUID) (*Report, error) {
	uid, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	ref, err := s.sonography.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "sonography referral")
	}
	if !auth.IsAdmin(ctx) && uid != ref.DoctorID && uid != ref.SonographerID && uid != ref.PatientID {
		return nil, apperror.NotFound("sonography referral not found")
	}
	if !ref.HasReport() {
		return nil, apperror.NotFound("No report uploaded for this referral yet")
	}
	return &Report{
		ReferralID:  ref.ID,
		PatientName: ref.PatientName,
		ReportURL:   ref.ReportURL,
		ReportNotes: ref.ReportNotes,
		CompletedAt: ref.CompletedAt,
	}, nil
}
