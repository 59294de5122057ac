package medication

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/domain/scheduling"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/db"
)

// Appointments resolves the appointment a prescription is written against.
type Appointments interface {
	AppointmentByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Service struct {
	meds         MedicationRepository
	interactions InteractionRepository
	rx           PrescriptionRepository
	appts        Appointments
	tx           db.Transactor
	logger       zerolog.Logger
}

type Deps struct {
	Medications   MedicationRepository
	Interactions  InteractionRepository
	Prescriptions PrescriptionRepository
	Appointments  Appointments
	Tx            db.Transactor
	Logger        zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		meds:         d.Medications,
		interactions: d.Interactions,
		rx:           d.Prescriptions,
		appts:        d.Appointments,
		tx:           d.Tx,
		logger:       d.Logger.With().Str("component", "medication").Logger(),
	}
}

func lookupErr(err error, what string) error {
	if db.IsNoRows(err) {
		return apperror.NotFound("%s not found", what)
	}
	return apperror.Internal(err, "failed to load %s", what)
}

// -- Medications --

type MedicationInput struct {
	Name        string
	Code        string
	Description string
}

func (s *Service) CreateMedication(ctx context.Context, in MedicationInput) (*Medication, error) {
	m := &Medication{
		Name:        strings.TrimSpace(in.Name),
		Code:        strings.ToUpper(strings.TrimSpace(in.Code)),
		Description: strings.TrimSpace(in.Description),
	}
	if m.Name == "" {
		return nil, apperror.Validation("name is required").WithField("name", "this field is required")
	}
	if m.Code == "" {
		return nil, apperror.Validation("code is required").WithField("code", "this field is required")
	}
	if err := s.meds.Create(ctx, m); err != nil {
		if db.IsUniqueViolation(err, "medication_code_key") {
			return nil, apperror.Conflict("medication code %s already exists", m.Code).WithField("code", "already exists")
		}
		return nil, apperror.Internal(err, "failed to create medication")
	}
	return m, nil
}

func (s *Service) SearchMedications(ctx context.Context, q string, limit, offset int) ([]*Medication, int, error) {
	items, total, err := s.meds.Search(ctx, strings.TrimSpace(q), limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list medications")
	}
	if items == nil {
		items = []*Medication{}
	}
	return items, total, nil
}

// requireMedications fails with not_found naming the first id in ids that has
// no medication. It returns the medications keyed by id.
func (s *Service) requireMedications(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Medication, error) {
	found, err := s.meds.GetMany(ctx, ids)
	if err != nil {
		return nil, apperror.Internal(err, "failed to load medications")
	}
	byID := make(map[uuid.UUID]*Medication, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	for _, id := range ids {
		if byID[id] == nil {
			return nil, apperror.NotFound("medication %s not found", id)
		}
	}
	return byID, nil
}

// -- Interactions --

type InteractionInput struct {
	Medication1ID uuid.UUID
	Medication2ID uuid.UUID
	Severity      string
	Description   string
}

func (s *Service) CreateInteraction(ctx context.Context, in InteractionInput) (*Interaction, error) {
	if in.Medication1ID == in.Medication2ID {
		return nil, apperror.Validation("a medication cannot interact with itself").WithField("medication_2", "must differ from medication_1")
	}
	sev, ok := ParseSeverity(in.Severity)
	if !ok {
		return nil, apperror.Validation("invalid severity %q", in.Severity).WithField("severity", "must be one of: Low Moderate High")
	}
	ids := []uuid.UUID{in.Medication1ID, in.Medication2ID}
	meds, err := s.requireMedications(ctx, ids)
	if err != nil {
		return nil, err
	}
	existing, err := s.interactions.Among(ctx, ids)
	if err != nil {
		return nil, apperror.Internal(err, "failed to check interactions")
	}
	if len(existing) > 0 {
		return nil, apperror.Conflict("an interaction between these medications is already recorded")
	}

	it := &Interaction{
		Medication1ID:   in.Medication1ID,
		Medication1Name: meds[in.Medication1ID].Name,
		Medication2ID:   in.Medication2ID,
		Medication2Name: meds[in.Medication2ID].Name,
		Severity:        sev,
		Description:     strings.TrimSpace(in.Description),
	}
	if err := s.interactions.Create(ctx, it); err != nil {
		if db.IsUniqueViolation(err, "drug_interaction_pair_key") {
			return nil, apperror.Conflict("an interaction between these medications is already recorded")
		}
		return nil, apperror.Internal(err, "failed to create interaction")
	}
	return it, nil
}

func (s *Service) ListInteractions(ctx context.Context, limit, offset int) ([]*Interaction, int, error) {
	items, total, err := s.interactions.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list interactions")
	}
	if items == nil {
		items = []*Interaction{}
	}
	return items, total, nil
}

// CheckInteractions runs the pre-check without saving anything.
func (s *Service) CheckInteractions(ctx context.Context, ids []uuid.UUID) (*CheckResult, error) {
	ids = dedupe(ids)
	if _, err := s.requireMedications(ctx, ids); err != nil {
		return nil, err
	}
	return s.check(ctx, ids)
}

func (s *Service) check(ctx context.Context, ids []uuid.UUID) (*CheckResult, error) {
	if len(ids) < 2 {
		return CheckInteractions(ids, nil), nil
	}
	known, err := s.interactions.Among(ctx, ids)
	if err != nil {
		return nil, apperror.Internal(err, "failed to check interactions")
	}
	return CheckInteractions(ids, known), nil
}

// -- Prescriptions --

type ItemInput struct {
	MedicationID uuid.UUID
	Dosage       string
	Frequency    string
	Duration     string
}

type PrescriptionInput struct {
	Notes string
	Items []ItemInput
}

// PrescriptionResult is a saved prescription with the interaction warnings
// that did not block it.
type PrescriptionResult struct {
	Prescription *Prescription `json:"prescription"`
	Warnings     []Finding     `json:"warnings"`
}

// Prescribe writes a prescription against an appointment. Only the
// appointment's doctor may prescribe, and a High severity interaction among
// the items rejects the whole prescription.
func (s *Service) Prescribe(ctx context.Context, appointmentID uuid.UUID, in PrescriptionInput) (*PrescriptionResult, error) {
	caller, err := auth.UserUUIDFromContext(ctx)
	if err != nil {
		return nil, apperror.Unauthorized("authentication required")
	}
	appt, err := s.appts.AppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != caller {
		return nil, apperror.Forbidden("only the appointment's doctor can prescribe")
	}
	if appt.Status == scheduling.StatusCancelled {
		return nil, apperror.Validation("cannot prescribe against a cancelled appointment")
	}
	if len(in.Items) == 0 {
		return nil, apperror.Validation("a prescription needs at least one item").WithField("items", "at least one item is required")
	}

	ids := make([]uuid.UUID, len(in.Items))
	for i, it := range in.Items {
		ids[i] = it.MedicationID
	}
	meds, err := s.requireMedications(ctx, dedupe(ids))
	if err != nil {
		return nil, err
	}
	res, err := s.check(ctx, ids)
	if err != nil {
		return nil, err
	}
	if res.Blocked() {
		return nil, apperror.Validation("High severity drug interaction detected").WithDetails(res)
	}

	p := &Prescription{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		DoctorName:    appt.DoctorName,
		Notes:         strings.TrimSpace(in.Notes),
		Items:         make([]*PrescriptionItem, len(in.Items)),
	}
	for i, it := range in.Items {
		p.Items[i] = &PrescriptionItem{
			MedicationID:   it.MedicationID,
			MedicationName: meds[it.MedicationID].Name,
			Dosage:         strings.TrimSpace(it.Dosage),
			Frequency:      strings.TrimSpace(it.Frequency),
			Duration:       strings.TrimSpace(it.Duration),
		}
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.rx.Create(ctx, p)
	})
	if err != nil {
		return nil, apperror.Internal(err, "failed to save prescription")
	}
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("appointment_id", appt.ID.String()).
		Int("items", len(p.Items)).
		Int("warnings", len(res.Warnings)).
		Msg("prescription created")
	return &PrescriptionResult{Prescription: p, Warnings: res.Warnings}, nil
}

// canSeePatient reports whether the caller may read a patient's
// prescriptions. Patients only see their own.
func canSeePatient(ctx context.Context, patientID uuid.UUID) bool {
	if !auth.HasRole(ctx, auth.RolePatient) || auth.IsAdmin(ctx) {
		return true
	}
	uid, err := auth.UserUUIDFromContext(ctx)
	return err == nil && uid == patientID
}

func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.rx.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "prescription")
	}
	if !canSeePatient(ctx, p.PatientID) {
		return nil, apperror.Forbidden("you do not have access to this prescription")
	}
	return p, nil
}

func (s *Service) PatientPrescriptions(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	if !canSeePatient(ctx, patientID) {
		return nil, 0, apperror.Forbidden("you can only view your own prescriptions")
	}
	items, total, err := s.rx.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperror.Internal(err, "failed to list prescriptions")
	}
	if items == nil {
		items = []*Prescription{}
	}
	return items, total, nil
}
