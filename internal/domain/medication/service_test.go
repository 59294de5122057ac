package medication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/domain/scheduling"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
)

// -- Mock Repositories --

type mockMedicationRepo struct {
	items map[uuid.UUID]*Medication
}

func newMockMedicationRepo() *mockMedicationRepo {
	return &mockMedicationRepo{items: make(map[uuid.UUID]*Medication)}
}

func (m *mockMedicationRepo) Create(_ context.Context, med *Medication) error {
	for _, existing := range m.items {
		if existing.Code == med.Code {
			return &pgconn.PgError{Code: "23505", ConstraintName: "medication_code_key"}
		}
	}
	med.ID = uuid.New()
	med.CreatedAt = time.Now()
	m.items[med.ID] = med
	return nil
}

func (m *mockMedicationRepo) GetByID(_ context.Context, id uuid.UUID) (*Medication, error) {
	med, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return med, nil
}

func (m *mockMedicationRepo) GetMany(_ context.Context, ids []uuid.UUID) ([]*Medication, error) {
	var out []*Medication
	for _, id := range ids {
		if med, ok := m.items[id]; ok {
			out = append(out, med)
		}
	}
	return out, nil
}

func (m *mockMedicationRepo) Search(_ context.Context, q string, limit, offset int) ([]*Medication, int, error) {
	var out []*Medication
	for _, med := range m.items {
		if q == "" || med.Name == q || med.Code == q {
			out = append(out, med)
		}
	}
	return out, len(out), nil
}

type mockInteractionRepo struct {
	items []*Interaction
	err   error
}

func (m *mockInteractionRepo) Create(_ context.Context, in *Interaction) error {
	in.ID = uuid.New()
	m.items = append(m.items, in)
	return nil
}

func (m *mockInteractionRepo) List(_ context.Context, limit, offset int) ([]*Interaction, int, error) {
	return m.items, len(m.items), nil
}

func (m *mockInteractionRepo) Among(_ context.Context, ids []uuid.UUID) ([]*Interaction, error) {
	if m.err != nil {
		return nil, m.err
	}
	in := map[uuid.UUID]bool{}
	for _, id := range ids {
		in[id] = true
	}
	var out []*Interaction
	for _, it := range m.items {
		if in[it.Medication1ID] && in[it.Medication2ID] {
			out = append(out, it)
		}
	}
	return out, nil
}

type mockPrescriptionRepo struct {
	items map[uuid.UUID]*Prescription
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{items: make(map[uuid.UUID]*Prescription)}
}

func (m *mockPrescriptionRepo) Create(_ context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	for _, it := range p.Items {
		it.ID = uuid.New()
		it.PrescriptionID = p.ID
	}
	m.items[p.ID] = p
	return nil
}

func (m *mockPrescriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*Prescription, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockPrescriptionRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var out []*Prescription
	for _, p := range m.items {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

type mockAppointments struct {
	items map[uuid.UUID]*scheduling.Appointment
}

func (m *mockAppointments) AppointmentByID(_ context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFound("appointment not found")
	}
	return a, nil
}

// recordingTx counts transactions.
type recordingTx struct {
	calls int
}

func (r *recordingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.calls++
	return fn(ctx)
}

// -- Fixture --

type fixture struct {
	svc          *Service
	meds         *mockMedicationRepo
	interactions *mockInteractionRepo
	rx           *mockPrescriptionRepo
	appts        *mockAppointments
	tx           *recordingTx

	doctorID  uuid.UUID
	patientID uuid.UUID
	appt      *scheduling.Appointment

	aspirin, warfarin, statin, bblocker *Medication
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		meds:         newMockMedicationRepo(),
		interactions: &mockInteractionRepo{},
		rx:           newMockPrescriptionRepo(),
		appts:        &mockAppointments{items: make(map[uuid.UUID]*scheduling.Appointment)},
		tx:           &recordingTx{},
		doctorID:     uuid.New(),
		patientID:    uuid.New(),
	}
	f.svc = NewService(Deps{
		Medications:   f.meds,
		Interactions:  f.interactions,
		Prescriptions: f.rx,
		Appointments:  f.appts,
		Tx:            f.tx,
		Logger:        zerolog.Nop(),
	})
	f.appt = &scheduling.Appointment{
		ID: uuid.New(), PatientID: f.patientID, DoctorID: f.doctorID, DoctorName: "Raj Patel",
		Status: scheduling.StatusCompleted,
	}
	f.appts.items[f.appt.ID] = f.appt

	ctx := context.Background()
	mk := func(name, code string) *Medication {
		m, err := f.svc.CreateMedication(ctx, MedicationInput{Name: name, Code: code})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return m
	}
	f.aspirin = mk("Aspirin", "asp")
	f.warfarin = mk("Warfarin", "WRF")
	f.statin = mk("Atorvastatin", "ATV")
	f.bblocker = mk("Metoprolol", "MTP")

	f.interactions.items = []*Interaction{
		{ID: uuid.New(), Medication1ID: f.warfarin.ID, Medication2ID: f.aspirin.ID, Severity: SeverityHigh, Description: "bleeding"},
		{ID: uuid.New(), Medication1ID: f.statin.ID, Medication2ID: f.bblocker.ID, Severity: SeverityModerate, Description: "monitor"},
	}
	return f
}

func (f *fixture) asDoctor() context.Context {
	return auth.WithIdentity(context.Background(), f.doctorID, auth.RoleCardiologist)
}

func items(meds ...*Medication) []ItemInput {
	out := make([]ItemInput, len(meds))
	for i, m := range meds {
		out[i] = ItemInput{MedicationID: m.ID, Dosage: "10mg", Frequency: "daily", Duration: "30 days"}
	}
	return out
}

func expectKind(t *testing.T, err error, kind apperror.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if !apperror.Is(err, kind) {
		t.Errorf("expected %s error, got %v", kind, err)
	}
}

// -- Medications and interactions --

func TestCreateMedication(t *testing.T) {
	f := newFixture(t)
	if f.aspirin.Code != "ASP" {
		t.Errorf("expected normalised code, got %q", f.aspirin.Code)
	}
	_, err := f.svc.CreateMedication(context.Background(), MedicationInput{Name: "Aspirin 2", Code: "Asp"})
	expectKind(t, err, apperror.KindConflict)

	_, err = f.svc.CreateMedication(context.Background(), MedicationInput{Name: "  ", Code: "X"})
	expectKind(t, err, apperror.KindValidation)
}

func TestCreateInteraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.svc.CreateInteraction(ctx, InteractionInput{
		Medication1ID: f.aspirin.ID, Medication2ID: f.statin.ID, Severity: "low", Description: " minor ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Severity != SeverityLow || in.Medication2Name != "Atorvastatin" || in.Description != "minor" {
		t.Errorf("unexpected interaction: %+v", in)
	}

	tests := []struct {
		name string
		in   InteractionInput
		kind apperror.Kind
	}{
		{"same medication", InteractionInput{Medication1ID: f.aspirin.ID, Medication2ID: f.aspirin.ID, Severity: "Low"}, apperror.KindValidation},
		{"bad severity", InteractionInput{Medication1ID: f.aspirin.ID, Medication2ID: f.bblocker.ID, Severity: "Severe"}, apperror.KindValidation},
		{"unknown medication", InteractionInput{Medication1ID: f.aspirin.ID, Medication2ID: uuid.New(), Severity: "Low"}, apperror.KindNotFound},
		{"reverse of existing pair", InteractionInput{Medication1ID: f.aspirin.ID, Medication2ID: f.warfarin.ID, Severity: "High"}, apperror.KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateInteraction(ctx, tt.in)
			expectKind(t, err, tt.kind)
		})
	}
}

func TestCheckInteractionsDryRun(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CheckInteractions(f.asDoctor(), []uuid.UUID{f.aspirin.ID, f.warfarin.ID, f.statin.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Blocked() || len(res.Conflicts) != 1 {
		t.Errorf("expected aspirin+warfarin conflict, got %+v", res)
	}
	if len(f.rx.items) != 0 {
		t.Error("dry run must not save anything")
	}

	_, err = f.svc.CheckInteractions(f.asDoctor(), []uuid.UUID{f.aspirin.ID, uuid.New()})
	expectKind(t, err, apperror.KindNotFound)
}

// -- Prescribing --

func TestPrescribe_WithWarnings(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Prescribe(f.asDoctor(), f.appt.ID, PrescriptionInput{
		Notes: "review in a month",
		Items: items(f.statin, f.bblocker),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Severity != SeverityModerate {
		t.Errorf("expected one moderate warning, got %+v", res.Warnings)
	}
	p := res.Prescription
	if p.PatientID != f.patientID || p.DoctorID != f.doctorID || len(p.Items) != 2 {
		t.Errorf("unexpected prescription: %+v", p)
	}
	if p.Items[0].MedicationName != "Atorvastatin" {
		t.Errorf("expected medication names on items, got %q", p.Items[0].MedicationName)
	}
	if f.tx.calls != 1 || len(f.rx.items) != 1 {
		t.Errorf("expected one transactional save, got %d tx %d rows", f.tx.calls, len(f.rx.items))
	}
}

func TestPrescribe_HighSeverityRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Prescribe(f.asDoctor(), f.appt.ID, PrescriptionInput{Items: items(f.aspirin, f.statin, f.warfarin)})
	expectKind(t, err, apperror.KindValidation)

	ae, _ := apperror.As(err)
	res, ok := ae.Details.(*CheckResult)
	if !ok {
		t.Fatalf("expected check result details, got %T", ae.Details)
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Medication1ID != f.aspirin.ID {
		t.Errorf("unexpected conflicts: %+v", res.Conflicts)
	}
	if len(f.rx.items) != 0 || f.tx.calls != 0 {
		t.Error("a rejected prescription must not be saved")
	}
}

func TestPrescribe_Rejections(t *testing.T) {
	f := newFixture(t)
	cancelled := &scheduling.Appointment{ID: uuid.New(), PatientID: f.patientID, DoctorID: f.doctorID, Status: scheduling.StatusCancelled}
	f.appts.items[cancelled.ID] = cancelled
	other := auth.WithIdentity(context.Background(), uuid.New(), auth.RoleCardiologist)

	tests := []struct {
		name  string
		ctx   context.Context
		appt  uuid.UUID
		items []ItemInput
		kind  apperror.Kind
	}{
		{"not the appointment's doctor", other, f.appt.ID, items(f.statin), apperror.KindForbidden},
		{"cancelled appointment", f.asDoctor(), cancelled.ID, items(f.statin), apperror.KindValidation},
		{"unknown appointment", f.asDoctor(), uuid.New(), items(f.statin), apperror.KindNotFound},
		{"no items", f.asDoctor(), f.appt.ID, nil, apperror.KindValidation},
		{"unknown medication", f.asDoctor(), f.appt.ID, []ItemInput{{MedicationID: uuid.New(), Dosage: "1"}}, apperror.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Prescribe(tt.ctx, tt.appt, PrescriptionInput{Items: tt.items})
			expectKind(t, err, tt.kind)
		})
	}
	if len(f.rx.items) != 0 {
		t.Error("nothing should have been saved")
	}
}

func TestPrescribe_LookupFailure(t *testing.T) {
	f := newFixture(t)
	f.interactions.err = errors.New("connection reset")
	_, err := f.svc.Prescribe(f.asDoctor(), f.appt.ID, PrescriptionInput{Items: items(f.statin, f.bblocker)})
	expectKind(t, err, apperror.KindInternal)
}

// -- Reading prescriptions --

func TestPrescriptionAccess(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Prescribe(f.asDoctor(), f.appt.ID, PrescriptionInput{Items: items(f.statin)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := res.Prescription.ID

	owner := auth.WithIdentity(context.Background(), f.patientID, auth.RolePatient)
	if _, err := f.svc.GetPrescription(owner, id); err != nil {
		t.Errorf("patient should read own prescription: %v", err)
	}
	nurse := auth.WithIdentity(context.Background(), uuid.New(), auth.RoleNurse)
	if _, err := f.svc.GetPrescription(nurse, id); err != nil {
		t.Errorf("clinical staff should read prescriptions: %v", err)
	}
	stranger := auth.WithIdentity(context.Background(), uuid.New(), auth.RolePatient)
	_, err = f.svc.GetPrescription(stranger, id)
	expectKind(t, err, apperror.KindForbidden)

	_, err = f.svc.GetPrescription(owner, uuid.New())
	expectKind(t, err, apperror.KindNotFound)

	list, total, err := f.svc.PatientPrescriptions(owner, f.patientID, 20, 0)
	if err != nil || total != 1 || len(list) != 1 {
		t.Errorf("unexpected list: %d %v", total, err)
	}
	_, _, err = f.svc.PatientPrescriptions(stranger, f.patientID, 20, 0)
	expectKind(t, err, apperror.KindForbidden)

	list, _, _ = f.svc.PatientPrescriptions(nurse, uuid.New(), 20, 0)
	if list == nil || len(list) != 0 {
		t.Error("expected an empty, non-nil list")
	}
}
