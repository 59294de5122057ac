package integration

import (
	"context"
	"testing"

	"github.com/heartflow/clinic/internal/domain/diagnostics"
	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/domain/inbox"
	"github.com/heartflow/clinic/internal/domain/medication"
	"github.com/heartflow/clinic/internal/domain/referral"
	"github.com/heartflow/clinic/internal/domain/scheduling"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/pkg/calendar"
)

func TestIdentity_AddPatient(t *testing.T) {
	resetData(t)
	s := newServices()
	ctx := context.Background()

	acct, err := s.identity.AddPatient(ctx, identity.RegisterInput{
		Email:     "  Ada@Example.com ",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Profile:   []byte(`{"date_of_birth":"1990-12-10","gender":"Female"}`),
	})
	if err != nil {
		t.Fatalf("add patient: %v", err)
	}
	if acct.Email != "ada@example.com" {
		t.Errorf("expected normalized email, got %q", acct.Email)
	}
	if acct.UniqueID == "" {
		t.Error("expected a patient number")
	}

	got, err := s.identity.GetAccount(ctx, acct.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.UniqueID != acct.UniqueID {
		t.Errorf("patient number not persisted: %q vs %q", got.UniqueID, acct.UniqueID)
	}

	_, err = s.identity.AddPatient(ctx, identity.RegisterInput{
		Email: "ada@example.com", FirstName: "Other", LastName: "Person",
	})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected conflict on duplicate email, got %v", err)
	}
}

func TestMedication_CatalogueAndPrescribe(t *testing.T) {
	resetData(t)
	s := newServices()
	ctx := context.Background()

	warfarin, err := s.medication.CreateMedication(ctx, medication.MedicationInput{Name: "Warfarin 5 mg", Code: "warf5"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if warfarin.Code != "WARF5" {
		t.Errorf("expected upper-cased code, got %q", warfarin.Code)
	}
	aspirin, _ := s.medication.CreateMedication(ctx, medication.MedicationInput{Name: "Aspirin 81 mg", Code: "ASA81"})
	statin, _ := s.medication.CreateMedication(ctx, medication.MedicationInput{Name: "Atorvastatin 20 mg", Code: "ATOR20"})

	if _, err := s.medication.CreateMedication(ctx, medication.MedicationInput{Name: "Dup", Code: "WARF5"}); !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected conflict on duplicate code, got %v", err)
	}

	if _, err := s.medication.CreateInteraction(ctx, medication.InteractionInput{
		Medication1ID: warfarin.ID, Medication2ID: aspirin.ID, Severity: "high", Description: "bleeding",
	}); err != nil {
		t.Fatalf("interaction: %v", err)
	}
	if _, err := s.medication.CreateInteraction(ctx, medication.InteractionInput{
		Medication1ID: aspirin.ID, Medication2ID: warfarin.ID, Severity: "Low",
	}); !apperror.Is(err, apperror.KindConflict) {
		t.Errorf("expected conflict on reversed pair, got %v", err)
	}

	doctor := setupDoctor(t, s)
	patient := createUser(t, auth.RolePatient, "Ada", "Lovelace")
	appt, err := s.scheduling.Book(as(patient), scheduling.BookInput{
		DoctorID: doctor.ID, Date: nextMonday, Time: calendar.Clock(10, 0),
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	_, err = s.medication.Prescribe(as(doctor), appt.ID, medication.PrescriptionInput{
		Items: []medication.ItemInput{
			{MedicationID: warfarin.ID, Dosage: "5mg"},
			{MedicationID: aspirin.ID, Dosage: "81mg"},
		},
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("expected high severity block, got %v", err)
	}

	res, err := s.medication.Prescribe(as(doctor), appt.ID, medication.PrescriptionInput{
		Notes: "review in 3 months",
		Items: []medication.ItemInput{
			{MedicationID: warfarin.ID, Dosage: "5mg", Frequency: "daily"},
			{MedicationID: statin.ID, Dosage: "20mg", Frequency: "nightly"},
		},
	})
	if err != nil {
		t.Fatalf("prescribe: %v", err)
	}
	saved, err := s.medication.GetPrescription(as(patient), res.Prescription.ID)
	if err != nil {
		t.Fatalf("get prescription: %v", err)
	}
	if len(saved.Items) != 2 {
		t.Errorf("expected 2 items, got %d", len(saved.Items))
	}
}

func TestDiagnostics_BookAndResult(t *testing.T) {
	resetData(t)
	s := newServices()
	ctx := context.Background()

	tests, err := s.diagnostics.ListTests(ctx)
	if err != nil {
		t.Fatalf("list tests: %v", err)
	}
	if len(tests) != 5 {
		t.Fatalf("expected the seeded catalogue of 5 tests, got %d", len(tests))
	}
	var ecg *diagnostics.Test
	for _, tt := range tests {
		if tt.Name == "ECG" {
			ecg = tt
		}
	}
	if ecg == nil {
		t.Fatal("ECG missing from catalogue")
	}

	patient := createUser(t, auth.RolePatient, "Ada", "Lovelace")
	nurse := createUser(t, auth.RoleNurse, "Florence", "Nightingale")
	staff := createUser(t, auth.RoleAdministrativeStaff, "Front", "Desk")

	appt, err := s.diagnostics.Book(as(staff), diagnostics.BookInput{
		PatientID: patient.ID, TestID: ecg.ID, AssignedStaffID: nurse.ID,
		Date: nextMonday, Time: calendar.Clock(9, 30),
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	summary := "Sinus rhythm"
	if _, created, err := s.diagnostics.RecordResult(as(nurse), appt.ID, diagnostics.ResultInput{ResultSummary: &summary}); err != nil || !created {
		t.Fatalf("record result: created=%v err=%v", created, err)
	}
	url := "https://files.example.com/ecg.pdf"
	res, created, err := s.diagnostics.RecordResult(as(nurse), appt.ID, diagnostics.ResultInput{ReportURL: &url})
	if err != nil || created {
		t.Fatalf("update result: created=%v err=%v", created, err)
	}
	if res.ResultSummary != summary || res.ReportURL != url {
		t.Errorf("partial update lost a field: %+v", res)
	}

	items, total, err := s.diagnostics.PatientResults(as(patient), patient.ID, 10, 0)
	if err != nil {
		t.Fatalf("patient results: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected one result, got %d/%d", len(items), total)
	}
}

func TestReferral_StageFilter(t *testing.T) {
	resetData(t)
	ctx := context.Background()
	repo := referral.NewReferralRepoPG(globalPool)
	gp := createUser(t, auth.RoleGeneralPractitioner, "Gina", "Practitioner")
	cardio := createUser(t, auth.RoleCardiologist, "Grace", "Hopper")
	patient := createUser(t, auth.RolePatient, "Ada", "Lovelace")

	mk := func(status referral.Status) *referral.Referral {
		r := &referral.Referral{
			GPID: gp.ID, ReferredToID: cardio.ID,
			PatientFirstName: "Ada", PatientLastName: "Lovelace",
			Reason: "chest pain", Status: status,
		}
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("create referral: %v", err)
		}
		return r
	}
	mk(referral.StatusPending)
	mk(referral.StatusOngoing)
	linked := mk(referral.StatusOngoing)
	mk(referral.StatusRejected)

	linked.LinkedPatientID = &patient.ID
	if err := repo.Update(ctx, linked); err != nil {
		t.Fatalf("link: %v", err)
	}

	pending, total, err := repo.List(ctx, referral.Filter{ReferredToID: &cardio.ID, Stage: referral.StagePending}, 10, 0)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if total != 2 || len(pending) != 2 {
		t.Errorf("expected 2 pending (incl. unlinked ongoing), got %d/%d", len(pending), total)
	}

	ongoing, total, err := repo.List(ctx, referral.Filter{GPID: &gp.ID, Stage: referral.StageOngoing}, 10, 0)
	if err != nil {
		t.Fatalf("list ongoing: %v", err)
	}
	if total != 1 || len(ongoing) != 1 || ongoing[0].ID != linked.ID {
		t.Errorf("expected only the linked referral, got %d/%d", len(ongoing), total)
	}
	if ongoing[0].GPName != "Gina Practitioner" || ongoing[0].ReferredToName != "Grace Hopper" {
		t.Errorf("names not joined: %+v", ongoing[0])
	}

	all, total, err := repo.List(ctx, referral.Filter{}, 10, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Errorf("expected 4 referrals, got %d/%d", len(all), total)
	}
}

func TestReferral_SonographyReport(t *testing.T) {
	resetData(t)
	s := newServices()
	cardio := createUser(t, auth.RoleCardiologist, "Grace", "Hopper")
	sono := createUser(t, auth.RoleSonographer, "Sam", "Sound")
	patient := createUser(t, auth.RolePatient, "Ada", "Lovelace")

	ref, err := s.referral.ReferSonography(as(cardio), referral.SonographyInput{
		SonographerID: sono.ID, PatientID: patient.ID, Reason: "murmur",
	})
	if err != nil {
		t.Fatalf("refer: %v", err)
	}

	if _, err := s.referral.ReportFor(as(patient), ref.ID); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("expected not found before upload, got %v", err)
	}
	if _, err := s.referral.UploadReport(as(sono), ref.ID, referral.ReportInput{
		ReportURL: "https://files.example.com/echo.pdf", Notes: "normal LV function",
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	rep, err := s.referral.ReportFor(as(patient), ref.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if rep.ReportNotes != "normal LV function" || rep.CompletedAt == nil {
		t.Errorf("unexpected report: %+v", rep)
	}

	latest, err := s.referral.LatestSonography(as(sono))
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 1 || latest[0].Status != referral.SonographyCompleted {
		t.Errorf("unexpected latest: %+v", latest)
	}
}

func TestInbox_ReadState(t *testing.T) {
	resetData(t)
	s := newServices()
	ctx := context.Background()
	user := createUser(t, auth.RolePatient, "Ada", "Lovelace")

	for i := 0; i < 3; i++ {
		if err := s.inbox.Notify(ctx, inbox.Notice{
			UserID: user.ID, Type: inbox.TypeAppointmentCreated, Title: "t", Message: "m",
		}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	n, err := s.inbox.UnreadCount(ctx, user.ID)
	if err != nil || n != 3 {
		t.Fatalf("unread = %d, %v; want 3", n, err)
	}
	marked, err := s.inbox.MarkAllRead(ctx, user.ID)
	if err != nil || marked != 3 {
		t.Fatalf("marked = %d, %v; want 3", marked, err)
	}
	if n, _ := s.inbox.UnreadCount(ctx, user.ID); n != 0 {
		t.Errorf("expected no unread, got %d", n)
	}
}
