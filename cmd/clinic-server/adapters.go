package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/domain/medication"
	"github.com/heartflow/clinic/internal/platform/apperror"
	"github.com/heartflow/clinic/internal/platform/sandbox"
)

type medicationService interface {
	CreateMedication(ctx context.Context, in medication.MedicationInput) (*medication.Medication, error)
	SearchMedications(ctx context.Context, q string, limit, offset int) ([]*medication.Medication, int, error)
	CreateInteraction(ctx context.Context, in medication.InteractionInput) (*medication.Interaction, error)
}

// medicationCatalog implements sandbox.Catalog on the medication service.
// Conflicts mean the entry is already present.
type medicationCatalog struct {
	svc medicationService
}

func (c medicationCatalog) EnsureMedication(ctx context.Context, d sandbox.MedicationDef) (uuid.UUID, bool, error) {
	m, err := c.svc.CreateMedication(ctx, medication.MedicationInput{
		Name:        d.Name,
		Code:        d.Code,
		Description: d.Description,
	})
	if err == nil {
		return m.ID, true, nil
	}
	if !apperror.Is(err, apperror.KindConflict) {
		return uuid.Nil, false, err
	}

	items, _, err := c.svc.SearchMedications(ctx, d.Code, 50, 0)
	if err != nil {
		return uuid.Nil, false, err
	}
	for _, m := range items {
		if strings.EqualFold(m.Code, d.Code) {
			return m.ID, false, nil
		}
	}
	return uuid.Nil, false, fmt.Errorf("medication %s reported as existing but not found", d.Code)
}

func (c medicationCatalog) EnsureInteraction(ctx context.Context, med1, med2 uuid.UUID, d sandbox.InteractionDef) (bool, error) {
	_, err := c.svc.CreateInteraction(ctx, medication.InteractionInput{
		Medication1ID: med1,
		Medication2ID: med2,
		Severity:      d.Severity,
		Description:   d.Description,
	})
	if apperror.Is(err, apperror.KindConflict) {
		return false, nil
	}
	return err == nil, err
}

type patientRegistrar interface {
	AddPatient(ctx context.Context, in identity.RegisterInput) (*identity.Account, error)
}

// patientSeeder implements sandbox.Patients through the staff add-patient
// path, so demo patients are verified and get a patient number.
type patientSeeder struct {
	svc patientRegistrar
}

func (p patientSeeder) EnsurePatient(ctx context.Context, sp sandbox.SyntheticPatient) (bool, error) {
	profile, err := json.Marshal(identity.PatientDetails{
		DateOfBirth:    sp.DateOfBirth,
		Gender:         sp.Gender,
		Address:        sp.Address,
		Country:        sp.Country,
		MedicalHistory: sp.History,
	})
	if err != nil {
		return false, err
	}
	_, err = p.svc.AddPatient(ctx, identity.RegisterInput{
		Email:     sp.Email,
		FirstName: sp.FirstName,
		LastName:  sp.LastName,
		Role:      "patient",
		Phone:     sp.Phone,
		Profile:   profile,
	})
	if apperror.Is(err, apperror.KindConflict) {
		return false, nil
	}
	return err == nil, err
}
