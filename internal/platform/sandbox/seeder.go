package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Catalog writes reference data. Ensure methods report created=false when
// the entry already exists.
type Catalog interface {
	EnsureMedication(ctx context.Context, d MedicationDef) (id uuid.UUID, created bool, err error)
	EnsureInteraction(ctx context.Context, med1, med2 uuid.UUID, d InteractionDef) (created bool, err error)
}

// Patients registers demo patients.
type Patients interface {
	EnsurePatient(ctx context.Context, p SyntheticPatient) (created bool, err error)
}

// SeedConfig controls a seed run.
type SeedConfig struct {
	PatientCount int
	Seed         int64
}

// SeedResult summarizes a seed run.
type SeedResult struct {
	MedicationsCreated  int           `json:"medications_created"`
	MedicationsExisting int           `json:"medications_existing"`
	InteractionsCreated int           `json:"interactions_created"`
	InteractionsSkipped int           `json:"interactions_skipped"`
	PatientsCreated     int           `json:"patients_created"`
	PatientsSkipped     int           `json:"patients_skipped"`
	Duration            time.Duration `json:"duration"`
}

// Seeder loads the reference catalogue and optional demo patients. Runs are
// idempotent.
type Seeder struct {
	catalog  Catalog
	patients Patients
	logger   zerolog.Logger
}

// NewSeeder returns a seeder. patients may be nil when no demo patients are
// wanted.
func NewSeeder(catalog Catalog, patients Patients, logger zerolog.Logger) *Seeder {
	return &Seeder{catalog: catalog, patients: patients, logger: logger}
}

// Run seeds the medication catalogue, its interactions and cfg.PatientCount
// demo patients.
func (s *Seeder) Run(ctx context.Context, cfg SeedConfig) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}

	ids := make(map[string]uuid.UUID, len(medications))
	for _, d := range medications {
		id, created, err := s.catalog.EnsureMedication(ctx, d)
		if err != nil {
			return result, fmt.Errorf("seed medication %s: %w", d.Code, err)
		}
		ids[d.Code] = id
		if created {
			result.MedicationsCreated++
		} else {
			result.MedicationsExisting++
		}
	}

	for _, d := range interactions {
		a, okA := ids[d.Code1]
		b, okB := ids[d.Code2]
		if !okA || !okB {
			return result, fmt.Errorf("seed interaction %s/%s: unknown medication code", d.Code1, d.Code2)
		}
		created, err := s.catalog.EnsureInteraction(ctx, a, b, d)
		if err != nil {
			return result, fmt.Errorf("seed interaction %s/%s: %w", d.Code1, d.Code2, err)
		}
		if created {
			result.InteractionsCreated++
		} else {
			result.InteractionsSkipped++
		}
	}

	if s.patients != nil && cfg.PatientCount > 0 {
		seed := cfg.Seed
		if seed == 0 {
			seed = 1
		}
		gen := NewDataGenerator(seed)
		for i := 0; i < cfg.PatientCount; i++ {
			p := gen.GeneratePatient()
			created, err := s.patients.EnsurePatient(ctx, p)
			if err != nil {
				return result, fmt.Errorf("seed patient %s: %w", p.Email, err)
			}
			if created {
				result.PatientsCreated++
			} else {
				result.PatientsSkipped++
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("medications_created", result.MedicationsCreated).
		Int("interactions_created", result.InteractionsCreated).
		Int("patients_created", result.PatientsCreated).
		Dur("duration", result.Duration).
		Msg("seed complete")
	return result, nil
}
