package medication

import (
	"context"

	"github.com/google/uuid"
)

type MedicationRepository interface {
	Create(ctx context.Context, m *Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medication, error)
	// GetMany returns the medications among ids that exist.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Medication, error)
	Search(ctx context.Context, q string, limit, offset int) ([]*Medication, int, error)
}

type InteractionRepository interface {
	Create(ctx context.Context, in *Interaction) error
	List(ctx context.Context, limit, offset int) ([]*Interaction, int, error)
	// Among returns the interactions whose two medications are both in ids.
	Among(ctx context.Context, ids []uuid.UUID) ([]*Interaction, error)
}

type PrescriptionRepository interface {
	// Create stores the header and its items.
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error)
}
