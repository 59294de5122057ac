package diagnostics

import (
	"context"

	"github.com/google/uuid"

	"github.com/heartflow/clinic/pkg/calendar"
)

type TestRepository interface {
	List(ctx context.Context) ([]*Test, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	Summarize(ctx context.Context, staffID uuid.UUID, today calendar.Date) (*Summary, error)
}

type ResultRepository interface {
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Result, error)
	Create(ctx context.Context, r *Result) error
	Update(ctx context.Context, r *Result) error
}
