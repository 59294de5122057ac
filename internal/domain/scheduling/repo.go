package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/heartflow/clinic/pkg/calendar"
)

type AvailabilityRepository interface {
	Create(ctx context.Context, a *Availability) error
	GetByID(ctx context.Context, id uuid.UUID) (*Availability, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListForDay(ctx context.Context, doctorID uuid.UUID, day string) ([]*Availability, error)
	List(ctx context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error)
}

type LeaveRepository interface {
	Create(ctx context.Context, l *Leave) error
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, doctorID uuid.UUID, date calendar.Date) (bool, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from calendar.Date) ([]*Leave, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a only if the row is unchanged since a was read, judged by
	// UpdatedAt. A stale a yields pgx.ErrNoRows.
	Update(ctx context.Context, a *Appointment) error
	// SlotTaken reports whether another Scheduled appointment holds the slot.
	SlotTaken(ctx context.Context, doctorID uuid.UUID, date calendar.Date, t calendar.TimeOfDay, exclude uuid.UUID) (bool, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// MarkCompleted moves the given Scheduled appointments to Completed.
	MarkCompleted(ctx context.Context, ids []uuid.UUID) (int64, error)
	// CompleteElapsed moves every Scheduled appointment in scope that started
	// before now to Completed. A nil ID leaves that side of the scope open.
	CompleteElapsed(ctx context.Context, scope AppointmentScope, now time.Time) (int64, error)
	// CancelScheduled cancels the appointment only while it is still
	// Scheduled. It reports false when no row changed.
	CancelScheduled(ctx context.Context, id uuid.UUID) (bool, error)
	CountPatients(ctx context.Context, doctorID uuid.UUID) (int, error)
	// RecentPatients lists distinct patients whose appointment with the
	// doctor started before now and was not cancelled, latest visit first.
	RecentPatients(ctx context.Context, doctorID uuid.UUID, now time.Time, n int) ([]*RecentPatient, error)
}
