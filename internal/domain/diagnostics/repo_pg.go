package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/pkg/calendar"
)

func connFor(ctx context.Context, pool *pgxpool.Pool) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func affectedOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =========== Test Repository ===========

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) List(ctx context.Context) ([]*Test, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT id, name, description FROM diagnostic_test ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		var t Test
		if err := rows.Scan(&t.ID, &t.Name, &t.Description); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	var t Test
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, description FROM diagnostic_test WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Description)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `a.id, a.patient_id, TRIM(p.first_name || ' ' || p.last_name), a.test_id, t.name,
	a.booked_by, a.assigned_staff_id, COALESCE(TRIM(s.first_name || ' ' || s.last_name), ''),
	a.date, a.time, a.status, a.notes, a.created_at, a.updated_at,
	r.id, r.result_summary, r.report_url, r.recorded_by, r.recorded_at, r.updated_at`

const apptFrom = ` FROM diagnostic_appointment a
	JOIN users p ON p.id = a.patient_id
	JOIN diagnostic_test t ON t.id = a.test_id
	LEFT JOIN users s ON s.id = a.assigned_staff_id
	LEFT JOIN diagnostic_result r ON r.appointment_id = a.id`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date pgtype.Date
	var at pgtype.Time
	var (
		resID, recBy    *uuid.UUID
		summary, report *string
		recAt, updAt    *time.Time
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.TestID, &a.TestName,
		&a.BookedBy, &a.AssignedStaffID, &a.AssignedStaffName,
		&date, &at, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt,
		&resID, &summary, &report, &recBy, &recAt, &updAt)
	if err != nil {
		return nil, err
	}
	a.Date = calendar.DateFromPG(date)
	a.Time = calendar.TimeOfDayFromPG(at)
	if resID != nil {
		a.Result = &Result{
			ID:            *resID,
			AppointmentID: a.ID,
			ResultSummary: *summary,
			ReportURL:     *report,
			RecordedBy:    *recBy,
			RecordedAt:    *recAt,
			UpdatedAt:     *updAt,
		}
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnostic_appointment (id, patient_id, test_id, booked_by, assigned_staff_id, date, time, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.TestID, a.BookedBy, a.AssignedStaffID,
		a.Date.PG(), a.Time.PG(), string(a.Status), a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return affectedOne(connFor(ctx, r.pool).Exec(ctx,
		`UPDATE diagnostic_appointment SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status)))
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.StaffID != nil {
		where += fmt.Sprintf(` AND a.assigned_staff_id = $%d`, idx)
		args = append(args, *f.StaffID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND a.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND a.date = $%d`, idx)
		args = append(args, f.Date.PG())
		idx++
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		where += fmt.Sprintf(` AND a.status = ANY($%d)`, idx)
		args = append(args, statuses)
		idx++
	}
	if f.WithResult {
		where += ` AND r.id IS NOT NULL`
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM diagnostic_appointment a LEFT JOIN diagnostic_result r ON r.appointment_id = a.id` + where
	if err := connFor(ctx, r.pool).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY a.date DESC, a.time DESC`
	if f.Ascending {
		order = ` ORDER BY a.date, a.time`
	}
	query := `SELECT ` + apptCols + apptFrom + where + order + fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) Summarize(ctx context.Context, staffID uuid.UUID, today calendar.Date) (*Summary, error) {
	var s Summary
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'Completed'),
			COUNT(*) FILTER (WHERE status = 'Scheduled'),
			COUNT(*) FILTER (WHERE date = $2 AND status <> 'Cancelled')
		FROM diagnostic_appointment
		WHERE assigned_staff_id = $1`, staffID, today.PG(),
	).Scan(&s.Total, &s.Completed, &s.Pending, &s.Today)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Result, error) {
	var res Result
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, result_summary, report_url, recorded_by, recorded_at, updated_at
		FROM diagnostic_result WHERE appointment_id = $1
		FOR UPDATE`, appointmentID,
	).Scan(&res.ID, &res.AppointmentID, &res.ResultSummary, &res.ReportURL, &res.RecordedBy, &res.RecordedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO diagnostic_result (id, appointment_id, result_summary, report_url, recorded_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING recorded_at, updated_at`,
		res.ID, res.AppointmentID, res.ResultSummary, res.ReportURL, res.RecordedBy,
	).Scan(&res.RecordedAt, &res.UpdatedAt)
}

func (r *resultRepoPG) Update(ctx context.Context, res *Result) error {
	return connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE diagnostic_result SET result_summary = $2, report_url = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		res.ID, res.ResultSummary, res.ReportURL,
	).Scan(&res.UpdatedAt)
}
