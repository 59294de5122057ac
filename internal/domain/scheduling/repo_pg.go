package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartflow/clinic/internal/platform/db"
	"github.com/heartflow/clinic/pkg/calendar"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// affectedOne turns a command that touched no rows into pgx.ErrNoRows.
func affectedOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const availCols = `a.id, a.doctor_id, TRIM(u.first_name || ' ' || u.last_name), a.day_of_week,
	a.start_time, a.end_time, a.created_at`

const availFrom = ` FROM doctor_availability a JOIN users u ON u.id = a.doctor_id`

func (r *availabilityRepoPG) scan(row pgx.Row) (*Availability, error) {
	var a Availability
	var start, end pgtype.Time
	if err := row.Scan(&a.ID, &a.DoctorID, &a.DoctorName, &a.DayOfWeek, &start, &end, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.StartTime = calendar.TimeOfDayFromPG(start)
	a.EndTime = calendar.TimeOfDayFromPG(end)
	return &a, nil
}

func (r *availabilityRepoPG) Create(ctx context.Context, a *Availability) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_availability (id, doctor_id, day_of_week, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		a.ID, a.DoctorID, a.DayOfWeek, a.StartTime.PG(), a.EndTime.PG(),
	).Scan(&a.CreatedAt)
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Availability, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+availCols+availFrom+` WHERE a.id = $1`, id))
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affectedOne(r.conn(ctx).Exec(ctx, `DELETE FROM doctor_availability WHERE id = $1`, id))
}

func (r *availabilityRepoPG) ListForDay(ctx context.Context, doctorID uuid.UUID, day string) ([]*Availability, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+availCols+availFrom+`
		WHERE a.doctor_id = $1 AND a.day_of_week = $2 ORDER BY a.start_time`, doctorID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Availability
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *availabilityRepoPG) List(ctx context.Context, f AvailabilityFilter, limit, offset int) ([]*Availability, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND a.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if name := strings.TrimSpace(f.DoctorName); name != "" {
		where += fmt.Sprintf(` AND (u.first_name || ' ' || u.last_name) ILIKE $%d`, idx)
		args = append(args, "%"+name+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+availFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + availCols + availFrom + where + fmt.Sprintf(`
		ORDER BY u.last_name, u.first_name,
			array_position(ARRAY['Monday','Tuesday','Wednesday','Thursday','Friday','Saturday','Sunday'], a.day_of_week),
			a.start_time
		LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Availability
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Leave Repository ===========

type leaveRepoPG struct{ pool *pgxpool.Pool }

func NewLeaveRepoPG(pool *pgxpool.Pool) LeaveRepository {
	return &leaveRepoPG{pool: pool}
}

func (r *leaveRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *leaveRepoPG) Create(ctx context.Context, l *Leave) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_leave (id, doctor_id, date, reason)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at`,
		l.ID, l.DoctorID, l.Date.PG(), l.Reason,
	).Scan(&l.CreatedAt)
}

func (r *leaveRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return affectedOne(r.conn(ctx).Exec(ctx, `DELETE FROM doctor_leave WHERE id = $1`, id))
}

func (r *leaveRepoPG) Exists(ctx context.Context, doctorID uuid.UUID, date calendar.Date) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM doctor_leave WHERE doctor_id = $1 AND date = $2)`,
		doctorID, date.PG()).Scan(&ok)
	return ok, err
}

func (r *leaveRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from calendar.Date) ([]*Leave, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, date, reason, created_at FROM doctor_leave
		WHERE doctor_id = $1 AND date >= $2 ORDER BY date`, doctorID, from.PG())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Leave
	for rows.Next() {
		var l Leave
		var d pgtype.Date
		if err := rows.Scan(&l.ID, &l.DoctorID, &d, &l.Reason, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Date = calendar.DateFromPG(d)
		items = append(items, &l)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const apptCols = `a.id, a.patient_id, TRIM(p.first_name || ' ' || p.last_name),
	a.doctor_id, TRIM(d.first_name || ' ' || d.last_name),
	a.date, a.time, a.status, a.notes, a.created_at, a.updated_at`

const apptFrom = ` FROM appointment a
	JOIN users p ON p.id = a.patient_id
	JOIN users d ON d.id = a.doctor_id`

func (r *appointmentRepoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date pgtype.Date
	var tod pgtype.Time
	if err := row.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName,
		&date, &tod, &a.Status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Date = calendar.DateFromPG(date)
	a.Time = calendar.TimeOfDayFromPG(tod)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, date, time, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date.PG(), a.Time.PG(), a.Status, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+apptFrom+` WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET date = $2, time = $3, status = $4, notes = $5, updated_at = NOW()
		WHERE id = $1 AND updated_at = $6
		RETURNING updated_at`,
		a.ID, a.Date.PG(), a.Time.PG(), a.Status, a.Notes, a.UpdatedAt,
	).Scan(&a.UpdatedAt)
}

func (r *appointmentRepoPG) SlotTaken(ctx context.Context, doctorID uuid.UUID, date calendar.Date, t calendar.TimeOfDay, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status = 'Scheduled' AND id <> $4
		)`, doctorID, date.PG(), t.PG(), exclude).Scan(&taken)
	return taken, err
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND a.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND a.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
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
	if f.ExcludeCancelled {
		where += ` AND a.status <> 'Cancelled'`
	}
	if f.Date != nil {
		where += fmt.Sprintf(` AND a.date = $%d`, idx)
		args = append(args, f.Date.PG())
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(` AND a.date >= $%d`, idx)
		args = append(args, f.From.PG())
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY a.date DESC, a.time DESC`
	if f.Ascending {
		order = ` ORDER BY a.date, a.time`
	}
	query := `SELECT ` + apptCols + apptFrom + where + order + fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) MarkCompleted(ctx context.Context, ids []uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = 'Completed', updated_at = NOW()
		WHERE id = ANY($1) AND status = 'Scheduled'`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *appointmentRepoPG) CompleteElapsed(ctx context.Context, scope AppointmentScope, now time.Time) (int64, error) {
	query := `
		UPDATE appointment SET status = 'Completed', updated_at = NOW()
		WHERE status = 'Scheduled' AND (date, time) < ($1::date, $2::time)`
	args := []interface{}{calendar.DateOf(now).PG(), calendar.TimeOfDayOf(now).PG()}
	if scope.DoctorID != nil {
		args = append(args, *scope.DoctorID)
		query += fmt.Sprintf(` AND doctor_id = $%d`, len(args))
	}
	if scope.PatientID != nil {
		args = append(args, *scope.PatientID)
		query += fmt.Sprintf(` AND patient_id = $%d`, len(args))
	}
	tag, err := r.conn(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *appointmentRepoPG) CancelScheduled(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET status = 'Cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'Scheduled'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) CountPatients(ctx context.Context, doctorID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(DISTINCT patient_id) FROM appointment
		WHERE doctor_id = $1 AND status <> 'Cancelled'`, doctorID).Scan(&n)
	return n, err
}

func (r *appointmentRepoPG) RecentPatients(ctx context.Context, doctorID uuid.UUID, now time.Time, n int) ([]*RecentPatient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, name, email, date, time FROM (
			SELECT DISTINCT ON (a.patient_id)
				a.patient_id, TRIM(p.first_name || ' ' || p.last_name) AS name, p.email, a.date, a.time
			FROM appointment a JOIN users p ON p.id = a.patient_id
			WHERE a.doctor_id = $1 AND a.status <> 'Cancelled' AND (a.date, a.time) < ($2::date, $3::time)
			ORDER BY a.patient_id, a.date DESC, a.time DESC
		) latest
		ORDER BY date DESC, time DESC
		LIMIT $4`,
		doctorID, calendar.DateOf(now).PG(), calendar.TimeOfDayOf(now).PG(), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*RecentPatient
	for rows.Next() {
		var rp RecentPatient
		var d pgtype.Date
		var t pgtype.Time
		if err := rows.Scan(&rp.PatientID, &rp.Name, &rp.Email, &d, &t); err != nil {
			return nil, err
		}
		rp.LastDate = calendar.DateFromPG(d)
		rp.LastTime = calendar.TimeOfDayFromPG(t)
		items = append(items, &rp)
	}
	return items, rows.Err()
}
