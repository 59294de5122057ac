package referral

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartflow/clinic/internal/platform/db"
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

// =========== Patient Referral Repository ===========

type referralRepoPG struct{ pool *pgxpool.Pool }

func NewReferralRepoPG(pool *pgxpool.Pool) ReferralRepository {
	return &referralRepoPG{pool: pool}
}

const referralCols = `r.id, r.gp_id, TRIM(g.first_name || ' ' || g.last_name),
	r.referred_to_id, TRIM(c.first_name || ' ' || c.last_name),
	r.patient_first_name, r.patient_last_name, r.patient_email, r.patient_phone,
	r.reason, r.summary, r.doctor_notes, r.status, r.linked_patient_id, r.created_at, r.updated_at`

const referralFrom = ` FROM patient_referral r
	JOIN users g ON g.id = r.gp_id
	JOIN users c ON c.id = r.referred_to_id`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(&r.ID, &r.GPID, &r.GPName, &r.ReferredToID, &r.ReferredToName,
		&r.PatientFirstName, &r.PatientLastName, &r.PatientEmail, &r.PatientPhone,
		&r.Reason, &r.Summary, &r.DoctorNotes, &r.Status, &r.LinkedPatientID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (repo *referralRepoPG) Create(ctx context.Context, r *Referral) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return connFor(ctx, repo.pool).QueryRow(ctx, `
		INSERT INTO patient_referral (id, gp_id, referred_to_id, patient_first_name, patient_last_name,
			patient_email, patient_phone, reason, summary, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		r.ID, r.GPID, r.ReferredToID, r.PatientFirstName, r.PatientLastName,
		r.PatientEmail, r.PatientPhone, r.Reason, r.Summary, string(r.Status),
	).Scan(&r.CreatedAt, &r.UpdatedAt)
}

func (repo *referralRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	return scanReferral(connFor(ctx, repo.pool).QueryRow(ctx, `SELECT `+referralCols+referralFrom+` WHERE r.id = $1`, id))
}

func (repo *referralRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.GPID != nil {
		where += fmt.Sprintf(` AND r.gp_id = $%d`, idx)
		args = append(args, *f.GPID)
		idx++
	}
	if f.ReferredToID != nil {
		where += fmt.Sprintf(` AND r.referred_to_id = $%d`, idx)
		args = append(args, *f.ReferredToID)
		idx++
	}
	switch f.Stage {
	case StagePending:
		where += ` AND (r.status = 'Pending' OR (r.status = 'Ongoing' AND r.linked_patient_id IS NULL))`
	case StageOngoing:
		where += ` AND r.status = 'Ongoing' AND r.linked_patient_id IS NOT NULL`
	}

	var total int
	if err := connFor(ctx, repo.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient_referral r`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + referralCols + referralFrom + where +
		fmt.Sprintf(` ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, repo.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (repo *referralRepoPG) Update(ctx context.Context, r *Referral) error {
	return affectedOne(connFor(ctx, repo.pool).Exec(ctx, `
		UPDATE patient_referral
		SET doctor_notes = $2, status = $3, linked_patient_id = $4, updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.DoctorNotes, string(r.Status), r.LinkedPatientID))
}

// =========== Sonography Referral Repository ===========

type sonographyRepoPG struct{ pool *pgxpool.Pool }

func NewSonographyRepoPG(pool *pgxpool.Pool) SonographyRepository {
	return &sonographyRepoPG{pool: pool}
}

const sonoCols = `s.id, s.doctor_id, TRIM(d.first_name || ' ' || d.last_name),
	s.sonographer_id, TRIM(o.first_name || ' ' || o.last_name),
	s.patient_id, TRIM(p.first_name || ' ' || p.last_name),
	s.appointment_id, s.reason, s.status, s.report_url, s.report_notes, s.created_at, s.completed_at`

const sonoFrom = ` FROM sonography_referral s
	JOIN users d ON d.id = s.doctor_id
	JOIN users o ON o.id = s.sonographer_id
	JOIN users p ON p.id = s.patient_id`

func scanSonography(row pgx.Row) (*SonographyReferral, error) {
	var s SonographyReferral
	err := row.Scan(&s.ID, &s.DoctorID, &s.DoctorName, &s.SonographerID, &s.SonographerName,
		&s.PatientID, &s.PatientName, &s.AppointmentID, &s.Reason, &s.Status,
		&s.ReportURL, &s.ReportNotes, &s.CreatedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (repo *sonographyRepoPG) Create(ctx context.Context, s *SonographyReferral) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return connFor(ctx, repo.pool).QueryRow(ctx, `
		INSERT INTO sonography_referral (id, doctor_id, sonographer_id, patient_id, appointment_id, reason, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		s.ID, s.DoctorID, s.SonographerID, s.PatientID, s.AppointmentID, s.Reason, string(s.Status),
	).Scan(&s.CreatedAt)
}

func (repo *sonographyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SonographyReferral, error) {
	return scanSonography(connFor(ctx, repo.pool).QueryRow(ctx, `SELECT `+sonoCols+sonoFrom+` WHERE s.id = $1`, id))
}

func (repo *sonographyRepoPG) List(ctx context.Context, f SonographyFilter, limit, offset int) ([]*SonographyReferral, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND s.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.SonographerID != nil {
		where += fmt.Sprintf(` AND s.sonographer_id = $%d`, idx)
		args = append(args, *f.SonographerID)
		idx++
	}

	var total int
	if err := connFor(ctx, repo.pool).QueryRow(ctx, `SELECT COUNT(*) FROM sonography_referral s`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + sonoCols + sonoFrom + where +
		fmt.Sprintf(` ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := connFor(ctx, repo.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SonographyReferral
	for rows.Next() {
		s, err := scanSonography(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (repo *sonographyRepoPG) SaveReport(ctx context.Context, s *SonographyReferral) error {
	return affectedOne(connFor(ctx, repo.pool).Exec(ctx, `
		UPDATE sonography_referral
		SET report_url = $2, report_notes = $3, status = $4, completed_at = $5
		WHERE id = $1`,
		s.ID, s.ReportURL, s.ReportNotes, string(s.Status), s.CompletedAt))
}
