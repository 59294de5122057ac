package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, email, password_hash, first_name, last_name, role, phone,
	is_verified, is_active, created_at, updated_at`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.Phone,
		&u.IsVerified, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, first_name, last_name, role, phone, is_verified, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role, u.Phone, u.IsVerified, u.IsActive,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET first_name=$2, last_name=$3, phone=$4, is_active=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.FirstName, u.LastName, u.Phone, u.IsActive,
	).Scan(&u.UpdatedAt)
}

func (r *userRepoPG) SetVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET is_verified = TRUE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *userRepoPG) SetPassword(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	return err
}

// =========== Profile Repository ===========

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepoPG(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *profileRepoPG) Upsert(ctx context.Context, p *Profile) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO user_profile (user_id, unique_id, details)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
			SET details = EXCLUDED.details,
				unique_id = COALESCE(user_profile.unique_id, EXCLUDED.unique_id),
				updated_at = NOW()
		RETURNING unique_id, updated_at`,
		p.UserID, p.UniqueID, []byte(p.Details),
	).Scan(&p.UniqueID, &p.UpdatedAt)
}

func (r *profileRepoPG) Get(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	var p Profile
	var details []byte
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT user_id, unique_id, details, updated_at FROM user_profile WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.UniqueID, &details, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Details = details
	return &p, nil
}

// =========== Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const accountCols = `u.id, u.email, u.password_hash, u.first_name, u.last_name, u.role, u.phone,
	u.is_verified, u.is_active, u.created_at, u.updated_at,
	COALESCE(p.unique_id, ''), COALESCE(p.details, '{}'::jsonb)`

const accountFrom = ` FROM users u LEFT JOIN user_profile p ON p.user_id = u.id`

func (r *accountRepoPG) scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var details []byte
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Role, &a.Phone,
		&a.IsVerified, &a.IsActive, &a.CreatedAt, &a.UpdatedAt, &a.UniqueID, &details)
	a.Profile = details
	return &a, err
}

func (r *accountRepoPG) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+accountFrom+` WHERE u.id = $1`, id))
}

func (r *accountRepoPG) ListAccounts(ctx context.Context, f AccountFilter, limit, offset int) ([]*Account, int, error) {
	where := ` WHERE u.is_active`
	var args []interface{}
	idx := 1

	if len(f.Roles) > 0 {
		where += fmt.Sprintf(` AND u.role = ANY($%d)`, idx)
		args = append(args, auth.Roles(f.Roles...))
		idx++
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		where += fmt.Sprintf(` AND (
			lower(u.first_name || ' ' || u.last_name) LIKE $%d
			OR lower(u.email) LIKE $%d
			OR lower(COALESCE(p.unique_id, '')) = $%d
			OR lower(COALESCE(p.details->>'specialization', '')) LIKE $%d)`, idx, idx, idx+1, idx)
		args = append(args, "%"+strings.ToLower(q)+"%", strings.ToLower(q))
		idx += 2
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+accountFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + accountCols + accountFrom + where +
		fmt.Sprintf(` ORDER BY u.first_name, u.last_name, u.id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
