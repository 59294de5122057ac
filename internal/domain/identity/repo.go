package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetVerified(ctx context.Context, id uuid.UUID) error
	SetPassword(ctx context.Context, id uuid.UUID, hash string) error
}

type ProfileRepository interface {
	Upsert(ctx context.Context, p *Profile) error
	Get(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

// AccountRepository reads users joined with their profiles.
type AccountRepository interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)
	ListAccounts(ctx context.Context, f AccountFilter, limit, offset int) ([]*Account, int, error)
}
