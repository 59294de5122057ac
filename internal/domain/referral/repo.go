package referral

import (
	"context"

	"github.com/google/uuid"
)

type ReferralRepository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error)
	Update(ctx context.Context, r *Referral) error
}

type SonographyRepository interface {
	Create(ctx context.Context, s *SonographyReferral) error
	GetByID(ctx context.Context, id uuid.UUID) (*SonographyReferral, error)
	List(ctx context.Context, f SonographyFilter, limit, offset int) ([]*SonographyReferral, int, error)
	SaveReport(ctx context.Context, s *SonographyReferral) error
}
