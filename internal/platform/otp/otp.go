// Package otp issues and verifies single-use email verification codes.
//
// Each challenge gets its own TOTP secret. The secret lives in a Store for
// the code's lifetime and is deleted on first successful verification, so a
// code can be redeemed once.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/heartflow/clinic/internal/platform/clock"
)

// Purpose scopes a code so a login code cannot reset a password.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
)

var (
	ErrNoChallenge = errors.New("no active verification code")
	ErrInvalidCode = errors.New("invalid verification code")
)

// Generator creates TOTP secrets and codes.
type Generator struct {
	issuer string
	opts   totp.ValidateOpts
}

// NewGenerator returns a six digit SHA1 generator whose period is ttl.
func NewGenerator(issuer string, ttl time.Duration) *Generator {
	period := uint(ttl / time.Second)
	if period == 0 {
		period = 30
	}
	return &Generator{
		issuer: issuer,
		opts: totp.ValidateOpts{
			Period:    period,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// NewSecret returns a fresh base32 secret bound to account.
func (g *Generator) NewSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: account,
		Period:      g.opts.Period,
		Digits:      g.opts.Digits,
		Algorithm:   g.opts.Algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return key.Secret(), nil
}

func (g *Generator) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, g.opts)
}

func (g *Generator) Validate(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, g.opts)
	return err == nil && ok
}

// Service ties a Generator to a Store.
type Service struct {
	gen   *Generator
	store Store
	ttl   time.Duration
	clock clock.Clock
}

func NewService(gen *Generator, store Store, ttl time.Duration, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{gen: gen, store: store, ttl: ttl, clock: clk}
}

// TTL is how long an issued code stays valid.
func (s *Service) TTL() time.Duration { return s.ttl }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Issue starts a new challenge for email, replacing any earlier one, and
// returns the code to deliver.
func (s *Service) Issue(ctx context.Context, purpose Purpose, email string) (string, error) {
	email = normalizeEmail(email)
	secret, err := s.gen.NewSecret(email)
	if err != nil {
		return "", err
	}
	code, err := s.gen.Code(secret, s.clock.Now())
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	if err := s.store.Put(ctx, purpose, email, secret, s.ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Pending reports whether a live challenge exists for email.
func (s *Service) Pending(ctx context.Context, purpose Purpose, email string) (bool, error) {
	_, err := s.store.Get(ctx, purpose, normalizeEmail(email))
	if errors.Is(err, ErrNoChallenge) {
		return false, nil
	}
	return err == nil, err
}

// Verify checks code against the active challenge and consumes it.
func (s *Service) Verify(ctx context.Context, purpose Purpose, email, code string) error {
	email = normalizeEmail(email)
	secret, err := s.store.Get(ctx, purpose, email)
	if err != nil {
		return err
	}
	if !s.gen.Validate(strings.TrimSpace(code), secret, s.clock.Now()) {
		return ErrInvalidCode
	}
	return s.store.Delete(ctx, purpose, email)
}
