package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPair is returned after a successful OTP verification.
type TokenPair struct {
	Access           string    `json:"access"`
	Refresh          string    `json:"refresh"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Subject is the identity a token is issued for.
type Subject struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}

// TokenIssuer signs HS256 access and refresh tokens.
type TokenIssuer struct {
	cfg        JWTConfig
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(cfg JWTConfig, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{cfg: cfg, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}
}

// Config returns the settings tokens are verified with.
func (t *TokenIssuer) Config() JWTConfig { return t.cfg }

func (t *TokenIssuer) sign(s Subject, typ string, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.UserID.String(),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:     s.Email,
		Roles:     []string{string(s.Role)},
		TokenType: typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

// Issue returns a fresh access/refresh pair for s.
func (t *TokenIssuer) Issue(s Subject) (*TokenPair, error) {
	access, accessExp, err := t.sign(s, TokenTypeAccess, t.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := t.sign(s, TokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		Access:           access,
		Refresh:          refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess returns only an access token, used by the refresh endpoint.
func (t *TokenIssuer) IssueAccess(s Subject) (string, time.Time, error) {
	return t.sign(s, TokenTypeAccess, t.accessTTL)
}

// ParseRefresh validates a refresh token and returns its claims.
func (t *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return parseToken(t.cfg, token, TokenTypeRefresh)
}

// ParseAccess validates an access token and returns its claims.
func (t *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return parseToken(t.cfg, token, TokenTypeAccess)
}
