package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	UserEmailKey contextKey = "user_email"
	TokenIDKey   contextKey = "token_id"
	TokenExpKey  contextKey = "token_exp"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"typ"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Revocations is consulted for every token when set.
	Revocations RevocationChecker
}

// parseToken validates signature, issuer and expiry and checks the token type.
func parseToken(cfg JWTConfig, tokenStr, wantType string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("expected %s token, got %q", wantType, claims.TokenType)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return claims, nil
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a WebSocket handshake, so upgrades may pass the token as ?access_token=.
func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" && isWebSocketUpgrade(c.Request()) {
		if tok := strings.TrimSpace(c.QueryParam("access_token")); tok != "" {
			return tok, nil
		}
	}
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func authenticate(cfg JWTConfig, c echo.Context) error {
	tokenStr, err := bearerToken(c)
	if err != nil {
		return err
	}

	claims, err := parseToken(cfg, tokenStr, TokenTypeAccess)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	ctx := c.Request().Context()
	if cfg.Revocations != nil && claims.ID != "" {
		revoked, err := cfg.Revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "token check unavailable").SetInternal(err)
		}
		if revoked {
			return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
		}
	}

	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)
	ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
	ctx = context.WithValue(ctx, TokenIDKey, claims.ID)
	if claims.ExpiresAt != nil {
		ctx = context.WithValue(ctx, TokenExpKey, claims.ExpiresAt.Time)
	}
	c.SetRequest(c.Request().WithContext(ctx))
	return nil
}

// JWTMiddleware requires a valid access token on every request.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := authenticate(cfg, c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// DevUserID is the identity given to unauthenticated requests in development.
var DevUserID = uuid.MustParse("00000000-0000-0000-0000-00000000d3e0")

// DevAuthMiddleware validates a bearer token when one is sent; otherwise the
// request runs as an admin with DevUserID.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				if err := authenticate(cfg, c); err != nil {
					return err
				}
				return next(c)
			}
			ctx := c.Request().Context()
			ctx = context.WithValue(ctx, UserIDKey, DevUserID.String())
			ctx = context.WithValue(ctx, UserRolesKey, []string{string(RoleAdmin)})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// UserUUIDFromContext parses the authenticated subject.
func UserUUIDFromContext(ctx context.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, fmt.Errorf("no authenticated user")
	}
	return id, nil
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func TokenIDFromContext(ctx context.Context) string {
	jti, _ := ctx.Value(TokenIDKey).(string)
	return jti
}

// TokenExpiryFromContext returns when the caller's access token expires.
func TokenExpiryFromContext(ctx context.Context) time.Time {
	exp, _ := ctx.Value(TokenExpKey).(time.Time)
	return exp
}

// WithIdentity returns ctx carrying an authenticated identity. Services and
// tests use it to act as a given user without a token.
func WithIdentity(ctx context.Context, userID uuid.UUID, roles ...Role) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID.String())
	return context.WithValue(ctx, UserRolesKey, Roles(roles...))
}
