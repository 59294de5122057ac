package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func testJWTConfig() JWTConfig {
	return JWTConfig{Issuer: "heartflow-test", SigningKey: testSigningKey}
}

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub uuid.UUID, typ string) Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   sub.String(),
			Issuer:    "heartflow-test",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:     "doc@example.com",
		Roles:     []string{"cardiologist"},
		TokenType: typ,
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (error, context.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen context.Context
	err := mw(func(c echo.Context) error {
		seen = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})(c)
	return err, seen
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	err, _ := runMiddleware(t, JWTMiddleware(testJWTConfig()), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err, _ := runMiddleware(t, JWTMiddleware(testJWTConfig()), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	sub := uuid.New()
	token := createTestToken(t, validClaims(sub, TokenTypeAccess), testSigningKey)

	err, ctx := runMiddleware(t, JWTMiddleware(testJWTConfig()), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != sub.String() {
		t.Errorf("expected user id %s, got %s", sub, UserIDFromContext(ctx))
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != "cardiologist" {
		t.Errorf("unexpected roles: %v", roles)
	}
	if EmailFromContext(ctx) != "doc@example.com" {
		t.Errorf("unexpected email: %s", EmailFromContext(ctx))
	}
	if got, err := UserUUIDFromContext(ctx); err != nil || got != sub {
		t.Errorf("UserUUIDFromContext = %v, %v", got, err)
	}
}

func TestJWTMiddleware_QueryTokenOnUpgradeOnly(t *testing.T) {
	sub := uuid.New()
	token := createTestToken(t, validClaims(sub, TokenTypeAccess), testSigningKey)
	mw := JWTMiddleware(testJWTConfig())
	next := func(c echo.Context) error { return c.NoContent(http.StatusSwitchingProtocols) }
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/notifications/stream?access_token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	if err := mw(next)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Errorf("expected query token to be accepted on upgrade, got %v", err)
	}

	plain := httptest.NewRequest(http.MethodGet, "/profile?access_token="+token, nil)
	err := mw(next)(e.NewContext(plain, httptest.NewRecorder()))
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsRefreshToken(t *testing.T) {
	token := createTestToken(t, validClaims(uuid.New(), TokenTypeRefresh), testSigningKey)
	err, _ := runMiddleware(t, JWTMiddleware(testJWTConfig()), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, validClaims(uuid.New(), TokenTypeAccess), []byte("another-key"))
	err, _ := runMiddleware(t, JWTMiddleware(testJWTConfig()), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	claims := validClaims(uuid.New(), TokenTypeAccess)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := createTestToken(t, claims, testSigningKey)
	err, _ := runMiddleware(t, JWTMiddleware(testJWTConfig()), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	claims := validClaims(uuid.New(), TokenTypeAccess)
	claims.Issuer = "someone-else"
	token := createTestToken(t, claims, testSigningKey)
	err, _ := runMiddleware(t, JWTMiddleware(testJWTConfig()), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	store := NewMemoryRevocationStore()
	defer store.Close()

	claims := validClaims(uuid.New(), TokenTypeAccess)
	token := createTestToken(t, claims, testSigningKey)
	_ = store.Revoke(context.Background(), claims.ID, time.Now().Add(time.Hour))

	cfg := testJWTConfig()
	cfg.Revocations = store
	err, _ := runMiddleware(t, JWTMiddleware(cfg), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoHeader(t *testing.T) {
	err, ctx := runMiddleware(t, DevAuthMiddleware(testJWTConfig()), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != DevUserID.String() {
		t.Errorf("expected dev user id, got %s", UserIDFromContext(ctx))
	}
	if !IsAdmin(ctx) {
		t.Error("expected dev identity to be admin")
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	err, _ := runMiddleware(t, DevAuthMiddleware(testJWTConfig()), "Bearer garbage")
	expectStatus(t, err, http.StatusUnauthorized)

	sub := uuid.New()
	token := createTestToken(t, validClaims(sub, TokenTypeAccess), testSigningKey)
	err, ctx := runMiddleware(t, DevAuthMiddleware(testJWTConfig()), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != sub.String() {
		t.Errorf("expected token subject, got %s", UserIDFromContext(ctx))
	}
}

func TestUserUUIDFromContext_Missing(t *testing.T) {
	if _, err := UserUUIDFromContext(context.Background()); err == nil {
		t.Error("expected error without identity")
	}
}
