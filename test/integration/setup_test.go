// Package integration runs the repositories and services against a real
// Postgres. Set TEST_DATABASE_URL to a disposable database, or set
// INTEGRATION_DOCKER=1 to start a postgres:16-alpine container. Without
// either the suite is skipped.
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/heartflow/clinic/internal/domain/identity"
	"github.com/heartflow/clinic/internal/platform/auth"
	"github.com/heartflow/clinic/internal/platform/db"
)

var globalPool *pgxpool.Pool

// testNow is a Monday morning. Every service under test reads this clock.
var testNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("TEST_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" && os.Getenv("INTEGRATION_DOCKER") == "1" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
			os.Exit(1)
		}
	}
	if connStr == "" {
		fmt.Fprintln(os.Stderr, "integration: TEST_DATABASE_URL not set, skipping")
		os.Exit(0)
	}

	pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	globalPool = pool

	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// setupDatabase rebuilds the schema from the embedded migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, connStr, db.WithConnLimits(10, 1))
	if err != nil {
		return nil, err
	}
	m, err := db.NewMigrator(pool, zerolog.Nop())
	if err != nil {
		pool.Close()
		return nil, err
	}
	defer m.Close()
	if err := m.Reset(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reset: %w", err)
	}
	if err := m.Up(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("up: %w", err)
	}
	return pool, nil
}

// resetData empties every table except the seeded test catalogue.
func resetData(t *testing.T) {
	t.Helper()
	_, err := globalPool.Exec(context.Background(), `
		TRUNCATE notification, sonography_referral, patient_referral,
			diagnostic_result, diagnostic_appointment,
			prescription_item, prescription, drug_interaction, medication,
			appointment, doctor_leave, doctor_availability,
			user_profile, users CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// createUser inserts an active, verified user with the given role.
func createUser(t *testing.T, role auth.Role, first, last string) *identity.User {
	t.Helper()
	u := &identity.User{
		Email:      fmt.Sprintf("%s.%s@example.com", first, uuid.NewString()[:8]),
		FirstName:  first,
		LastName:   last,
		Role:       role,
		IsVerified: true,
		IsActive:   true,
	}
	if err := identity.NewUserRepoPG(globalPool).Create(context.Background(), u); err != nil {
		t.Fatalf("create %s: %v", role, err)
	}
	return u
}

// as returns a context carrying u's identity.
func as(u *identity.User) context.Context {
	return auth.WithIdentity(context.Background(), u.ID, u.Role)
}
