package integration

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	postgresImage = "postgres:16-alpine"
	readyTimeout  = 30 * time.Second
)

// pgContainer is a throwaway Postgres started through the docker CLI. Data
// lives on tmpfs and the container removes itself when stopped.
type pgContainer struct {
	id      string
	connStr string
}

func startPostgresContainer(ctx context.Context) (string, func(), error) {
	pc, err := runPostgres(ctx)
	if err != nil {
		return "", nil, err
	}
	if err := pc.waitReady(ctx, readyTimeout); err != nil {
		pc.stop()
		return "", nil, err
	}
	return pc.connStr, pc.stop, nil
}

func runPostgres(ctx context.Context) (*pgContainer, error) {
	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"--tmpfs", "/var/lib/postgresql/data",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=clinic",
		"-e", "POSTGRES_PASSWORD=clinic",
		"-e", "POSTGRES_DB=clinic_test",
		postgresImage,
	).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	id := strings.TrimSpace(string(out))

	// docker picks the host port; ask which one.
	out, err = exec.CommandContext(ctx, "docker", "port", id, "5432/tcp").Output()
	if err != nil {
		_ = exec.Command("docker", "stop", id).Run()
		return nil, fmt.Errorf("docker port: %w", err)
	}
	addr := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if addr == "" {
		_ = exec.Command("docker", "stop", id).Run()
		return nil, errors.New("docker port: no mapping for 5432/tcp")
	}

	return &pgContainer{
		id:      id,
		connStr: fmt.Sprintf("postgres://clinic:clinic@%s/clinic_test?sslmode=disable", addr),
	}, nil
}

func (pc *pgContainer) stop() {
	_ = exec.Command("docker", "stop", "-t", "2", pc.id).Run()
}

// waitReady polls with single connections until the server accepts queries.
// The image restarts postgres once after init, so one successful ping is
// not enough; require two in a row.
func (pc *pgContainer) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok := 0
	var lastErr error
	for ok < 2 {
		if ctx.Err() != nil {
			return fmt.Errorf("postgres not ready after %v: %v", timeout, lastErr)
		}
		lastErr = ping(ctx, pc.connStr)
		if lastErr == nil {
			ok++
		} else {
			ok = 0
		}
		select {
		case <-ctx.Done():
		case <-time.After(300 * time.Millisecond):
		}
	}
	return nil
}

func ping(ctx context.Context, connStr string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}
