package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	image          = "postgres:17-alpine"
	credential     = "hostlink"
	startupTimeout = 30 * time.Second
)

// Database is a throwaway Postgres instance for the system tests.
type Database struct {
	container *postgres.PostgresContainer
}

// Start runs a container whose user, password and database are all "hostlink".
func Start(ctx context.Context) (*Database, error) {
	container, err := postgres.Run(ctx,
		image,
		postgres.WithUsername(credential),
		postgres.WithPassword(credential),
		postgres.WithDatabase(credential),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	state, err := container.State(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("inspect postgres container: %w", err)
	}
	if !state.Running {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("postgres container exited with status %q", state.Status)
	}

	return &Database{container: container}, nil
}

// DSN is a pgx connection string with TLS disabled.
func (d *Database) DSN(ctx context.Context) (string, error) {
	dsn, err := d.container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("postgres connection string: %w", err)
	}
	return dsn, nil
}

func (d *Database) Terminate(ctx context.Context) error {
	if err := d.container.Terminate(ctx); err != nil {
		return fmt.Errorf("terminate postgres container: %w", err)
	}
	return nil
}
