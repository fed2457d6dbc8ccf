//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"veriface/internal/platform/postgres"
)

const postgresImage = "postgres:16-alpine"

// PostgresContainer backs the audit store suites.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	c, err := tcpostgres.Run(ctx, postgresImage,
		tcpostgres.WithDatabase("veriface"),
		tcpostgres.WithUsername("veriface"),
		tcpostgres.WithPassword("veriface"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		abort(t, nil, "start postgres", err)
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		abort(t, c, "postgres dsn", err)
	}
	db, err := postgres.Open(ctx, dsn)
	if err != nil {
		abort(t, c, "connect postgres", err)
	}
	return &PostgresContainer{Container: c, DSN: dsn, DB: db}
}

// TruncateTables empties tables between tests. Tables that do not exist yet
// are skipped.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		_, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" RESTART IDENTITY")
		if err != nil && !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
