//go:build integration

package containers

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	coredatabase "github.com/m3rciful/vatwatch/core/database"
)

// PostgresContainer wraps a migrated PostgreSQL instance.
type PostgresContainer struct {
	DSN string
	DB  *sqlx.DB
}

// NewPostgresContainer starts PostgreSQL and applies the migrations found in migrationsPath.
func NewPostgresContainer(t *testing.T, migrationsPath string) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("vatwatch"),
		tcpostgres.WithUsername("vatwatch"),
		tcpostgres.WithPassword("vatwatch"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get postgres port: %v", err)
	}

	cfg := coredatabase.Config{
		Host:           host,
		Port:           port.Port(),
		User:           "vatwatch",
		Password:       "vatwatch",
		Name:           "vatwatch",
		SSLMode:        "disable",
		MaxConnections: 10,
		MigrationsPath: migrationsPath,
	}
	db, err := coredatabase.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := coredatabase.RunMigrations(ctx, db, cfg); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return &PostgresContainer{DSN: cfg.URL(), DB: db}
}

// TruncateTables empties the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", strings.Join(tables, ", ")))
	return err
}
