// Package testutil holds the shared test harness: a migrated Postgres
// testcontainer, sqlmock wiring, a recording event publisher, fixtures for
// branches, materials, batches and recipes, and HTTP request helpers.
package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresImage = "postgres:15-alpine"
	testDatabase         = "larder_test"

	// PostgresImageEnv overrides the image, e.g. to match production's major version.
	PostgresImageEnv = "LARDER_TEST_POSTGRES_IMAGE"
)

// PostgresContainer is a running Postgres testcontainer and its DSN.
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// StartPostgres starts an empty database. Callers migrate it; see
// NewIntegrationSuite.
func StartPostgres(ctx context.Context) (*PostgresContainer, error) {
	image := os.Getenv(PostgresImageEnv)
	if image == "" {
		image = defaultPostgresImage
	}

	// Postgres logs readiness twice: once for the init server, once for the real one.
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(image),
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername("larder"),
		postgres.WithPassword("larder"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", image, err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable", "TimeZone=UTC")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("postgres container dsn: %w", err)
	}

	return &PostgresContainer{PostgresContainer: container, DSN: dsn}, nil
}
