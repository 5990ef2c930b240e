package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/larder/larder-backend/migrations"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests of a package)
	globalContainer *PostgresContainer
	containerOnce   sync.Once
	containerErr    error
)

// truncateOrder lists every table with data, children first.
var truncateOrder = []string{
	"alerts",
	"stock_transaction_batches",
	"stock_transactions",
	"batches",
	"branch_quantities",
	"recipe_items",
	"recipes",
	"menu_items",
	"materials",
	"branches",
}

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the container and applies the
// embedded migrations. Call it in TestMain.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    if !testing.Short() {
//	        s, err := testutil.NewIntegrationSuite(context.Background())
//	        if err != nil {
//	            log.Fatal(err)
//	        }
//	        suite = s
//	    }
//	    code := m.Run()
//	    if suite != nil {
//	        suite.Cleanup(context.Background())
//	    }
//	    os.Exit(code)
//	}
func NewIntegrationSuite(ctx context.Context) (*IntegrationSuite, error) {
	container, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Nop()
	db, err := database.NewWithDSN(container.DSN, log, database.WithLockTimeout(2*time.Second))
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate test database: %w", err)
	}

	return &IntegrationSuite{
		Container: container,
		DB:        db,
		Fixtures:  NewFixtureFactory(db),
		Logger:    log,
	}, nil
}

func getOrCreateContainer(ctx context.Context) (*PostgresContainer, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = StartPostgres(ctx)
	})
	return globalContainer, containerErr
}

// Reset empties every table. Integration tests call it first so they never
// see each other's rows.
func (s *IntegrationSuite) Reset(t *testing.T, ctx context.Context) {
	t.Helper()

	for _, table := range truncateOrder {
		if _, err := s.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

// Cleanup closes the connection and terminates the container
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Container != nil {
		s.Container.Terminate(ctx)
	}
}
