package service

import (
	"context"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/lock"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/metrics"
)

// DefaultLockWait bounds how long a movement waits for its stock keys.
const DefaultLockWait = 5 * time.Second

// Repositories groups the inventory repositories over one database.
type Repositories struct {
	Materials    *repository.MaterialRepository
	Branches     *repository.BranchRepository
	Quantities   *repository.QuantityRepository
	Batches      *repository.BatchRepository
	Transactions *repository.TransactionRepository
	Alerts       *repository.AlertRepository
	Recipes      *repository.RecipeRepository
}

// NewRepositories creates every repository on db
func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Materials:    repository.NewMaterialRepository(db),
		Branches:     repository.NewBranchRepository(db),
		Quantities:   repository.NewQuantityRepository(db),
		Batches:      repository.NewBatchRepository(db),
		Transactions: repository.NewTransactionRepository(db),
		Alerts:       repository.NewAlertRepository(db),
		Recipes:      repository.NewRecipeRepository(db),
	}
}

// Clock decides what "now" and "today" mean for expiry and alert rules.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// SystemClock uses the wall clock in loc.
func SystemClock(loc *time.Location) Clock {
	return Clock{Now: time.Now, Location: loc}
}

func (c Clock) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// Today is the current calendar day in the clock's location.
func (c Clock) Today() time.Time {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	return domain.Today(now, c.Location)
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	ExpiringSoonDays int
	LockWait         time.Duration
	Clock            Clock
}

func (o Options) withDefaults() Options {
	if o.ExpiringSoonDays <= 0 {
		o.ExpiringSoonDays = domain.DefaultExpiringSoonDays
	}
	if o.LockWait <= 0 {
		o.LockWait = DefaultLockWait
	}
	return o
}

// Deps are the collaborators shared by the inventory services.
type Deps struct {
	DB        *database.DB
	Repos     *Repositories
	Locker    lock.Locker
	Publisher *events.InventoryEventPublisher
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
}

// acquire takes the stock locks of the given pairs, bounded by the lock wait.
func acquire(ctx context.Context, l lock.Locker, wait time.Duration, m *metrics.Metrics, keys ...string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	release, err := l.Acquire(lockCtx, keys...)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			m.LockContention()
			return nil, errors.ConcurrentModification("stock is being modified by another request, retry")
		}
		return nil, err
	}
	return release, nil
}
