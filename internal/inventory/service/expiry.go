package service

import (
	"context"
	"sort"
	"time"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/metrics"
)

// ExpiryService flags batches that went past expiry and refreshes the
// expiry alerts. It is driven by the scheduler, the expiry-check job and
// an admin endpoint.
type ExpiryService struct {
	db        *database.DB
	repos     *Repositories
	alerts    *AlertEngine
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Metrics
	clock     Clock
	window    int
	logger    *logger.Logger
}

// NewExpiryService creates a new expiry service
func NewExpiryService(deps Deps, alerts *AlertEngine, opts Options) *ExpiryService {
	opts = opts.withDefaults()
	return &ExpiryService{
		db:        deps.DB,
		repos:     deps.Repos,
		alerts:    alerts,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     opts.Clock,
		window:    opts.ExpiringSoonDays,
		logger:    deps.Logger.WithComponent("expiry"),
	}
}

// RefreshResult lists the batches newly marked expired by one run.
type RefreshResult struct {
	Today   time.Time           `json:"today"`
	Expired []domain.Batch      `json:"expired"`
	Alerts  []domain.AlertDelta `json:"alerts"`
}

// RefreshExpiry marks every batch past expiry, reports the live ones that
// flipped and re-evaluates the materials whose expiry alerts may change.
func (s *ExpiryService) RefreshExpiry(ctx context.Context) (*RefreshResult, error) {
	start := time.Now()
	today := s.clock.Today()

	var expired []domain.Batch
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		flipped, err := s.repos.Batches.MarkExpired(ctx, today)
		expired = flipped
		return err
	})
	if err != nil {
		s.metrics.ObserveOperation("refresh_expiry", start, err)
		return nil, err
	}

	for _, b := range expired {
		s.publisher.PublishBatchExpired(ctx, b)
	}
	s.metrics.BatchesExpired(len(expired))

	ids, err := s.affectedMaterials(ctx, today, expired)
	if err != nil {
		s.metrics.ObserveOperation("refresh_expiry", start, err)
		return nil, err
	}

	deltas, err := s.alerts.evaluateEach(ctx, ids, false)
	s.metrics.ObserveOperation("refresh_expiry", start, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Time("today", today).
		Int("expired", len(expired)).
		Int("materials", len(ids)).
		Int("alert_changes", len(deltas)).
		Dur("duration", time.Since(start)).
		Msg("expiry refresh completed")

	return &RefreshResult{Today: today, Expired: expired, Alerts: deltas}, nil
}

// affectedMaterials is the union of materials with batches inside the
// expiry window, materials that just expired and materials with open
// alerts that may need resolving.
func (s *ExpiryService) affectedMaterials(ctx context.Context, today time.Time, expired []domain.Batch) ([]string, error) {
	seen := map[string]bool{}

	active, err := s.repos.Batches.MaterialsWithExpiryActivity(ctx, today.AddDate(0, 0, s.window))
	if err != nil {
		return nil, err
	}
	for _, id := range active {
		seen[id] = true
	}
	for _, b := range expired {
		seen[b.MaterialID] = true
	}

	open, err := s.repos.Alerts.MaterialsWithOpenAlerts(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range open {
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
