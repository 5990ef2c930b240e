package service

import (
	"context"
	"sort"

	"github.com/larder/larder-backend/internal/inventory/domain"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/repository"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/errors"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/metrics"
)

const alertSavepoint = "alert_pass"

// AlertEngine derives alerts from the current stock of a material and
// reconciles them with the stored open alerts.
type AlertEngine struct {
	db        *database.DB
	repos     *Repositories
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Metrics
	clock     Clock
	window    int
	logger    *logger.Logger
}

// NewAlertEngine creates a new alert engine
func NewAlertEngine(deps Deps, opts Options) *AlertEngine {
	opts = opts.withDefaults()
	return &AlertEngine{
		db:        deps.DB,
		repos:     deps.Repos,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		clock:     opts.Clock,
		window:    opts.ExpiringSoonDays,
		logger:    deps.Logger.WithComponent("alert-engine"),
	}
}

// evaluate reconciles one material. It must run inside a transaction so the
// advisory lock holds until commit.
func (e *AlertEngine) evaluate(ctx context.Context, materialID string) ([]domain.AlertDelta, error) {
	if err := e.repos.Alerts.LockMaterial(ctx, materialID); err != nil {
		return nil, err
	}

	material, err := e.repos.Materials.GetByID(ctx, materialID)
	if err != nil {
		return nil, err
	}
	quantities, err := e.repos.Quantities.ListByMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	batches, err := e.repos.Batches.ListLiveByMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	names, err := e.repos.Branches.Names(ctx)
	if err != nil {
		return nil, err
	}
	open, err := e.repos.Alerts.ListOpenByMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}

	desired := domain.DesiredAlerts(domain.StockSnapshot{
		Material:    *material,
		Quantities:  quantities,
		Batches:     batches,
		BranchNames: names,
	}, e.clock.Today(), e.window)

	deltas := domain.Reconcile(open, desired, e.clock.now())
	for i := range deltas {
		d := &deltas[i]
		d.Alert.MaterialName = material.Name

		switch d.Action {
		case domain.DeltaCreated:
			err = e.repos.Alerts.Insert(ctx, &d.Alert)
		case domain.DeltaUpdated:
			err = e.repos.Alerts.UpdateSnapshot(ctx, &d.Alert)
		case domain.DeltaResolved:
			err = e.repos.Alerts.UpdateStatus(ctx, &d.Alert)
		}
		if err != nil {
			return nil, err
		}
	}

	return deltas, nil
}

// Pass evaluates the given materials inside the caller's movement
// transaction. Each material runs under its own savepoint; a failing
// evaluation is logged and discarded without touching the movement.
func (e *AlertEngine) Pass(ctx context.Context, materialIDs ...string) []domain.AlertDelta {
	ids := append([]string(nil), materialIDs...)
	sort.Strings(ids)

	var all []domain.AlertDelta
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		err := e.db.Savepoint(ctx, alertSavepoint, func(ctx context.Context) error {
			deltas, err := e.evaluate(ctx, id)
			if err != nil {
				return err
			}
			all = append(all, deltas...)
			return nil
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("material_id", id).Msg("alert pass failed, will be retried by the next scan")
		}
	}
	return all
}

// Announce publishes committed deltas and counts them.
func (e *AlertEngine) Announce(ctx context.Context, deltas []domain.AlertDelta) {
	for _, d := range deltas {
		e.metrics.AlertTransition(string(d.Alert.Type), string(d.Action))
		e.publisher.PublishAlertChanged(ctx, d)
	}
}

// EvaluateAlerts re-checks one material, or every material when materialID
// is empty. Running it twice against unchanged stock returns no deltas the
// second time.
func (e *AlertEngine) EvaluateAlerts(ctx context.Context, materialID string) ([]domain.AlertDelta, error) {
	var ids []string
	if materialID != "" {
		if _, err := e.repos.Materials.GetByID(ctx, materialID); err != nil {
			return nil, err
		}
		ids = []string{materialID}
	} else {
		all, err := e.repos.Materials.ListIDs(ctx)
		if err != nil {
			return nil, err
		}
		ids = all
	}

	return e.evaluateEach(ctx, ids, materialID != "")
}

// evaluateEach commits one transaction per material. When strict the first
// failure aborts; otherwise failures are logged and skipped.
func (e *AlertEngine) evaluateEach(ctx context.Context, ids []string, strict bool) ([]domain.AlertDelta, error) {
	deltas := []domain.AlertDelta{}
	for _, id := range ids {
		var got []domain.AlertDelta
		err := e.db.WithTx(ctx, func(ctx context.Context) error {
			d, err := e.evaluate(ctx, id)
			got = d
			return err
		})
		if err != nil {
			if strict {
				return nil, err
			}
			e.logger.Error().Err(err).Str("material_id", id).Msg("alert evaluation failed")
			continue
		}
		e.Announce(ctx, got)
		deltas = append(deltas, got...)
	}

	return deltas, nil
}

// AcknowledgeAlert marks an open alert as seen. Acknowledging twice is a
// no-op; acknowledging a resolved alert is a conflict.
func (e *AlertEngine) AcknowledgeAlert(ctx context.Context, alertID, by string) (*domain.Alert, error) {
	if by == "" {
		return nil, errors.BadRequest("acknowledging an alert requires an actor")
	}

	var alert *domain.Alert
	var changed bool
	err := e.db.WithTx(ctx, func(ctx context.Context) error {
		a, err := e.repos.Alerts.GetForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		changed, err = a.Acknowledge(by, e.clock.now())
		if err != nil {
			return errors.Conflict(err.Error())
		}
		alert = a
		if !changed {
			return nil
		}
		return e.repos.Alerts.UpdateStatus(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.metrics.AlertTransition(string(alert.Type), string(domain.AlertAcknowledged))
	}
	return alert, nil
}

// ResolveAlert closes an open alert by hand. If the condition still holds
// the next pass raises a fresh alert for the same key.
func (e *AlertEngine) ResolveAlert(ctx context.Context, alertID, by string) (*domain.Alert, error) {
	if by == "" {
		by = domain.SystemResolver
	}

	var alert *domain.Alert
	err := e.db.WithTx(ctx, func(ctx context.Context) error {
		a, err := e.repos.Alerts.GetForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		if err := a.Resolve(by, e.clock.now()); err != nil {
			return errors.Conflict(err.Error())
		}
		alert = a
		return e.repos.Alerts.UpdateStatus(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	e.Announce(ctx, []domain.AlertDelta{{Action: domain.DeltaResolved, Alert: *alert}})
	return alert, nil
}

// GetAlert returns a single alert
func (e *AlertEngine) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	return e.repos.Alerts.GetByID(ctx, id)
}

// ListAlerts lists alerts; an empty status filter means open alerts.
func (e *AlertEngine) ListAlerts(ctx context.Context, f repository.AlertFilter) ([]domain.Alert, int64, error) {
	if f.Status != "" && f.Status != domain.AlertActive && f.Status != domain.AlertAcknowledged && f.Status != domain.AlertResolved {
		return nil, 0, errors.BadRequest("unknown alert status " + string(f.Status))
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, errors.BadRequest("unknown alert type " + string(f.Type))
	}
	return e.repos.Alerts.List(ctx, f)
}

// AlertCounts summarises open alerts per type for dashboards.
func (e *AlertEngine) AlertCounts(ctx context.Context) ([]repository.AlertCount, error) {
	return e.repos.Alerts.CountOpenByType(ctx)
}
