// Command expiry-check runs one expiry refresh and full alert pass, for
// deployments that schedule it externally instead of in the service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/metrics"
)

func main() {
	cfg, err := config.LoadWithValidation("expiry-check")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("expiry-check", cfg.Server.Environment, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	var publisher *events.InventoryEventPublisher
	if cfg.RabbitMQ.Enabled {
		rmq, err := messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	deps := service.Deps{
		DB:        db,
		Repos:     service.NewRepositories(db),
		Publisher: publisher,
		Metrics:   metrics.New(),
		Logger:    log,
	}
	opts := service.Options{
		ExpiringSoonDays: cfg.Alerts.ExpiringSoonDays,
		Clock:            service.SystemClock(cfg.Alerts.Location()),
	}

	alerts := service.NewAlertEngine(deps, opts)
	expiry := service.NewExpiryService(deps, alerts, opts)

	res, err := expiry.RefreshExpiry(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("expiry refresh failed")
	}

	deltas, err := alerts.EvaluateAlerts(ctx, "")
	if err != nil {
		log.Fatal().Err(err).Msg("alert evaluation failed")
	}

	log.Info().
		Int("batches_expired", len(res.Expired)).
		Int("alert_changes", len(deltas)).
		Msg("expiry check finished")
}
