package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/larder/larder-backend/internal/inventory/consumers"
	"github.com/larder/larder-backend/internal/inventory/events"
	"github.com/larder/larder-backend/internal/inventory/handler"
	"github.com/larder/larder-backend/internal/inventory/service"
	"github.com/larder/larder-backend/migrations"
	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/httputil"
	"github.com/larder/larder-backend/pkg/lock"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
	"github.com/larder/larder-backend/pkg/metrics"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("inventory-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("inventory-service", cfg.Server.Environment, cfg.Log.Level)
	log.Info().Msg("starting Inventory Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(migrations.FS); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	// Broker is optional; without it events are dropped and recipes are
	// only changed through the database.
	var rmq *messaging.RabbitMQ
	var publisher *events.InventoryEventPublisher
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("rabbitmq disabled, inventory events will not be published")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Enabled {
		redisLock, rdb, err := lock.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		locker = redisLock
	}

	m := metrics.New()
	repos := service.NewRepositories(db)
	deps := service.Deps{
		DB:        db,
		Repos:     repos,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   m,
		Logger:    log,
	}
	opts := service.Options{
		ExpiringSoonDays: cfg.Alerts.ExpiringSoonDays,
		LockWait:         cfg.Database.LockTimeout,
		Clock:            service.SystemClock(cfg.Alerts.Location()),
	}

	alerts := service.NewAlertEngine(deps, opts)
	expiry := service.NewExpiryService(deps, alerts, opts)
	handlers := handler.New(handler.Services{
		Inventory: service.NewInventoryService(deps, alerts, opts),
		Catalog:   service.NewCatalogService(deps, alerts, opts),
		Alerts:    alerts,
		Expiry:    expiry,
		Reports:   service.NewReportService(deps, opts),
	}, log)

	if rmq != nil {
		menuConsumer, err := consumers.NewMenuEventConsumer(rmq, consumers.NewMenuEventHandler(db, repos.Recipes, log), log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create menu event consumer")
		}
		if err := menuConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start menu event consumer")
		}
	}

	scheduler := service.NewScheduler(expiry, alerts, cfg.Alerts.ScanInterval, log)
	scheduler.Start(ctx)

	r := chi.NewRouter()

	// Actor runs before Logger so request logs carry the caller.
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.Actor(httputil.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)))
	r.Use(httputil.Logger(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httputil.HeaderRequestID, httputil.HeaderUserID, httputil.HeaderUserName, httputil.HeaderUserRole},
		ExposedHeaders:   []string{httputil.HeaderRequestID, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  "inventory-service",
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, m.Handler())
	}

	r.Route("/api/v1/inventory", handlers.Routes)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the scheduler and consumers before draining HTTP
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
