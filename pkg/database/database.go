package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/larder/larder-backend/pkg/config"
	"github.com/larder/larder-backend/pkg/logger"
	_ "github.com/lib/pq"
)

const connectTimeout = 10 * time.Second

// DB is the service's Postgres handle. Repositories reach it through Conn so
// they run inside whatever transaction WithTx put on the context.
type DB struct {
	*sqlx.DB
	logger      *logger.Logger
	lockTimeout time.Duration
}

// Option tunes a DB at construction.
type Option func(*DB)

// WithLockTimeout sets lock_timeout on every transaction opened by WithTx.
// Zero leaves the server default.
func WithLockTimeout(d time.Duration) Option {
	return func(db *DB) { db.lockTimeout = d }
}

// WithPool applies connection pool limits. Zero values keep database/sql
// defaults.
func WithPool(maxOpen, maxIdle int, maxLifetime time.Duration) Option {
	return func(db *DB) {
		if maxOpen > 0 {
			db.SetMaxOpenConns(maxOpen)
		}
		if maxIdle > 0 {
			db.SetMaxIdleConns(maxIdle)
		}
		if maxLifetime > 0 {
			db.SetConnMaxLifetime(maxLifetime)
		}
	}
}

// New connects using cfg, including its pool limits and lock timeout.
func New(cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	return NewWithDSN(cfg.DSN(), log,
		WithPool(cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime),
		WithLockTimeout(cfg.LockTimeout),
	)
}

// NewWithDSN connects to dsn and verifies the connection with a ping.
func NewWithDSN(dsn string, log *logger.Logger, opts ...Option) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := Wrap(conn, log, opts...)
	log.Info().Dur("lock_timeout", db.lockTimeout).Msg("connected to postgres")
	return db, nil
}

// Wrap adopts an existing sqlx handle, e.g. one backed by sqlmock.
func Wrap(conn *sqlx.DB, log *logger.Logger, opts ...Option) *DB {
	db := &DB{DB: conn, logger: log.WithComponent("database")}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Health pings with a one second budget and reports pool usage.
func (db *DB) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return map[string]string{"status": "down", "error": err.Error()}
	}

	stats := db.Stats()
	return map[string]string{
		"status":     "up",
		"open_conns": fmt.Sprint(stats.OpenConnections),
		"in_use":     fmt.Sprint(stats.InUse),
		"wait_count": fmt.Sprint(stats.WaitCount),
	}
}
