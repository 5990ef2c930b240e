package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx. Repositories take one
// from Conn so the same code runs inside or outside a movement transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// WithTx runs fn inside a transaction carried by the returned context.
// Nested calls join the outer transaction instead of opening a new one.
//
//	err := db.WithTx(ctx, func(ctx context.Context) error {
//	    qty, err := quantities.LockForUpdate(ctx, branchID, materialID)
//	    ...
//	})
func (db *DB) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if getTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := db.run(ctx, tx, fn); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error().Err(rbErr).Msg("failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) run(ctx context.Context, tx *sqlx.Tx, fn func(context.Context) error) error {
	if db.lockTimeout > 0 {
		// SET LOCAL does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock_timeout: %w", err)
		}
	}
	return fn(context.WithValue(ctx, txKey{}, tx))
}

// Savepoint runs fn so that its writes can be discarded without aborting
// the enclosing transaction. Outside a transaction fn runs directly.
func (db *DB) Savepoint(ctx context.Context, name string, fn func(context.Context) error) error {
	tx := getTx(ctx)
	if tx == nil {
		return fn(ctx)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			db.logger.Error().Err(rbErr).Str("savepoint", name).Msg("failed to rollback to savepoint")
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}

// Conn returns the transaction in ctx, or the pool when there is none.
func (db *DB) Conn(ctx context.Context) Querier {
	if tx := getTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return getTx(ctx) != nil
}

func getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
