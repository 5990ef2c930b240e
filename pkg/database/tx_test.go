package database_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T, opts ...database.Option) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return database.Wrap(sqlx.NewDb(conn, "postgres"), logger.Nop(), opts...), mock
}

func TestWithTx_CommitsAndSetsLockTimeout(t *testing.T) {
	db, mock := newMockDB(t, database.WithLockTimeout(1500*time.Millisecond))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '1500ms'")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE stock_quantities").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		assert.True(t, database.InTx(ctx))
		_, err := db.Conn(ctx).ExecContext(ctx, "UPDATE stock_quantities SET quantity = 1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := db.WithTx(context.Background(), func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_NestedCallJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		return db.WithTx(ctx, func(inner context.Context) error {
			assert.True(t, database.InTx(inner))
			return nil
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepoint_RollsBackOnlyItsOwnWork(t *testing.T) {
	db, mock := newMockDB(t)
	failed := errors.New("alert pass failed")

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT alerts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		err := db.Savepoint(ctx, "alerts", func(context.Context) error { return failed })
		assert.ErrorIs(t, err, failed)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepoint_OutsideTransactionRunsDirectly(t *testing.T) {
	db, mock := newMockDB(t)
	ran := false

	err := db.Savepoint(context.Background(), "alerts", func(ctx context.Context) error {
		ran = true
		assert.False(t, database.InTx(ctx))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.NoError(t, mock.ExpectationsWereMet())
}
