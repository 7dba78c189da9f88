package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
)

type txContextKey struct{}

// beginAttempts bounds how often a BEGIN IMMEDIATE that hit the busy timeout is retried
const beginAttempts = 3

// DB runs workflow operations in BEGIN IMMEDIATE transactions. The write lock
// is taken when the transaction starts, so two approvers of the same report
// are serialized before either reads the pending record.
type DB struct {
	*sql.DB
	logger *zap.Logger

	// retryBase is the first wait after a busy BEGIN
	retryBase time.Duration
}

// NewDB wraps a pool opened with _txlock=immediate
func NewDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:        sqlDB,
		logger:    logger,
		retryBase: 50 * time.Millisecond,
	}
}

// WithTransaction implements port.TransactionManager. A nested call joins the
// transaction already carried by ctx. fn runs exactly once; only BEGIN is retried.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.run(ctx, nil, fn)
}

// WithReadTransaction implements port.TransactionManager. The driver starts
// every transaction with the pool's BEGIN IMMEDIATE, so a reader holds the
// write lock for its few statements and sees one committed state.
func (db *DB) WithReadTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (db *DB) run(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := db.begin(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// begin opens a write transaction, retrying while another writer holds the lock
// past the busy timeout
func (db *DB) begin(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = db.retryBase
	policy.MaxInterval = 10 * db.retryBase

	var tx *sql.Tx
	attempt := 0
	op := func() error {
		attempt++
		var err error
		tx, err = db.BeginTx(ctx, opts)
		if err != nil && !IsBusy(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			db.logger.Warn("Database busy, retrying begin", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, beginAttempts-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		db.logger.Error("Failed to begin transaction", zap.Int("attempts", attempt), zap.Error(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// IsBusy reports whether err is SQLite's busy or locked condition
func IsBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

// TxFromContext returns the transaction carried by ctx, if any
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Conn returns the transaction in ctx, falling back to db
func Conn(ctx context.Context, db *sql.DB) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

var _ port.TransactionManager = (*DB)(nil)
