package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PostgreSQL error codes that make a serializable transaction worth retrying
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

// PersistenceError wraps a failed atomic commit. Nothing was written, so
// the caller may safely retry the whole operation.
type PersistenceError struct {
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("transaction failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TxRunner runs functions inside serializable transactions with retry
type TxRunner struct {
	db          DB
	maxAttempts int
	backoff     time.Duration
	logger      *logrus.Logger
}

// NewTxRunner creates a transaction runner
func NewTxRunner(db DB, maxAttempts int, logger *logrus.Logger) *TxRunner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TxRunner{
		db:          db,
		maxAttempts: maxAttempts,
		backoff:     50 * time.Millisecond,
		logger:      logger,
	}
}

// RunSerializable executes fn in a SERIALIZABLE transaction. Serialization
// failures, deadlocks and unique violations roll back and re-run fn.
// Any failure is returned as *PersistenceError unless fn itself returned a
// non-database error, which is passed through unchanged.
func (r *TxRunner) RunSerializable(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			if isDatabaseError(err) {
				return &PersistenceError{Attempts: attempt, Err: err}
			}
			return err
		}

		r.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": r.maxAttempts,
		}).Warn("Serializable transaction conflict, retrying")

		if attempt < r.maxAttempts {
			select {
			case <-ctx.Done():
				return &PersistenceError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(r.backoff * time.Duration(attempt)):
			}
		}
	}
	return &PersistenceError{Attempts: r.maxAttempts, Err: lastErr}
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &txError{op: "begin", err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.WithError(rbErr).Error("Failed to roll back transaction")
			}
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return &txError{op: "commit", err: err}
	}
	return nil
}

// txError marks failures of the transaction itself (begin/commit)
type txError struct {
	op  string
	err error
}

func (e *txError) Error() string { return fmt.Sprintf("failed to %s transaction: %v", e.op, e.err) }
func (e *txError) Unwrap() error { return e.err }

// IsRetryable reports whether err is a transient PostgreSQL conflict
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case pqSerializationFailure, pqDeadlockDetected, pqUniqueViolation:
		return true
	}
	return false
}

func isDatabaseError(err error) bool {
	var pqErr *pq.Error
	var tErr *txError
	var rErr *repositoryError
	return errors.As(err, &pqErr) || errors.As(err, &tErr) || errors.As(err, &rErr) ||
		errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone)
}

// repositoryError wraps a failed query so callers can tell database failures apart from domain errors
type repositoryError struct {
	msg string
	err error
}

func (e *repositoryError) Error() string { return e.msg + ": " + e.err.Error() }
func (e *repositoryError) Unwrap() error { return e.err }

func wrapQueryError(msg string, err error) error {
	return &repositoryError{msg: msg, err: err}
}
