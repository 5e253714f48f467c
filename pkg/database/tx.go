package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
)

// Postgres error codes that mean the transaction lost a race and may be replayed.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Transactor runs units of work inside a single database transaction.
type Transactor struct {
	db          *sqlx.DB
	maxRetries  uint64
	baseBackoff time.Duration
}

// NewTransactor wraps the connection pool. Transactions aborted by a deadlock or a
// serialization failure are replayed up to three times.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db, maxRetries: 3, baseBackoff: 20 * time.Millisecond}
}

// WithinTx begins a read-committed transaction, hands it to fn and commits when fn
// returns nil. Any error or panic rolls the transaction back. fn may run more than
// once, so it must not leak state between attempts.
func (t *Transactor) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	backoff := retry.WithMaxRetries(t.maxRetries, retry.NewExponential(t.baseBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := t.run(ctx, fn)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (t *Transactor) run(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is a Postgres deadlock or serialization failure.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}
