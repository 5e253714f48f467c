package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// LedgerEventRepository stores ledger events in the outbox table.
type LedgerEventRepository struct {
	db *sqlx.DB
}

// NewLedgerEventRepository constructs the repository.
func NewLedgerEventRepository(db *sqlx.DB) *LedgerEventRepository {
	return &LedgerEventRepository{db: db}
}

// CreateWithTx appends events to the outbox in the caller's transaction.
func (r *LedgerEventRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, events []models.LedgerEvent) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `INSERT INTO ledger_events (id, type, teacher_id, group_id, student_id, number_of_classes, paid_delta, unpaid_delta, occurred_at)
VALUES (:id, :type, :teacher_id, :group_id, :student_id, :number_of_classes, :paid_delta, :unpaid_delta, :occurred_at)`
	for i := range events {
		if _, err := sqlx.NamedExecContext(ctx, tx, query, &events[i]); err != nil {
			return fmt.Errorf("insert ledger event: %w", err)
		}
	}
	return nil
}

// ListPending returns undispatched events, oldest first.
func (r *LedgerEventRepository) ListPending(ctx context.Context, limit int) ([]models.LedgerEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `SELECT id, type, teacher_id, group_id, student_id, number_of_classes, paid_delta, unpaid_delta, occurred_at, dispatched_at
FROM ledger_events WHERE dispatched_at IS NULL ORDER BY occurred_at ASC, id ASC LIMIT $1`
	var events []models.LedgerEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("list pending ledger events: %w", err)
	}
	return events, nil
}

// MarkDispatched stamps events as handed to the dispatcher.
func (r *LedgerEventRepository) MarkDispatched(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE ledger_events SET dispatched_at = $2 WHERE id = ANY($1) AND dispatched_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("mark ledger events dispatched: %w", err)
	}
	return nil
}
