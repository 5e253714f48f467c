package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// GroupRepository reads groups and maintains their cached totals.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs a group repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, teacher_id, teacher_subject_id, week_day,
        to_char(start_time, 'HH24:MI') AS start_time, to_char(end_time, 'HH24:MI') AS end_time,
        temporary_week_day, to_char(temporary_start_time, 'HH24:MI') AS temporary_start_time,
        to_char(temporary_end_time, 'HH24:MI') AS temporary_end_time, clear_temporary_schedule_at,
        total_paid, total_unpaid, created_at`

// FindOwned returns the group when it belongs to teacherID, sql.ErrNoRows otherwise.
func (r *GroupRepository) FindOwned(ctx context.Context, id, teacherID string) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups WHERE id = $1 AND teacher_id = $2`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id, teacherID); err != nil {
		return nil, err
	}
	return &group, nil
}

// AddTotalsWithTx shifts the cached group totals by the given deltas, never below zero.
func (r *GroupRepository) AddTotalsWithTx(ctx context.Context, tx *sqlx.Tx, id string, paid, unpaid decimal.Decimal) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `UPDATE groups SET total_paid = GREATEST(total_paid + $2, 0), total_unpaid = GREATEST(total_unpaid + $3, 0) WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, paid, unpaid); err != nil {
		return fmt.Errorf("update group totals: %w", err)
	}
	return nil
}
