package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// EnrollmentRepository handles persistence of group enrollments and their counters.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, group_id, joined_on, paid_amount, unpaid_amount, attended_non_paid_classes, created_at`

// FindByGroupAndStudent returns the enrollment of studentID in groupID.
func (r *EnrollmentRepository) FindByGroupAndStudent(ctx context.Context, groupID, studentID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE group_id = $1 AND student_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, groupID, studentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// LockWithTx loads the enrollment and holds its row lock until the transaction ends.
func (r *EnrollmentRepository) LockWithTx(ctx context.Context, tx *sqlx.Tx, groupID, studentID string) (*models.Enrollment, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE group_id = $1 AND student_id = $2 FOR UPDATE`
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, groupID, studentID); err != nil {
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return &enrollment, nil
}

// CreateWithTx inserts the enrollment unless the student already belongs to the group.
// It reports whether a row was written.
func (r *EnrollmentRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("nil transaction provided")
	}
	const query = `INSERT INTO enrollments (id, student_id, group_id, joined_on, paid_amount, unpaid_amount, attended_non_paid_classes, created_at)
VALUES (:id, :student_id, :group_id, :joined_on, :paid_amount, :unpaid_amount, :attended_non_paid_classes, :created_at)
ON CONFLICT (student_id, group_id) DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, tx, query, enrollment)
	if err != nil {
		return false, fmt.Errorf("insert enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert enrollment rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpdateBalanceWithTx stores the recomputed counters of an enrollment.
func (r *EnrollmentRepository) UpdateBalanceWithTx(ctx context.Context, tx *sqlx.Tx, id string, paid, unpaid decimal.Decimal, attendedNonPaid int) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `UPDATE enrollments SET paid_amount = $2, unpaid_amount = $3, attended_non_paid_classes = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, paid, unpaid, attendedNonPaid); err != nil {
		return fmt.Errorf("update enrollment balance: %w", err)
	}
	return nil
}

// DeleteWithTx removes the enrollment; its sessions cascade.
func (r *EnrollmentRepository) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}
