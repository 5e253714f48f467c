package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// TeacherEnrollmentRepository maintains the teacher-wide balance of each student.
type TeacherEnrollmentRepository struct {
	db *sqlx.DB
}

// NewTeacherEnrollmentRepository constructs the repository.
func NewTeacherEnrollmentRepository(db *sqlx.DB) *TeacherEnrollmentRepository {
	return &TeacherEnrollmentRepository{db: db}
}

// EnsureWithTx creates the teacher enrollment when it does not exist yet.
func (r *TeacherEnrollmentRepository) EnsureWithTx(ctx context.Context, tx *sqlx.Tx, id, teacherID, studentID string, createdAt time.Time) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `INSERT INTO teacher_enrollments (id, teacher_id, student_id, paid_amount, unpaid_amount, created_at)
VALUES ($1, $2, $3, 0, 0, $4) ON CONFLICT (teacher_id, student_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, query, id, teacherID, studentID, createdAt); err != nil {
		return fmt.Errorf("ensure teacher enrollment: %w", err)
	}
	return nil
}

// LockWithTx takes the row lock of the teacher enrollment. Every ledger write for the
// student under this teacher goes through this lock first.
func (r *TeacherEnrollmentRepository) LockWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string) (*models.TeacherEnrollment, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	const query = `SELECT id, teacher_id, student_id, paid_amount, unpaid_amount, created_at
FROM teacher_enrollments WHERE teacher_id = $1 AND student_id = $2 FOR UPDATE`
	var enrollment models.TeacherEnrollment
	if err := tx.GetContext(ctx, &enrollment, query, teacherID, studentID); err != nil {
		return nil, fmt.Errorf("lock teacher enrollment: %w", err)
	}
	return &enrollment, nil
}

// AddBalanceWithTx shifts the teacher-wide balance by the given deltas, never below zero.
func (r *TeacherEnrollmentRepository) AddBalanceWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string, paid, unpaid decimal.Decimal) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `UPDATE teacher_enrollments SET paid_amount = GREATEST(paid_amount + $3, 0), unpaid_amount = GREATEST(unpaid_amount + $4, 0)
WHERE teacher_id = $1 AND student_id = $2`
	if _, err := tx.ExecContext(ctx, query, teacherID, studentID, paid, unpaid); err != nil {
		return fmt.Errorf("update teacher enrollment balance: %w", err)
	}
	return nil
}
