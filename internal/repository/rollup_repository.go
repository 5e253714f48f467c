package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// RollupRepository runs the read-only aggregate queries behind the teacher dashboard.
type RollupRepository struct {
	db *sqlx.DB
}

// NewRollupRepository constructs the repository.
func NewRollupRepository(db *sqlx.DB) *RollupRepository {
	return &RollupRepository{db: db}
}

const rollupScope = `FROM sessions s
JOIN enrollments e ON e.id = s.enrollment_id
JOIN groups g ON g.id = e.group_id
JOIN teacher_subjects ts ON ts.id = g.teacher_subject_id
WHERE g.teacher_id = $1`

// PaidCounts counts attended_paid sessions settled inside the window per combination.
func (r *RollupRepository) PaidCounts(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupSessionCount, error) {
	from, until := window.Bounds()
	query := `SELECT ts.level_id, ts.section_id, ts.subject_id, COUNT(*) AS count
` + rollupScope + ` AND s.status = $2
    AND ($3::timestamptz IS NULL OR s.paid_at >= $3)
    AND ($4::timestamptz IS NULL OR s.paid_at < $4)
GROUP BY ts.level_id, ts.section_id, ts.subject_id`
	var counts []models.RollupSessionCount
	if err := r.db.SelectContext(ctx, &counts, query, teacherID, models.SessionAttendedPaid, from, until); err != nil {
		return nil, fmt.Errorf("rollup paid sessions: %w", err)
	}
	return counts, nil
}

// DueCounts counts attended_due sessions attended inside the window per combination.
func (r *RollupRepository) DueCounts(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupSessionCount, error) {
	start, end := window.Dates()
	query := `SELECT ts.level_id, ts.section_id, ts.subject_id, COUNT(*) AS count
` + rollupScope + ` AND s.status = $2
    AND ($3::date IS NULL OR s.attended_on >= $3)
    AND ($4::date IS NULL OR s.attended_on <= $4)
GROUP BY ts.level_id, ts.section_id, ts.subject_id`
	var counts []models.RollupSessionCount
	if err := r.db.SelectContext(ctx, &counts, query, teacherID, models.SessionAttendedDue, start, end); err != nil {
		return nil, fmt.Errorf("rollup due sessions: %w", err)
	}
	return counts, nil
}

// Enrollments lists the enrollments active in the window with their combination.
func (r *RollupRepository) Enrollments(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupEnrollment, error) {
	start, end := window.Dates()
	const query = `SELECT e.student_id, e.joined_on, ts.level_id, ts.section_id, ts.subject_id
FROM enrollments e
JOIN groups g ON g.id = e.group_id
JOIN teacher_subjects ts ON ts.id = g.teacher_subject_id
WHERE g.teacher_id = $1
    AND ($2::date IS NULL OR e.joined_on >= $2)
    AND ($3::date IS NULL OR e.joined_on <= $3)`
	var enrollments []models.RollupEnrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, teacherID, start, end); err != nil {
		return nil, fmt.Errorf("rollup enrollments: %w", err)
	}
	return enrollments, nil
}
