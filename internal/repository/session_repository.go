package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// SessionRepository persists the class sessions of enrollments.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func sessionColumns(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	cols := []string{
		p + "id",
		p + "enrollment_id",
		p + "status",
		p + "attended_on",
		"to_char(" + p + "start_time, 'HH24:MI') AS start_time",
		"to_char(" + p + "end_time, 'HH24:MI') AS end_time",
		p + "paid_at",
		p + "last_status_changed_at",
		p + "created_at",
	}
	return strings.Join(cols, ", ")
}

const sessionCanonicalOrder = `ORDER BY attended_on ASC NULLS LAST, start_time ASC NULLS LAST, id ASC`

// ListByEnrollment returns every session of the enrollment in canonical order.
func (r *SessionRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns("") + ` FROM sessions WHERE enrollment_id = $1 ` + sessionCanonicalOrder
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// ListByEnrollmentForUpdateWithTx loads and locks every session of the enrollment.
func (r *SessionRepository) ListByEnrollmentForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string) ([]models.Session, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	query := `SELECT ` + sessionColumns("") + ` FROM sessions WHERE enrollment_id = $1 ` + sessionCanonicalOrder + ` FOR UPDATE`
	var sessions []models.Session
	if err := tx.SelectContext(ctx, &sessions, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("lock sessions: %w", err)
	}
	return sessions, nil
}

// ListRecordedOnDateWithTx returns the attended or absent sessions of a student on
// date across every group of the teacher.
func (r *SessionRepository) ListRecordedOnDateWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string, date time.Time) ([]models.Session, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	query := `SELECT ` + sessionColumns("s") + `
FROM sessions s
JOIN enrollments e ON e.id = s.enrollment_id
JOIN groups g ON g.id = e.group_id
WHERE g.teacher_id = $1 AND e.student_id = $2 AND s.attended_on = $3 AND s.status <> $4`
	var sessions []models.Session
	if err := tx.SelectContext(ctx, &sessions, query, teacherID, studentID, date.Format("2006-01-02"), models.SessionFuture); err != nil {
		return nil, fmt.Errorf("list sessions on date: %w", err)
	}
	return sessions, nil
}

// CreateWithTx inserts new sessions.
func (r *SessionRepository) CreateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `INSERT INTO sessions (id, enrollment_id, status, attended_on, start_time, end_time, paid_at, last_status_changed_at, created_at)
VALUES (:id, :enrollment_id, :status, :attended_on, :start_time, :end_time, :paid_at, :last_status_changed_at, :created_at)`
	for i := range sessions {
		if _, err := sqlx.NamedExecContext(ctx, tx, query, &sessions[i]); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
	}
	return nil
}

// UpdateWithTx writes back the mutable fields of existing sessions.
func (r *SessionRepository) UpdateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	const query = `UPDATE sessions SET status = :status, attended_on = :attended_on, start_time = :start_time, end_time = :end_time,
paid_at = :paid_at, last_status_changed_at = :last_status_changed_at WHERE id = :id`
	for i := range sessions {
		if _, err := sqlx.NamedExecContext(ctx, tx, query, &sessions[i]); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}
	return nil
}

// DeleteWithTx removes sessions by id.
func (r *SessionRepository) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}
