package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// StudentRepository reads the student projection kept for ledger responses.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository creates a new repository instance.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by id.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, image, level_id, section_id FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListEnrolledInGroup returns the students among ids that are enrolled in groupID.
func (r *StudentRepository) ListEnrolledInGroup(ctx context.Context, groupID string, ids []string) ([]models.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT s.id, s.full_name, s.image, s.level_id, s.section_id
FROM students s
JOIN enrollments e ON e.student_id = s.id
WHERE e.group_id = $1 AND s.id = ANY($2)`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, groupID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return students, nil
}
