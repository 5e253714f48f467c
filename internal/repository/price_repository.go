package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// PriceRepository reads the per-class prices teachers configure.
type PriceRepository struct {
	db *sqlx.DB
}

// NewPriceRepository constructs the repository.
func NewPriceRepository(db *sqlx.DB) *PriceRepository {
	return &PriceRepository{db: db}
}

const priceSelect = `SELECT p.id, p.teacher_id, p.level_id, l.name AS level_name, p.section_id, sc.name AS section_name,
        p.subject_id, sb.name AS subject_name, p.amount
FROM prices p
JOIN levels l ON l.id = p.level_id
LEFT JOIN sections sc ON sc.id = p.section_id
JOIN subjects sb ON sb.id = p.subject_id`

// FindByGroup returns the price matching the group's (level, section, subject), or sql.ErrNoRows.
func (r *PriceRepository) FindByGroup(ctx context.Context, groupID string) (*models.Price, error) {
	query := priceSelect + `
JOIN teacher_subjects ts ON ts.teacher_id = p.teacher_id AND ts.level_id = p.level_id
    AND ts.subject_id = p.subject_id AND ts.section_id IS NOT DISTINCT FROM p.section_id
JOIN groups g ON g.teacher_subject_id = ts.id
WHERE g.id = $1`
	var price models.Price
	if err := r.db.GetContext(ctx, &price, query, groupID); err != nil {
		return nil, err
	}
	return &price, nil
}

// ListByTeacher returns every price of the teacher ordered by level, section and subject.
func (r *PriceRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Price, error) {
	query := priceSelect + `
WHERE p.teacher_id = $1
ORDER BY l.name, sc.name NULLS FIRST, sb.name`
	var prices []models.Price
	if err := r.db.SelectContext(ctx, &prices, query, teacherID); err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return prices, nil
}
