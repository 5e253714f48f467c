package models

import "github.com/shopspring/decimal"

// Price is the per-class amount a teacher charges for a (level, section, subject) combination.
type Price struct {
	ID          string          `db:"id" json:"id"`
	TeacherID   string          `db:"teacher_id" json:"teacher_id"`
	LevelID     string          `db:"level_id" json:"level_id"`
	LevelName   string          `db:"level_name" json:"level_name"`
	SectionID   *string         `db:"section_id" json:"section_id,omitempty"`
	SectionName *string         `db:"section_name" json:"section_name,omitempty"`
	SubjectID   string          `db:"subject_id" json:"subject_id"`
	SubjectName string          `db:"subject_name" json:"subject_name"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
}
