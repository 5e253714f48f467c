package models

import "time"

// RollupEnrollment is an enrollment flattened with the catalog combination of its group.
type RollupEnrollment struct {
	StudentID string    `db:"student_id"`
	JoinedOn  time.Time `db:"joined_on"`
	LevelID   string    `db:"level_id"`
	SectionID *string   `db:"section_id"`
	SubjectID string    `db:"subject_id"`
}

// RollupSessionCount counts sessions per catalog combination.
type RollupSessionCount struct {
	LevelID   string  `db:"level_id"`
	SectionID *string `db:"section_id"`
	SubjectID string  `db:"subject_id"`
	Count     int     `db:"count"`
}

// RollupWindow bounds a rollup by calendar days, both inclusive. Start and End are
// midnights in the ledger time zone; a nil bound is open.
type RollupWindow struct {
	Start *time.Time
	End   *time.Time
}

// Bounds returns the half-open instant range [Start, End+1 day) used for timestamps.
func (w RollupWindow) Bounds() (from, until *time.Time) {
	if w.Start != nil {
		s := *w.Start
		from = &s
	}
	if w.End != nil {
		e := w.End.AddDate(0, 0, 1)
		until = &e
	}
	return from, until
}

// Dates returns the inclusive bounds as YYYY-MM-DD strings used for DATE columns.
func (w RollupWindow) Dates() (start, end *string) {
	if w.Start != nil {
		s := w.Start.Format("2006-01-02")
		start = &s
	}
	if w.End != nil {
		e := w.End.Format("2006-01-02")
		end = &e
	}
	return start, end
}
