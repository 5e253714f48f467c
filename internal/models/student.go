package models

// Student is the read-only projection of a learner owned by the account service.
type Student struct {
	ID        string  `db:"id" json:"id"`
	FullName  string  `db:"full_name" json:"fullname"`
	Image     string  `db:"image" json:"image"`
	LevelID   *string `db:"level_id" json:"level_id,omitempty"`
	SectionID *string `db:"section_id" json:"section_id,omitempty"`
}
