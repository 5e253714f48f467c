package dto

// JoinGroupRequest enrolls a student into a group. Date defaults to today.
type JoinGroupRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}
