package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarkSessionRequest marks attendance or absence for students of a group.
// When Automatic is set the group's effective schedule supplies the window.
type MarkSessionRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,dive,required"`
	Automatic  bool     `json:"automatic"`
	Date       string   `json:"date" validate:"required_without=Automatic"`
	StartTime  string   `json:"start_time" validate:"required_without=Automatic"`
	EndTime    string   `json:"end_time" validate:"required_without=Automatic"`
}

// UnmarkRequest reverts classes for students of a group.
type UnmarkRequest struct {
	StudentIDs      []string `json:"student_ids" validate:"required,min=1,dive,required"`
	NumberOfClasses int      `json:"number_of_classes" validate:"required,min=1"`
}

// MarkPaymentRequest settles classes for students of a group.
type MarkPaymentRequest struct {
	StudentIDs      []string   `json:"student_ids" validate:"required,min=1,dive,required"`
	NumberOfClasses int        `json:"number_of_classes" validate:"required,min=1"`
	PaymentDateTime *time.Time `json:"payment_datetime,omitempty"`
}

// StudentException identifies a student that was skipped or only partly processed.
type StudentException struct {
	ID       string `json:"id"`
	Image    string `json:"image"`
	FullName string `json:"fullname"`
}

// MissingStudent reports a student whose unmark request could not be fully satisfied.
type MissingStudent struct {
	StudentException
	MissingNumberOfClasses int `json:"missing_number_of_classes"`
}

// MarkResult is returned by attendance and absence marking.
type MarkResult struct {
	MarkedCount         int                `json:"marked_count"`
	OverlappingStudents []StudentException `json:"overlapping_students"`
}

// UnmarkResult is returned by every unmark operation.
type UnmarkResult struct {
	CompletelyUnmarkedCount int              `json:"completely_unmarked_count"`
	MissingStudents         []MissingStudent `json:"missing_students"`
}

// PaymentResult is returned by payment marking.
type PaymentResult struct {
	MarkedCount int             `json:"marked_count"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
}
