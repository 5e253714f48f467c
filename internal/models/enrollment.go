package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Enrollment is a student's membership in a group together with its balance counters.
type Enrollment struct {
	ID                     string          `db:"id" json:"id"`
	StudentID              string          `db:"student_id" json:"student_id"`
	GroupID                string          `db:"group_id" json:"group_id"`
	JoinedOn               time.Time       `db:"joined_on" json:"date"`
	PaidAmount             decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	UnpaidAmount           decimal.Decimal `db:"unpaid_amount" json:"unpaid_amount"`
	AttendedNonPaidClasses int             `db:"attended_non_paid_classes" json:"attended_non_paid_classes"`
	CreatedAt              time.Time       `db:"created_at" json:"created_at"`
}

// TeacherEnrollment aggregates a student's balance across all groups of one teacher.
type TeacherEnrollment struct {
	ID           string          `db:"id" json:"id"`
	TeacherID    string          `db:"teacher_id" json:"teacher_id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	PaidAmount   decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	UnpaidAmount decimal.Decimal `db:"unpaid_amount" json:"unpaid_amount"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// EnrollmentLedger is the read model returned for a single enrollment.
type EnrollmentLedger struct {
	Enrollment Enrollment      `json:"enrollment"`
	Price      decimal.Decimal `json:"price"`
	Sessions   []Session       `json:"sessions"`
}
