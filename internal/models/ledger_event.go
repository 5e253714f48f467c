package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventType names a ledger-affecting mutation that downstream notifiers react to.
type LedgerEventType string

// Ledger event types.
const (
	EventAttendanceMarked   LedgerEventType = "attendance_marked"
	EventAttendanceUnmarked LedgerEventType = "attendance_unmarked"
	EventAbsenceMarked      LedgerEventType = "absence_marked"
	EventAbsenceUnmarked    LedgerEventType = "absence_unmarked"
	EventPaymentMarked      LedgerEventType = "payment_marked"
	EventPaymentUnmarked    LedgerEventType = "payment_unmarked"
	EventScheduleOverlap    LedgerEventType = "schedule_overlap"
	EventStudentJoined      LedgerEventType = "student_joined"
	EventStudentRemoved     LedgerEventType = "student_removed"
)

// LedgerEvent is the outbox record emitted for every committed mutation.
type LedgerEvent struct {
	ID              string          `db:"id" json:"id"`
	Type            LedgerEventType `db:"type" json:"type"`
	TeacherID       string          `db:"teacher_id" json:"teacher_id"`
	GroupID         string          `db:"group_id" json:"group_id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	NumberOfClasses int             `db:"number_of_classes" json:"number_of_classes"`
	PaidDelta       decimal.Decimal `db:"paid_delta" json:"paid_delta"`
	UnpaidDelta     decimal.Decimal `db:"unpaid_delta" json:"unpaid_delta"`
	OccurredAt      time.Time       `db:"occurred_at" json:"occurred_at"`
	DispatchedAt    *time.Time      `db:"dispatched_at" json:"dispatched_at,omitempty"`
}
