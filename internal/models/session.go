package models

import "time"

// SessionStatus is the ledger state of a single class occurrence.
type SessionStatus string

// Session lifecycle states.
const (
	SessionFuture         SessionStatus = "future"
	SessionAttendedNotDue SessionStatus = "attended_not_due"
	SessionAttendedDue    SessionStatus = "attended_due"
	SessionAttendedPaid   SessionStatus = "attended_paid"
	SessionAbsent         SessionStatus = "absent"
)

// Valid reports whether s is a known session status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionFuture, SessionAttendedNotDue, SessionAttendedDue, SessionAttendedPaid, SessionAbsent:
		return true
	}
	return false
}

// Unsettled reports whether the session still counts towards attended_non_paid_classes.
func (s SessionStatus) Unsettled() bool {
	return s == SessionAttendedNotDue || s == SessionAttendedDue
}

// Session is one class occurrence booked against an enrollment.
type Session struct {
	ID                  string        `db:"id" json:"id"`
	EnrollmentID        string        `db:"enrollment_id" json:"enrollment_id"`
	Status              SessionStatus `db:"status" json:"status"`
	AttendedOn          *time.Time    `db:"attended_on" json:"attended_on,omitempty"`
	StartTime           *string       `db:"start_time" json:"start_time,omitempty"`
	EndTime             *string       `db:"end_time" json:"end_time,omitempty"`
	PaidAt              *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	LastStatusChangedAt time.Time     `db:"last_status_changed_at" json:"last_status_changed_at"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
}

// HasAttendance reports whether the session carries an attendance or absence record.
func (s Session) HasAttendance() bool {
	return s.AttendedOn != nil
}
