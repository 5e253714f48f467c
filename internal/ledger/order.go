package ledger

import (
	"sort"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// Less orders sessions canonically by (date, start time, id). Sessions without
// a date are pre-booked slots and sort after every dated session.
func Less(a, b models.Session) bool {
	switch {
	case a.AttendedOn == nil && b.AttendedOn != nil:
		return false
	case a.AttendedOn != nil && b.AttendedOn == nil:
		return true
	case a.AttendedOn != nil && b.AttendedOn != nil:
		da, db := a.AttendedOn.Format(DateLayout), b.AttendedOn.Format(DateLayout)
		if da != db {
			return da < db
		}
		if sa, sb := startOf(a), startOf(b); sa != sb {
			return sa < sb
		}
	}
	return a.ID < b.ID
}

// SortCanonical sorts sessions in place, oldest first.
func SortCanonical(sessions []models.Session) {
	sort.SliceStable(sessions, func(i, j int) bool { return Less(sessions[i], sessions[j]) })
}

// moreRecent orders by last status change, newest first, falling back to
// reverse canonical order for changes recorded at the same instant.
func moreRecent(a, b models.Session) bool {
	if !a.LastStatusChangedAt.Equal(b.LastStatusChangedAt) {
		return a.LastStatusChangedAt.After(b.LastStatusChangedAt)
	}
	return Less(b, a)
}

func startOf(s models.Session) Clock {
	if s.StartTime == nil {
		return 0
	}
	c, err := ParseClock(*s.StartTime)
	if err != nil {
		return 0
	}
	return c
}
