package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// DateLayout is the wire and storage layout of attendance dates.
const DateLayout = "2006-01-02"

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock accepts "15:04" and "15:04:05" (the Postgres TIME text form).
func ParseClock(raw string) (Clock, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return Clock(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", raw)
}

// String renders the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is the date and time span of one attended or missed class.
type Window struct {
	Date  time.Time
	Start Clock
	End   Clock
}

// NewWindow validates and builds a window; end must be strictly after start.
func NewWindow(date time.Time, start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e <= s {
		return Window{}, fmt.Errorf("end time %s must be after start time %s", e, s)
	}
	return Window{Date: DateOnly(date), Start: s, End: e}, nil
}

// Overlaps reports whether both windows fall on the same date and share any minute.
func (w Window) Overlaps(o Window) bool {
	if !sameDate(w.Date, o.Date) {
		return false
	}
	return w.Start < o.End && o.Start < w.End
}

// WindowOf extracts the recorded window of a session, if it carries one.
func WindowOf(s models.Session) (Window, bool) {
	if s.AttendedOn == nil || s.StartTime == nil || s.EndTime == nil {
		return Window{}, false
	}
	start, err := ParseClock(*s.StartTime)
	if err != nil {
		return Window{}, false
	}
	end, err := ParseClock(*s.EndTime)
	if err != nil {
		return Window{}, false
	}
	return Window{Date: DateOnly(*s.AttendedOn), Start: start, End: end}, true
}

// FindOverlap returns the first attended or absent session whose window overlaps w.
func FindOverlap(sessions []models.Session, w Window) (models.Session, bool) {
	for _, s := range sessions {
		if s.Status == models.SessionFuture {
			continue
		}
		if existing, ok := WindowOf(s); ok && existing.Overlaps(w) {
			return s, true
		}
	}
	return models.Session{}, false
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	return a.Format(DateLayout) == b.Format(DateLayout)
}
