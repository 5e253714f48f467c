package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("16:30")
	require.NoError(t, err)
	assert.Equal(t, Clock(16*60+30), c)
	assert.Equal(t, "16:30", c.String())

	c, err = ParseClock("08:05:00")
	require.NoError(t, err)
	assert.Equal(t, "08:05", c.String())

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestNewWindowRejectsInvertedRange(t *testing.T) {
	_, err := NewWindow(time.Now(), "10:00", "10:00")
	assert.Error(t, err)
	_, err = NewWindow(time.Now(), "11:00", "10:00")
	assert.Error(t, err)
}

func TestWindowOverlaps(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	base, _ := NewWindow(day, "10:00", "11:00")

	cases := []struct {
		name       string
		date       time.Time
		start, end string
		want       bool
	}{
		{"inside", day, "10:15", "10:45", true},
		{"straddles start", day, "09:30", "10:30", true},
		{"touches end", day, "11:00", "12:00", false},
		{"touches start", day, "09:00", "10:00", false},
		{"other day", day.AddDate(0, 0, 1), "10:00", "11:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := NewWindow(tc.date, tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.want, base.Overlaps(w))
			assert.Equal(t, tc.want, w.Overlaps(base))
		})
	}
}

func TestFindOverlapIgnoresFutureSlots(t *testing.T) {
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	start, end := "10:00", "11:00"
	sessions := []models.Session{
		{ID: "a", Status: models.SessionFuture, AttendedOn: &day, StartTime: &start, EndTime: &end},
	}
	w, _ := NewWindow(day, "10:30", "11:30")
	_, found := FindOverlap(sessions, w)
	assert.False(t, found)

	sessions = append(sessions, models.Session{ID: "b", Status: models.SessionAbsent, AttendedOn: &day, StartTime: &start, EndTime: &end})
	hit, found := FindOverlap(sessions, w)
	assert.True(t, found)
	assert.Equal(t, "b", hit.ID)
}

func TestSortCanonical(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	early, late := "09:00", "15:00"
	sessions := []models.Session{
		{ID: "undated-b"},
		{ID: "d2-early", AttendedOn: &d2, StartTime: &early},
		{ID: "d1-late", AttendedOn: &d1, StartTime: &late},
		{ID: "undated-a"},
		{ID: "d1-early-y", AttendedOn: &d1, StartTime: &early},
		{ID: "d1-early-x", AttendedOn: &d1, StartTime: &early},
	}
	SortCanonical(sessions)

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"d1-early-x", "d1-early-y", "d1-late", "d2-early", "undated-a", "undated-b"}, ids)
}
