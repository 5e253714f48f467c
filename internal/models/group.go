package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Group is a teacher-owned recurring class slot.
type Group struct {
	ID                       string          `db:"id" json:"id"`
	TeacherID                string          `db:"teacher_id" json:"teacher_id"`
	TeacherSubjectID         string          `db:"teacher_subject_id" json:"teacher_subject_id"`
	WeekDay                  int             `db:"week_day" json:"week_day"`
	StartTime                string          `db:"start_time" json:"start_time"`
	EndTime                  string          `db:"end_time" json:"end_time"`
	TemporaryWeekDay         *int            `db:"temporary_week_day" json:"temporary_week_day,omitempty"`
	TemporaryStartTime       *string         `db:"temporary_start_time" json:"temporary_start_time,omitempty"`
	TemporaryEndTime         *string         `db:"temporary_end_time" json:"temporary_end_time,omitempty"`
	ClearTemporaryScheduleAt *time.Time      `db:"clear_temporary_schedule_at" json:"clear_temporary_schedule_at,omitempty"`
	TotalPaid                decimal.Decimal `db:"total_paid" json:"total_paid"`
	TotalUnpaid              decimal.Decimal `db:"total_unpaid" json:"total_unpaid"`
	CreatedAt                time.Time       `db:"created_at" json:"created_at"`
}

// EffectiveSchedule returns the weekday and time window in force at now: the
// temporary schedule while it is set and unexpired, otherwise the permanent one.
func (g Group) EffectiveSchedule(now time.Time) (weekDay int, start, end string) {
	if g.TemporaryStartTime != nil && g.TemporaryEndTime != nil &&
		(g.ClearTemporaryScheduleAt == nil || now.Before(*g.ClearTemporaryScheduleAt)) {
		weekDay = g.WeekDay
		if g.TemporaryWeekDay != nil {
			weekDay = *g.TemporaryWeekDay
		}
		return weekDay, *g.TemporaryStartTime, *g.TemporaryEndTime
	}
	return g.WeekDay, g.StartTime, g.EndTime
}
