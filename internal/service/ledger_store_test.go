package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/ledger"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

var errStorage = errors.New("storage unavailable")

// memLedger is an in-memory stand-in for the ledger tables. Every repository
// interface the ledger services consume is implemented on it.
type memLedger struct {
	groups             map[string]models.Group
	prices             map[string]models.Price
	students           map[string]models.Student
	enrollments        map[string]models.Enrollment
	teacherEnrollments map[string]models.TeacherEnrollment
	sessions           map[string]models.Session
	events             []models.LedgerEvent
	locks              []string

	failBalanceFor string
}

func newMemLedger() *memLedger {
	return &memLedger{
		groups:             map[string]models.Group{},
		prices:             map[string]models.Price{},
		students:           map[string]models.Student{},
		enrollments:        map[string]models.Enrollment{},
		teacherEnrollments: map[string]models.TeacherEnrollment{},
		sessions:           map[string]models.Session{},
	}
}

func (m *memLedger) addGroup(id, teacherID string, price int64) {
	m.groups[id] = models.Group{ID: id, TeacherID: teacherID, WeekDay: 1, StartTime: "16:00", EndTime: "17:00"}
	if price > 0 {
		m.prices[id] = models.Price{ID: "price-" + id, TeacherID: teacherID, Amount: decimal.NewFromInt(price)}
	}
}

func (m *memLedger) enroll(groupID string, studentIDs ...string) {
	for _, id := range studentIDs {
		if _, ok := m.students[id]; !ok {
			m.students[id] = models.Student{ID: id, FullName: "Student " + strings.ToUpper(id), Image: id + ".png"}
		}
		eid := "enr-" + groupID + "-" + id
		m.enrollments[eid] = models.Enrollment{ID: eid, GroupID: groupID, StudentID: id}
	}
}

func (m *memLedger) findEnrollment(groupID, studentID string) (models.Enrollment, bool) {
	for _, e := range m.enrollments {
		if e.GroupID == groupID && e.StudentID == studentID {
			return e, true
		}
	}
	return models.Enrollment{}, false
}

func (m *memLedger) enrollmentOf(groupID, studentID string) models.Enrollment {
	e, _ := m.findEnrollment(groupID, studentID)
	return e
}

func (m *memLedger) snapshot() *memLedger {
	cp := newMemLedger()
	for k, v := range m.groups {
		cp.groups[k] = v
	}
	for k, v := range m.prices {
		cp.prices[k] = v
	}
	for k, v := range m.students {
		cp.students[k] = v
	}
	for k, v := range m.enrollments {
		cp.enrollments[k] = v
	}
	for k, v := range m.teacherEnrollments {
		cp.teacherEnrollments[k] = v
	}
	for k, v := range m.sessions {
		cp.sessions[k] = v
	}
	cp.events = append(cp.events, m.events...)
	return cp
}

func (m *memLedger) restore(s *memLedger) {
	m.groups = s.groups
	m.prices = s.prices
	m.students = s.students
	m.enrollments = s.enrollments
	m.teacherEnrollments = s.teacherEnrollments
	m.sessions = s.sessions
	m.events = s.events
}

// WithinTx runs fn against the store and rolls every write back when it fails.
func (m *memLedger) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	snap := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memLedger) FindOwned(ctx context.Context, id, teacherID string) (*models.Group, error) {
	g, ok := m.groups[id]
	if !ok || g.TeacherID != teacherID {
		return nil, sql.ErrNoRows
	}
	return &g, nil
}

func (m *memLedger) AddTotalsWithTx(ctx context.Context, tx *sqlx.Tx, id string, paid, unpaid decimal.Decimal) error {
	g := m.groups[id]
	g.TotalPaid = decimal.Max(decimal.Zero, g.TotalPaid.Add(paid))
	g.TotalUnpaid = decimal.Max(decimal.Zero, g.TotalUnpaid.Add(unpaid))
	m.groups[id] = g
	return nil
}

func (m *memLedger) FindByGroup(ctx context.Context, groupID string) (*models.Price, error) {
	p, ok := m.prices[groupID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (m *memLedger) ListEnrolledInGroup(ctx context.Context, groupID string, ids []string) ([]models.Student, error) {
	var out []models.Student
	for _, id := range ids {
		if _, ok := m.findEnrollment(groupID, id); ok {
			out = append(out, m.students[id])
		}
	}
	return out, nil
}

func (m *memLedger) FindByID(ctx context.Context, id string) (*models.Student, error) {
	st, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

func (m *memLedger) FindByGroupAndStudent(ctx context.Context, groupID, studentID string) (*models.Enrollment, error) {
	e, ok := m.findEnrollment(groupID, studentID)
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (m *memLedger) CreateWithTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) (bool, error) {
	if _, ok := m.findEnrollment(enrollment.GroupID, enrollment.StudentID); ok {
		return false, nil
	}
	m.enrollments[enrollment.ID] = *enrollment
	return true, nil
}

func (m *memLedger) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	delete(m.enrollments, id)
	for sid, s := range m.sessions {
		if s.EnrollmentID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

func (m *memLedger) LockWithTx(ctx context.Context, tx *sqlx.Tx, groupID, studentID string) (*models.Enrollment, error) {
	m.locks = append(m.locks, "enrollment:"+groupID+"|"+studentID)
	e, ok := m.findEnrollment(groupID, studentID)
	if !ok {
		return nil, fmt.Errorf("lock enrollment: %w", sql.ErrNoRows)
	}
	return &e, nil
}

func (m *memLedger) UpdateBalanceWithTx(ctx context.Context, tx *sqlx.Tx, id string, paid, unpaid decimal.Decimal, attendedNonPaid int) error {
	e := m.enrollments[id]
	if m.failBalanceFor != "" && e.StudentID == m.failBalanceFor {
		return errStorage
	}
	e.PaidAmount, e.UnpaidAmount, e.AttendedNonPaidClasses = paid, unpaid, attendedNonPaid
	m.enrollments[id] = e
	return nil
}

// memTeacherEnrollments exposes the teacher-enrollment methods whose names
// collide with the enrollment store.
type memTeacherEnrollments struct{ *memLedger }

func (m memTeacherEnrollments) EnsureWithTx(ctx context.Context, tx *sqlx.Tx, id, teacherID, studentID string, createdAt time.Time) error {
	key := teacherID + "|" + studentID
	if _, ok := m.teacherEnrollments[key]; !ok {
		m.teacherEnrollments[key] = models.TeacherEnrollment{ID: id, TeacherID: teacherID, StudentID: studentID, CreatedAt: createdAt}
	}
	return nil
}

func (m memTeacherEnrollments) LockWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string) (*models.TeacherEnrollment, error) {
	m.locks = append(m.locks, "teacher_enrollment:"+teacherID+"|"+studentID)
	te, ok := m.teacherEnrollments[teacherID+"|"+studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &te, nil
}

func (m memTeacherEnrollments) AddBalanceWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string, paid, unpaid decimal.Decimal) error {
	key := teacherID + "|" + studentID
	te := m.teacherEnrollments[key]
	te.PaidAmount = decimal.Max(decimal.Zero, te.PaidAmount.Add(paid))
	te.UnpaidAmount = decimal.Max(decimal.Zero, te.UnpaidAmount.Add(unpaid))
	m.teacherEnrollments[key] = te
	return nil
}

// memSessions exposes the session methods whose names collide with other stores.
type memSessions struct{ *memLedger }

func (m memSessions) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Session, error) {
	return m.sessionsOf(enrollmentID), nil
}

func (m memSessions) ListByEnrollmentForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string) ([]models.Session, error) {
	return m.sessionsOf(enrollmentID), nil
}

func (m memSessions) ListRecordedOnDateWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string, date time.Time) ([]models.Session, error) {
	day := date.Format(ledger.DateLayout)
	var out []models.Session
	for _, s := range m.sessions {
		e := m.enrollments[s.EnrollmentID]
		if e.StudentID != studentID || m.groups[e.GroupID].TeacherID != teacherID {
			continue
		}
		if s.Status == models.SessionFuture || s.AttendedOn == nil || s.AttendedOn.Format(ledger.DateLayout) != day {
			continue
		}
		out = append(out, s)
	}
	ledger.SortCanonical(out)
	return out, nil
}

func (m memSessions) CreateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error {
	for _, s := range sessions {
		if _, ok := m.sessions[s.ID]; ok {
			return fmt.Errorf("duplicate session %s", s.ID)
		}
		m.sessions[s.ID] = s
	}
	return nil
}

func (m memSessions) UpdateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error {
	for _, s := range sessions {
		if _, ok := m.sessions[s.ID]; !ok {
			return fmt.Errorf("update missing session %s", s.ID)
		}
		m.sessions[s.ID] = s
	}
	return nil
}

func (m memSessions) DeleteWithTx(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	for _, id := range ids {
		delete(m.sessions, id)
	}
	return nil
}

// memEvents is the outbox side of the store.
type memEvents struct{ *memLedger }

func (m memEvents) CreateWithTx(ctx context.Context, tx *sqlx.Tx, events []models.LedgerEvent) error {
	m.events = append(m.events, events...)
	return nil
}

func (m *memLedger) sessionsOf(enrollmentID string) []models.Session {
	var out []models.Session
	for _, s := range m.sessions {
		if s.EnrollmentID == enrollmentID {
			out = append(out, s)
		}
	}
	ledger.SortCanonical(out)
	return out
}

func (m *memLedger) countStatus(enrollmentID string, status models.SessionStatus) int {
	n := 0
	for _, s := range m.sessionsOf(enrollmentID) {
		if s.Status == status {
			n++
		}
	}
	return n
}

// requireConsistent checks the cached counters against the sessions and the
// group and teacher totals against the enrollments beneath them.
func (m *memLedger) requireConsistent(t *testing.T) {
	t.Helper()
	groupPaid := map[string]decimal.Decimal{}
	groupUnpaid := map[string]decimal.Decimal{}
	teacherPaid := map[string]decimal.Decimal{}
	teacherUnpaid := map[string]decimal.Decimal{}

	ids := make([]string, 0, len(m.enrollments))
	for id := range m.enrollments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := m.enrollments[id]
		want := ledger.Summarize(m.prices[e.GroupID].Amount, m.sessionsOf(id))
		require.Truef(t, want.Equal(ledger.BalanceOf(e)), "enrollment %s: counters %+v, sessions imply %+v", id, ledger.BalanceOf(e), want)

		groupPaid[e.GroupID] = groupPaid[e.GroupID].Add(e.PaidAmount)
		groupUnpaid[e.GroupID] = groupUnpaid[e.GroupID].Add(e.UnpaidAmount)
		key := m.groups[e.GroupID].TeacherID + "|" + e.StudentID
		teacherPaid[key] = teacherPaid[key].Add(e.PaidAmount)
		teacherUnpaid[key] = teacherUnpaid[key].Add(e.UnpaidAmount)
	}
	for id, g := range m.groups {
		require.Truef(t, g.TotalPaid.Equal(groupPaid[id]), "group %s total_paid %s, enrollments sum %s", id, g.TotalPaid, groupPaid[id])
		require.Truef(t, g.TotalUnpaid.Equal(groupUnpaid[id]), "group %s total_unpaid %s, enrollments sum %s", id, g.TotalUnpaid, groupUnpaid[id])
	}
	for key, te := range m.teacherEnrollments {
		require.Truef(t, te.PaidAmount.Equal(teacherPaid[key]), "teacher enrollment %s paid %s, enrollments sum %s", key, te.PaidAmount, teacherPaid[key])
		require.Truef(t, te.UnpaidAmount.Equal(teacherUnpaid[key]), "teacher enrollment %s unpaid %s, enrollments sum %s", key, te.UnpaidAmount, teacherUnpaid[key])
	}
}

type recordingDispatcher struct{ events []models.LedgerEvent }

func (d *recordingDispatcher) Dispatch(events []models.LedgerEvent) {
	d.events = append(d.events, events...)
}

type recordingInvalidator struct{ teachers []string }

func (r *recordingInvalidator) InvalidateTeacher(ctx context.Context, teacherID string) {
	r.teachers = append(r.teachers, teacherID)
}

func sequentialIDs(prefix string) ledger.IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}

func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}
