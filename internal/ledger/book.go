package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

// BatchSize is the number of attended sessions that become payable together.
const BatchSize = 4

// IDFunc issues identifiers for sessions created by the book.
type IDFunc func() string

// NewID returns a time-ordered UUIDv7 so ids created together keep creation order.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Change is everything a book operation needs persisted.
type Change struct {
	Created []models.Session
	Updated []models.Session
	Deleted []string
	Delta   Delta
}

// Empty reports whether the change writes nothing.
func (c Change) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0 && c.Delta.IsZero()
}

// Book is the in-memory session ledger of one enrollment. Operations mutate the
// book and accumulate a Change; nothing is persisted here.
type Book struct {
	enrollmentID string
	price        decimal.Decimal
	sessions     []*models.Session
	created      map[string]struct{}
	touched      map[string]struct{}
	deleted      []string
	newID        IDFunc
	delta        Delta
}

// NewBook loads the sessions of enrollmentID priced at price.
func NewBook(enrollmentID string, price decimal.Decimal, sessions []models.Session, newID IDFunc) *Book {
	if newID == nil {
		newID = NewID
	}
	b := &Book{
		enrollmentID: enrollmentID,
		price:        price,
		sessions:     make([]*models.Session, 0, len(sessions)),
		created:      map[string]struct{}{},
		touched:      map[string]struct{}{},
		newID:        newID,
	}
	for i := range sessions {
		s := sessions[i]
		b.sessions = append(b.sessions, &s)
	}
	return b
}

// Sessions returns a copy of the current sessions in canonical order.
func (b *Book) Sessions() []models.Session {
	out := make([]models.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		out = append(out, *s)
	}
	SortCanonical(out)
	return out
}

// Attend records one attended class in w. The oldest pre-paid slot without an
// attendance is claimed first and stays paid. Otherwise an unused future slot is
// reused before a new session is appended. Returns the number of sessions billed
// by the accrual pass that follows.
func (b *Book) Attend(w Window, at time.Time) int {
	if slot := b.firstPrepaid(); slot != nil {
		b.setWindow(slot, w)
		return 0
	}
	s := b.firstFuture()
	if s == nil {
		s = b.append(models.SessionFuture, at)
	}
	b.setWindow(s, w)
	b.transition(s, models.SessionAttendedNotDue, at)
	b.delta.AttendedNonPaid++
	return b.Accrue(at)
}

// Absent records one missed class in w. Absences carry no money.
func (b *Book) Absent(w Window, at time.Time) {
	s := b.append(models.SessionAbsent, at)
	b.setWindow(s, w)
}

// Accrue bills complete batches of attended, unbilled sessions. The most
// recent BatchSize·k sessions of the not-due pool (canonical order) become due.
func (b *Book) Accrue(at time.Time) int {
	pool := b.filter(func(s *models.Session) bool { return s.Status == models.SessionAttendedNotDue }, canonical)
	billable := len(pool) / BatchSize * BatchSize
	if billable == 0 {
		return 0
	}
	for _, s := range pool[len(pool)-billable:] {
		b.transition(s, models.SessionAttendedDue, at)
	}
	b.delta.Unpaid = b.delta.Unpaid.Add(b.amount(billable))
	return billable
}

// UnmarkAttendance reverts up to n attended, unpaid sessions to future, most
// recently changed first, and returns how many were reverted. A batch that loses
// a session is no longer complete: its remaining due sessions go back to not-due
// and accrual re-runs over the pool.
func (b *Book) UnmarkAttendance(n int, at time.Time) int {
	picked := b.pick(n, func(s *models.Session) bool { return s.Status.Unsettled() }, recent)
	broken := map[int64]struct{}{}
	for _, s := range picked {
		if s.Status == models.SessionAttendedDue {
			broken[s.LastStatusChangedAt.UnixNano()] = struct{}{}
			b.delta.Unpaid = b.delta.Unpaid.Sub(b.price)
		}
		b.delta.AttendedNonPaid--
		b.clearWindow(s)
		b.transition(s, models.SessionFuture, at)
	}
	if len(broken) == 0 {
		return len(picked)
	}

	// Sessions billed together share the billing timestamp.
	for _, s := range b.sessions {
		if s.Status != models.SessionAttendedDue {
			continue
		}
		if _, ok := broken[s.LastStatusChangedAt.UnixNano()]; !ok {
			continue
		}
		s.Status = models.SessionAttendedNotDue
		b.touched[s.ID] = struct{}{}
		b.delta.Unpaid = b.delta.Unpaid.Sub(b.price)
	}
	b.Accrue(at)
	return len(picked)
}

// Pay settles n sessions oldest first among future, not-due and due sessions.
// Missing sessions are created as pre-paid slots, so paying never falls short.
// Returns how many slots had to be created.
func (b *Book) Pay(n int, at time.Time) int {
	if n <= 0 {
		return 0
	}
	picked := b.pick(n, func(s *models.Session) bool {
		return s.Status == models.SessionFuture || s.Status.Unsettled()
	}, canonical)
	missing := n - len(picked)
	for i := 0; i < missing; i++ {
		picked = append(picked, b.append(models.SessionFuture, at))
	}
	for _, s := range picked {
		switch s.Status {
		case models.SessionAttendedDue:
			b.delta.Unpaid = b.delta.Unpaid.Sub(b.price)
			b.delta.AttendedNonPaid--
		case models.SessionAttendedNotDue:
			b.delta.AttendedNonPaid--
		}
		paidAt := at
		s.PaidAt = &paidAt
		b.transition(s, models.SessionAttendedPaid, at)
	}
	b.delta.Paid = b.delta.Paid.Add(b.amount(n))
	return missing
}

// UnmarkPayment reverts up to n paid sessions, most recently paid first, then
// re-runs accrual over the grown not-due pool. Sessions that were attended go
// back to not-due; pre-paid slots that were never attended go back to future.
func (b *Book) UnmarkPayment(n int, at time.Time) int {
	picked := b.pick(n, func(s *models.Session) bool { return s.Status == models.SessionAttendedPaid }, recent)
	for _, s := range picked {
		s.PaidAt = nil
		if s.HasAttendance() {
			b.transition(s, models.SessionAttendedNotDue, at)
			b.delta.AttendedNonPaid++
		} else {
			b.transition(s, models.SessionFuture, at)
		}
	}
	b.delta.Paid = b.delta.Paid.Sub(b.amount(len(picked)))
	b.Accrue(at)
	return len(picked)
}

// UnmarkAbsence deletes up to n absences, most recently recorded first.
func (b *Book) UnmarkAbsence(n int) int {
	picked := b.pick(n, func(s *models.Session) bool { return s.Status == models.SessionAbsent }, recent)
	for _, s := range picked {
		b.remove(s)
	}
	return len(picked)
}

// Change returns the accumulated writes and counter delta.
func (b *Book) Change() Change {
	c := Change{Delta: b.delta}
	for _, s := range b.sessions {
		if _, ok := b.created[s.ID]; ok {
			c.Created = append(c.Created, *s)
			continue
		}
		if _, ok := b.touched[s.ID]; ok {
			c.Updated = append(c.Updated, *s)
		}
	}
	SortCanonical(c.Created)
	SortCanonical(c.Updated)
	c.Deleted = append(c.Deleted, b.deleted...)
	return c
}

type ordering int

const (
	canonical ordering = iota
	recent
)

func (b *Book) filter(match func(*models.Session) bool, order ordering) []*models.Session {
	var out []*models.Session
	for _, s := range b.sessions {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == recent {
			return moreRecent(*out[i], *out[j])
		}
		return Less(*out[i], *out[j])
	})
	return out
}

func (b *Book) pick(n int, match func(*models.Session) bool, order ordering) []*models.Session {
	if n <= 0 {
		return nil
	}
	candidates := b.filter(match, order)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func (b *Book) firstFuture() *models.Session {
	futures := b.filter(func(s *models.Session) bool { return s.Status == models.SessionFuture }, canonical)
	if len(futures) == 0 {
		return nil
	}
	return futures[0]
}

func (b *Book) firstPrepaid() *models.Session {
	slots := b.filter(func(s *models.Session) bool {
		return s.Status == models.SessionAttendedPaid && !s.HasAttendance()
	}, canonical)
	if len(slots) == 0 {
		return nil
	}
	return slots[0]
}

func (b *Book) append(status models.SessionStatus, at time.Time) *models.Session {
	s := &models.Session{
		ID:                  b.newID(),
		EnrollmentID:        b.enrollmentID,
		Status:              status,
		LastStatusChangedAt: at,
		CreatedAt:           at,
	}
	b.sessions = append(b.sessions, s)
	b.created[s.ID] = struct{}{}
	return s
}

func (b *Book) remove(target *models.Session) {
	for i, s := range b.sessions {
		if s != target {
			continue
		}
		b.sessions = append(b.sessions[:i], b.sessions[i+1:]...)
		break
	}
	if _, ok := b.created[target.ID]; ok {
		delete(b.created, target.ID)
		return
	}
	delete(b.touched, target.ID)
	b.deleted = append(b.deleted, target.ID)
}

func (b *Book) transition(s *models.Session, status models.SessionStatus, at time.Time) {
	s.Status = status
	s.LastStatusChangedAt = at
	b.touched[s.ID] = struct{}{}
}

func (b *Book) setWindow(s *models.Session, w Window) {
	date := w.Date
	start, end := w.Start.String(), w.End.String()
	s.AttendedOn = &date
	s.StartTime = &start
	s.EndTime = &end
	b.touched[s.ID] = struct{}{}
}

func (b *Book) clearWindow(s *models.Session) {
	s.AttendedOn = nil
	s.StartTime = nil
	s.EndTime = nil
}

func (b *Book) amount(classes int) decimal.Decimal {
	return b.price.Mul(decimal.NewFromInt(int64(classes)))
}
