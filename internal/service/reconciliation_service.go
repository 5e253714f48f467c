package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/ledger"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/logger"
)

// Reconciliation operation names, used as metric and log labels.
const (
	OpMarkAttendance   = "mark_attendance"
	OpUnmarkAttendance = "unmark_attendance"
	OpMarkAbsence      = "mark_absence"
	OpUnmarkAbsence    = "unmark_absence"
	OpMarkPayment      = "mark_payment"
	OpUnmarkPayment    = "unmark_payment"
)

type transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type ledgerGroupRepository interface {
	FindOwned(ctx context.Context, id, teacherID string) (*models.Group, error)
	AddTotalsWithTx(ctx context.Context, tx *sqlx.Tx, id string, paid, unpaid decimal.Decimal) error
}

type ledgerPriceReader interface {
	FindByGroup(ctx context.Context, groupID string) (*models.Price, error)
}

type ledgerStudentReader interface {
	ListEnrolledInGroup(ctx context.Context, groupID string, ids []string) ([]models.Student, error)
}

type ledgerEnrollmentStore interface {
	LockWithTx(ctx context.Context, tx *sqlx.Tx, groupID, studentID string) (*models.Enrollment, error)
	UpdateBalanceWithTx(ctx context.Context, tx *sqlx.Tx, id string, paid, unpaid decimal.Decimal, attendedNonPaid int) error
}

type ledgerTeacherEnrollmentStore interface {
	EnsureWithTx(ctx context.Context, tx *sqlx.Tx, id, teacherID, studentID string, createdAt time.Time) error
	LockWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string) (*models.TeacherEnrollment, error)
	AddBalanceWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string, paid, unpaid decimal.Decimal) error
}

type ledgerSessionStore interface {
	ListByEnrollmentForUpdateWithTx(ctx context.Context, tx *sqlx.Tx, enrollmentID string) ([]models.Session, error)
	ListRecordedOnDateWithTx(ctx context.Context, tx *sqlx.Tx, teacherID, studentID string, date time.Time) ([]models.Session, error)
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error
	UpdateWithTx(ctx context.Context, tx *sqlx.Tx, sessions []models.Session) error
	DeleteWithTx(ctx context.Context, tx *sqlx.Tx, ids []string) error
}

type ledgerEventWriter interface {
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, events []models.LedgerEvent) error
}

type ledgerEventDispatcher interface {
	Dispatch(events []models.LedgerEvent)
}

type rollupInvalidator interface {
	InvalidateTeacher(ctx context.Context, teacherID string)
}

// ReconciliationServiceParams groups constructor dependencies.
type ReconciliationServiceParams struct {
	Tx                 transactor
	Groups             ledgerGroupRepository
	Prices             ledgerPriceReader
	Students           ledgerStudentReader
	Enrollments        ledgerEnrollmentStore
	TeacherEnrollments ledgerTeacherEnrollmentStore
	Sessions           ledgerSessionStore
	Events             ledgerEventWriter
	Dispatcher         ledgerEventDispatcher
	Cache              rollupInvalidator
	Metrics            *MetricsService
	Validator          *validator.Validate
	Logger             *zap.Logger
	Location           *time.Location
	Now                func() time.Time
	NewID              ledger.IDFunc
}

// ReconciliationService applies attendance, absence and payment changes to the
// session ledgers of a group's students. Each student is reconciled in its own
// transaction; a storage failure stops the request but keeps earlier students.
type ReconciliationService struct {
	tx                 transactor
	groups             ledgerGroupRepository
	prices             ledgerPriceReader
	students           ledgerStudentReader
	enrollments        ledgerEnrollmentStore
	teacherEnrollments ledgerTeacherEnrollmentStore
	sessions           ledgerSessionStore
	events             ledgerEventWriter
	dispatcher         ledgerEventDispatcher
	cache              rollupInvalidator
	metrics            *MetricsService
	validator          *validator.Validate
	logger             *zap.Logger
	loc                *time.Location
	now                func() time.Time
	newID              ledger.IDFunc
}

// NewReconciliationService constructs the service with defaults for optional collaborators.
func NewReconciliationService(params ReconciliationServiceParams) *ReconciliationService {
	s := &ReconciliationService{
		tx:                 params.Tx,
		groups:             params.Groups,
		prices:             params.Prices,
		students:           params.Students,
		enrollments:        params.Enrollments,
		teacherEnrollments: params.TeacherEnrollments,
		sessions:           params.Sessions,
		events:             params.Events,
		dispatcher:         params.Dispatcher,
		cache:              params.Cache,
		metrics:            params.Metrics,
		validator:          params.Validator,
		logger:             params.Logger,
		loc:                params.Location,
		now:                params.Now,
		newID:              params.NewID,
	}
	if s.validator == nil {
		s.validator = validator.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = ledger.NewID
	}
	return s
}

// scope is the validated context shared by every student of one request.
type scope struct {
	op        string
	teacherID string
	group     *models.Group
	price     decimal.Decimal
	at        time.Time
	students  map[string]models.Student
	order     []string
	log       *zap.Logger
}

// outcome is what one student's transaction produced.
type outcome struct {
	applied int
	overlap bool
	delta   ledger.Delta
	events  []models.LedgerEvent
}

// step mutates one student's book inside the transaction. It returns how many
// classes were applied and whether the student was skipped for an overlap.
type step func(ctx context.Context, tx *sqlx.Tx, book *ledger.Book, studentID string) (applied int, overlap bool, err error)

// MarkAttendance records one attended class for each student.
func (s *ReconciliationService) MarkAttendance(ctx context.Context, teacherID, groupID string, req dto.MarkSessionRequest) (*dto.MarkResult, error) {
	return s.mark(ctx, OpMarkAttendance, teacherID, groupID, req, true, func(w ledger.Window, at time.Time) step {
		return func(ctx context.Context, tx *sqlx.Tx, book *ledger.Book, studentID string) (int, bool, error) {
			book.Attend(w, at)
			return 1, false, nil
		}
	})
}

// MarkAbsence records one missed class for each student.
func (s *ReconciliationService) MarkAbsence(ctx context.Context, teacherID, groupID string, req dto.MarkSessionRequest) (*dto.MarkResult, error) {
	return s.mark(ctx, OpMarkAbsence, teacherID, groupID, req, false, func(w ledger.Window, at time.Time) step {
		return func(ctx context.Context, tx *sqlx.Tx, book *ledger.Book, studentID string) (int, bool, error) {
			book.Absent(w, at)
			return 1, false, nil
		}
	})
}

// UnmarkAttendance reverts up to NumberOfClasses attended, unpaid classes per student.
func (s *ReconciliationService) UnmarkAttendance(ctx context.Context, teacherID, groupID string, req dto.UnmarkRequest) (*dto.UnmarkResult, error) {
	return s.unmark(ctx, OpUnmarkAttendance, teacherID, groupID, req, true, func(book *ledger.Book, n int, at time.Time) int {
		return book.UnmarkAttendance(n, at)
	})
}

// UnmarkAbsence deletes up to NumberOfClasses recorded absences per student.
func (s *ReconciliationService) UnmarkAbsence(ctx context.Context, teacherID, groupID string, req dto.UnmarkRequest) (*dto.UnmarkResult, error) {
	return s.unmark(ctx, OpUnmarkAbsence, teacherID, groupID, req, false, func(book *ledger.Book, n int, _ time.Time) int {
		return book.UnmarkAbsence(n)
	})
}

// UnmarkPayment reverts up to NumberOfClasses paid classes per student.
func (s *ReconciliationService) UnmarkPayment(ctx context.Context, teacherID, groupID string, req dto.UnmarkRequest) (*dto.UnmarkResult, error) {
	return s.unmark(ctx, OpUnmarkPayment, teacherID, groupID, req, true, func(book *ledger.Book, n int, at time.Time) int {
		return book.UnmarkPayment(n, at)
	})
}

// MarkPayment settles NumberOfClasses classes per student, creating pre-paid slots as needed.
func (s *ReconciliationService) MarkPayment(ctx context.Context, teacherID, groupID string, req dto.MarkPaymentRequest) (result *dto.PaymentResult, err error) {
	started := s.now()
	defer func() { s.finish(OpMarkPayment, started, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	sc, err := s.prepare(ctx, OpMarkPayment, teacherID, groupID, req.StudentIDs, true)
	if err != nil {
		return nil, err
	}
	if req.PaymentDateTime != nil {
		sc.at = req.PaymentDateTime.UTC()
	}

	result = &dto.PaymentResult{PaidAmount: decimal.Zero}
	var committed []models.LedgerEvent
	defer func() { s.afterCommit(ctx, sc, committed) }()

	for _, studentID := range sc.order {
		out, err := s.reconcile(ctx, sc, studentID, models.EventPaymentMarked, func(ctx context.Context, tx *sqlx.Tx, book *ledger.Book, _ string) (int, bool, error) {
			book.Pay(req.NumberOfClasses, sc.at)
			return req.NumberOfClasses, false, nil
		})
		if err != nil {
			return nil, err
		}
		committed = append(committed, out.events...)
		result.MarkedCount++
		result.PaidAmount = result.PaidAmount.Add(out.delta.Paid)
		s.metrics.RecordLedgerStudent(OpMarkPayment, StudentMarked)
	}
	return result, nil
}

func (s *ReconciliationService) mark(ctx context.Context, op, teacherID, groupID string, req dto.MarkSessionRequest, needPrice bool, build func(ledger.Window, time.Time) step) (result *dto.MarkResult, err error) {
	started := s.now()
	defer func() { s.finish(op, started, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	sc, err := s.prepare(ctx, op, teacherID, groupID, req.StudentIDs, needPrice)
	if err != nil {
		return nil, err
	}
	window, err := s.resolveWindow(sc, req)
	if err != nil {
		return nil, err
	}

	eventType := models.EventAttendanceMarked
	if op == OpMarkAbsence {
		eventType = models.EventAbsenceMarked
	}
	apply := build(window, sc.at)
	guarded := func(ctx context.Context, tx *sqlx.Tx, book *ledger.Book, studentID string) (int, bool, error) {
		recorded, err := s.sessions.ListRecordedOnDateWithTx(ctx, tx, sc.teacherID, studentID, window.Date)
		if err != nil {
			return 0, false, err
		}
		if _, found := ledger.FindOverlap(recorded, window); found {
			return 0, true, nil
		}
		return apply(ctx, tx, book, studentID)
	}

	result = &dto.MarkResult{OverlappingStudents: []dto.StudentException{}}
	var committed []models.LedgerEvent
	defer func() { s.afterCommit(ctx, sc, committed) }()

	for _, studentID := range sc.order {
		out, err := s.reconcile(ctx, sc, studentID, eventType, guarded)
		if err != nil {
			return nil, err
		}
		committed = append(committed, out.events...)
		if out.overlap {
			result.OverlappingStudents = prependException(result.OverlappingStudents, exceptionOf(sc.students[studentID]))
			s.metrics.RecordLedgerStudent(op, StudentOverlap)
			continue
		}
		result.MarkedCount++
		s.metrics.RecordLedgerStudent(op, StudentMarked)
	}
	return result, nil
}

func (s *ReconciliationService) unmark(ctx context.Context, op, teacherID, groupID string, req dto.UnmarkRequest, needPrice bool, revert func(*ledger.Book, int, time.Time) int) (result *dto.UnmarkResult, err error) {
	started := s.now()
	defer func() { s.finish(op, started, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid unmark payload")
	}
	sc, err := s.prepare(ctx, op, teacherID, groupID, req.StudentIDs, needPrice)
	if err != nil {
		return nil, err
	}

	var eventType models.LedgerEventType
	switch op {
	case OpUnmarkAttendance:
		eventType = models.EventAttendanceUnmarked
	case OpUnmarkAbsence:
		eventType = models.EventAbsenceUnmarked
	default:
		eventType = models.EventPaymentUnmarked
	}

	result = &dto.UnmarkResult{MissingStudents: []dto.MissingStudent{}}
	var committed []models.LedgerEvent
	defer func() { s.afterCommit(ctx, sc, committed) }()

	for _, studentID := range sc.order {
		out, err := s.reconcile(ctx, sc, studentID, eventType, func(ctx context.Context, tx *sqlx.Tx, book *ledger.Book, _ string) (int, bool, error) {
			return revert(book, req.NumberOfClasses, sc.at), false, nil
		})
		if err != nil {
			return nil, err
		}
		committed = append(committed, out.events...)
		if missing := req.NumberOfClasses - out.applied; missing > 0 {
			result.MissingStudents = prependMissing(result.MissingStudents, dto.MissingStudent{
				StudentException:       exceptionOf(sc.students[studentID]),
				MissingNumberOfClasses: missing,
			})
			s.metrics.RecordLedgerStudent(op, StudentShortfall)
			continue
		}
		result.CompletelyUnmarkedCount++
		s.metrics.RecordLedgerStudent(op, StudentUnmarked)
	}
	return result, nil
}

// prepare validates ownership, price and enrollment before any write happens.
func (s *ReconciliationService) prepare(ctx context.Context, op, teacherID, groupID string, studentIDs []string, needPrice bool) (*scope, error) {
	log := logger.FromContext(ctx, s.logger).With(
		zap.String(logger.FieldOperation, op),
		zap.String(logger.FieldTeacherID, teacherID),
		zap.String(logger.FieldGroupID, groupID),
	)
	if teacherID == "" {
		return nil, appErrors.ErrUnauthorized
	}

	group, err := s.groups.FindOwned(ctx, groupID, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Internal(err, "failed to load group")
	}

	price := decimal.Zero
	p, err := s.prices.FindByGroup(ctx, groupID)
	switch {
	case err == nil:
		price = p.Amount
	case errors.Is(err, sql.ErrNoRows):
		if needPrice {
			return nil, appErrors.ErrPriceNotConfigured
		}
	default:
		return nil, appErrors.Internal(err, "failed to load price")
	}

	order := uniqueIDs(studentIDs)
	enrolled, err := s.students.ListEnrolledInGroup(ctx, groupID, order)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load students")
	}
	students := make(map[string]models.Student, len(enrolled))
	for _, st := range enrolled {
		students[st.ID] = st
	}
	for _, id := range order {
		if _, ok := students[id]; !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s is not enrolled in this group", id))
		}
	}

	return &scope{
		op:        op,
		teacherID: teacherID,
		group:     group,
		price:     price,
		at:        s.now().UTC(),
		students:  students,
		order:     order,
		log:       log,
	}, nil
}

func (s *ReconciliationService) resolveWindow(sc *scope, req dto.MarkSessionRequest) (ledger.Window, error) {
	if req.Automatic {
		local := s.now().In(s.loc)
		_, start, end := sc.group.EffectiveSchedule(local)
		w, err := ledger.NewWindow(local, start, end)
		if err != nil {
			return ledger.Window{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "group schedule has an invalid time window")
		}
		return w, nil
	}
	date, err := time.Parse(ledger.DateLayout, req.Date)
	if err != nil {
		return ledger.Window{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be YYYY-MM-DD")
	}
	w, err := ledger.NewWindow(date, req.StartTime, req.EndTime)
	if err != nil {
		return ledger.Window{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return w, nil
}

// reconcile runs one student's transaction: lock, load, mutate, persist, record the event.
func (s *ReconciliationService) reconcile(ctx context.Context, sc *scope, studentID string, eventType models.LedgerEventType, apply step) (outcome, error) {
	var out outcome
	err := s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		out = outcome{}

		if err := s.teacherEnrollments.EnsureWithTx(ctx, tx, s.newID(), sc.teacherID, studentID, sc.at); err != nil {
			return err
		}
		if _, err := s.teacherEnrollments.LockWithTx(ctx, tx, sc.teacherID, studentID); err != nil {
			return err
		}
		enrollment, err := s.enrollments.LockWithTx(ctx, tx, sc.group.ID, studentID)
		if err != nil {
			return err
		}
		sessions, err := s.sessions.ListByEnrollmentForUpdateWithTx(ctx, tx, enrollment.ID)
		if err != nil {
			return err
		}

		book := ledger.NewBook(enrollment.ID, sc.price, sessions, s.newID)
		applied, overlap, err := apply(ctx, tx, book, studentID)
		if err != nil {
			return err
		}
		if overlap {
			out.overlap = true
			out.events = []models.LedgerEvent{s.event(sc, studentID, models.EventScheduleOverlap, 0, ledger.Delta{})}
			return s.events.CreateWithTx(ctx, tx, out.events)
		}

		change := book.Change()
		out.applied = applied
		if change.Empty() {
			return nil
		}
		if err := s.sessions.DeleteWithTx(ctx, tx, change.Deleted); err != nil {
			return err
		}
		if len(change.Created) > 0 {
			if err := s.sessions.CreateWithTx(ctx, tx, change.Created); err != nil {
				return err
			}
		}
		if len(change.Updated) > 0 {
			if err := s.sessions.UpdateWithTx(ctx, tx, change.Updated); err != nil {
				return err
			}
		}

		delta, err := s.applyDelta(ctx, tx, sc, enrollment, studentID, change.Delta)
		if err != nil {
			return err
		}
		out.delta = delta
		out.events = []models.LedgerEvent{s.event(sc, studentID, eventType, applied, delta)}
		return s.events.CreateWithTx(ctx, tx, out.events)
	})
	if err != nil {
		sc.log.Error("reconcile student failed", zap.String(logger.FieldStudentID, studentID), zap.Error(err))
		s.metrics.RecordLedgerStudent(sc.op, StudentFailed)
		if errors.Is(err, sql.ErrNoRows) {
			return outcome{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s is not enrolled in this group", studentID))
		}
		return outcome{}, appErrors.Internal(err, "failed to reconcile student ledger")
	}
	return out, nil
}

// applyDelta writes the enrollment balance and propagates the effective money delta
// to the teacher enrollment and group totals. It returns the effective delta.
func (s *ReconciliationService) applyDelta(ctx context.Context, tx *sqlx.Tx, sc *scope, enrollment *models.Enrollment, studentID string, d ledger.Delta) (ledger.Delta, error) {
	if d.IsZero() {
		return d, nil
	}
	prev := ledger.BalanceOf(*enrollment)
	next, clamped := prev.Apply(d)
	if len(clamped) > 0 {
		sc.log.Error("ledger invariant violated: balance clamped at zero",
			zap.String(logger.FieldStudentID, studentID),
			zap.String("enrollment_id", enrollment.ID),
			zap.Strings("counters", clamped),
			zap.String("paid_delta", d.Paid.String()),
			zap.String("unpaid_delta", d.Unpaid.String()),
			zap.Int("attended_non_paid_delta", d.AttendedNonPaid),
		)
		s.metrics.RecordLedgerStudent(sc.op, StudentClamped)
	}
	if err := s.enrollments.UpdateBalanceWithTx(ctx, tx, enrollment.ID, next.Paid, next.Unpaid, next.AttendedNonPaid); err != nil {
		return ledger.Delta{}, err
	}

	effective := ledger.Delta{
		Paid:            next.Paid.Sub(prev.Paid),
		Unpaid:          next.Unpaid.Sub(prev.Unpaid),
		AttendedNonPaid: next.AttendedNonPaid - prev.AttendedNonPaid,
	}
	if effective.Paid.IsZero() && effective.Unpaid.IsZero() {
		return effective, nil
	}
	if err := s.teacherEnrollments.AddBalanceWithTx(ctx, tx, sc.teacherID, studentID, effective.Paid, effective.Unpaid); err != nil {
		return ledger.Delta{}, err
	}
	if err := s.groups.AddTotalsWithTx(ctx, tx, sc.group.ID, effective.Paid, effective.Unpaid); err != nil {
		return ledger.Delta{}, err
	}
	return effective, nil
}

func (s *ReconciliationService) event(sc *scope, studentID string, t models.LedgerEventType, classes int, d ledger.Delta) models.LedgerEvent {
	return models.LedgerEvent{
		ID:              s.newID(),
		Type:            t,
		TeacherID:       sc.teacherID,
		GroupID:         sc.group.ID,
		StudentID:       studentID,
		NumberOfClasses: classes,
		PaidDelta:       d.Paid,
		UnpaidDelta:     d.Unpaid,
		OccurredAt:      sc.at,
	}
}

// afterCommit fans out the committed events and drops stale dashboard rollups.
func (s *ReconciliationService) afterCommit(ctx context.Context, sc *scope, committed []models.LedgerEvent) {
	if len(committed) == 0 {
		return
	}
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(committed)
	}
	if s.cache != nil {
		s.cache.InvalidateTeacher(ctx, sc.teacherID)
	}
}

func (s *ReconciliationService) finish(op string, started time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	s.metrics.RecordLedgerOperation(op, outcome, s.now().Sub(started))
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func exceptionOf(st models.Student) dto.StudentException {
	return dto.StudentException{ID: st.ID, Image: st.Image, FullName: st.FullName}
}

func prependException(list []dto.StudentException, item dto.StudentException) []dto.StudentException {
	return append([]dto.StudentException{item}, list...)
}

func prependMissing(list []dto.MissingStudent, item dto.MissingStudent) []dto.MissingStudent {
	return append([]dto.MissingStudent{item}, list...)
}
