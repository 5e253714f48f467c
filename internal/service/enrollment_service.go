package service

import (
	"context"
	"database/sql"
	"errors"
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

type studentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentRepository interface {
	FindByGroupAndStudent(ctx context.Context, groupID, studentID string) (*models.Enrollment, error)
	LockWithTx(ctx context.Context, tx *sqlx.Tx, groupID, studentID string) (*models.Enrollment, error)
	CreateWithTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) (bool, error)
	DeleteWithTx(ctx context.Context, tx *sqlx.Tx, id string) error
}

type sessionLister interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.Session, error)
}

// EnrollmentServiceParams groups constructor dependencies.
type EnrollmentServiceParams struct {
	Tx                 transactor
	Groups             ledgerGroupRepository
	Students           studentFinder
	Enrollments        enrollmentRepository
	TeacherEnrollments ledgerTeacherEnrollmentStore
	Sessions           sessionLister
	Prices             ledgerPriceReader
	Events             ledgerEventWriter
	Dispatcher         ledgerEventDispatcher
	Cache              rollupInvalidator
	Validator          *validator.Validate
	Logger             *zap.Logger
	Location           *time.Location
	Now                func() time.Time
	NewID              ledger.IDFunc
}

// EnrollmentService manages students joining and leaving groups.
type EnrollmentService struct {
	tx                 transactor
	groups             ledgerGroupRepository
	students           studentFinder
	enrollments        enrollmentRepository
	teacherEnrollments ledgerTeacherEnrollmentStore
	sessions           sessionLister
	prices             ledgerPriceReader
	events             ledgerEventWriter
	dispatcher         ledgerEventDispatcher
	cache              rollupInvalidator
	validator          *validator.Validate
	logger             *zap.Logger
	loc                *time.Location
	now                func() time.Time
	newID              ledger.IDFunc
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(params EnrollmentServiceParams) *EnrollmentService {
	s := &EnrollmentService{
		tx:                 params.Tx,
		groups:             params.Groups,
		students:           params.Students,
		enrollments:        params.Enrollments,
		teacherEnrollments: params.TeacherEnrollments,
		sessions:           params.Sessions,
		prices:             params.Prices,
		events:             params.Events,
		dispatcher:         params.Dispatcher,
		cache:              params.Cache,
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

// Join enrolls a student into a teacher's group with zeroed counters.
func (s *EnrollmentService) Join(ctx context.Context, teacherID, groupID string, req dto.JoinGroupRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	group, err := s.ownedGroup(ctx, teacherID, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Internal(err, "failed to load student")
	}

	now := s.now()
	joinedOn := ledger.DateOnly(now.In(s.loc))
	if req.Date != "" {
		parsed, err := time.Parse(ledger.DateLayout, req.Date)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be YYYY-MM-DD")
		}
		joinedOn = parsed
	}

	enrollment := &models.Enrollment{
		ID:           s.newID(),
		StudentID:    req.StudentID,
		GroupID:      group.ID,
		JoinedOn:     joinedOn,
		PaidAmount:   decimal.Zero,
		UnpaidAmount: decimal.Zero,
		CreatedAt:    now.UTC(),
	}
	event := models.LedgerEvent{
		ID:          s.newID(),
		Type:        models.EventStudentJoined,
		TeacherID:   teacherID,
		GroupID:     group.ID,
		StudentID:   req.StudentID,
		PaidDelta:   decimal.Zero,
		UnpaidDelta: decimal.Zero,
		OccurredAt:  now.UTC(),
	}

	var duplicate bool
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		created, err := s.enrollments.CreateWithTx(ctx, tx, enrollment)
		if err != nil {
			return err
		}
		if !created {
			duplicate = true
			return nil
		}
		if err := s.teacherEnrollments.EnsureWithTx(ctx, tx, s.newID(), teacherID, req.StudentID, now.UTC()); err != nil {
			return err
		}
		return s.events.CreateWithTx(ctx, tx, []models.LedgerEvent{event})
	})
	if err != nil {
		s.log(ctx, teacherID, groupID).Error("failed to enroll student", zap.String(logger.FieldStudentID, req.StudentID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to enroll student")
	}
	if duplicate {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in this group")
	}

	s.afterCommit(ctx, teacherID, []models.LedgerEvent{event})
	return enrollment, nil
}

// Remove deletes a student's enrollment together with its sessions and takes its
// balances out of the group and teacher totals.
func (s *EnrollmentService) Remove(ctx context.Context, teacherID, groupID, studentID string) error {
	group, err := s.ownedGroup(ctx, teacherID, groupID)
	if err != nil {
		return err
	}

	var event models.LedgerEvent
	err = s.tx.WithinTx(ctx, func(tx *sqlx.Tx) error {
		// Same lock order as reconciliation: teacher enrollment, then enrollment.
		if err := s.teacherEnrollments.EnsureWithTx(ctx, tx, s.newID(), teacherID, studentID, s.now().UTC()); err != nil {
			return err
		}
		if _, err := s.teacherEnrollments.LockWithTx(ctx, tx, teacherID, studentID); err != nil {
			return err
		}
		enrollment, err := s.enrollments.LockWithTx(ctx, tx, group.ID, studentID)
		if err != nil {
			return err
		}
		paid, unpaid := enrollment.PaidAmount.Neg(), enrollment.UnpaidAmount.Neg()
		if !paid.IsZero() || !unpaid.IsZero() {
			if err := s.teacherEnrollments.AddBalanceWithTx(ctx, tx, teacherID, studentID, paid, unpaid); err != nil {
				return err
			}
			if err := s.groups.AddTotalsWithTx(ctx, tx, group.ID, paid, unpaid); err != nil {
				return err
			}
		}
		if err := s.enrollments.DeleteWithTx(ctx, tx, enrollment.ID); err != nil {
			return err
		}
		event = models.LedgerEvent{
			ID:          s.newID(),
			Type:        models.EventStudentRemoved,
			TeacherID:   teacherID,
			GroupID:     group.ID,
			StudentID:   studentID,
			PaidDelta:   paid,
			UnpaidDelta: unpaid,
			OccurredAt:  s.now().UTC(),
		}
		return s.events.CreateWithTx(ctx, tx, []models.LedgerEvent{event})
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in this group")
		}
		s.log(ctx, teacherID, groupID).Error("failed to remove enrollment", zap.String(logger.FieldStudentID, studentID), zap.Error(err))
		return appErrors.Internal(err, "failed to remove enrollment")
	}

	s.afterCommit(ctx, teacherID, []models.LedgerEvent{event})
	return nil
}

// Ledger returns the enrollment counters with its sessions in canonical order.
func (s *EnrollmentService) Ledger(ctx context.Context, teacherID, groupID, studentID string) (*models.EnrollmentLedger, error) {
	group, err := s.ownedGroup(ctx, teacherID, groupID)
	if err != nil {
		return nil, err
	}
	enrollment, err := s.enrollments.FindByGroupAndStudent(ctx, group.ID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student is not enrolled in this group")
		}
		return nil, appErrors.Internal(err, "failed to load enrollment")
	}

	price := decimal.Zero
	p, err := s.prices.FindByGroup(ctx, group.ID)
	switch {
	case err == nil:
		price = p.Amount
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Internal(err, "failed to load price")
	}

	sessions, err := s.sessions.ListByEnrollment(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load sessions")
	}
	ledger.SortCanonical(sessions)
	if sessions == nil {
		sessions = []models.Session{}
	}
	return &models.EnrollmentLedger{Enrollment: *enrollment, Price: price, Sessions: sessions}, nil
}

func (s *EnrollmentService) ownedGroup(ctx context.Context, teacherID, groupID string) (*models.Group, error) {
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
	return group, nil
}

func (s *EnrollmentService) afterCommit(ctx context.Context, teacherID string, events []models.LedgerEvent) {
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(events)
	}
	if s.cache != nil {
		s.cache.InvalidateTeacher(ctx, teacherID)
	}
}

func (s *EnrollmentService) log(ctx context.Context, teacherID, groupID string) *zap.Logger {
	return logger.FromContext(ctx, s.logger).With(
		zap.String(logger.FieldTeacherID, teacherID),
		zap.String(logger.FieldGroupID, groupID),
	)
}
