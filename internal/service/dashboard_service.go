package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/ledger"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
	"github.com/noah-isme/tutoring-ledger-api/pkg/logger"
)

type rollupReader interface {
	PaidCounts(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupSessionCount, error)
	DueCounts(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupSessionCount, error)
	Enrollments(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupEnrollment, error)
}

type priceLister interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Price, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
	Location *time.Location
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Rollups   rollupReader
	Prices    priceLister
	Cache     *CacheService
	Validator *validator.Validate
	Logger    *zap.Logger
	Config    DashboardServiceConfig
}

// DashboardService builds the teacher's level/section/subject rollup.
type DashboardService struct {
	rollups   rollupReader
	prices    priceLister
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cfg       DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	return &DashboardService{
		rollups:   params.Rollups,
		prices:    params.Prices,
		cache:     params.Cache,
		validator: validate,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
	}
}

// Rollup returns the dashboard for a teacher and indicates cache utilisation.
func (s *DashboardService) Rollup(ctx context.Context, teacherID string, query dto.DashboardQuery) (*dto.DashboardResponse, bool, error) {
	if teacherID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "teacherId is required")
	}
	window, err := s.ResolveWindow(query)
	if err != nil {
		return nil, false, err
	}

	start, end := window.Dates()
	cacheKey := fmt.Sprintf("dash:rollup:%s:%s:%s", teacherID, dateKey(start), dateKey(end))
	if cached, hit, err := s.tryCache(ctx, cacheKey); err != nil {
		return nil, false, err
	} else if hit {
		return cached, true, nil
	}

	resp, err := s.compose(ctx, teacherID, window)
	if err != nil {
		return nil, false, err
	}
	s.persistCache(ctx, cacheKey, resp)
	return resp, false, nil
}

// ResolveWindow turns explicit dates or a preset into calendar bounds in the ledger
// time zone. No dates and no preset mean an unbounded window.
func (s *DashboardService) ResolveWindow(query dto.DashboardQuery) (models.RollupWindow, error) {
	if err := s.validator.Struct(query); err != nil {
		return models.RollupWindow{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dashboard query")
	}
	loc := s.cfg.Location
	if query.Preset != "" {
		if query.StartDate != "" || query.EndDate != "" {
			return models.RollupWindow{}, appErrors.Clone(appErrors.ErrValidation, "preset cannot be combined with start_date or end_date")
		}
		return presetWindow(query.Preset, s.now().In(loc)), nil
	}

	var window models.RollupWindow
	if query.StartDate != "" {
		start, err := time.ParseInLocation(ledger.DateLayout, query.StartDate, loc)
		if err != nil {
			return models.RollupWindow{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "start_date must be YYYY-MM-DD")
		}
		window.Start = &start
	}
	if query.EndDate != "" {
		end, err := time.ParseInLocation(ledger.DateLayout, query.EndDate, loc)
		if err != nil {
			return models.RollupWindow{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "end_date must be YYYY-MM-DD")
		}
		window.End = &end
	}
	if window.Start != nil && window.End != nil && window.End.Before(*window.Start) {
		return models.RollupWindow{}, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	return window, nil
}

func (s *DashboardService) compose(ctx context.Context, teacherID string, window models.RollupWindow) (*dto.DashboardResponse, error) {
	prices, err := s.prices.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load prices")
	}
	if len(prices) == 0 {
		return &dto.DashboardResponse{HasLevels: false}, nil
	}

	in := rollupInput{prices: prices}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in.paid, err = s.rollups.PaidCounts(gctx, teacherID, window)
		return err
	})
	g.Go(func() error {
		var err error
		in.due, err = s.rollups.DueCounts(gctx, teacherID, window)
		return err
	})
	g.Go(func() error {
		var err error
		in.enrollments, err = s.rollups.Enrollments(gctx, teacherID, window)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx, s.logger).Error("rollup query failed", zap.String(logger.FieldTeacherID, teacherID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to build dashboard")
	}

	rollup := aggregateRollup(in)
	rollup.StartDate, rollup.EndDate = window.Dates()
	return &dto.DashboardResponse{HasLevels: true, Dashboard: rollup}, nil
}

func (s *DashboardService) tryCache(ctx context.Context, key string) (*dto.DashboardResponse, bool, error) {
	if s.cache == nil {
		return nil, false, nil
	}
	var cached dto.DashboardResponse
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		// already logged by the cache service; fall through to the database
		return nil, false, nil
	}
	if hit {
		return &cached, true, nil
	}
	return nil, false, nil
}

func (s *DashboardService) persistCache(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// presetWindow computes the calendar range of a preset containing now.
// Weeks run Monday through Sunday.
func presetWindow(preset string, now time.Time) models.RollupWindow {
	y, m, d := now.Date()
	loc := now.Location()
	var start, end time.Time
	switch preset {
	case dto.PresetThisWeek:
		offset := (int(now.Weekday()) + 6) % 7
		start = time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 6)
	case dto.PresetThisMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, -1)
	case dto.PresetThisYear:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		end = time.Date(y, time.December, 31, 0, 0, 0, 0, loc)
	default:
		return models.RollupWindow{}
	}
	return models.RollupWindow{Start: &start, End: &end}
}

func dateKey(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
