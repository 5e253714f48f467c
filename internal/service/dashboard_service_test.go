package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/dto"
	"github.com/noah-isme/tutoring-ledger-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-ledger-api/pkg/errors"
)

type memCacheRepo struct {
	items map[string][]byte
}

func newMemCacheRepo() *memCacheRepo { return &memCacheRepo{items: map[string][]byte{}} }

func (m *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

func (m *memCacheRepo) Ping(ctx context.Context) error { return nil }

type fakeRollups struct {
	paid        []models.RollupSessionCount
	due         []models.RollupSessionCount
	enrollments []models.RollupEnrollment
	calls       int
	window      models.RollupWindow
}

func (f *fakeRollups) PaidCounts(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupSessionCount, error) {
	return f.paid, nil
}

func (f *fakeRollups) DueCounts(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupSessionCount, error) {
	return f.due, nil
}

func (f *fakeRollups) Enrollments(ctx context.Context, teacherID string, window models.RollupWindow) ([]models.RollupEnrollment, error) {
	f.calls++
	f.window = window
	return f.enrollments, nil
}

type fakePrices struct{ prices []models.Price }

func (f *fakePrices) ListByTeacher(ctx context.Context, teacherID string) ([]models.Price, error) {
	return f.prices, nil
}

func strPtr(v string) *string { return &v }

func priceOf(level, section, subject string, amount int64) models.Price {
	p := models.Price{
		LevelID:     level,
		LevelName:   "Level " + level,
		SubjectID:   subject,
		SubjectName: "Subject " + subject,
		Amount:      decimal.NewFromInt(amount),
	}
	if section != "" {
		p.SectionID = strPtr(section)
		p.SectionName = strPtr("Section " + section)
	}
	return p
}

func countOf(level, section, subject string, n int) models.RollupSessionCount {
	c := models.RollupSessionCount{LevelID: level, SubjectID: subject, Count: n}
	if section != "" {
		c.SectionID = strPtr(section)
	}
	return c
}

func joined(student, level, section, subject string) models.RollupEnrollment {
	e := models.RollupEnrollment{StudentID: student, LevelID: level, SubjectID: subject}
	if section != "" {
		e.SectionID = strPtr(section)
	}
	return e
}

func sampleRollupInput() rollupInput {
	return rollupInput{
		prices: []models.Price{
			priceOf("l1", "", "art", 5),
			priceOf("l1", "s1", "math", 10),
			priceOf("l1", "s1", "physics", 15),
			priceOf("l2", "", "math", 20),
		},
		paid: []models.RollupSessionCount{
			countOf("l1", "s1", "math", 2),
			countOf("l1", "s1", "physics", 1),
			countOf("l1", "", "art", 3),
			countOf("l2", "", "math", 1),
		},
		due: []models.RollupSessionCount{
			countOf("l1", "s1", "math", 1),
			countOf("l3", "", "chemistry", 9),
		},
		enrollments: []models.RollupEnrollment{
			joined("st1", "l1", "s1", "math"),
			joined("st1", "l1", "s1", "physics"),
			joined("st1", "l1", "", "art"),
			joined("st2", "l1", "s1", "math"),
			joined("st3", "l2", "", "math"),
			joined("st1", "l2", "", "math"),
		},
	}
}

func TestAggregateRollupSumsMoneyAndCountsDistinctStudents(t *testing.T) {
	root := aggregateRollup(sampleRollupInput())

	require.Len(t, root.Levels, 2)
	l1 := root.Levels[0]
	assert.Equal(t, "l1", l1.ID)
	assert.Equal(t, "Level l1", l1.Name)
	require.Len(t, l1.Subjects, 1)
	require.Len(t, l1.Sections, 1)

	section := l1.Sections[0]
	assert.Equal(t, "Section s1", section.Name)
	assert.True(t, section.TotalPaidAmount.Equal(decimal.NewFromInt(35)))
	assert.True(t, section.TotalUnpaidAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 2, section.TotalActiveStudents)
	require.Len(t, section.Subjects, 2)
	assert.Equal(t, 2, section.Subjects[0].TotalActiveStudents)
	assert.Equal(t, 1, section.Subjects[1].TotalActiveStudents)

	sum := section.TotalPaidAmount
	for _, s := range l1.Subjects {
		sum = sum.Add(s.TotalPaidAmount)
	}
	assert.True(t, l1.TotalPaidAmount.Equal(sum))
	assert.True(t, l1.TotalPaidAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 2, l1.TotalActiveStudents)

	l2 := root.Levels[1]
	assert.True(t, l2.TotalPaidAmount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 2, l2.TotalActiveStudents)
	assert.Empty(t, l2.Sections)

	assert.True(t, root.TotalPaidAmount.Equal(decimal.NewFromInt(70)))
	assert.True(t, root.TotalUnpaidAmount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 3, root.TotalActiveStudents)
}

func TestAggregateRollupReportsPricedCombinationsWithoutActivity(t *testing.T) {
	root := aggregateRollup(rollupInput{prices: []models.Price{priceOf("l1", "", "art", 5)}})

	require.Len(t, root.Levels, 1)
	require.Len(t, root.Levels[0].Subjects, 1)
	assert.True(t, root.Levels[0].Subjects[0].TotalPaidAmount.IsZero())
	assert.Zero(t, root.TotalActiveStudents)
}

func newDashboardFixture(now time.Time) (*DashboardService, *fakeRollups, *fakePrices, *memCacheRepo) {
	rollups := &fakeRollups{}
	in := sampleRollupInput()
	rollups.paid, rollups.due, rollups.enrollments = in.paid, in.due, in.enrollments
	prices := &fakePrices{prices: in.prices}
	repo := newMemCacheRepo()
	svc := NewDashboardService(DashboardServiceParams{
		Rollups: rollups,
		Prices:  prices,
		Cache:   NewCacheService(repo, nil, time.Minute, nil, true),
	})
	svc.now = func() time.Time { return now }
	return svc, rollups, prices, repo
}

func TestDashboardServiceRollupCachesByWindow(t *testing.T) {
	svc, rollups, _, repo := newDashboardFixture(time.Now())
	query := dto.DashboardQuery{StartDate: "2024-03-01", EndDate: "2024-03-31"}

	resp, hit, err := svc.Rollup(context.Background(), "t1", query)
	require.NoError(t, err)
	assert.False(t, hit)
	require.True(t, resp.HasLevels)
	assert.Equal(t, "2024-03-01", *resp.Dashboard.StartDate)
	assert.Equal(t, "2024-03-31", *resp.Dashboard.EndDate)
	assert.Contains(t, repo.items, "dash:rollup:t1:2024-03-01:2024-03-31")

	cached, hit, err := svc.Rollup(context.Background(), "t1", query)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, rollups.calls)
	assert.True(t, cached.Dashboard.TotalPaidAmount.Equal(resp.Dashboard.TotalPaidAmount))
	assert.Equal(t, resp.Dashboard.TotalActiveStudents, cached.Dashboard.TotalActiveStudents)

	svc.cache.InvalidateTeacher(context.Background(), "t1")
	_, hit, err = svc.Rollup(context.Background(), "t1", query)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, rollups.calls)
}

func TestDashboardServiceUnboundedWindow(t *testing.T) {
	svc, rollups, _, repo := newDashboardFixture(time.Now())

	resp, _, err := svc.Rollup(context.Background(), "t1", dto.DashboardQuery{})
	require.NoError(t, err)
	assert.Nil(t, resp.Dashboard.StartDate)
	assert.Nil(t, rollups.window.Start)
	assert.Nil(t, rollups.window.End)
	assert.Contains(t, repo.items, "dash:rollup:t1:-:-")
}

func TestDashboardServiceWithoutPrices(t *testing.T) {
	svc, rollups, prices, _ := newDashboardFixture(time.Now())
	prices.prices = nil

	resp, _, err := svc.Rollup(context.Background(), "t1", dto.DashboardQuery{})
	require.NoError(t, err)
	assert.False(t, resp.HasLevels)
	assert.Nil(t, resp.Dashboard)
	assert.Zero(t, rollups.calls)
}

func TestDashboardServiceRejectsInvalidQueries(t *testing.T) {
	svc, _, _, _ := newDashboardFixture(time.Now())
	queries := []dto.DashboardQuery{
		{Preset: dto.PresetThisMonth, StartDate: "2024-03-01"},
		{StartDate: "2024-03-31", EndDate: "2024-03-01"},
		{StartDate: "March 1"},
		{Preset: "last_decade"},
	}
	for _, q := range queries {
		_, _, err := svc.Rollup(context.Background(), "t1", q)
		assert.ErrorIs(t, err, appErrors.ErrValidation, "query %+v", q)
	}

	_, _, err := svc.Rollup(context.Background(), "", dto.DashboardQuery{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestDashboardServicePresetsUseLedgerTimeZone(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	// Sunday 2024-03-10 20:00 UTC is already Monday 2024-03-11 in WIB.
	svc, rollups, _, _ := newDashboardFixture(time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC))
	svc.cfg.Location = loc

	_, _, err := svc.Rollup(context.Background(), "t1", dto.DashboardQuery{Preset: dto.PresetThisWeek})
	require.NoError(t, err)
	start, end := rollups.window.Dates()
	assert.Equal(t, "2024-03-11", *start)
	assert.Equal(t, "2024-03-17", *end)

	from, until := rollups.window.Bounds()
	assert.True(t, from.Equal(time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC)))
	assert.True(t, until.Equal(time.Date(2024, 3, 17, 17, 0, 0, 0, time.UTC)))
}

func TestPresetWindow(t *testing.T) {
	cases := []struct {
		preset string
		now    time.Time
		start  string
		end    string
	}{
		{dto.PresetThisWeek, time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC), "2024-03-04", "2024-03-10"},
		{dto.PresetThisWeek, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), "2024-03-04", "2024-03-10"},
		{dto.PresetThisWeek, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "2024-03-04", "2024-03-10"},
		{dto.PresetThisMonth, time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC), "2024-02-01", "2024-02-29"},
		{dto.PresetThisMonth, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), "2023-12-01", "2023-12-31"},
		{dto.PresetThisYear, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), "2024-01-01", "2024-12-31"},
	}
	for _, tc := range cases {
		t.Run(tc.preset+"/"+tc.now.Format("2006-01-02"), func(t *testing.T) {
			start, end := presetWindow(tc.preset, tc.now).Dates()
			require.NotNil(t, start)
			require.NotNil(t, end)
			assert.Equal(t, tc.start, *start)
			assert.Equal(t, tc.end, *end)
		})
	}
}
