package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-ledger-api/internal/models"
)

func TestRollupRepositoryPaidCountsUsesHalfOpenInstantRange(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRollupRepository(db)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	section := "sec-1"
	mock.ExpectQuery(`s.paid_at >= \$3.*s.paid_at < \$4`).
		WithArgs("tch-1", "attended_paid", start, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"level_id", "section_id", "subject_id", "count"}).
			AddRow("lvl-1", section, "sub-1", 6).
			AddRow("lvl-1", nil, "sub-2", 2))

	counts, err := repo.PaidCounts(context.Background(), "tch-1", models.RollupWindow{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, 6, counts[0].Count)
	require.Nil(t, counts[1].SectionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollupRepositoryDueCountsUnbounded(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRollupRepository(db)

	mock.ExpectQuery(`s.attended_on >= \$3.*s.attended_on <= \$4`).
		WithArgs("tch-1", "attended_due", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"level_id", "section_id", "subject_id", "count"}))

	counts, err := repo.DueCounts(context.Background(), "tch-1", models.RollupWindow{})
	require.NoError(t, err)
	require.Empty(t, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollupRepositoryEnrollments(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRollupRepository(db)

	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM enrollments e.*e.joined_on <= \$3`).
		WithArgs("tch-1", nil, "2024-03-31").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "joined_on", "level_id", "section_id", "subject_id"}).
			AddRow("stu-1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "lvl-1", nil, "sub-1"))

	rows, err := repo.Enrollments(context.Background(), "tch-1", models.RollupWindow{End: &end})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
