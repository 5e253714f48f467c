package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGroupRepositoryFindOwned(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	columns := []string{"id", "teacher_id", "teacher_subject_id", "week_day", "start_time", "end_time",
		"temporary_week_day", "temporary_start_time", "temporary_end_time", "clear_temporary_schedule_at",
		"total_paid", "total_unpaid", "created_at"}
	rows := sqlmock.NewRows(columns).
		AddRow("grp-1", "tch-1", "ts-1", 1, "16:00", "17:00", nil, nil, nil, nil, "0", "80.00", time.Now())
	mock.ExpectQuery(`FROM groups WHERE id = \$1 AND teacher_id = \$2`).
		WithArgs("grp-1", "tch-1").
		WillReturnRows(rows)

	group, err := repo.FindOwned(context.Background(), "grp-1", "tch-1")
	require.NoError(t, err)
	require.Equal(t, "16:00", group.StartTime)
	require.True(t, group.TotalUnpaid.Equal(decimal.NewFromInt(80)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupRepositoryFindOwnedForeignGroup(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)

	mock.ExpectQuery(`FROM groups WHERE id = \$1 AND teacher_id = \$2`).
		WithArgs("grp-1", "tch-2").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindOwned(context.Background(), "grp-1", "tch-2")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGroupRepositoryAddTotalsClampsInSQL(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGroupRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE groups SET total_paid = GREATEST(total_paid + $2, 0), total_unpaid = GREATEST(total_unpaid + $3, 0) WHERE id = $1")).
		WithArgs("grp-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddTotalsWithTx(context.Background(), tx, "grp-1", decimal.NewFromInt(200), decimal.NewFromInt(-160)))
	require.NoError(t, mock.ExpectationsWereMet())
}
