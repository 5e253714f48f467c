package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTeacherEnrollmentRepositoryEnsureThenLock(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherEnrollmentRepository(db)
	tx := beginTx(t, db, mock)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (teacher_id, student_id) DO NOTHING")).
		WithArgs("te-1", "tch-1", "stu-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM teacher_enrollments WHERE teacher_id = \$1 AND student_id = \$2 FOR UPDATE`).
		WithArgs("tch-1", "stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "teacher_id", "student_id", "paid_amount", "unpaid_amount", "created_at"}).
			AddRow("te-0", "tch-1", "stu-1", "100", "0", now))

	require.NoError(t, repo.EnsureWithTx(ctx, tx, "te-1", "tch-1", "stu-1", now))
	te, err := repo.LockWithTx(ctx, tx, "tch-1", "stu-1")
	require.NoError(t, err)
	require.Equal(t, "te-0", te.ID)
	require.True(t, te.PaidAmount.Equal(decimal.NewFromInt(100)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTeacherEnrollmentRepositoryAddBalance(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTeacherEnrollmentRepository(db)
	tx := beginTx(t, db, mock)

	mock.ExpectExec(`UPDATE teacher_enrollments SET paid_amount = GREATEST\(paid_amount \+ \$3, 0\)`).
		WithArgs("tch-1", "stu-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddBalanceWithTx(context.Background(), tx, "tch-1", "stu-1", decimal.Zero, decimal.NewFromInt(80)))
	require.NoError(t, mock.ExpectationsWereMet())
}
