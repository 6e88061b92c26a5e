package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStats(t *testing.T) (*StatsRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStatsRepo(sqlx.NewDb(db, "mysql")), mock
}

func TestStatsGetCreatesRowLazily(t *testing.T) {
	repo, mock := newMockStats(t)
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT IGNORE INTO user_booking_stats (user_id) VALUES (?)")).
		WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM user_booking_stats WHERE user_id = \?`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "total_bookings", "no_show_count", "cancellation_count",
			"completed_count", "average_usage", "suspended_until", "updated_at"}).
			AddRow("u-1", 0, 0, 0, 0, 1.0, nil, updated))

	s, err := repo.Get(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", s.UserID)
	assert.Zero(t, s.NoShowCount)
	assert.Nil(t, s.SuspendedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRecordNoShowAppliesSuspensionThreshold(t *testing.T) {
	repo, mock := newMockStats(t)
	until := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`suspended_until = IF\(no_show_count >= \?, \?, suspended_until\)`).
		WithArgs("u-1", nil, 5, until).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.RecordNoShow(context.Background(), "u-1", 5, until))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRecordCompletionRecomputesUsage(t *testing.T) {
	repo, mock := newMockStats(t)

	mock.ExpectExec(`completed_count = completed_count \+ 1,\s+average_usage = IF`).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.RecordCompletion(context.Background(), "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
