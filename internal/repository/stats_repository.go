package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// StatsRepo maintains per-user booking statistics.  Rows are created
// lazily by upserts, so every method works for a user seen for the first
// time.
type StatsRepo struct {
	db *sqlx.DB
}

// NewStatsRepo returns a new StatsRepo bound to the given database.
func NewStatsRepo(db *sqlx.DB) *StatsRepo { return &StatsRepo{db: db} }

// usageExpr recomputes average_usage after the counters on its left have
// been updated.  MySQL evaluates ON DUPLICATE KEY assignments left to right.
const usageExpr = `average_usage = IF(completed_count + no_show_count = 0, 1,
                   completed_count / (completed_count + no_show_count))`

// Get returns the user's stats, creating an all-zero row on first access.
func (r *StatsRepo) Get(ctx context.Context, userID string) (*model.UserBookingStats, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO user_booking_stats (user_id) VALUES (?)`, userID); err != nil {
		return nil, err
	}
	var s model.UserBookingStats
	err := r.db.GetContext(ctx, &s,
		`SELECT user_id, total_bookings, no_show_count, cancellation_count, completed_count,
		        average_usage, suspended_until, updated_at
		 FROM user_booking_stats WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// IncrementTotal counts a new admission.
func (r *StatsRepo) IncrementTotal(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_booking_stats (user_id, total_bookings) VALUES (?, 1)
		 ON DUPLICATE KEY UPDATE total_bookings = total_bookings + 1`, userID)
	return err
}

// IncrementCancellation counts a user-initiated cancellation.
func (r *StatsRepo) IncrementCancellation(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_booking_stats (user_id, cancellation_count) VALUES (?, 1)
		 ON DUPLICATE KEY UPDATE cancellation_count = cancellation_count + 1`, userID)
	return err
}

// RecordNoShow counts a missed booking and suspends the user until
// suspendUntil once the count reaches threshold.
func (r *StatsRepo) RecordNoShow(ctx context.Context, userID string, threshold int, suspendUntil time.Time) error {
	until := suspendUntil.UTC()
	var initial any
	if threshold <= 1 {
		initial = until
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_booking_stats (user_id, no_show_count, average_usage, suspended_until)
		 VALUES (?, 1, 0, ?)
		 ON DUPLICATE KEY UPDATE
		   no_show_count = no_show_count + 1,
		   `+usageExpr+`,
		   suspended_until = IF(no_show_count >= ?, ?, suspended_until)`,
		userID, initial, threshold, until)
	return err
}

// RecordCompletion counts an attended booking.
func (r *StatsRepo) RecordCompletion(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_booking_stats (user_id, completed_count, average_usage) VALUES (?, 1, 1)
		 ON DUPLICATE KEY UPDATE
		   completed_count = completed_count + 1,
		   `+usageExpr, userID)
	return err
}
