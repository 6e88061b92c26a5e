package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

const bookingColumns = `id, amenity_id, community_id, user_id, user_email, start_time, end_time, status,
       waitlist_position, attendees, promoted_at, confirmation_deadline, promotion_reason,
       check_in_time, qr_used, qr_token_hash, reminder_sent, deposit_required, deposit_amount,
       cancelled_at, created_at, updated_at`

// slotTxAttempts bounds how many times InSlotTx restarts after a deadlock.
const slotTxAttempts = 3

// BookingRepo provides persistence for bookings.  Every write that changes
// the occupying count of a slot goes through InSlotTx, which serialises
// writers per (amenity_id, start_time).  All timestamps are stored in UTC.
type BookingRepo struct {
	db *sqlx.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sqlx.DB) *BookingRepo { return &BookingRepo{db: db} }

// GetByID returns one booking or ErrNotFound.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := r.db.GetContext(ctx, &b, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListByUser returns the user's bookings in a community, newest slot first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID, communityID string, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE user_id = ? AND community_id = ?
		 ORDER BY start_time DESC LIMIT ?`, userID, communityID, limit)
	return out, err
}

// CountOccupying counts confirmed and pending bookings of a slot without
// taking any lock.  The result is advisory only.
func (r *BookingRepo) CountOccupying(ctx context.Context, slot model.Slot) (int, error) {
	return countOccupying(ctx, r.db, slot, false)
}

// MaxWaitlistPosition returns the highest waitlist position ever assigned in
// the slot, or 0 when none exists.  The result is advisory only.
func (r *BookingRepo) MaxWaitlistPosition(ctx context.Context, slot model.Slot) (int64, error) {
	return maxWaitlistPosition(ctx, r.db, slot)
}

// InSlotTx runs fn inside a transaction that holds the row lock for slot.
// The lock row in slot_locks is created on first use; concurrent callers
// for the same slot block on it until the holder commits or rolls back.
// Deadlocks and lock wait timeouts restart the whole transaction; after
// the last attempt ErrRetryExhausted is returned.
func (r *BookingRepo) InSlotTx(ctx context.Context, slot model.Slot, fn func(SlotTx) error) error {
	var err error
	for attempt := 1; attempt <= slotTxAttempts; attempt++ {
		err = r.runSlotTx(ctx, slot, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*25) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", ErrRetryExhausted, err)
}

func (r *BookingRepo) runSlotTx(ctx context.Context, slot model.Slot, fn func(SlotTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	start := slot.StartTime.UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO slot_locks (amenity_id, start_time) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE amenity_id = amenity_id`, slot.AmenityID, start); err != nil {
		return err
	}
	var locked string
	if err := tx.GetContext(ctx, &locked,
		`SELECT amenity_id FROM slot_locks WHERE amenity_id = ? AND start_time = ? FOR UPDATE`,
		slot.AmenityID, start); err != nil {
		return err
	}

	if err := fn(&slotTx{tx: tx, slot: model.Slot{AmenityID: slot.AmenityID, StartTime: start}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ListNoShowCandidates returns confirmed bookings that started at or before
// cutoff and were never checked in.
func (r *BookingRepo) ListNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = ? AND start_time <= ? AND check_in_time IS NULL AND qr_used = 0
		 ORDER BY start_time LIMIT ?`, model.StatusConfirmed, cutoff.UTC(), limit)
	return out, err
}

// ListExpiredPending returns promoted bookings whose confirmation deadline
// lies before now.
func (r *BookingRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = ? AND confirmation_deadline < ?
		 ORDER BY confirmation_deadline LIMIT ?`, model.StatusPendingConfirmation, now.UTC(), limit)
	return out, err
}

// ListReminderDue returns confirmed bookings starting within [from, to]
// that have not been reminded yet.
func (r *BookingRepo) ListReminderDue(ctx context.Context, from, to time.Time, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = ? AND reminder_sent = 0 AND start_time BETWEEN ? AND ?
		 ORDER BY start_time LIMIT ?`, model.StatusConfirmed, from.UTC(), to.UTC(), limit)
	return out, err
}

// ListCompletable returns checked-in confirmed bookings whose slot has ended.
func (r *BookingRepo) ListCompletable(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	err := r.db.SelectContext(ctx, &out,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status = ? AND check_in_time IS NOT NULL AND end_time <= ?
		 ORDER BY end_time LIMIT ?`, model.StatusConfirmed, now.UTC(), limit)
	return out, err
}

// ClaimReminder flips reminder_sent for a still-confirmed booking.  Only the
// caller that sees true may send the reminder.
func (r *BookingRepo) ClaimReminder(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET reminder_sent = 1 WHERE id = ? AND status = ? AND reminder_sent = 0`,
		id, model.StatusConfirmed)
	return affected(res, err)
}

// Complete moves a checked-in confirmed booking to completed.
func (r *BookingRepo) Complete(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND check_in_time IS NOT NULL`,
		model.StatusCompleted, at.UTC(), id, model.StatusConfirmed)
	return affected(res, err)
}

// CheckIn records physical attendance.  The token hash must match and the
// credential can only be used once.
func (r *BookingRepo) CheckIn(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET check_in_time = ?, qr_used = 1, updated_at = ?
		 WHERE id = ? AND status = ? AND qr_used = 0 AND qr_token_hash = ?`,
		at.UTC(), at.UTC(), id, model.StatusConfirmed, tokenHash)
	return affected(res, err)
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func countOccupying(ctx context.Context, q sqlx.QueryerContext, slot model.Slot, lock bool) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
	          WHERE amenity_id = ? AND start_time = ? AND status IN (?, ?)`
	if lock {
		query += ` FOR UPDATE`
	}
	var n int
	err := sqlx.GetContext(ctx, q, &n, query,
		slot.AmenityID, slot.StartTime.UTC(), model.StatusConfirmed, model.StatusPendingConfirmation)
	return n, err
}

func maxWaitlistPosition(ctx context.Context, q sqlx.QueryerContext, slot model.Slot) (int64, error) {
	var pos sql.NullInt64
	err := sqlx.GetContext(ctx, q, &pos,
		`SELECT MAX(waitlist_position) FROM bookings WHERE amenity_id = ? AND start_time = ?`,
		slot.AmenityID, slot.StartTime.UTC())
	if err != nil {
		return 0, err
	}
	return pos.Int64, nil
}
