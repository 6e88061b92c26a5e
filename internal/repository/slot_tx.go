package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// SlotTx is the set of reads and writes available while the slot lock is
// held.  Counts read through it are authoritative for the lifetime of the
// transaction.
type SlotTx interface {
	Slot() model.Slot
	CountOccupying(ctx context.Context) (int, error)
	MaxWaitlistPosition(ctx context.Context) (int64, error)
	HasActiveForUser(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, id string) (*model.Booking, error)
	Insert(ctx context.Context, b *model.Booking) error
	NextWaitlisted(ctx context.Context) (*model.Booking, error)
	Promote(ctx context.Context, id string, at, deadline time.Time, reason model.PromotionReason) (bool, error)
	Transition(ctx context.Context, id string, from []model.Status, to model.Status, at time.Time) (bool, error)
	Confirm(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)
	MarkNoShow(ctx context.Context, id string, at time.Time) (bool, error)
}

type slotTx struct {
	tx   *sqlx.Tx
	slot model.Slot
}

func (s *slotTx) Slot() model.Slot { return s.slot }

func (s *slotTx) CountOccupying(ctx context.Context) (int, error) {
	return countOccupying(ctx, s.tx, s.slot, true)
}

func (s *slotTx) MaxWaitlistPosition(ctx context.Context) (int64, error) {
	return maxWaitlistPosition(ctx, s.tx, s.slot)
}

func (s *slotTx) HasActiveForUser(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.tx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM bookings
		 WHERE amenity_id = ? AND start_time = ? AND user_id = ? AND status IN (?, ?, ?)`,
		s.slot.AmenityID, s.slot.StartTime, userID,
		model.StatusConfirmed, model.StatusPendingConfirmation, model.StatusWaitlist)
	return n > 0, err
}

// Get re-reads a booking of this slot with a row lock.
func (s *slotTx) Get(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := s.tx.GetContext(ctx, &b,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *slotTx) Insert(ctx context.Context, b *model.Booking) error {
	_, err := s.tx.NamedExecContext(ctx,
		`INSERT INTO bookings (id, amenity_id, community_id, user_id, user_email, start_time, end_time,
		                       status, waitlist_position, attendees, qr_token_hash, deposit_required,
		                       deposit_amount, created_at, updated_at)
		 VALUES (:id, :amenity_id, :community_id, :user_id, :user_email, :start_time, :end_time,
		         :status, :waitlist_position, :attendees, :qr_token_hash, :deposit_required,
		         :deposit_amount, :created_at, :updated_at)`, b)
	return err
}

// NextWaitlisted returns the waitlist entry with the lowest position, or
// nil when the waitlist is empty.
func (s *slotTx) NextWaitlisted(ctx context.Context) (*model.Booking, error) {
	var b model.Booking
	err := s.tx.GetContext(ctx, &b,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE amenity_id = ? AND start_time = ? AND status = ?
		 ORDER BY waitlist_position ASC, created_at ASC LIMIT 1 FOR UPDATE`,
		s.slot.AmenityID, s.slot.StartTime, model.StatusWaitlist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *slotTx) Promote(ctx context.Context, id string, at, deadline time.Time, reason model.PromotionReason) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE bookings
		 SET status = ?, promoted_at = ?, confirmation_deadline = ?, promotion_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusPendingConfirmation, at.UTC(), deadline.UTC(), reason, at.UTC(),
		id, model.StatusWaitlist)
	return affected(res, err)
}

// Transition moves a booking to status to if its current status is one of
// from.  Moving to cancelled also stamps cancelled_at.
func (s *slotTx) Transition(ctx context.Context, id string, from []model.Status, to model.Status, at time.Time) (bool, error) {
	set := `status = ?, updated_at = ?`
	args := []any{to, at.UTC()}
	if to == model.StatusCancelled {
		set += `, cancelled_at = ?`
		args = append(args, at.UTC())
	}
	args = append(args, id, from)
	query, args, err := sqlx.In(`UPDATE bookings SET `+set+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return false, err
	}
	res, err := s.tx.ExecContext(ctx, s.tx.Rebind(query), args...)
	return affected(res, err)
}

// Confirm accepts a promotion and stores the check-in credential hash.
func (s *slotTx) Confirm(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, qr_token_hash = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.StatusConfirmed, tokenHash, at.UTC(), id, model.StatusPendingConfirmation)
	return affected(res, err)
}

// MarkNoShow fails if the booking was checked in concurrently.
func (s *slotTx) MarkNoShow(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND check_in_time IS NULL AND qr_used = 0`,
		model.StatusNoShow, at.UTC(), id, model.StatusConfirmed)
	return affected(res, err)
}
