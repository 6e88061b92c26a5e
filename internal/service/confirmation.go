package service

import (
	"context"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
	"github.com/iliyamo/community-amenity-booking/internal/utils"
)

// ConfirmResult is returned by Confirm.  AlreadyConfirmed marks an
// idempotent repeat; CheckInToken is only set on the first confirmation.
type ConfirmResult struct {
	Booking          *model.Booking `json:"booking"`
	AlreadyConfirmed bool           `json:"already_confirmed"`
	CheckInToken     string         `json:"check_in_token,omitempty"`
}

// DeclineResult is returned by Decline with the promotion it triggered.
type DeclineResult struct {
	Booking   *model.Booking  `json:"booking"`
	Promotion PromotionResult `json:"promotion"`
}

// ConfirmationStatus is the read-only view of a pending promotion.
type ConfirmationStatus struct {
	BookingID            string       `json:"booking_id"`
	Status               model.Status `json:"status"`
	ConfirmationDeadline *time.Time   `json:"confirmation_deadline,omitempty"`
	SecondsRemaining     int64        `json:"seconds_remaining"`
	Expired              bool         `json:"expired"`
}

// pendingOutcome carries what happened inside the slot transaction of a
// confirm or decline call.
type pendingOutcome struct {
	booking   *model.Booking
	already   bool
	expired   bool
	token     string
	promotion PromotionResult
}

// Confirm accepts a promotion for the caller's booking.  Confirming an
// already confirmed booking succeeds without side effects.  A booking
// whose deadline has passed is expired on the spot, its seat handed to the
// next waitlist entry, and ErrDeadlinePassed is returned.
func (s *Service) Confirm(ctx context.Context, who model.Identity, id string) (*ConfirmResult, error) {
	b, a, err := s.loadOwned(ctx, who, id)
	if err != nil {
		return nil, err
	}
	if b.Status == model.StatusConfirmed {
		return &ConfirmResult{Booking: b, AlreadyConfirmed: true}, nil
	}

	var out pendingOutcome
	err = s.inSlot(ctx, "confirm", b.Slot(), func(tx repository.SlotTx) error {
		out = pendingOutcome{}
		cur, err := s.lockPending(ctx, tx, id, &out)
		if err != nil || out.already {
			return err
		}
		if cur.DeadlinePassed(s.now()) {
			return s.expireTx(ctx, tx, a, cur, &out)
		}
		raw, hash, err := utils.NewCheckInToken()
		if err != nil {
			return err
		}
		now := s.now()
		ok, err := tx.Confirm(ctx, id, hash, now)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrConflict
		}
		cur.Status = model.StatusConfirmed
		cur.QRTokenHash = &hash
		cur.UpdatedAt = now
		out.booking = cur
		out.token = raw
		return nil
	})
	if err != nil {
		return nil, fromRepo(err, "booking")
	}
	if out.already {
		return &ConfirmResult{Booking: out.booking, AlreadyConfirmed: true}, nil
	}
	if out.expired {
		s.afterExpiry(ctx, a, out)
		return nil, ErrDeadlinePassed
	}

	metrics.Transitions.WithLabelValues(string(model.StatusConfirmed)).Inc()
	s.notify(ctx, Notification{
		Template: TemplateBookingConfirmed, BookingID: id, UserID: out.booking.UserID, Recipient: out.booking.UserEmail,
		Data: map[string]any{"amenity": a.Name, "start_time": out.booking.StartTime, "check_in_token": out.token},
	})
	return &ConfirmResult{Booking: out.booking, CheckInToken: out.token}, nil
}

// Decline gives up a promotion.  The freed seat goes to the next waitlist
// entry in the same transaction.
func (s *Service) Decline(ctx context.Context, who model.Identity, id string) (*DeclineResult, error) {
	b, a, err := s.loadOwned(ctx, who, id)
	if err != nil {
		return nil, err
	}

	var out pendingOutcome
	err = s.inSlot(ctx, "decline", b.Slot(), func(tx repository.SlotTx) error {
		out = pendingOutcome{}
		cur, err := s.lockPending(ctx, tx, id, &out)
		if err != nil {
			return err
		}
		if out.already {
			return invalidState("booking is already confirmed")
		}
		if cur.DeadlinePassed(s.now()) {
			return s.expireTx(ctx, tx, a, cur, &out)
		}
		now := s.now()
		ok, err := tx.Transition(ctx, id, []model.Status{model.StatusPendingConfirmation}, model.StatusDeclined, now)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrConflict
		}
		cur.Status = model.StatusDeclined
		cur.UpdatedAt = now
		out.booking = cur
		out.promotion, err = s.promoteTx(ctx, tx, a.Capacity(), model.PromotionDeclined, s.policy.PromotionWindow)
		return err
	})
	if err != nil {
		return nil, fromRepo(err, "booking")
	}
	if out.expired {
		s.afterExpiry(ctx, a, out)
		return nil, ErrDeadlinePassed
	}

	metrics.Transitions.WithLabelValues(string(model.StatusDeclined)).Inc()
	s.afterPromotion(ctx, a, out.promotion)
	return &DeclineResult{Booking: out.booking, Promotion: out.promotion}, nil
}

// Status reports where a promotion stands without changing anything.
// Expired is true as soon as the deadline has elapsed, even if no sweep
// has run yet.
func (s *Service) Status(ctx context.Context, who model.Identity, id string) (*ConfirmationStatus, error) {
	b, err := s.Get(ctx, who, id)
	if err != nil {
		return nil, err
	}
	st := &ConfirmationStatus{BookingID: b.ID, Status: b.Status, ConfirmationDeadline: b.ConfirmationDeadline}
	switch {
	case b.Status == model.StatusExpired:
		st.Expired = true
	case b.Status == model.StatusPendingConfirmation && b.ConfirmationDeadline != nil:
		remaining := b.ConfirmationDeadline.Sub(s.now())
		if remaining <= 0 {
			st.Expired = true
		} else {
			st.SecondsRemaining = int64(remaining / time.Second)
		}
	}
	return st, nil
}

// loadOwned reads the booking and its amenity and checks that the caller
// owns the booking.
func (s *Service) loadOwned(ctx context.Context, who model.Identity, id string) (*model.Booking, *model.Amenity, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fromRepo(err, "booking")
	}
	if err := authorizeOwner(who, b); err != nil {
		return nil, nil, err
	}
	a, err := s.amenity(ctx, b.AmenityID)
	if err != nil {
		return nil, nil, err
	}
	return b, a, nil
}

// lockPending re-reads the booking under the slot lock and accepts only
// pending_confirmation.  A confirmed booking sets out.already.
func (s *Service) lockPending(ctx context.Context, tx repository.SlotTx, id string, out *pendingOutcome) (*model.Booking, error) {
	cur, err := tx.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch cur.Status {
	case model.StatusPendingConfirmation:
		return cur, nil
	case model.StatusConfirmed:
		out.already = true
		out.booking = cur
		return cur, nil
	default:
		return nil, invalidState("booking is " + string(cur.Status) + ", not awaiting confirmation")
	}
}

// expireTx expires a pending booking whose deadline passed and promotes the
// next entrant with the expiry window.
func (s *Service) expireTx(ctx context.Context, tx repository.SlotTx, a *model.Amenity, cur *model.Booking, out *pendingOutcome) error {
	now := s.now()
	ok, err := tx.Transition(ctx, cur.ID, []model.Status{model.StatusPendingConfirmation}, model.StatusExpired, now)
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrConflict
	}
	cur.Status = model.StatusExpired
	cur.UpdatedAt = now
	out.booking = cur
	out.expired = true
	if !cur.EndTime.After(now) {
		return nil
	}
	out.promotion, err = s.promoteTx(ctx, tx, a.Capacity(), model.PromotionExpired, s.policy.ExpiryPromotionWindow)
	return err
}

func (s *Service) afterExpiry(ctx context.Context, a *model.Amenity, out pendingOutcome) {
	metrics.Transitions.WithLabelValues(string(model.StatusExpired)).Inc()
	s.notify(ctx, Notification{
		Template: TemplatePromotionExpired, BookingID: out.booking.ID, UserID: out.booking.UserID,
		Recipient: out.booking.UserEmail, Data: map[string]any{"amenity": a.Name, "start_time": out.booking.StartTime},
	})
	s.afterPromotion(ctx, a, out.promotion)
}
