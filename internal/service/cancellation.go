package service

import (
	"context"
	"strings"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
	"github.com/iliyamo/community-amenity-booking/internal/utils"
)

// CancelResult is returned by Cancel with the promotion it triggered.
type CancelResult struct {
	Booking   *model.Booking  `json:"booking"`
	Promotion PromotionResult `json:"promotion"`
}

var activeStatuses = []model.Status{model.StatusConfirmed, model.StatusPendingConfirmation, model.StatusWaitlist}

// Cancel withdraws an active booking.  Owners may cancel their own
// bookings and community admins any booking of their community.  When the
// booking held a seat, the next waitlist entry is promoted in the same
// transaction.
func (s *Service) Cancel(ctx context.Context, who model.Identity, id string) (*CancelResult, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "booking")
	}
	if err := authorizeView(who, b); err != nil {
		return nil, err
	}
	if !b.Status.Active() {
		return nil, invalidState("booking is already " + string(b.Status))
	}
	a, err := s.amenity(ctx, b.AmenityID)
	if err != nil {
		return nil, err
	}

	var out CancelResult
	err = s.inSlot(ctx, "cancel", b.Slot(), func(tx repository.SlotTx) error {
		out = CancelResult{}
		cur, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !cur.Status.Active() {
			return invalidState("booking is already " + string(cur.Status))
		}
		now := s.now()
		ok, err := tx.Transition(ctx, id, activeStatuses, model.StatusCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return repository.ErrConflict
		}
		held := cur.Status.Occupying()
		cur.Status = model.StatusCancelled
		cur.CancelledAt = &now
		cur.UpdatedAt = now
		out.Booking = cur
		if held {
			out.Promotion, err = s.promoteTx(ctx, tx, a.Capacity(), model.PromotionCancellation, s.policy.PromotionWindow)
		}
		return err
	})
	if err != nil {
		return nil, fromRepo(err, "booking")
	}

	metrics.Transitions.WithLabelValues(string(model.StatusCancelled)).Inc()
	if err := s.stats.IncrementCancellation(ctx, b.UserID); err != nil {
		s.log.WarnContext(ctx, "booking stats update failed", "user_id", b.UserID, "err", err)
	}
	s.notify(ctx, Notification{
		Template: TemplateBookingCancelled, BookingID: id, UserID: b.UserID, Recipient: b.UserEmail,
		Data: map[string]any{"amenity": a.Name, "start_time": b.StartTime, "by_admin": who.UserID != b.UserID},
	})
	s.afterPromotion(ctx, a, out.Promotion)
	return &out, nil
}

// CheckIn records attendance with the credential issued at confirmation.
// It is accepted from CheckInOpensBefore ahead of the start until the end
// of the slot.
func (s *Service) CheckIn(ctx context.Context, who model.Identity, id, token string) (*model.Booking, error) {
	if strings.TrimSpace(token) == "" {
		return nil, validation("token is required")
	}
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "booking")
	}
	if err := authorizeView(who, b); err != nil {
		return nil, err
	}
	if b.Status != model.StatusConfirmed {
		return nil, invalidState("only confirmed bookings can be checked in")
	}
	if b.QRUsed {
		return nil, invalidState("booking is already checked in")
	}
	now := s.now()
	if now.Before(b.StartTime.Add(-s.policy.CheckInOpensBefore)) || now.After(b.EndTime) {
		return nil, validation("check-in is only possible around the booked slot")
	}
	ok, err := s.bookings.CheckIn(ctx, id, utils.HashToken(token), now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("check-in credential is invalid or already used")
	}
	b.CheckInTime = &now
	b.QRUsed = true
	b.UpdatedAt = now
	return b, nil
}
