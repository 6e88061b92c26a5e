package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
)

// PromotionResult lists the waitlist entries moved to pending confirmation.
// Promoted is false when the waitlist was empty or no seat was free.
type PromotionResult struct {
	Promoted bool            `json:"promoted"`
	Bookings []model.Booking `json:"bookings"`
}

// WindowFor returns the confirmation window used for a promotion reason.
func (s *Service) WindowFor(reason model.PromotionReason) time.Duration {
	switch reason {
	case model.PromotionNoShow:
		return s.policy.NoShowPromotionWindow
	case model.PromotionExpired:
		return s.policy.ExpiryPromotionWindow
	default:
		return s.policy.PromotionWindow
	}
}

// Promote offers free seats of a slot to the waitlist in position order.
// Each promoted entry must confirm within window.  Calling it on a slot
// without free seats or without waitlist entries is a no-op.
func (s *Service) Promote(ctx context.Context, amenityID string, start time.Time, reason model.PromotionReason, window time.Duration) (*PromotionResult, error) {
	if window <= 0 {
		return nil, validation("promotion window must be positive")
	}
	a, err := s.amenity(ctx, amenityID)
	if err != nil {
		return nil, err
	}
	slot := model.Slot{AmenityID: a.ID, StartTime: start.UTC()}

	var res PromotionResult
	err = s.inSlot(ctx, "promote", slot, func(tx repository.SlotTx) error {
		var err error
		res, err = s.promoteTx(ctx, tx, a.Capacity(), reason, window)
		return err
	})
	if err != nil {
		return nil, fromRepo(err, "booking")
	}
	s.afterPromotion(ctx, a, res)
	return &res, nil
}

// promoteTx fills every free seat of the locked slot from the head of the
// waitlist.  It must run inside the transaction that freed the seat so no
// admission can take it in between.
func (s *Service) promoteTx(ctx context.Context, tx repository.SlotTx, capacity int, reason model.PromotionReason, window time.Duration) (PromotionResult, error) {
	res := PromotionResult{Bookings: []model.Booking{}}
	occupied, err := tx.CountOccupying(ctx)
	if err != nil {
		return res, err
	}
	for free := capacity - occupied; free > 0; free-- {
		next, err := tx.NextWaitlisted(ctx)
		if err != nil {
			return res, err
		}
		if next == nil {
			break
		}
		now := s.now()
		deadline := now.Add(window)
		ok, err := tx.Promote(ctx, next.ID, now, deadline, reason)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, fmt.Errorf("promote %s: %w", next.ID, repository.ErrConflict)
		}
		r := reason
		next.Status = model.StatusPendingConfirmation
		next.PromotedAt = &now
		next.ConfirmationDeadline = &deadline
		next.PromotionReason = &r
		next.UpdatedAt = now
		res.Bookings = append(res.Bookings, *next)
	}
	res.Promoted = len(res.Bookings) > 0
	return res, nil
}

// afterPromotion runs the side effects of a committed promotion.
func (s *Service) afterPromotion(ctx context.Context, a *model.Amenity, res PromotionResult) {
	for _, b := range res.Bookings {
		reason := ""
		if b.PromotionReason != nil {
			reason = string(*b.PromotionReason)
		}
		metrics.Promotions.WithLabelValues(reason).Inc()
		s.log.InfoContext(ctx, "waitlist promoted",
			"booking_id", b.ID, "slot", b.Slot().Key(), "reason", reason, "deadline", b.ConfirmationDeadline)
		s.notify(ctx, Notification{
			Template:  TemplateWaitlistPromoted,
			BookingID: b.ID,
			UserID:    b.UserID,
			Recipient: b.UserEmail,
			Data: map[string]any{
				"amenity":     a.Name,
				"start_time":  b.StartTime,
				"deadline":    b.ConfirmationDeadline,
				"confirm_url": s.actionURL(b.ID, "confirm"),
				"decline_url": s.actionURL(b.ID, "decline"),
			},
		})
	}
}

func (s *Service) actionURL(id, action string) string {
	return ConfirmationURL(s.baseURL, id, action)
}

// ConfirmationURL is the link sent with a promotion.  It targets
// POST /v1/bookings/:id/confirm on the API at base.
func ConfirmationURL(base, id, action string) string {
	return fmt.Sprintf("%s/v1/bookings/%s/confirm?action=%s",
		strings.TrimRight(base, "/"), url.PathEscape(id), url.QueryEscape(action))
}

// PromoteRequest is the body of the promote-waitlist endpoints.
type PromoteRequest struct {
	AmenityID     string `json:"amenity_id"`
	StartTime     string `json:"start_time"`
	Reason        string `json:"reason"`
	WindowMinutes int    `json:"window_minutes"`
}

var promotionReasons = map[model.PromotionReason]bool{
	model.PromotionCancellation: true,
	model.PromotionNoShow:       true,
	model.PromotionDeclined:     true,
	model.PromotionExpired:      true,
	model.PromotionManual:       true,
}

// PromoteFor runs a promotion requested by a community admin.
func (s *Service) PromoteFor(ctx context.Context, who model.Identity, req PromoteRequest) (*PromotionResult, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	if !who.IsAdmin() {
		return nil, forbidden("only community admins can promote the waitlist")
	}
	if req.AmenityID != "" {
		a, err := s.amenity(ctx, req.AmenityID)
		if err != nil {
			return nil, err
		}
		if a.CommunityID != who.CommunityID {
			return nil, forbidden("amenity belongs to another community")
		}
	}
	return s.PromoteRequested(ctx, req)
}

// PromoteRequested validates a promote request and runs it.  The reason
// defaults to manual and the window to the reason's window.
func (s *Service) PromoteRequested(ctx context.Context, req PromoteRequest) (*PromotionResult, error) {
	if req.AmenityID == "" {
		return nil, validation("amenity_id is required")
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		return nil, err
	}
	reason := model.PromotionManual
	if req.Reason != "" {
		reason = model.PromotionReason(req.Reason)
		if !promotionReasons[reason] {
			return nil, validation("unknown promotion reason " + req.Reason)
		}
	}
	if req.WindowMinutes < 0 {
		return nil, validation("window_minutes must not be negative")
	}
	window := s.WindowFor(reason)
	if req.WindowMinutes > 0 {
		window = time.Duration(req.WindowMinutes) * time.Minute
	}
	return s.Promote(ctx, req.AmenityID, start, reason, window)
}
