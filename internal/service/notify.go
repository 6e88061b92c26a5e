package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
)

// Template names understood by the notification consumer.
const (
	TemplateBookingConfirmed = "booking_confirmed"
	TemplateWaitlistJoined   = "waitlist_joined"
	TemplateWaitlistPromoted = "waitlist_promoted"
	TemplateBookingCancelled = "booking_cancelled"
	TemplatePromotionExpired = "promotion_expired"
	TemplateNoShow           = "booking_no_show"
	TemplateReminder         = "booking_reminder"
)

// Notification is one message addressed to a user.
type Notification struct {
	Template  string         `json:"template"`
	BookingID string         `json:"booking_id"`
	UserID    string         `json:"user_id"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notifier delivers notifications.  Implementations may fail; callers never
// treat a failure as fatal.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log.  It stands in
// when no broker is reachable.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	slog.InfoContext(ctx, "notification", "template", n.Template, "booking_id", n.BookingID, "recipient", n.Recipient)
	return nil
}

func (s *Service) notify(ctx context.Context, n Notification) {
	n.CreatedAt = s.now()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.WarnContext(ctx, "notification failed",
			"template", n.Template, "booking_id", n.BookingID, "err", err)
		metrics.NotifyFailures.WithLabelValues(n.Template).Inc()
	}
}
