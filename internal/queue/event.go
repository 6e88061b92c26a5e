// Package queue moves user notifications through RabbitMQ: a publisher used
// by the booking service and a consumer that records every delivery in
// logs/notifications.log.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/community-amenity-booking/internal/service"
)

// Event is the message body published for every notification.  It carries
// enough to render the message without querying the primary database.
type Event struct {
	ID        string         `json:"id"`
	Template  string         `json:"template"`
	BookingID string         `json:"booking_id"`
	UserID    string         `json:"user_id"`
	Recipient string         `json:"recipient"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent wraps a notification with a fresh message id.
func NewEvent(n service.Notification) Event {
	at := n.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Event{
		ID:        uuid.NewString(),
		Template:  n.Template,
		BookingID: n.BookingID,
		UserID:    n.UserID,
		Recipient: n.Recipient,
		Data:      n.Data,
		CreatedAt: at,
	}
}

// RoutingKey is the topic key an event is published under.
func (e Event) RoutingKey() string {
	return "notification." + e.Template
}

// BindingKey matches every notification routing key.
const BindingKey = "notification.#"
