package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a booking.
type Status string

const (
	StatusConfirmed           Status = "confirmed"
	StatusWaitlist            Status = "waitlist"
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusDeclined            Status = "declined"
	StatusCancelled           Status = "cancelled"
	StatusExpired             Status = "expired"
	StatusNoShow              Status = "no_show"
	StatusCompleted           Status = "completed"
)

// OccupyingStatuses are the statuses that hold one unit of slot capacity.
var OccupyingStatuses = []Status{StatusConfirmed, StatusPendingConfirmation}

// Occupying reports whether a booking in this status consumes capacity.
func (s Status) Occupying() bool {
	return s == StatusConfirmed || s == StatusPendingConfirmation
}

// Active reports whether the booking still takes part in the slot, either
// holding a seat or waiting for one.
func (s Status) Active() bool {
	return s.Occupying() || s == StatusWaitlist
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusCancelled, StatusExpired, StatusNoShow, StatusCompleted:
		return true
	}
	return false
}

// PromotionReason records why a waitlisted booking was promoted.
type PromotionReason string

const (
	PromotionCancellation PromotionReason = "cancellation"
	PromotionNoShow       PromotionReason = "no_show"
	PromotionDeclined     PromotionReason = "declined"
	PromotionExpired      PromotionReason = "expired"
	PromotionManual       PromotionReason = "manual"
)

// Attendees is the list of guest names stored as a JSON column.
type Attendees []string

// Value implements driver.Valuer.
func (a Attendees) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attendees) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Attendees{}
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(a))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(a))
	}
	return errors.New("attendees: unsupported column type")
}

// Booking is one user's claim on an amenity slot.  A slot is identified by
// the exact (AmenityID, StartTime) pair.  Bookings are never deleted; they
// end in one of the terminal statuses.
type Booking struct {
	ID                   string           `db:"id" json:"id"`
	AmenityID            string           `db:"amenity_id" json:"amenity_id"`
	CommunityID          string           `db:"community_id" json:"community_id"`
	UserID               string           `db:"user_id" json:"user_id"`
	UserEmail            string           `db:"user_email" json:"user_email"`
	StartTime            time.Time        `db:"start_time" json:"start_time"`
	EndTime              time.Time        `db:"end_time" json:"end_time"`
	Status               Status           `db:"status" json:"status"`
	WaitlistPosition     *int64           `db:"waitlist_position" json:"waitlist_position,omitempty"`
	Attendees            Attendees        `db:"attendees" json:"attendees"`
	PromotedAt           *time.Time       `db:"promoted_at" json:"promoted_at,omitempty"`
	ConfirmationDeadline *time.Time       `db:"confirmation_deadline" json:"confirmation_deadline,omitempty"`
	PromotionReason      *PromotionReason `db:"promotion_reason" json:"promotion_reason,omitempty"`
	CheckInTime          *time.Time       `db:"check_in_time" json:"check_in_time,omitempty"`
	QRUsed               bool             `db:"qr_used" json:"qr_used"`
	QRTokenHash          *string          `db:"qr_token_hash" json:"-"`
	ReminderSent         bool             `db:"reminder_sent" json:"reminder_sent"`
	DepositRequired      bool             `db:"deposit_required" json:"deposit_required"`
	DepositAmount        decimal.Decimal  `db:"deposit_amount" json:"deposit_amount"`
	CancelledAt          *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// Slot returns the slot this booking belongs to.
func (b *Booking) Slot() Slot {
	return Slot{AmenityID: b.AmenityID, StartTime: b.StartTime}
}

// DeadlinePassed reports whether the confirmation deadline lies before now.
// A booking without a deadline never expires.
func (b *Booking) DeadlinePassed(now time.Time) bool {
	return b.ConfirmationDeadline != nil && now.After(*b.ConfirmationDeadline)
}

// Slot identifies the contended resource: one start time of one amenity.
type Slot struct {
	AmenityID string    `json:"amenity_id"`
	StartTime time.Time `json:"start_time"`
}

// Key is a stable string form used for lock names and log fields.
func (s Slot) Key() string {
	return s.AmenityID + "@" + s.StartTime.UTC().Format(time.RFC3339)
}

// Occupancy is the derived view of a slot's capacity usage.
type Occupancy struct {
	ConfirmedCount int `json:"confirmed_count"`
	Capacity       int `json:"capacity"`
}

// Available reports the number of free seats, never negative.
func (o Occupancy) Available() int {
	if n := o.Capacity - o.ConfirmedCount; n > 0 {
		return n
	}
	return 0
}
