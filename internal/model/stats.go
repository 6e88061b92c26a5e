package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBookingStats aggregates a user's booking history.  It is created on
// first use and updated on every booking, cancellation, no-show and
// completion.
type UserBookingStats struct {
	UserID            string     `db:"user_id" json:"user_id"`
	TotalBookings     int        `db:"total_bookings" json:"total_bookings"`
	NoShowCount       int        `db:"no_show_count" json:"no_show_count"`
	CancellationCount int        `db:"cancellation_count" json:"cancellation_count"`
	CompletedCount    int        `db:"completed_count" json:"completed_count"`
	AverageUsage      float64    `db:"average_usage" json:"average_usage"` // completed / (completed + no-shows), 1 when unknown
	SuspendedUntil    *time.Time `db:"suspended_until" json:"suspended_until,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Suspended reports whether the suspension is still in force at now.
func (s *UserBookingStats) Suspended(now time.Time) bool {
	return s.SuspendedUntil != nil && s.SuspendedUntil.After(now)
}

// Eligibility is the outcome of the pre-admission gate.
type Eligibility struct {
	CanBook         bool            `json:"can_book"`
	RequiresDeposit bool            `json:"requires_deposit"`
	DepositAmount   decimal.Decimal `json:"deposit_amount"`
	PriorityScore   float64         `json:"priority_score"`
	IsSuspended     bool            `json:"is_suspended"`
	SuspendedUntil  *time.Time      `json:"suspended_until,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}
