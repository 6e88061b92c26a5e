package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// Deposit amounts per amenity category.
var depositByCategory = map[string]decimal.Decimal{
	"bbq":           decimal.NewFromInt(50),
	"clubhouse":     decimal.NewFromInt(100),
	"function_room": decimal.NewFromInt(100),
	"pool":          decimal.NewFromInt(20),
	"tennis":        decimal.NewFromInt(30),
	"gym":           decimal.NewFromInt(10),
}

var defaultDeposit = decimal.NewFromInt(25)

// DepositFor returns the deposit charged for an amenity category.
func DepositFor(category string) decimal.Decimal {
	if d, ok := depositByCategory[strings.ToLower(strings.TrimSpace(category))]; ok {
		return d
	}
	return defaultDeposit
}

// PriorityScore ranks users for scarce slots; lower is better.  It never
// decreases when bookings, no-shows or cancellations grow, and never
// increases when the usage rate grows.
func PriorityScore(s model.UserBookingStats) float64 {
	score := 50.0
	switch {
	case s.TotalBookings < 5:
		score -= 10
	case s.TotalBookings > 20:
		score += float64(s.TotalBookings-20) * 0.5
	}
	score += float64(s.NoShowCount) * 20
	score += float64(s.CancellationCount) * 5
	if usage := clamp01(s.AverageUsage); usage < 0.5 {
		score += (0.5 - usage) * 20
	}
	return math.Round(score*100) / 100
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// EligibilityGate decides whether a user may book and under which terms.
type EligibilityGate struct {
	stats  StatsStore
	policy config.Policy
	now    func() time.Time
}

// NewEligibilityGate builds a gate over the given stats store.
func NewEligibilityGate(stats StatsStore, policy config.Policy, now func() time.Time) *EligibilityGate {
	return &EligibilityGate{stats: stats, policy: policy, now: now}
}

// Check evaluates the user's standing for a booking of the given amenity
// category.  Stats are created on first access.
func (g *EligibilityGate) Check(ctx context.Context, userID, category string) (model.Eligibility, error) {
	st, err := g.stats.Get(ctx, userID)
	if err != nil {
		return model.Eligibility{}, fmt.Errorf("load booking stats: %w", err)
	}
	e := model.Eligibility{
		CanBook:       true,
		DepositAmount: decimal.Zero,
		PriorityScore: PriorityScore(*st),
	}
	if st.Suspended(g.now()) {
		e.CanBook = false
		e.IsSuspended = true
		e.SuspendedUntil = st.SuspendedUntil
		e.Reason = fmt.Sprintf("booking suspended until %s after %d no-shows",
			st.SuspendedUntil.UTC().Format(time.RFC3339), st.NoShowCount)
		return e, nil
	}
	if st.NoShowCount >= g.policy.DepositThreshold {
		e.RequiresDeposit = true
		e.DepositAmount = DepositFor(category)
		e.Reason = fmt.Sprintf("deposit required after %d no-shows", st.NoShowCount)
	}
	return e, nil
}

// CheckEligibility runs the gate for the caller.
func (s *Service) CheckEligibility(ctx context.Context, who model.Identity, category string) (model.Eligibility, error) {
	if who.UserID == "" {
		return model.Eligibility{}, ErrUnauthorized
	}
	return s.eligibility.Check(ctx, who.UserID, category)
}
