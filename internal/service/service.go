// Package service implements the booking lifecycle: admission, waitlist
// promotion, confirmation, cancellation and the periodic sweeps.  Every
// change to the occupying count of a slot happens inside the store's
// slot-locked transaction.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
)

// BookingStore is the persistence the lifecycle needs.
type BookingStore interface {
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	ListByUser(ctx context.Context, userID, communityID string, limit int) ([]model.Booking, error)
	CountOccupying(ctx context.Context, slot model.Slot) (int, error)
	MaxWaitlistPosition(ctx context.Context, slot model.Slot) (int64, error)
	InSlotTx(ctx context.Context, slot model.Slot, fn func(repository.SlotTx) error) error
	CheckIn(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)
}

// StatsStore keeps per-user counters used by the eligibility gate.
type StatsStore interface {
	Get(ctx context.Context, userID string) (*model.UserBookingStats, error)
	IncrementTotal(ctx context.Context, userID string) error
	IncrementCancellation(ctx context.Context, userID string) error
	RecordNoShow(ctx context.Context, userID string, threshold int, suspendUntil time.Time) error
	RecordCompletion(ctx context.Context, userID string) error
}

// Options carries the optional collaborators of a Service.
type Options struct {
	BaseURL string
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Service is the booking lifecycle engine.
type Service struct {
	bookings    BookingStore
	amenities   repository.AmenitySource
	stats       StatsStore
	notifier    Notifier
	eligibility *EligibilityGate
	policy      config.Policy
	baseURL     string
	log         *slog.Logger
	now         func() time.Time
}

// New builds a Service and panics if a required dependency is nil.
func New(bookings BookingStore, amenities repository.AmenitySource, stats StatsStore, notifier Notifier, policy config.Policy, opts Options) *Service {
	if bookings == nil || amenities == nil || stats == nil {
		panic("nil store passed to service.New")
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	s := &Service{
		bookings:  bookings,
		amenities: amenities,
		stats:     stats,
		notifier:  notifier,
		policy:    policy,
		baseURL:   opts.BaseURL,
		log:       opts.Logger,
	}
	s.now = func() time.Time { return opts.Clock().UTC() }
	s.eligibility = NewEligibilityGate(stats, policy, s.now)
	return s
}

// Eligibility exposes the gate used by admission.
func (s *Service) Eligibility() *EligibilityGate { return s.eligibility }

// Get returns a booking visible to the caller.
func (s *Service) Get(ctx context.Context, who model.Identity, id string) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "booking")
	}
	if err := authorizeView(who, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListMine returns the caller's bookings in their community.
func (s *Service) ListMine(ctx context.Context, who model.Identity, limit int) ([]model.Booking, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.bookings.ListByUser(ctx, who.UserID, who.CommunityID, limit)
}

// authorizeOwner allows only the booking's owner within their community.
func authorizeOwner(who model.Identity, b *model.Booking) error {
	if who.UserID == "" {
		return ErrUnauthorized
	}
	if b.CommunityID != who.CommunityID {
		return forbidden("booking belongs to another community")
	}
	if b.UserID != who.UserID {
		return forbidden("booking belongs to another user")
	}
	return nil
}

// authorizeView additionally lets community admins act on any booking of
// their own community.
func authorizeView(who model.Identity, b *model.Booking) error {
	if who.UserID == "" {
		return ErrUnauthorized
	}
	if who.IsAdmin() && b.CommunityID == who.CommunityID {
		return nil
	}
	return authorizeOwner(who, b)
}

// amenity loads an amenity and maps lookup errors.
func (s *Service) amenity(ctx context.Context, id string) (*model.Amenity, error) {
	a, err := s.amenities.GetByID(ctx, id)
	if err != nil {
		return nil, fromRepo(err, "amenity")
	}
	return a, nil
}

// inSlot runs fn under the slot lock and records how long the lock was held.
func (s *Service) inSlot(ctx context.Context, op string, slot model.Slot, fn func(repository.SlotTx) error) error {
	started := time.Now()
	err := s.bookings.InSlotTx(ctx, slot, fn)
	observeSlotTx(op, time.Since(started))
	return err
}
