package service

import (
	"context"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// Occupancy reports how many occupying bookings a slot holds and its
// capacity.  The count is derived from bookings on every call and is only
// a snapshot; decisions that depend on it re-read under the slot lock.
func (s *Service) Occupancy(ctx context.Context, amenityID string, start time.Time) (model.Occupancy, error) {
	a, err := s.amenity(ctx, amenityID)
	if err != nil {
		return model.Occupancy{}, err
	}
	n, err := s.bookings.CountOccupying(ctx, model.Slot{AmenityID: a.ID, StartTime: start.UTC()})
	if err != nil {
		return model.Occupancy{}, err
	}
	return model.Occupancy{ConfirmedCount: n, Capacity: a.Capacity()}, nil
}

// OccupancyFor is Occupancy restricted to amenities of the caller's community.
func (s *Service) OccupancyFor(ctx context.Context, who model.Identity, amenityID, start string) (model.Occupancy, error) {
	t, err := parseTime("start", start)
	if err != nil {
		return model.Occupancy{}, err
	}
	a, err := s.amenity(ctx, amenityID)
	if err != nil {
		return model.Occupancy{}, err
	}
	if a.CommunityID != who.CommunityID {
		return model.Occupancy{}, forbidden("amenity belongs to another community")
	}
	return s.Occupancy(ctx, amenityID, t)
}

func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, validation(field + " is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, validation(field + " must be an RFC3339 timestamp")
	}
	return t.UTC(), nil
}

func observeSlotTx(op string, d time.Duration) {
	metrics.SlotTxDuration.WithLabelValues(op).Observe(d.Seconds())
}
