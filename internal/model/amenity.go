package model

import (
	"fmt"
	"time"
)

// Amenity is a bookable shared facility of a community.  This service only
// reads amenities; they are managed elsewhere.
type Amenity struct {
	ID              string `db:"id" json:"id"`
	CommunityID     string `db:"community_id" json:"community_id"`
	Name            string `db:"name" json:"name"`
	Category        string `db:"category" json:"category"`
	MaxPeople       int    `db:"max_people" json:"max_people"`
	SlotDurationMin int    `db:"slot_duration_min" json:"slot_duration_min"`
	OpenTime        string `db:"open_time" json:"open_time"`   // "HH:MM", empty means always open
	CloseTime       string `db:"close_time" json:"close_time"` // "HH:MM"
	Timezone        string `db:"timezone" json:"timezone"`
	AllowWaitlist   bool   `db:"allow_waitlist" json:"allow_waitlist"`
}

// Capacity is the number of concurrent occupying bookings per slot.
func (a *Amenity) Capacity() int {
	if a.MaxPeople <= 0 {
		return 1
	}
	return a.MaxPeople
}

// SlotDuration returns the fixed slot width, or zero when unset.
func (a *Amenity) SlotDuration() time.Duration {
	return time.Duration(a.SlotDurationMin) * time.Minute
}

// Location resolves the amenity timezone, falling back to UTC.
func (a *Amenity) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WithinHours reports whether [start, end) falls inside the operating hours
// in the amenity's local time.  Amenities without hours accept any range.
func (a *Amenity) WithinHours(start, end time.Time) (bool, error) {
	if a.OpenTime == "" || a.CloseTime == "" {
		return true, nil
	}
	open, err := clockMinutes(a.OpenTime)
	if err != nil {
		return false, err
	}
	closing, err := clockMinutes(a.CloseTime)
	if err != nil {
		return false, err
	}
	ls := start.In(a.Location())
	s := ls.Hour()*60 + ls.Minute()
	e := s + int(end.Sub(start)/time.Minute)
	return s >= open && e <= closing, nil
}

func clockMinutes(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", hhmm, err)
	}
	if h == 24 && m == 0 {
		return 24 * 60, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", hhmm)
	}
	return h*60 + m, nil
}
