package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
)

// memStore keeps bookings in memory and serialises InSlotTx per slot the
// way the MySQL row lock does.  Writes made inside a transaction become
// visible only when the callback succeeds.
type memStore struct {
	mu       sync.Mutex
	bookings map[string]model.Booking
	locks    map[string]*sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{bookings: map[string]model.Booking{}, locks: map[string]*sync.Mutex{}}
}

func (s *memStore) put(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *memStore) get(id string) model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings[id]
}

func (s *memStore) all() []model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) slotLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (s *memStore) ListByUser(_ context.Context, userID, communityID string, limit int) ([]model.Booking, error) {
	out := []model.Booking{}
	for _, b := range s.all() {
		if b.UserID == userID && b.CommunityID == communityID && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) CountOccupying(_ context.Context, slot model.Slot) (int, error) {
	n := 0
	for _, b := range s.all() {
		if sameSlot(b, slot) && b.Status.Occupying() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) MaxWaitlistPosition(_ context.Context, slot model.Slot) (int64, error) {
	var max int64
	for _, b := range s.all() {
		if sameSlot(b, slot) && b.WaitlistPosition != nil && *b.WaitlistPosition > max {
			max = *b.WaitlistPosition
		}
	}
	return max, nil
}

func (s *memStore) InSlotTx(ctx context.Context, slot model.Slot, fn func(repository.SlotTx) error) error {
	l := s.slotLock(slot.Key())
	l.Lock()
	defer l.Unlock()

	tx := &memTx{store: s, slot: slot, staged: map[string]model.Booking{}}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	for id, b := range tx.staged {
		s.bookings[id] = b
	}
	s.mu.Unlock()
	return nil
}

func (s *memStore) CheckIn(_ context.Context, id, tokenHash string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != model.StatusConfirmed || b.QRUsed || b.QRTokenHash == nil || *b.QRTokenHash != tokenHash {
		return false, nil
	}
	b.CheckInTime = &at
	b.QRUsed = true
	s.bookings[id] = b
	return true, nil
}

func (s *memStore) ListNoShowCandidates(_ context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	return s.filter(limit, func(b model.Booking) bool {
		return b.Status == model.StatusConfirmed && !b.StartTime.After(cutoff) && b.CheckInTime == nil && !b.QRUsed
	}), nil
}

func (s *memStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return s.filter(limit, func(b model.Booking) bool {
		return b.Status == model.StatusPendingConfirmation && b.ConfirmationDeadline != nil && b.ConfirmationDeadline.Before(now)
	}), nil
}

func (s *memStore) ListReminderDue(_ context.Context, from, to time.Time, limit int) ([]model.Booking, error) {
	return s.filter(limit, func(b model.Booking) bool {
		return b.Status == model.StatusConfirmed && !b.ReminderSent && !b.StartTime.Before(from) && !b.StartTime.After(to)
	}), nil
}

func (s *memStore) ListCompletable(_ context.Context, now time.Time, limit int) ([]model.Booking, error) {
	return s.filter(limit, func(b model.Booking) bool {
		return b.Status == model.StatusConfirmed && b.CheckInTime != nil && !b.EndTime.After(now)
	}), nil
}

func (s *memStore) ClaimReminder(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != model.StatusConfirmed || b.ReminderSent {
		return false, nil
	}
	b.ReminderSent = true
	s.bookings[id] = b
	return true, nil
}

func (s *memStore) Complete(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.Status != model.StatusConfirmed || b.CheckInTime == nil {
		return false, nil
	}
	b.Status = model.StatusCompleted
	b.UpdatedAt = at
	s.bookings[id] = b
	return true, nil
}

func (s *memStore) filter(limit int, keep func(model.Booking) bool) []model.Booking {
	out := []model.Booking{}
	for _, b := range s.all() {
		if keep(b) && len(out) < limit {
			out = append(out, b)
		}
	}
	return out
}

func sameSlot(b model.Booking, slot model.Slot) bool {
	return b.AmenityID == slot.AmenityID && b.StartTime.Equal(slot.StartTime)
}

type memTx struct {
	store  *memStore
	slot   model.Slot
	staged map[string]model.Booking
}

func (t *memTx) view() []model.Booking {
	merged := map[string]model.Booking{}
	for _, b := range t.store.all() {
		merged[b.ID] = b
	}
	for id, b := range t.staged {
		merged[id] = b
	}
	out := []model.Booking{}
	for _, b := range merged {
		if sameSlot(b, t.slot) {
			out = append(out, b)
		}
	}
	return out
}

func (t *memTx) lookup(id string) (model.Booking, bool) {
	if b, ok := t.staged[id]; ok {
		return b, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	b, ok := t.store.bookings[id]
	return b, ok
}

func (t *memTx) Slot() model.Slot { return t.slot }

func (t *memTx) CountOccupying(context.Context) (int, error) {
	n := 0
	for _, b := range t.view() {
		if b.Status.Occupying() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) MaxWaitlistPosition(context.Context) (int64, error) {
	var max int64
	for _, b := range t.view() {
		if b.WaitlistPosition != nil && *b.WaitlistPosition > max {
			max = *b.WaitlistPosition
		}
	}
	return max, nil
}

func (t *memTx) HasActiveForUser(_ context.Context, userID string) (bool, error) {
	for _, b := range t.view() {
		if b.UserID == userID && b.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Get(_ context.Context, id string) (*model.Booking, error) {
	b, ok := t.lookup(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) Insert(_ context.Context, b *model.Booking) error {
	if _, ok := t.lookup(b.ID); ok {
		return errors.New("duplicate id")
	}
	t.staged[b.ID] = *b
	return nil
}

func (t *memTx) NextWaitlisted(context.Context) (*model.Booking, error) {
	var best *model.Booking
	for _, b := range t.view() {
		if b.Status != model.StatusWaitlist {
			continue
		}
		if best == nil || *b.WaitlistPosition < *best.WaitlistPosition {
			c := b
			best = &c
		}
	}
	return best, nil
}

func (t *memTx) update(id string, cond func(model.Booking) bool, apply func(*model.Booking)) (bool, error) {
	b, ok := t.lookup(id)
	if !ok || !cond(b) {
		return false, nil
	}
	apply(&b)
	t.staged[id] = b
	return true, nil
}

func (t *memTx) Promote(_ context.Context, id string, at, deadline time.Time, reason model.PromotionReason) (bool, error) {
	return t.update(id,
		func(b model.Booking) bool { return b.Status == model.StatusWaitlist },
		func(b *model.Booking) {
			b.Status = model.StatusPendingConfirmation
			b.PromotedAt = &at
			b.ConfirmationDeadline = &deadline
			b.PromotionReason = &reason
			b.UpdatedAt = at
		})
}

func (t *memTx) Transition(_ context.Context, id string, from []model.Status, to model.Status, at time.Time) (bool, error) {
	return t.update(id,
		func(b model.Booking) bool {
			for _, f := range from {
				if b.Status == f {
					return true
				}
			}
			return false
		},
		func(b *model.Booking) {
			b.Status = to
			b.UpdatedAt = at
			if to == model.StatusCancelled {
				b.CancelledAt = &at
			}
		})
}

func (t *memTx) Confirm(_ context.Context, id, tokenHash string, at time.Time) (bool, error) {
	return t.update(id,
		func(b model.Booking) bool { return b.Status == model.StatusPendingConfirmation },
		func(b *model.Booking) {
			b.Status = model.StatusConfirmed
			b.QRTokenHash = &tokenHash
			b.UpdatedAt = at
		})
}

func (t *memTx) MarkNoShow(_ context.Context, id string, at time.Time) (bool, error) {
	return t.update(id,
		func(b model.Booking) bool {
			return b.Status == model.StatusConfirmed && b.CheckInTime == nil && !b.QRUsed
		},
		func(b *model.Booking) {
			b.Status = model.StatusNoShow
			b.UpdatedAt = at
		})
}

type memAmenities struct {
	mu   sync.Mutex
	byID map[string]*model.Amenity
}

func (m *memAmenities) GetByID(_ context.Context, id string) (*model.Amenity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

type memStats struct {
	mu   sync.Mutex
	byID map[string]*model.UserBookingStats
}

func (m *memStats) row(userID string) *model.UserBookingStats {
	s, ok := m.byID[userID]
	if !ok {
		s = &model.UserBookingStats{UserID: userID, AverageUsage: 1}
		m.byID[userID] = s
	}
	return s
}

func (m *memStats) usage(s *model.UserBookingStats) {
	if n := s.CompletedCount + s.NoShowCount; n > 0 {
		s.AverageUsage = float64(s.CompletedCount) / float64(n)
	}
}

func (m *memStats) Get(_ context.Context, userID string) (*model.UserBookingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.row(userID)
	return &c, nil
}

func (m *memStats) IncrementTotal(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row(userID).TotalBookings++
	return nil
}

func (m *memStats) IncrementCancellation(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.row(userID).CancellationCount++
	return nil
}

func (m *memStats) RecordNoShow(_ context.Context, userID string, threshold int, suspendUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(userID)
	s.NoShowCount++
	m.usage(s)
	if s.NoShowCount >= threshold {
		s.SuspendedUntil = &suspendUntil
	}
	return nil
}

func (m *memStats) RecordCompletion(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.row(userID)
	s.CompletedCount++
	m.usage(s)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) templates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Template)
	}
	return out
}

type stubLock struct {
	busy     bool
	err      error
	released int
}

func (l *stubLock) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy {
		return func() {}, false, nil
	}
	return func() { l.released++ }, true, nil
}

// fixture wires a Service over the in-memory fakes with a controllable clock.
type fixture struct {
	svc       *Service
	sweeper   *Sweeper
	store     *memStore
	amenities *memAmenities
	stats     *memStats
	notifier  *recordingNotifier
	lock      *stubLock
	now       time.Time
	clockMu   sync.Mutex
}

var testPolicy = config.Policy{
	PromotionWindow:       48 * time.Hour,
	NoShowPromotionWindow: 30 * time.Minute,
	ExpiryPromotionWindow: 48 * time.Hour,
	NoShowGrace:           25 * time.Minute,
	CheckInOpensBefore:    15 * time.Minute,
	ReminderFrom:          45 * time.Minute,
	ReminderTo:            75 * time.Minute,
	DepositThreshold:      3,
	SuspensionThreshold:   5,
	SuspensionDuration:    30 * 24 * time.Hour,
	SweepBatchSize:        100,
	SweepLockTTL:          time.Minute,
}

var (
	baseNow   = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	slotStart = time.Date(2026, 6, 3, 18, 0, 0, 0, time.UTC)
)

func newFixture() *fixture {
	f := &fixture{
		store:     newMemStore(),
		amenities: &memAmenities{byID: map[string]*model.Amenity{}},
		notifier:  &recordingNotifier{},
		lock:      &stubLock{},
		now:       baseNow,
	}
	f.stats = &memStats{byID: map[string]*model.UserBookingStats{}}
	f.amenities.byID["bbq-1"] = &model.Amenity{
		ID: "bbq-1", CommunityID: "c-1", Name: "Rooftop BBQ", Category: "bbq",
		MaxPeople: 2, SlotDurationMin: 60, AllowWaitlist: true,
	}
	f.svc = New(f.store, f.amenities, f.stats, f.notifier, testPolicy, Options{
		BaseURL: "https://app.example.com",
		Clock:   f.clock,
	})
	f.sweeper = NewSweeper(f.svc, f.store, f.lock)
	return f
}

func (f *fixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.now = t
}

func resident(id string) model.Identity {
	return model.Identity{UserID: id, Email: id + "@example.com", CommunityID: "c-1", Role: model.RoleResident}
}

func bbqRequest(start time.Time) AdmissionRequest {
	return AdmissionRequest{
		AmenityID: "bbq-1",
		StartTime: start.Format(time.RFC3339),
		EndTime:   start.Add(time.Hour).Format(time.RFC3339),
	}
}
