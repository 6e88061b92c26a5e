package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
)

// SweepStore lists the bookings each sweep works on.
type SweepStore interface {
	ListNoShowCandidates(ctx context.Context, cutoff time.Time, limit int) ([]model.Booking, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	ListReminderDue(ctx context.Context, from, to time.Time, limit int) ([]model.Booking, error)
	ListCompletable(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)
	ClaimReminder(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, at time.Time) (bool, error)
}

// RunLock keeps two sweep runs of the same kind from overlapping.  It is an
// optimisation only; every transition a sweep makes is conditional.
type RunLock interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// SweepReport summarises one sweep.  Skipped counts items that another
// actor changed first.
type SweepReport struct {
	Sweep     string `json:"sweep"`
	Scanned   int    `json:"scanned"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Promoted  int    `json:"promoted"`
	Locked    bool   `json:"locked,omitempty"`
}

// AutoCancelReport groups the sweeps run by AutoCancel.
type AutoCancelReport struct {
	NoShows   SweepReport `json:"no_shows"`
	Expired   SweepReport `json:"expired"`
	Completed SweepReport `json:"completed"`
}

// Sweeper runs the periodic maintenance passes.  Each item is handled on
// its own; a failing item is logged and counted and the pass goes on.
type Sweeper struct {
	svc   *Service
	store SweepStore
	lock  RunLock
}

// NewSweeper builds a Sweeper.  lock may be nil.
func NewSweeper(svc *Service, store SweepStore, lock RunLock) *Sweeper {
	if svc == nil || store == nil {
		panic("nil dependency passed to service.NewSweeper")
	}
	return &Sweeper{svc: svc, store: store, lock: lock}
}

type itemResult int

const (
	itemProcessed itemResult = iota
	itemSkipped
)

// AutoCancel marks no-shows, expires overdue promotions and completes
// attended bookings, promoting the waitlist wherever a seat is released.
func (w *Sweeper) AutoCancel(ctx context.Context) (*AutoCancelReport, error) {
	release, ok, err := w.acquire(ctx, "auto-cancel")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &AutoCancelReport{
			NoShows:   SweepReport{Sweep: "no_show", Locked: true},
			Expired:   SweepReport{Sweep: "expiry", Locked: true},
			Completed: SweepReport{Sweep: "completion", Locked: true},
		}, nil
	}
	defer release()

	now := w.svc.now()
	limit := w.batchSize()
	rep := &AutoCancelReport{}

	noShows, err := w.store.ListNoShowCandidates(ctx, now.Add(-w.svc.policy.NoShowGrace), limit)
	if err != nil {
		return nil, err
	}
	rep.NoShows = w.each(ctx, "no_show", noShows, w.noShow)

	expired, err := w.store.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return rep, err
	}
	rep.Expired = w.each(ctx, "expiry", expired, w.expire)

	done, err := w.store.ListCompletable(ctx, now, limit)
	if err != nil {
		return rep, err
	}
	rep.Completed = w.each(ctx, "completion", done, w.complete)
	return rep, nil
}

// SendReminders reminds confirmed bookings starting between ReminderFrom
// and ReminderTo from now.  A reminder is claimed before it is sent, so a
// booking is reminded at most once even when runs overlap.
func (w *Sweeper) SendReminders(ctx context.Context) (*SweepReport, error) {
	release, ok, err := w.acquire(ctx, "send-reminders")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &SweepReport{Sweep: "reminder", Locked: true}, nil
	}
	defer release()

	now := w.svc.now()
	due, err := w.store.ListReminderDue(ctx, now.Add(w.svc.policy.ReminderFrom), now.Add(w.svc.policy.ReminderTo), w.batchSize())
	if err != nil {
		return nil, err
	}
	rep := w.each(ctx, "reminder", due, w.remind)
	return &rep, nil
}

func (w *Sweeper) each(ctx context.Context, name string, items []model.Booking, fn func(context.Context, *model.Booking) (itemResult, int, error)) SweepReport {
	rep := SweepReport{Sweep: name, Scanned: len(items)}
	for i := range items {
		b := &items[i]
		res, promoted, err := fn(ctx, b)
		if err != nil {
			rep.Failed++
			metrics.SweepItems.WithLabelValues(name, "failed").Inc()
			w.svc.log.ErrorContext(ctx, "sweep item failed",
				slog.String("sweep", name), slog.String("booking_id", b.ID), slog.Any("err", err))
			continue
		}
		rep.Promoted += promoted
		if res == itemSkipped {
			rep.Skipped++
			metrics.SweepItems.WithLabelValues(name, "skipped").Inc()
			continue
		}
		rep.Processed++
		metrics.SweepItems.WithLabelValues(name, "processed").Inc()
	}
	if rep.Scanned > 0 {
		w.svc.log.InfoContext(ctx, "sweep finished", "sweep", name, "scanned", rep.Scanned,
			"processed", rep.Processed, "skipped", rep.Skipped, "failed", rep.Failed, "promoted", rep.Promoted)
	}
	return rep
}

func (w *Sweeper) noShow(ctx context.Context, b *model.Booking) (itemResult, int, error) {
	a, err := w.svc.amenity(ctx, b.AmenityID)
	if err != nil {
		return 0, 0, err
	}
	var marked bool
	var promo PromotionResult
	err = w.svc.inSlot(ctx, "no_show", b.Slot(), func(tx repository.SlotTx) error {
		marked, promo = false, PromotionResult{}
		now := w.svc.now()
		ok, err := tx.MarkNoShow(ctx, b.ID, now)
		if err != nil || !ok {
			return err
		}
		marked = true
		if !b.EndTime.After(now) {
			// the slot is over; nobody can still use the seat
			return nil
		}
		promo, err = w.svc.promoteTx(ctx, tx, a.Capacity(), model.PromotionNoShow, w.svc.policy.NoShowPromotionWindow)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	if !marked {
		return itemSkipped, 0, nil
	}

	p := w.svc.policy
	if err := w.svc.stats.RecordNoShow(ctx, b.UserID, p.SuspensionThreshold, w.svc.now().Add(p.SuspensionDuration)); err != nil {
		w.svc.log.WarnContext(ctx, "booking stats update failed", "user_id", b.UserID, "err", err)
	}
	metrics.Transitions.WithLabelValues(string(model.StatusNoShow)).Inc()
	w.svc.notify(ctx, Notification{
		Template: TemplateNoShow, BookingID: b.ID, UserID: b.UserID, Recipient: b.UserEmail,
		Data: map[string]any{"amenity": a.Name, "start_time": b.StartTime},
	})
	w.svc.afterPromotion(ctx, a, promo)
	return itemProcessed, len(promo.Bookings), nil
}

func (w *Sweeper) expire(ctx context.Context, b *model.Booking) (itemResult, int, error) {
	a, err := w.svc.amenity(ctx, b.AmenityID)
	if err != nil {
		return 0, 0, err
	}
	var out pendingOutcome
	err = w.svc.inSlot(ctx, "expire", b.Slot(), func(tx repository.SlotTx) error {
		out = pendingOutcome{}
		cur, err := tx.Get(ctx, b.ID)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusPendingConfirmation || !cur.DeadlinePassed(w.svc.now()) {
			return nil
		}
		return w.svc.expireTx(ctx, tx, a, cur, &out)
	})
	if err != nil {
		return 0, 0, err
	}
	if !out.expired {
		return itemSkipped, 0, nil
	}
	w.svc.afterExpiry(ctx, a, out)
	return itemProcessed, len(out.promotion.Bookings), nil
}

func (w *Sweeper) complete(ctx context.Context, b *model.Booking) (itemResult, int, error) {
	ok, err := w.store.Complete(ctx, b.ID, w.svc.now())
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return itemSkipped, 0, nil
	}
	metrics.Transitions.WithLabelValues(string(model.StatusCompleted)).Inc()
	if err := w.svc.stats.RecordCompletion(ctx, b.UserID); err != nil {
		w.svc.log.WarnContext(ctx, "booking stats update failed", "user_id", b.UserID, "err", err)
	}
	return itemProcessed, 0, nil
}

func (w *Sweeper) remind(ctx context.Context, b *model.Booking) (itemResult, int, error) {
	claimed, err := w.store.ClaimReminder(ctx, b.ID)
	if err != nil {
		return 0, 0, err
	}
	if !claimed {
		return itemSkipped, 0, nil
	}
	name := b.AmenityID
	if a, err := w.svc.amenity(ctx, b.AmenityID); err == nil {
		name = a.Name
	}
	w.svc.notify(ctx, Notification{
		Template: TemplateReminder, BookingID: b.ID, UserID: b.UserID, Recipient: b.UserEmail,
		Data: map[string]any{"amenity": name, "start_time": b.StartTime},
	})
	return itemProcessed, 0, nil
}

func (w *Sweeper) acquire(ctx context.Context, name string) (func(), bool, error) {
	if w.lock == nil {
		return func() {}, true, nil
	}
	release, ok, err := w.lock.TryLock(ctx, "sweep:"+name, w.svc.policy.SweepLockTTL)
	if err != nil {
		// fall back to an unlocked run
		w.svc.log.WarnContext(ctx, "sweep lock unavailable, running unlocked", "sweep", name, "err", err)
		return func() {}, true, nil
	}
	return release, ok, nil
}

func (w *Sweeper) batchSize() int {
	if n := w.svc.policy.SweepBatchSize; n > 0 {
		return n
	}
	return 200
}
