package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

func countTemplate(n *recordingNotifier, tpl string) int {
	c := 0
	for _, t := range n.templates() {
		if t == tpl {
			c++
		}
	}
	return c
}

func TestAutoCancelMarksNoShowsAfterGrace(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := fillSlot(t, f, "u1", "u2", "u3")

	f.setNow(slotStart.Add(20 * time.Minute))
	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.NoShows.Scanned, "still inside the grace period")

	now := slotStart.Add(26 * time.Minute)
	f.setNow(now)
	rep, err = f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.NoShows.Processed)
	assert.Equal(t, 1, rep.NoShows.Promoted)
	assert.Equal(t, 2, f.lock.released)

	assert.Equal(t, model.StatusNoShow, f.store.get(res["u1"].Booking.ID).Status)
	promoted := f.store.get(res["u3"].Booking.ID)
	assert.Equal(t, model.StatusPendingConfirmation, promoted.Status)
	assert.Equal(t, model.PromotionNoShow, *promoted.PromotionReason)
	assert.Equal(t, now.Add(30*time.Minute), *promoted.ConfirmationDeadline)

	st, _ := f.stats.Get(ctx, "u1")
	assert.Equal(t, 1, st.NoShowCount)
	assert.Equal(t, 2, countTemplate(f.notifier, TemplateNoShow))

	// a second run finds nothing left to do
	rep, err = f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.NoShows.Scanned)
}

func TestAutoCancelSparesCheckedInAndCompletes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := fillSlot(t, f, "u1", "u2")

	f.setNow(slotStart.Add(-5 * time.Minute))
	_, err := f.svc.CheckIn(ctx, resident("u1"), res["u1"].Booking.ID, res["u1"].CheckInToken)
	require.NoError(t, err)

	f.setNow(slotStart.Add(30 * time.Minute))
	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.NoShows.Processed)
	assert.Equal(t, model.StatusConfirmed, f.store.get(res["u1"].Booking.ID).Status)
	assert.Equal(t, model.StatusNoShow, f.store.get(res["u2"].Booking.ID).Status)
	assert.Zero(t, rep.Completed.Scanned, "slot has not ended")

	f.setNow(slotStart.Add(61 * time.Minute))
	rep, err = f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed.Processed)
	assert.Equal(t, model.StatusCompleted, f.store.get(res["u1"].Booking.ID).Status)

	st, _ := f.stats.Get(ctx, "u1")
	assert.Equal(t, 1, st.CompletedCount)
	assert.Zero(t, st.NoShowCount)
}

func TestAutoCancelExpiresPendingAndPromotesWithExpiryWindow(t *testing.T) {
	f, res := promoteU3(t)
	ctx := context.Background()
	now := baseNow.Add(48*time.Hour + time.Minute)
	f.setNow(now)

	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired.Processed)
	assert.Equal(t, 1, rep.Expired.Promoted)

	assert.Equal(t, model.StatusExpired, f.store.get(res["u3"].Booking.ID).Status)
	next := f.store.get(res["u4"].Booking.ID)
	assert.Equal(t, model.StatusPendingConfirmation, next.Status)
	assert.Equal(t, model.PromotionExpired, *next.PromotionReason)
	assert.Equal(t, now.Add(48*time.Hour), *next.ConfirmationDeadline)
	assert.Equal(t, 1, countTemplate(f.notifier, TemplatePromotionExpired))
}

func TestAutoCancelDoesNotPromoteIntoEndedSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := fillSlot(t, f, "u1", "u2", "u3")

	// the sweep was down until well after the slot ended
	f.setNow(slotStart.Add(3 * time.Hour))
	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.NoShows.Processed)
	assert.Zero(t, rep.NoShows.Promoted)

	assert.Equal(t, model.StatusNoShow, f.store.get(res["u1"].Booking.ID).Status)
	assert.Equal(t, model.StatusWaitlist, f.store.get(res["u3"].Booking.ID).Status)
	assert.Zero(t, countTemplate(f.notifier, TemplateWaitlistPromoted))
	st, _ := f.stats.Get(ctx, "u1")
	assert.Equal(t, 1, st.NoShowCount)
}

func TestAutoCancelExpiresWithoutPromotingAfterSlotEnded(t *testing.T) {
	f, res := promoteU3(t)
	ctx := context.Background()
	f.setNow(slotStart.Add(2 * time.Hour))

	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired.Processed)
	assert.Zero(t, rep.Expired.Promoted)
	assert.Equal(t, model.StatusExpired, f.store.get(res["u3"].Booking.ID).Status)
	assert.Equal(t, model.StatusWaitlist, f.store.get(res["u4"].Booking.ID).Status)
}

func TestAutoCancelIsolatesFailingItems(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	fillSlot(t, f, "u1", "u2")
	f.store.put(model.Booking{
		ID: "orphan", AmenityID: "gone", CommunityID: "c-1", UserID: "u9",
		Status: model.StatusConfirmed, StartTime: slotStart, EndTime: slotStart.Add(time.Hour),
		CreatedAt: baseNow.Add(-time.Hour),
	})

	f.setNow(slotStart.Add(30 * time.Minute))
	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.NoShows.Scanned)
	assert.Equal(t, 1, rep.NoShows.Failed)
	assert.Equal(t, 2, rep.NoShows.Processed)
	assert.Equal(t, model.StatusConfirmed, f.store.get("orphan").Status)
}

func TestAutoCancelSuspendsRepeatOffenders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stats.byID["u1"] = &model.UserBookingStats{UserID: "u1", NoShowCount: 4, AverageUsage: 0.2}
	_, err := f.svc.Admit(ctx, resident("u1"), bbqRequest(slotStart))
	require.NoError(t, err)

	now := slotStart.Add(30 * time.Minute)
	f.setNow(now)
	_, err = f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)

	st, _ := f.stats.Get(ctx, "u1")
	assert.Equal(t, 5, st.NoShowCount)
	require.NotNil(t, st.SuspendedUntil)
	assert.Equal(t, now.Add(testPolicy.SuspensionDuration), *st.SuspendedUntil)

	e, err := f.svc.Eligibility().Check(ctx, "u1", "bbq")
	require.NoError(t, err)
	assert.False(t, e.CanBook)
}

func TestAutoCancelRespectsRunLock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := fillSlot(t, f, "u1")
	f.setNow(slotStart.Add(30 * time.Minute))

	f.lock.busy = true
	rep, err := f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.True(t, rep.NoShows.Locked)
	assert.Equal(t, model.StatusConfirmed, f.store.get(res["u1"].Booking.ID).Status)

	f.lock.busy = false
	f.lock.err = errors.New("redis down")
	rep, err = f.sweeper.AutoCancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.NoShows.Processed)
}

func TestSendRemindersOncePerBooking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	fillSlot(t, f, "u1", "u2", "u3")

	f.setNow(slotStart.Add(-80 * time.Minute))
	rep, err := f.sweeper.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned, "too early")

	f.setNow(slotStart.Add(-60 * time.Minute))
	rep, err = f.sweeper.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Processed, "waitlisted entries are not reminded")
	assert.Equal(t, 2, countTemplate(f.notifier, TemplateReminder))

	f.setNow(slotStart.Add(-50 * time.Minute))
	rep, err = f.sweeper.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Scanned)
	assert.Equal(t, 2, countTemplate(f.notifier, TemplateReminder))
}

func TestSendRemindersSurvivesNotifierFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := fillSlot(t, f, "u1")
	f.notifier.err = errors.New("broker unreachable")

	f.setNow(slotStart.Add(-time.Hour))
	rep, err := f.sweeper.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Processed)
	assert.True(t, f.store.get(res["u1"].Booking.ID).ReminderSent)
}

func TestSendRemindersLocked(t *testing.T) {
	f := newFixture()
	f.lock.busy = true
	rep, err := f.sweeper.SendReminders(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Locked)
}
