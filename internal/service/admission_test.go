package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

func TestAdmit_ConfirmsUntilCapacityThenWaitlists(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var results []*AdmissionResult
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		res, err := f.svc.Admit(ctx, resident(u), bbqRequest(slotStart))
		require.NoError(t, err, u)
		results = append(results, res)
	}

	assert.Equal(t, model.StatusConfirmed, results[0].Status)
	assert.Equal(t, model.StatusConfirmed, results[1].Status)
	assert.NotEmpty(t, results[0].CheckInToken)
	assert.Nil(t, results[0].Booking.WaitlistPosition)

	assert.Equal(t, model.StatusWaitlist, results[2].Status)
	assert.Equal(t, int64(1), results[2].Position)
	assert.Empty(t, results[2].CheckInToken)
	assert.Equal(t, model.StatusWaitlist, results[3].Status)
	assert.Equal(t, int64(2), results[3].Position)

	occ, err := f.svc.Occupancy(ctx, "bbq-1", slotStart)
	require.NoError(t, err)
	assert.Equal(t, model.Occupancy{ConfirmedCount: 2, Capacity: 2}, occ)

	assert.Equal(t, []string{TemplateBookingConfirmed, TemplateBookingConfirmed, TemplateWaitlistJoined, TemplateWaitlistJoined},
		f.notifier.templates())

	st, _ := f.stats.Get(ctx, "u1")
	assert.Equal(t, 1, st.TotalBookings)
}

func TestAdmit_ConcurrentRequestsNeverExceedCapacity(t *testing.T) {
	f := newFixture()
	f.amenities.byID["bbq-1"].MaxPeople = 3
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Admit(ctx, resident(fmt.Sprintf("user-%02d", i)), bbqRequest(slotStart))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	confirmed := 0
	var positions []int64
	for _, b := range f.store.all() {
		switch b.Status {
		case model.StatusConfirmed:
			confirmed++
		case model.StatusWaitlist:
			positions = append(positions, *b.WaitlistPosition)
		}
	}
	assert.Equal(t, 3, confirmed)
	require.Len(t, positions, n-3)
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	for i, p := range positions {
		assert.Equal(t, int64(i+1), p)
	}
}

func TestAdmit_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cases := map[string]AdmissionRequest{
		"missing amenity": {StartTime: slotStart.Format(time.RFC3339), EndTime: slotStart.Add(time.Hour).Format(time.RFC3339)},
		"bad start":       {AmenityID: "bbq-1", StartTime: "tomorrow", EndTime: slotStart.Format(time.RFC3339)},
		"end before start": {
			AmenityID: "bbq-1", StartTime: slotStart.Format(time.RFC3339), EndTime: slotStart.Add(-time.Hour).Format(time.RFC3339),
		},
		"wrong duration": {
			AmenityID: "bbq-1", StartTime: slotStart.Format(time.RFC3339), EndTime: slotStart.Add(30 * time.Minute).Format(time.RFC3339),
		},
		"in the past": bbqRequest(baseNow.Add(-2 * time.Hour)),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Admit(ctx, resident("u1"), req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAdmit_OperatingHours(t *testing.T) {
	f := newFixture()
	a := f.amenities.byID["bbq-1"]
	a.OpenTime, a.CloseTime, a.Timezone = "10:00", "20:00", "UTC"

	_, err := f.svc.Admit(context.Background(), resident("u1"), bbqRequest(slotStart.Add(3*time.Hour)))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Admit(context.Background(), resident("u1"), bbqRequest(slotStart))
	assert.NoError(t, err)
}

func TestAdmit_AccessChecks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Admit(ctx, model.Identity{}, bbqRequest(slotStart))
	assert.ErrorIs(t, err, ErrUnauthorized)

	outsider := resident("u9")
	outsider.CommunityID = "c-2"
	_, err = f.svc.Admit(ctx, outsider, bbqRequest(slotStart))
	assert.ErrorIs(t, err, ErrForbidden)

	req := bbqRequest(slotStart)
	req.AmenityID = "nope"
	_, err = f.svc.Admit(ctx, resident("u1"), req)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdmit_RejectsDuplicateForSameSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Admit(ctx, resident("u1"), bbqRequest(slotStart))
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, resident("u1"), bbqRequest(slotStart))
	assert.ErrorIs(t, err, errAlreadyBooked)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Len(t, f.store.all(), 1)
}

func TestAdmit_SlotFullWithoutWaitlist(t *testing.T) {
	f := newFixture()
	f.amenities.byID["bbq-1"].AllowWaitlist = false
	f.amenities.byID["bbq-1"].MaxPeople = 1
	ctx := context.Background()

	_, err := f.svc.Admit(ctx, resident("u1"), bbqRequest(slotStart))
	require.NoError(t, err)

	_, err = f.svc.Admit(ctx, resident("u2"), bbqRequest(slotStart))
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeConflict, se.Code)
	assert.Equal(t, "slot_full", se.Reason)
}

func TestAdmit_DepositAndSuspension(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.stats.byID["risky"] = &model.UserBookingStats{UserID: "risky", NoShowCount: 3, AverageUsage: 0.4}
	res, err := f.svc.Admit(ctx, resident("risky"), bbqRequest(slotStart))
	require.NoError(t, err)
	assert.True(t, res.Booking.DepositRequired)
	assert.Equal(t, "50", res.Booking.DepositAmount.String())

	until := baseNow.Add(24 * time.Hour)
	f.stats.byID["banned"] = &model.UserBookingStats{UserID: "banned", NoShowCount: 5, SuspendedUntil: &until}
	_, err = f.svc.Admit(ctx, resident("banned"), bbqRequest(slotStart))
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, CodeForbidden, se.Code)
	assert.Equal(t, "suspended", se.Reason)
	assert.Contains(t, se.Message, "5 no-shows")
}

func TestAdmit_NotificationFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("broker down")

	res, err := f.svc.Admit(context.Background(), resident("u1"), bbqRequest(slotStart))
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, res.Status)
}
