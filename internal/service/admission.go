package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/community-amenity-booking/internal/metrics"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
	"github.com/iliyamo/community-amenity-booking/internal/utils"
)

// AdmissionRequest is a request for one slot of an amenity.
type AdmissionRequest struct {
	AmenityID string   `json:"amenity_id"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Attendees []string `json:"attendees"`
}

// AdmissionResult describes the booking that was created.  Position is zero
// for confirmed bookings.  CheckInToken is only set for confirmed bookings
// and is never stored in clear.
type AdmissionResult struct {
	Booking      *model.Booking    `json:"booking"`
	Status       model.Status      `json:"status"`
	Position     int64             `json:"position,omitempty"`
	Eligibility  model.Eligibility `json:"eligibility"`
	CheckInToken string            `json:"check_in_token,omitempty"`
}

var (
	errSlotFull      = &Error{Code: CodeConflict, Reason: "slot_full", Message: "slot is full and this amenity has no waitlist"}
	errAlreadyBooked = &Error{Code: CodeConflict, Reason: "already_booked", Message: "you already hold a booking for this slot"}
)

// Admit creates a confirmed or waitlisted booking for the caller.  The
// decision between the two is made under the slot lock from counts read
// inside the same transaction, so concurrent admissions can never confirm
// more bookings than the amenity's capacity.
func (s *Service) Admit(ctx context.Context, who model.Identity, req AdmissionRequest) (*AdmissionResult, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(req.AmenityID) == "" {
		return nil, validation("amenity_id is required")
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseTime("end_time", req.EndTime)
	if err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, validation("end_time must be after start_time")
	}

	a, err := s.amenity(ctx, req.AmenityID)
	if err != nil {
		return nil, err
	}
	if a.CommunityID != who.CommunityID {
		return nil, forbidden("amenity belongs to another community")
	}
	if err := s.validateSlot(a, start, end); err != nil {
		return nil, err
	}

	elig, err := s.eligibility.Check(ctx, who.UserID, a.Category)
	if err != nil {
		return nil, err
	}
	if !elig.CanBook {
		return nil, &Error{Code: CodeForbidden, Reason: "suspended", Message: elig.Reason}
	}

	slot := model.Slot{AmenityID: a.ID, StartTime: start}

	// Advisory pre-read: lets a full slot without waitlist fail before
	// queueing on the lock.  Nothing below trusts these numbers.
	occupied, err := s.bookings.CountOccupying(ctx, slot)
	if err != nil {
		return nil, err
	}
	if occupied >= a.Capacity() && !a.AllowWaitlist {
		return nil, errSlotFull
	}

	now := s.now()
	b := &model.Booking{
		ID:              uuid.NewString(),
		AmenityID:       a.ID,
		CommunityID:     a.CommunityID,
		UserID:          who.UserID,
		UserEmail:       who.Email,
		StartTime:       start,
		EndTime:         end,
		Attendees:       cleanAttendees(req.Attendees),
		DepositRequired: elig.RequiresDeposit,
		DepositAmount:   elig.DepositAmount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var token string

	err = s.inSlot(ctx, "admit", slot, func(tx repository.SlotTx) error {
		dup, err := tx.HasActiveForUser(ctx, who.UserID)
		if err != nil {
			return err
		}
		if dup {
			return errAlreadyBooked
		}
		n, err := tx.CountOccupying(ctx)
		if err != nil {
			return err
		}
		if n < a.Capacity() {
			raw, hash, err := utils.NewCheckInToken()
			if err != nil {
				return err
			}
			b.Status = model.StatusConfirmed
			b.WaitlistPosition = nil
			b.QRTokenHash = &hash
			token = raw
			return tx.Insert(ctx, b)
		}
		if !a.AllowWaitlist {
			return errSlotFull
		}
		last, err := tx.MaxWaitlistPosition(ctx)
		if err != nil {
			return err
		}
		pos := last + 1
		b.Status = model.StatusWaitlist
		b.WaitlistPosition = &pos
		b.QRTokenHash = nil
		token = ""
		return tx.Insert(ctx, b)
	})
	if err != nil {
		return nil, fromRepo(err, "booking")
	}

	metrics.Admissions.WithLabelValues(string(b.Status)).Inc()
	s.log.InfoContext(ctx, "booking admitted",
		"booking_id", b.ID, "slot", slot.Key(), "status", b.Status, "pre_read_occupied", occupied)
	if err := s.stats.IncrementTotal(ctx, who.UserID); err != nil {
		s.log.WarnContext(ctx, "booking stats update failed", "user_id", who.UserID, "err", err)
	}

	res := &AdmissionResult{Booking: b, Status: b.Status, Eligibility: elig, CheckInToken: token}
	if b.Status == model.StatusWaitlist {
		res.Position = *b.WaitlistPosition
		s.notify(ctx, Notification{
			Template: TemplateWaitlistJoined, BookingID: b.ID, UserID: b.UserID, Recipient: b.UserEmail,
			Data: map[string]any{"amenity": a.Name, "start_time": start, "position": res.Position},
		})
	} else {
		s.notify(ctx, Notification{
			Template: TemplateBookingConfirmed, BookingID: b.ID, UserID: b.UserID, Recipient: b.UserEmail,
			Data: map[string]any{"amenity": a.Name, "start_time": start, "check_in_token": token},
		})
	}
	return res, nil
}

// validateSlot checks the requested range against the amenity definition.
func (s *Service) validateSlot(a *model.Amenity, start, end time.Time) error {
	if !start.After(s.now()) {
		return validation("start_time must be in the future")
	}
	if d := a.SlotDuration(); d > 0 && end.Sub(start) != d {
		return validation("slot must last exactly " + d.String())
	}
	ok, err := a.WithinHours(start, end)
	if err != nil {
		return validation("amenity operating hours are misconfigured")
	}
	if !ok {
		return validation("slot is outside the amenity's operating hours")
	}
	return nil
}

func cleanAttendees(in []string) model.Attendees {
	out := model.Attendees{}
	for _, name := range in {
		if n := strings.TrimSpace(name); n != "" {
			out = append(out, n)
		}
	}
	return out
}
