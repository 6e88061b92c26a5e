package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/middleware"
	"github.com/iliyamo/community-amenity-booking/internal/model"
	"github.com/iliyamo/community-amenity-booking/internal/service"
)

// BookingService is what the booking endpoints need from the lifecycle
// engine.
type BookingService interface {
	Admit(ctx context.Context, who model.Identity, req service.AdmissionRequest) (*service.AdmissionResult, error)
	ListMine(ctx context.Context, who model.Identity, limit int) ([]model.Booking, error)
	Get(ctx context.Context, who model.Identity, id string) (*model.Booking, error)
	Cancel(ctx context.Context, who model.Identity, id string) (*service.CancelResult, error)
	CheckIn(ctx context.Context, who model.Identity, id, token string) (*model.Booking, error)
	Confirm(ctx context.Context, who model.Identity, id string) (*service.ConfirmResult, error)
	Decline(ctx context.Context, who model.Identity, id string) (*service.DeclineResult, error)
	Status(ctx context.Context, who model.Identity, id string) (*service.ConfirmationStatus, error)
	OccupancyFor(ctx context.Context, who model.Identity, amenityID, start string) (model.Occupancy, error)
	CheckEligibility(ctx context.Context, who model.Identity, category string) (model.Eligibility, error)
	PromoteFor(ctx context.Context, who model.Identity, req service.PromoteRequest) (*service.PromotionResult, error)
}

// BookingHandler serves the resident and admin booking API.  All routes
// run behind JWTAuth.
type BookingHandler struct {
	svc BookingService
}

// NewBookingHandler panics when svc is nil.
func NewBookingHandler(svc BookingService) *BookingHandler {
	if svc == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{svc: svc}
}

// Admit handles POST /v1/bookings.  It answers 201 with the confirmed or
// waitlisted booking.
func (h *BookingHandler) Admit(c echo.Context) error {
	var req service.AdmissionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.Admit(c.Request().Context(), middleware.Identity(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// List handles GET /v1/bookings?limit=.
func (h *BookingHandler) List(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	items, err := h.svc.ListMine(c.Request().Context(), middleware.Identity(c), limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "count": len(items)})
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	b, err := h.svc.Get(c.Request().Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Cancel handles POST /v1/bookings/:id/cancel.
func (h *BookingHandler) Cancel(c echo.Context) error {
	res, err := h.svc.Cancel(c.Request().Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// CheckIn handles POST /v1/bookings/:id/check-in with {"token": "..."}.
func (h *BookingHandler) CheckIn(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b, err := h.svc.CheckIn(c.Request().Context(), middleware.Identity(c), c.Param("id"), body.Token)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Eligibility handles GET /v1/me/eligibility?category=.
func (h *BookingHandler) Eligibility(c echo.Context) error {
	e, err := h.svc.CheckEligibility(c.Request().Context(), middleware.Identity(c), strings.TrimSpace(c.QueryParam("category")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

// Occupancy handles GET /v1/amenities/:id/occupancy?start=.
func (h *BookingHandler) Occupancy(c echo.Context) error {
	occ, err := h.svc.OccupancyFor(c.Request().Context(), middleware.Identity(c), c.Param("id"), c.QueryParam("start"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"amenity_id":      c.Param("id"),
		"start_time":      c.QueryParam("start"),
		"confirmed_count": occ.ConfirmedCount,
		"capacity":        occ.Capacity,
		"available":       occ.Available(),
	})
}

// PromoteWaitlist handles POST /v1/admin/promote-waitlist.
func (h *BookingHandler) PromoteWaitlist(c echo.Context) error {
	var req service.PromoteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.svc.PromoteFor(c.Request().Context(), middleware.Identity(c), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
