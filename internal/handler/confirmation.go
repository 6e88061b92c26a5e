package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/middleware"
)

// Confirm handles POST /v1/bookings/:id/confirm.  The action comes from
// the body {"action": "confirm"|"decline"} or, for the links sent with a
// promotion, from the action query parameter.  Confirm is the default.
//
// A repeat confirmation answers 200 with already_confirmed=true and an
// elapsed deadline answers 410 deadline_passed.
func (h *BookingHandler) Confirm(c echo.Context) error {
	var body struct {
		Action string `json:"action"`
	}
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	action := strings.ToLower(strings.TrimSpace(body.Action))
	if action == "" {
		action = strings.ToLower(strings.TrimSpace(c.QueryParam("action")))
	}

	ctx := c.Request().Context()
	who := middleware.Identity(c)
	id := c.Param("id")
	switch action {
	case "", "confirm":
		res, err := h.svc.Confirm(ctx, who, id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, res)
	case "decline":
		res, err := h.svc.Decline(ctx, who, id)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, res)
	default:
		return badRequest(c, "action must be confirm or decline")
	}
}

// ConfirmationStatus handles GET /v1/bookings/:id/confirm.
func (h *BookingHandler) ConfirmationStatus(c echo.Context) error {
	st, err := h.svc.Status(c.Request().Context(), middleware.Identity(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}
