package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/service"
)

// Sweeps runs the periodic maintenance passes.
type Sweeps interface {
	AutoCancel(ctx context.Context) (*service.AutoCancelReport, error)
	SendReminders(ctx context.Context) (*service.SweepReport, error)
}

// Promoter runs promotions requested by the scheduler.
type Promoter interface {
	PromoteRequested(ctx context.Context, req service.PromoteRequest) (*service.PromotionResult, error)
}

// CronHandler serves the scheduler endpoints under /internal/cron.  The
// routes are guarded by the shared cron secret, not by JWT.
type CronHandler struct {
	sweeps   Sweeps
	promoter Promoter
}

// NewCronHandler panics when a dependency is nil.
func NewCronHandler(sweeps Sweeps, promoter Promoter) *CronHandler {
	if sweeps == nil || promoter == nil {
		panic("nil dependency passed to NewCronHandler")
	}
	return &CronHandler{sweeps: sweeps, promoter: promoter}
}

// AutoCancel handles POST /internal/cron/auto-cancel.
func (h *CronHandler) AutoCancel(c echo.Context) error {
	rep, err := h.sweeps.AutoCancel(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// SendReminders handles POST /internal/cron/send-reminders.
func (h *CronHandler) SendReminders(c echo.Context) error {
	rep, err := h.sweeps.SendReminders(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// PromoteWaitlist handles POST /internal/cron/promote-waitlist.
func (h *CronHandler) PromoteWaitlist(c echo.Context) error {
	var req service.PromoteRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.promoter.PromoteRequested(c.Request().Context(), req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
