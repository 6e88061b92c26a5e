package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/handler"
	"github.com/iliyamo/community-amenity-booking/internal/middleware"
	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// RegisterBookings registers the resident API under /v1 and the admin API
// under /v1/admin.  Every route requires a valid identity token; extra
// middleware such as the rate limiter runs after authentication so it can
// key on the caller.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, extra ...echo.MiddlewareFunc) {
	mw := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleResident, model.RoleAdmin),
	}, extra...)
	g := e.Group("/v1", mw...)

	g.POST("/bookings", h.Admit)
	g.GET("/bookings", h.List)
	g.GET("/bookings/:id", h.Get)
	g.POST("/bookings/:id/cancel", h.Cancel)
	g.POST("/bookings/:id/confirm", h.Confirm)
	g.GET("/bookings/:id/confirm", h.ConfirmationStatus)
	g.POST("/bookings/:id/check-in", h.CheckIn)
	g.GET("/me/eligibility", h.Eligibility)
	g.GET("/amenities/:id/occupancy", h.Occupancy)

	admin := g.Group("/admin", middleware.RequireRole(model.RoleAdmin))
	admin.POST("/promote-waitlist", h.PromoteWaitlist)
}

// RegisterCron registers the scheduler endpoints guarded by the shared
// cron secret.
func RegisterCron(e *echo.Echo, h *handler.CronHandler, cronSecret, cronSecretHash string) {
	g := e.Group("/internal/cron", middleware.CronSecret(cronSecret, cronSecretHash))
	g.POST("/auto-cancel", h.AutoCancel)
	g.POST("/send-reminders", h.SendReminders)
	g.POST("/promote-waitlist", h.PromoteWaitlist)
}
