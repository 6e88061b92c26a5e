// Package router registers the HTTP routes of the booking service.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/community-amenity-booking/internal/handler"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, health *handler.Health) {
	e.GET("/healthz", health.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
