package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/service"
)

// fail renders err as {"error": code, "message": ...}.  Domain errors keep
// their code; anything else is logged and reported as internal.
func fail(c echo.Context, err error) error {
	var se *service.Error
	if errors.As(err, &se) {
		body := echo.Map{"error": string(se.Code), "message": se.Message}
		if se.Reason != "" {
			body["reason"] = se.Reason
		}
		if se.Retryable {
			c.Response().Header().Set("Retry-After", "1")
			body["retryable"] = true
		}
		return c.JSON(se.Status(), body)
	}
	slog.ErrorContext(c.Request().Context(), "request failed",
		"method", c.Request().Method, "route", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": string(service.CodeValidation), "message": msg})
}
