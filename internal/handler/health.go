package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *sqlx.DB and by small adapters around Redis.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Health reports liveness of the process and its dependencies.  Only the
// database is required; other checks degrade the status without failing.
type Health struct {
	DB       Pinger
	Optional map[string]Pinger
}

// Check handles GET /healthz.
func (h *Health) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := echo.Map{}
	status, code := "ok", http.StatusOK
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			checks["database"] = err.Error()
			status, code = "down", http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}
	for name, p := range h.Optional {
		if p == nil {
			continue
		}
		if err := p.PingContext(ctx); err != nil {
			checks[name] = err.Error()
			if status == "ok" {
				status = "degraded"
			}
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(code, echo.Map{"status": status, "checks": checks})
}
