package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/utils"
)

// HeaderCronSecret carries the scheduler's shared secret.
const HeaderCronSecret = "X-Cron-Secret"

// CronSecret guards scheduler endpoints.  The presented secret is checked
// against the bcrypt hash when one is configured, otherwise against the
// plain secret in constant time.
func CronSecret(plain, hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !utils.VerifySecret(c.Request().Header.Get(HeaderCronSecret), plain, hash) {
				return deny(c, http.StatusUnauthorized, "unauthorized", "invalid cron secret")
			}
			return next(c)
		}
	}
}
