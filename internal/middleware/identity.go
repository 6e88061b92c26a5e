package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/community-amenity-booking/internal/model"
)

// Identity returns the caller stored by JWTAuth.  The zero Identity is
// returned on unauthenticated routes.
func Identity(c echo.Context) model.Identity {
	return model.Identity{
		UserID:      str(c, KeyUserID),
		Email:       str(c, KeyEmail),
		CommunityID: str(c, KeyCommunityID),
		Role:        str(c, KeyRole),
	}
}

func str(c echo.Context, key string) string {
	if s, ok := c.Get(key).(string); ok {
		return s
	}
	return ""
}

// userID is the rate limit subject; "anon" before authentication.
func userID(c echo.Context) string {
	if s := str(c, KeyUserID); s != "" {
		return s
	}
	return "anon"
}
