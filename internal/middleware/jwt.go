package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	KeyUserID      = "user_id"
	KeyEmail       = "email"
	KeyCommunityID = "community_id"
	KeyRole        = "role"
)

// JWTAuth validates an HS256 bearer token issued by the platform's auth
// service and stores the caller's identity claims in the context.  Tokens
// without a subject or community are rejected.
func JWTAuth(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return deny(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !tok.Valid {
				return deny(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			}

			sub, _ := claims["sub"].(string)
			community, _ := claims["community_id"].(string)
			if sub == "" || community == "" {
				return deny(c, http.StatusUnauthorized, "unauthorized", "token lacks subject or community")
			}
			email, _ := claims["email"].(string)
			role, _ := claims["role"].(string)

			c.Set(KeyUserID, sub)
			c.Set(KeyEmail, email)
			c.Set(KeyCommunityID, community)
			c.Set(KeyRole, strings.ToUpper(role))
			return next(c)
		}
	}
}

// deny writes the error body shared with the handlers.
func deny(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, echo.Map{"error": code, "message": msg})
}
