package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware checks the API key when one is configured. The key is
// accepted as a bearer token or in the X-API-Key header.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := GetApp(c).Config.APIKey
		if key == "" {
			return next(c)
		}

		token := c.Request().Header.Get("X-API-Key")
		if authHeader := c.Request().Header.Get("Authorization"); token == "" && strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}
