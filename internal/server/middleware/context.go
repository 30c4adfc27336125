package middleware

import (
	"github.com/OFFIS-RIT/ticketgraph/internal/bootstrap"

	"github.com/labstack/echo/v4"
)

type AppContext struct {
	echo.Context
	App *bootstrap.App
}

// AppContextMiddleware hands every request the shared App.
func AppContextMiddleware(app *bootstrap.App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}

// GetApp returns the App of a request that passed AppContextMiddleware.
func GetApp(c echo.Context) *bootstrap.App {
	return c.(*AppContext).App
}
