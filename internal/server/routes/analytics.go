package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/ticketgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/ticketgraph/internal/server/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/analytics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"

	"github.com/labstack/echo/v4"
)

func GetDashboardHandler(c echo.Context) error {
	type dashboardRequest struct {
		Top int `query:"top" validate:"gte=0,lte=100"`
	}

	data := new(dashboardRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := middleware.GetApp(c)
	dashboard, err := app.Analytics.Dashboard(c.Request().Context(), data.Top)
	if err != nil {
		return util.ErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, dashboard)
}

// GetAnalyticsHandler returns one aggregate, e.g. /api/analytics/products.
func GetAnalyticsHandler(c echo.Context) error {
	type analyticsRequest struct {
		View  string `param:"view" validate:"required"`
		Limit int    `query:"limit" validate:"gte=0,lte=100"`
	}

	data := new(analyticsRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	kind, err := analytics.ParseView(data.View)
	if err != nil {
		return util.ErrorJSON(c, err)
	}

	app := middleware.GetApp(c)
	result, err := app.Analytics.Aggregate(c.Request().Context(), common.AggregateQuery{Kind: kind, Limit: data.Limit})
	if err != nil {
		return util.ErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func GetStatsHandler(c echo.Context) error {
	app := middleware.GetApp(c)
	stats, err := app.Store.Stats(c.Request().Context())
	if err != nil {
		return util.ErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
