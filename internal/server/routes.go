package server

import (
	"github.com/OFFIS-RIT/ticketgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/ticketgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Ingestion routes
	apiRoutes.POST("/tickets", routes.IngestTicketsHandler)
	apiRoutes.POST("/tickets/upload", routes.UploadTicketsHandler)
	apiRoutes.GET("/tickets/:id", routes.GetTicketHandler)
	apiRoutes.POST("/reembed", routes.ReembedHandler)

	// Retrieval routes
	apiRoutes.POST("/retrieve", routes.RetrieveHandler)
	apiRoutes.POST("/query", routes.QueryHandler)
	apiRoutes.POST("/stream", routes.QueryStreamHandler)

	// Analytics routes
	apiRoutes.GET("/dashboard", routes.GetDashboardHandler)
	apiRoutes.GET("/analytics/:view", routes.GetAnalyticsHandler)
	apiRoutes.GET("/stats", routes.GetStatsHandler)
}
