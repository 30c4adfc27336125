package server

import (
	"context"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/internal/bootstrap"
	"github.com/OFFIS-RIT/ticketgraph/internal/queue"
	mid "github.com/OFFIS-RIT/ticketgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the HTTP API on app.
func New(app *bootstrap.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("128M"))

	RegisterRoutes(e)
	return e
}

// Run serves the API until ctx is cancelled.
func Run(ctx context.Context, app *bootstrap.App) error {
	if app.AMQP != nil {
		ch, err := app.AMQP.Channel()
		if err != nil {
			return err
		}
		err = queue.SetupQueues(ch, queue.Queues)
		_ = ch.Close()
		if err != nil {
			return err
		}
	}

	e := New(app)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", app.Config.Port)
		if err := e.Start(":" + app.Config.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
		return err
	}
	return nil
}
