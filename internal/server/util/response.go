package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/query"

	"github.com/labstack/echo/v4"
)

// StatusFromError maps the domain errors to HTTP status codes.
func StatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, common.ErrInvalidRecord),
		errors.Is(err, common.ErrUnsupportedAggregate),
		errors.Is(err, query.ErrNoQuestion):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrTicketNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConfigurationMismatch):
		return http.StatusConflict
	case errors.Is(err, common.ErrStoreUnavailable),
		errors.Is(err, common.ErrRetrievalUnavailable),
		errors.Is(err, common.ErrClassificationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorJSON writes err with the matching status code. Internal errors are
// not echoed to the client.
func ErrorJSON(c echo.Context, err error) error {
	status := StatusFromError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	return c.JSON(status, map[string]string{"error": msg})
}

func PrepareSSE(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
}

func WriteSSEEvent(c echo.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(c.Response(), "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}

	c.Response().Flush()
	return nil
}
