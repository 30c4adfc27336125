package routes

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/ticketgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/ticketgraph/internal/server/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/query"
	bqc "github.com/OFFIS-RIT/ticketgraph/pkg/query/base"

	"github.com/labstack/echo/v4"
)

type queryRequest struct {
	Messages []ai.ChatMessage `json:"messages" validate:"required,min=1,dive"`
	Model    string           `json:"model"`
	Think    bool             `json:"think"`
	TopK     int              `json:"top_k" validate:"gte=0"`
}

func (r *queryRequest) options() []bqc.QueryOption {
	opts := []bqc.QueryOption{}
	if r.Model != "" {
		opts = append(opts, bqc.WithModel(r.Model))
	}
	if r.Think {
		opts = append(opts, bqc.WithThinking("medium"))
	}
	if r.TopK > 0 {
		opts = append(opts, bqc.WithTopK(r.TopK))
	}
	return opts
}

// RetrieveHandler returns the tickets most similar to the query text. A
// missing k uses the configured default; a blank query yields no hits.
func RetrieveHandler(c echo.Context) error {
	type retrieveRequest struct {
		Query string `json:"query"`
		K     *int   `json:"k"`
	}
	type retrieveResponse struct {
		Hits []common.ScoredTicket `json:"hits"`
	}

	data := new(retrieveRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := middleware.GetApp(c)
	k := app.Config.Retrieval.TopK
	if data.K != nil {
		k = *data.K
	}

	hits, err := app.Query.Retrieve(c.Request().Context(), data.Query, k)
	if err != nil {
		logger.Error("[API] Retrieval failed", "err", err)
		return util.ErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, retrieveResponse{Hits: hits})
}

// QueryHandler answers the last user message grounded in retrieved
// tickets.
func QueryHandler(c echo.Context) error {
	type queryResponse struct {
		query.Answer
		Trace *query.QueryTraceSnapshot `json:"trace,omitempty"`
	}

	data := new(queryRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := middleware.GetApp(c)
	trace := query.NewQueryTrace()
	client := app.Query.With(append(data.options(), bqc.WithTracer(trace))...)

	answer, err := client.QueryLocal(c.Request().Context(), data.Messages)
	if err != nil {
		logger.Error("[API] Query failed", "err", err)
		return util.ErrorJSON(c, err)
	}

	resp := queryResponse{Answer: answer}
	if c.QueryParam("trace") == "true" {
		snap := trace.Snapshot()
		resp.Trace = &snap
	}
	return c.JSON(http.StatusOK, resp)
}

// QueryStreamHandler streams the answer as server-sent events: "step",
// "content" and a final "sources" event, or "error".
func QueryStreamHandler(c echo.Context) error {
	type stepEvent struct {
		Step      string `json:"step"`
		Reasoning string `json:"reasoning,omitempty"`
	}
	type contentEvent struct {
		Content string `json:"content"`
	}
	type sourcesEvent struct {
		Sources []string `json:"sources"`
	}
	type errorEvent struct {
		Error string `json:"error"`
	}

	data := new(queryRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()

	events, err := app.Query.With(data.options()...).QueryStreamLocal(ctx, data.Messages)
	if err != nil {
		logger.Error("[API] Streaming query failed", "err", err)
		return util.ErrorJSON(c, err)
	}

	util.PrepareSSE(c)

	var content strings.Builder
	for event := range events {
		var werr error
		switch event.Type {
		case "step":
			werr = util.WriteSSEEvent(c, "step", stepEvent{Step: event.Step, Reasoning: event.Reasoning})
		case "content":
			content.WriteString(event.Content)
			werr = util.WriteSSEEvent(c, "content", contentEvent{Content: event.Content})
		case "sources":
			werr = util.WriteSSEEvent(c, "sources", sourcesEvent{Sources: event.Sources})
		case "error":
			logger.Error("[API] Answer stream failed", "err", event.Content)
			werr = util.WriteSSEEvent(c, "error", errorEvent{Error: "Answer generation failed"})
		}
		if werr != nil {
			// client went away, drain so the producer can finish
			for range events {
			}
			return nil
		}
	}

	logger.Debug("[API] Streamed answer", "length", content.Len())
	return nil
}
