package routes

import (
	"io"
	"net/http"
	"path"

	"github.com/OFFIS-RIT/ticketgraph/internal/queue"
	"github.com/OFFIS-RIT/ticketgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/ticketgraph/internal/server/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/extract"
	"github.com/OFFIS-RIT/ticketgraph/pkg/loader"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const maxUploadSize = 64 << 20

type failedTicket struct {
	TicketID string `json:"ticket_id"`
	Error    string `json:"error"`
}

type ingestResponse struct {
	Total     int                   `json:"total"`
	Succeeded []common.IngestResult `json:"succeeded"`
	Stale     int                   `json:"stale"`
	Failed    []failedTicket        `json:"failed"`
}

type queuedResponse struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

func reportResponse(r common.BatchReport) ingestResponse {
	resp := ingestResponse{
		Total:     r.Total,
		Succeeded: r.Succeeded,
		Stale:     r.StaleCount(),
		Failed:    make([]failedTicket, 0, len(r.Failed)),
	}
	if resp.Succeeded == nil {
		resp.Succeeded = []common.IngestResult{}
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, failedTicket{TicketID: f.TicketID, Error: f.Err.Error()})
	}
	return resp
}

// IngestTicketsHandler merges a batch of ticket records into the graph.
// With "async" and a configured queue the batch is handed to the worker.
func IngestTicketsHandler(c echo.Context) error {
	type ingestRequest struct {
		Records []common.TicketRecord `json:"records" validate:"required,min=1"`
		Enrich  bool                  `json:"enrich"`
		MaskPII *bool                 `json:"mask_pii"`
		Async   bool                  `json:"async"`
	}

	data := new(ingestRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()

	maskPII := app.Config.MaskPII
	if data.MaskPII != nil {
		maskPII = *data.MaskPII
	}

	if data.Async && app.AMQP != nil {
		msg := queue.QueueIngestMsg{
			Message:       "Ticket batch",
			CorrelationID: gonanoid.Must(),
			Records:       data.Records,
			Enrich:        data.Enrich,
			MaskPII:       maskPII,
		}
		if err := queue.Publish(app.AMQP, queue.IngestQueue, msg); err != nil {
			logger.Error("[API] Failed to enqueue tickets", "err", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue unavailable"})
		}
		return c.JSON(http.StatusAccepted, queuedResponse{Message: "Tickets queued", CorrelationID: msg.CorrelationID})
	}

	records := data.Records
	if maskPII {
		loader.MaskEmails(records)
	}
	if data.Enrich {
		records = extract.Records(app.Extractor.EnrichBatch(ctx, records))
	}

	report := app.Graph.IngestBatch(ctx, records)
	if len(report.Succeeded) > 0 {
		app.Analytics.Invalidate(ctx)
	}
	return c.JSON(http.StatusOK, reportResponse(report))
}

// UploadTicketsHandler ingests a CSV, JSON or JSONL export. With upload
// storage and a queue configured the file is stored and processed by the
// worker; otherwise it is parsed and ingested within the request.
func UploadTicketsHandler(c echo.Context) error {
	app := middleware.GetApp(c)
	ctx := c.Request().Context()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing file"})
	}
	if fileHeader.Size > maxUploadSize {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "File too large"})
	}
	format, err := loader.DetectFormat(fileHeader.Filename)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	enrich := c.FormValue("enrich") == "true"
	maskPII := app.Config.MaskPII
	if v := c.FormValue("mask_pii"); v != "" {
		maskPII = v == "true"
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unreadable file"})
	}
	defer file.Close()

	if app.Uploads != nil && app.AMQP != nil {
		key, err := app.Uploads.PutFile(ctx, app.Config.UploadPrefix, path.Base(fileHeader.Filename), file, queue.UploadMetadata(enrich, maskPII))
		if err != nil {
			logger.Error("[API] Failed to store upload", "err", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Upload storage unavailable"})
		}

		msg := queue.QueueIngestMsg{
			Message:       "Ticket upload",
			CorrelationID: gonanoid.Must(),
			FileKey:       key,
			Format:        format,
			Enrich:        enrich,
			MaskPII:       maskPII,
			DeleteAfter:   true,
		}
		if err := queue.Publish(app.AMQP, queue.IngestQueue, msg); err != nil {
			logger.Error("[API] Failed to enqueue upload", "key", key, "err", err)
			_ = app.Uploads.DeleteFile(ctx, key)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue unavailable"})
		}
		return c.JSON(http.StatusAccepted, queuedResponse{Message: "Upload queued", CorrelationID: msg.CorrelationID})
	}

	content, err := io.ReadAll(file)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unreadable file"})
	}
	records, err := loader.Parse(content, format)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if maskPII {
		loader.MaskEmails(records)
	}
	if enrich {
		records = extract.Records(app.Extractor.EnrichBatch(ctx, records))
	}

	report := app.Graph.IngestBatch(ctx, records)
	if len(report.Succeeded) > 0 {
		app.Analytics.Invalidate(ctx)
	}
	return c.JSON(http.StatusOK, reportResponse(report))
}

func GetTicketHandler(c echo.Context) error {
	type getTicketRequest struct {
		ID string `param:"id" validate:"required"`
	}

	data := new(getTicketRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	app := middleware.GetApp(c)
	view, err := app.Store.GetTicket(c.Request().Context(), data.ID)
	if err != nil {
		return util.ErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// ReembedHandler refreshes stale embeddings, through the worker when a
// queue is configured.
func ReembedHandler(c echo.Context) error {
	type reembedRequest struct {
		Limit int `json:"limit" validate:"gte=0"`
	}

	data := new(reembedRequest)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	app := middleware.GetApp(c)
	limit := data.Limit
	if limit == 0 {
		limit = app.Config.Sweep.Batch
	}

	if app.AMQP != nil {
		msg := queue.QueueReembedMsg{Message: "Manual re-embed", CorrelationID: gonanoid.Must(), Limit: limit}
		if err := queue.Publish(app.AMQP, queue.ReembedQueue, msg); err != nil {
			logger.Error("[API] Failed to enqueue re-embed", "err", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue unavailable"})
		}
		return c.JSON(http.StatusAccepted, queuedResponse{Message: "Re-embed queued", CorrelationID: msg.CorrelationID})
	}

	n, err := queue.SweepStale(c.Request().Context(), app.Locker, app.Graph, limit)
	if err != nil {
		return util.ErrorJSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}
