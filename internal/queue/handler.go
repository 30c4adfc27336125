package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/extract"
	"github.com/OFFIS-RIT/ticketgraph/pkg/loader"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
)

// ErrPermanent marks messages that can never succeed. They go to the
// dead-letter queue without being retried.
var ErrPermanent = errors.New("permanent failure")

type Ingestor interface {
	IngestBatch(ctx context.Context, records []common.TicketRecord) common.BatchReport
	ReembedStale(ctx context.Context, limit int) (int, error)
}

type Enricher interface {
	EnrichBatch(ctx context.Context, records []common.TicketRecord) []extract.Result
}

type Invalidator interface {
	Invalidate(ctx context.Context)
}

type UploadStore interface {
	DeleteFile(ctx context.Context, key string) error
	MoveFile(ctx context.Context, key, newKey string) error
}

// Handler processes queue messages. Files and Uploads are only needed for
// messages that reference an uploaded file.
type Handler struct {
	Graph     Ingestor
	Extractor Enricher
	Analytics Invalidator
	Files     loader.FileLoader
	Uploads   UploadStore

	ReembedBatch int
}

// Process dispatches body to the handler for queueName.
func (h *Handler) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case IngestQueue:
		return h.ProcessIngestMessage(ctx, body)
	case ReembedQueue:
		return h.ProcessReembedMessage(ctx, body)
	default:
		return fmt.Errorf("%w: unknown queue %s", ErrPermanent, queueName)
	}
}

// ProcessIngestMessage loads, optionally enriches and ingests the tickets of
// one message. Invalid records are logged and dropped. The message is
// retried when any record failed because the store was unavailable;
// ingestion is idempotent, so tickets that already made it are merged
// again without change.
func (h *Handler) ProcessIngestMessage(ctx context.Context, body []byte) error {
	msg, err := decode[QueueIngestMsg](body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if err := msg.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	records := msg.Records
	if msg.FileKey != "" {
		records, err = h.loadFile(ctx, msg)
		if errors.Is(err, fs.ErrNotExist) {
			// deleted by an earlier delivery of the same upload
			logger.Warn("[Queue] Upload already processed", "correlation_id", msg.CorrelationID, "key", msg.FileKey)
			return nil
		}
		if err != nil {
			return err
		}
	} else if msg.MaskPII {
		loader.MaskEmails(records)
	}

	if msg.Enrich && h.Extractor != nil {
		records = extract.Records(h.Extractor.EnrichBatch(ctx, records))
	}

	report := h.Graph.IngestBatch(ctx, records)
	if len(report.Succeeded) > 0 && h.Analytics != nil {
		h.Analytics.Invalidate(ctx)
	}

	retry := 0
	for _, f := range report.Failed {
		if errors.Is(f.Err, common.ErrStoreUnavailable) {
			retry++
			continue
		}
		logger.Warn("[Queue] Dropping invalid ticket", "correlation_id", msg.CorrelationID, "ticket_id", f.TicketID, "err", f.Err)
	}
	if retry > 0 {
		return fmt.Errorf("%d of %d tickets could not be stored: %w", retry, report.Total, common.ErrStoreUnavailable)
	}

	logger.Info("[Queue] Ingested tickets",
		"correlation_id", msg.CorrelationID,
		"total", report.Total,
		"succeeded", len(report.Succeeded),
		"stale", report.StaleCount(),
		"failed", len(report.Failed))

	if msg.FileKey != "" && msg.DeleteAfter && h.Uploads != nil {
		if err := h.Uploads.DeleteFile(ctx, msg.FileKey); err != nil {
			logger.Warn("[Queue] Failed to delete ingested upload", "key", msg.FileKey, "err", err)
		}
	}
	return nil
}

func (h *Handler) loadFile(ctx context.Context, msg QueueIngestMsg) ([]common.TicketRecord, error) {
	if h.Files == nil {
		return nil, fmt.Errorf("%w: no file storage configured for %s", ErrPermanent, msg.FileKey)
	}

	format := msg.Format
	if format == "" {
		detected, err := loader.DetectFormat(msg.FileKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		format = detected
	}

	content, err := h.Files.GetFile(ctx, msg.FileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", msg.FileKey, err)
	}
	records, err := loader.Parse(content, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPermanent, msg.FileKey, err)
	}
	if msg.MaskPII {
		loader.MaskEmails(records)
	}
	return records, nil
}

// DeadLetter moves the upload of a dead-lettered ingest message below
// FailedPrefix, so RecoverUploads does not queue it again.
func (h *Handler) DeadLetter(ctx context.Context, queueName string, body []byte) {
	if queueName != IngestQueue || h.Uploads == nil {
		return
	}
	msg, err := decode[QueueIngestMsg](body)
	if err != nil || msg.FileKey == "" || !msg.DeleteAfter {
		return
	}

	target := failedKey(msg.FileKey)
	if err := h.Uploads.MoveFile(ctx, msg.FileKey, target); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Error("[Queue] Failed to park dead-lettered upload", "key", msg.FileKey, "err", err)
		}
		return
	}
	logger.Warn("[Queue] Parked dead-lettered upload", "correlation_id", msg.CorrelationID, "key", target)
}

func (h *Handler) ProcessReembedMessage(ctx context.Context, body []byte) error {
	msg, err := decode[QueueReembedMsg](body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	limit := msg.Limit
	if limit <= 0 {
		limit = h.ReembedBatch
	}

	n, err := h.Graph.ReembedStale(ctx, limit)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Re-embedded stale tickets", "correlation_id", msg.CorrelationID, "updated", n)
	return nil
}
