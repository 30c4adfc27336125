package queue

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/OFFIS-RIT/ticketgraph/pkg/loader"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// FailedPrefix holds uploads whose ingest message was dead-lettered. It
// lies outside the upload prefix, so those files are not recovered again.
const FailedPrefix = "failed"

const (
	metaEnrich  = "enrich"
	metaMaskPII = "mask-pii"
)

// UploadMetadata returns the object metadata that lets RecoverUploads
// rebuild the ingest message of an upload.
func UploadMetadata(enrich, maskPII bool) map[string]string {
	return map[string]string{
		metaEnrich:  strconv.FormatBool(enrich),
		metaMaskPII: strconv.FormatBool(maskPII),
	}
}

type UploadLister interface {
	ListFilesWithPrefix(ctx context.Context, prefix string) ([]string, error)
	FileMetadata(ctx context.Context, key string) (map[string]string, error)
}

// RecoverUploads queues every upload still stored below prefix. Uploads
// are deleted once ingested and moved below FailedPrefix when their message
// is dead-lettered, so leftovers belong to messages that were lost, e.g.
// because the worker died before the broker persisted them. Requeueing a
// file that is still in flight is harmless as ingestion is idempotent.
// maskPII applies to uploads stored without metadata.
func RecoverUploads(
	ctx context.Context,
	uploads UploadLister,
	prefix string,
	maskPII bool,
	publish func(queueName string, msg any) error,
) (int, error) {
	keys, err := uploads.ListFilesWithPrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	if len(keys) == 0 {
		logger.Debug("[Queue] No leftover uploads found")
		return 0, nil
	}

	logger.Info("[Queue] Found leftover uploads", "count", len(keys))

	recovered := 0
	for _, key := range keys {
		format, err := loader.DetectFormat(key)
		if err != nil {
			logger.Warn("[Queue] Skipping upload with unknown format", "key", key)
			continue
		}

		msg := QueueIngestMsg{
			Message:       "Recovered upload",
			CorrelationID: gonanoid.Must(),
			FileKey:       key,
			Format:        format,
			MaskPII:       maskPII,
			DeleteAfter:   true,
		}

		meta, err := uploads.FileMetadata(ctx, key)
		if err != nil {
			logger.Warn("[Queue] Failed to read upload metadata, using defaults", "key", key, "err", err)
		}
		if v, err := strconv.ParseBool(meta[metaEnrich]); err == nil {
			msg.Enrich = v
		}
		if v, err := strconv.ParseBool(meta[metaMaskPII]); err == nil {
			msg.MaskPII = v
		}

		if err := publish(IngestQueue, msg); err != nil {
			logger.Error("[Queue] Failed to requeue upload", "key", key, "err", err)
			continue
		}
		recovered++
		logger.Info("[Queue] Requeued upload", "key", key, "enrich", msg.Enrich)
	}
	return recovered, nil
}

// failedKey is where a dead-lettered upload is kept.
func failedKey(key string) string {
	return path.Join(FailedPrefix, key)
}
