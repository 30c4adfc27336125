package queue

import (
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/loader"
)

// QueueIngestMsg asks the worker to ingest tickets. Exactly one of
// Records or FileKey is set; FileKey names an uploaded export in the
// upload bucket.
type QueueIngestMsg struct {
	Message       string                `json:"message,omitempty"`
	CorrelationID string                `json:"correlation_id"`
	Records       []common.TicketRecord `json:"records,omitempty"`
	FileKey       string                `json:"file_key,omitempty"`
	Format        loader.Format         `json:"format,omitempty"`
	Enrich        bool                  `json:"enrich"`
	MaskPII       bool                  `json:"mask_pii"`
	// DeleteAfter removes the uploaded file once it was ingested.
	DeleteAfter bool `json:"delete_after"`
}

type QueueReembedMsg struct {
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlation_id"`
	Limit         int    `json:"limit"`
}

func (m QueueIngestMsg) validate() error {
	switch {
	case len(m.Records) == 0 && m.FileKey == "":
		return fmt.Errorf("ingest message %s carries neither records nor a file", m.CorrelationID)
	case len(m.Records) > 0 && m.FileKey != "":
		return fmt.Errorf("ingest message %s carries both records and a file", m.CorrelationID)
	}
	return nil
}

func decode[T any](body []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("malformed message: %w", err)
	}
	return msg, nil
}
