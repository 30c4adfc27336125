package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/internal/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/metrics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"

	"golang.org/x/sync/errgroup"
)

func isStoreUnavailable(err error) bool {
	return errors.Is(err, common.ErrStoreUnavailable)
}

// Ingest merges one ticket record into the graph.
//
// The record is validated, rendered to its content string and embedded
// before a single atomic store write. If the embedding cannot be computed
// the content is still written and the ticket is reported as stale; it
// stays hidden from similarity search until ReembedStale succeeds for it.
// Store writes failing with ErrStoreUnavailable are retried with backoff
// a bounded number of times.
func (g *GraphClient) Ingest(ctx context.Context, record common.TicketRecord) (common.IngestResult, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	if err := common.ValidateRecord(record); err != nil {
		metrics.TicketsIngested.WithLabelValues("invalid").Inc()
		return common.IngestResult{TicketID: record.TicketID}, err
	}

	ticket := record.Normalize()
	content := ticket.Content()
	upsert := store.TicketUpsert{
		Ticket:      ticket,
		Content:     content,
		ContentHash: store.HashContent(content),
	}

	vec, err := g.embed(ctx, content)
	if err != nil {
		logger.Warn("[Ingest] Embedding failed, storing ticket without fresh embedding",
			"ticket_id", ticket.ID, "err", err)
	} else {
		upsert.Embedding = vec
	}

	attempt := 0
	res, err := util.RetryWithBackoff(ctx, g.backoff, isStoreUnavailable,
		func(ctx context.Context) (store.UpsertResult, error) {
			if attempt > 0 {
				metrics.StoreRetries.Inc()
				logger.Debug("[Ingest] Retrying store write", "ticket_id", ticket.ID, "attempt", attempt+1)
			}
			attempt++
			sctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
			defer cancel()
			return g.store.UpsertTicket(sctx, upsert)
		})
	if err != nil {
		metrics.TicketsIngested.WithLabelValues("failed").Inc()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
		}
		return common.IngestResult{TicketID: ticket.ID}, &common.RecordError{TicketID: ticket.ID, Err: err}
	}

	result := common.IngestResult{
		TicketID: ticket.ID,
		Created:  res.Created,
		Stale:    res.Stale,
	}
	switch {
	case res.Stale:
		metrics.TicketsIngested.WithLabelValues("stale").Inc()
		logger.Warn("[Ingest] Ticket stored with stale embedding", "ticket_id", ticket.ID, "err", common.ErrStaleEmbedding)
	case res.Created:
		metrics.TicketsIngested.WithLabelValues("created").Inc()
	default:
		metrics.TicketsIngested.WithLabelValues("updated").Inc()
	}
	return result, nil
}

func (g *GraphClient) embed(ctx context.Context, content string) ([]float32, error) {
	if g.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	ectx, cancel := context.WithTimeout(ctx, g.embedTimeout)
	defer cancel()

	vec, err := g.embedder.GenerateEmbedding(ectx, []byte(content))
	if err != nil {
		return nil, err
	}
	if len(vec) != g.embedder.Dimensions() {
		return nil, fmt.Errorf("embedder returned %d dimensions, expected %d", len(vec), g.embedder.Dimensions())
	}
	return vec, nil
}

// IngestBatch ingests records concurrently. A failing record never aborts
// the batch; it is reported in BatchReport.Failed. Records sharing a
// ticket id are applied in input order so the last one wins.
func (g *GraphClient) IngestBatch(ctx context.Context, records []common.TicketRecord) common.BatchReport {
	report := common.BatchReport{Total: len(records)}
	if len(records) == 0 {
		return report
	}

	// group by normalized ticket id so duplicates within a batch serialize
	order := make([]string, 0, len(records))
	groups := make(map[string][]common.TicketRecord)
	for _, r := range records {
		key := strings.TrimSpace(r.TicketID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var mu sync.Mutex
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelTickets)
	for _, key := range order {
		group := groups[key]
		eg.Go(func() error {
			for _, r := range group {
				res, err := g.Ingest(ectx, r)
				mu.Lock()
				if err != nil {
					recErr := common.RecordError{TicketID: r.TicketID, Err: err}
					var re *common.RecordError
					if errors.As(err, &re) {
						recErr = *re
					}
					report.Failed = append(report.Failed, recErr)
					report.Errors = append(report.Errors, err.Error())
				} else {
					report.Succeeded = append(report.Succeeded, res)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	logger.Info("[Ingest] Batch finished",
		"total", report.Total,
		"succeeded", len(report.Succeeded),
		"stale", report.StaleCount(),
		"failed", len(report.Failed))
	return report
}
