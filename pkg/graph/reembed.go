package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/metrics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
)

const reembedChunkSize = 32

// ReembedStale recomputes embeddings for up to limit stale tickets and
// returns how many were brought up to date. A vector is only applied if
// the ticket content did not change while it was being computed.
func (g *GraphClient) ReembedStale(ctx context.Context, limit int) (int, error) {
	stale, err := g.store.StaleTickets(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale tickets: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	logger.Info("[Reembed] Refreshing stale embeddings", "count", len(stale))

	updated := 0
	err = store.ChunkRange(len(stale), reembedChunkSize, func(start, end int) error {
		chunk := stale[start:end]
		inputs := make([][]byte, len(chunk))
		for i, t := range chunk {
			inputs[i] = []byte(t.Content)
		}

		ectx, cancel := context.WithTimeout(ctx, g.embedTimeout)
		vecs, err := store.GenerateEmbeddings(ectx, g.embedder, inputs, g.parallelTickets)
		cancel()
		if err != nil {
			metrics.Reembedded.WithLabelValues("embed_failed").Add(float64(len(chunk)))
			return fmt.Errorf("failed to embed stale tickets: %w", err)
		}

		for i, t := range chunk {
			ok, err := g.store.UpdateEmbedding(ctx, t.ID, t.ContentHash, vecs[i])
			if err != nil {
				return fmt.Errorf("failed to store embedding for ticket %s: %w", t.ID, err)
			}
			if ok {
				updated++
				metrics.Reembedded.WithLabelValues("updated").Inc()
			} else {
				// content changed in between; the next sweep picks it up again
				metrics.Reembedded.WithLabelValues("superseded").Inc()
			}
		}
		return nil
	})

	logger.Info("[Reembed] Sweep finished", "updated", updated, "candidates", len(stale))
	return updated, err
}
