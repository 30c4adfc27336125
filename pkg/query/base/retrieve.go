package base

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/metrics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/query"
)

// Retrieve returns up to k tickets most similar to text, best first, ties
// broken by ticket id. A blank text or k <= 0 yields an empty result.
//
// The embedding spec recorded in the graph is compared with the
// configured embedder first; a difference fails with
// common.ErrConfigurationMismatch. Embedding and store failures are
// wrapped in common.ErrRetrievalUnavailable.
func (c *BaseQueryClient) Retrieve(ctx context.Context, text string, k int) ([]common.ScoredTicket, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		metrics.RetrievalRequests.WithLabelValues("empty").Inc()
		return []common.ScoredTicket{}, nil
	}

	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	rctx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	if err := c.checkSpec(rctx); err != nil {
		metrics.RetrievalRequests.WithLabelValues("failed").Inc()
		return nil, err
	}

	vec, err := c.embedder.GenerateEmbedding(rctx, []byte(text))
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: failed to embed query: %v", common.ErrRetrievalUnavailable, err)
	}

	hits, err := c.storageClient.QuerySimilar(rctx, vec, k)
	if err != nil {
		metrics.RetrievalRequests.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: vector query failed: %v", common.ErrRetrievalUnavailable, err)
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.TicketID
	}
	query.RecordRetrievedTicketIDs(c.options.Tracer, time.Since(start).Milliseconds(), ids...)
	metrics.RetrievalRequests.WithLabelValues("ok").Inc()
	logger.Debug("[Query] Retrieved tickets", "k", k, "hits", len(hits))

	return hits, nil
}

func (c *BaseQueryClient) checkSpec(ctx context.Context) error {
	g := c.guard
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.checkedAt.IsZero() && time.Since(g.checkedAt) < specCheckInterval {
		return nil
	}

	stored, err := c.storageClient.EmbeddingSpec(ctx)
	if err != nil {
		if errors.Is(err, common.ErrConfigurationMismatch) {
			return err
		}
		return fmt.Errorf("%w: failed to read embedding metadata: %v", common.ErrRetrievalUnavailable, err)
	}
	configured := common.EmbeddingSpec{Model: c.embedder.Model(), Dimensions: c.embedder.Dimensions()}
	if !stored.Equal(configured) {
		logger.Error("[Query] Embedding model differs from the one the graph was built with",
			"graph_model", stored.Model, "graph_dimensions", stored.Dimensions,
			"model", configured.Model, "dimensions", configured.Dimensions)
		return fmt.Errorf("%w: graph embeddings are %s/%d, query embedder is %s/%d",
			common.ErrConfigurationMismatch, stored.Model, stored.Dimensions, configured.Model, configured.Dimensions)
	}

	g.checkedAt = time.Now()
	return nil
}
