package graph

import (
	"time"

	"github.com/OFFIS-RIT/ticketgraph/internal/util"
	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
)

// GraphClient ingests ticket records into the graph store. It owns the
// embedding step, the retry policy for store writes and the parallelism of
// batch ingestion.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	store    store.GraphStorage
	embedder ai.Embedder

	parallelTickets int
	embedTimeout    time.Duration
	storeTimeout    time.Duration
	backoff         util.Backoff
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// ParallelTickets bounds how many tickets of a batch are ingested at once.
// EmbedTimeout and StoreTimeout bound each embedding call and each store
// write. MaxRetries bounds store writes failing with ErrStoreUnavailable.
type NewGraphClientParams struct {
	Store    store.GraphStorage
	Embedder ai.Embedder

	ParallelTickets int
	EmbedTimeout    time.Duration
	StoreTimeout    time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
}

// NewGraphClient creates a GraphClient with defaults for unset values.
//
// Example:
//
//	client := graph.NewGraphClient(graph.NewGraphClientParams{
//		Store:           pgStore,
//		Embedder:        aiClient,
//		ParallelTickets: 8,
//	})
//	res, err := client.Ingest(ctx, record)
func NewGraphClient(params NewGraphClientParams) *GraphClient {
	parallel := params.ParallelTickets
	if parallel <= 0 {
		parallel = 4
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	embedTimeout := params.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 30 * time.Second
	}
	storeTimeout := params.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 15 * time.Second
	}
	initial := params.RetryBackoff
	if initial < 0 {
		initial = 0
	} else if initial == 0 {
		initial = 200 * time.Millisecond
	}

	return &GraphClient{
		store:           params.Store,
		embedder:        params.Embedder,
		parallelTickets: parallel,
		embedTimeout:    embedTimeout,
		storeTimeout:    storeTimeout,
		backoff: util.Backoff{
			MaxTries: maxRetries,
			Initial:  initial,
			Max:      5 * time.Second,
		},
	}
}
