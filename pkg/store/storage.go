package store

import (
	"context"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
)

// TicketUpsert is the complete state one ingestion writes for a ticket.
//
// Embedding may be nil when no vector could be computed. The store then
// keeps the previous vector and reports the ticket as stale unless that
// vector was computed from the same ContentHash.
type TicketUpsert struct {
	Ticket      common.NormalizedTicket
	Content     string
	ContentHash string
	Embedding   []float32
}

// UpsertResult reports the effect of an UpsertTicket call.
type UpsertResult struct {
	Created bool
	Stale   bool
}

// StaleTicket is a ticket whose embedding does not match its content.
type StaleTicket struct {
	ID          string
	Content     string
	ContentHash string
}

// GraphStorage persists the ticket graph (Customer -RAISED-> Ticket
// -ABOUT-> Product) together with a cosine vector index over ticket
// content.
//
// Implementations map connectivity and timeout failures to
// common.ErrStoreUnavailable and constraint violations to
// common.ErrInvalidRecord. Every method is safe for concurrent use.
type GraphStorage interface {
	// EnsureSchema creates constraints and the vector index when missing
	// and records spec as graph metadata. A graph that already records a
	// different spec yields common.ErrConfigurationMismatch.
	EnsureSchema(ctx context.Context, spec common.EmbeddingSpec) error
	// EmbeddingSpec returns the spec recorded by EnsureSchema.
	EmbeddingSpec(ctx context.Context) (common.EmbeddingSpec, error)

	// UpsertTicket merges the customer, product and ticket nodes and their
	// edges in one atomic unit. Existing RAISED/ABOUT edges of the ticket
	// that point elsewhere are replaced.
	UpsertTicket(ctx context.Context, t TicketUpsert) (UpsertResult, error)
	// UpdateEmbedding stores vec for ticketID if the ticket content still
	// hashes to contentHash. It reports whether the vector was applied.
	UpdateEmbedding(ctx context.Context, ticketID string, contentHash string, vec []float32) (bool, error)
	StaleTickets(ctx context.Context, limit int) ([]StaleTicket, error)

	// QuerySimilar returns up to k non-stale tickets ordered by cosine
	// similarity descending, ties broken by ticket id ascending.
	QuerySimilar(ctx context.Context, vec []float32, k int) ([]common.ScoredTicket, error)
	Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error)

	GetTicket(ctx context.Context, id string) (common.TicketView, error)
	Stats(ctx context.Context) (common.GraphStats, error)

	Close(ctx context.Context) error
}
