package common

import "time"

// ScoredTicket is one similarity hit. Score is the cosine similarity
// between the query vector and the ticket embedding, in [-1, 1].
type ScoredTicket struct {
	TicketID string  `json:"ticket_id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// TicketView is a ticket as it is stored in the graph, together with the
// customer that raised it and the product it is about.
type TicketView struct {
	ID            string    `json:"id"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	ProductName   string    `json:"product_name,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Status        *string   `json:"status,omitempty"`
	Priority      *string   `json:"priority,omitempty"`
	IssueSummary  *string   `json:"issue_summary,omitempty"`
	RootCause     *string   `json:"root_cause,omitempty"`
	Sentiment     *string   `json:"sentiment,omitempty"`
	Content       string    `json:"content"`
	HasEmbedding  bool      `json:"has_embedding"`
	Stale         bool      `json:"stale"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// GraphStats counts nodes and edges per label.
type GraphStats struct {
	Customers     int64 `json:"customers"`
	Tickets       int64 `json:"tickets"`
	Products      int64 `json:"products"`
	RaisedEdges   int64 `json:"raised_edges"`
	AboutEdges    int64 `json:"about_edges"`
	StaleTickets  int64 `json:"stale_tickets"`
	EmbeddedTotal int64 `json:"embedded_tickets"`
}

// EmbeddingSpec identifies the vector space ticket embeddings live in.
// Vectors from different specs are not comparable.
type EmbeddingSpec struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

func (s EmbeddingSpec) Equal(o EmbeddingSpec) bool {
	return s.Model == o.Model && s.Dimensions == o.Dimensions
}

type AggregateKind string

const (
	AggregateTotal       AggregateKind = "total"
	AggregateCritical    AggregateKind = "critical"
	AggregateByStatus    AggregateKind = "by_status"
	AggregateTopProducts AggregateKind = "top_products"
	AggregateByRootCause AggregateKind = "by_root_cause"
	AggregateBySentiment AggregateKind = "by_sentiment"
	AggregateByPriority  AggregateKind = "by_priority"
)

const defaultAggregateLimit = 10

// CriticalPriorities are the lower-cased priorities counted as critical.
var CriticalPriorities = []string{"high", "critical"}

// AggregateQuery selects one read-only aggregate over the graph. Limit
// applies to grouped kinds and is ignored for counts.
type AggregateQuery struct {
	Kind  AggregateKind `json:"kind"`
	Limit int           `json:"limit,omitempty"`
}

// EffectiveLimit returns Limit, or the default of ten for a non-positive
// value.
func (q AggregateQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return defaultAggregateLimit
	}
	return q.Limit
}

// Bucket is one group of a grouped aggregate. Tickets without a value for
// the grouping key are reported under the empty key.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// AggregateResult holds either Count or Buckets depending on the kind.
// Buckets are ordered by count descending, then key ascending.
type AggregateResult struct {
	Kind    AggregateKind `json:"kind"`
	Count   int64         `json:"count"`
	Buckets []Bucket      `json:"buckets,omitempty"`
}

// IngestResult reports what one ingestion did to the graph.
type IngestResult struct {
	TicketID string `json:"ticket_id"`
	Created  bool   `json:"created"`
	// Stale is true when the content was stored but the embedding could not
	// be brought up to date.
	Stale bool `json:"stale"`
}

// BatchReport summarizes a batch ingestion. Failures never abort the batch.
type BatchReport struct {
	Total     int            `json:"total"`
	Succeeded []IngestResult `json:"succeeded"`
	Failed    []RecordError  `json:"-"`
	Errors    []string       `json:"errors,omitempty"`
}

// StaleCount counts succeeded tickets that are waiting for a new embedding.
func (r BatchReport) StaleCount() int {
	n := 0
	for _, s := range r.Succeeded {
		if s.Stale {
			n++
		}
	}
	return n
}
