package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// $write is unique per call; a ticket whose created_by equals it was
// created by this statement. Edges to other customers or products are
// removed before the new ones are merged.
const upsertTicketCypher = `
MERGE (c:Customer {email: $email})
SET c.name = $customer_name
MERGE (p:Product {name: $product})
MERGE (t:Ticket {id: $id})
ON CREATE SET t.created_by = $write, t.created_at = datetime()
SET t.description   = $description,
    t.status        = $status,
    t.priority      = $priority,
    t.issue_summary = $issue_summary,
    t.root_cause    = $root_cause,
    t.sentiment     = $sentiment,
    t.content       = $content,
    t.content_hash  = $content_hash,
    t.embedding     = coalesce($embedding, t.embedding),
    t.embedded_hash = CASE WHEN $embedding IS NULL THEN t.embedded_hash ELSE $content_hash END,
    t.updated_at    = datetime()
WITH c, p, t
OPTIONAL MATCH (other:Customer)-[r:RAISED]->(t)
WHERE other.email <> $email
DELETE r
WITH DISTINCT c, p, t
OPTIONAL MATCH (t)-[a:ABOUT]->(op:Product)
WHERE op.name <> $product
DELETE a
WITH DISTINCT c, p, t
MERGE (c)-[:RAISED]->(t)
MERGE (t)-[:ABOUT]->(p)
RETURN t.created_by = $write AS created,
       coalesce(t.embedded_hash, '') <> t.content_hash AS stale
`

const updateEmbeddingCypher = `
MATCH (t:Ticket {id: $id})
WHERE t.content_hash = $content_hash
SET t.embedding = $embedding, t.embedded_hash = $content_hash
RETURN count(t) AS updated
`

const getTicketCypher = `
MATCH (c:Customer)-[:RAISED]->(t:Ticket {id: $id})
OPTIONAL MATCH (t)-[:ABOUT]->(p:Product)
RETURN t.id AS id, c.email AS email, c.name AS customer_name, p.name AS product,
       t.description AS description, t.status AS status, t.priority AS priority,
       t.issue_summary AS issue_summary, t.root_cause AS root_cause, t.sentiment AS sentiment,
       t.content AS content, t.embedding IS NOT NULL AS has_embedding,
       coalesce(t.embedded_hash, '') <> t.content_hash AS stale,
       t.updated_at AS updated_at
LIMIT 1
`

func staleTicketsCypher(limit int) string {
	q := `
MATCH (t:Ticket)
WHERE t.embedded_hash IS NULL OR t.embedded_hash <> t.content_hash
RETURN t.id AS id, t.content AS content, t.content_hash AS content_hash
ORDER BY id`
	if limit > 0 {
		q += fmt.Sprintf("\nLIMIT %d", limit)
	}
	return q
}

// vectorParam converts an embedding to the float list the driver sends;
// nil stays nil so Cypher sees null.
func vectorParam(vec []float32) any {
	if vec == nil {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (s *GraphDBStorage) UpsertTicket(ctx context.Context, t store.TicketUpsert) (store.UpsertResult, error) {
	n := t.Ticket
	if n.ID == "" || n.CustomerEmail == "" {
		return store.UpsertResult{}, fmt.Errorf("%w: ticket id and customer email are required", common.ErrInvalidRecord)
	}
	dim, err := s.dims(ctx)
	if err != nil {
		return store.UpsertResult{}, err
	}
	if err := store.CheckDimensions(t.Embedding, dim); err != nil {
		return store.UpsertResult{}, err
	}

	writeID, err := gonanoid.New()
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("failed to generate write id: %w", err)
	}
	params := map[string]any{
		"write":         writeID,
		"id":            n.ID,
		"email":         n.CustomerEmail,
		"customer_name": n.CustomerName,
		"product":       n.ProductName,
		"description":   optional(n.Description),
		"status":        optional(n.Status),
		"priority":      optional(n.Priority),
		"issue_summary": optional(n.IssueSummary),
		"root_cause":    optional(n.RootCause),
		"sentiment":     optional(n.Sentiment),
		"content":       t.Content,
		"content_hash":  t.ContentHash,
		"embedding":     vectorParam(t.Embedding),
	}

	res, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, upsertTicketCypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return store.UpsertResult{
			Created: boolValue(rec, "created"),
			Stale:   boolValue(rec, "stale"),
		}, nil
	})
	if err != nil {
		return store.UpsertResult{}, err
	}
	return res.(store.UpsertResult), nil
}

func (s *GraphDBStorage) UpdateEmbedding(ctx context.Context, ticketID string, contentHash string, vec []float32) (bool, error) {
	dim, err := s.dims(ctx)
	if err != nil {
		return false, err
	}
	if vec == nil {
		return false, fmt.Errorf("%w: embedding is empty", common.ErrInvalidRecord)
	}
	if err := store.CheckDimensions(vec, dim); err != nil {
		return false, err
	}

	res, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, updateEmbeddingCypher, map[string]any{
			"id":           ticketID,
			"content_hash": contentHash,
			"embedding":    vectorParam(vec),
		})
		if err != nil {
			return nil, err
		}
		rec, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		return intValue(rec, "updated") > 0, nil
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (s *GraphDBStorage) StaleTickets(ctx context.Context, limit int) ([]store.StaleTicket, error) {
	recs, err := s.read(ctx, staleTicketsCypher(limit), nil)
	if err != nil {
		return nil, err
	}
	out := make([]store.StaleTicket, 0, len(recs))
	for _, rec := range recs {
		out = append(out, store.StaleTicket{
			ID:          stringValue(rec, "id"),
			Content:     stringValue(rec, "content"),
			ContentHash: stringValue(rec, "content_hash"),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) GetTicket(ctx context.Context, id string) (common.TicketView, error) {
	recs, err := s.read(ctx, getTicketCypher, map[string]any{"id": id})
	if err != nil {
		return common.TicketView{}, err
	}
	if len(recs) == 0 {
		return common.TicketView{}, fmt.Errorf("%w: %s", common.ErrTicketNotFound, id)
	}
	rec := recs[0]

	v := common.TicketView{
		ID:            stringValue(rec, "id"),
		CustomerEmail: stringValue(rec, "email"),
		CustomerName:  stringValue(rec, "customer_name"),
		ProductName:   stringValue(rec, "product"),
		Description:   optionalString(rec, "description"),
		Status:        optionalString(rec, "status"),
		Priority:      optionalString(rec, "priority"),
		IssueSummary:  optionalString(rec, "issue_summary"),
		RootCause:     optionalString(rec, "root_cause"),
		Sentiment:     optionalString(rec, "sentiment"),
		Content:       stringValue(rec, "content"),
		HasEmbedding:  boolValue(rec, "has_embedding"),
		Stale:         boolValue(rec, "stale"),
	}
	if ts, ok := value(rec, "updated_at").(time.Time); ok {
		v.UpdatedAt = ts
	}
	return v, nil
}
