package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const upsertCustomerSQL = `
INSERT INTO customers (email, name) VALUES ($1, $2)
ON CONFLICT (email) DO UPDATE
SET name = EXCLUDED.name, updated_at = now()
`

const upsertProductSQL = `
INSERT INTO products (name) VALUES ($1)
ON CONFLICT (name) DO NOTHING
`

// embedding and embedded_hash keep their previous values when no new
// vector is supplied
const upsertTicketSQL = `
INSERT INTO tickets (
    id, description, status, priority, issue_summary, root_cause, sentiment,
    content, content_hash, embedding, embedded_hash
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET description   = EXCLUDED.description,
    status        = EXCLUDED.status,
    priority      = EXCLUDED.priority,
    issue_summary = EXCLUDED.issue_summary,
    root_cause    = EXCLUDED.root_cause,
    sentiment     = EXCLUDED.sentiment,
    content       = EXCLUDED.content,
    content_hash  = EXCLUDED.content_hash,
    embedding     = COALESCE(EXCLUDED.embedding, tickets.embedding),
    embedded_hash = COALESCE(EXCLUDED.embedded_hash, tickets.embedded_hash),
    updated_at    = now()
RETURNING (xmax = 0) AS created, embedded_hash IS DISTINCT FROM content_hash AS stale
`

const upsertRaisedSQL = `
INSERT INTO ticket_raised (ticket_id, customer_email) VALUES ($1, $2)
ON CONFLICT (ticket_id) DO UPDATE
SET customer_email = EXCLUDED.customer_email
`

const upsertAboutSQL = `
INSERT INTO ticket_about (ticket_id, product_name) VALUES ($1, $2)
ON CONFLICT (ticket_id) DO UPDATE
SET product_name = EXCLUDED.product_name
`

const updateEmbeddingSQL = `
UPDATE tickets
SET embedding = $3, embedded_hash = $2
WHERE id = $1 AND content_hash = $2
`

const staleTicketsSQL = `
SELECT id, content, content_hash
FROM tickets
WHERE embedded_hash IS DISTINCT FROM content_hash
ORDER BY id
LIMIT $1
`

const getTicketSQL = `
SELECT t.id, r.customer_email, c.name, a.product_name,
       t.description, t.status, t.priority, t.issue_summary, t.root_cause, t.sentiment,
       t.content, t.embedding IS NOT NULL, t.embedded_hash IS DISTINCT FROM t.content_hash,
       t.updated_at
FROM tickets t
JOIN ticket_raised r ON r.ticket_id = t.id
JOIN customers c ON c.email = r.customer_email
LEFT JOIN ticket_about a ON a.ticket_id = t.id
WHERE t.id = $1
`

func vectorParam(vec []float32) any {
	if vec == nil {
		return nil
	}
	v := pgvector.NewVector(vec)
	return &v
}

// limitParam turns a non-positive limit into SQL NULL, which means no
// limit.
func limitParam(limit int) any {
	if limit <= 0 {
		return nil
	}
	return int64(limit)
}

// cleanText drops NUL bytes and invalid UTF-8, which Postgres text
// columns reject.
func cleanText(s string) string {
	if s == "" {
		return s
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}

// text is cleanText for optional columns; nil becomes SQL NULL.
func text(s *string) any {
	if s == nil {
		return nil
	}
	return cleanText(*s)
}

// UpsertTicket writes nodes and edges of one ticket in a single
// transaction. Concurrent upserts of the same ticket id serialize on the
// ticket row.
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

	var embeddedHash any
	if t.Embedding != nil {
		embeddedHash = t.ContentHash
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return store.UpsertResult{}, mapError(err)
	}
	defer tx.Rollback(ctx)

	id := cleanText(n.ID)
	email := cleanText(n.CustomerEmail)
	product := cleanText(n.ProductName)

	if _, err := tx.Exec(ctx, upsertCustomerSQL, email, cleanText(n.CustomerName)); err != nil {
		return store.UpsertResult{}, mapError(err)
	}
	if _, err := tx.Exec(ctx, upsertProductSQL, product); err != nil {
		return store.UpsertResult{}, mapError(err)
	}

	var res store.UpsertResult
	err = tx.QueryRow(ctx, upsertTicketSQL,
		id,
		text(n.Description),
		text(n.Status),
		text(n.Priority),
		text(n.IssueSummary),
		text(n.RootCause),
		text(n.Sentiment),
		cleanText(t.Content),
		t.ContentHash,
		vectorParam(t.Embedding),
		embeddedHash,
	).Scan(&res.Created, &res.Stale)
	if err != nil {
		return store.UpsertResult{}, mapError(err)
	}

	if _, err := tx.Exec(ctx, upsertRaisedSQL, id, email); err != nil {
		return store.UpsertResult{}, mapError(err)
	}
	if _, err := tx.Exec(ctx, upsertAboutSQL, id, product); err != nil {
		return store.UpsertResult{}, mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return store.UpsertResult{}, mapError(err)
	}
	return res, nil
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

	tag, err := s.conn.Exec(ctx, updateEmbeddingSQL, ticketID, contentHash, vectorParam(vec))
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *GraphDBStorage) StaleTickets(ctx context.Context, limit int) ([]store.StaleTicket, error) {
	rows, err := s.conn.Query(ctx, staleTicketsSQL, limitParam(limit))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]store.StaleTicket, 0)
	for rows.Next() {
		var st store.StaleTicket
		if err := rows.Scan(&st.ID, &st.Content, &st.ContentHash); err != nil {
			return nil, mapError(err)
		}
		out = append(out, st)
	}
	return out, mapError(rows.Err())
}

func (s *GraphDBStorage) GetTicket(ctx context.Context, id string) (common.TicketView, error) {
	var v common.TicketView
	var product *string
	err := s.conn.QueryRow(ctx, getTicketSQL, id).Scan(
		&v.ID, &v.CustomerEmail, &v.CustomerName, &product,
		&v.Description, &v.Status, &v.Priority, &v.IssueSummary, &v.RootCause, &v.Sentiment,
		&v.Content, &v.HasEmbedding, &v.Stale, &v.UpdatedAt,
	)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return v, fmt.Errorf("%w: %s", common.ErrTicketNotFound, id)
	}
	if err != nil {
		return v, mapError(err)
	}
	v.ProductName = common.Deref(product)
	return v, nil
}
