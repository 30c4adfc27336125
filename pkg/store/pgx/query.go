package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
)

// <=> is the cosine distance, so 1 - distance is the cosine similarity
const querySimilarSQL = `
SELECT id, content, 1 - (embedding <=> $1) AS score
FROM tickets
WHERE embedding IS NOT NULL
  AND embedded_hash = content_hash
ORDER BY embedding <=> $1, id COLLATE "C"
LIMIT $2
`

const countTicketsSQL = `SELECT count(*) FROM tickets`

const countCriticalSQL = `SELECT count(*) FROM tickets WHERE lower(priority) = ANY($1)`

const topProductsSQL = `
SELECT product_name, count(*)
FROM ticket_about
GROUP BY product_name
ORDER BY count(*) DESC, product_name COLLATE "C"
LIMIT $1
`

// column names are fixed by groupColumns, never user input
const groupBySQL = `
SELECT coalesce(%s, ''), count(*)
FROM tickets
GROUP BY 1
`

var groupColumns = map[common.AggregateKind]string{
	common.AggregateByStatus:    "status",
	common.AggregateByRootCause: "root_cause",
	common.AggregateBySentiment: "sentiment",
	common.AggregateByPriority:  "priority",
}

const statsSQL = `
SELECT
    (SELECT count(*) FROM customers),
    (SELECT count(*) FROM tickets),
    (SELECT count(*) FROM products),
    (SELECT count(*) FROM ticket_raised),
    (SELECT count(*) FROM ticket_about),
    (SELECT count(*) FROM tickets WHERE embedded_hash IS DISTINCT FROM content_hash),
    (SELECT count(*) FROM tickets WHERE embedding IS NOT NULL)
`

func (s *GraphDBStorage) QuerySimilar(ctx context.Context, vec []float32, k int) ([]common.ScoredTicket, error) {
	if k <= 0 {
		return []common.ScoredTicket{}, nil
	}
	dim, err := s.dims(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.CheckDimensions(vec, dim); err != nil {
		return nil, err
	}

	rows, err := s.conn.Query(ctx, querySimilarSQL, vectorParam(vec), k)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	hits := make([]common.ScoredTicket, 0, k)
	for rows.Next() {
		var h common.ScoredTicket
		if err := rows.Scan(&h.TicketID, &h.Content, &h.Score); err != nil {
			return nil, mapError(err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	// the database orders by distance; re-sort so float rounding of the
	// computed score column cannot reorder ties
	store.SortScored(hits)
	return hits, nil
}

func (s *GraphDBStorage) Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error) {
	res := common.AggregateResult{Kind: q.Kind}

	switch q.Kind {
	case common.AggregateTotal:
		err := s.conn.QueryRow(ctx, countTicketsSQL).Scan(&res.Count)
		return res, mapError(err)
	case common.AggregateCritical:
		err := s.conn.QueryRow(ctx, countCriticalSQL, common.CriticalPriorities).Scan(&res.Count)
		return res, mapError(err)
	case common.AggregateTopProducts:
		buckets, err := s.buckets(ctx, topProductsSQL, q.EffectiveLimit())
		if err != nil {
			return res, err
		}
		res.Buckets = store.SortBuckets(buckets, q.EffectiveLimit())
		return res, nil
	}

	column, ok := groupColumns[q.Kind]
	if !ok {
		return res, fmt.Errorf("%w: %q", common.ErrUnsupportedAggregate, q.Kind)
	}
	buckets, err := s.buckets(ctx, fmt.Sprintf(groupBySQL, column))
	if err != nil {
		return res, err
	}
	res.Buckets = store.SortBuckets(buckets, 0)
	return res, nil
}

func (s *GraphDBStorage) buckets(ctx context.Context, sql string, args ...any) ([]common.Bucket, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]common.Bucket, 0)
	for rows.Next() {
		var b common.Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, mapError(err)
		}
		out = append(out, b)
	}
	return out, mapError(rows.Err())
}

func (s *GraphDBStorage) Stats(ctx context.Context) (common.GraphStats, error) {
	var st common.GraphStats
	err := s.conn.QueryRow(ctx, statsSQL).Scan(
		&st.Customers, &st.Tickets, &st.Products,
		&st.RaisedEdges, &st.AboutEdges,
		&st.StaleTickets, &st.EmbeddedTotal,
	)
	return st, mapError(err)
}
