package neo4j

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
)

// stale tickets still carry their old vector, so the index is asked for
// k plus their number before they are filtered out
const querySimilarCypher = `
OPTIONAL MATCH (s:Ticket)
WHERE s.embedding IS NOT NULL AND s.embedded_hash <> s.content_hash
WITH count(s) AS stale
CALL db.index.vector.queryNodes('ticket_vectors', $k + stale, $embedding)
YIELD node, score
WHERE node.embedded_hash = node.content_hash
RETURN node.id AS id, node.content AS content, score
ORDER BY score DESC, id ASC
LIMIT $k
`

const countTicketsCypher = `MATCH (t:Ticket) RETURN count(t) AS n`

const countCriticalCypher = `
MATCH (t:Ticket)
WHERE toLower(t.priority) IN $critical
RETURN count(t) AS n
`

const topProductsCypher = `
MATCH (t:Ticket)-[:ABOUT]->(p:Product)
RETURN p.name AS key, count(t) AS n
ORDER BY n DESC, key ASC
LIMIT $limit
`

// property names are fixed by groupProperties, never user input
const groupByCypher = `
MATCH (t:Ticket)
RETURN coalesce(t.%s, '') AS key, count(t) AS n
`

var groupProperties = map[common.AggregateKind]string{
	common.AggregateByStatus:    "status",
	common.AggregateByRootCause: "root_cause",
	common.AggregateBySentiment: "sentiment",
	common.AggregateByPriority:  "priority",
}

const statsCypher = `
RETURN COUNT { (:Customer) } AS customers,
       COUNT { (:Ticket) } AS tickets,
       COUNT { (:Product) } AS products,
       COUNT { (:Customer)-[:RAISED]->(:Ticket) } AS raised,
       COUNT { (:Ticket)-[:ABOUT]->(:Product) } AS about,
       COUNT { (t:Ticket) WHERE t.embedded_hash IS NULL OR t.embedded_hash <> t.content_hash } AS stale,
       COUNT { (t:Ticket) WHERE t.embedding IS NOT NULL } AS embedded
`

// cosineFromScore undoes the normalization of the Neo4j cosine index,
// which reports (1 + cosine) / 2.
func cosineFromScore(score float64) float64 {
	return 2*score - 1
}

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

	recs, err := s.read(ctx, querySimilarCypher, map[string]any{
		"k":         int64(k),
		"embedding": vectorParam(vec),
	})
	if err != nil {
		return nil, err
	}

	hits := make([]common.ScoredTicket, 0, len(recs))
	for _, rec := range recs {
		hits = append(hits, common.ScoredTicket{
			TicketID: stringValue(rec, "id"),
			Content:  stringValue(rec, "content"),
			Score:    cosineFromScore(floatValue(rec, "score")),
		})
	}
	store.SortScored(hits)
	return hits, nil
}

func (s *GraphDBStorage) Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error) {
	res := common.AggregateResult{Kind: q.Kind}

	switch q.Kind {
	case common.AggregateTotal:
		n, err := s.count(ctx, countTicketsCypher, nil)
		res.Count = n
		return res, err
	case common.AggregateCritical:
		n, err := s.count(ctx, countCriticalCypher, map[string]any{"critical": common.CriticalPriorities})
		res.Count = n
		return res, err
	case common.AggregateTopProducts:
		buckets, err := s.buckets(ctx, topProductsCypher, map[string]any{"limit": int64(q.EffectiveLimit())})
		if err != nil {
			return res, err
		}
		res.Buckets = store.SortBuckets(buckets, q.EffectiveLimit())
		return res, nil
	}

	prop, ok := groupProperties[q.Kind]
	if !ok {
		return res, fmt.Errorf("%w: %q", common.ErrUnsupportedAggregate, q.Kind)
	}
	buckets, err := s.buckets(ctx, fmt.Sprintf(groupByCypher, prop), nil)
	if err != nil {
		return res, err
	}
	res.Buckets = store.SortBuckets(buckets, 0)
	return res, nil
}

func (s *GraphDBStorage) count(ctx context.Context, cypher string, params map[string]any) (int64, error) {
	recs, err := s.read(ctx, cypher, params)
	if err != nil || len(recs) == 0 {
		return 0, err
	}
	return intValue(recs[0], "n"), nil
}

func (s *GraphDBStorage) buckets(ctx context.Context, cypher string, params map[string]any) ([]common.Bucket, error) {
	recs, err := s.read(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]common.Bucket, 0, len(recs))
	for _, rec := range recs {
		out = append(out, common.Bucket{
			Key:   stringValue(rec, "key"),
			Count: intValue(rec, "n"),
		})
	}
	return out, nil
}

func (s *GraphDBStorage) Stats(ctx context.Context) (common.GraphStats, error) {
	recs, err := s.read(ctx, statsCypher, nil)
	if err != nil || len(recs) == 0 {
		return common.GraphStats{}, err
	}
	rec := recs[0]
	return common.GraphStats{
		Customers:     intValue(rec, "customers"),
		Tickets:       intValue(rec, "tickets"),
		Products:      intValue(rec, "products"),
		RaisedEdges:   intValue(rec, "raised"),
		AboutEdges:    intValue(rec, "about"),
		StaleTickets:  intValue(rec, "stale"),
		EmbeddedTotal: intValue(rec, "embedded"),
	}, nil
}
