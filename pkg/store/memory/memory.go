// Package memory keeps the ticket graph in process memory. It implements
// store.GraphStorage with exact brute-force cosine search and is used by
// tests and by STORE_ADAPTER=memory for local runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
)

type ticketNode struct {
	fields       common.NormalizedTicket
	content      string
	contentHash  string
	embedding    []float32
	embeddedHash string
	updatedAt    time.Time
}

func (t *ticketNode) stale() bool {
	return t.embeddedHash != t.contentHash
}

// GraphMemoryStorage is an in-memory store.GraphStorage. The zero value is
// not usable; create one with New.
type GraphMemoryStorage struct {
	mu sync.RWMutex

	spec      *common.EmbeddingSpec
	customers map[string]string // email -> name
	products  map[string]struct{}
	tickets   map[string]*ticketNode
	raised    map[string]string // ticket id -> customer email
	about     map[string]string // ticket id -> product name

	now func() time.Time
}

func New() *GraphMemoryStorage {
	return &GraphMemoryStorage{
		customers: make(map[string]string),
		products:  make(map[string]struct{}),
		tickets:   make(map[string]*ticketNode),
		raised:    make(map[string]string),
		about:     make(map[string]string),
		now:       time.Now,
	}
}

func (s *GraphMemoryStorage) EnsureSchema(ctx context.Context, spec common.EmbeddingSpec) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spec == nil {
		s.spec = &spec
		return nil
	}
	if !s.spec.Equal(spec) {
		return fmt.Errorf("%w: graph holds %s/%d, configured %s/%d", common.ErrConfigurationMismatch,
			s.spec.Model, s.spec.Dimensions, spec.Model, spec.Dimensions)
	}
	return nil
}

func (s *GraphMemoryStorage) EmbeddingSpec(ctx context.Context) (common.EmbeddingSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.spec == nil {
		return common.EmbeddingSpec{}, fmt.Errorf("%w: schema not initialized", common.ErrConfigurationMismatch)
	}
	return *s.spec, nil
}

func (s *GraphMemoryStorage) dimensions() int {
	if s.spec == nil {
		return 0
	}
	return s.spec.Dimensions
}

func (s *GraphMemoryStorage) UpsertTicket(ctx context.Context, t store.TicketUpsert) (store.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	n := t.Ticket
	if n.ID == "" || n.CustomerEmail == "" {
		return store.UpsertResult{}, fmt.Errorf("%w: ticket id and customer email are required", common.ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.CheckDimensions(t.Embedding, s.dimensions()); err != nil {
		return store.UpsertResult{}, err
	}

	s.customers[n.CustomerEmail] = n.CustomerName
	s.products[n.ProductName] = struct{}{}

	node, exists := s.tickets[n.ID]
	if !exists {
		node = &ticketNode{}
		s.tickets[n.ID] = node
	}
	node.fields = n
	node.content = t.Content
	node.contentHash = t.ContentHash
	if t.Embedding != nil {
		node.embedding = slices.Clone(t.Embedding)
		node.embeddedHash = t.ContentHash
	}
	node.updatedAt = s.now()

	s.raised[n.ID] = n.CustomerEmail
	s.about[n.ID] = n.ProductName

	return store.UpsertResult{Created: !exists, Stale: node.stale()}, nil
}

func (s *GraphMemoryStorage) UpdateEmbedding(ctx context.Context, ticketID string, contentHash string, vec []float32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.CheckDimensions(vec, s.dimensions()); err != nil {
		return false, err
	}
	node, ok := s.tickets[ticketID]
	if !ok || node.contentHash != contentHash {
		return false, nil
	}
	node.embedding = slices.Clone(vec)
	node.embeddedHash = contentHash
	return true, nil
}

func (s *GraphMemoryStorage) StaleTickets(ctx context.Context, limit int) ([]store.StaleTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.StaleTicket, 0)
	for id, node := range s.tickets {
		if node.stale() {
			out = append(out, store.StaleTicket{ID: id, Content: node.content, ContentHash: node.contentHash})
		}
	}
	slices.SortFunc(out, func(a, b store.StaleTicket) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *GraphMemoryStorage) QuerySimilar(ctx context.Context, vec []float32, k int) ([]common.ScoredTicket, error) {
	if k <= 0 {
		return []common.ScoredTicket{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := store.CheckDimensions(vec, s.dimensions()); err != nil {
		return nil, err
	}

	hits := make([]common.ScoredTicket, 0, len(s.tickets))
	for id, node := range s.tickets {
		if node.embedding == nil || node.stale() {
			continue
		}
		hits = append(hits, common.ScoredTicket{
			TicketID: id,
			Content:  node.content,
			Score:    store.CosineSimilarity(vec, node.embedding),
		})
	}
	store.SortScored(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *GraphMemoryStorage) Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error) {
	if err := ctx.Err(); err != nil {
		return common.AggregateResult{}, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := common.AggregateResult{Kind: q.Kind}
	switch q.Kind {
	case common.AggregateTotal:
		res.Count = int64(len(s.tickets))
	case common.AggregateCritical:
		for _, node := range s.tickets {
			p := strings.ToLower(common.Deref(node.fields.Priority))
			if slices.Contains(common.CriticalPriorities, p) {
				res.Count++
			}
		}
	case common.AggregateTopProducts:
		counts := make(map[string]int64)
		for _, product := range s.about {
			counts[product]++
		}
		res.Buckets = store.SortBuckets(toBuckets(counts), q.EffectiveLimit())
	case common.AggregateByStatus:
		res.Buckets = s.groupBy(func(n common.NormalizedTicket) *string { return n.Status })
	case common.AggregateByRootCause:
		res.Buckets = s.groupBy(func(n common.NormalizedTicket) *string { return n.RootCause })
	case common.AggregateBySentiment:
		res.Buckets = s.groupBy(func(n common.NormalizedTicket) *string { return n.Sentiment })
	case common.AggregateByPriority:
		res.Buckets = s.groupBy(func(n common.NormalizedTicket) *string { return n.Priority })
	default:
		return res, fmt.Errorf("%w: %q", common.ErrUnsupportedAggregate, q.Kind)
	}
	return res, nil
}

func (s *GraphMemoryStorage) groupBy(key func(common.NormalizedTicket) *string) []common.Bucket {
	counts := make(map[string]int64)
	for _, node := range s.tickets {
		counts[common.Deref(key(node.fields))]++
	}
	return store.SortBuckets(toBuckets(counts), 0)
}

func toBuckets(counts map[string]int64) []common.Bucket {
	out := make([]common.Bucket, 0, len(counts))
	for k, v := range counts {
		out = append(out, common.Bucket{Key: k, Count: v})
	}
	return out
}

func (s *GraphMemoryStorage) GetTicket(ctx context.Context, id string) (common.TicketView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.tickets[id]
	if !ok {
		return common.TicketView{}, fmt.Errorf("%w: %s", common.ErrTicketNotFound, id)
	}
	email := s.raised[id]
	f := node.fields
	return common.TicketView{
		ID:            id,
		CustomerEmail: email,
		CustomerName:  s.customers[email],
		ProductName:   s.about[id],
		Description:   f.Description,
		Status:        f.Status,
		Priority:      f.Priority,
		IssueSummary:  f.IssueSummary,
		RootCause:     f.RootCause,
		Sentiment:     f.Sentiment,
		Content:       node.content,
		HasEmbedding:  node.embedding != nil,
		Stale:         node.stale(),
		UpdatedAt:     node.updatedAt,
	}, nil
}

func (s *GraphMemoryStorage) Stats(ctx context.Context) (common.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := common.GraphStats{
		Customers:   int64(len(s.customers)),
		Tickets:     int64(len(s.tickets)),
		Products:    int64(len(s.products)),
		RaisedEdges: int64(len(s.raised)),
		AboutEdges:  int64(len(s.about)),
	}
	for _, node := range s.tickets {
		if node.embedding != nil {
			st.EmbeddedTotal++
		}
		if node.stale() {
			st.StaleTickets++
		}
	}
	return st, nil
}

func (s *GraphMemoryStorage) Close(ctx context.Context) error {
	return nil
}
