package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai/hash"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/graph"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store/memory"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string, out any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return false, errors.New("connection refused")
	}
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (c *mapCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = raw
	c.mu.Unlock()
	return nil
}

func (c *mapCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *mapCache) Close() error { return nil }

type countingStore struct {
	store.GraphStorage
	aggregates atomic.Int32
}

func (s *countingStore) Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error) {
	s.aggregates.Add(1)
	return s.GraphStorage.Aggregate(ctx, q)
}

func seed(t *testing.T) *memory.GraphMemoryStorage {
	t.Helper()
	ctx := context.Background()
	emb := hash.New(32)
	s := memory.New()
	if err := s.EnsureSchema(ctx, common.EmbeddingSpec{Model: emb.Model(), Dimensions: 32}); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	g := graph.NewGraphClient(graph.NewGraphClientParams{Store: s, Embedder: emb, RetryBackoff: -1})

	rec := func(id, product, status, priority, rootCause string) common.TicketRecord {
		r := common.TicketRecord{TicketID: id, CustomerEmail: id + "@x.com", ProductName: common.Ptr(product)}
		if status != "" {
			r.Status = common.Ptr(status)
		}
		if priority != "" {
			r.Priority = common.Ptr(priority)
		}
		if rootCause != "" {
			r.RootCause = common.Ptr(rootCause)
		}
		return r
	}
	report := g.IngestBatch(ctx, []common.TicketRecord{
		rec("1", "GoPro", "Open", "High", "Hardware"),
		rec("2", "GoPro", "Closed", "critical", "Hardware"),
		rec("3", "Kindle", "Open", "low", "Software"),
		rec("4", "Kindle", "Open", "CRITICAL", ""),
		rec("5", "Roomba", "Pending Customer Response", "medium", "Network"),
		rec("6", "", "", "", ""),
	})
	if len(report.Failed) != 0 {
		t.Fatalf("seed failed: %v", report.Errors)
	}
	return s
}

func TestReader_Counts(t *testing.T) {
	r := NewReader(NewReaderParams{Store: seed(t)})
	ctx := context.Background()

	total, err := r.TotalTickets(ctx)
	if err != nil || total != 6 {
		t.Fatalf("expected 6 tickets, got %d (%v)", total, err)
	}
	critical, err := r.CriticalTickets(ctx)
	if err != nil || critical != 3 {
		t.Fatalf("expected 3 critical tickets, got %d (%v)", critical, err)
	}
}

func TestReader_Distributions(t *testing.T) {
	r := NewReader(NewReaderParams{Store: seed(t)})
	ctx := context.Background()

	status, err := r.StatusDistribution(ctx)
	if err != nil {
		t.Fatalf("StatusDistribution: %v", err)
	}
	wantStatus := []common.Bucket{
		{Key: "Open", Count: 3},
		{Key: "", Count: 1},
		{Key: "Closed", Count: 1},
		{Key: "Pending Customer Response", Count: 1},
	}
	if !reflect.DeepEqual(status, wantStatus) {
		t.Fatalf("expected %v, got %v", wantStatus, status)
	}

	top, err := r.TopProducts(ctx, 2)
	if err != nil {
		t.Fatalf("TopProducts: %v", err)
	}
	wantTop := []common.Bucket{{Key: "GoPro", Count: 2}, {Key: "Kindle", Count: 2}}
	if !reflect.DeepEqual(top, wantTop) {
		t.Fatalf("expected %v, got %v", wantTop, top)
	}

	all, _ := r.TopProducts(ctx, 0)
	if len(all) != 4 {
		t.Fatalf("expected 4 products including the default, got %v", all)
	}
}

func TestReader_Dashboard(t *testing.T) {
	r := NewReader(NewReaderParams{Store: seed(t)})

	d, err := r.Dashboard(context.Background(), 3)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.TotalTickets != 6 || d.CriticalTickets != 3 {
		t.Fatalf("unexpected counts: %+v", d)
	}
	if d.CriticalShare != 50 {
		t.Fatalf("expected 50%% critical, got %v", d.CriticalShare)
	}
	if len(d.TopProducts) != 3 || len(d.RootCauses) == 0 || len(d.Sentiment) != 1 {
		t.Fatalf("unexpected buckets: %+v", d)
	}
}

func TestReader_EmptyGraph(t *testing.T) {
	s := memory.New()
	r := NewReader(NewReaderParams{Store: s})

	d, err := r.Dashboard(context.Background(), 5)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.TotalTickets != 0 || d.CriticalShare != 0 || d.Status == nil || len(d.Status) != 0 {
		t.Fatalf("expected empty dashboard, got %+v", d)
	}
}

func TestReader_CachesAggregates(t *testing.T) {
	s := &countingStore{GraphStorage: seed(t)}
	c := newMapCache()
	r := NewReader(NewReaderParams{Store: s, Cache: c, TTL: time.Minute})
	ctx := context.Background()

	for range 3 {
		if n, _ := r.TotalTickets(ctx); n != 6 {
			t.Fatalf("expected 6, got %d", n)
		}
	}
	if got := s.aggregates.Load(); got != 1 {
		t.Fatalf("expected 1 store query, got %d", got)
	}

	r.Invalidate(ctx)
	_, _ = r.TotalTickets(ctx)
	if got := s.aggregates.Load(); got != 2 {
		t.Fatalf("expected store query after invalidation, got %d", got)
	}
}

type blockingStore struct {
	store.GraphStorage
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error) {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return common.AggregateResult{}, ctx.Err()
	}
	return s.GraphStorage.Aggregate(ctx, q)
}

func TestReader_SharedQuerySurvivesCancelledCaller(t *testing.T) {
	s := &blockingStore{
		GraphStorage: seed(t),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	r := NewReader(NewReaderParams{Store: s})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.TotalTickets(ctxA)
		errA <- err
	}()
	<-s.entered

	type result struct {
		n   int64
		err error
	}
	resB := make(chan result, 1)
	go func() {
		n, err := r.TotalTickets(context.Background())
		resB <- result{n, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for the cancelled caller, got %v", err)
	}

	close(s.release)
	got := <-resB
	if got.err != nil || got.n != 6 {
		t.Fatalf("expected 6 without error, got %d (%v)", got.n, got.err)
	}
}

func TestReader_CacheFailureFallsBackToStore(t *testing.T) {
	c := newMapCache()
	c.failGet = true
	r := NewReader(NewReaderParams{Store: seed(t), Cache: c})

	n, err := r.TotalTickets(context.Background())
	if err != nil || n != 6 {
		t.Fatalf("expected 6 without error, got %d (%v)", n, err)
	}
}

func TestParseView(t *testing.T) {
	if kind, err := ParseView("products"); err != nil || kind != common.AggregateTopProducts {
		t.Fatalf("expected top_products, got %s (%v)", kind, err)
	}
	if _, err := ParseView("revenue"); !errors.Is(err, common.ErrUnsupportedAggregate) {
		t.Fatalf("expected ErrUnsupportedAggregate, got %v", err)
	}
}

func TestCriticalShare(t *testing.T) {
	tests := []struct {
		critical, total int64
		want            float64
	}{
		{0, 0, 0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{5, 5, 100},
	}
	for _, tt := range tests {
		if got := criticalShare(tt.critical, tt.total); got != tt.want {
			t.Errorf("criticalShare(%d, %d) = %v, want %v", tt.critical, tt.total, got, tt.want)
		}
	}
}
