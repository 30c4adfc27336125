package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai/hash"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store/memory"
)

const dims = 64

type flakyEmbedder struct {
	*hash.Embedder
	fail atomic.Bool
}

func (f *flakyEmbedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if f.fail.Load() {
		return nil, errors.New("embedding service down")
	}
	return f.Embedder.GenerateEmbedding(ctx, input)
}

// unavailableStore fails the first n upserts with ErrStoreUnavailable.
type unavailableStore struct {
	store.GraphStorage
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *unavailableStore) UpsertTicket(ctx context.Context, t store.TicketUpsert) (store.UpsertResult, error) {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return store.UpsertResult{}, fmt.Errorf("%w: connection refused", common.ErrStoreUnavailable)
	}
	return s.GraphStorage.UpsertTicket(ctx, t)
}

func setup(t *testing.T) (*GraphClient, *memory.GraphMemoryStorage, *flakyEmbedder) {
	t.Helper()
	emb := &flakyEmbedder{Embedder: hash.New(dims)}
	s := memory.New()
	if err := s.EnsureSchema(context.Background(), common.EmbeddingSpec{Model: emb.Model(), Dimensions: dims}); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	client := NewGraphClient(NewGraphClientParams{Store: s, Embedder: emb, RetryBackoff: -1})
	return client, s, emb
}

func goPro() common.TicketRecord {
	return common.TicketRecord{
		TicketID:      "T1",
		CustomerEmail: "a@x.com",
		ProductName:   common.Ptr("GoPro"),
		Description:   common.Ptr("won't power on"),
		RootCause:     common.Ptr("Hardware"),
		Sentiment:     common.Ptr("Negative"),
	}
}

func TestIngest_Scenario(t *testing.T) {
	client, s, emb := setup(t)
	ctx := context.Background()

	res, err := client.Ingest(ctx, goPro())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !res.Created || res.Stale {
		t.Fatalf("expected fresh created ticket, got %+v", res)
	}

	st, _ := s.Stats(ctx)
	want := common.GraphStats{Customers: 1, Tickets: 1, Products: 1, RaisedEdges: 1, AboutEdges: 1, EmbeddedTotal: 1}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}

	q, _ := emb.GenerateEmbedding(ctx, []byte("power issue"))
	hits, err := s.QuerySimilar(ctx, q, 1)
	if err != nil {
		t.Fatalf("QuerySimilar: %v", err)
	}
	if len(hits) != 1 || hits[0].TicketID != "T1" {
		t.Fatalf("expected T1 as top hit, got %+v", hits)
	}
}

func TestIngest_Idempotent(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	if _, err := client.Ingest(ctx, goPro()); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	before, _ := s.Stats(ctx)
	view1, _ := s.GetTicket(ctx, "T1")

	res, err := client.Ingest(ctx, goPro())
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res.Created {
		t.Fatal("expected second ingest to update, not create")
	}
	after, _ := s.Stats(ctx)
	view2, _ := s.GetTicket(ctx, "T1")

	if before != after {
		t.Fatalf("expected unchanged counts, got %+v then %+v", before, after)
	}
	if view1.Content != view2.Content {
		t.Fatalf("expected identical content, got %q then %q", view1.Content, view2.Content)
	}
}

func TestIngest_LastRecordWins(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	for i, product := range []string{"GoPro", "Kindle", "Roomba"} {
		r := goPro()
		r.ProductName = common.Ptr(product)
		r.Status = common.Ptr(fmt.Sprintf("state-%d", i))
		if _, err := client.Ingest(ctx, r); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	st, _ := s.Stats(ctx)
	if st.Tickets != 1 || st.AboutEdges != 1 || st.Products != 3 {
		t.Fatalf("expected one ticket with one ABOUT edge and three products, got %+v", st)
	}
	view, _ := s.GetTicket(ctx, "T1")
	if view.ProductName != "Roomba" || common.Deref(view.Status) != "state-2" {
		t.Fatalf("expected last record to win, got product=%s status=%s", view.ProductName, common.Deref(view.Status))
	}
	if view.Stale {
		t.Fatal("expected embedding to match latest content")
	}
}

func TestIngest_SharedCustomer(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	a := goPro()
	b := goPro()
	b.TicketID = "T2"
	b.CustomerEmail = "A@X.com"
	for _, r := range []common.TicketRecord{a, b} {
		if _, err := client.Ingest(ctx, r); err != nil {
			t.Fatalf("ingest %s: %v", r.TicketID, err)
		}
	}

	st, _ := s.Stats(ctx)
	if st.Customers != 1 || st.Tickets != 2 || st.RaisedEdges != 2 {
		t.Fatalf("expected 1 customer, 2 tickets, 2 RAISED edges, got %+v", st)
	}
	for _, id := range []string{"T1", "T2"} {
		v, _ := s.GetTicket(ctx, id)
		if v.CustomerEmail != "a@x.com" {
			t.Fatalf("expected %s raised by a@x.com, got %s", id, v.CustomerEmail)
		}
	}
}

func TestIngest_NullDerivedFields(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	r := goPro()
	r.RootCause = nil
	r.Sentiment = nil
	if _, err := client.Ingest(ctx, r); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	v, _ := s.GetTicket(ctx, "T1")
	want := "Ticket T1 regarding GoPro. Customer: User. Description: won't power on. Root Cause: Unknown. Sentiment: Unknown."
	if v.Content != want {
		t.Fatalf("expected %q, got %q", want, v.Content)
	}
}

func TestIngest_InvalidRecord(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	_, err := client.Ingest(ctx, common.TicketRecord{CustomerEmail: "a@x.com"})
	if !errors.Is(err, common.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	st, _ := s.Stats(ctx)
	if st.Customers != 0 || st.Tickets != 0 {
		t.Fatalf("expected no partial write, got %+v", st)
	}
}

func TestIngest_EmbeddingFailureMarksStale(t *testing.T) {
	client, s, emb := setup(t)
	ctx := context.Background()

	emb.fail.Store(true)
	res, err := client.Ingest(ctx, goPro())
	if err != nil {
		t.Fatalf("expected ingestion to succeed without embedding, got %v", err)
	}
	if !res.Stale {
		t.Fatal("expected stale result")
	}

	q, _ := emb.Embedder.GenerateEmbedding(ctx, []byte("power issue"))
	hits, _ := s.QuerySimilar(ctx, q, 5)
	if len(hits) != 0 {
		t.Fatalf("expected stale ticket to be hidden, got %+v", hits)
	}

	emb.fail.Store(false)
	n, err := client.ReembedStale(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 re-embedded ticket, got n=%d err=%v", n, err)
	}
	hits, _ = s.QuerySimilar(ctx, q, 5)
	if len(hits) != 1 || hits[0].TicketID != "T1" {
		t.Fatalf("expected T1 after re-embedding, got %+v", hits)
	}
}

func TestIngest_ChangedContentWithoutEmbeddingIsStale(t *testing.T) {
	client, s, emb := setup(t)
	ctx := context.Background()

	if _, err := client.Ingest(ctx, goPro()); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	emb.fail.Store(true)
	same, _ := client.Ingest(ctx, goPro())
	if same.Stale {
		t.Fatal("expected unchanged content to keep its valid embedding")
	}

	changed := goPro()
	changed.Description = common.Ptr("screen cracked")
	res, _ := client.Ingest(ctx, changed)
	if !res.Stale {
		t.Fatal("expected changed content without new embedding to be stale")
	}
	st, _ := s.Stats(ctx)
	if st.StaleTickets != 1 {
		t.Fatalf("expected 1 stale ticket, got %d", st.StaleTickets)
	}
}

func TestIngest_RetriesStoreUnavailable(t *testing.T) {
	emb := &flakyEmbedder{Embedder: hash.New(dims)}
	mem := memory.New()
	_ = mem.EnsureSchema(context.Background(), common.EmbeddingSpec{Model: emb.Model(), Dimensions: dims})
	s := &unavailableStore{GraphStorage: mem}
	s.failures.Store(2)

	client := NewGraphClient(NewGraphClientParams{Store: s, Embedder: emb, MaxRetries: 3, RetryBackoff: -1})
	if _, err := client.Ingest(context.Background(), goPro()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if got := s.calls.Load(); got != 3 {
		t.Fatalf("expected 3 store calls, got %d", got)
	}

	s.failures.Store(10)
	s.calls.Store(0)
	_, err := client.Ingest(context.Background(), goPro())
	if !errors.Is(err, common.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := s.calls.Load(); got != 3 {
		t.Fatalf("expected bounded retries (3 calls), got %d", got)
	}
}

func TestIngestBatch_IsolatesFailures(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	records := []common.TicketRecord{
		goPro(),
		{TicketID: "", CustomerEmail: "b@x.com"},
		{TicketID: "T3", CustomerEmail: "c@x.com"},
		{TicketID: "T4"},
	}
	report := client.IngestBatch(ctx, records)

	if report.Total != 4 || len(report.Succeeded) != 2 || len(report.Failed) != 2 {
		t.Fatalf("expected 2 succeeded and 2 failed, got %+v", report)
	}
	for _, f := range report.Failed {
		if !errors.Is(&f, common.ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", f.Err)
		}
	}
	st, _ := s.Stats(ctx)
	if st.Tickets != 2 {
		t.Fatalf("expected 2 tickets, got %d", st.Tickets)
	}
}

func TestIngestBatch_DuplicateIDsLastWins(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	var records []common.TicketRecord
	for i := range 20 {
		r := goPro()
		r.Status = common.Ptr(fmt.Sprintf("s%02d", i))
		records = append(records, r)
	}
	report := client.IngestBatch(ctx, records)
	if len(report.Failed) != 0 {
		t.Fatalf("expected no failures, got %v", report.Errors)
	}
	v, _ := s.GetTicket(ctx, "T1")
	if common.Deref(v.Status) != "s19" {
		t.Fatalf("expected last status s19, got %s", common.Deref(v.Status))
	}
}

func TestIngestBatch_PaddedDuplicateIDsLastWins(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	var records []common.TicketRecord
	for i := range 20 {
		r := goPro()
		if i%2 == 1 {
			r.TicketID = " T1 "
		}
		r.Status = common.Ptr(fmt.Sprintf("s%02d", i))
		records = append(records, r)
	}
	report := client.IngestBatch(ctx, records)
	if len(report.Failed) != 0 {
		t.Fatalf("expected no failures, got %v", report.Errors)
	}
	v, _ := s.GetTicket(ctx, "T1")
	if common.Deref(v.Status) != "s19" {
		t.Fatalf("expected last status s19, got %s", common.Deref(v.Status))
	}
}

func TestIngest_ConcurrentReadersSeeWholeTickets(t *testing.T) {
	client, s, _ := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			v, err := s.GetTicket(ctx, "T1")
			if err != nil {
				continue
			}
			if v.Content == "" || v.CustomerEmail == "" {
				select {
				case errs <- fmt.Sprintf("partial ticket observed: %+v", v):
				default:
				}
				return
			}
		}
	}()

	for i := range 50 {
		r := goPro()
		r.Status = common.Ptr(fmt.Sprintf("s%d", i))
		if _, err := client.Ingest(ctx, r); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	select {
	case msg := <-errs:
		t.Fatal(msg)
	default:
	}
}
