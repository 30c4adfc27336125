package neo4j

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "constraint", err: &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed", Msg: "exists"}, want: common.ErrInvalidRecord},
		{name: "type", err: &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.TypeError"}, want: common.ErrInvalidRecord},
		{name: "transient", err: &neo4j.Neo4jError{Code: "Neo.TransientError.Transaction.DeadlockDetected"}, want: common.ErrStoreUnavailable},
		{name: "plain", err: errors.New("connection reset"), want: common.ErrStoreUnavailable},
		{name: "mapped", err: common.ErrTicketNotFound, want: common.ErrTicketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
	if mapError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestCosineFromScore(t *testing.T) {
	for score, want := range map[float64]float64{1: 1, 0.5: 0, 0: -1, 0.75: 0.5} {
		if got := cosineFromScore(score); math.Abs(got-want) > 1e-12 {
			t.Fatalf("score %v: expected %v, got %v", score, want, got)
		}
	}
}

func TestStaleTicketsCypher(t *testing.T) {
	if q := staleTicketsCypher(0); strings.Contains(q, "LIMIT") {
		t.Fatalf("expected no limit, got %q", q)
	}
	if q := staleTicketsCypher(25); !strings.HasSuffix(q, "LIMIT 25") {
		t.Fatalf("expected limit 25, got %q", q)
	}
}

func TestVectorIndexCypher(t *testing.T) {
	q := vectorIndexCypher(384)
	if !strings.Contains(q, "`vector.dimensions`: 384") || !strings.Contains(q, "'cosine'") {
		t.Fatalf("unexpected index statement %q", q)
	}
}

func TestRecordValues(t *testing.T) {
	rec := &neo4j.Record{
		Keys:   []string{"id", "n", "score", "stale", "missing"},
		Values: []any{"T1", int64(3), 0.5, true, nil},
	}
	if stringValue(rec, "id") != "T1" || intValue(rec, "n") != 3 || floatValue(rec, "score") != 0.5 || !boolValue(rec, "stale") {
		t.Fatal("unexpected record values")
	}
	if optionalString(rec, "missing") != nil || optionalString(rec, "unknown") != nil {
		t.Fatal("expected nil for missing values")
	}
	if p := optionalString(rec, "id"); p == nil || *p != "T1" {
		t.Fatal("expected pointer to T1")
	}
}

func TestVectorParam(t *testing.T) {
	if vectorParam(nil) != nil {
		t.Fatal("expected nil")
	}
	v, ok := vectorParam([]float32{0.5, 1}).([]float64)
	if !ok || len(v) != 2 || v[0] != 0.5 {
		t.Fatalf("unexpected vector %v", v)
	}
}

// TestGraphDBStorage_Integration runs against TICKETGRAPH_TEST_NEO4J_URI.
// All nodes of the database are deleted.
func TestGraphDBStorage_Integration(t *testing.T) {
	uri := os.Getenv("TICKETGRAPH_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("TICKETGRAPH_TEST_NEO4J_URI not set")
	}
	ctx := context.Background()
	s, err := New(ctx, Config{
		URI:      uri,
		Username: os.Getenv("TICKETGRAPH_TEST_NEO4J_USER"),
		Password: os.Getenv("TICKETGRAPH_TEST_NEO4J_PASSWORD"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(ctx)

	if err := s.exec(ctx, `MATCH (n) DETACH DELETE n`, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.exec(ctx, `DROP INDEX ticket_vectors IF EXISTS`, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.EnsureSchema(ctx, common.EmbeddingSpec{Model: "test", Dimensions: 2}); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := s.EnsureSchema(ctx, common.EmbeddingSpec{Model: "test", Dimensions: 3}); !errors.Is(err, common.ErrConfigurationMismatch) {
		t.Fatalf("expected ErrConfigurationMismatch, got %v", err)
	}

	upsert := func(email, product, content string, vec []float32) store.UpsertResult {
		t.Helper()
		res, err := s.UpsertTicket(ctx, store.TicketUpsert{
			Ticket: common.NormalizedTicket{
				ID:            "T1",
				CustomerEmail: email,
				CustomerName:  common.DefaultCustomerName,
				ProductName:   product,
			},
			Content:     content,
			ContentHash: store.HashContent(content),
			Embedding:   vec,
		})
		if err != nil {
			t.Fatalf("UpsertTicket: %v", err)
		}
		return res
	}

	if res := upsert("a@x.com", "GoPro", "c1", []float32{1, 0}); !res.Created || res.Stale {
		t.Fatalf("expected created fresh ticket, got %+v", res)
	}
	if res := upsert("b@x.com", "Kindle", "c2", nil); res.Created || !res.Stale {
		t.Fatalf("expected stale update, got %+v", res)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Tickets != 1 || st.RaisedEdges != 1 || st.AboutEdges != 1 || st.Customers != 2 || st.StaleTickets != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	stale, _ := s.StaleTickets(ctx, 0)
	if len(stale) != 1 || stale[0].ID != "T1" {
		t.Fatalf("expected T1 to be stale, got %+v", stale)
	}
	if ok, err := s.UpdateEmbedding(ctx, "T1", stale[0].ContentHash, []float32{0, 1}); err != nil || !ok {
		t.Fatalf("expected embedding update, got %v (%v)", ok, err)
	}

	hits, err := s.QuerySimilar(ctx, []float32{0, 1}, 3)
	if err != nil {
		t.Fatalf("QuerySimilar: %v", err)
	}
	if len(hits) != 1 || math.Abs(hits[0].Score-1) > 1e-6 {
		t.Fatalf("expected T1 with cosine 1, got %+v", hits)
	}
}
