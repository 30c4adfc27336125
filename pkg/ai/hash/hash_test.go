package hash

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedder_Deterministic(t *testing.T) {
	e := New(64)
	a, err := e.GenerateEmbedding(context.Background(), []byte("Router drops the WiFi connection"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	b, _ := e.GenerateEmbedding(context.Background(), []byte("router drops the wifi connection"))
	if len(a) != 64 {
		t.Fatalf("expected 64 dimensions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical vectors at %d, got %f and %f", i, a[i], b[i])
		}
	}
	if got := cosine(a, b); math.Abs(got-1) > 1e-6 {
		t.Fatalf("expected cosine 1, got %f", got)
	}
}

func TestEmbedder_SharedVocabularyRanksHigher(t *testing.T) {
	e := New(DefaultDimensions)
	ctx := context.Background()
	q, _ := e.GenerateEmbedding(ctx, []byte("wifi router connection problem"))
	near, _ := e.GenerateEmbedding(ctx, []byte("Ticket T1 regarding Router. Description: wifi connection drops."))
	far, _ := e.GenerateEmbedding(ctx, []byte("Ticket T2 regarding Camera. Description: battery swollen."))

	if cosine(q, near) <= cosine(q, far) {
		t.Fatalf("expected related text to score higher: near=%f far=%f", cosine(q, near), cosine(q, far))
	}
}

func TestEmbedder_EmptyInputIsZeroVector(t *testing.T) {
	v, err := New(8).GenerateEmbedding(context.Background(), []byte("  ...  "))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("expected zero at %d, got %f", i, x)
		}
	}
}

func TestEmbedder_ModelIncludesDimensions(t *testing.T) {
	if New(384).Model() == New(128).Model() {
		t.Fatal("expected model id to differ by dimensions")
	}
}

func TestEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(8).GenerateEmbedding(ctx, []byte("x")); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
