package store

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"

	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

// HashContent fingerprints ticket content. The store compares it with the
// hash an embedding was computed from to detect stale vectors.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type embeddingBatcher interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// GenerateEmbeddings embeds inputs, using one batched request when the
// embedder supports it and parallel single requests otherwise.
func GenerateEmbeddings(
	ctx context.Context,
	embedder ai.Embedder,
	inputs [][]byte,
	parallel int,
) ([][]float32, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	if b, ok := embedder.(embeddingBatcher); ok {
		return b.GenerateEmbeddings(ctx, inputs)
	}

	out := make([][]float32, len(inputs))

	eg, ectx := errgroup.WithContext(ctx)
	if parallel > 0 {
		eg.SetLimit(parallel)
	}
	for i := range inputs {
		eg.Go(func() error {
			emb, err := embedder.GenerateEmbedding(ectx, inputs[i])
			if err != nil {
				return err
			}
			out[i] = emb
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// if either is the zero vector or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SortScored orders hits by score descending, then ticket id ascending.
func SortScored(hits []common.ScoredTicket) {
	slices.SortStableFunc(hits, func(a, b common.ScoredTicket) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.TicketID, b.TicketID)
	})
}

// SortBuckets orders buckets by count descending, then key ascending, and
// truncates to limit when limit > 0.
func SortBuckets(buckets []common.Bucket, limit int) []common.Bucket {
	slices.SortFunc(buckets, func(a, b common.Bucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if limit > 0 && len(buckets) > limit {
		buckets = buckets[:limit]
	}
	return buckets
}

// CheckDimensions fails with ErrInvalidRecord when vec is non-nil and
// not of length dim.
func CheckDimensions(vec []float32, dim int) error {
	if vec != nil && dim > 0 && len(vec) != dim {
		return fmt.Errorf("%w: embedding has %d dimensions, index expects %d",
			common.ErrInvalidRecord, len(vec), dim)
	}
	return nil
}
