// Package hash provides an offline embedder based on feature hashing.
//
// Every lower-cased word and word bigram of the input is hashed with
// FNV-1a into one of Dimensions buckets; the hash also picks the sign.
// The resulting vector is L2-normalized, so texts sharing vocabulary get a
// positive cosine similarity and identical texts always map to the same
// vector. It needs no network and is used for tests, local development and
// as a fallback when no model endpoint is configured.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

const (
	ModelName         = "hash:fnv1a"
	DefaultDimensions = 384
)

type Embedder struct {
	dimensions int
}

func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

func (e *Embedder) Model() string {
	return ModelName + ":" + strconv.Itoa(e.dimensions)
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

func (e *Embedder) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float64, e.dimensions)
	words := Tokenize(string(input))
	for i, w := range words {
		e.add(vec, w, 1)
		if i > 0 {
			e.add(vec, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *Embedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize splits s into lower-cased runs of letters and digits.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
