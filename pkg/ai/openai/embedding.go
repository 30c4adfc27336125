package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
)

var errNoEmbeddingClient = errors.New("openai: embedding endpoint not configured")

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model.
//
// Example:
//
//	embedding, err := client.GenerateEmbedding(ctx, []byte("router drops wifi"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println("Embedding length:", len(embedding))
func (c *GraphOpenAIClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(res))
	}
	return res[0], nil
}

// GenerateEmbeddings creates embeddings for multiple inputs in a single
// request. Blank inputs map to the zero vector without an API call.
func (c *GraphOpenAIClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	idxMap, stringsIn, out := normalizeEmbeddingInputs(inputs, c.dimensions)
	if len(stringsIn) == 0 {
		return out, nil
	}

	stringsOut, err := c.generateEmbeddingsForStrings(ctx, stringsIn)
	if err != nil {
		return nil, err
	}
	if len(stringsOut) != len(stringsIn) {
		return nil, fmt.Errorf("embedding result size mismatch: got %d want %d", len(stringsOut), len(stringsIn))
	}
	for i := range stringsOut {
		out[idxMap[i]] = stringsOut[i]
	}
	return out, nil
}

func normalizeEmbeddingInputs(inputs [][]byte, dim int) (idxMap []int, stringsIn []string, out [][]float32) {
	idxMap = make([]int, 0, len(inputs))
	stringsIn = make([]string, 0, len(inputs))
	out = make([][]float32, len(inputs))
	for i, in := range inputs {
		if len(strings.TrimSpace(string(in))) == 0 {
			out[i] = make([]float32, dim)
			continue
		}
		idxMap = append(idxMap, i)
		stringsIn = append(stringsIn, string(in))
	}
	return idxMap, stringsIn, out
}

// fitDimensions truncates or zero-pads v to dim values.
func fitDimensions(v []float64, dim int) []float32 {
	vec := make([]float32, dim)
	for i := 0; i < dim && i < len(v); i++ {
		vec[i] = float32(v[i])
	}
	return vec
}

func (c *GraphOpenAIClient) generateEmbeddingsForStrings(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.EmbeddingClient == nil {
		return nil, errNoEmbeddingClient
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: c.embeddingModel,
	}

	if err := c.embeddingLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.embeddingLock.Release(1)

	start := time.Now()
	response, err := c.EmbeddingClient.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: int(response.Usage.PromptTokens),
		TotalTokens: int(response.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	if len(response.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		dataIdx := int(embedding.Index)
		if dataIdx < 0 || dataIdx >= len(inputs) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		out[dataIdx] = fitDimensions(embedding.Embedding, c.dimensions)
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}
