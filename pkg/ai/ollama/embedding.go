package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. The result always has the
// configured number of dimensions; blank input maps to the zero vector.
func (c *GraphOllamaClient) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.dimensions), nil
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	}

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding response for model %s", c.embeddingModel)
	}

	out := make([]float32, c.dimensions)
	copy(out, res.Embeddings[0])
	return out, nil
}
