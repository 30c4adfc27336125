package ollama

import (
	"math"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

// ResetMetrics clears all accumulated token and timing metrics to zero.
func (c *GraphOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	c.metrics = ai.ModelMetrics{}
	c.metricsLock.Unlock()
}

// GetMetrics returns the accumulated token usage and timing metrics since the last reset.
func (c *GraphOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *GraphOllamaClient) recordChat(m api.Metrics) {
	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  m.PromptEvalCount,
		OutputTokens: m.EvalCount,
		TotalTokens:  m.PromptEvalCount + m.EvalCount,
		DurationMs:   m.TotalDuration.Milliseconds(),
	})
}

func (c *GraphOllamaClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
	c.metrics.Requests++

	if c.metrics.DurationMs > 0 {
		tokensPerSecond := (float64(c.metrics.TotalTokens) * 1000.0) / float64(c.metrics.DurationMs)
		c.metrics.TokenPerSecond = float32(math.Round(tokensPerSecond*100) / 100)
	}
}
