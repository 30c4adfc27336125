package openai

import (
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

const (
	defaultDimensions = 384
	defaultParallel   = 4
	defaultTimeout    = 2 * time.Minute
)

// GraphOpenAIClient talks to OpenAI compatible endpoints (OpenAI, Groq,
// vLLM, LocalAI). Embeddings and chat may live behind different base URLs
// and keys.
//
// A GraphOpenAIClient should be created using NewGraphOpenAIClient.
type GraphOpenAIClient struct {
	embeddingModel  string
	extractionModel string
	answerModel     string
	dimensions      int
	timeout         time.Duration

	chatLock      *semaphore.Weighted
	embeddingLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewGraphOpenAIClientParams defines the configuration parameters for
// creating a new GraphOpenAIClient.
//
// ExtractionModel classifies ticket descriptions, AnswerModel writes
// answers over retrieved tickets. Dimensions is the fixed size every
// returned embedding is padded or truncated to.
type NewGraphOpenAIClientParams struct {
	EmbeddingModel  string
	ExtractionModel string
	AnswerModel     string
	Dimensions      int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	ParallelRequests int
	Timeout          time.Duration
}

// NewGraphOpenAIClient creates a client from params. Endpoints without a
// key stay nil and fail on use.
//
// Example:
//
//	client := openai.NewGraphOpenAIClient(openai.NewGraphOpenAIClientParams{
//		EmbeddingModel:  "text-embedding-3-small",
//		ExtractionModel: "llama-3.1-8b-instant",
//		AnswerModel:     "llama-3.3-70b-versatile",
//		Dimensions:      384,
//		EmbeddingKey:    os.Getenv("OPENAI_API_KEY"),
//		ChatURL:         "https://api.groq.com/openai/v1",
//		ChatKey:         os.Getenv("GROQ_API_KEY"),
//	})
func NewGraphOpenAIClient(
	params NewGraphOpenAIClientParams,
) *GraphOpenAIClient {
	dim := params.Dimensions
	if dim <= 0 {
		dim = defaultDimensions
	}
	parallel := params.ParallelRequests
	if parallel <= 0 {
		parallel = defaultParallel
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &GraphOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		extractionModel: params.ExtractionModel,
		answerModel:     params.AnswerModel,
		dimensions:      dim,
		timeout:         timeout,

		chatLock:      semaphore.NewWeighted(int64(parallel)),
		embeddingLock: semaphore.NewWeighted(int64(parallel)),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(2),
	}

	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

// Model reports the embedding model. It is recorded in the graph next to
// the vectors.
func (c *GraphOpenAIClient) Model() string {
	return "openai:" + c.embeddingModel
}

func (c *GraphOpenAIClient) Dimensions() int {
	return c.dimensions
}

func (c *GraphOpenAIClient) modifyMetrics(m ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += m.InputTokens
	c.metrics.OutputTokens += m.OutputTokens
	c.metrics.TotalTokens += m.TotalTokens
	c.metrics.DurationMs += m.DurationMs
	c.metrics.Requests++
	if c.metrics.DurationMs > 0 {
		c.metrics.TokenPerSecond = float32(c.metrics.OutputTokens) / (float32(c.metrics.DurationMs) / 1000)
	}
}

func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}
