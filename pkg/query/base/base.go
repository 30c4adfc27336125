package base

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/query"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"
)

const (
	defaultTopK             = 5
	defaultTimeout          = 10 * time.Second
	defaultMaxContextTokens = 6000
	specCheckInterval       = time.Minute
)

type queryOptions struct {
	SystemPrompts    []string
	Model            string
	Thinking         string
	TopK             int
	Timeout          time.Duration
	MaxContextTokens int
	Tracer           query.Tracer
}

// QueryOption is a functional option for configuring query behavior.
type QueryOption func(*queryOptions)

// WithSystemPrompts returns a QueryOption that appends additional system
// prompts to guide the AI's response generation.
func WithSystemPrompts(prompts ...string) QueryOption {
	return func(o *queryOptions) {
		o.SystemPrompts = append(o.SystemPrompts, prompts...)
	}
}

// WithModel returns a QueryOption that specifies which AI model to use
// for generating responses.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) {
		o.Model = model
	}
}

// WithThinking returns a QueryOption that enables extended thinking mode,
// allowing the AI to reason through complex queries before responding.
func WithThinking(thinking string) QueryOption {
	return func(o *queryOptions) {
		o.Thinking = thinking
	}
}

// WithTopK sets how many tickets are retrieved as answer context.
func WithTopK(k int) QueryOption {
	return func(o *queryOptions) {
		o.TopK = k
	}
}

// WithTimeout bounds embedding and vector search of a single retrieval.
func WithTimeout(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.Timeout = d
	}
}

// WithMaxContextTokens caps the size of the ticket context put into the
// answer prompt. Lower ranked tickets are dropped first.
func WithMaxContextTokens(n int) QueryOption {
	return func(o *queryOptions) {
		o.MaxContextTokens = n
	}
}

func WithTracer(t query.Tracer) QueryOption {
	return func(o *queryOptions) {
		o.Tracer = t
	}
}

// specGuard remembers a successful embedding spec check for a while so
// that not every retrieval reads the graph metadata.
type specGuard struct {
	mu        sync.Mutex
	checkedAt time.Time
}

// BaseQueryClient retrieves tickets by vector similarity and grounds
// language model answers in them.
type BaseQueryClient struct {
	aiClient      ai.GraphAIClient
	embedder      ai.Embedder
	storageClient store.GraphStorage
	options       queryOptions
	guard         *specGuard
}

// NewGraphQueryClient creates a new BaseQueryClient. The embedder must be
// the one the graph was built with; Retrieve fails with
// common.ErrConfigurationMismatch otherwise.
//
// Example:
//
//	client := base.NewGraphQueryClient(aiClient, embedder, storageClient, nil)
//	hits, err := client.Retrieve(ctx, "power issue", 5)
func NewGraphQueryClient(
	aiC ai.GraphAIClient,
	emb ai.Embedder,
	s store.GraphStorage,
	opts []QueryOption,
) *BaseQueryClient {
	c := BaseQueryClient{
		aiClient:      aiC,
		embedder:      emb,
		storageClient: s,
		options: queryOptions{
			TopK:             defaultTopK,
			Timeout:          defaultTimeout,
			MaxContextTokens: defaultMaxContextTokens,
		},
		guard: &specGuard{},
	}

	for _, o := range opts {
		o(&c.options)
	}
	if c.options.TopK <= 0 {
		c.options.TopK = defaultTopK
	}
	if c.options.Timeout <= 0 {
		c.options.Timeout = defaultTimeout
	}

	return &c
}

// With returns a copy of c with opts applied on top of its options. The
// copy shares clients and the spec check with c, so it is cheap to create
// one per request, e.g. to attach a request scoped tracer.
func (c *BaseQueryClient) With(opts ...QueryOption) *BaseQueryClient {
	cp := *c
	cp.options.SystemPrompts = append([]string(nil), c.options.SystemPrompts...)
	for _, o := range opts {
		o(&cp.options)
	}
	return &cp
}

func (c *BaseQueryClient) generateOptions(systemPrompt string) []ai.GenerateOption {
	systemPrompts := []string{systemPrompt}
	if len(c.options.SystemPrompts) > 0 {
		systemPrompts = append(systemPrompts, c.options.SystemPrompts...)
	}

	generateOpts := []ai.GenerateOption{
		ai.WithSystemPrompts(systemPrompts...),
	}
	if c.options.Model != "" {
		generateOpts = append(generateOpts, ai.WithModel(c.options.Model))
	}
	if c.options.Thinking != "" {
		generateOpts = append(generateOpts, ai.WithThinking(c.options.Thinking))
	}
	return generateOpts
}

// generateNoDataResponse generates a response in the user's language when no
// relevant context is found in the knowledge base
func (c *BaseQueryClient) generateNoDataResponse(ctx context.Context, question string) (string, error) {
	prompt := fmt.Sprintf(ai.NoDataPrompt, question)
	res, err := c.aiClient.GenerateCompletion(ctx, prompt)
	if err != nil {
		logger.Error("[Query] Failed to generate no data response", "err", err)
		return "There was a server error, please try again later.", err
	}

	return res, nil
}
