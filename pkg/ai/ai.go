package ai

import (
	"context"
)

// ChatMessage represents a single message in a chat conversation.
//
// Role must be one of:
//   - "user"      → a user-provided message
//   - "assistant" → a message from the AI assistant
type ChatMessage struct {
	Message string `json:"message" validate:"required"`
	Role    string `json:"role" validate:"required,oneof=user assistant"`
}

// GenerateOptions holds configuration for AI generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
	Thinking      string   // Extended thinking mode configuration
}

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	Requests       int     `json:"requests"`
	DurationMs     int64   `json:"duration_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// StreamEvent represents an event in a streaming response
type StreamEvent struct {
	Type      string // "step" | "content" | "sources" | "error"
	Step      string // step name (when Type="step")
	Content   string // text content (when Type="content")
	Reasoning string // reasoning content (when Step="thinking")
	Sources   []string
}

// GenerateOption is a functional option for configuring AI generation requests.
type GenerateOption func(*GenerateOptions)

func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature sets the sampling temperature. Extraction runs at 0 so
// the same description classifies the same way on every run.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

func WithThinking(thinking string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Thinking = thinking
	}
}

// ApplyOptions folds opts over the zero GenerateOptions.
func ApplyOptions(opts ...GenerateOption) GenerateOptions {
	var o GenerateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Embedder turns text into a fixed-size vector. Model names the vector
// space; vectors from different models are never compared.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	Model() string
	Dimensions() int
}

// GraphAIClient defines the language model operations used to enrich
// tickets and to answer questions over the ticket graph.
type GraphAIClient interface {
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	GenerateChat(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (string, error)
	GenerateChatStream(
		ctx context.Context,
		messages []ChatMessage,
		opts ...GenerateOption,
	) (<-chan StreamEvent, error)

	LoadModel(ctx context.Context, opts ...GenerateOption) error
	ResetMetrics()
	GetMetrics() ModelMetrics
}
