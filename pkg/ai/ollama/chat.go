package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/ollama/ollama/api"
)

const (
	baseContextTokens    = 200
	defaultContextWindow = 4096
)

func (c *GraphOllamaClient) newRequest(
	defaultModel string,
	temperature float64,
	messages []ai.ChatMessage,
	stream bool,
	opts []ai.GenerateOption,
) *api.ChatRequest {
	options := ai.GenerateOptions{
		Model:       defaultModel,
		Temperature: temperature,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+len(messages))
	tokens := baseContextTokens
	for _, sys := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sys})
		tokens += ai.EstimateTokens(sys)
	}
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = "user"
		}
		msgs = append(msgs, api.Message{Role: role, Content: m.Message})
		tokens += ai.EstimateTokens(m.Message)
	}

	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}
	if options.Thinking != "" {
		req.Think = &api.ThinkValue{Value: options.Thinking}
	}
	// ollama truncates prompts silently beyond num_ctx
	if tokens > defaultContextWindow {
		req.Options["num_ctx"] = tokens
	}
	return req
}

func (c *GraphOllamaClient) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.reqLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", err
	}

	c.recordChat(final.Metrics)
	return final.Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *GraphOllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	req := c.newRequest(c.extractionModel, 0.3, []ai.ChatMessage{{Role: "user", Message: prompt}}, false, opts)
	return c.chat(ctx, req)
}

// GenerateCompletionWithFormat enforces a JSON schema and unmarshals into out.
func (c *GraphOllamaClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	rv := reflect.ValueOf(out)
	if out == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("out must be a non-nil pointer")
	}

	formatBytes, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return err
	}

	req := c.newRequest(c.extractionModel, 0.1, []ai.ChatMessage{{Role: "user", Message: prompt}}, false, opts)
	req.Format = json.RawMessage(formatBytes)

	content, err := c.chat(ctx, req)
	if err != nil {
		return err
	}
	return ai.UnmarshalFlexible(content, out)
}

// GenerateChat sends a multi-turn conversation and returns assistant text.
func (c *GraphOllamaClient) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	return c.chat(ctx, c.newRequest(c.answerModel, 0.2, messages, false, opts))
}

// GenerateChatStream streams the assistant reply incrementally.
func (c *GraphOllamaClient) GenerateChatStream(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	req := c.newRequest(c.answerModel, 0.2, messages, true, opts)

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	out := make(chan ai.StreamEvent, 16)

	go func() {
		defer c.reqLock.Release(1)
		defer close(out)

		err := c.Client.Chat(ctx, req, func(cr api.ChatResponse) error {
			if s := cr.Message.Thinking; s != "" {
				select {
				case out <- ai.StreamEvent{Type: "step", Step: "thinking", Reasoning: s}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if s := cr.Message.Content; s != "" {
				select {
				case out <- ai.StreamEvent{Type: "content", Content: s}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if cr.Done {
				c.recordChat(cr.Metrics)
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			out <- ai.StreamEvent{Type: "error", Content: err.Error()}
		}
	}()

	return out, nil
}

// LoadModel asks the server to load the answer model into memory so the
// first question does not pay the load time.
func (c *GraphOllamaClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	options := ai.ApplyOptions(append([]ai.GenerateOption{ai.WithModel(c.answerModel)}, opts...)...)
	stream := false
	req := &api.GenerateRequest{Model: options.Model, Stream: &stream}
	return c.Client.Generate(ctx, req, func(api.GenerateResponse) error { return nil })
}
