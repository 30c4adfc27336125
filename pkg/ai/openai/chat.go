package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
)

var errNoChatClient = errors.New("openai: chat endpoint not configured")

func (c *GraphOpenAIClient) options(defaultModel string, temperature float64, opts []ai.GenerateOption) ai.GenerateOptions {
	options := ai.GenerateOptions{
		Model:       defaultModel,
		Temperature: temperature,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

func buildMessages(options ai.GenerateOptions, messages []ai.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(options.SystemPrompts)+len(messages))
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, openai.SystemMessage(sp))
	}
	for _, message := range messages {
		switch message.Role {
		case "user":
			msgs = append(msgs, openai.UserMessage(message.Message))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(message.Message))
		}
	}
	return msgs
}

func newBody(options ai.GenerateOptions, msgs []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	body := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(options.Model),
		Messages:    msgs,
		Temperature: openai.Float(options.Temperature),
	}
	if options.Thinking != "" {
		// reasoning models only accept the default temperature
		body.Temperature = openai.Float(1.0)
		body.ReasoningEffort = shared.ReasoningEffort(options.Thinking)
	}
	return body
}

func (c *GraphOpenAIClient) complete(ctx context.Context, body openai.ChatCompletionNewParams) (string, error) {
	if c.ChatClient == nil {
		return "", errNoChatClient
	}

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.chatLock.Acquire(rCtx, 1); err != nil {
		return "", err
	}
	defer c.chatLock.Release(1)

	start := time.Now()
	response, err := c.ChatClient.Chat.Completions.New(rCtx, body)
	if err != nil {
		return "", err
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  int(response.Usage.PromptTokens),
		OutputTokens: int(response.Usage.CompletionTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
	})

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response from model")
	}
	return response.Choices[0].Message.Content, nil
}

// GenerateCompletion sends a single-turn prompt to the extraction model and
// returns the generated completion as plain text.
//
// Example:
//
//	resp, err := client.GenerateCompletion(ctx, "Summarize this ticket...")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(resp)
func (c *GraphOpenAIClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := c.options(c.extractionModel, 0.3, opts)
	msgs := buildMessages(options, []ai.ChatMessage{{Role: "user", Message: prompt}})
	return c.complete(ctx, newBody(options, msgs))
}

// GenerateCompletionWithFormat sends a prompt to the extraction model and
// unmarshals the reply into out, using the JSON schema of out to enforce
// the structure.
func (c *GraphOpenAIClient) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := c.options(c.extractionModel, 0.1, opts)
	msgs := buildMessages(options, []ai.ChatMessage{{Role: "user", Message: prompt}})

	body := newBody(options, msgs)
	body.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: openai.String(description),
				Schema:      ai.GenerateSchema(out),
				Strict:      openai.Bool(true),
			},
		},
	}

	message, err := c.complete(ctx, body)
	if err != nil {
		return err
	}
	if message == "" {
		return fmt.Errorf("empty response from model")
	}
	return ai.UnmarshalFlexible(message, out)
}

// GenerateChat sends a multi-turn conversation to the answer model and
// returns the assistant's reply as plain text.
//
// Example:
//
//	msgs := []ai.ChatMessage{
//		{Role: "user", Message: "Which products fail most?"},
//	}
//	resp, err := client.GenerateChat(ctx, msgs, ai.WithSystemPrompts(system))
func (c *GraphOpenAIClient) GenerateChat(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (string, error) {
	options := c.options(c.answerModel, 0.2, opts)
	return c.complete(ctx, newBody(options, buildMessages(options, messages)))
}

// GenerateChatStream sends a multi-turn conversation to the answer model
// and streams the reply. The channel is closed when the stream ends or the
// context is canceled. A failed stream ends with an event of Type "error".
func (c *GraphOpenAIClient) GenerateChatStream(
	ctx context.Context,
	messages []ai.ChatMessage,
	opts ...ai.GenerateOption,
) (<-chan ai.StreamEvent, error) {
	if c.ChatClient == nil {
		return nil, errNoChatClient
	}

	options := c.options(c.answerModel, 0.2, opts)
	body := newBody(options, buildMessages(options, messages))
	body.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	if err := c.chatLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	start := time.Now()
	stream := c.ChatClient.Chat.Completions.NewStreaming(ctx, body)
	contentChan := make(chan ai.StreamEvent, 10)

	go func() {
		defer c.chatLock.Release(1)
		defer close(contentChan)
		defer stream.Close()

		send := func(ev ai.StreamEvent) bool {
			select {
			case contentChan <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		acc := openai.ChatCompletionAccumulator{}
		contentStarted := false

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}

			if !contentStarted {
				if field, ok := chunk.Choices[0].Delta.JSON.ExtraFields["reasoning"]; ok && field.Raw() != "" {
					var reasoning string
					if err := json.Unmarshal([]byte(field.Raw()), &reasoning); err == nil && reasoning != "" {
						if !send(ai.StreamEvent{Type: "step", Step: "thinking", Reasoning: reasoning}) {
							return
						}
					}
				}
			}

			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				contentStarted = true
				if !send(ai.StreamEvent{Type: "content", Content: delta}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(ai.StreamEvent{Type: "error", Content: err.Error()})
		}

		c.modifyMetrics(ai.ModelMetrics{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:  int(acc.Usage.TotalTokens),
			DurationMs:   time.Since(start).Milliseconds(),
		})
	}()

	return contentChan, nil
}

// LoadModel is a no-op for OpenAI as models are loaded on-demand.
func (c *GraphOpenAIClient) LoadModel(ctx context.Context, opts ...ai.GenerateOption) error {
	return nil
}
