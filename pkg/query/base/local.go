package base

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/query"
)

// buildContext renders hits as the answer context, best hit first, within
// the token budget. The best hit is always included, cut down to the
// budget if needed; later hits that do not fit are skipped. It returns the
// ids that made it in.
func (c *BaseQueryClient) buildContext(hits []common.ScoredTicket) (string, map[string]struct{}) {
	var b strings.Builder
	used := make(map[string]struct{}, len(hits))
	limited := c.options.MaxContextTokens > 0
	budget := c.options.MaxContextTokens

	for i, h := range hits {
		entry := fmt.Sprintf("[[%s]] %s\n", h.TicketID, h.Content)
		tokens := ai.EstimateTokens(entry)
		if limited && tokens > budget {
			if i > 0 {
				continue
			}
			entry = fmt.Sprintf("[[%s]] %s\n", h.TicketID, truncateRunes(h.Content, budget, tokens))
			tokens = budget
		}
		budget -= tokens
		b.WriteString(entry)
		used[h.TicketID] = struct{}{}
	}

	ids := make([]string, 0, len(used))
	for _, h := range hits {
		if _, ok := used[h.TicketID]; ok {
			ids = append(ids, h.TicketID)
		}
	}
	query.RecordContextTicketIDs(c.options.Tracer, ids...)

	return strings.TrimSpace(b.String()), used
}

// truncateRunes keeps the share budget/tokens of s, at least one rune.
func truncateRunes(s string, budget, tokens int) string {
	runes := []rune(s)
	keep := len(runes) * max(budget, 1) / max(tokens, 1)
	keep = max(min(keep, len(runes)), min(1, len(runes)))
	return string(runes[:keep])
}

func lastQuestion(msgs []ai.ChatMessage) (string, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" && strings.TrimSpace(msgs[i].Message) != "" {
			return msgs[i].Message, nil
		}
	}
	return "", query.ErrNoQuestion
}

// QueryLocal answers the last user message of msgs. It retrieves the top
// tickets for the question, puts them into the answer prompt and returns
// the reply with the ticket ids it cites. If no ticket matches, it returns
// a "no data" response rather than hallucinating.
func (c *BaseQueryClient) QueryLocal(
	ctx context.Context,
	msgs []ai.ChatMessage,
) (query.Answer, error) {
	question, err := lastQuestion(msgs)
	if err != nil {
		return query.Answer{}, err
	}

	hits, err := c.Retrieve(ctx, question, c.options.TopK)
	if err != nil {
		return query.Answer{}, err
	}

	context, used := c.buildContext(hits)
	if context == "" {
		text, err := c.generateNoDataResponse(ctx, question)
		return query.Answer{Text: text, Sources: []string{}}, err
	}

	resp, err := c.aiClient.GenerateChat(ctx, msgs, c.generateOptions(fmt.Sprintf(ai.AnswerPrompt, context))...)
	if err != nil {
		return query.Answer{}, fmt.Errorf("failed to generate answer from AI: %w", err)
	}

	resp = query.NormalizeCitations(resp)
	sources := query.ExtractCitations(resp, used)
	query.RecordCitedTicketIDs(c.options.Tracer, sources...)

	return query.Answer{Text: resp, Sources: sources}, nil
}

// QueryStreamLocal is the streaming variant of QueryLocal. Retrieval runs
// before the call returns, so retrieval errors are reported directly. The
// stream emits a "step" event, content events and finally a "sources"
// event with the cited ticket ids.
func (c *BaseQueryClient) QueryStreamLocal(
	ctx context.Context,
	msgs []ai.ChatMessage,
) (<-chan ai.StreamEvent, error) {
	question, err := lastQuestion(msgs)
	if err != nil {
		return nil, err
	}

	hits, err := c.Retrieve(ctx, question, c.options.TopK)
	if err != nil {
		return nil, err
	}
	context, used := c.buildContext(hits)

	out := make(chan ai.StreamEvent, 10)
	send := func(ev ai.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		if !send(ai.StreamEvent{Type: "step", Step: "db_query"}) {
			return
		}

		// If no relevant context found, generate a "no data" response instead of hallucinating
		if context == "" {
			noDataResp, _ := c.generateNoDataResponse(ctx, question)
			if send(ai.StreamEvent{Type: "content", Content: noDataResp}) {
				send(ai.StreamEvent{Type: "sources", Sources: []string{}})
			}
			return
		}

		resp, err := c.aiClient.GenerateChatStream(ctx, msgs, c.generateOptions(fmt.Sprintf(ai.AnswerPrompt, context))...)
		if err != nil {
			send(ai.StreamEvent{Type: "error", Content: err.Error()})
			return
		}

		var parser query.StreamCitationParser
		seen := make(map[string]struct{})
		sources := make([]string, 0)
		noop := func(string) error { return nil }
		cite := func(id string) error {
			if _, ok := used[id]; !ok {
				return nil
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				sources = append(sources, id)
			}
			return nil
		}

		for event := range resp {
			if event.Type == "content" {
				_ = parser.Consume(event.Content, noop, cite)
			}
			if !send(event) {
				return
			}
		}

		query.RecordCitedTicketIDs(c.options.Tracer, sources...)
		send(ai.StreamEvent{Type: "sources", Sources: sources})
	}()

	return out, nil
}
