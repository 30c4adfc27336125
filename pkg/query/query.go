package query

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
)

// ErrNoQuestion is returned when a conversation has no user message to
// answer.
var ErrNoQuestion = errors.New("no question in conversation")

// Answer is a synthesized reply together with the ids of the tickets it
// cites. Sources only contains ids that were part of the retrieved context.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
}

// GraphQueryClient answers questions over the ticket graph. Retrieve
// returns the raw similarity hits; QueryLocal and QueryStreamLocal ground a
// language model answer in them.
type GraphQueryClient interface {
	Retrieve(
		ctx context.Context,
		text string,
		k int,
	) ([]common.ScoredTicket, error)

	QueryLocal(
		ctx context.Context,
		msgs []ai.ChatMessage,
	) (Answer, error)
	QueryStreamLocal(
		ctx context.Context,
		msgs []ai.ChatMessage,
	) (<-chan ai.StreamEvent, error)
}
