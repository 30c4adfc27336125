// Package extract derives semantic fields (issue summary, root cause and
// sentiment) from ticket descriptions with a language model.
//
// Extraction never drops a record: every call returns the record, enriched
// when classification succeeded and unchanged otherwise, together with the
// classification error if there was one.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/metrics"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	RootCauses = []string{"Hardware", "Software", "Network", "User"}
	Sentiments = []string{"Positive", "Neutral", "Negative"}
)

const maxSummaryWords = 5

type classifyResponse struct {
	IssueSummary string `json:"issue_summary" jsonschema_description:"The issue in at most five words"`
	RootCause    string `json:"root_cause" jsonschema_description:"One of Hardware, Software, Network, User"`
	Sentiment    string `json:"sentiment" jsonschema_description:"One of Positive, Neutral, Negative"`
}

// Fields are the derived values of one classification. Values the model
// did not return or returned outside the allowed sets are nil.
type Fields struct {
	IssueSummary *string `json:"issue_summary,omitempty"`
	RootCause    *string `json:"root_cause,omitempty"`
	Sentiment    *string `json:"sentiment,omitempty"`
}

func (f Fields) complete() bool {
	return f.IssueSummary != nil && f.RootCause != nil && f.Sentiment != nil
}

// Result is the outcome of enriching one record. Record is always usable;
// Err wraps common.ErrClassificationUnavailable when the derived fields
// could not be computed.
type Result struct {
	Record common.TicketRecord
	Err    error
}

type Extractor struct {
	client   ai.GraphAIClient
	limiter  *rate.Limiter
	parallel int
	timeout  time.Duration
}

// NewExtractorParams configures an Extractor. RatePerSecond <= 0 disables
// rate limiting.
type NewExtractorParams struct {
	Client        ai.GraphAIClient
	RatePerSecond float64
	Parallel      int
	Timeout       time.Duration
}

func NewExtractor(params NewExtractorParams) *Extractor {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if params.RatePerSecond > 0 {
		burst := max(1, int(params.RatePerSecond))
		limiter = rate.NewLimiter(rate.Limit(params.RatePerSecond), burst)
	}
	parallel := params.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Extractor{
		client:   params.Client,
		limiter:  limiter,
		parallel: parallel,
		timeout:  timeout,
	}
}

// Classify asks the extraction model for the derived fields of a ticket
// description. The model runs at temperature 0.
func (e *Extractor) Classify(ctx context.Context, description string) (Fields, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Fields{}, fmt.Errorf("%w: empty description", common.ErrClassificationUnavailable)
	}
	if e.client == nil {
		return Fields{}, fmt.Errorf("%w: no model configured", common.ErrClassificationUnavailable)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return Fields{}, fmt.Errorf("%w: %v", common.ErrClassificationUnavailable, err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res classifyResponse
	err := e.client.GenerateCompletionWithFormat(
		cctx,
		"classify_ticket",
		"Classify a customer support ticket by issue, root cause and sentiment.",
		fmt.Sprintf(ai.ExtractPrompt, description),
		&res,
		ai.WithTemperature(0),
	)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: %v", common.ErrClassificationUnavailable, err)
	}

	return Fields{
		IssueSummary: summary(res.IssueSummary),
		RootCause:    oneOf(res.RootCause, RootCauses),
		Sentiment:    oneOf(res.Sentiment, Sentiments),
	}, nil
}

// Enrich fills the derived fields of r. Fields already present on the
// record are kept; a record carrying all of them is returned untouched.
func (e *Extractor) Enrich(ctx context.Context, r common.TicketRecord) Result {
	have := Fields{IssueSummary: r.IssueSummary, RootCause: r.RootCause, Sentiment: r.Sentiment}
	if have.complete() {
		metrics.Classifications.WithLabelValues("skipped").Inc()
		return Result{Record: r}
	}

	fields, err := e.Classify(ctx, common.Deref(r.Description))
	if err != nil {
		metrics.Classifications.WithLabelValues("failed").Inc()
		logger.Warn("[Extract] Classification failed, keeping record unenriched",
			"ticket_id", r.TicketID, "err", err)
		return Result{Record: r, Err: &common.RecordError{TicketID: r.TicketID, Err: err}}
	}

	if r.IssueSummary == nil {
		r.IssueSummary = fields.IssueSummary
	}
	if r.RootCause == nil {
		r.RootCause = fields.RootCause
	}
	if r.Sentiment == nil {
		r.Sentiment = fields.Sentiment
	}

	if fields.complete() {
		metrics.Classifications.WithLabelValues("ok").Inc()
	} else {
		metrics.Classifications.WithLabelValues("partial").Inc()
		logger.Debug("[Extract] Model returned values outside the allowed sets", "ticket_id", r.TicketID)
	}
	return Result{Record: r}
}

// EnrichBatch enriches records concurrently. The result at index i
// belongs to records[i].
func (e *Extractor) EnrichBatch(ctx context.Context, records []common.TicketRecord) []Result {
	results := make([]Result, len(records))

	var failed int
	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(e.parallel)
	for i := range records {
		eg.Go(func() error {
			results[i] = e.Enrich(ctx, records[i])
			if results[i].Err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	logger.Info("[Extract] Batch enriched", "total", len(records), "failed", failed)
	return results
}

// Records returns the records of results in order.
func Records(results []Result) []common.TicketRecord {
	out := make([]common.TicketRecord, len(results))
	for i, r := range results {
		out[i] = r.Record
	}
	return out
}

func summary(s string) *string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return nil
	}
	if len(words) > maxSummaryWords {
		words = words[:maxSummaryWords]
	}
	v := strings.Join(words, " ")
	return &v
}

func oneOf(s string, allowed []string) *string {
	s = strings.Trim(strings.TrimSpace(s), ".")
	for _, a := range allowed {
		if strings.EqualFold(s, a) {
			v := a
			return &v
		}
	}
	return nil
}
