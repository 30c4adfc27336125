package query

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventRetrievedTicketIDs TraceEventKind = "retrieved_ticket_ids"
	TraceEventContextTicketIDs   TraceEventKind = "context_ticket_ids"
	TraceEventCitedTicketIDs     TraceEventKind = "cited_ticket_ids"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	TicketIDs  []string
	DurationMs int64
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordRetrievedTicketIDs(t Tracer, durationMs int64, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventRetrievedTicketIDs, TicketIDs: ids, DurationMs: durationMs})
}

func RecordContextTicketIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventContextTicketIDs, TicketIDs: ids})
}

func RecordCitedTicketIDs(t Tracer, ids ...string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCitedTicketIDs, TicketIDs: ids})
}

// QueryTrace collects which tickets were retrieved, which made it into the
// prompt context and which the answer cited.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	retrieved map[string]struct{}
	context   map[string]struct{}
	cited     map[string]struct{}
	retrieval int64
}

type QueryTraceSnapshot struct {
	RetrievedTicketIDs []string `json:"retrieved_ticket_ids"`
	ContextTicketIDs   []string `json:"context_ticket_ids"`
	CitedTicketIDs     []string `json:"cited_ticket_ids"`
	RetrievalMs        int64    `json:"retrieval_ms"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		retrieved: make(map[string]struct{}),
		context:   make(map[string]struct{}),
		cited:     make(map[string]struct{}),
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var set map[string]struct{}
	switch event.Kind {
	case TraceEventRetrievedTicketIDs:
		set = t.retrieved
		t.retrieval += event.DurationMs
	case TraceEventContextTicketIDs:
		set = t.context
	case TraceEventCitedTicketIDs:
		set = t.cited
	default:
		return
	}
	for _, id := range event.TicketIDs {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		RetrievedTicketIDs: sortedKeys(t.retrieved),
		ContextTicketIDs:   sortedKeys(t.context),
		CitedTicketIDs:     sortedKeys(t.cited),
		RetrievalMs:        t.retrieval,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
