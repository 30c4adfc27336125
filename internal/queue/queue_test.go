package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/ai/hash"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/graph"
	"github.com/OFFIS-RIT/ticketgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store/memory"

	"github.com/rabbitmq/amqp091-go"
)

type mapFiles map[string][]byte

func (m mapFiles) GetFile(_ context.Context, key string) ([]byte, error) {
	b, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return b, nil
}

type recordingDeleter struct {
	deleted []string
	moved   map[string]string
}

func (d *recordingDeleter) DeleteFile(_ context.Context, key string) error {
	d.deleted = append(d.deleted, key)
	return nil
}

func (d *recordingDeleter) MoveFile(_ context.Context, key, newKey string) error {
	if d.moved == nil {
		d.moved = make(map[string]string)
	}
	d.moved[key] = newKey
	return nil
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate(context.Context) { c.n++ }

func newHandler(t *testing.T) (*Handler, *memory.GraphMemoryStorage) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	emb := hash.New(32)
	if err := s.EnsureSchema(ctx, common.EmbeddingSpec{Model: emb.Model(), Dimensions: emb.Dimensions()}); err != nil {
		t.Fatal(err)
	}
	g := graph.NewGraphClient(graph.NewGraphClientParams{Store: s, Embedder: emb, RetryBackoff: -1})
	return &Handler{Graph: g, ReembedBatch: 10}, s
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestProcessIngestMessage_Records(t *testing.T) {
	h, s := newHandler(t)
	inv := &countingInvalidator{}
	h.Analytics = inv

	body := mustJSON(t, QueueIngestMsg{
		CorrelationID: "c1",
		MaskPII:       true,
		Records: []common.TicketRecord{
			{TicketID: "T1", CustomerEmail: "ann@example.com", Description: common.Ptr("Battery drains")},
			{TicketID: "T2", CustomerEmail: "missing-at-sign"},
		},
	})
	if err := h.Process(context.Background(), IngestQueue, body); err != nil {
		t.Fatalf("expected invalid records to be dropped, got %v", err)
	}

	view, err := s.GetTicket(context.Background(), "T1")
	if err != nil {
		t.Fatal(err)
	}
	if view.CustomerEmail != "a***@example.com" {
		t.Fatalf("expected masked email, got %q", view.CustomerEmail)
	}
	if _, err := s.GetTicket(context.Background(), "T2"); !errors.Is(err, common.ErrTicketNotFound) {
		t.Fatalf("expected T2 to be rejected, got %v", err)
	}
	if inv.n != 1 {
		t.Fatalf("expected 1 invalidation, got %d", inv.n)
	}
}

func TestProcessIngestMessage_File(t *testing.T) {
	h, s := newHandler(t)
	deleter := &recordingDeleter{}
	h.Files = mapFiles{"uploads/abc.csv": []byte("ticket_id,customer_email,product_name\nT1,a@x.com,Router\n")}
	h.Uploads = deleter

	body := mustJSON(t, QueueIngestMsg{CorrelationID: "c2", FileKey: "uploads/abc.csv", DeleteAfter: true})
	if err := h.ProcessIngestMessage(context.Background(), body); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	view, err := s.GetTicket(context.Background(), "T1")
	if err != nil || view.ProductName != "Router" {
		t.Fatalf("expected T1 about Router, got %+v (%v)", view, err)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "uploads/abc.csv" {
		t.Fatalf("expected upload to be deleted, got %v", deleter.deleted)
	}
}

func TestProcessIngestMessage_Permanent(t *testing.T) {
	h, _ := newHandler(t)
	h.Files = mapFiles{"uploads/x.csv": []byte("name\nAnn\n")}

	tests := []struct {
		name string
		body []byte
	}{
		{"Malformed", []byte("{not json")},
		{"Empty", mustJSON(t, QueueIngestMsg{CorrelationID: "c"})},
		{"Both", mustJSON(t, QueueIngestMsg{FileKey: "a.csv", Records: []common.TicketRecord{{TicketID: "1"}}})},
		{"UnknownFormat", mustJSON(t, QueueIngestMsg{FileKey: "a.xlsx"})},
		{"Unparseable", mustJSON(t, QueueIngestMsg{FileKey: "uploads/x.csv"})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := h.ProcessIngestMessage(context.Background(), tc.body)
			if !errors.Is(err, ErrPermanent) {
				t.Fatalf("expected ErrPermanent, got %v", err)
			}
		})
	}

	err := h.ProcessIngestMessage(context.Background(), mustJSON(t, QueueIngestMsg{FileKey: "uploads/gone.csv"}))
	if err == nil || errors.Is(err, ErrPermanent) {
		t.Fatalf("expected a retryable error for a missing file, got %v", err)
	}
}

func TestProcess_UnknownQueue(t *testing.T) {
	h, _ := newHandler(t)
	if err := h.Process(context.Background(), "nope", nil); !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		headers amqp091.Table
		want    int
	}{
		{nil, 0},
		{amqp091.Table{"x-retries": int32(3)}, 3},
		{amqp091.Table{"x-retries": int64(4)}, 4},
		{amqp091.Table{"x-retries": 5}, 5},
		{amqp091.Table{"x-retries": "7"}, 0},
	}
	for _, tc := range tests {
		if got := retryCount(tc.headers); got != tc.want {
			t.Fatalf("expected %d for %v, got %d", tc.want, tc.headers, got)
		}
	}
}

func TestRetryDecision(t *testing.T) {
	transient := errors.New("store down")

	target, next := retryDecision(IngestQueue, 0, transient)
	if target != "ingest_queue_retry" || next != 1 {
		t.Fatalf("expected retry queue with 1 retry, got %s/%d", target, next)
	}
	target, _ = retryDecision(IngestQueue, maxRetries, transient)
	if target != "ingest_queue_dlq" {
		t.Fatalf("expected dead-letter queue after %d retries, got %s", maxRetries, target)
	}
	target, _ = retryDecision(IngestQueue, 0, ErrPermanent)
	if target != "ingest_queue_dlq" {
		t.Fatalf("expected permanent errors to skip retries, got %s", target)
	}
}

type lockBackend struct {
	mu    sync.Mutex
	owner string
}

func (b *lockBackend) TryAcquire(_ context.Context, _, token string, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != "" && b.owner != token {
		return false, nil
	}
	b.owner = token
	return true, nil
}

func (b *lockBackend) Renew(_ context.Context, _, token string, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner == token, nil
}

func (b *lockBackend) Release(_ context.Context, _, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner == token {
		b.owner = ""
	}
	return nil
}

type countingReembedder struct{ calls int }

func (r *countingReembedder) IngestBatch(_ context.Context, records []common.TicketRecord) common.BatchReport {
	return common.BatchReport{Total: len(records)}
}

func (r *countingReembedder) ReembedStale(context.Context, int) (int, error) {
	r.calls++
	return 2, nil
}

func TestSweepStale_SkipsWhenBusy(t *testing.T) {
	ctx := context.Background()
	locker := leaselock.New(&lockBackend{})
	r := &countingReembedder{}

	n, err := SweepStale(ctx, locker, r, 10)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 updated, got %d (%v)", n, err)
	}

	held, err := locker.Acquire(ctx, sweepLockKey, leaselock.Options{TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(ctx)

	n, err = SweepStale(ctx, locker, r, 10)
	if err != nil || n != 0 {
		t.Fatalf("expected skipped sweep, got %d (%v)", n, err)
	}
	if r.calls != 1 {
		t.Fatalf("expected 1 sweep call, got %d", r.calls)
	}
}

func TestProcessReembedMessage(t *testing.T) {
	h, _ := newHandler(t)
	r := &countingReembedder{}
	h.Graph = r

	if err := h.Process(context.Background(), ReembedQueue, mustJSON(t, QueueReembedMsg{CorrelationID: "r"})); err != nil {
		t.Fatal(err)
	}
	if r.calls != 1 {
		t.Fatalf("expected 1 call, got %d", r.calls)
	}
}

type goneFiles struct{}

func (goneFiles) GetFile(_ context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("%s: %w", key, fs.ErrNotExist)
}

func TestProcessIngestMessage_UploadAlreadyProcessed(t *testing.T) {
	h, _ := newHandler(t)
	h.Files = goneFiles{}

	if err := h.ProcessIngestMessage(context.Background(), mustJSON(t, QueueIngestMsg{FileKey: "uploads/a.csv"})); err != nil {
		t.Fatalf("expected a deleted upload to be acknowledged, got %v", err)
	}
}

type staticLister []string

func (l staticLister) ListFilesWithPrefix(context.Context, string) ([]string, error) {
	return l, nil
}

func (l staticLister) FileMetadata(context.Context, string) (map[string]string, error) {
	return nil, errors.New("no metadata")
}

type metadataLister map[string]map[string]string

func (l metadataLister) ListFilesWithPrefix(context.Context, string) ([]string, error) {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	return keys, nil
}

func (l metadataLister) FileMetadata(_ context.Context, key string) (map[string]string, error) {
	return l[key], nil
}

func TestRecoverUploads(t *testing.T) {
	var published []QueueIngestMsg
	publish := func(queueName string, msg any) error {
		if queueName != IngestQueue {
			t.Fatalf("expected %s, got %s", IngestQueue, queueName)
		}
		m := msg.(QueueIngestMsg)
		if m.FileKey == "uploads/b.json" {
			return errors.New("broker down")
		}
		published = append(published, m)
		return nil
	}

	n, err := RecoverUploads(context.Background(), staticLister{"uploads/a.csv", "uploads/notes.txt", "uploads/b.json"}, "uploads", true, publish)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(published) != 1 {
		t.Fatalf("expected 1 recovered upload, got %d", n)
	}
	m := published[0]
	if m.FileKey != "uploads/a.csv" || m.Format != "csv" || !m.MaskPII || !m.DeleteAfter || m.CorrelationID == "" {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestRecoverUploads_KeepsUploadOptions(t *testing.T) {
	uploads := metadataLister{
		"uploads/a.csv": UploadMetadata(true, false),
		"uploads/b.csv": {},
	}
	got := make(map[string]QueueIngestMsg)
	publish := func(_ string, msg any) error {
		m := msg.(QueueIngestMsg)
		got[m.FileKey] = m
		return nil
	}

	n, err := RecoverUploads(context.Background(), uploads, "uploads", true, publish)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recovered uploads, got %d", n)
	}
	if a := got["uploads/a.csv"]; !a.Enrich || a.MaskPII {
		t.Fatalf("expected enrich without masking for a.csv, got %+v", a)
	}
	if b := got["uploads/b.csv"]; b.Enrich || !b.MaskPII {
		t.Fatalf("expected defaults for b.csv, got %+v", b)
	}
}

func TestDeadLetter_ParksUpload(t *testing.T) {
	h, _ := newHandler(t)
	uploads := &recordingDeleter{}
	h.Uploads = uploads

	h.DeadLetter(context.Background(), IngestQueue, mustJSON(t, QueueIngestMsg{FileKey: "uploads/a.csv", DeleteAfter: true}))
	if got := uploads.moved["uploads/a.csv"]; got != "failed/uploads/a.csv" {
		t.Fatalf("expected upload moved to failed/uploads/a.csv, got %q", got)
	}

	h.DeadLetter(context.Background(), IngestQueue, mustJSON(t, QueueIngestMsg{FileKey: "uploads/b.csv"}))
	h.DeadLetter(context.Background(), ReembedQueue, mustJSON(t, QueueReembedMsg{Limit: 5}))
	if len(uploads.moved) != 1 {
		t.Fatalf("expected only the deletable upload to move, got %v", uploads.moved)
	}
}
