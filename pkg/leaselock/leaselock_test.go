package leaselock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type memBackend struct {
	mu      sync.Mutex
	owners  map[string]string
	renewed atomic.Int32
	steal   atomic.Bool
}

func newMemBackend() *memBackend {
	return &memBackend{owners: make(map[string]string)}
}

func (b *memBackend) TryAcquire(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if owner, ok := b.owners[key]; ok && owner != token {
		return false, nil
	}
	b.owners[key] = token
	return true, nil
}

func (b *memBackend) Renew(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	b.renewed.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.steal.Load() {
		b.owners[key] = "someone-else"
	}
	return b.owners[key] == token, nil
}

func (b *memBackend) Release(_ context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owners[key] == token {
		delete(b.owners, key)
	}
	return nil
}

func TestAcquire_Exclusive(t *testing.T) {
	c := New(newMemBackend())
	ctx := context.Background()

	first, err := c.Acquire(ctx, "reembed", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("expected first acquire to succeed, got %v", err)
	}
	if _, err := c.Acquire(ctx, "reembed", Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if _, err := c.Acquire(ctx, "other", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("expected other key to be free, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if first.Context.Err() == nil {
		t.Fatal("expected lease context to be cancelled after release")
	}
	if _, err := c.Acquire(ctx, "reembed", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	c := New(newMemBackend())
	ctx := context.Background()

	held, err := c.Acquire(ctx, "k", Options{TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release(ctx)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := c.Acquire(waitCtx, "k", Options{TTL: time.Minute, Wait: true, WaitInterval: 5 * time.Millisecond}); err != nil {
		t.Fatalf("expected waiting acquire to succeed, got %v", err)
	}
}

func TestAcquire_EmptyKey(t *testing.T) {
	if _, err := New(newMemBackend()).Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestWithLease_CancelsWhenLost(t *testing.T) {
	b := newMemBackend()
	c := New(b)

	err := c.WithLease(context.Background(), "k", Options{TTL: 40 * time.Millisecond, RenewEvery: 10 * time.Millisecond},
		func(ctx context.Context) error {
			b.steal.Store(true)
			<-ctx.Done()
			return ctx.Err()
		})
	if !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
	if b.renewed.Load() == 0 {
		t.Fatal("expected at least one renewal")
	}
}

func TestWithLease_ReleasesAfterRun(t *testing.T) {
	b := newMemBackend()
	c := New(b)

	ran := false
	if err := c.WithLease(context.Background(), "k", Options{TTL: time.Minute}, func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !ran {
		t.Fatal("expected fn to run")
	}
	if len(b.owners) != 0 {
		t.Fatalf("expected lock to be released, got %v", b.owners)
	}
}

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

type fakeConn struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.lastSQL, c.lastArgs = sql, args
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.lastSQL, c.lastArgs = sql, args
	return c.row
}

func TestPostgresBackend(t *testing.T) {
	ctx := context.Background()
	conn := &fakeConn{row: fakeRow{key: "k"}}
	b := &PostgresBackend{db: conn}

	ok, err := b.TryAcquire(ctx, "k", "tok", 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire, got %v (%v)", ok, err)
	}
	if conn.lastSQL != tryAcquireSQL || conn.lastArgs[2] != int64(2000) {
		t.Fatalf("unexpected query args %v", conn.lastArgs)
	}

	conn.row = fakeRow{err: pgx.ErrNoRows}
	ok, err = b.Renew(ctx, "k", "tok", time.Second)
	if err != nil || ok {
		t.Fatalf("expected lost lease without error, got %v (%v)", ok, err)
	}

	conn.row = fakeRow{err: errors.New("conn closed")}
	if _, err := b.TryAcquire(ctx, "k", "tok", time.Second); err == nil {
		t.Fatal("expected connection error")
	}

	if err := b.Release(ctx, "k", "tok"); err != nil || conn.lastSQL != releaseSQL {
		t.Fatalf("unexpected release %q (%v)", conn.lastSQL, err)
	}
}
