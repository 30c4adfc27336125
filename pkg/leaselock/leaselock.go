// Package leaselock provides expiring, renewed locks that make sure only
// one process at a time runs a job such as the stale embedding sweep. A
// holder that crashes loses the lock once its TTL runs out.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

// Backend stores lock ownership. Every operation is conditional on token,
// so a holder can only renew or release its own lease.
type Backend interface {
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

type Client struct {
	backend Backend
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	// Wait blocks until the lock is free instead of returning ErrBusy.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration

	TokenPrefix string
}

func (o Options) withDefaults() Options {
	if o.TTL < time.Millisecond {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Millisecond)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Context is cancelled when the lease is released
// or lost; work done under the lease should use it.
type Lease struct {
	Key   string
	Token string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(backend Backend) *Client {
	return &Client{backend: backend}
}

// WithLease runs fn while holding key. It returns ErrBusy without calling
// fn when the lock is held elsewhere and opts.Wait is false.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}()

	if err := fn(lease.Context); err != nil {
		if cause := context.Cause(lease.Context); errors.Is(cause, ErrLost) {
			return errors.Join(err, ErrLost)
		}
		return err
	}
	return nil
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	tok, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + tok

	for {
		ok, err := c.backend.TryAcquire(ctx, key, token, opts.TTL)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	go l.renewLoop(opts)

	return l, nil
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	return l.client.backend.Release(ctx, l.Key, l.Token)
}

func (l *Lease) renewLoop(opts Options) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(opts.TTL); err != nil {
				logger.Warn("[LeaseLock] Lease lost", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttl time.Duration) error {
	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
				return err
			}
		}
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		ok, err := l.client.backend.Renew(renewCtx, l.Key, l.Token, ttl)
		cancel()
		if err == nil {
			if !ok {
				return ErrLost
			}
			return nil
		}
		lastErr = err
	}
	return errors.Join(ErrLost, lastErr)
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
