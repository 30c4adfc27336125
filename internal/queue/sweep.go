package queue

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
)

const sweepLockKey = "reembed-sweep"

type Reembedder interface {
	ReembedStale(ctx context.Context, limit int) (int, error)
}

// SweepStale runs one re-embed pass under the sweep lease. It returns
// (0, nil) when another process holds the lease. locker may be nil for a
// single process deployment.
func SweepStale(ctx context.Context, locker *leaselock.Client, r Reembedder, batch int) (int, error) {
	if locker == nil {
		return r.ReembedStale(ctx, batch)
	}

	var n int
	err := locker.WithLease(ctx, sweepLockKey, leaselock.Options{TTL: time.Minute}, func(ctx context.Context) error {
		var err error
		n, err = r.ReembedStale(ctx, batch)
		return err
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Debug("[Sweep] Another worker holds the sweep lease")
		return 0, nil
	}
	return n, err
}

// RunSweep calls SweepStale every interval until ctx is cancelled.
func RunSweep(ctx context.Context, locker *leaselock.Client, r Reembedder, interval time.Duration, batch int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := SweepStale(ctx, locker, r, batch)
			if err != nil {
				logger.Error("[Sweep] Re-embed sweep failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Info("[Sweep] Re-embedded stale tickets", "updated", n)
			}
		}
	}
}
