// Package analytics reads dashboard KPIs from the ticket graph.
//
// All reads are read-only aggregates. When a cache is configured, results
// are cached for a short TTL and concurrent identical reads are collapsed
// into one store query. Cache failures never fail a read; the store is
// queried instead.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/cache"
	"github.com/OFFIS-RIT/ticketgraph/pkg/common"
	"github.com/OFFIS-RIT/ticketgraph/pkg/logger"
	"github.com/OFFIS-RIT/ticketgraph/pkg/metrics"
	"github.com/OFFIS-RIT/ticketgraph/pkg/store"

	"golang.org/x/sync/singleflight"
)

type Reader struct {
	store   store.GraphStorage
	cache   cache.Cache
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

// NewReaderParams configures a Reader. Cache may be nil.
type NewReaderParams struct {
	Store   store.GraphStorage
	Cache   cache.Cache
	TTL     time.Duration
	Timeout time.Duration
}

func NewReader(params NewReaderParams) *Reader {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Reader{
		store:   params.Store,
		cache:   params.Cache,
		ttl:     ttl,
		timeout: timeout,
	}
}

func cacheKey(q common.AggregateQuery) string {
	key := "aggregate:" + string(q.Kind)
	if q.Kind == common.AggregateTopProducts {
		key += ":" + strconv.Itoa(q.EffectiveLimit())
	}
	return key
}

// Aggregate runs q against the store, or serves it from the cache.
func (r *Reader) Aggregate(ctx context.Context, q common.AggregateQuery) (common.AggregateResult, error) {
	key := cacheKey(q)

	if r.cache != nil {
		var cached common.AggregateResult
		ok, err := r.cache.Get(ctx, key, &cached)
		switch {
		case err != nil:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			logger.Warn("[Analytics] Cache read failed, querying store", "key", key, "err", err)
		case ok:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	// The flight is shared, so it must outlive the caller that started it.
	ch := r.group.DoChan(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		res, err := r.store.Aggregate(qctx, q)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			if err := r.cache.Set(qctx, key, res, r.ttl); err != nil {
				logger.Warn("[Analytics] Cache write failed", "key", key, "err", err)
			}
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return common.AggregateResult{}, fmt.Errorf("aggregate %s: %w", q.Kind, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return common.AggregateResult{}, fmt.Errorf("aggregate %s: %w", q.Kind, res.Err)
		}
		return res.Val.(common.AggregateResult), nil
	}
}

// Invalidate drops the cached aggregates. Top product lists with a
// non-default limit expire with their TTL.
func (r *Reader) Invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	keys := make([]string, 0, len(Views))
	for _, kind := range Views {
		keys = append(keys, cacheKey(common.AggregateQuery{Kind: kind}))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		logger.Warn("[Analytics] Cache invalidation failed", "err", err)
	}
}

func (r *Reader) count(ctx context.Context, kind common.AggregateKind) (int64, error) {
	res, err := r.Aggregate(ctx, common.AggregateQuery{Kind: kind})
	return res.Count, err
}

func (r *Reader) buckets(ctx context.Context, q common.AggregateQuery) ([]common.Bucket, error) {
	res, err := r.Aggregate(ctx, q)
	if res.Buckets == nil {
		res.Buckets = []common.Bucket{}
	}
	return res.Buckets, err
}

func (r *Reader) TotalTickets(ctx context.Context) (int64, error) {
	return r.count(ctx, common.AggregateTotal)
}

// CriticalTickets counts tickets with priority high or critical, in any
// casing.
func (r *Reader) CriticalTickets(ctx context.Context) (int64, error) {
	return r.count(ctx, common.AggregateCritical)
}

func (r *Reader) StatusDistribution(ctx context.Context) ([]common.Bucket, error) {
	return r.buckets(ctx, common.AggregateQuery{Kind: common.AggregateByStatus})
}

// TopProducts returns the n products with the most tickets. n <= 0 means
// ten.
func (r *Reader) TopProducts(ctx context.Context, n int) ([]common.Bucket, error) {
	return r.buckets(ctx, common.AggregateQuery{Kind: common.AggregateTopProducts, Limit: n})
}

func (r *Reader) RootCauseDistribution(ctx context.Context) ([]common.Bucket, error) {
	return r.buckets(ctx, common.AggregateQuery{Kind: common.AggregateByRootCause})
}

func (r *Reader) SentimentDistribution(ctx context.Context) ([]common.Bucket, error) {
	return r.buckets(ctx, common.AggregateQuery{Kind: common.AggregateBySentiment})
}

func (r *Reader) PriorityDistribution(ctx context.Context) ([]common.Bucket, error) {
	return r.buckets(ctx, common.AggregateQuery{Kind: common.AggregateByPriority})
}
