package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/OFFIS-RIT/ticketgraph/pkg/common"

	"golang.org/x/sync/errgroup"
)

// Views maps the names accepted by the analytics API to aggregate kinds.
var Views = map[string]common.AggregateKind{
	"total":       common.AggregateTotal,
	"critical":    common.AggregateCritical,
	"status":      common.AggregateByStatus,
	"products":    common.AggregateTopProducts,
	"root_causes": common.AggregateByRootCause,
	"sentiment":   common.AggregateBySentiment,
	"priority":    common.AggregateByPriority,
}

// ParseView resolves an analytics view name.
func ParseView(name string) (common.AggregateKind, error) {
	kind, ok := Views[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", common.ErrUnsupportedAggregate, name)
	}
	return kind, nil
}

// Dashboard is the KPI overview shown on the operations dashboard.
type Dashboard struct {
	TotalTickets    int64           `json:"total_tickets"`
	CriticalTickets int64           `json:"critical_tickets"`
	CriticalShare   float64         `json:"critical_share_percent"`
	Status          []common.Bucket `json:"status"`
	TopProducts     []common.Bucket `json:"top_products"`
	RootCauses      []common.Bucket `json:"root_causes"`
	Sentiment       []common.Bucket `json:"sentiment"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// Dashboard reads all KPIs concurrently. topN bounds the product list.
// The first failing read fails the whole dashboard.
func (r *Reader) Dashboard(ctx context.Context, topN int) (Dashboard, error) {
	var d Dashboard

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		d.TotalTickets, err = r.TotalTickets(ectx)
		return
	})
	eg.Go(func() (err error) {
		d.CriticalTickets, err = r.CriticalTickets(ectx)
		return
	})
	eg.Go(func() (err error) {
		d.Status, err = r.StatusDistribution(ectx)
		return
	})
	eg.Go(func() (err error) {
		d.TopProducts, err = r.TopProducts(ectx, topN)
		return
	})
	eg.Go(func() (err error) {
		d.RootCauses, err = r.RootCauseDistribution(ectx)
		return
	})
	eg.Go(func() (err error) {
		d.Sentiment, err = r.SentimentDistribution(ectx)
		return
	})
	if err := eg.Wait(); err != nil {
		return Dashboard{}, err
	}

	d.CriticalShare = criticalShare(d.CriticalTickets, d.TotalTickets)
	d.GeneratedAt = time.Now().UTC()
	return d, nil
}

// criticalShare is the percentage of critical tickets, rounded to one
// decimal. An empty graph has a share of 0.
func criticalShare(critical, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(critical)/float64(total)*1000) / 10
}
