package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// PerformanceTracker counts detections and trades for status reports.
// Safe for concurrent use.
type PerformanceTracker struct {
	start         time.Time
	now           func() time.Time
	markets       func() int
	opportunities atomic.Int64
	trades        atomic.Int64
	successful    atomic.Int64
	profitCents   atomic.Int64
}

// NewPerformanceTracker starts the uptime clock. markets reports how many
// markets are currently monitored and may be nil.
func NewPerformanceTracker(markets func() int) *PerformanceTracker {
	return &PerformanceTracker{start: time.Now(), now: time.Now, markets: markets}
}

// RecordOpportunity counts one emitted opportunity.
func (p *PerformanceTracker) RecordOpportunity() {
	p.opportunities.Add(1)
}

// RecordTrade counts t. Realized profit is summed for every trade so
// compensation losses show up in the total.
func (p *PerformanceTracker) RecordTrade(t domain.Trade) {
	p.trades.Add(1)
	if t.Success {
		p.successful.Add(1)
	}
	p.profitCents.Add(t.RealizedProfitCents)
}

// Status returns the current counters as a StatusUpdate.
func (p *PerformanceTracker) Status() StatusUpdate {
	now := p.now()
	s := StatusUpdate{
		Uptime:                now.Sub(p.start),
		TotalTrades:           p.trades.Load(),
		SuccessfulTrades:      p.successful.Load(),
		ProfitCents:           p.profitCents.Load(),
		OpportunitiesDetected: p.opportunities.Load(),
		At:                    now,
	}
	if p.markets != nil {
		s.MarketsMonitored = p.markets()
	}
	return s
}

// Report publishes a StatusUpdate to n every interval until ctx is done.
func (p *PerformanceTracker) Report(ctx context.Context, n *Notifier, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.Publish(p.Status())
		}
	}
}
