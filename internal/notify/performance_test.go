package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestPerformanceTracker(t *testing.T) {
	p := NewPerformanceTracker(func() int { return 6 })
	start := p.start
	p.now = func() time.Time { return start.Add(2 * time.Hour) }

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RecordOpportunity()
			p.RecordTrade(domain.Trade{Success: i%2 == 0, RealizedProfitCents: 10})
		}()
	}
	wg.Wait()
	p.RecordTrade(domain.Trade{RealizedProfitCents: -25})

	s := p.Status()
	assert.Equal(t, 2*time.Hour, s.Uptime)
	assert.Equal(t, int64(11), s.TotalTrades)
	assert.Equal(t, int64(5), s.SuccessfulTrades)
	assert.Equal(t, int64(75), s.ProfitCents)
	assert.Equal(t, int64(10), s.OpportunitiesDetected)
	assert.Equal(t, 6, s.MarketsMonitored)
	assert.InDelta(t, 45.45, s.SuccessRate(), 0.01)
}

func TestStatusUpdate_SuccessRateNoTrades(t *testing.T) {
	assert.Zero(t, StatusUpdate{}.SuccessRate())
}
