package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
)

// Stream is one venue's quote source for a dynamic set of markets.
type Stream interface {
	Venue() domain.VenueID
	OnQuote(h func(domain.Quote))
	Track(l domain.Listing) error
	Forget(marketID string)
	Run(ctx context.Context) error
}

type kalshiStream struct{ ws *kalshi.WSClient }

// Kalshi adapts the Kalshi orderbook WebSocket.
func Kalshi(ws *kalshi.WSClient) Stream { return kalshiStream{ws: ws} }

func (s kalshiStream) Venue() domain.VenueID { return domain.VenueKalshi }
func (s kalshiStream) OnQuote(h func(domain.Quote)) { s.ws.OnQuote(h) }
func (s kalshiStream) Track(l domain.Listing) error { return s.ws.Subscribe(l.Ref.MarketID) }
func (s kalshiStream) Forget(marketID string) { s.ws.Forget(marketID) }
func (s kalshiStream) Run(ctx context.Context) error { return s.ws.Run(ctx) }

type polymarketStream struct{ ws *polymarket.WSClient }

// Polymarket adapts the CLOB market-channel WebSocket.
func Polymarket(ws *polymarket.WSClient) Stream { return polymarketStream{ws: ws} }

func (s polymarketStream) Venue() domain.VenueID { return domain.VenuePolymarket }
func (s polymarketStream) OnQuote(h func(domain.Quote)) { s.ws.OnQuote(h) }
func (s polymarketStream) Track(l domain.Listing) error { return s.ws.Track(l) }
func (s polymarketStream) Forget(marketID string) { s.ws.Forget(marketID) }
func (s polymarketStream) Run(ctx context.Context) error { return s.ws.Run(ctx) }

// Poller is a Stream that polls a venue's REST quote for every tracked
// market on a fixed interval.
type Poller struct {
	venue    domain.Venue
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	markets  map[string]struct{}
	handlers []func(domain.Quote)
}

// NewPoller creates a poller over v.
func NewPoller(v domain.Venue, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		venue:    v,
		interval: interval,
		logger:   logger.With(slog.String("component", "poller"), slog.String("venue", string(v.ID()))),
		markets:  make(map[string]struct{}),
	}
}

func (p *Poller) Venue() domain.VenueID { return p.venue.ID() }

func (p *Poller) OnQuote(h func(domain.Quote)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *Poller) Track(l domain.Listing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[l.Ref.MarketID] = struct{}{}
	return nil
}

func (p *Poller) Forget(marketID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.markets, marketID)
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	markets := make([]string, 0, len(p.markets))
	for m := range p.markets {
		markets = append(markets, m)
	}
	handlers := p.handlers
	p.mu.Unlock()
	sort.Strings(markets)

	for _, m := range markets {
		qctx, cancel := context.WithTimeout(ctx, p.interval)
		q, err := p.venue.GetQuote(qctx, m)
		cancel()
		if err != nil {
			p.logger.Debug("poller: quote failed", slog.String("market", m), slog.String("error", err.Error()))
			continue
		}
		for _, h := range handlers {
			h(q)
		}
	}
}
