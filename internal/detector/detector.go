// Package detector computes cross-venue arbitrage from cached quotes.
package detector

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Params are the profitability inputs, all in integer cents.
type Params struct {
	// MinProfitCents is the smallest per-contract profit worth executing.
	MinProfitCents int64
	// FeePerLegCents is charged once per leg, so twice per opportunity.
	FeePerLegCents int64
}

// Fees is the total fee across both legs.
func (p Params) Fees() int64 { return 2 * p.FeePerLegCents }

// Evaluate computes both directions for pair and returns the better one if
// it is positive and at least MinProfitCents. qa must be the quote for
// pair.A and qb the quote for pair.B. Ties favour buying YES on A.
func Evaluate(pair domain.MatchedPair, qa, qb domain.Quote, p Params, now time.Time) (domain.Opportunity, bool) {
	fees := p.Fees()
	profitA := 100 - qa.YesCents - qb.NoCents - fees
	profitB := 100 - qb.YesCents - qa.NoCents - fees

	qualifies := func(profit int64) bool {
		return profit > 0 && profit >= p.MinProfitCents
	}

	opp := domain.Opportunity{
		Pair:       pair,
		DetectedAt: now,
		QuotedAt:   qa.ObservedAt,
	}
	if qb.ObservedAt.Before(opp.QuotedAt) {
		opp.QuotedAt = qb.ObservedAt
	}

	switch {
	case qualifies(profitA) && (!qualifies(profitB) || profitA >= profitB):
		opp.Type = domain.ArbBuyYesABuyNoB
		opp.YesCents, opp.NoCents, opp.ProfitCents = qa.YesCents, qb.NoCents, profitA
	case qualifies(profitB):
		opp.Type = domain.ArbBuyYesBBuyNoA
		opp.YesCents, opp.NoCents, opp.ProfitCents = qb.YesCents, qa.NoCents, profitB
	default:
		return domain.Opportunity{}, false
	}
	return opp, true
}

// QuoteSource is the read side of the price cache.
type QuoteSource interface {
	Get(ref domain.MarketRef) (domain.Quote, bool)
}

// PairSource is the read side of the market matcher.
type PairSource interface {
	Pairs() iter.Seq[domain.MatchedPair]
	PairsFor(ref domain.MarketRef) []domain.MatchedPair
}

// Sink receives emitted opportunities. It must not block for long.
type Sink func(ctx context.Context, opp domain.Opportunity)

// Config configures a Detector.
type Config struct {
	Params
	PollInterval     time.Duration
	HysteresisWindow time.Duration
}

// Detector scans matched pairs on quote updates and on a fixed interval.
type Detector struct {
	quotes QuoteSource
	pairs  PairSource
	cfg    Config
	now    func() time.Time
	seen   *suppressor
	logger *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector.
func New(quotes QuoteSource, pairs PairSource, cfg Config, logger *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		quotes: quotes,
		pairs:  pairs,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "detector")),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = newSuppressor(cfg.HysteresisWindow, d.now)
	return d
}

// Scan evaluates one pair against the cache. It returns false when either
// quote is absent, nothing qualifies, or the same quotes already produced
// an opportunity within the hysteresis window.
func (d *Detector) Scan(pair domain.MatchedPair) (domain.Opportunity, bool) {
	qa, ok := d.quotes.Get(pair.A)
	if !ok {
		return domain.Opportunity{}, false
	}
	qb, ok := d.quotes.Get(pair.B)
	if !ok {
		return domain.Opportunity{}, false
	}

	opp, ok := Evaluate(pair, qa, qb, d.cfg.Params, d.now())
	if !ok {
		return domain.Opportunity{}, false
	}

	fp := fmt.Sprintf("%s|%d|%d|%d|%d", pair.Key(), qa.YesCents, qa.NoCents, qb.YesCents, qb.NoCents)
	if d.seen.suppress(fp) {
		return domain.Opportunity{}, false
	}
	opp.ID = uuid.NewString()
	return opp, true
}

// ScanAll evaluates every registered pair and hands qualifying
// opportunities to sink. It returns how many were emitted.
func (d *Detector) ScanAll(ctx context.Context, sink Sink) int {
	n := 0
	for pair := range d.pairs.Pairs() {
		if ctx.Err() != nil {
			break
		}
		if opp, ok := d.Scan(pair); ok {
			n++
			d.emit(ctx, opp, sink)
		}
	}
	return n
}

// ScanMarket evaluates the pairs that include ref.
func (d *Detector) ScanMarket(ctx context.Context, ref domain.MarketRef, sink Sink) int {
	n := 0
	for _, pair := range d.pairs.PairsFor(ref) {
		if opp, ok := d.Scan(pair); ok {
			n++
			d.emit(ctx, opp, sink)
		}
	}
	return n
}

// Run rescans pairs touched by each update and all pairs every
// PollInterval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, updates <-chan domain.MarketRef, sink Sink) error {
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.InfoContext(ctx, "detector: started",
		slog.Duration("poll_interval", interval),
		slog.Int64("min_profit_cents", d.cfg.MinProfitCents),
		slog.Int64("fee_per_leg_cents", d.cfg.FeePerLegCents),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "detector: stopped")
			return ctx.Err()
		case ref, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			d.ScanMarket(ctx, ref, sink)
		case <-ticker.C:
			d.ScanAll(ctx, sink)
			d.seen.sweep()
		}
	}
}

func (d *Detector) emit(ctx context.Context, opp domain.Opportunity, sink Sink) {
	d.logger.InfoContext(ctx, "detector: opportunity",
		slog.String("id", opp.ID),
		slog.String("pair", opp.Pair.Key()),
		slog.String("type", string(opp.Type)),
		slog.Int64("yes_cents", opp.YesCents),
		slog.Int64("no_cents", opp.NoCents),
		slog.Int64("profit_cents", opp.ProfitCents),
	)
	if sink != nil {
		sink(ctx, opp)
	}
}
