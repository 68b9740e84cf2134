// Package discovery periodically loads venue catalogs, matches them into
// cross-venue pairs, and keeps the matcher, feeds and order routers in step
// with what is listed.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
)

// Catalog lists one venue's tradable markets.
type Catalog interface {
	Venue() domain.VenueID
	Listings(ctx context.Context) ([]domain.Listing, error)
}

// Capped is implemented by catalogs that stop listing at a limit. A
// listing that reached its limit may omit markets that are still open.
type Capped interface {
	Limit() int
}

// Registry is the matcher as seen by discovery.
type Registry interface {
	Match(as, bs []domain.Listing) []domain.MatchedPair
	Register(p domain.MatchedPair) error
	Unregister(p domain.MatchedPair)
	Contains(p domain.MatchedPair) bool
	List() []domain.MatchedPair
	PairsFor(ref domain.MarketRef) []domain.MatchedPair
}

// Tracker starts and stops quote streaming for a market.
type Tracker interface {
	Track(l domain.Listing) error
	Forget(ctx context.Context, ref domain.MarketRef)
}

// Router learns the listings a venue needs to route orders (token ids).
type Router interface {
	Register(l domain.Listing) error
	Unregister(marketID string)
}

// Result summarizes one discovery pass.
type Result struct {
	ListingsA int
	ListingsB int
	Added     []domain.MatchedPair
	Removed   []domain.MatchedPair
	// Unconfirmed are registered pairs kept although a capped catalog did
	// not list one of their markets.
	Unconfirmed []domain.MatchedPair
}

// Discovery matches catalog A against catalog B.
type Discovery struct {
	a, b    Catalog
	pairs   Registry
	feeds   Tracker
	routers map[domain.VenueID]Router
	store   domain.PairStore
	logger  *slog.Logger

	pinned map[string]domain.MatchedPair
}

// Option configures Discovery.
type Option func(*Discovery)

// WithRouter registers listings of venue with r.
func WithRouter(venue domain.VenueID, r Router) Option {
	return func(d *Discovery) { d.routers[venue] = r }
}

// WithStore persists registered pairs and restores them on Load.
func WithStore(s domain.PairStore) Option {
	return func(d *Discovery) { d.store = s }
}

// New creates a Discovery over two catalogs on different venues.
func New(a, b Catalog, pairs Registry, feeds Tracker, logger *slog.Logger, opts ...Option) *Discovery {
	d := &Discovery{
		a:       a,
		b:       b,
		pairs:   pairs,
		feeds:   feeds,
		routers: make(map[domain.VenueID]Router),
		logger:  logger.With(slog.String("component", "discovery")),
		pinned:  make(map[string]domain.MatchedPair),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Load restores previously persisted pairs. They are registered by the
// next Run once both markets are listed, even if the predicate no longer
// matches them.
func (d *Discovery) Load(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	stored, err := d.store.ListPairs(ctx)
	if err != nil {
		return 0, fmt.Errorf("discovery: load pairs: %w", err)
	}
	for _, p := range stored {
		d.pinned[p.Key()] = p
	}
	return len(stored), nil
}

// Run performs one discovery pass. A catalog error aborts the pass without
// removing anything. A pair is removed when a venue lists one of its
// markets as inactive, or when a complete catalog omits it.
func (d *Discovery) Run(ctx context.Context) (Result, error) {
	as, err := d.a.Listings(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("discovery: list %s: %w", d.a.Venue(), err)
	}
	bs, err := d.b.Listings(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("discovery: list %s: %w", d.b.Venue(), err)
	}

	seen := make(map[domain.MarketRef]domain.Listing, len(as)+len(bs))
	listed := make(map[domain.MarketRef]domain.Listing, len(as)+len(bs))
	for _, l := range append(append([]domain.Listing(nil), as...), bs...) {
		seen[l.Ref] = l
		if l.Active {
			listed[l.Ref] = l
		}
	}
	whole := map[domain.VenueID]bool{
		d.a.Venue(): complete(d.a, len(as)),
		d.b.Venue(): complete(d.b, len(bs)),
	}
	delisted := func(ref domain.MarketRef) bool {
		if l, ok := seen[ref]; ok {
			return !l.Active
		}
		return whole[ref.Venue]
	}
	res := Result{ListingsA: len(as), ListingsB: len(bs)}

	for _, p := range d.pairs.List() {
		_, okA := listed[p.A]
		_, okB := listed[p.B]
		switch {
		case okA && okB:
		case delisted(p.A) || delisted(p.B):
			d.remove(ctx, p)
			res.Removed = append(res.Removed, p)
		default:
			res.Unconfirmed = append(res.Unconfirmed, p)
		}
	}

	candidates := d.pairs.Match(as, bs)
	for _, p := range d.pinned {
		_, okA := listed[p.A]
		_, okB := listed[p.B]
		if okA && okB {
			candidates = append(candidates, p)
		}
	}
	for _, p := range candidates {
		if d.pairs.Contains(p) || d.claimed(p) {
			continue
		}
		if err := d.add(ctx, p, listed[p.A], listed[p.B]); err != nil {
			d.logger.Warn("discovery: register failed", slog.String("pair", p.Key()), slog.String("error", err.Error()))
			continue
		}
		res.Added = append(res.Added, p)
	}

	d.logger.Info("discovery: pass complete",
		slog.Int("listings_a", res.ListingsA),
		slog.Int("listings_b", res.ListingsB),
		slog.Int("added", len(res.Added)),
		slog.Int("removed", len(res.Removed)),
		slog.Int("unconfirmed", len(res.Unconfirmed)),
	)
	return res, nil
}

// RunLoop runs discovery immediately and then every interval until ctx is
// cancelled. Failed passes are logged and retried on the next tick.
func (d *Discovery) RunLoop(ctx context.Context, interval time.Duration, onPass func(Result)) error {
	pass := func() {
		res, err := d.Run(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("discovery: pass failed", slog.String("error", err.Error()))
			}
			return
		}
		if onPass != nil {
			onPass(res)
		}
	}
	pass()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("discovery: loop stopped")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}

// complete reports whether a catalog that returned n listings listed
// everything it has.
func complete(c Catalog, n int) bool {
	capped, ok := c.(Capped)
	return !ok || capped.Limit() <= 0 || n < capped.Limit()
}

// claimed reports whether either market already belongs to another pair.
func (d *Discovery) claimed(p domain.MatchedPair) bool {
	return len(d.pairs.PairsFor(p.A)) > 0 || len(d.pairs.PairsFor(p.B)) > 0
}

func (d *Discovery) add(ctx context.Context, p domain.MatchedPair, la, lb domain.Listing) error {
	for _, l := range []domain.Listing{la, lb} {
		if r, ok := d.routers[l.Ref.Venue]; ok {
			if err := r.Register(l); err != nil {
				return err
			}
		}
	}
	if err := d.pairs.Register(p); err != nil {
		return err
	}
	for _, l := range []domain.Listing{la, lb} {
		if err := d.feeds.Track(l); err != nil {
			d.logger.Warn("discovery: track failed", slog.String("market", l.Ref.Key()), slog.String("error", err.Error()))
		}
	}
	d.pinned[p.Key()] = p
	if d.store != nil {
		if err := d.store.UpsertPair(ctx, p); err != nil {
			d.logger.Warn("discovery: persist pair failed", slog.String("pair", p.Key()), slog.String("error", err.Error()))
		}
	}
	d.logger.Info("discovery: pair registered",
		slog.String("pair", p.Key()),
		slog.String("title", p.Label()),
		slog.Float64("confidence", p.Confidence),
	)
	return nil
}

func (d *Discovery) remove(ctx context.Context, p domain.MatchedPair) {
	d.pairs.Unregister(p)
	delete(d.pinned, p.Key())
	for _, ref := range []domain.MarketRef{p.A, p.B} {
		if len(d.pairs.PairsFor(ref)) > 0 {
			continue
		}
		d.feeds.Forget(ctx, ref)
		if r, ok := d.routers[ref.Venue]; ok {
			r.Unregister(ref.MarketID)
		}
	}
	if d.store != nil {
		if err := d.store.DeletePair(ctx, p.Key()); err != nil {
			d.logger.Warn("discovery: delete pair failed", slog.String("pair", p.Key()), slog.String("error", err.Error()))
		}
	}
	d.logger.Info("discovery: pair removed", slog.String("pair", p.Key()))
}

// --------------------------------------------------------------------------
// Venue catalogs
// --------------------------------------------------------------------------

type kalshiCatalog struct {
	client *kalshi.Client
	max    int
}

// KalshiCatalog lists open Kalshi markets, at most max (all when <= 0).
func KalshiCatalog(c *kalshi.Client, max int) Catalog {
	return kalshiCatalog{client: c, max: max}
}

func (k kalshiCatalog) Venue() domain.VenueID { return domain.VenueKalshi }

func (k kalshiCatalog) Limit() int { return k.max }

func (k kalshiCatalog) Listings(ctx context.Context) ([]domain.Listing, error) {
	markets, err := k.client.ListOpenMarkets(ctx, k.max)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Listing, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.Listing())
	}
	return out, nil
}

type polymarketCatalog struct {
	gamma *polymarket.GammaClient
	max   int
}

// PolymarketCatalog lists active binary Polymarket markets via Gamma.
func PolymarketCatalog(g *polymarket.GammaClient, max int) Catalog {
	return polymarketCatalog{gamma: g, max: max}
}

func (p polymarketCatalog) Venue() domain.VenueID { return domain.VenuePolymarket }

func (p polymarketCatalog) Limit() int { return p.max }

func (p polymarketCatalog) Listings(ctx context.Context) ([]domain.Listing, error) {
	return p.gamma.ListActive(ctx, p.max)
}
