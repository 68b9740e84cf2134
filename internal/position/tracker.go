// Package position is the authoritative ledger of exposure per market.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Limits caps |net contracts| per market. PerMarket is keyed by
// MarketRef.Key and overrides Default.
type Limits struct {
	Default   int64
	PerMarket map[string]int64
}

func (l Limits) For(ref domain.MarketRef) int64 {
	if v, ok := l.PerMarket[ref.Key()]; ok {
		return v
	}
	return l.Default
}

// book is the state of one market. Its mutex serializes every update to
// the market without blocking other markets.
type book struct {
	mu       sync.Mutex
	pos      domain.Position
	applied  map[string]int64
	reserved int64
}

// Tracker owns every Position. Apply is the only writer.
type Tracker struct {
	limits Limits
	store  domain.PositionStore
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	books map[domain.MarketRef]*book
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists every applied change.
func WithStore(s domain.PositionStore) Option {
	return func(t *Tracker) { t.store = s }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty ledger.
func NewTracker(limits Limits, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		limits: limits,
		now:    time.Now,
		logger: logger.With(slog.String("component", "position")),
		books:  make(map[domain.MarketRef]*book),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) book(ref domain.MarketRef) *book {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.books[ref]
	if !ok {
		b = &book{
			pos:     domain.Position{Market: ref},
			applied: make(map[string]int64),
		}
		t.books[ref] = b
	}
	return b
}

// Limit returns the position cap for ref.
func (t *Tracker) Limit(ref domain.MarketRef) int64 {
	return t.limits.For(ref)
}

// Headroom is the number of contracts that may still be committed on ref:
// limit − |net| − reserved, floored at zero.
func (t *Tracker) Headroom(ref domain.MarketRef) int64 {
	b := t.book(ref)
	b.mu.Lock()
	defer b.mu.Unlock()
	return t.headroomLocked(ref, b)
}

func (t *Tracker) headroomLocked(ref domain.MarketRef, b *book) int64 {
	h := t.limits.For(ref) - b.pos.Abs() - b.reserved
	if h < 0 {
		return 0
	}
	return h
}

// Reservation holds headroom for an order that has not resolved yet.
type Reservation struct {
	t    *Tracker
	ref  domain.MarketRef
	n    int64
	once sync.Once
}

// Release returns the reserved headroom. It is safe to call more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		b := r.t.book(r.ref)
		b.mu.Lock()
		b.reserved -= r.n
		b.mu.Unlock()
	})
}

// Reserve claims n contracts of headroom on ref, failing with
// ErrInsufficientHeadroom when fewer remain.
func (t *Tracker) Reserve(ref domain.MarketRef, n int64) (*Reservation, error) {
	if n <= 0 {
		return nil, fmt.Errorf("position: reserve %d contracts on %s: %w", n, ref, domain.ErrInvalidOrder)
	}
	b := t.book(ref)
	b.mu.Lock()
	defer b.mu.Unlock()

	if h := t.headroomLocked(ref, b); n > h {
		return nil, fmt.Errorf("position: %s needs %d, headroom %d: %w", ref, n, h, domain.ErrInsufficientHeadroom)
	}
	b.reserved += n
	return &Reservation{t: t, ref: ref, n: n}, nil
}

// Apply books a venue-confirmed fill. Fills are idempotent by OrderID:
// Contracts is cumulative, so only the increase over what was already
// applied for that order changes the position.
func (t *Tracker) Apply(ctx context.Context, f domain.Fill) (domain.Position, error) {
	if f.OrderID == "" {
		return domain.Position{}, fmt.Errorf("position: fill without order id: %w", domain.ErrInvalidOrder)
	}
	if f.Contracts < 0 || f.PriceCents < 0 || f.PriceCents > 100 {
		return domain.Position{}, fmt.Errorf("position: fill %s: contracts=%d price=%d: %w",
			f.OrderID, f.Contracts, f.PriceCents, domain.ErrInvalidOrder)
	}

	b := t.book(f.Market)
	b.mu.Lock()
	delta := f.Contracts - b.applied[f.OrderID]
	if delta <= 0 {
		pos := b.pos
		b.mu.Unlock()
		return pos, nil
	}
	b.applied[f.OrderID] = f.Contracts

	at := f.At
	if at.IsZero() {
		at = t.now()
	}
	b.pos = applyFill(b.pos, f.SignedDirection()*delta, decimal.NewFromInt(f.YesPriceCents()), at)
	pos := b.pos
	limit := t.limits.For(f.Market)
	b.mu.Unlock()

	t.logger.DebugContext(ctx, "position: fill applied",
		slog.String("market", f.Market.Key()),
		slog.String("order_id", f.OrderID),
		slog.Int64("delta", delta),
		slog.Int64("net", pos.NetContracts),
		slog.String("avg_entry_cents", pos.AvgEntryCents.StringFixed(2)),
	)
	if pos.Abs() > limit {
		t.logger.ErrorContext(ctx, "position: limit exceeded by confirmed fill",
			slog.String("market", f.Market.Key()),
			slog.Int64("net", pos.NetContracts),
			slog.Int64("limit", limit),
		)
	}

	if t.store != nil {
		if err := t.store.UpsertPosition(ctx, pos); err != nil {
			t.logger.WarnContext(ctx, "position: persist failed",
				slog.String("market", f.Market.Key()),
				slog.String("error", err.Error()),
			)
		}
	}
	return pos, nil
}

// applyFill moves pos by signed contracts at price (YES terms). Adding to
// the position volume-weights the average entry; reducing it realizes PnL
// against the average; crossing zero restarts the average at price.
func applyFill(pos domain.Position, signed int64, price decimal.Decimal, at time.Time) domain.Position {
	net := pos.NetContracts
	size := abs(signed)

	switch {
	case net == 0 || (net > 0) == (signed > 0):
		held := decimal.NewFromInt(abs(net))
		total := held.Add(decimal.NewFromInt(size))
		pos.AvgEntryCents = pos.AvgEntryCents.Mul(held).Add(price.Mul(decimal.NewFromInt(size))).Div(total)
	default:
		closing := min(abs(net), size)
		dir := decimal.NewFromInt(1)
		if net < 0 {
			dir = dir.Neg()
		}
		pnl := price.Sub(pos.AvgEntryCents).Mul(decimal.NewFromInt(closing)).Mul(dir)
		pos.RealizedCents = pos.RealizedCents.Add(pnl)
		switch {
		case size > abs(net):
			pos.AvgEntryCents = price
		case size == abs(net):
			pos.AvgEntryCents = decimal.Zero
		}
	}
	pos.NetContracts = net + signed
	pos.UpdatedAt = at
	return pos
}

// Get returns the position on ref. Unknown markets are flat.
func (t *Tracker) Get(ref domain.MarketRef) domain.Position {
	b := t.book(ref)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// Positions returns every non-flat position ordered by market key.
func (t *Tracker) Positions() []domain.Position {
	t.mu.Lock()
	books := make([]*book, 0, len(t.books))
	for _, b := range t.books {
		books = append(books, b)
	}
	t.mu.Unlock()

	out := make([]domain.Position, 0, len(books))
	for _, b := range books {
		b.mu.Lock()
		if b.pos.NetContracts != 0 || !b.pos.RealizedCents.IsZero() {
			out = append(out, b.pos)
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Market.Key() < out[j].Market.Key() })
	return out
}

// Restore seeds the ledger from persisted positions. It must run before
// any fill is applied.
func (t *Tracker) Restore(positions []domain.Position) {
	for _, p := range positions {
		b := t.book(p.Market)
		b.mu.Lock()
		b.pos = p
		b.mu.Unlock()
	}
}

// Load restores positions from the configured store.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	positions, err := t.store.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("position: load: %w", err)
	}
	t.Restore(positions)
	t.logger.InfoContext(ctx, "position: restored", slog.Int("markets", len(positions)))
	return nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
