package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/breaker"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/matcher"
	"github.com/alanyoungcy/crossarb/internal/position"
)

var (
	refA = domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KXFED"}
	refB = domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: "0xfed"}
	pair = domain.MatchedPair{A: refA, B: refB, Confidence: 1, Title: "Fed cut"}
)

type submitFunc func(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error)

type statusFunc func(ctx context.Context, req domain.OrderRequest, orderID string) (domain.OrderOutcome, error)

type fakeVenue struct {
	id       domain.VenueID
	submit   submitFunc
	flatten  submitFunc
	status   statusFunc
	submits  atomic.Int32
	flattens atomic.Int32
	statuses atomic.Int32
}

func (f *fakeVenue) ID() domain.VenueID { return f.id }

func (f *fakeVenue) GetQuote(context.Context, string) (domain.Quote, error) {
	return domain.Quote{}, domain.ErrNotFound
}

func (f *fakeVenue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	f.submits.Add(1)
	return f.submit(ctx, req)
}

func (f *fakeVenue) Flatten(ctx context.Context, market string, side domain.Side, n int64) (domain.OrderOutcome, error) {
	f.flattens.Add(1)
	if f.flatten == nil {
		return domain.OrderOutcome{OrderID: "flat", FilledContracts: n, FillPriceCents: 39}, nil
	}
	return f.flatten(ctx, domain.OrderRequest{Market: domain.MarketRef{Venue: f.id, MarketID: market}, Side: side, Action: domain.ActionSell, Contracts: n})
}

func (f *fakeVenue) OrderStatus(ctx context.Context, req domain.OrderRequest, orderID string) (domain.OrderOutcome, error) {
	f.statuses.Add(1)
	if f.status == nil {
		return domain.OrderOutcome{}, errors.New("status not supported")
	}
	return f.status(ctx, req, orderID)
}

func fills(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	return domain.OrderOutcome{OrderID: "x-" + req.ClientOrderID, FilledContracts: req.Contracts, FillPriceCents: req.LimitCents}, nil
}

func rejects(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	return domain.FailedOutcome("", domain.OrderFailed, "insufficient liquidity"), nil
}

// delayed mimics a venue that accepts an order but defers matching.
func delayed(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	return domain.FailedOutcome("venue-7", domain.OrderTimeout, "matching delayed"), nil
}

func blocks(release <-chan struct{}, then submitFunc) submitFunc {
	return func(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
		select {
		case <-release:
			return then(ctx, req)
		case <-ctx.Done():
			return domain.OrderOutcome{}, ctx.Err()
		}
	}
}

type harness struct {
	engine  *Engine
	a, b    *fakeVenue
	breaker *breaker.Breaker
	ledger  *position.Tracker
	pairs   *matcher.Matcher
	mu      sync.Mutex
	trades  []domain.Trade
	late    []domain.LegOutcome
}

func newHarness(t *testing.T, cfg Config, a, b submitFunc) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		a:       &fakeVenue{id: domain.VenueKalshi, submit: a},
		b:       &fakeVenue{id: domain.VenuePolymarket, submit: b},
		breaker: breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: time.Hour}, logger),
		ledger:  position.NewTracker(position.Limits{Default: 100}, logger),
		pairs:   matcher.New(matcher.ExplicitMap{}, 0),
	}
	require.NoError(t, h.pairs.Register(pair))
	if cfg.Contracts == 0 {
		cfg.Contracts = 10
	}
	if cfg.LegTimeout == 0 {
		cfg.LegTimeout = time.Second
	}
	h.engine = New(cfg, []domain.Venue{h.a, h.b}, h.breaker, h.ledger, h.pairs, logger,
		OnTrade(func(_ context.Context, tr domain.Trade) {
			h.mu.Lock()
			h.trades = append(h.trades, tr)
			h.mu.Unlock()
		}),
		OnLateFill(func(_ context.Context, l domain.LegOutcome) {
			h.mu.Lock()
			h.late = append(h.late, l)
			h.mu.Unlock()
		}),
	)
	return h
}

func opportunity() domain.Opportunity {
	return domain.Opportunity{
		ID: "opp-1", Pair: pair, Type: domain.ArbBuyYesABuyNoB,
		YesCents: 40, NoCents: 55, ProfitCents: 3,
		DetectedAt: time.Now(), QuotedAt: time.Now(),
	}
}

func TestEngine_BothLegsFill(t *testing.T) {
	h := newHarness(t, Config{FeePerLegCents: 1}, fills, fills)

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)

	assert.True(t, trade.Success)
	assert.Empty(t, trade.FailureReason)
	assert.Nil(t, trade.Compensation)
	assert.Equal(t, int64(30), trade.RealizedProfitCents)
	assert.Equal(t, int64(30), trade.EstimatedProfitCents)
	assert.Equal(t, refA, trade.YesLeg.Request.Market)
	assert.Equal(t, refB, trade.NoLeg.Request.Market)

	assert.Equal(t, int64(10), h.ledger.Get(refA).NetContracts)
	assert.Equal(t, int64(-10), h.ledger.Get(refB).NetContracts)
	assert.Equal(t, int64(90), h.ledger.Headroom(refA), "reservations released")
	assert.Len(t, h.trades, 1)
}

func TestEngine_ReverseDirectionRoutesLegs(t *testing.T) {
	h := newHarness(t, Config{}, fills, fills)
	opp := opportunity()
	opp.Type = domain.ArbBuyYesBBuyNoA

	trade, err := h.engine.Execute(t.Context(), opp)
	require.NoError(t, err)
	assert.Equal(t, refB, trade.YesLeg.Request.Market)
	assert.Equal(t, refA, trade.NoLeg.Request.Market)
	assert.Equal(t, int64(10), h.ledger.Get(refB).NetContracts)
	assert.Equal(t, int64(-10), h.ledger.Get(refA).NetContracts)
}

func TestEngine_RealizedProfitUsesActualFills(t *testing.T) {
	better := func(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
		return domain.OrderOutcome{OrderID: "b", FilledContracts: req.Contracts, FillPriceCents: req.LimitCents - 2}, nil
	}
	h := newHarness(t, Config{}, better, fills)

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	assert.True(t, trade.Success)
	assert.Equal(t, int64(10*(100-38-55)), trade.RealizedProfitCents)
}

func TestEngine_OneLegTimesOutCompensates(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{LegTimeout: 50 * time.Millisecond, LateFillHorizon: 5 * time.Second}, fills, blocks(release, rejects))

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)

	assert.False(t, trade.Success)
	assert.Equal(t, domain.OrderFilled, trade.YesLeg.Outcome.Status)
	assert.Equal(t, domain.OrderTimeout, trade.NoLeg.Outcome.Status)
	require.NotNil(t, trade.Compensation)
	assert.Equal(t, domain.ActionSell, trade.Compensation.Request.Action)
	assert.Equal(t, int64(10), trade.Compensation.Request.Contracts)
	assert.Equal(t, refA, trade.Compensation.Request.Market)
	assert.Equal(t, int32(1), h.a.flattens.Load())
	assert.Equal(t, int32(0), h.b.flattens.Load())
	assert.Contains(t, trade.FailureReason, "timeout")

	assert.Zero(t, h.ledger.Get(refA).NetContracts, "compensation flattened the filled leg")
	assert.Equal(t, int64(90), h.ledger.Headroom(refB), "timed-out leg keeps its reservation")
	assert.Equal(t, 1, h.breaker.Snapshot().ConsecutiveFailures)

	close(release)
	require.NoError(t, h.engine.Shutdown(t.Context()))
	assert.Equal(t, int64(100), h.ledger.Headroom(refB))
	assert.Empty(t, h.late, "late rejection books nothing")
}

func TestEngine_LateFillIsReconciled(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{LegTimeout: 50 * time.Millisecond, LateFillHorizon: 5 * time.Second}, fills, blocks(release, fills))

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	require.False(t, trade.Success)
	assert.Zero(t, h.ledger.Get(refB).NetContracts)

	close(release)
	require.NoError(t, h.engine.Shutdown(t.Context()))

	assert.Equal(t, int64(-10), h.ledger.Get(refB).NetContracts, "late confirmation reaches the ledger")
	require.Len(t, h.late, 1)
	assert.Equal(t, trade.NoLeg.Request.ClientOrderID, h.late[0].Request.ClientOrderID)
}

func TestEngine_CompensationFailureStillFailsTrade(t *testing.T) {
	h := newHarness(t, Config{}, fills, rejects)
	h.a.flatten = func(context.Context, domain.OrderRequest) (domain.OrderOutcome, error) {
		return domain.OrderOutcome{}, errors.New("venue unavailable")
	}

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	assert.False(t, trade.Success)
	require.NotNil(t, trade.Compensation)
	assert.Equal(t, domain.OrderFailed, trade.Compensation.Outcome.Status)
	assert.Equal(t, int32(1), h.a.flattens.Load())
	assert.Equal(t, int64(10), h.ledger.Get(refA).NetContracts, "ledger reflects the unhedged fill")
	assert.Equal(t, int64(-400), trade.RealizedProfitCents)
}

func TestEngine_PartialFillFlattensDifference(t *testing.T) {
	partial := func(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
		return domain.OrderOutcome{OrderID: "p", FilledContracts: 4, FillPriceCents: req.LimitCents}, nil
	}
	h := newHarness(t, Config{}, fills, partial)

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	assert.False(t, trade.Success)
	assert.Equal(t, domain.OrderPartial, trade.NoLeg.Outcome.Status)
	require.NotNil(t, trade.Compensation)
	assert.Equal(t, int64(6), trade.Compensation.Request.Contracts)
	assert.Equal(t, int64(4), h.ledger.Get(refA).NetContracts)
	assert.Equal(t, int64(-4), h.ledger.Get(refB).NetContracts)
}

func TestEngine_NeitherLegFills(t *testing.T) {
	h := newHarness(t, Config{}, rejects, rejects)

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	assert.False(t, trade.Success)
	assert.Nil(t, trade.Compensation)
	assert.Zero(t, h.a.flattens.Load()+h.b.flattens.Load())
	assert.Empty(t, h.ledger.Positions())
	assert.Equal(t, 1, h.breaker.Snapshot().ConsecutiveFailures)
}

func TestEngine_BreakerOpensAndBlocksVenues(t *testing.T) {
	h := newHarness(t, Config{}, rejects, rejects)

	for range 3 {
		_, err := h.engine.Execute(t.Context(), opportunity())
		require.NoError(t, err)
	}
	require.Equal(t, breaker.Open, h.breaker.State())
	submitted := h.a.submits.Load() + h.b.submits.Load()

	_, err := h.engine.Execute(t.Context(), opportunity())
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	assert.Equal(t, submitted, h.a.submits.Load()+h.b.submits.Load(), "no venue contacted while open")
	assert.Len(t, h.trades, 3, "rejections produce no trade")
}

func TestEngine_InsufficientHeadroomRejectsPreflight(t *testing.T) {
	h := newHarness(t, Config{Contracts: 101}, fills, fills)

	_, err := h.engine.Execute(t.Context(), opportunity())
	assert.ErrorIs(t, err, domain.ErrInsufficientHeadroom)
	assert.Zero(t, h.a.submits.Load()+h.b.submits.Load())
	assert.Equal(t, int64(100), h.ledger.Headroom(refA), "partial reservation rolled back")
}

func TestEngine_RejectsUnregisteredAndStale(t *testing.T) {
	h := newHarness(t, Config{StalenessHorizon: time.Second}, fills, fills)

	stale := opportunity()
	stale.QuotedAt = time.Now().Add(-2 * time.Second)
	_, err := h.engine.Execute(t.Context(), stale)
	assert.ErrorIs(t, err, domain.ErrStaleOpportunity)

	h.pairs.RemoveMarket(refB)
	_, err = h.engine.Execute(t.Context(), opportunity())
	assert.ErrorIs(t, err, domain.ErrPairUnregistered)
	assert.Zero(t, h.a.submits.Load()+h.b.submits.Load())
}

func TestEngine_OneExecutionPerMarket(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{LegTimeout: 5 * time.Second}, blocks(release, fills), fills)

	first := make(chan error, 1)
	go func() {
		_, err := h.engine.Execute(t.Context(), opportunity())
		first <- err
	}()
	require.Eventually(t, func() bool { return h.a.submits.Load() == 1 }, time.Second, 5*time.Millisecond)

	_, err := h.engine.Execute(t.Context(), opportunity())
	assert.ErrorIs(t, err, domain.ErrMarketBusy)

	close(release)
	require.NoError(t, <-first)
}

func TestEngine_PendingLegKeepsMarketLocked(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{LegTimeout: 50 * time.Millisecond, LateFillHorizon: 5 * time.Second}, fills, blocks(release, fills))

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	require.Equal(t, domain.OrderTimeout, trade.NoLeg.Outcome.Status)

	_, err = h.engine.Execute(t.Context(), opportunity())
	require.ErrorIs(t, err, domain.ErrMarketBusy, "market with a leg awaiting confirmation stays locked")
	assert.Equal(t, int32(1), h.a.submits.Load())
	assert.Equal(t, int32(1), h.b.submits.Load())

	unlock, err := h.engine.locker.TryLock(t.Context(), refA.Key())
	require.NoError(t, err, "settled leg released its market")
	unlock()

	close(release)
	require.Eventually(t, func() bool {
		_, err := h.engine.Execute(t.Context(), opportunity())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.engine.Shutdown(t.Context()))
	require.Len(t, h.late, 1)
	assert.Equal(t, trade.NoLeg.Request.ClientOrderID, h.late[0].Request.ClientOrderID)
}

func TestEngine_UnresolvedOrderIsPolledUntilFilled(t *testing.T) {
	var matched atomic.Bool
	h := newHarness(t, Config{LateFillHorizon: 5 * time.Second, StatusPollInterval: 10 * time.Millisecond}, fills, delayed)
	h.b.status = func(_ context.Context, req domain.OrderRequest, id string) (domain.OrderOutcome, error) {
		if id != "venue-7" {
			return domain.OrderOutcome{}, domain.ErrNotFound
		}
		if !matched.Load() {
			return domain.FailedOutcome(id, domain.OrderTimeout, "matching delayed"), nil
		}
		return domain.OrderOutcome{OrderID: id, FilledContracts: req.Contracts, FillPriceCents: req.LimitCents}, nil
	}

	trade, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	assert.False(t, trade.Success)
	assert.Equal(t, domain.OrderTimeout, trade.NoLeg.Outcome.Status)
	require.NotNil(t, trade.Compensation)
	assert.Equal(t, refA, trade.Compensation.Request.Market)
	assert.Equal(t, int64(90), h.ledger.Headroom(refB), "unresolved order keeps its reservation")

	_, err = h.engine.Execute(t.Context(), opportunity())
	require.ErrorIs(t, err, domain.ErrMarketBusy)

	require.Eventually(t, func() bool { return h.b.statuses.Load() >= 2 }, time.Second, 5*time.Millisecond)
	matched.Store(true)
	require.NoError(t, h.engine.Shutdown(t.Context()))

	assert.Equal(t, int64(-10), h.ledger.Get(refB).NetContracts, "polled fill reaches the ledger")
	require.Len(t, h.late, 1)
	assert.Equal(t, "venue-7", h.late[0].Outcome.OrderID)
	assert.Equal(t, domain.OrderFilled, h.late[0].Outcome.Status)
}

func TestEngine_UnresolvedOrderGivesUpAtHorizon(t *testing.T) {
	h := newHarness(t, Config{
		LegTimeout: 50 * time.Millisecond, LateFillHorizon: 200 * time.Millisecond, StatusPollInterval: 10 * time.Millisecond,
	}, fills, delayed)
	h.b.status = func(_ context.Context, _ domain.OrderRequest, id string) (domain.OrderOutcome, error) {
		return domain.FailedOutcome(id, domain.OrderTimeout, "matching delayed"), nil
	}

	_, err := h.engine.Execute(t.Context(), opportunity())
	require.NoError(t, err)
	require.NoError(t, h.engine.Shutdown(t.Context()))

	assert.Positive(t, h.b.statuses.Load())
	assert.Zero(t, h.ledger.Get(refB).NetContracts)
	assert.Equal(t, int64(100), h.ledger.Headroom(refB))
	assert.Empty(t, h.late)

	unlock, err := h.engine.locker.TryLock(t.Context(), refB.Key())
	require.NoError(t, err, "market is released once polling stops")
	unlock()
}

func TestEngine_ShutdownDrainsAndRefuses(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, Config{LegTimeout: 5 * time.Second}, blocks(release, fills), fills)

	ctx, cancel := context.WithCancel(t.Context())
	h.engine.Go(ctx, opportunity())
	require.Eventually(t, func() bool { return h.a.submits.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	drained := make(chan error, 1)
	go func() { drained <- h.engine.Shutdown(t.Context()) }()

	require.Eventually(t, func() bool {
		_, err := h.engine.Execute(t.Context(), opportunity())
		return errors.Is(err, domain.ErrShuttingDown)
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-drained)
	require.Len(t, h.trades, 1)
	assert.True(t, h.trades[0].Success, "in-flight execution completes despite cancelled context")
}

func TestNormalize(t *testing.T) {
	req := domain.OrderRequest{Contracts: 10, LimitCents: 40}
	tests := []struct {
		name string
		out  domain.OrderOutcome
		err  error
		want domain.OrderStatus
	}{
		{"full", domain.OrderOutcome{FilledContracts: 10}, nil, domain.OrderFilled},
		{"overfill clamps", domain.OrderOutcome{FilledContracts: 12}, nil, domain.OrderFilled},
		{"partial", domain.OrderOutcome{FilledContracts: 3}, nil, domain.OrderPartial},
		{"none", domain.OrderOutcome{}, nil, domain.OrderFailed},
		{"error", domain.OrderOutcome{}, errors.New("boom"), domain.OrderFailed},
		{"deadline", domain.OrderOutcome{}, context.DeadlineExceeded, domain.OrderTimeout},
		{"venue pending", domain.FailedOutcome("v-1", domain.OrderTimeout, "delayed"), nil, domain.OrderTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalize(req, tc.out, tc.err)
			assert.Equal(t, tc.want, got.Status)
			assert.LessOrEqual(t, got.FilledContracts, req.Contracts)
		})
	}
}

func TestChainLocker(t *testing.T) {
	a, b := NewLocalLocker(), NewLocalLocker()
	chain := ChainLocker{a, b}

	_, err := b.TryLock(t.Context(), "k")
	require.NoError(t, err)
	_, err = chain.TryLock(t.Context(), "k")
	assert.ErrorIs(t, err, domain.ErrMarketBusy)

	unlock, err := a.TryLock(t.Context(), "k")
	require.NoError(t, err, "first locker was released after the chain failed")
	unlock()
}
