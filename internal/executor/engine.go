// Package executor places the two legs of an arbitrage and reconciles the
// result into the breaker and the position ledger.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/breaker"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/position"
)

// Breaker is the admission gate.
type Breaker interface {
	Allow() (breaker.Permit, error)
	Cancel(p breaker.Permit)
	Record(p breaker.Permit, success bool)
}

// Ledger is the position tracker as seen by the engine.
type Ledger interface {
	Reserve(ref domain.MarketRef, n int64) (*position.Reservation, error)
	Apply(ctx context.Context, f domain.Fill) (domain.Position, error)
}

// PairRegistry reports whether a pair is still matched.
type PairRegistry interface {
	Contains(p domain.MatchedPair) bool
}

// QuoteSource is the read side of the price cache.
type QuoteSource interface {
	Get(ref domain.MarketRef) (domain.Quote, bool)
}

// Recorder receives completed trades for persistence or fan-out.
// Failures are logged and never affect trading.
type Recorder interface {
	Name() string
	RecordTrade(ctx context.Context, t domain.Trade) error
}

// Config tunes execution.
type Config struct {
	// Contracts is the size of each leg.
	Contracts      int64
	FeePerLegCents int64
	// LegTimeout bounds the wait for each leg's outcome.
	LegTimeout time.Duration
	// LateFillHorizon bounds how long a timed-out submission may keep
	// running so a late confirmation can still be booked. It also bounds
	// status polling of orders the venue left unresolved.
	LateFillHorizon time.Duration
	// StatusPollInterval paces OrderStatus calls for unresolved orders.
	StatusPollInterval time.Duration
	// StalenessHorizon is the maximum age of the quotes behind an
	// opportunity at execution time.
	StalenessHorizon time.Duration
}

// TradeHook observes every completed Trade.
type TradeHook func(ctx context.Context, t domain.Trade)

// LateFillHook observes a leg that resolved after its timeout.
type LateFillHook func(ctx context.Context, leg domain.LegOutcome)

// Engine executes opportunities. Safe for concurrent use: executions on
// different markets run in parallel, executions on the same market are
// rejected with ErrMarketBusy.
type Engine struct {
	cfg       Config
	venues    map[domain.VenueID]domain.Venue
	breaker   Breaker
	ledger    Ledger
	pairs     PairRegistry
	quotes    QuoteSource
	locker    Locker
	recorders []Recorder
	onTrade   []TradeHook
	onLate    []LateFillHook
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the in-process market locker.
func WithLocker(l Locker) Option { return func(e *Engine) { e.locker = l } }

// WithQuotes makes the engine re-check the cache before trading.
func WithQuotes(q QuoteSource) Option { return func(e *Engine) { e.quotes = q } }

// WithRecorder adds a trade recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, r) }
}

// OnTrade adds a completed-trade hook.
func OnTrade(h TradeHook) Option { return func(e *Engine) { e.onTrade = append(e.onTrade, h) } }

// OnLateFill adds a late-fill hook.
func OnLateFill(h LateFillHook) Option { return func(e *Engine) { e.onLate = append(e.onLate, h) } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an Engine over the given venues.
func New(cfg Config, venues []domain.Venue, brk Breaker, ledger Ledger, pairs PairRegistry, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		venues:  make(map[domain.VenueID]domain.Venue, len(venues)),
		breaker: brk,
		ledger:  ledger,
		pairs:   pairs,
		locker:  NewLocalLocker(),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger.With(slog.String("component", "executor")),
	}
	for _, v := range venues {
		e.venues[v.ID()] = v
	}
	if e.cfg.LateFillHorizon < e.cfg.LegTimeout {
		e.cfg.LateFillHorizon = e.cfg.LegTimeout
	}
	if e.cfg.StatusPollInterval <= 0 {
		e.cfg.StatusPollInterval = 500 * time.Millisecond
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// enter registers an execution unless shutdown has begun.
func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.wg.Add(1)
	return true
}

// Go executes opp in the background. Rejections are logged.
func (e *Engine) Go(ctx context.Context, opp domain.Opportunity) {
	if !e.enter() {
		return
	}
	go func() {
		defer e.wg.Done()
		if _, err := e.execute(ctx, opp); err != nil {
			e.logger.InfoContext(ctx, "executor: opportunity rejected",
				slog.String("opportunity_id", opp.ID),
				slog.String("pair", opp.Pair.Key()),
				slog.String("reason", err.Error()),
			)
		}
	}()
}

// Execute runs opp to completion. A non-nil error means the attempt was
// rejected before any order was sent and no Trade exists.
func (e *Engine) Execute(ctx context.Context, opp domain.Opportunity) (domain.Trade, error) {
	if !e.enter() {
		return domain.Trade{}, domain.ErrShuttingDown
	}
	defer e.wg.Done()
	return e.execute(ctx, opp)
}

// Shutdown stops admitting opportunities and waits for in-flight
// executions, including legs still awaiting confirmation.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor: drain: %w", ctx.Err())
	}
}

func (e *Engine) execute(ctx context.Context, opp domain.Opportunity) (domain.Trade, error) {
	yesRef, noRef := opp.YesMarket(), opp.NoMarket()

	if !e.pairs.Contains(opp.Pair) {
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", opp.Pair.Key(), domain.ErrPairUnregistered)
	}
	if err := e.checkFresh(opp, yesRef, noRef); err != nil {
		return domain.Trade{}, err
	}
	yesVenue, ok := e.venues[yesRef.Venue]
	if !ok {
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", yesRef.Venue, domain.ErrUnknownVenue)
	}
	noVenue, ok := e.venues[noRef.Venue]
	if !ok {
		return domain.Trade{}, fmt.Errorf("executor: %s: %w", noRef.Venue, domain.ErrUnknownVenue)
	}

	locks, err := e.lockMarkets(ctx, yesRef, noRef)
	if err != nil {
		return domain.Trade{}, err
	}

	permit, err := e.breaker.Allow()
	if err != nil {
		locks.releaseAll()
		return domain.Trade{}, fmt.Errorf("executor: %w", err)
	}

	n := e.cfg.Contracts
	yesRes, err := e.ledger.Reserve(yesRef, n)
	if err != nil {
		locks.releaseAll()
		e.breaker.Cancel(permit)
		return domain.Trade{}, fmt.Errorf("executor: %w", err)
	}
	noRes, err := e.ledger.Reserve(noRef, n)
	if err != nil {
		yesRes.Release()
		locks.releaseAll()
		e.breaker.Cancel(permit)
		return domain.Trade{}, fmt.Errorf("executor: %w", err)
	}

	// run releases each market once its leg is settled; a leg still
	// pending at the venue keeps its market locked.
	trade := e.run(ctx, opp, yesVenue, noVenue, yesRes, noRes, locks)
	e.breaker.Record(permit, trade.Success)
	e.finish(ctx, trade)
	return trade, nil
}

func (e *Engine) checkFresh(opp domain.Opportunity, refs ...domain.MarketRef) error {
	if h := e.cfg.StalenessHorizon; h > 0 && e.now().Sub(opp.QuotedAt) > h {
		return fmt.Errorf("executor: quoted %s ago: %w", e.now().Sub(opp.QuotedAt).Round(time.Millisecond), domain.ErrStaleOpportunity)
	}
	if e.quotes == nil {
		return nil
	}
	for _, ref := range refs {
		if _, ok := e.quotes.Get(ref); !ok {
			return fmt.Errorf("executor: no fresh quote for %s: %w", ref, domain.ErrStaleOpportunity)
		}
	}
	return nil
}

// marketLocks maps a market key to its unlock. Each unlock is safe to call
// more than once.
type marketLocks map[string]func()

func (m marketLocks) unlock(ref domain.MarketRef) func() {
	if u, ok := m[ref.Key()]; ok {
		return u
	}
	return func() {}
}

func (m marketLocks) releaseAll() {
	for _, u := range m {
		u()
	}
}

// lockMarkets locks both markets in key order.
func (e *Engine) lockMarkets(ctx context.Context, refs ...domain.MarketRef) (marketLocks, error) {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.Key())
	}
	sort.Strings(keys)

	locks := make(marketLocks, len(keys))
	for _, k := range keys {
		u, err := e.locker.TryLock(ctx, k)
		if err != nil {
			locks.releaseAll()
			return nil, err
		}
		locks[k] = sync.OnceFunc(u)
	}
	return locks, nil
}

// leg is one in-flight order submission.
type leg struct {
	venue  domain.Venue
	req    domain.OrderRequest
	res    *position.Reservation
	unlock func()
	// deadline ends both the submission and any status polling.
	deadline time.Time
	done     chan domain.OrderOutcome

	outcome  domain.OrderOutcome
	timedOut bool
	pending  bool
}

func (e *Engine) launch(ctx context.Context, v domain.Venue, req domain.OrderRequest, res *position.Reservation, unlock func()) *leg {
	l := &leg{
		venue:    v,
		req:      req,
		res:      res,
		unlock:   unlock,
		deadline: time.Now().Add(e.cfg.LateFillHorizon),
		done:     make(chan domain.OrderOutcome, 1),
	}
	submitCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), l.deadline)
	go func() {
		defer cancel()
		out, err := v.SubmitOrder(submitCtx, req)
		l.done <- normalize(req, out, err)
	}()
	return l
}

// normalize turns a venue reply into a well-formed outcome.
func normalize(req domain.OrderRequest, out domain.OrderOutcome, err error) domain.OrderOutcome {
	if err != nil {
		status := domain.OrderFailed
		if errors.Is(err, context.DeadlineExceeded) {
			status = domain.OrderTimeout
		}
		return domain.FailedOutcome(out.OrderID, status, err.Error())
	}
	if out.FilledContracts > req.Contracts {
		out.FilledContracts = req.Contracts
	}
	if out.FilledContracts < 0 {
		out.FilledContracts = 0
	}
	switch {
	case out.FilledContracts == 0 && out.Status != domain.OrderTimeout:
		out.Status = domain.OrderFailed
	case out.FilledContracts < req.Contracts:
		out.Status = domain.OrderPartial
	default:
		out.Status = domain.OrderFilled
	}
	return out
}

// unresolved reports whether the venue accepted an order without settling
// it, so only a later status check can tell whether it filled.
func unresolved(out domain.OrderOutcome) bool {
	return out.Status == domain.OrderTimeout && out.FilledContracts == 0 && out.OrderID != ""
}

func (e *Engine) run(ctx context.Context, opp domain.Opportunity, yesVenue, noVenue domain.Venue, yesRes, noRes *position.Reservation, locks marketLocks) domain.Trade {
	n := e.cfg.Contracts
	trade := domain.Trade{
		ID:                   e.newID(),
		OpportunityID:        opp.ID,
		Pair:                 opp.Pair,
		Type:                 opp.Type,
		Contracts:            n,
		EstimatedProfitCents: opp.ProfitCents * n,
		StartedAt:            e.now(),
	}

	legs := []*leg{
		e.launch(ctx, yesVenue, domain.OrderRequest{
			ClientOrderID: e.newID(), Market: opp.YesMarket(), Side: domain.SideYes,
			Action: domain.ActionBuy, Contracts: n, LimitCents: opp.YesCents,
		}, yesRes, locks.unlock(opp.YesMarket())),
		e.launch(ctx, noVenue, domain.OrderRequest{
			ClientOrderID: e.newID(), Market: opp.NoMarket(), Side: domain.SideNo,
			Action: domain.ActionBuy, Contracts: n, LimitCents: opp.NoCents,
		}, noRes, locks.unlock(opp.NoMarket())),
	}

	start := time.Now()
	var g errgroup.Group
	for _, l := range legs {
		g.Go(func() error {
			timer := time.NewTimer(e.cfg.LegTimeout)
			defer timer.Stop()
			select {
			case l.outcome = <-l.done:
			case <-timer.C:
				l.timedOut = true
				l.outcome = domain.FailedOutcome("", domain.OrderTimeout,
					fmt.Sprintf("no confirmation within %s", e.cfg.LegTimeout))
			}
			return nil
		})
	}
	_ = g.Wait()
	trade.Latency = time.Since(start)

	yes, no := legs[0], legs[1]
	trade.YesLeg = domain.LegOutcome{Request: yes.req, Outcome: yes.outcome}
	trade.NoLeg = domain.LegOutcome{Request: no.req, Outcome: no.outcome}

	// Book whatever actually filled before deciding on compensation.
	for _, l := range legs {
		if l.timedOut || unresolved(l.outcome) {
			e.awaitLate(ctx, l)
			continue
		}
		e.book(ctx, domain.LegOutcome{Request: l.req, Outcome: l.outcome})
		l.res.Release()
	}

	trade.Success = trade.YesLeg.FullyFilled() && trade.NoLeg.FullyFilled()
	if !trade.Success {
		trade.FailureReason = failureReason(trade.YesLeg, trade.NoLeg)
		if unhedged := yes.outcome.FilledContracts - no.outcome.FilledContracts; unhedged != 0 {
			trade.Compensation = e.compensate(ctx, trade, unhedged)
		}
	}

	for _, l := range legs {
		if !l.pending {
			l.unlock()
		}
	}

	trade.RealizedProfitCents = realizedProfit(trade, e.cfg.FeePerLegCents)
	trade.CompletedAt = e.now()
	return trade
}

// compensate flattens the over-filled leg once. A positive unhedged count
// means YES filled more than NO.
func (e *Engine) compensate(ctx context.Context, trade domain.Trade, unhedged int64) *domain.LegOutcome {
	over := trade.YesLeg
	if unhedged < 0 {
		over = trade.NoLeg
		unhedged = -unhedged
	}
	req := domain.OrderRequest{
		ClientOrderID: e.newID(),
		Market:        over.Request.Market,
		Side:          over.Request.Side,
		Action:        domain.ActionSell,
		Contracts:     unhedged,
	}

	v := e.venues[req.Market.Venue]
	flatCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LegTimeout)
	defer cancel()
	out, err := v.Flatten(flatCtx, req.Market.MarketID, req.Side, unhedged)
	out = normalize(req, out, err)
	comp := domain.LegOutcome{Request: req, Outcome: out}

	level := slog.LevelWarn
	if out.Status != domain.OrderFilled {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "executor: compensation",
		slog.String("trade_id", trade.ID),
		slog.String("market", req.Market.Key()),
		slog.String("side", string(req.Side)),
		slog.Int64("contracts", unhedged),
		slog.String("status", string(out.Status)),
		slog.Int64("filled", out.FilledContracts),
		slog.String("reason", out.Reason),
	)
	e.book(ctx, comp)
	return &comp
}

// awaitLate keeps the reservation and the market lock of a leg that timed
// out or that the venue left unresolved. Both are released only after the
// final outcome is booked.
func (e *Engine) awaitLate(ctx context.Context, l *leg) {
	l.pending = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer l.unlock()
		defer l.res.Release()
		out := l.outcome
		if l.timedOut {
			out = <-l.done
		}
		if unresolved(out) {
			out = e.resolve(ctx, l, out)
		}
		late := domain.LegOutcome{Request: l.req, Outcome: out}
		if !out.Filled() {
			e.logger.InfoContext(ctx, "executor: pending leg resolved without fill",
				slog.String("order_id", l.req.ClientOrderID),
				slog.String("status", string(out.Status)),
			)
			return
		}
		e.logger.ErrorContext(ctx, "executor: late fill after timeout",
			slog.String("order_id", l.req.ClientOrderID),
			slog.String("market", l.req.Market.Key()),
			slog.Int64("filled", out.FilledContracts),
			slog.Int64("price_cents", out.FillPriceCents),
		)
		e.book(ctx, late)
		for _, h := range e.onLate {
			h(ctx, late)
		}
	}()
}

// resolve polls the venue for an order it accepted without settling,
// until the order settles or the leg's deadline passes.
func (e *Engine) resolve(ctx context.Context, l *leg, out domain.OrderOutcome) domain.OrderOutcome {
	tracker, ok := l.venue.(domain.OrderTracker)
	if !ok {
		e.logger.WarnContext(ctx, "executor: venue cannot report order status",
			slog.String("venue", string(l.venue.ID())),
			slog.String("venue_order_id", out.OrderID),
		)
		return out
	}

	pollCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), l.deadline)
	defer cancel()
	ticker := time.NewTicker(e.cfg.StatusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-pollCtx.Done():
			e.logger.ErrorContext(ctx, "executor: order unresolved at horizon",
				slog.String("order_id", l.req.ClientOrderID),
				slog.String("venue_order_id", out.OrderID),
				slog.String("market", l.req.Market.Key()),
			)
			return out
		case <-ticker.C:
		}
		got, err := tracker.OrderStatus(pollCtx, l.req, out.OrderID)
		if err != nil {
			e.logger.WarnContext(ctx, "executor: order status failed",
				slog.String("venue_order_id", out.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		got = normalize(l.req, got, nil)
		if got.OrderID == "" {
			got.OrderID = out.OrderID
		}
		if !unresolved(got) {
			return got
		}
	}
}

func (e *Engine) book(ctx context.Context, l domain.LegOutcome) {
	if !l.Outcome.Filled() {
		return
	}
	if _, err := e.ledger.Apply(ctx, l.Fill(e.now())); err != nil {
		e.logger.ErrorContext(ctx, "executor: apply fill failed",
			slog.String("order_id", l.Request.ClientOrderID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) finish(ctx context.Context, t domain.Trade) {
	attrs := []any{
		slog.String("trade_id", t.ID),
		slog.String("pair", t.Pair.Key()),
		slog.Bool("success", t.Success),
		slog.Int64("contracts", t.Contracts),
		slog.Int64("realized_profit_cents", t.RealizedProfitCents),
		slog.Duration("latency", t.Latency),
	}
	if t.Success {
		e.logger.InfoContext(ctx, "executor: trade complete", attrs...)
	} else {
		e.logger.WarnContext(ctx, "executor: trade failed", append(attrs, slog.String("reason", t.FailureReason))...)
	}

	recCtx := context.WithoutCancel(ctx)
	for _, r := range e.recorders {
		if err := r.RecordTrade(recCtx, t); err != nil {
			e.logger.WarnContext(ctx, "executor: record trade failed",
				slog.String("recorder", r.Name()),
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, h := range e.onTrade {
		h(ctx, t)
	}
}

func failureReason(yes, no domain.LegOutcome) string {
	var parts []string
	for _, l := range []domain.LegOutcome{yes, no} {
		if l.FullyFilled() {
			continue
		}
		msg := fmt.Sprintf("%s leg on %s %s", l.Request.Side, l.Request.Market, l.Outcome.Status)
		if l.Outcome.Filled() && l.Outcome.FilledContracts == l.Request.Contracts {
			msg = fmt.Sprintf("%s leg on %s filled at %d¢ above limit %d¢",
				l.Request.Side, l.Request.Market, l.Outcome.FillPriceCents, l.Request.LimitCents)
		}
		if l.Outcome.Reason != "" {
			msg += ": " + l.Outcome.Reason
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// realizedProfit settles hedged contracts at 100¢, adds compensation
// proceeds, and subtracts every cost and per-contract leg fee.
func realizedProfit(t domain.Trade, feePerLeg int64) int64 {
	yes, no := t.YesLeg.Outcome, t.NoLeg.Outcome
	hedged := min(yes.FilledContracts, no.FilledContracts)

	profit := hedged*100 -
		yes.FilledContracts*yes.FillPriceCents -
		no.FilledContracts*no.FillPriceCents -
		feePerLeg*(yes.FilledContracts+no.FilledContracts)
	if c := t.Compensation; c != nil && c.Outcome.Filled() {
		profit += c.Outcome.FilledContracts*c.Outcome.FillPriceCents - feePerLeg*c.Outcome.FilledContracts
	}
	return profit
}
