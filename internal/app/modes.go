package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/breaker"
	"github.com/alanyoungcy/crossarb/internal/cache/redis"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/detector"
	"github.com/alanyoungcy/crossarb/internal/discovery"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/executor"
	"github.com/alanyoungcy/crossarb/internal/feed"
	"github.com/alanyoungcy/crossarb/internal/matcher"
	"github.com/alanyoungcy/crossarb/internal/notify"
	"github.com/alanyoungcy/crossarb/internal/position"
	"github.com/alanyoungcy/crossarb/internal/pricecache"
	"github.com/alanyoungcy/crossarb/internal/server"
	"github.com/alanyoungcy/crossarb/internal/server/handler"
	"github.com/alanyoungcy/crossarb/internal/server/ws"
)

const (
	updateBuffer    = 1024
	auditTimeout    = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// runtime is the assembled bot.
type runtime struct {
	cache     *pricecache.Cache
	pairs     *matcher.Matcher
	feeds     *feed.Hub
	discovery *discovery.Discovery
	detector  *detector.Detector
	breaker   *breaker.Breaker
	ledger    *position.Tracker
	perf      *notify.PerformanceTracker
	notifier  *notify.Notifier
	// engine is nil in monitor mode.
	engine *executor.Engine
	// publisher is nil when neither Redis nor the WebSocket hub is enabled.
	publisher *redis.Publisher
	// spool is nil when no trade store or archive is configured.
	spool  *executor.Spool
	hub    *ws.Hub
	server *server.Server
	audit  domain.AuditStore
	logger *slog.Logger

	started sync.Once
}

// build assembles the components for the configured mode and restores
// persisted state.
func (a *App) build(ctx context.Context, deps *Dependencies) (*runtime, error) {
	cfg := a.cfg
	rt := &runtime{
		cache:    pricecache.New(cfg.Arbitrage.StalenessHorizon.Duration),
		notifier: deps.Notifier,
		logger:   a.logger,
	}
	if deps.Store != nil {
		rt.audit = deps.Store
	}

	predicate := matcher.Chain{matcher.ExplicitMap(cfg.Discovery.MarketMap)}
	if cfg.Discovery.Enabled {
		predicate = append(predicate, matcher.KeywordPredicate{
			MinShared:      cfg.Discovery.MinShared,
			MinScore:       cfg.Discovery.MinScore,
			CloseTolerance: cfg.Discovery.CloseTolerance.Duration,
		})
	}
	rt.pairs = matcher.New(predicate, cfg.Discovery.MinConfidence)
	rt.perf = notify.NewPerformanceTracker(func() int { return len(rt.pairs.Markets()) })

	venues, err := buildVenues(ctx, cfg, rt.cache, a.logger)
	if err != nil {
		return nil, err
	}

	var feedOpts []feed.Option
	if deps.Mirror != nil {
		feedOpts = append(feedOpts, feed.WithMirror(deps.Mirror))
	}
	rt.feeds, err = feed.NewHub(rt.cache, venues.streams, a.logger, feedOpts...)
	if err != nil {
		return nil, err
	}

	discOpts := []discovery.Option{}
	for id, r := range venues.routers {
		discOpts = append(discOpts, discovery.WithRouter(id, r))
	}
	if deps.Store != nil {
		discOpts = append(discOpts, discovery.WithStore(deps.Store))
	}
	rt.discovery = discovery.New(
		discovery.KalshiCatalog(venues.kalshi, cfg.Kalshi.MaxMarkets),
		discovery.PolymarketCatalog(venues.gamma, cfg.Polymarket.MaxMarkets),
		rt.pairs, rt.feeds, a.logger, discOpts...,
	)
	if n, err := rt.discovery.Load(ctx); err != nil {
		a.logger.Warn("app: restore pairs failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.Info("app: pairs restored", slog.Int("pairs", n))
	}

	var ledgerOpts []position.Option
	if deps.Store != nil {
		ledgerOpts = append(ledgerOpts, position.WithStore(deps.Store))
	}
	rt.ledger = position.NewTracker(position.Limits{
		Default:   cfg.Risk.MaxPosition,
		PerMarket: cfg.Risk.PerMarket,
	}, a.logger, ledgerOpts...)
	if err := rt.ledger.Load(ctx); err != nil {
		return nil, fmt.Errorf("restore positions: %w", err)
	}

	rt.breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.Risk.FailureThreshold,
		Cooldown:         cfg.Risk.Cooldown.Duration,
	}, a.logger)
	rt.breaker.OnTransition(rt.onBreaker)

	if cfg.Server.Enabled {
		var hubOpts []ws.Option
		if deps.SignalBus != nil {
			hubOpts = append(hubOpts, ws.WithRelay(deps.SignalBus))
		}
		hubOpts = append(hubOpts, ws.WithStatus(func() any { return rt.status(cfg.Mode) }))
		rt.hub = ws.NewHub(a.logger, hubOpts...)
	}
	switch {
	case deps.SignalBus != nil:
		rt.publisher = redis.NewPublisher(deps.SignalBus, redis.PublisherConfig{}, a.logger)
	case rt.hub != nil:
		rt.publisher = redis.NewPublisher(rt.hub, redis.PublisherConfig{}, a.logger)
	}

	if cfg.Mode != "monitor" {
		rt.engine = a.buildEngine(rt, deps, venues.orders)
	}

	rt.detector = detector.New(rt.cache, rt.pairs, detector.Config{
		Params: detector.Params{
			MinProfitCents: cfg.Arbitrage.MinProfitCents,
			FeePerLegCents: cfg.Arbitrage.FeePerLegCents,
		},
		PollInterval:     cfg.Arbitrage.PollInterval.Duration,
		HysteresisWindow: cfg.Arbitrage.HysteresisWindow.Duration,
	}, a.logger)

	if cfg.Server.Enabled {
		var trades handler.TradeLister
		if deps.Store != nil {
			trades = deps.Store
		}
		api := handler.NewAPI(handler.Deps{
			Mode:      cfg.Mode,
			Breaker:   rt.breaker,
			Positions: rt.ledger,
			Pairs:     rt.pairs,
			Quotes:    rt.cache,
			Stats:     rt.perf,
			Trades:    trades,
			Config:    config.RedactedConfig(cfg),
		}, a.logger)
		rt.server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
		}, api, rt.hub, a.logger)
	}
	return rt, nil
}

func (a *App) buildEngine(rt *runtime, deps *Dependencies, venues []domain.Venue) *executor.Engine {
	cfg := a.cfg
	opts := []executor.Option{
		executor.WithQuotes(rt.cache),
		executor.OnTrade(rt.onTrade),
		executor.OnLateFill(rt.onLateFill),
	}
	if cfg.Execution.DistributedLocks && deps.Locks != nil {
		opts = append(opts, executor.WithLocker(executor.ChainLocker{
			executor.NewLocalLocker(),
			executor.NewDistributedLocker(deps.Locks, cfg.Execution.LockTTL.Duration),
		}))
	}
	var slow []executor.Recorder
	if deps.Store != nil {
		slow = append(slow, deps.Store)
	}
	if deps.Archiver != nil {
		slow = append(slow, deps.Archiver)
	}
	if len(slow) > 0 {
		rt.spool = executor.NewSpool(executor.SpoolConfig{
			FlushTimeout: cfg.Execution.DrainTimeout.Duration,
		}, a.logger, slow...)
		opts = append(opts, executor.WithRecorder(rt.spool))
	}
	if rt.publisher != nil {
		opts = append(opts, executor.WithRecorder(rt.publisher))
	}
	return executor.New(executor.Config{
		Contracts:          cfg.Arbitrage.ContractsPerTrade,
		FeePerLegCents:     cfg.Arbitrage.FeePerLegCents,
		LegTimeout:         cfg.Execution.LegTimeout.Duration,
		LateFillHorizon:    cfg.Execution.LateFillHorizon.Duration,
		StatusPollInterval: cfg.Execution.StatusPollInterval.Duration,
		StalenessHorizon:   cfg.Arbitrage.StalenessHorizon.Duration,
	}, venues, rt.breaker, rt.ledger, rt.pairs, a.logger, opts...)
}

// serve runs every component until ctx is cancelled, then drains
// executions and delivers the final notifications. The notifier, the
// publisher and the archiver run on their own group so trades completed
// during the drain and the bot-stopped event are still delivered. The
// spool stops first so its last trades reach the archiver.
func (a *App) serve(ctx context.Context, rt *runtime, deps *Dependencies) error {
	cfg := a.cfg

	tailCtx, stopTail := context.WithCancel(context.WithoutCancel(ctx))
	defer stopTail()
	tail, tailCtx := errgroup.WithContext(tailCtx)
	tail.Go(func() error { return deps.Notifier.Run(tailCtx) })
	if deps.Archiver != nil {
		tail.Go(func() error { return deps.Archiver.Run(tailCtx, cfg.S3.FlushInterval.Duration) })
	}
	if rt.publisher != nil {
		tail.Go(func() error { return rt.publisher.Run(tailCtx) })
	}

	spoolCtx, stopSpool := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSpool()
	var spool errgroup.Group
	if rt.spool != nil {
		spool.Go(func() error { return rt.spool.Run(spoolCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.feeds.Run(gctx) })
	g.Go(func() error { return rt.runDiscovery(gctx, cfg) })
	g.Go(func() error {
		return rt.detector.Run(gctx, rt.cache.Subscribe(updateBuffer), rt.onOpportunity)
	})
	g.Go(func() error { return rt.perf.Report(gctx, deps.Notifier, cfg.Notify.StatusInterval.Duration) })
	if rt.hub != nil {
		g.Go(func() error { return rt.hub.Run(gctx) })
	}
	if rt.server != nil {
		g.Go(rt.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return rt.server.Shutdown(sctx)
		})
	}

	a.logger.InfoContext(ctx, "app: running",
		slog.String("mode", cfg.Mode),
		slog.Bool("executes", rt.engine != nil),
		slog.Bool("server", rt.server != nil),
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	reason := "shutdown requested"
	if err != nil {
		reason = err.Error()
		deps.Notifier.Publish(notify.Error{Message: err.Error(), At: time.Now()})
	}

	if rt.engine != nil {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Execution.DrainTimeout.Duration)
		if derr := rt.engine.Shutdown(dctx); derr != nil {
			a.logger.Warn("app: drain incomplete", slog.String("error", derr.Error()))
		}
		cancel()
	}
	stopSpool()
	_ = spool.Wait()

	deps.Notifier.Publish(notify.BotStopped{Reason: reason, At: time.Now()})
	stopTail()
	if terr := tail.Wait(); terr != nil && !errors.Is(terr, context.Canceled) {
		a.logger.Warn("app: final flush failed", slog.String("error", terr.Error()))
	}
	a.logger.Info("app: stopped", slog.String("reason", reason))
	return err
}

// runDiscovery loads the catalogs on a loop, or once when keyword
// discovery is disabled so the pinned market map is still registered.
func (rt *runtime) runDiscovery(ctx context.Context, cfg *config.Config) error {
	if cfg.Discovery.Enabled {
		return rt.discovery.RunLoop(ctx, cfg.Discovery.Interval.Duration, func(discovery.Result) {
			rt.announce(cfg.Mode)
		})
	}
	if _, err := rt.discovery.Run(ctx); err != nil {
		rt.logger.Error("app: discovery failed", slog.String("error", err.Error()))
		rt.notifier.Publish(notify.Error{Message: err.Error(), At: time.Now()})
	}
	rt.announce(cfg.Mode)
	<-ctx.Done()
	return nil
}

// announce publishes bot-started once, after the first discovery pass.
func (rt *runtime) announce(mode string) {
	rt.started.Do(func() {
		rt.notifier.Publish(notify.BotStarted{Mode: mode, Markets: len(rt.pairs.Markets()), At: time.Now()})
	})
}

func (rt *runtime) onOpportunity(ctx context.Context, opp domain.Opportunity) {
	rt.perf.RecordOpportunity()
	rt.notifier.Publish(notify.FromOpportunity(opp))
	if rt.publisher != nil {
		if err := rt.publisher.PublishOpportunity(ctx, opp); err != nil {
			rt.logger.Warn("app: publish opportunity failed", slog.String("error", err.Error()))
		}
	}
	if rt.engine != nil {
		// Executions outlive the detector so shutdown can drain them.
		rt.engine.Go(context.WithoutCancel(ctx), opp)
	}
}

func (rt *runtime) onTrade(_ context.Context, t domain.Trade) {
	rt.perf.RecordTrade(t)
	rt.notifier.Publish(notify.FromTrade(t))
	if !t.Success {
		rt.notifier.Publish(notify.Error{
			Message: fmt.Sprintf("trade %s on %s failed: %s", t.ID, t.Pair.Label(), t.FailureReason),
			At:      t.CompletedAt,
		})
	}
}

func (rt *runtime) onLateFill(ctx context.Context, leg domain.LegOutcome) {
	rt.logger.Warn("app: late fill booked",
		slog.String("order_id", leg.Request.ClientOrderID),
		slog.String("market", leg.Request.Market.Key()),
		slog.Int64("contracts", leg.Outcome.FilledContracts),
	)
	if rt.audit == nil {
		return
	}
	if err := rt.audit.Log(ctx, "trade.late_fill", map[string]any{
		"order_id":    leg.Request.ClientOrderID,
		"market":      leg.Request.Market.Key(),
		"contracts":   leg.Outcome.FilledContracts,
		"price_cents": leg.Outcome.FillPriceCents,
	}); err != nil {
		rt.logger.Warn("app: audit late fill failed", slog.String("error", err.Error()))
	}
}

// onBreaker runs under the breaker's no-block contract, so the audit write
// happens on its own goroutine.
func (rt *runtime) onBreaker(from, to breaker.State, snap breaker.Snapshot) {
	if to == breaker.Open {
		rt.notifier.Publish(notify.Error{
			Message: fmt.Sprintf("circuit breaker open (%s), trading paused for %s", snap.Reason, snap.Cooldown),
			At:      time.Now(),
		})
	}
	ev := redis.BreakerEvent{From: from.String(), To: to.String(), Reason: snap.Reason}
	if rt.publisher != nil {
		if err := rt.publisher.PublishBreaker(context.Background(), ev); err != nil {
			rt.logger.Warn("app: publish breaker failed", slog.String("error", err.Error()))
		}
	}
	if rt.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := rt.audit.Log(ctx, "breaker."+ev.To, map[string]any{"from": ev.From, "reason": ev.Reason}); err != nil {
			rt.logger.Warn("app: audit breaker failed", slog.String("error", err.Error()))
		}
	}()
}

// status is the snapshot sent to dashboard clients on connect.
func (rt *runtime) status(mode string) map[string]any {
	st := rt.perf.Status()
	return map[string]any{
		"mode":                   mode,
		"breaker":                rt.breaker.State().String(),
		"uptime_seconds":         int64(st.Uptime.Seconds()),
		"pairs":                  rt.pairs.Len(),
		"positions":              len(rt.ledger.Positions()),
		"total_trades":           st.TotalTrades,
		"profit_cents":           st.ProfitCents,
		"opportunities_detected": st.OpportunitiesDetected,
	}
}
