package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// SpoolConfig tunes a Spool.
type SpoolConfig struct {
	// QueueSize bounds the number of trades waiting to be recorded.
	QueueSize int
	// RecordTimeout bounds each RecordTrade call on a wrapped recorder.
	RecordTimeout time.Duration
	// FlushTimeout bounds recording of queued trades after shutdown.
	FlushTimeout time.Duration
}

// Spool is a Recorder that queues trades and hands them to slower
// recorders (databases, object storage) from its own goroutine.
type Spool struct {
	recorders []Recorder
	cfg       SpoolConfig
	queue     chan domain.Trade
	dropped   atomic.Int64
	logger    *slog.Logger
}

// NewSpool creates a Spool in front of recorders. Run must be started for
// queued trades to be recorded.
func NewSpool(cfg SpoolConfig, logger *slog.Logger, recorders ...Recorder) *Spool {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 10 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 30 * time.Second
	}
	return &Spool{
		recorders: recorders,
		cfg:       cfg,
		queue:     make(chan domain.Trade, cfg.QueueSize),
		logger:    logger.With(slog.String("component", "spool")),
	}
}

func (s *Spool) Name() string { return "spool" }

// RecordTrade queues t and never blocks.
func (s *Spool) RecordTrade(_ context.Context, t domain.Trade) error {
	select {
	case s.queue <- t:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("executor: spool trade %s: %w", t.ID, domain.ErrQueueFull)
	}
}

// Dropped returns the number of trades lost to a full queue.
func (s *Spool) Dropped() int64 { return s.dropped.Load() }

// Run records queued trades until ctx is cancelled, then spends at most
// FlushTimeout recording what is still queued.
func (s *Spool) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush(context.WithoutCancel(ctx))
			return nil
		case t := <-s.queue:
			s.record(context.WithoutCancel(ctx), t)
		}
	}
}

func (s *Spool) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FlushTimeout)
	defer cancel()
	for ctx.Err() == nil {
		select {
		case t := <-s.queue:
			s.record(ctx, t)
		default:
			return
		}
	}
	if left := len(s.queue); left > 0 {
		s.logger.Warn("spool: flush timed out", slog.Int("unrecorded", left))
	}
}

func (s *Spool) record(ctx context.Context, t domain.Trade) {
	for _, r := range s.recorders {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RecordTimeout)
		err := r.RecordTrade(rctx, t)
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "spool: record trade failed",
				slog.String("recorder", r.Name()),
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
