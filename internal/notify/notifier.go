// Package notify delivers operator notifications. Events are queued
// without blocking the trading path, rendered once, and fanned out to every
// registered sender (Telegram, Discord) subject to an event-kind filter.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one rendered notification.
	Send(ctx context.Context, m Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Config tunes the delivery queue.
type Config struct {
	// QueueSize bounds the number of undelivered events. Publish drops
	// events once it is full.
	QueueSize int
	// MinInterval is the pause between consecutive deliveries.
	MinInterval time.Duration
	// FlushTimeout bounds delivery of queued events after shutdown.
	FlushTimeout time.Duration
	// Events lists the kinds to deliver. Empty means all.
	Events []string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders []Sender
	events  map[Kind]bool
	queue   chan Event
	cfg     Config
	dropped atomic.Int64
	sent    atomic.Int64
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	allowed := make(map[Kind]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[Kind(e)] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan Event, cfg.QueueSize),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Publish enqueues e and never blocks. It returns false when the event was
// filtered out or dropped because the queue is full.
func (n *Notifier) Publish(e Event) bool {
	if !n.Enabled() || !n.allowed(e.Kind()) {
		return false
	}
	select {
	case n.queue <- e:
		return true
	default:
		if d := n.dropped.Add(1); d == 1 || d%100 == 0 {
			n.logger.Warn("notifier: queue full, dropping",
				slog.String("kind", string(e.Kind())),
				slog.Int64("dropped_total", d),
			)
		}
		return false
	}
}

// Dropped returns the number of events lost to a full queue.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Sent returns the number of events delivered to at least one sender.
func (n *Notifier) Sent() int64 { return n.sent.Load() }

func (n *Notifier) allowed(k Kind) bool {
	return len(n.events) == 0 || n.events[k]
}

// Run delivers queued events until ctx is cancelled, then spends at most
// FlushTimeout delivering what is still queued.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.flush(context.WithoutCancel(ctx))
			return nil
		case e := <-n.queue:
			n.deliver(ctx, e)
			if !n.pause(ctx) {
				n.flush(context.WithoutCancel(ctx))
				return nil
			}
		}
	}
}

func (n *Notifier) pause(ctx context.Context) bool {
	if n.cfg.MinInterval <= 0 {
		return true
	}
	t := time.NewTimer(n.cfg.MinInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (n *Notifier) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.FlushTimeout)
	defer cancel()
	for {
		select {
		case e := <-n.queue:
			n.deliver(ctx, e)
		default:
			return
		}
		if ctx.Err() != nil {
			if left := len(n.queue); left > 0 {
				n.logger.Warn("notifier: flush timed out", slog.Int("undelivered", left))
			}
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, e Event) {
	if err := n.Dispatch(ctx, e); err != nil {
		n.logger.WarnContext(ctx, "notifier: delivery failed",
			slog.String("kind", string(e.Kind())),
			slog.String("error", err.Error()),
		)
	}
}

// Dispatch renders e and sends it to every sender synchronously,
// bypassing the queue and the filter. A single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) Dispatch(ctx context.Context, e Event) error {
	if len(n.senders) == 0 {
		return nil
	}
	m := Render(e)

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("kind", string(m.Kind)),
		)
	}
	if len(errs) < len(n.senders) {
		n.sent.Add(1)
	}
	return errors.Join(errs...)
}
