package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// SignalBus implements domain.SignalBus with Redis Pub/Sub. Channel names
// are namespaced with the client's key prefix.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. Channels
// containing glob characters are pattern subscriptions. The returned
// channel closes when ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.c.key(channel)
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.c.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = sb.c.rdb.Subscribe(ctx, name)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)

// Event is the JSON envelope every bus message is wrapped in.
type Event struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// BreakerEvent is published on every breaker transition.
type BreakerEvent struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// Broadcaster is the publish side of a bus. SignalBus satisfies it, and so
// does the dashboard hub when Redis is not configured.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PublisherConfig tunes the publish outbox.
type PublisherConfig struct {
	// QueueSize bounds the number of unsent events.
	QueueSize int
	// SendTimeout bounds each Publish on the bus.
	SendTimeout time.Duration
	// FlushTimeout bounds delivery of queued events after shutdown.
	FlushTimeout time.Duration
}

type outgoing struct {
	channel string
	payload []byte
}

// Publisher encodes domain events as Event envelopes onto a Broadcaster.
// Events are queued and sent by Run, so callers never wait on the bus.
type Publisher struct {
	bus     Broadcaster
	cfg     PublisherConfig
	outbox  chan outgoing
	dropped atomic.Int64
	now     func() time.Time
	logger  *slog.Logger
}

// NewPublisher creates a Publisher on bus.
func NewPublisher(bus Broadcaster, cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	return &Publisher{
		bus:    bus,
		cfg:    cfg,
		outbox: make(chan outgoing, cfg.QueueSize),
		now:    time.Now,
		logger: logger.With(slog.String("component", "publisher")),
	}
}

// Name identifies the publisher as a trade recorder.
func (p *Publisher) Name() string { return "bus" }

// RecordTrade queues a completed trade for the trades channel.
func (p *Publisher) RecordTrade(_ context.Context, t domain.Trade) error {
	return p.enqueue(domain.ChannelTrades, "trade", t)
}

// PublishOpportunity queues a detected opportunity.
func (p *Publisher) PublishOpportunity(_ context.Context, o domain.Opportunity) error {
	return p.enqueue(domain.ChannelOpportunities, "opportunity", o)
}

// PublishBreaker queues a breaker transition.
func (p *Publisher) PublishBreaker(_ context.Context, ev BreakerEvent) error {
	return p.enqueue(domain.ChannelBreaker, "breaker", ev)
}

// Dropped returns the number of events lost to a full outbox.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

func (p *Publisher) enqueue(channel, typ string, v any) error {
	payload, err := EncodeEvent(typ, p.now(), v)
	if err != nil {
		return err
	}
	select {
	case p.outbox <- outgoing{channel: channel, payload: payload}:
		return nil
	default:
		p.dropped.Add(1)
		return fmt.Errorf("redis: publish %s: %w", channel, domain.ErrQueueFull)
	}
}

// Run sends queued events until ctx is cancelled, then spends at most
// FlushTimeout sending what is still queued.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.flush(context.WithoutCancel(ctx))
			return nil
		case m := <-p.outbox:
			p.send(ctx, m)
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FlushTimeout)
	defer cancel()
	for ctx.Err() == nil {
		select {
		case m := <-p.outbox:
			p.send(ctx, m)
		default:
			return
		}
	}
	if left := len(p.outbox); left > 0 {
		p.logger.Warn("publisher: flush timed out", slog.Int("unsent", left))
	}
}

func (p *Publisher) send(ctx context.Context, m outgoing) {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SendTimeout)
	defer cancel()
	if err := p.bus.Publish(sctx, m.channel, m.payload); err != nil {
		p.logger.WarnContext(ctx, "publisher: send failed",
			slog.String("channel", m.channel),
			slog.String("error", err.Error()),
		)
	}
}

// EncodeEvent wraps v in an Event envelope.
func EncodeEvent(typ string, at time.Time, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("redis: encode %s: %w", typ, err)
	}
	return json.Marshal(Event{Type: typ, At: at.UTC(), Data: data})
}

// DecodeEvent unwraps an Event envelope.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("redis: decode event: %w", err)
	}
	return ev, nil
}
