package domain

import (
	"context"
	"time"
)

// QuoteMirror publishes quotes to a shared cache for other processes.
type QuoteMirror interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, ref MarketRef) (Quote, error)
	DeleteQuote(ctx context.Context, ref MarketRef) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channel names.
const (
	ChannelOpportunities = "opportunities"
	ChannelTrades        = "trades"
	ChannelBreaker       = "breaker"
)
