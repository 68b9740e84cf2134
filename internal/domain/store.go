package domain

import (
	"context"
	"time"
)

// ListOpts controls pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// TradeStore persists execution attempts.
type TradeStore interface {
	SaveTrade(ctx context.Context, t Trade) error
	GetTrade(ctx context.Context, id string) (Trade, error)
	ListTrades(ctx context.Context, opts ListOpts) ([]Trade, error)
}

// PositionStore persists the position ledger.
type PositionStore interface {
	UpsertPosition(ctx context.Context, p Position) error
	ListPositions(ctx context.Context) ([]Position, error)
}

// PairStore persists matched pairs so restarts skip rediscovery.
type PairStore interface {
	UpsertPair(ctx context.Context, p MatchedPair) error
	DeletePair(ctx context.Context, key string) error
	ListPairs(ctx context.Context) ([]MatchedPair, error)
}

// AuditStore records operational events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
