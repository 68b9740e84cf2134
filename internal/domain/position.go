package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is a venue-confirmed execution. Contracts is cumulative for the
// order, so re-delivering a fill for the same OrderID is harmless.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Market     MarketRef `json:"market"`
	Side       Side      `json:"side"`
	Action     Action    `json:"action"`
	Contracts  int64     `json:"contracts"`
	PriceCents int64     `json:"price_cents"`
	At         time.Time `json:"at"`
}

// SignedDirection is +1 when the fill adds YES exposure and -1 when it adds
// NO exposure. Holding NO is treated as being short YES.
func (f Fill) SignedDirection() int64 {
	dir := int64(1)
	if f.Side == SideNo {
		dir = -dir
	}
	if f.Action == ActionSell {
		dir = -dir
	}
	return dir
}

// YesPriceCents expresses the fill price in YES terms.
func (f Fill) YesPriceCents() int64 {
	if f.Side == SideNo {
		return 100 - f.PriceCents
	}
	return f.PriceCents
}

// Position is the net exposure held on one market. NetContracts is
// positive for YES and negative for NO; AvgEntryCents is in YES terms.
type Position struct {
	Market        MarketRef       `json:"market"`
	NetContracts  int64           `json:"net_contracts"`
	AvgEntryCents decimal.Decimal `json:"avg_entry_cents"`
	RealizedCents decimal.Decimal `json:"realized_cents"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Abs returns |NetContracts|.
func (p Position) Abs() int64 {
	if p.NetContracts < 0 {
		return -p.NetContracts
	}
	return p.NetContracts
}
