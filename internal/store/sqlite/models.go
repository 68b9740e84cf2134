package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TradeRecord is the trades table. Legs and the pair are JSON text.
type TradeRecord struct {
	ID                   string `gorm:"primaryKey"`
	OpportunityID        string `gorm:"index"`
	PairKey              string `gorm:"index"`
	Pair                 string
	Type                 string
	Contracts            int64
	YesLeg               string
	NoLeg                string
	Compensation         string
	EstimatedProfitCents int64
	RealizedProfitCents  int64
	LatencyMicros        int64
	Success              bool
	FailureReason        string
	StartedAt            time.Time
	CompletedAt          time.Time `gorm:"index"`
}

func (TradeRecord) TableName() string { return "trades" }

// PositionRecord is the positions table. Decimals are stored as text.
type PositionRecord struct {
	MarketKey     string `gorm:"primaryKey"`
	Venue         string
	MarketID      string
	NetContracts  int64
	AvgEntryCents string `gorm:"type:text"`
	RealizedCents string `gorm:"type:text"`
	UpdatedAt     time.Time
}

func (PositionRecord) TableName() string { return "positions" }

// PairRecord is the market_pairs table.
type PairRecord struct {
	PairKey    string `gorm:"primaryKey"`
	AVenue     string
	AMarket    string
	BVenue     string
	BMarket    string
	Confidence float64
	Title      string
	CreatedAt  time.Time
}

func (PairRecord) TableName() string { return "market_pairs" }

// AuditRecord is the audit_log table.
type AuditRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Event     string `gorm:"index"`
	Detail    string
	CreatedAt time.Time `gorm:"index"`
}

func (AuditRecord) TableName() string { return "audit_log" }

func tradeRecord(t domain.Trade) (TradeRecord, error) {
	pair, err := json.Marshal(t.Pair)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("marshal pair: %w", err)
	}
	yes, err := json.Marshal(t.YesLeg)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("marshal yes leg: %w", err)
	}
	no, err := json.Marshal(t.NoLeg)
	if err != nil {
		return TradeRecord{}, fmt.Errorf("marshal no leg: %w", err)
	}
	var comp []byte
	if t.Compensation != nil {
		if comp, err = json.Marshal(t.Compensation); err != nil {
			return TradeRecord{}, fmt.Errorf("marshal compensation: %w", err)
		}
	}
	return TradeRecord{
		ID:                   t.ID,
		OpportunityID:        t.OpportunityID,
		PairKey:              t.Pair.Key(),
		Pair:                 string(pair),
		Type:                 string(t.Type),
		Contracts:            t.Contracts,
		YesLeg:               string(yes),
		NoLeg:                string(no),
		Compensation:         string(comp),
		EstimatedProfitCents: t.EstimatedProfitCents,
		RealizedProfitCents:  t.RealizedProfitCents,
		LatencyMicros:        t.Latency.Microseconds(),
		Success:              t.Success,
		FailureReason:        t.FailureReason,
		StartedAt:            t.StartedAt,
		CompletedAt:          t.CompletedAt,
	}, nil
}

func (r TradeRecord) trade() (domain.Trade, error) {
	t := domain.Trade{
		ID:                   r.ID,
		OpportunityID:        r.OpportunityID,
		Type:                 domain.ArbType(r.Type),
		Contracts:            r.Contracts,
		EstimatedProfitCents: r.EstimatedProfitCents,
		RealizedProfitCents:  r.RealizedProfitCents,
		Latency:              time.Duration(r.LatencyMicros) * time.Microsecond,
		Success:              r.Success,
		FailureReason:        r.FailureReason,
		StartedAt:            r.StartedAt,
		CompletedAt:          r.CompletedAt,
	}
	if err := json.Unmarshal([]byte(r.Pair), &t.Pair); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal pair: %w", err)
	}
	if err := json.Unmarshal([]byte(r.YesLeg), &t.YesLeg); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal yes leg: %w", err)
	}
	if err := json.Unmarshal([]byte(r.NoLeg), &t.NoLeg); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal no leg: %w", err)
	}
	if r.Compensation != "" {
		var comp domain.LegOutcome
		if err := json.Unmarshal([]byte(r.Compensation), &comp); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal compensation: %w", err)
		}
		t.Compensation = &comp
	}
	return t, nil
}

func positionRecord(p domain.Position) PositionRecord {
	return PositionRecord{
		MarketKey:     p.Market.Key(),
		Venue:         string(p.Market.Venue),
		MarketID:      p.Market.MarketID,
		NetContracts:  p.NetContracts,
		AvgEntryCents: p.AvgEntryCents.String(),
		RealizedCents: p.RealizedCents.String(),
		UpdatedAt:     p.UpdatedAt,
	}
}

func (r PositionRecord) position() (domain.Position, error) {
	avg, err := decimal.NewFromString(r.AvgEntryCents)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse avg entry: %w", err)
	}
	realized, err := decimal.NewFromString(r.RealizedCents)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse realized: %w", err)
	}
	return domain.Position{
		Market:        domain.MarketRef{Venue: domain.VenueID(r.Venue), MarketID: r.MarketID},
		NetContracts:  r.NetContracts,
		AvgEntryCents: avg,
		RealizedCents: realized,
		UpdatedAt:     r.UpdatedAt,
	}, nil
}
