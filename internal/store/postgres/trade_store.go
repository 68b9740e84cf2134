package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// TradeStore implements domain.TradeStore. Leg outcomes and the pair are
// stored as JSONB next to the scalar columns used for filtering.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore on pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Name identifies the store as a trade recorder.
func (s *TradeStore) Name() string { return "postgres" }

// RecordTrade saves t. It lets the store be attached to the execution
// engine as a recorder.
func (s *TradeStore) RecordTrade(ctx context.Context, t domain.Trade) error {
	return s.SaveTrade(ctx, t)
}

const tradeSelectCols = `id, opportunity_id, pair, arb_type, contracts,
	yes_leg, no_leg, compensation, estimated_profit_cents,
	realized_profit_cents, latency_us, success, failure_reason,
	started_at, completed_at`

// tradeRow is the column form of a domain.Trade.
type tradeRow struct {
	ID            string
	OpportunityID string
	Pair          []byte
	Type          string
	Contracts     int64
	YesLeg        []byte
	NoLeg         []byte
	Compensation  []byte
	Estimated     int64
	Realized      int64
	LatencyMicros int64
	Success       bool
	FailureReason string
	StartedAt     time.Time
	CompletedAt   time.Time
}

func toTradeRow(t domain.Trade) (tradeRow, error) {
	row := tradeRow{
		ID:            t.ID,
		OpportunityID: t.OpportunityID,
		Type:          string(t.Type),
		Contracts:     t.Contracts,
		Estimated:     t.EstimatedProfitCents,
		Realized:      t.RealizedProfitCents,
		LatencyMicros: t.Latency.Microseconds(),
		Success:       t.Success,
		FailureReason: t.FailureReason,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
	}
	var err error
	if row.Pair, err = json.Marshal(t.Pair); err != nil {
		return tradeRow{}, fmt.Errorf("marshal pair: %w", err)
	}
	if row.YesLeg, err = json.Marshal(t.YesLeg); err != nil {
		return tradeRow{}, fmt.Errorf("marshal yes leg: %w", err)
	}
	if row.NoLeg, err = json.Marshal(t.NoLeg); err != nil {
		return tradeRow{}, fmt.Errorf("marshal no leg: %w", err)
	}
	if t.Compensation != nil {
		if row.Compensation, err = json.Marshal(t.Compensation); err != nil {
			return tradeRow{}, fmt.Errorf("marshal compensation: %w", err)
		}
	}
	return row, nil
}

func (r tradeRow) trade() (domain.Trade, error) {
	t := domain.Trade{
		ID:                   r.ID,
		OpportunityID:        r.OpportunityID,
		Type:                 domain.ArbType(r.Type),
		Contracts:            r.Contracts,
		EstimatedProfitCents: r.Estimated,
		RealizedProfitCents:  r.Realized,
		Latency:              time.Duration(r.LatencyMicros) * time.Microsecond,
		Success:              r.Success,
		FailureReason:        r.FailureReason,
		StartedAt:            r.StartedAt,
		CompletedAt:          r.CompletedAt,
	}
	if err := json.Unmarshal(r.Pair, &t.Pair); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal pair: %w", err)
	}
	if err := json.Unmarshal(r.YesLeg, &t.YesLeg); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal yes leg: %w", err)
	}
	if err := json.Unmarshal(r.NoLeg, &t.NoLeg); err != nil {
		return domain.Trade{}, fmt.Errorf("unmarshal no leg: %w", err)
	}
	if len(r.Compensation) > 0 {
		var comp domain.LegOutcome
		if err := json.Unmarshal(r.Compensation, &comp); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal compensation: %w", err)
		}
		t.Compensation = &comp
	}
	return t, nil
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var r tradeRow
	if err := row.Scan(
		&r.ID, &r.OpportunityID, &r.Pair, &r.Type, &r.Contracts,
		&r.YesLeg, &r.NoLeg, &r.Compensation, &r.Estimated,
		&r.Realized, &r.LatencyMicros, &r.Success, &r.FailureReason,
		&r.StartedAt, &r.CompletedAt,
	); err != nil {
		return domain.Trade{}, err
	}
	return r.trade()
}

// SaveTrade inserts t. Trades are immutable, so a repeated ID is ignored.
func (s *TradeStore) SaveTrade(ctx context.Context, t domain.Trade) error {
	r, err := toTradeRow(t)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", t.ID, err)
	}

	const query = `
		INSERT INTO trades (
			id, opportunity_id, pair_key, pair, arb_type, contracts,
			yes_leg, no_leg, compensation, estimated_profit_cents,
			realized_profit_cents, latency_us, success, failure_reason,
			started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		) ON CONFLICT (id) DO NOTHING`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.OpportunityID, t.Pair.Key(), r.Pair, r.Type, r.Contracts,
		r.YesLeg, r.NoLeg, r.Compensation, r.Estimated,
		r.Realized, r.LatencyMicros, r.Success, r.FailureReason,
		r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade %s: %w", t.ID, err)
	}
	return nil
}

// GetTrade returns the trade with id or domain.ErrNotFound.
func (s *TradeStore) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListTrades returns trades newest first.
func (s *TradeStore) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listClause(`SELECT `+tradeSelectCols+` FROM trades`, "completed_at", nil, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
