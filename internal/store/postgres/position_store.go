package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// PositionStore implements domain.PositionStore, one row per market.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore on pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// UpsertPosition writes p, replacing any earlier row for the market.
// Decimals travel as text so no precision is lost to float conversion.
func (s *PositionStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_key, venue, market_id, net_contracts,
			avg_entry_cents, realized_cents, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (market_key) DO UPDATE SET
			net_contracts   = EXCLUDED.net_contracts,
			avg_entry_cents = EXCLUDED.avg_entry_cents,
			realized_cents  = EXCLUDED.realized_cents,
			updated_at      = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.Market.Key(), string(p.Market.Venue), p.Market.MarketID, p.NetContracts,
		p.AvgEntryCents.String(), p.RealizedCents.String(), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.Market, err)
	}
	return nil
}

// ListPositions returns every stored position ordered by market.
func (s *PositionStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT venue, market_id, net_contracts,
			avg_entry_cents::text, realized_cents::text, updated_at
		FROM positions ORDER BY market_key`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			venue, market string
			net           int64
			avg, realized string
			updatedAt     time.Time
		)
		if err := rows.Scan(&venue, &market, &net, &avg, &realized, &updatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p, err := parsePosition(venue, market, net, avg, realized, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("postgres: position %s:%s: %w", venue, market, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

func parsePosition(venue, market string, net int64, avg, realized string, updatedAt time.Time) (domain.Position, error) {
	avgDec, err := decimal.NewFromString(avg)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse avg entry: %w", err)
	}
	realizedDec, err := decimal.NewFromString(realized)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse realized: %w", err)
	}
	return domain.Position{
		Market:        domain.MarketRef{Venue: domain.VenueID(venue), MarketID: market},
		NetContracts:  net,
		AvgEntryCents: avgDec,
		RealizedCents: realizedDec,
		UpdatedAt:     updatedAt,
	}, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
