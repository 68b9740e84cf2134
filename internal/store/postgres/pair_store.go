package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// PairStore implements domain.PairStore.
type PairStore struct {
	pool *pgxpool.Pool
}

// NewPairStore creates a PairStore on pool.
func NewPairStore(pool *pgxpool.Pool) *PairStore {
	return &PairStore{pool: pool}
}

// UpsertPair stores p keyed by p.Key().
func (s *PairStore) UpsertPair(ctx context.Context, p domain.MatchedPair) error {
	const query = `
		INSERT INTO market_pairs (
			pair_key, a_venue, a_market, b_venue, b_market, confidence, title
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair_key) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			title      = EXCLUDED.title`

	_, err := s.pool.Exec(ctx, query,
		p.Key(), string(p.A.Venue), p.A.MarketID, string(p.B.Venue), p.B.MarketID,
		p.Confidence, p.Title,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pair %s: %w", p.Key(), err)
	}
	return nil
}

// DeletePair removes the pair with key. Deleting a missing pair is not an
// error.
func (s *PairStore) DeletePair(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM market_pairs WHERE pair_key = $1`, key); err != nil {
		return fmt.Errorf("postgres: delete pair %s: %w", key, err)
	}
	return nil
}

// ListPairs returns stored pairs in insertion order.
func (s *PairStore) ListPairs(ctx context.Context) ([]domain.MatchedPair, error) {
	const query = `
		SELECT a_venue, a_market, b_venue, b_market, confidence, title
		FROM market_pairs ORDER BY created_at, pair_key`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []domain.MatchedPair
	for rows.Next() {
		var (
			p          domain.MatchedPair
			aVen, bVen string
		)
		if err := rows.Scan(&aVen, &p.A.MarketID, &bVen, &p.B.MarketID, &p.Confidence, &p.Title); err != nil {
			return nil, fmt.Errorf("postgres: scan pair: %w", err)
		}
		p.A.Venue = domain.VenueID(aVen)
		p.B.Venue = domain.VenueID(bVen)
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pairs rows: %w", err)
	}
	return pairs, nil
}

var _ domain.PairStore = (*PairStore)(nil)
