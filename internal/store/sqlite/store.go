// Package sqlite is the single-file storage backend for paper trading and
// local runs. It implements the same store ports as the postgres package
// on gorm with the sqlite driver.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// DB is an open sqlite database with its schema migrated.
type DB struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TradeRecord{}, &PositionRecord{}, &PairRecord{}, &AuditRecord{}); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Name identifies the store as a trade recorder.
func (d *DB) Name() string { return "sqlite" }

// RecordTrade saves t.
func (d *DB) RecordTrade(ctx context.Context, t domain.Trade) error {
	return d.SaveTrade(ctx, t)
}

// SaveTrade inserts t. A repeated ID is ignored.
func (d *DB) SaveTrade(ctx context.Context, t domain.Trade) error {
	rec, err := tradeRecord(t)
	if err != nil {
		return fmt.Errorf("sqlite: save trade %s: %w", t.ID, err)
	}
	err = d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sqlite: save trade %s: %w", t.ID, err)
	}
	return nil
}

// GetTrade returns the trade with id or domain.ErrNotFound.
func (d *DB) GetTrade(ctx context.Context, id string) (domain.Trade, error) {
	var rec TradeRecord
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Trade{}, fmt.Errorf("sqlite: trade %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Trade{}, fmt.Errorf("sqlite: get trade %s: %w", id, err)
	}
	return rec.trade()
}

// ListTrades returns trades newest first.
func (d *DB) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	q := d.db.WithContext(ctx).Model(&TradeRecord{})
	if opts.Since != nil {
		q = q.Where("completed_at >= ?", *opts.Since)
	}
	q = q.Order("completed_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var recs []TradeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	trades := make([]domain.Trade, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.trade()
		if err != nil {
			return nil, fmt.Errorf("sqlite: trade %s: %w", rec.ID, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// UpsertPosition writes p, replacing any earlier row for the market.
func (d *DB) UpsertPosition(ctx context.Context, p domain.Position) error {
	rec := positionRecord(p)
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"net_contracts", "avg_entry_cents", "realized_cents", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sqlite: upsert position %s: %w", p.Market, err)
	}
	return nil
}

// ListPositions returns every stored position ordered by market.
func (d *DB) ListPositions(ctx context.Context) ([]domain.Position, error) {
	var recs []PositionRecord
	if err := d.db.WithContext(ctx).Order("market_key").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(recs))
	for _, rec := range recs {
		p, err := rec.position()
		if err != nil {
			return nil, fmt.Errorf("sqlite: position %s: %w", rec.MarketKey, err)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// UpsertPair stores p keyed by p.Key().
func (d *DB) UpsertPair(ctx context.Context, p domain.MatchedPair) error {
	rec := PairRecord{
		PairKey:    p.Key(),
		AVenue:     string(p.A.Venue),
		AMarket:    p.A.MarketID,
		BVenue:     string(p.B.Venue),
		BMarket:    p.B.MarketID,
		Confidence: p.Confidence,
		Title:      p.Title,
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"confidence", "title"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sqlite: upsert pair %s: %w", p.Key(), err)
	}
	return nil
}

// DeletePair removes the pair with key.
func (d *DB) DeletePair(ctx context.Context, key string) error {
	if err := d.db.WithContext(ctx).Where("pair_key = ?", key).Delete(&PairRecord{}).Error; err != nil {
		return fmt.Errorf("sqlite: delete pair %s: %w", key, err)
	}
	return nil
}

// ListPairs returns stored pairs in insertion order.
func (d *DB) ListPairs(ctx context.Context) ([]domain.MatchedPair, error) {
	var recs []PairRecord
	if err := d.db.WithContext(ctx).Order("created_at, pair_key").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list pairs: %w", err)
	}
	pairs := make([]domain.MatchedPair, 0, len(recs))
	for _, r := range recs {
		pairs = append(pairs, domain.MatchedPair{
			A:          domain.MarketRef{Venue: domain.VenueID(r.AVenue), MarketID: r.AMarket},
			B:          domain.MarketRef{Venue: domain.VenueID(r.BVenue), MarketID: r.BMarket},
			Confidence: r.Confidence,
			Title:      r.Title,
		})
	}
	return pairs, nil
}

// Log appends an audit entry.
func (d *DB) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	if err := d.db.WithContext(ctx).Create(&AuditRecord{Event: event, Detail: string(raw)}).Error; err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// AuditEvents returns the names of logged events, oldest first.
func (d *DB) AuditEvents(ctx context.Context) ([]string, error) {
	var events []string
	if err := d.db.WithContext(ctx).Model(&AuditRecord{}).Order("id").Pluck("event", &events).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list audit events: %w", err)
	}
	return events, nil
}

var (
	_ domain.TradeStore    = (*DB)(nil)
	_ domain.PositionStore = (*DB)(nil)
	_ domain.PairStore     = (*DB)(nil)
	_ domain.AuditStore    = (*DB)(nil)
)
