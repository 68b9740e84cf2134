package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "arb"}))
	assert.Equal(t, "postgres://u:p@db:6543/arb?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, User: "u", Password: "p", Database: "arb", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss%2Fw@db:5432/arb?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p@ss/w", Database: "arb"}))
}

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_more.sql": {Data: []byte("SELECT 2")},
		"migrations/001_init.sql": {Data: []byte("SELECT 1")},
		"migrations/README.md":    {Data: []byte("notes")},
	}
	got, err := pendingMigrations(fsys, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_more.sql"}, got)

	got, err = pendingMigrations(fsys, []string{"001_init.sql"})
	require.NoError(t, err)
	assert.Equal(t, []string{"002_more.sql"}, got)

	embedded, err := pendingMigrations(migrationsFS, nil)
	require.NoError(t, err)
	assert.Contains(t, embedded, "001_init.sql")
}

func TestListClause(t *testing.T) {
	since := time.Unix(1700000000, 0)

	q, args := listClause("SELECT * FROM trades", "completed_at", nil, domain.ListOpts{})
	assert.Equal(t, "SELECT * FROM trades ORDER BY completed_at DESC", q)
	assert.Empty(t, args)

	q, args = listClause("SELECT * FROM trades", "completed_at", nil, domain.ListOpts{Limit: 10, Offset: 20, Since: &since})
	assert.Equal(t, "SELECT * FROM trades WHERE completed_at >= $1 ORDER BY completed_at DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)
}

func TestTradeRow(t *testing.T) {
	pair := domain.MatchedPair{
		A:          domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KX-1"},
		B:          domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: "0xcond"},
		Confidence: 1,
		Title:      "Fed cuts in March",
	}
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trade := domain.Trade{
		ID:            "t-1",
		OpportunityID: "o-1",
		Pair:          pair,
		Type:          domain.ArbBuyYesABuyNoB,
		Contracts:     10,
		YesLeg: domain.LegOutcome{
			Request: domain.OrderRequest{ClientOrderID: "c-1", Market: pair.A, Side: domain.SideYes, Action: domain.ActionBuy, Contracts: 10, LimitCents: 40},
			Outcome: domain.OrderOutcome{OrderID: "k-1", Status: domain.OrderFilled, FillPriceCents: 40, FilledContracts: 10},
		},
		NoLeg: domain.LegOutcome{
			Request: domain.OrderRequest{ClientOrderID: "c-2", Market: pair.B, Side: domain.SideNo, Action: domain.ActionBuy, Contracts: 10, LimitCents: 55},
			Outcome: domain.FailedOutcome("", domain.OrderFailed, "rejected"),
		},
		Compensation: &domain.LegOutcome{
			Request: domain.OrderRequest{ClientOrderID: "c-3", Market: pair.A, Side: domain.SideYes, Action: domain.ActionSell, Contracts: 10, LimitCents: 1},
			Outcome: domain.OrderOutcome{OrderID: "k-2", Status: domain.OrderFilled, FillPriceCents: 38, FilledContracts: 10},
		},
		EstimatedProfitCents: 30,
		RealizedProfitCents:  -20,
		Latency:              1500 * time.Microsecond,
		FailureReason:        "no leg failed",
		StartedAt:            start,
		CompletedAt:          start.Add(2 * time.Millisecond),
	}

	row, err := toTradeRow(trade)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), row.LatencyMicros)

	got, err := row.trade()
	require.NoError(t, err)
	assert.Equal(t, trade, got)

	trade.Compensation = nil
	row, err = toTradeRow(trade)
	require.NoError(t, err)
	assert.Nil(t, row.Compensation)
	got, err = row.trade()
	require.NoError(t, err)
	assert.Nil(t, got.Compensation)
}

func TestParsePosition(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p, err := parsePosition("kalshi", "KX-1", -5, "41.5", "-12.25", at)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KX-1"}, p.Market)
	assert.Equal(t, int64(-5), p.NetContracts)
	assert.True(t, p.AvgEntryCents.Equal(decimal.RequireFromString("41.5")))
	assert.True(t, p.RealizedCents.Equal(decimal.RequireFromString("-12.25")))

	_, err = parsePosition("kalshi", "KX-1", 0, "abc", "0", at)
	assert.Error(t, err)
}
