package app

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/breaker"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/store/sqlite"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Store = "sqlite"
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "crossarb.db")
	cfg.Discovery.MarketMap = map[string]string{"KX-1": "0xabc"}
	require.NoError(t, cfg.Validate())
	return &cfg
}

func buildRuntime(t *testing.T, cfg *config.Config) (*runtime, *Dependencies) {
	t.Helper()
	a := New(cfg, discard())
	deps, cleanup, err := Wire(t.Context(), cfg, discard())
	t.Cleanup(cleanup)
	require.NoError(t, err)
	rt, err := a.build(t.Context(), deps)
	require.NoError(t, err)
	return rt, deps
}

func TestWire_SQLiteStore(t *testing.T) {
	cfg := testConfig(t, "monitor")
	deps, cleanup, err := Wire(t.Context(), cfg, discard())
	t.Cleanup(cleanup)
	require.NoError(t, err)

	require.NotNil(t, deps.Store)
	assert.Equal(t, "sqlite", deps.Store.Name())
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.Archiver)
	assert.False(t, deps.Notifier.Enabled())
}

func TestWire_UnknownStoreIsNoStore(t *testing.T) {
	cfg := testConfig(t, "monitor")
	cfg.Store = ""
	deps, cleanup, err := Wire(t.Context(), cfg, discard())
	t.Cleanup(cleanup)
	require.NoError(t, err)
	assert.Nil(t, deps.Store)
}

func TestBuild_MonitorNeverExecutes(t *testing.T) {
	rt, _ := buildRuntime(t, testConfig(t, "monitor"))
	assert.Nil(t, rt.engine)
	assert.NotNil(t, rt.server)
	assert.NotNil(t, rt.hub)
	// The hub stands in for the bus when Redis is off.
	assert.NotNil(t, rt.publisher)
}

func TestBuild_PaperExecutes(t *testing.T) {
	cfg := testConfig(t, "paper")
	cfg.Server.Enabled = false
	rt, _ := buildRuntime(t, cfg)
	assert.NotNil(t, rt.engine)
	assert.Nil(t, rt.server)
	assert.Nil(t, rt.publisher)
	// Trades reach the store through the spool.
	assert.NotNil(t, rt.spool)
}

func TestBuild_RestoresPositions(t *testing.T) {
	cfg := testConfig(t, "paper")
	ref := domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KX-1"}

	rt, deps := buildRuntime(t, cfg)
	_, err := rt.ledger.Apply(t.Context(), domain.Fill{
		OrderID: "o-1", Market: ref, Side: domain.SideYes, Action: domain.ActionBuy,
		Contracts: 5, PriceCents: 40, At: time.Now(),
	})
	require.NoError(t, err)

	// A second runtime over the same store sees the persisted position.
	again, err := New(cfg, discard()).build(t.Context(), deps)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again.ledger.Get(ref).NetContracts)
}

func TestRuntime_HooksFeedPerformance(t *testing.T) {
	rt, _ := buildRuntime(t, testConfig(t, "monitor"))
	pair := domain.MatchedPair{
		A: domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KX-1"},
		B: domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: "0xabc"},
	}

	rt.onOpportunity(t.Context(), domain.Opportunity{ID: "o-1", Pair: pair, ProfitCents: 3})
	rt.onTrade(t.Context(), domain.Trade{ID: "t-1", Pair: pair, Success: true, RealizedProfitCents: 30})
	rt.onTrade(t.Context(), domain.Trade{ID: "t-2", Pair: pair, RealizedProfitCents: -4, FailureReason: "leg timeout"})

	st := rt.perf.Status()
	assert.Equal(t, int64(1), st.OpportunitiesDetected)
	assert.Equal(t, int64(2), st.TotalTrades)
	assert.Equal(t, int64(1), st.SuccessfulTrades)
	assert.Equal(t, int64(26), st.ProfitCents)

	status := rt.status("monitor")
	assert.Equal(t, "closed", status["breaker"])
	assert.Equal(t, int64(2), status["total_trades"])
}

func TestRuntime_OpportunityNeverWaitsOnBus(t *testing.T) {
	// The hub is built but not running, so nothing drains its broadcasts.
	rt, _ := buildRuntime(t, testConfig(t, "monitor"))
	require.NotNil(t, rt.publisher)
	pair := domain.MatchedPair{
		A: domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KX-1"},
		B: domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: "0xabc"},
	}

	start := time.Now()
	for i := range 3 {
		rt.onOpportunity(t.Context(), domain.Opportunity{ID: fmt.Sprintf("o-%d", i), Pair: pair, ProfitCents: 3})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, int64(3), rt.perf.Status().OpportunitiesDetected)
}

func TestRuntime_BreakerHookAudits(t *testing.T) {
	rt, deps := buildRuntime(t, testConfig(t, "monitor"))
	rt.breaker.Trip("manual")
	assert.Equal(t, breaker.Open, rt.breaker.State())

	db := deps.Store.(*sqlite.DB)
	require.Eventually(t, func() bool {
		events, err := db.AuditEvents(t.Context())
		return err == nil && slices.Contains(events, "breaker.open")
	}, 2*time.Second, 10*time.Millisecond)
}
