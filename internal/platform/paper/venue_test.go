package paper

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type staticQuotes map[domain.MarketRef]domain.Quote

func (s staticQuotes) Get(ref domain.MarketRef) (domain.Quote, bool) {
	q, ok := s[ref]
	return q, ok
}

var ref = domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KXFED"}

func newVenue(cfg Config) *Venue {
	cfg.Venue = domain.VenueKalshi
	quotes := staticQuotes{ref: {Venue: ref.Venue, MarketID: ref.MarketID, YesCents: 40, NoCents: 62}}
	return NewVenue(cfg, quotes, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buy(side domain.Side, n, limit int64) domain.OrderRequest {
	return domain.OrderRequest{ClientOrderID: "c-" + string(side), Market: ref, Side: side, Action: domain.ActionBuy, Contracts: n, LimitCents: limit}
}

func TestVenue_BuyFillsAtAsk(t *testing.T) {
	v := newVenue(Config{Seed: 1})
	assert.Equal(t, domain.VenueKalshi, v.ID())

	out, err := v.SubmitOrder(t.Context(), buy(domain.SideYes, 10, 45))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderOutcome{OrderID: "c-yes", Status: domain.OrderFilled, FillPriceCents: 40, FilledContracts: 10}, out)
	assert.Equal(t, int64(10), v.Holdings("KXFED", domain.SideYes))

	out, err = v.SubmitOrder(t.Context(), buy(domain.SideNo, 10, 60))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, out.Status, "ask 62 above limit 60")
	assert.Len(t, v.Fills(), 1)
}

func TestVenue_FlattenSellsAtImpliedBid(t *testing.T) {
	v := newVenue(Config{Seed: 1})
	_, err := v.SubmitOrder(t.Context(), buy(domain.SideYes, 5, 40))
	require.NoError(t, err)

	out, err := v.Flatten(t.Context(), "KXFED", domain.SideYes, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, out.Status)
	assert.Equal(t, int64(38), out.FillPriceCents, "100 - NO ask 62")
	assert.Zero(t, v.Holdings("KXFED", domain.SideYes))

	out, err = v.Flatten(t.Context(), "KXFED", domain.SideYes, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, out.Status, "nothing left to sell")
}

func TestVenue_FailureInjection(t *testing.T) {
	v := newVenue(Config{Seed: 1})
	v.FailNext(1)
	out, err := v.SubmitOrder(t.Context(), buy(domain.SideYes, 1, 99))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, out.Status)
	assert.Equal(t, "injected failure", out.Reason)

	out, _ = v.SubmitOrder(t.Context(), buy(domain.SideYes, 1, 99))
	assert.Equal(t, domain.OrderFilled, out.Status)

	always := newVenue(Config{Seed: 7, FailureRate: 1})
	out, _ = always.SubmitOrder(t.Context(), buy(domain.SideYes, 1, 99))
	assert.Equal(t, domain.OrderFailed, out.Status)
}

func TestVenue_LatencyHonorsDeadline(t *testing.T) {
	v := newVenue(Config{Seed: 1, Latency: time.Second})
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := v.SubmitOrder(ctx, buy(domain.SideYes, 1, 99))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, v.Fills())
}

func TestVenue_MissingQuote(t *testing.T) {
	v := newVenue(Config{Seed: 1})
	_, err := v.GetQuote(t.Context(), "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	out, err := v.SubmitOrder(t.Context(), domain.OrderRequest{
		Market: domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "NOPE"},
		Side:   domain.SideYes, Action: domain.ActionBuy, Contracts: 1, LimitCents: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFailed, out.Status)
	assert.NotEmpty(t, out.OrderID)
}
