package kalshi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestLevel_UnmarshalBothForms(t *testing.T) {
	var ob Orderbook
	require.NoError(t, json.Unmarshal([]byte(`{"yes":[[40,10],[42,5]],"no":[{"price":55,"quantity":3}]}`), &ob))
	assert.Equal(t, []Level{{40, 10}, {42, 5}}, ob.Yes)
	assert.Equal(t, []Level{{55, 3}}, ob.No)

	var null Orderbook
	require.NoError(t, json.Unmarshal([]byte(`{"yes":null,"no":null}`), &null))
	assert.Empty(t, null.Yes)
}

func TestBook_QuoteFromOppositeBids(t *testing.T) {
	at := time.Unix(1700000000, 0)
	b := NewBook("KXFED", Orderbook{
		Yes: []Level{{40, 10}, {42, 5}},
		No:  []Level{{55, 3}, {57, 0}},
	})

	q, ok := b.Quote(at)
	require.True(t, ok)
	assert.Equal(t, domain.Quote{
		Venue: domain.VenueKalshi, MarketID: "KXFED",
		YesCents: 45, NoCents: 58, ObservedAt: at,
	}, q)
}

func TestBook_ApplyDelta(t *testing.T) {
	b := NewBook("KXFED", Orderbook{Yes: []Level{{42, 5}}, No: []Level{{55, 3}}})

	b.Apply("no", 57, 4)
	assert.Equal(t, int64(57), b.BestNoBid())

	b.Apply("yes", 42, -5)
	assert.Equal(t, int64(0), b.BestYesBid())
	_, ok := b.Quote(time.Now())
	assert.False(t, ok, "one-sided book has no quote")

	b.Apply("yes", 41, 2)
	q, ok := b.Quote(time.Now())
	require.True(t, ok)
	assert.Equal(t, int64(43), q.YesCents)
	assert.Equal(t, int64(59), q.NoCents)
}

func TestMarket_Listing(t *testing.T) {
	m := Market{Ticker: "KXFED-25DEC", Title: "Fed decision in December?", YesSubTitle: "Cut 25bps",
		Status: "active", CloseTime: "2025-12-10T19:00:00Z"}
	l := m.Listing()
	assert.Equal(t, domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KXFED-25DEC"}, l.Ref)
	assert.Equal(t, "Fed decision in December? Cut 25bps", l.Title)
	assert.True(t, l.Active)
	assert.Equal(t, 2025, l.CloseTime.Year())

	m.Status = "closed"
	assert.False(t, m.Listing().Active)
}
