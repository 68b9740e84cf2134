package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func TestBook_QuoteNeedsBothTokens(t *testing.T) {
	b := NewBook("0xcond", "tok-yes", "tok-no")
	at := time.Unix(1700000000, 0)

	require.True(t, b.ReplaceAsks("tok-yes", []PriceLevel{{Price: "0.45", Size: "100"}, {Price: "0.43", Size: "10"}}))
	_, ok := b.Quote(at)
	assert.False(t, ok, "no ask on NO token yet")

	require.True(t, b.ReplaceAsks("tok-no", []PriceLevel{{Price: "0.551", Size: "5"}, {Price: "0.60", Size: "0"}}))
	q, ok := b.Quote(at)
	require.True(t, ok)
	assert.Equal(t, domain.Quote{
		Venue: domain.VenuePolymarket, MarketID: "0xcond",
		YesCents: 43, NoCents: 56, ObservedAt: at,
	}, q, "asks round up to the next cent")
}

func TestBook_ApplyAsk(t *testing.T) {
	b := NewBook("m", "y", "n")
	b.ReplaceAsks("y", []PriceLevel{{Price: "0.40", Size: "10"}})
	b.ReplaceAsks("n", []PriceLevel{{Price: "0.62", Size: "10"}})

	require.True(t, b.ApplyAsk("y", "0.38", "5"))
	best, ok := b.BestAsk("y")
	require.True(t, ok)
	assert.Equal(t, "0.38", best.String())

	require.True(t, b.ApplyAsk("y", "0.380", "0"), "price keys are normalized")
	best, _ = b.BestAsk("y")
	assert.Equal(t, "0.4", best.String())

	assert.False(t, b.ApplyAsk("other", "0.1", "1"))
	assert.False(t, b.ApplyAsk("y", "abc", "1"))
}

func TestBook_RejectsUntradablePrice(t *testing.T) {
	b := NewBook("m", "y", "n")
	b.ReplaceAsks("y", []PriceLevel{{Price: "0.999", Size: "10"}})
	b.ReplaceAsks("n", []PriceLevel{{Price: "0.02", Size: "10"}})
	_, ok := b.Quote(time.Now())
	assert.False(t, ok, "a 100c ask is not a tradable quote")
}

func TestGammaMarket_Listing(t *testing.T) {
	raw := `{
		"id": "512",
		"question": "Will the Fed cut rates in December?",
		"conditionId": "0xabc",
		"active": true,
		"closed": "false",
		"enableOrderBook": true,
		"outcomes": "[\"No\", \"Yes\"]",
		"clobTokenIds": "[\"111\", \"222\"]",
		"endDate": "2026-12-10T00:00:00Z"
	}`
	var m GammaMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	l, ok := m.Listing()
	require.True(t, ok)
	assert.Equal(t, domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: "0xabc"}, l.Ref)
	assert.Equal(t, "222", l.YesToken)
	assert.Equal(t, "111", l.NoToken)
	assert.True(t, l.Active)
	assert.Equal(t, time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC), l.CloseTime)

	m.Outcomes = stringList{"Trump", "Harris"}
	_, ok = m.Listing()
	assert.False(t, ok, "non Yes/No markets are skipped")
}

func TestStringList_AcceptsArray(t *testing.T) {
	var l stringList
	require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &l))
	assert.Equal(t, stringList{"a", "b"}, l)
	require.NoError(t, json.Unmarshal([]byte(`""`), &l))
	assert.Nil(t, l)
}
