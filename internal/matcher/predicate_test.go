package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func listing(v domain.VenueID, id, title string, close time.Time) domain.Listing {
	return domain.Listing{Ref: domain.MarketRef{Venue: v, MarketID: id}, Title: title, CloseTime: close, Active: true}
}

func TestExplicitMap(t *testing.T) {
	m := ExplicitMap{"KXBTC-100K": "0xbtc"}
	a := listing(domain.VenueKalshi, "KXBTC-100K", "", time.Time{})
	b := listing(domain.VenuePolymarket, "0xbtc", "", time.Time{})
	other := listing(domain.VenuePolymarket, "0xeth", "", time.Time{})

	score, ok := m.Match(a, b)
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)

	_, ok = m.Match(b, a)
	assert.True(t, ok, "either argument order")

	_, ok = m.Match(a, other)
	assert.False(t, ok)
}

func TestKeywordPredicate(t *testing.T) {
	day := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	p := KeywordPredicate{MinShared: 2, MinScore: 0.5, CloseTolerance: 24 * time.Hour}

	tests := []struct {
		name string
		a, b domain.Listing
		want bool
	}{
		{
			name: "same question different phrasing",
			a:    listing(domain.VenueKalshi, "K", "Bitcoin above $100k on Dec 31", day),
			b:    listing(domain.VenuePolymarket, "P", "Will Bitcoin be above $100k on Dec 31?", day),
			want: true,
		},
		{
			name: "close times too far apart",
			a:    listing(domain.VenueKalshi, "K", "Bitcoin above $100k on Dec 31", day),
			b:    listing(domain.VenuePolymarket, "P", "Bitcoin above $100k on Dec 31", day.Add(72*time.Hour)),
			want: false,
		},
		{
			name: "unrelated",
			a:    listing(domain.VenueKalshi, "K", "Fed cuts rates in December", day),
			b:    listing(domain.VenuePolymarket, "P", "Bitcoin above $100k on Dec 31", day),
			want: false,
		},
		{
			name: "only stop words",
			a:    listing(domain.VenueKalshi, "K", "the of and", day),
			b:    listing(domain.VenuePolymarket, "P", "the of and", day),
			want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := p.Match(tc.a, tc.b)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestChain(t *testing.T) {
	never := PredicateFunc(func(a, b domain.Listing) (float64, bool) { return 0, false })
	always := PredicateFunc(func(a, b domain.Listing) (float64, bool) { return 0.7, true })

	score, ok := Chain{never, always}.Match(domain.Listing{}, domain.Listing{})
	assert.True(t, ok)
	assert.Equal(t, 0.7, score)

	_, ok = Chain{never}.Match(domain.Listing{}, domain.Listing{})
	assert.False(t, ok)
}
