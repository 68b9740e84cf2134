package kalshi

import (
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Book is a locally maintained Kalshi orderbook built from a snapshot and
// subsequent deltas. Not safe for concurrent use.
type Book struct {
	Ticker string
	yes    map[int64]int64
	no     map[int64]int64
}

// NewBook seeds a book from a snapshot.
func NewBook(ticker string, ob Orderbook) *Book {
	b := &Book{Ticker: ticker, yes: make(map[int64]int64), no: make(map[int64]int64)}
	for _, l := range ob.Yes {
		if l.Quantity > 0 {
			b.yes[l.Price] = l.Quantity
		}
	}
	for _, l := range ob.No {
		if l.Quantity > 0 {
			b.no[l.Price] = l.Quantity
		}
	}
	return b
}

// Apply adds delta contracts at price on side ("yes" or "no").
func (b *Book) Apply(side string, price, delta int64) {
	levels := b.yes
	if side == "no" {
		levels = b.no
	}
	q := levels[price] + delta
	if q <= 0 {
		delete(levels, price)
		return
	}
	levels[price] = q
}

// BestYesBid and BestNoBid return the highest resting bid, or 0.
func (b *Book) BestYesBid() int64 { return best(b.yes) }
func (b *Book) BestNoBid() int64  { return best(b.no) }

// Quote derives the executable asks: buying YES lifts the best NO bid at
// 100 − bid and vice versa. ok is false while either side is empty.
func (b *Book) Quote(at time.Time) (domain.Quote, bool) {
	yesBid, noBid := b.BestYesBid(), b.BestNoBid()
	if yesBid == 0 || noBid == 0 {
		return domain.Quote{}, false
	}
	return domain.Quote{
		Venue:      domain.VenueKalshi,
		MarketID:   b.Ticker,
		YesCents:   100 - noBid,
		NoCents:    100 - yesBid,
		ObservedAt: at,
	}, true
}

func best(levels map[int64]int64) int64 {
	var top int64
	for p := range levels {
		if p > top {
			top = p
		}
	}
	return top
}
