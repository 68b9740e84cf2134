package polymarket

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Book holds the ask side of both outcome tokens of one market. A market
// quote exists only once both tokens have a best ask.
type Book struct {
	market   string
	yesToken string
	noToken  string
	asks     map[string]map[string]decimal.Decimal
}

// NewBook creates an empty book for a market and its two tokens.
func NewBook(market, yesToken, noToken string) *Book {
	return &Book{
		market:   market,
		yesToken: yesToken,
		noToken:  noToken,
		asks: map[string]map[string]decimal.Decimal{
			yesToken: {},
			noToken:  {},
		},
	}
}

// Owns reports whether token belongs to this market.
func (b *Book) Owns(token string) bool {
	_, ok := b.asks[token]
	return ok
}

// ReplaceAsks installs a full ask snapshot for token.
func (b *Book) ReplaceAsks(token string, levels []PriceLevel) bool {
	if !b.Owns(token) {
		return false
	}
	side := make(map[string]decimal.Decimal, len(levels))
	for _, l := range levels {
		price, size, ok := parseLevel(l.Price, l.Size)
		if !ok || !size.IsPositive() {
			continue
		}
		side[price.String()] = size
	}
	b.asks[token] = side
	return true
}

// ApplyAsk sets the size at one ask level; zero removes it.
func (b *Book) ApplyAsk(token, price, size string) bool {
	side, ok := b.asks[token]
	if !ok {
		return false
	}
	p, s, ok := parseLevel(price, size)
	if !ok {
		return false
	}
	if s.IsPositive() {
		side[p.String()] = s
	} else {
		delete(side, p.String())
	}
	return true
}

// BestAsk returns the lowest ask for token.
func (b *Book) BestAsk(token string) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for k := range b.asks[token] {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		if !found || p.LessThan(best) {
			best, found = p, true
		}
	}
	return best, found
}

// Quote converts both best asks to whole cents, rounding up so the quote
// never understates the cost of a buy.
func (b *Book) Quote(at time.Time) (domain.Quote, bool) {
	yes, ok := b.BestAsk(b.yesToken)
	if !ok {
		return domain.Quote{}, false
	}
	no, ok := b.BestAsk(b.noToken)
	if !ok {
		return domain.Quote{}, false
	}
	q := domain.Quote{
		Venue:      domain.VenuePolymarket,
		MarketID:   b.market,
		YesCents:   toCents(yes),
		NoCents:    toCents(no),
		ObservedAt: at,
	}
	if q.Validate() != nil {
		return domain.Quote{}, false
	}
	return q, true
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Ceil().IntPart()
}

func parseLevel(price, size string) (decimal.Decimal, decimal.Decimal, bool) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return p, s, true
}
