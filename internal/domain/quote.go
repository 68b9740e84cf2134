package domain

import (
	"fmt"
	"time"
)

// Quote is the best executable YES and NO price for one market, in whole
// cents. A Quote is replaced as a unit, never patched.
type Quote struct {
	Venue      VenueID   `json:"venue"`
	MarketID   string    `json:"market_id"`
	YesCents   int64     `json:"yes_cents"`
	NoCents    int64     `json:"no_cents"`
	ObservedAt time.Time `json:"observed_at"`
}

// Ref returns the market this quote belongs to.
func (q Quote) Ref() MarketRef {
	return MarketRef{Venue: q.Venue, MarketID: q.MarketID}
}

// Validate checks that both prices are tradable binary-contract prices.
func (q Quote) Validate() error {
	if q.Venue == "" || q.MarketID == "" {
		return fmt.Errorf("%w: missing market reference", ErrInvalidQuote)
	}
	if q.YesCents < 1 || q.YesCents > 99 {
		return fmt.Errorf("%w: yes price %d out of range", ErrInvalidQuote, q.YesCents)
	}
	if q.NoCents < 1 || q.NoCents > 99 {
		return fmt.Errorf("%w: no price %d out of range", ErrInvalidQuote, q.NoCents)
	}
	return nil
}
