package domain

import "time"

// ArbType says which side is bought on which venue.
type ArbType string

const (
	ArbBuyYesABuyNoB ArbType = "buy_yes_a_buy_no_b"
	ArbBuyYesBBuyNoA ArbType = "buy_yes_b_buy_no_a"
)

// Opportunity is a detected, not yet executed, cross-venue arbitrage.
// ProfitCents is per contract, after fees.
type Opportunity struct {
	ID          string      `json:"id"`
	Pair        MatchedPair `json:"pair"`
	Type        ArbType     `json:"type"`
	YesCents    int64       `json:"yes_cents"`
	NoCents     int64       `json:"no_cents"`
	ProfitCents int64       `json:"profit_cents"`
	DetectedAt  time.Time   `json:"detected_at"`
	// QuotedAt is the older of the two underlying quote observations.
	QuotedAt time.Time `json:"quoted_at"`
}

// YesMarket is the market on which YES is bought.
func (o Opportunity) YesMarket() MarketRef {
	if o.Type == ArbBuyYesBBuyNoA {
		return o.Pair.B
	}
	return o.Pair.A
}

// NoMarket is the market on which NO is bought.
func (o Opportunity) NoMarket() MarketRef {
	if o.Type == ArbBuyYesBBuyNoA {
		return o.Pair.A
	}
	return o.Pair.B
}
