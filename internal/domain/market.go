package domain

import "time"

// VenueID names a trading venue.
type VenueID string

const (
	VenueKalshi     VenueID = "kalshi"
	VenuePolymarket VenueID = "polymarket"
	VenuePaper      VenueID = "paper"
)

// MarketRef identifies one binary market on one venue.
type MarketRef struct {
	Venue    VenueID `json:"venue"`
	MarketID string  `json:"market_id"`
}

// Key returns "venue:market", used for map keys, locks and storage.
func (r MarketRef) Key() string {
	return string(r.Venue) + ":" + r.MarketID
}

func (r MarketRef) String() string { return r.Key() }

// Listing is a venue catalog entry considered for matching.
type Listing struct {
	Ref       MarketRef
	Title     string
	CloseTime time.Time
	Active    bool

	// YesToken and NoToken are set for venues that trade outcomes as
	// separate assets (Polymarket).
	YesToken string
	NoToken  string
}
