package domain

// MatchedPair links two markets on different venues judged to resolve
// identically. Pairs are read-only once registered.
type MatchedPair struct {
	A          MarketRef `json:"a"`
	B          MarketRef `json:"b"`
	Confidence float64   `json:"confidence"`
	Title      string    `json:"title,omitempty"`
}

// Key uniquely identifies the pair.
func (p MatchedPair) Key() string {
	return p.A.Key() + "|" + p.B.Key()
}

// Label is the human-readable market name used in notifications.
func (p MatchedPair) Label() string {
	if p.Title != "" {
		return p.Title
	}
	return p.A.MarketID + " / " + p.B.MarketID
}
