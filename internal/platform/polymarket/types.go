package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// flexBool unmarshals from a JSON bool or a "true"/"false" string; Gamma
// sends both depending on the endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// stringList unmarshals from a JSON array of strings or from a string that
// itself holds a JSON-encoded array, e.g. "[\"Yes\",\"No\"]".
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// GammaMarket is a market as returned by the Gamma API.
type GammaMarket struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	ConditionID     string     `json:"conditionId"`
	Slug            string     `json:"slug"`
	Active          flexBool   `json:"active"`
	Closed          flexBool   `json:"closed"`
	EnableOrderBook flexBool   `json:"enableOrderBook"`
	NegRisk         flexBool   `json:"negRisk"`
	Outcomes        stringList `json:"outcomes"`
	ClobTokenIDs    stringList `json:"clobTokenIds"`
	EndDate         string     `json:"endDate"`
}

// Listing converts a binary Yes/No market with an orderbook into a catalog
// entry keyed by condition id. ok is false for anything else.
func (m *GammaMarket) Listing() (domain.Listing, bool) {
	if m.ConditionID == "" || len(m.ClobTokenIDs) != 2 || len(m.Outcomes) != 2 {
		return domain.Listing{}, false
	}
	yes, no := -1, -1
	for i, o := range m.Outcomes {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case "yes":
			yes = i
		case "no":
			no = i
		}
	}
	if yes < 0 || no < 0 {
		return domain.Listing{}, false
	}

	l := domain.Listing{
		Ref:      domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: m.ConditionID},
		Title:    m.Question,
		Active:   bool(m.Active) && !bool(m.Closed) && bool(m.EnableOrderBook),
		YesToken: m.ClobTokenIDs[yes],
		NoToken:  m.ClobTokenIDs[no],
	}
	if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
		l.CloseTime = t
	}
	return l, true
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// PriceLevel is one aggregated book level. Prices are dollars in [0,1].
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookResponse is the REST orderbook for one outcome token.
type BookResponse struct {
	Market    string       `json:"market"`
	AssetID   string       `json:"asset_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
}

// SignedOrder is the wire form of a signed order. Amounts are decimal
// strings in base units.
type SignedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// PostOrderRequest is the POST /order body.
type PostOrderRequest struct {
	Order     SignedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// OrderResult is the response to POST /order.
type OrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
}

// OpenOrder is the response to GET /data/order/{id}. Sizes are in shares,
// price in dollars.
type OpenOrder struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	OrderType    string `json:"order_type"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsEnvelope identifies a market-channel frame.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}

// wsBook is a full book snapshot for one token.
type wsBook struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

// wsPriceChange carries level updates for one or more tokens of a market.
type wsPriceChange struct {
	EventType    string          `json:"event_type"`
	Market       string          `json:"market"`
	PriceChanges []wsLevelChange `json:"price_changes"`
	Timestamp    string          `json:"timestamp"`
}

// wsLevelChange is one level update. Size "0" removes the level.
type wsLevelChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestAsk string `json:"best_ask"`
}

// wsSubscription subscribes the market channel to a set of tokens.
type wsSubscription struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
}
