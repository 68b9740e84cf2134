package kalshi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// Market is a market as returned by the Kalshi REST API. Prices are cents.
type Market struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	YesSubTitle string `json:"yes_sub_title"`
	Status      string `json:"status"` // "initialized", "active", "closed", "settled"
	YesBid      int64  `json:"yes_bid"`
	YesAsk      int64  `json:"yes_ask"`
	NoBid       int64  `json:"no_bid"`
	NoAsk       int64  `json:"no_ask"`
	Volume      int64  `json:"volume"`
	CloseTime   string `json:"close_time"`
	Result      string `json:"result"`
}

// Open reports whether the market accepts orders.
func (m Market) Open() bool {
	return m.Status == "active" || m.Status == "open"
}

// Close parses CloseTime, returning the zero time when absent.
func (m Market) Close() time.Time {
	t, err := time.Parse(time.RFC3339, m.CloseTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Listing converts the market into a catalog entry.
func (m Market) Listing() domain.Listing {
	title := m.Title
	if m.YesSubTitle != "" && !strings.Contains(title, m.YesSubTitle) {
		title += " " + m.YesSubTitle
	}
	return domain.Listing{
		Ref:       domain.MarketRef{Venue: domain.VenueKalshi, MarketID: m.Ticker},
		Title:     title,
		CloseTime: m.Close(),
		Active:    m.Open(),
	}
}

// MarketsPage is one page of GET /markets.
type MarketsPage struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// Level is one resting bid: price in cents and contract quantity. Kalshi
// encodes levels as two-element arrays.
type Level struct {
	Price    int64
	Quantity int64
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err == nil {
		l.Price, l.Quantity = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Price    int64 `json:"price"`
		Quantity int64 `json:"quantity"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("kalshi: decode level: %w", err)
	}
	l.Price, l.Quantity = obj.Price, obj.Quantity
	return nil
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{l.Price, l.Quantity})
}

// Orderbook holds the YES and NO bid ladders of one market. Kalshi only
// publishes bids; asks are implied by the opposite side.
type Orderbook struct {
	Yes []Level `json:"yes"`
	No  []Level `json:"no"`
}

// Order is the body of POST /portfolio/orders.
type Order struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "limit" or "market"
	Count         int64  `json:"count"`
	YesPrice      *int64 `json:"yes_price,omitempty"`
	NoPrice       *int64 `json:"no_price,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
}

// OrderState is an order as reported by Kalshi.
type OrderState struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
	Action         string `json:"action"`
	Side           string `json:"side"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	RemainingCount int64  `json:"remaining_count"`
	TakerFillCount int64  `json:"taker_fill_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCount int64  `json:"maker_fill_count"`
}

// OrderResponse is the reply to POST /portfolio/orders.
type OrderResponse struct {
	Order OrderState `json:"order"`
}

// ErrorResponse is the Kalshi API error body.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

type wsEnvelope struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "error", "subscribed"
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type wsSnapshot struct {
	MarketTicker string  `json:"market_ticker"`
	Yes          []Level `json:"yes"`
	No           []Level `json:"no"`
}

type wsDelta struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"`
}

type wsCommand struct {
	ID     int64          `json:"id"`
	Cmd    string         `json:"cmd"` // "subscribe" or "unsubscribe"
	Params wsCommandParam `json:"params"`
}

type wsCommandParam struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers,omitempty"`
}
