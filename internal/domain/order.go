package domain

// Side is the binary outcome an order trades.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Action is the order direction.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// OrderStatus is the terminal state of a submitted order.
type OrderStatus string

const (
	OrderFilled  OrderStatus = "filled"
	OrderPartial OrderStatus = "partial"
	OrderFailed  OrderStatus = "failed"
	OrderTimeout OrderStatus = "timeout"
)

// OrderRequest is a single immediate-or-kill limit order sent to a venue.
type OrderRequest struct {
	ClientOrderID string    `json:"client_order_id"`
	Market        MarketRef `json:"market"`
	Side          Side      `json:"side"`
	Action        Action    `json:"action"`
	Contracts     int64     `json:"contracts"`
	LimitCents    int64     `json:"limit_cents"`
}

// OrderOutcome is what a venue reports for an OrderRequest.
type OrderOutcome struct {
	OrderID         string      `json:"order_id"`
	Status          OrderStatus `json:"status"`
	FillPriceCents  int64       `json:"fill_price_cents"`
	FilledContracts int64       `json:"filled_contracts"`
	Reason          string      `json:"reason,omitempty"`
}

// Filled reports whether any contracts were executed.
func (o OrderOutcome) Filled() bool {
	return o.FilledContracts > 0
}

// FailedOutcome builds a zero-fill outcome carrying reason.
func FailedOutcome(orderID string, status OrderStatus, reason string) OrderOutcome {
	return OrderOutcome{OrderID: orderID, Status: status, Reason: reason}
}
