package domain

import "context"

// Venue is the order-entry surface of one exchange.
type Venue interface {
	ID() VenueID
	// GetQuote polls the current best YES/NO ask for market.
	GetQuote(ctx context.Context, marketID string) (Quote, error)
	// SubmitOrder places an immediate-or-kill limit order. A returned error
	// means the order state is unknown; a failed outcome means it is known
	// not to have filled.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderOutcome, error)
	// Flatten sells contracts of side on market at any price to remove
	// exposure left by a one-sided execution.
	Flatten(ctx context.Context, marketID string, side Side, contracts int64) (OrderOutcome, error)
}

// OrderTracker is implemented by venues that can report an order after
// submission. An outcome with status OrderTimeout means the venue has not
// resolved the order yet.
type OrderTracker interface {
	OrderStatus(ctx context.Context, req OrderRequest, orderID string) (OrderOutcome, error)
}
