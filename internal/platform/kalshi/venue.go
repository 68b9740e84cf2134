package kalshi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Venue places fill-or-kill limit orders on Kalshi.
type Venue struct {
	client *Client
	now    func() time.Time
}

// NewVenue wraps an authenticated client.
func NewVenue(c *Client) *Venue {
	return &Venue{client: c, now: time.Now}
}

func (v *Venue) ID() domain.VenueID { return domain.VenueKalshi }

// GetQuote polls the REST orderbook.
func (v *Venue) GetQuote(ctx context.Context, ticker string) (domain.Quote, error) {
	ob, err := v.client.GetOrderbook(ctx, ticker)
	if err != nil {
		return domain.Quote{}, err
	}
	q, ok := NewBook(ticker, ob).Quote(v.now())
	if !ok {
		return domain.Quote{}, fmt.Errorf("kalshi: %s: one-sided book: %w", ticker, domain.ErrNotFound)
	}
	return q, nil
}

// SubmitOrder sends req as a fill-or-kill limit order.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if req.Contracts <= 0 {
		return domain.OrderOutcome{}, fmt.Errorf("kalshi: %w: contracts %d", domain.ErrInvalidOrder, req.Contracts)
	}
	limit := req.LimitCents
	if limit < 1 {
		limit = 1
	}
	if limit > 99 {
		limit = 99
	}
	order := Order{
		Ticker:        req.Market.MarketID,
		ClientOrderID: req.ClientOrderID,
		Action:        string(req.Action),
		Side:          string(req.Side),
		Type:          "limit",
		Count:         req.Contracts,
		TimeInForce:   "fill_or_kill",
	}
	if req.Side == domain.SideYes {
		order.YesPrice = &limit
	} else {
		order.NoPrice = &limit
	}

	state, err := v.client.PlaceOrder(ctx, order)
	if err != nil {
		return domain.OrderOutcome{}, err
	}
	return outcomeFromState(state), nil
}

// Flatten sells contracts at the minimum price so any resting bid takes them.
func (v *Venue) Flatten(ctx context.Context, ticker string, side domain.Side, contracts int64) (domain.OrderOutcome, error) {
	return v.SubmitOrder(ctx, domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Market:        domain.MarketRef{Venue: domain.VenueKalshi, MarketID: ticker},
		Side:          side,
		Action:        domain.ActionSell,
		Contracts:     contracts,
		LimitCents:    1,
	})
}

// OrderStatus reports an order the exchange left pending.
func (v *Venue) OrderStatus(ctx context.Context, _ domain.OrderRequest, orderID string) (domain.OrderOutcome, error) {
	s, err := v.client.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderOutcome{}, err
	}
	return outcomeFromState(s), nil
}

func outcomeFromState(s OrderState) domain.OrderOutcome {
	filled := s.TakerFillCount + s.MakerFillCount
	out := domain.OrderOutcome{OrderID: s.OrderID, FilledContracts: filled}
	if filled == 0 && s.Status == "pending" {
		return domain.FailedOutcome(s.OrderID, domain.OrderTimeout, "order pending")
	}
	if filled == 0 {
		out.Status = domain.OrderFailed
		out.Reason = "not filled: " + s.Status
		return out
	}
	if s.TakerFillCount > 0 {
		out.FillPriceCents = (s.TakerFillCost + s.TakerFillCount/2) / s.TakerFillCount
	} else if s.Side == "no" {
		out.FillPriceCents = s.NoPrice
	} else {
		out.FillPriceCents = s.YesPrice
	}
	out.Status = domain.OrderFilled
	if s.RemainingCount > 0 {
		out.Status = domain.OrderPartial
	}
	return out
}
