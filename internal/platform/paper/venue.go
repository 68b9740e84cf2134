// Package paper simulates a venue against live quotes so the full
// execution path can run without sending orders.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// QuoteSource is the read side of the price cache.
type QuoteSource interface {
	Get(ref domain.MarketRef) (domain.Quote, bool)
}

// Config controls the simulation.
type Config struct {
	// Venue is the venue id this simulator stands in for.
	Venue domain.VenueID
	// Latency delays every order; a context deadline shorter than this
	// makes the order time out without filling.
	Latency time.Duration
	// FailureRate is the probability in [0,1] that an order is rejected.
	FailureRate float64
	// Seed makes failure injection reproducible. Zero uses a random seed.
	Seed uint64
}

// Venue fills orders at the cached quote: buys fill at the ask when the
// ask is within the limit, sells fill at the implied bid (100 minus the
// opposite ask) when it is at or above the limit.
type Venue struct {
	cfg    Config
	quotes QuoteSource
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	failNext int
	holdings map[string]int64
	fills    []domain.Fill
}

// NewVenue creates a simulator for cfg.Venue backed by quotes.
func NewVenue(cfg Config, quotes QuoteSource, logger *slog.Logger) *Venue {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Venue{
		cfg:      cfg,
		quotes:   quotes,
		logger:   logger.With(slog.String("component", "paper"), slog.String("venue", string(cfg.Venue))),
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		holdings: make(map[string]int64),
	}
}

func (v *Venue) ID() domain.VenueID { return v.cfg.Venue }

// FailNext rejects the next n orders regardless of price.
func (v *Venue) FailNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = n
}

// Holdings returns the simulated inventory of side on market.
func (v *Venue) Holdings(marketID string, side domain.Side) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.holdings[holdingKey(marketID, side)]
}

// Fills returns every simulated execution in order.
func (v *Venue) Fills() []domain.Fill {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Fill, len(v.fills))
	copy(out, v.fills)
	return out
}

// GetQuote returns the cached quote.
func (v *Venue) GetQuote(_ context.Context, marketID string) (domain.Quote, error) {
	q, ok := v.quotes.Get(domain.MarketRef{Venue: v.cfg.Venue, MarketID: marketID})
	if !ok {
		return domain.Quote{}, fmt.Errorf("paper: %s: %w", marketID, domain.ErrNotFound)
	}
	return q, nil
}

// SubmitOrder simulates a fill-or-kill limit order.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if req.Contracts <= 0 {
		return domain.OrderOutcome{}, fmt.Errorf("paper: %w: contracts %d", domain.ErrInvalidOrder, req.Contracts)
	}
	if v.cfg.Latency > 0 {
		t := time.NewTimer(v.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.OrderOutcome{}, ctx.Err()
		case <-t.C:
		}
	}

	orderID := req.ClientOrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	q, err := v.GetQuote(ctx, req.Market.MarketID)
	if err != nil {
		return domain.FailedOutcome(orderID, domain.OrderFailed, "no quote"), nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failNext > 0 {
		v.failNext--
		return domain.FailedOutcome(orderID, domain.OrderFailed, "injected failure"), nil
	}
	if v.cfg.FailureRate > 0 && v.rng.Float64() < v.cfg.FailureRate {
		return domain.FailedOutcome(orderID, domain.OrderFailed, "injected failure"), nil
	}

	key := holdingKey(req.Market.MarketID, req.Side)
	var price int64
	if req.Action == domain.ActionBuy {
		price = askFor(q, req.Side)
		if price > req.LimitCents {
			return domain.FailedOutcome(orderID, domain.OrderFailed,
				fmt.Sprintf("ask %d above limit %d", price, req.LimitCents)), nil
		}
		v.holdings[key] += req.Contracts
	} else {
		price = 100 - askFor(q, req.Side.Opposite())
		if price < req.LimitCents {
			return domain.FailedOutcome(orderID, domain.OrderFailed,
				fmt.Sprintf("bid %d below limit %d", price, req.LimitCents)), nil
		}
		if v.holdings[key] < req.Contracts {
			return domain.FailedOutcome(orderID, domain.OrderFailed, "insufficient holdings"), nil
		}
		v.holdings[key] -= req.Contracts
	}

	v.fills = append(v.fills, domain.Fill{
		OrderID:    orderID,
		Market:     req.Market,
		Side:       req.Side,
		Action:     req.Action,
		Contracts:  req.Contracts,
		PriceCents: price,
		At:         v.now(),
	})
	v.logger.Info("paper: order filled",
		slog.String("order_id", orderID),
		slog.String("market", req.Market.MarketID),
		slog.String("side", string(req.Side)),
		slog.String("action", string(req.Action)),
		slog.Int64("contracts", req.Contracts),
		slog.Int64("price_cents", price),
	)
	return domain.OrderOutcome{
		OrderID:         orderID,
		Status:          domain.OrderFilled,
		FillPriceCents:  price,
		FilledContracts: req.Contracts,
	}, nil
}

// Flatten sells contracts at any price.
func (v *Venue) Flatten(ctx context.Context, marketID string, side domain.Side, contracts int64) (domain.OrderOutcome, error) {
	return v.SubmitOrder(ctx, domain.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Market:        domain.MarketRef{Venue: v.cfg.Venue, MarketID: marketID},
		Side:          side,
		Action:        domain.ActionSell,
		Contracts:     contracts,
		LimitCents:    1,
	})
}

func askFor(q domain.Quote, side domain.Side) int64 {
	if side == domain.SideNo {
		return q.NoCents
	}
	return q.YesCents
}

func holdingKey(marketID string, side domain.Side) string {
	return marketID + "/" + string(side)
}
