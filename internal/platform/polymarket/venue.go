package polymarket

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Base units per outcome token and per cent of USDC (both six decimals).
const (
	unitsPerContract = 1_000_000
	unitsPerCent     = 10_000
)

// VenueConfig controls how orders are signed.
type VenueConfig struct {
	// Funder is the maker address holding the funds. Empty means the
	// signer's own address.
	Funder        string
	SignatureType int
	FeeRateBps    int64
}

type tokenPair struct {
	yes, no string
}

// Venue places signed fill-or-kill orders on the Polymarket CLOB. Markets
// are keyed by condition id and must be registered with their token ids.
type Venue struct {
	clob   *ClobClient
	signer *crypto.Signer
	cfg    VenueConfig
	now    func() time.Time
	salt   func() int64

	mu     sync.RWMutex
	tokens map[string]tokenPair
}

// NewVenue wraps an authenticated CLOB client.
func NewVenue(clob *ClobClient, signer *crypto.Signer, cfg VenueConfig) *Venue {
	if cfg.Funder == "" {
		cfg.Funder = signer.Address().Hex()
	}
	return &Venue{
		clob:   clob,
		signer: signer,
		cfg:    cfg,
		now:    time.Now,
		salt:   func() int64 { return rand.Int64N(1 << 53) },
		tokens: make(map[string]tokenPair),
	}
}

func (v *Venue) ID() domain.VenueID { return domain.VenuePolymarket }

// Register records a listing's token ids so orders can be routed.
func (v *Venue) Register(l domain.Listing) error {
	if l.YesToken == "" || l.NoToken == "" {
		return fmt.Errorf("polymarket: %s: listing has no tokens", l.Ref.MarketID)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[l.Ref.MarketID] = tokenPair{yes: l.YesToken, no: l.NoToken}
	return nil
}

// Unregister drops a market's token ids.
func (v *Venue) Unregister(marketID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, marketID)
}

func (v *Venue) lookup(marketID string) (tokenPair, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	tp, ok := v.tokens[marketID]
	if !ok {
		return tokenPair{}, fmt.Errorf("polymarket: market %s: %w", marketID, domain.ErrNotFound)
	}
	return tp, nil
}

// GetQuote polls both token books over REST.
func (v *Venue) GetQuote(ctx context.Context, marketID string) (domain.Quote, error) {
	tp, err := v.lookup(marketID)
	if err != nil {
		return domain.Quote{}, err
	}
	book := NewBook(marketID, tp.yes, tp.no)
	for _, token := range []string{tp.yes, tp.no} {
		resp, err := v.clob.GetBook(ctx, token)
		if err != nil {
			return domain.Quote{}, err
		}
		book.ReplaceAsks(token, resp.Asks)
	}
	q, ok := book.Quote(v.now())
	if !ok {
		return domain.Quote{}, fmt.Errorf("polymarket: %s: no two-sided quote: %w", marketID, domain.ErrNotFound)
	}
	return q, nil
}

// SubmitOrder signs req as a limit order and posts it fill-or-kill.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if req.Contracts <= 0 {
		return domain.OrderOutcome{}, fmt.Errorf("polymarket: %w: contracts %d", domain.ErrInvalidOrder, req.Contracts)
	}
	tp, err := v.lookup(req.Market.MarketID)
	if err != nil {
		return domain.OrderOutcome{}, err
	}
	token := tp.yes
	if req.Side == domain.SideNo {
		token = tp.no
	}
	limit := min(max(req.LimitCents, 1), 99)

	order := crypto.Order{
		Salt:          v.salt(),
		Maker:         v.cfg.Funder,
		Signer:        v.signer.Address().Hex(),
		TokenID:       token,
		FeeRateBps:    v.cfg.FeeRateBps,
		SignatureType: v.cfg.SignatureType,
	}
	usdc := req.Contracts * limit * unitsPerCent
	shares := req.Contracts * unitsPerContract
	if req.Action == domain.ActionSell {
		order.Side = crypto.Sell
		order.MakerAmount, order.TakerAmount = shares, usdc
	} else {
		order.Side = crypto.Buy
		order.MakerAmount, order.TakerAmount = usdc, shares
	}

	sig, err := v.signer.SignOrder(order)
	if err != nil {
		return domain.OrderOutcome{}, fmt.Errorf("polymarket: sign order: %w", err)
	}
	res, err := v.clob.PostOrder(ctx, PostOrderRequest{
		Order:     wireOrder(order, sig),
		Owner:     v.clob.Credentials().Key,
		OrderType: "FOK",
	})
	if err != nil {
		return domain.OrderOutcome{}, err
	}
	return outcomeFromResult(res, req, limit), nil
}

// Flatten sells contracts at the minimum tick so any resting bid takes them.
func (v *Venue) Flatten(ctx context.Context, marketID string, side domain.Side, contracts int64) (domain.OrderOutcome, error) {
	return v.SubmitOrder(ctx, domain.OrderRequest{
		Market:     domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: marketID},
		Side:       side,
		Action:     domain.ActionSell,
		Contracts:  contracts,
		LimitCents: 1,
	})
}

// OrderStatus reports an order that the exchange accepted without
// matching it immediately.
func (v *Venue) OrderStatus(ctx context.Context, req domain.OrderRequest, orderID string) (domain.OrderOutcome, error) {
	o, err := v.clob.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderOutcome{}, err
	}
	return outcomeFromOrder(o, req), nil
}

func wireOrder(o crypto.Order, sig string) SignedOrder {
	return SignedOrder{
		Salt:          o.Salt,
		Maker:         o.Maker,
		Signer:        o.Signer,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       o.TokenID,
		MakerAmount:   strconv.FormatInt(o.MakerAmount, 10),
		TakerAmount:   strconv.FormatInt(o.TakerAmount, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.FormatInt(o.FeeRateBps, 10),
		Side:          o.Side.String(),
		SignatureType: o.SignatureType,
		Signature:     sig,
	}
}

func outcomeFromResult(res OrderResult, req domain.OrderRequest, limit int64) domain.OrderOutcome {
	if !res.Success {
		return domain.FailedOutcome(res.OrderID, domain.OrderFailed, "rejected: "+res.ErrorMsg)
	}
	switch res.Status {
	case "matched":
		return domain.OrderOutcome{
			OrderID:         res.OrderID,
			Status:          domain.OrderFilled,
			FillPriceCents:  fillPrice(res, req.Action, limit),
			FilledContracts: req.Contracts,
		}
	case "delayed":
		return domain.FailedOutcome(res.OrderID, domain.OrderTimeout, "matching delayed")
	default:
		return domain.FailedOutcome(res.OrderID, domain.OrderFailed, "not filled: "+res.Status)
	}
}

// outcomeFromOrder maps a polled order. Matched size is floored to whole
// contracts; an order still live or delayed with nothing matched stays
// unresolved.
func outcomeFromOrder(o OpenOrder, req domain.OrderRequest) domain.OrderOutcome {
	status := strings.TrimPrefix(strings.ToLower(o.Status), "order_status_")
	var filled int64
	if m, err := decimal.NewFromString(o.SizeMatched); err == nil {
		filled = m.Floor().IntPart()
	}
	if filled == 0 {
		switch status {
		case "live", "delayed":
			return domain.FailedOutcome(o.ID, domain.OrderTimeout, "matching "+status)
		default:
			return domain.FailedOutcome(o.ID, domain.OrderFailed, "not filled: "+status)
		}
	}

	price := req.LimitCents
	if p, err := decimal.NewFromString(o.Price); err == nil && p.IsPositive() {
		price = p.Shift(2).Round(0).IntPart()
	}
	out := domain.OrderOutcome{
		OrderID:         o.ID,
		Status:          domain.OrderFilled,
		FillPriceCents:  price,
		FilledContracts: filled,
	}
	if filled < req.Contracts {
		out.Status = domain.OrderPartial
	}
	return out
}

// fillPrice derives the average price from the matched amounts, falling
// back to the limit when they are absent.
func fillPrice(res OrderResult, action domain.Action, limit int64) int64 {
	usdc, shares := res.MakingAmount, res.TakingAmount
	if action == domain.ActionSell {
		usdc, shares = res.TakingAmount, res.MakingAmount
	}
	u, err := decimal.NewFromString(usdc)
	if err != nil {
		return limit
	}
	s, err := decimal.NewFromString(shares)
	if err != nil || !s.IsPositive() {
		return limit
	}
	return u.Div(s).Shift(2).Round(0).IntPart()
}
