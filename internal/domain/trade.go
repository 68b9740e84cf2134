package domain

import "time"

// LegOutcome pairs an order request with what the venue reported.
type LegOutcome struct {
	Request OrderRequest `json:"request"`
	Outcome OrderOutcome `json:"outcome"`
}

// Fill converts the leg into a ledger fill.
func (l LegOutcome) Fill(at time.Time) Fill {
	return Fill{
		OrderID:    l.Request.ClientOrderID,
		Market:     l.Request.Market,
		Side:       l.Request.Side,
		Action:     l.Request.Action,
		Contracts:  l.Outcome.FilledContracts,
		PriceCents: l.Outcome.FillPriceCents,
		At:         at,
	}
}

// FullyFilled reports whether every requested contract filled at or better
// than the limit.
func (l LegOutcome) FullyFilled() bool {
	o := l.Outcome
	if o.FilledContracts < l.Request.Contracts {
		return false
	}
	if l.Request.Action == ActionBuy {
		return o.FillPriceCents <= l.Request.LimitCents
	}
	return o.FillPriceCents >= l.Request.LimitCents
}

// Trade is the immutable record of one execution attempt.
type Trade struct {
	ID                   string        `json:"id"`
	OpportunityID        string        `json:"opportunity_id"`
	Pair                 MatchedPair   `json:"pair"`
	Type                 ArbType       `json:"type"`
	Contracts            int64         `json:"contracts"`
	YesLeg               LegOutcome    `json:"yes_leg"`
	NoLeg                LegOutcome    `json:"no_leg"`
	Compensation         *LegOutcome   `json:"compensation,omitempty"`
	EstimatedProfitCents int64         `json:"estimated_profit_cents"`
	RealizedProfitCents  int64         `json:"realized_profit_cents"`
	Latency              time.Duration `json:"latency"`
	Success              bool          `json:"success"`
	FailureReason        string        `json:"failure_reason,omitempty"`
	StartedAt            time.Time     `json:"started_at"`
	CompletedAt          time.Time     `json:"completed_at"`
}
