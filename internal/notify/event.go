package notify

import (
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Kind names a notification variant. Kinds are what the event filter in
// the configuration refers to.
type Kind string

const (
	KindBotStarted          Kind = "bot-started"
	KindOpportunityDetected Kind = "opportunity-detected"
	KindTradeExecuted       Kind = "trade-executed"
	KindStatusUpdate        Kind = "status-update"
	KindError               Kind = "error"
	KindBotStopped          Kind = "bot-stopped"
)

// Event is one notification. The set of implementations is closed.
type Event interface {
	Kind() Kind
	Time() time.Time
	event()
}

type BotStarted struct {
	Mode    string
	Markets int
	At      time.Time
}

type OpportunityDetected struct {
	Market      string
	YesCents    int64
	NoCents     int64
	ProfitCents int64
	ArbType     domain.ArbType
	At          time.Time
}

type TradeExecuted struct {
	Market      string
	Contracts   int64
	ProfitCents int64
	Success     bool
	Latency     time.Duration
	Reason      string
	At          time.Time
}

type StatusUpdate struct {
	Uptime                time.Duration
	TotalTrades           int64
	SuccessfulTrades      int64
	ProfitCents           int64
	OpportunitiesDetected int64
	MarketsMonitored      int
	At                    time.Time
}

// SuccessRate is the share of successful trades in percent.
func (s StatusUpdate) SuccessRate() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return float64(s.SuccessfulTrades) / float64(s.TotalTrades) * 100
}

type Error struct {
	Message string
	At      time.Time
}

type BotStopped struct {
	Reason string
	At     time.Time
}

func (BotStarted) Kind() Kind          { return KindBotStarted }
func (OpportunityDetected) Kind() Kind { return KindOpportunityDetected }
func (TradeExecuted) Kind() Kind       { return KindTradeExecuted }
func (StatusUpdate) Kind() Kind        { return KindStatusUpdate }
func (Error) Kind() Kind               { return KindError }
func (BotStopped) Kind() Kind          { return KindBotStopped }

func (e BotStarted) Time() time.Time          { return e.At }
func (e OpportunityDetected) Time() time.Time { return e.At }
func (e TradeExecuted) Time() time.Time       { return e.At }
func (e StatusUpdate) Time() time.Time        { return e.At }
func (e Error) Time() time.Time               { return e.At }
func (e BotStopped) Time() time.Time          { return e.At }

func (BotStarted) event()          {}
func (OpportunityDetected) event() {}
func (TradeExecuted) event()       {}
func (StatusUpdate) event()        {}
func (Error) event()               {}
func (BotStopped) event()          {}

// FromOpportunity builds the detection notification for o.
func FromOpportunity(o domain.Opportunity) OpportunityDetected {
	return OpportunityDetected{
		Market:      o.Pair.Label(),
		YesCents:    o.YesCents,
		NoCents:     o.NoCents,
		ProfitCents: o.ProfitCents,
		ArbType:     o.Type,
		At:          o.DetectedAt,
	}
}

// FromTrade builds the execution notification for t.
func FromTrade(t domain.Trade) TradeExecuted {
	return TradeExecuted{
		Market:      t.Pair.Label(),
		Contracts:   t.Contracts,
		ProfitCents: t.RealizedProfitCents,
		Success:     t.Success,
		Latency:     t.Latency,
		Reason:      t.FailureReason,
		At:          t.CompletedAt,
	}
}
