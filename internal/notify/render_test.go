package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

var at = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		title string
		html  []string
		text  []string
	}{
		{
			name:  "bot started",
			event: BotStarted{Mode: "paper", Markets: 12, At: at},
			title: "Arbitrage Bot Started",
			html:  []string{"🚀 <b>Arbitrage Bot Started</b>", "<code>paper</code>", "<b>12</b>", "2026-03-14 09:26:53"},
			text:  []string{"**Arbitrage Bot Started**", "Mode: paper"},
		},
		{
			name: "opportunity",
			event: OpportunityDetected{
				Market: "Fed cut <March>", YesCents: 40, NoCents: 55, ProfitCents: 3,
				ArbType: domain.ArbBuyYesABuyNoB, At: at,
			},
			title: "Opportunity Detected",
			html:  []string{"Fed cut &lt;March&gt;", "YES: 40¢ | NO: 55¢", "<b>3¢ (0.03%)</b>", "buy_yes_a_buy_no_b"},
			text:  []string{"Fed cut <March>", "3¢ (0.03%)"},
		},
		{
			name:  "trade success",
			event: TradeExecuted{Market: "Fed", Contracts: 10, ProfitCents: 30, Success: true, Latency: 182 * time.Millisecond, At: at},
			title: "Trade Succeeded",
			html:  []string{"✅", "<b>10</b>", "<b>30¢</b>", "182ms"},
		},
		{
			name:  "trade failure",
			event: TradeExecuted{Market: "Fed", Contracts: 10, ProfitCents: -10, Reason: "no leg timeout", At: at},
			title: "Trade Failed",
			html:  []string{"❌", "-10¢", "Reason: no leg timeout"},
		},
		{
			name: "status",
			event: StatusUpdate{
				Uptime: 90 * time.Minute, TotalTrades: 4, SuccessfulTrades: 3, ProfitCents: 1234,
				OpportunitiesDetected: 9, MarketsMonitored: 20, At: at,
			},
			title: "Status Report",
			html:  []string{"<b>1.5h</b>", "Markets: 20", "Trades: 3/4 (75.0% success)", "<b>$12.34</b>", "09:26:53"},
		},
		{
			name:  "error",
			event: Error{Message: "breaker open: a & b", At: at},
			title: "Error Detected",
			html:  []string{"<code>breaker open: a &amp; b</code>"},
			text:  []string{"`breaker open: a & b`"},
		},
		{
			name:  "stopped",
			event: BotStopped{Reason: "signal", At: at},
			title: "Bot Stopped",
			html:  []string{"🛑", "Reason: signal"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := Render(tc.event)
			assert.Equal(t, tc.title, m.Title)
			assert.Equal(t, tc.event.Kind(), m.Kind)
			for _, want := range tc.html {
				assert.Contains(t, m.HTML, want)
			}
			for _, want := range tc.text {
				assert.Contains(t, m.Text, want)
			}
			assert.NotContains(t, m.Text, "<b>")
		})
	}
}

func TestRenderIsPure(t *testing.T) {
	e := StatusUpdate{TotalTrades: 1, At: at}
	assert.Equal(t, Render(e), Render(e))
}

func TestDollars(t *testing.T) {
	assert.Equal(t, "$0.00", dollars(0))
	assert.Equal(t, "$12.34", dollars(1234))
	assert.Equal(t, "-$1.05", dollars(-105))
}

func TestFromTrade(t *testing.T) {
	tr := domain.Trade{
		Pair:                domain.MatchedPair{Title: "Fed cut"},
		Contracts:           10,
		RealizedProfitCents: 30,
		Success:             true,
		Latency:             time.Second,
		CompletedAt:         at,
	}
	e := FromTrade(tr)
	assert.Equal(t, "Fed cut", e.Market)
	assert.Equal(t, int64(30), e.ProfitCents)
	assert.Equal(t, at, e.Time())
}
