package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"
)

// Message is a rendered notification. HTML targets Telegram's HTML parse
// mode, Text is plain markdown for webhooks and logs.
type Message struct {
	Kind  Kind
	Title string
	HTML  string
	Text  string
}

const (
	clockLayout = "15:04:05"
	stampLayout = "2006-01-02 15:04:05"
)

// Render formats e. It has no side effects.
func Render(e Event) Message {
	var m Message
	switch ev := e.(type) {
	case BotStarted:
		m = renderBotStarted(ev)
	case OpportunityDetected:
		m = renderOpportunity(ev)
	case TradeExecuted:
		m = renderTrade(ev)
	case StatusUpdate:
		m = renderStatus(ev)
	case Error:
		m = renderError(ev)
	case BotStopped:
		m = renderBotStopped(ev)
	default:
		m = Message{Title: "Notification", HTML: "Notification", Text: "Notification"}
	}
	m.Kind = e.Kind()
	return m
}

// lines joins an HTML rendering and derives the plain text from the same
// rows so both stay in step.
type lines struct {
	html, text []string
}

func (l *lines) add(htmlRow, textRow string) {
	l.html = append(l.html, htmlRow)
	l.text = append(l.text, textRow)
}

func (l *lines) message(title, emoji string) Message {
	return Message{
		Title: title,
		HTML:  fmt.Sprintf("%s <b>%s</b>\n\n%s", emoji, title, strings.Join(l.html, "\n")),
		Text:  fmt.Sprintf("%s **%s**\n%s", emoji, title, strings.Join(l.text, "\n")),
	}
}

func renderBotStarted(e BotStarted) Message {
	var l lines
	l.add("📊 Mode: <code>"+esc(e.Mode)+"</code>", "📊 Mode: "+e.Mode)
	l.add(fmt.Sprintf("🎯 Markets monitored: <b>%d</b>", e.Markets), fmt.Sprintf("🎯 Markets monitored: %d", e.Markets))
	l.add("⏰ Time: "+e.At.Format(stampLayout), "⏰ Time: "+e.At.Format(stampLayout))
	return l.message("Arbitrage Bot Started", "🚀")
}

func renderOpportunity(e OpportunityDetected) Message {
	var l lines
	pct := decimal.New(e.ProfitCents, -2).StringFixed(2)
	l.add("📈 Market: <code>"+esc(e.Market)+"</code>", "📈 Market: "+e.Market)
	row := fmt.Sprintf("💰 YES: %d¢ | NO: %d¢", e.YesCents, e.NoCents)
	l.add(row, row)
	l.add(fmt.Sprintf("💵 Profit: <b>%d¢ (%s%%)</b>", e.ProfitCents, pct), fmt.Sprintf("💵 Profit: %d¢ (%s%%)", e.ProfitCents, pct))
	l.add("🔄 Type: "+esc(string(e.ArbType)), "🔄 Type: "+string(e.ArbType))
	return l.message("Opportunity Detected", "🎯")
}

func renderTrade(e TradeExecuted) Message {
	emoji, title := "✅", "Trade Succeeded"
	if !e.Success {
		emoji, title = "❌", "Trade Failed"
	}
	var l lines
	l.add("📈 Market: <code>"+esc(e.Market)+"</code>", "📈 Market: "+e.Market)
	l.add(fmt.Sprintf("📦 Contracts: <b>%d</b>", e.Contracts), fmt.Sprintf("📦 Contracts: %d", e.Contracts))
	l.add(fmt.Sprintf("💵 Profit: <b>%d¢</b>", e.ProfitCents), fmt.Sprintf("💵 Profit: %d¢", e.ProfitCents))
	row := fmt.Sprintf("⚡ Latency: %dms", e.Latency.Milliseconds())
	l.add(row, row)
	if e.Reason != "" {
		l.add("📝 Reason: "+esc(e.Reason), "📝 Reason: "+e.Reason)
	}
	return l.message(title, emoji)
}

func renderStatus(e StatusUpdate) Message {
	var l lines
	hours := decimal.NewFromFloat(e.Uptime.Hours()).StringFixed(1)
	rate := decimal.NewFromFloat(e.SuccessRate()).StringFixed(1)
	usd := dollars(e.ProfitCents)

	l.add("⏱ Uptime: <b>"+hours+"h</b>", "⏱ Uptime: "+hours+"h")
	row := fmt.Sprintf("🎯 Markets: %d", e.MarketsMonitored)
	l.add(row, row)
	row = fmt.Sprintf("🔍 Opportunities: %d", e.OpportunitiesDetected)
	l.add(row, row)
	row = fmt.Sprintf("📈 Trades: %d/%d (%s%% success)", e.SuccessfulTrades, e.TotalTrades, rate)
	l.add(row, row)
	l.add("💰 Total Profit: <b>"+usd+"</b>", "💰 Total Profit: "+usd)
	l.add("⏰ "+e.At.Format(clockLayout), "⏰ "+e.At.Format(clockLayout))
	return l.message("Status Report", "📊")
}

func renderError(e Error) Message {
	var l lines
	l.add("<code>"+esc(e.Message)+"</code>", "`"+e.Message+"`")
	l.add("⏰ "+e.At.Format(clockLayout), "⏰ "+e.At.Format(clockLayout))
	return l.message("Error Detected", "⚠️")
}

func renderBotStopped(e BotStopped) Message {
	var l lines
	l.add("📝 Reason: "+esc(e.Reason), "📝 Reason: "+e.Reason)
	l.add("⏰ "+e.At.Format(stampLayout), "⏰ "+e.At.Format(stampLayout))
	return l.message("Bot Stopped", "🛑")
}

// dollars renders cents as a signed USD amount, e.g. -$1.05.
func dollars(cents int64) string {
	d := decimal.New(cents, -2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

func esc(s string) string { return html.EscapeString(s) }
