package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/crossarb/internal/breaker"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/notify"
)

// BreakerControl is the operator view of the circuit breaker.
type BreakerControl interface {
	Snapshot() breaker.Snapshot
	Trip(reason string)
	Reset()
}

// PositionSource lists the ledger.
type PositionSource interface {
	Positions() []domain.Position
}

// PairSource lists registered pairs.
type PairSource interface {
	List() []domain.MatchedPair
}

// QuoteSource lists fresh cached quotes.
type QuoteSource interface {
	Snapshot() []domain.Quote
}

// StatsSource reports performance counters.
type StatsSource interface {
	Status() notify.StatusUpdate
}

// TradeLister reads persisted trades.
type TradeLister interface {
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
}

// Deps are the components the API reads from. Trades may be nil when no
// store is configured.
type Deps struct {
	Mode      string
	Breaker   BreakerControl
	Positions PositionSource
	Pairs     PairSource
	Quotes    QuoteSource
	Stats     StatsSource
	Trades    TradeLister
	// Config is served as-is and must already be redacted.
	Config any
}

// API serves the operator endpoints.
type API struct {
	deps   Deps
	logger *slog.Logger
}

// NewAPI creates an API over deps.
func NewAPI(deps Deps, logger *slog.Logger) *API {
	return &API{deps: deps, logger: logger.With(slog.String("component", "api"))}
}

type statusResponse struct {
	Mode                  string        `json:"mode"`
	UptimeSeconds         int64         `json:"uptime_seconds"`
	Breaker               breaker.State `json:"breaker"`
	Pairs                 int           `json:"pairs"`
	Quotes                int           `json:"quotes"`
	Positions             int           `json:"positions"`
	MarketsMonitored      int           `json:"markets_monitored"`
	OpportunitiesDetected int64         `json:"opportunities_detected"`
	TotalTrades           int64         `json:"total_trades"`
	SuccessfulTrades      int64         `json:"successful_trades"`
	SuccessRate           float64       `json:"success_rate"`
	ProfitCents           int64         `json:"profit_cents"`
}

// Status summarises the running bot.
// GET /api/status
func (a *API) Status(w http.ResponseWriter, _ *http.Request) {
	st := a.deps.Stats.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:                  a.deps.Mode,
		UptimeSeconds:         int64(st.Uptime.Seconds()),
		Breaker:               a.deps.Breaker.Snapshot().State,
		Pairs:                 len(a.deps.Pairs.List()),
		Quotes:                len(a.deps.Quotes.Snapshot()),
		Positions:             len(a.deps.Positions.Positions()),
		MarketsMonitored:      st.MarketsMonitored,
		OpportunitiesDetected: st.OpportunitiesDetected,
		TotalTrades:           st.TotalTrades,
		SuccessfulTrades:      st.SuccessfulTrades,
		SuccessRate:           st.SuccessRate(),
		ProfitCents:           st.ProfitCents,
	})
}

// ListPositions returns every tracked position.
// GET /api/positions
func (a *API) ListPositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"positions": orEmpty(a.deps.Positions.Positions())})
}

// ListPairs returns the registered pairs.
// GET /api/pairs
func (a *API) ListPairs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pairs": orEmpty(a.deps.Pairs.List())})
}

// ListQuotes returns fresh quotes, optionally filtered by ?venue=.
// GET /api/quotes
func (a *API) ListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes := a.deps.Quotes.Snapshot()
	if venue := r.URL.Query().Get("venue"); venue != "" {
		filtered := quotes[:0:0]
		for _, q := range quotes {
			if string(q.Venue) == venue {
				filtered = append(filtered, q)
			}
		}
		quotes = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": orEmpty(quotes)})
}

// ListTrades pages through persisted trades.
// GET /api/trades?limit=&offset=
func (a *API) ListTrades(w http.ResponseWriter, r *http.Request) {
	if a.deps.Trades == nil {
		writeError(w, http.StatusServiceUnavailable, "no trade store configured")
		return
	}
	trades, err := a.deps.Trades.ListTrades(r.Context(), parseListOpts(r))
	if err != nil {
		a.logger.ErrorContext(r.Context(), "api: list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": orEmpty(trades)})
}

// GetBreaker returns the breaker snapshot.
// GET /api/breaker
func (a *API) GetBreaker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Breaker.Snapshot())
}

type tripRequest struct {
	Reason string `json:"reason"`
}

// TripBreaker halts trading until reset or cooldown.
// POST /api/breaker/trip {"reason": "..."}
func (a *API) TripBreaker(w http.ResponseWriter, r *http.Request) {
	var req tripRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual trip"
	}
	a.deps.Breaker.Trip(reason)
	a.logger.WarnContext(r.Context(), "api: breaker tripped", slog.String("reason", reason))
	writeJSON(w, http.StatusOK, a.deps.Breaker.Snapshot())
}

// ResetBreaker closes the breaker.
// POST /api/breaker/reset
func (a *API) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	a.deps.Breaker.Reset()
	a.logger.InfoContext(r.Context(), "api: breaker reset")
	writeJSON(w, http.StatusOK, a.deps.Breaker.Snapshot())
}

// GetConfig returns the redacted running configuration.
// GET /api/config
func (a *API) GetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Config)
}
