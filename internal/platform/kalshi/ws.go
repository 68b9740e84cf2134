package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	// kalshiWriteWait is the time allowed to write a message to the peer.
	kalshiWriteWait = 10 * time.Second

	// kalshiPongWait is the time allowed to read the next pong message.
	kalshiPongWait = 30 * time.Second

	// kalshiPingPeriod sends pings at this interval. Must be less than pongWait.
	kalshiPingPeriod = (kalshiPongWait * 9) / 10

	// kalshiReconnectDelay is the base delay before attempting to reconnect.
	kalshiReconnectDelay = 2 * time.Second

	// kalshiMaxReconnectDelay caps the exponential backoff.
	kalshiMaxReconnectDelay = 60 * time.Second
)

// QuoteHandler receives every quote derivable after a book change.
type QuoteHandler func(domain.Quote)

// HeaderFunc returns the handshake headers, re-signed for every dial.
type HeaderFunc func() (http.Header, error)

// WSClient streams Kalshi orderbooks for a dynamic set of tickers and
// keeps a local book per ticker.
type WSClient struct {
	wsURL   string
	headers HeaderFunc
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	cmdID   int64
	tickers map[string]struct{}
	books   map[string]*Book

	handlerMu sync.RWMutex
	handlers  []QuoteHandler
}

// NewWSClient creates a client for wsURL, e.g.
// "wss://api.elections.kalshi.com/trade-api/ws/v2". headers may be nil.
func NewWSClient(wsURL string, headers HeaderFunc, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		headers: headers,
		logger:  logger.With(slog.String("component", "kalshi_ws")),
		now:     time.Now,
		tickers: make(map[string]struct{}),
		books:   make(map[string]*Book),
	}
}

// OnQuote registers a quote handler. Handlers run on the read goroutine.
func (w *WSClient) OnQuote(h QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Subscribe adds tickers to the tracked set, subscribing immediately when
// connected and on every reconnect otherwise.
func (w *WSClient) Subscribe(tickers ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var added []string
	for _, t := range tickers {
		if _, ok := w.tickers[t]; !ok {
			w.tickers[t] = struct{}{}
			added = append(added, t)
		}
	}
	if w.conn == nil || len(added) == 0 {
		return nil
	}
	if err := w.sendLocked("subscribe", added); err != nil {
		return fmt.Errorf("kalshi/ws: subscribe: %w", err)
	}
	return nil
}

// Forget stops tracking tickers. Later updates for them are ignored.
func (w *WSClient) Forget(tickers ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range tickers {
		delete(w.tickers, t)
		delete(w.books, t)
	}
}

// Tracked returns the tracked tickers, sorted.
func (w *WSClient) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tickers))
	for t := range w.tickers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Run keeps a session open until ctx is cancelled, reconnecting with
// exponential backoff.
func (w *WSClient) Run(ctx context.Context) error {
	delay := kalshiReconnectDelay
	for {
		started := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > kalshiMaxReconnectDelay {
			delay = kalshiReconnectDelay
		}
		w.logger.Warn("kalshi/ws: disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, kalshiMaxReconnectDelay)
	}
}

func (w *WSClient) session(ctx context.Context) error {
	var hdr http.Header
	if w.headers != nil {
		h, err := w.headers()
		if err != nil {
			return fmt.Errorf("kalshi/ws: sign handshake: %w", err)
		}
		hdr = h
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, hdr)
	if err != nil {
		return fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(kalshiPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(kalshiPongWait))
	})

	w.mu.Lock()
	w.conn = conn
	w.books = make(map[string]*Book)
	tickers := make([]string, 0, len(w.tickers))
	for t := range w.tickers {
		tickers = append(tickers, t)
	}
	if len(tickers) > 0 {
		err = w.sendLocked("subscribe", tickers)
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()
	if err != nil {
		return fmt.Errorf("kalshi/ws: restore subscriptions: %w", err)
	}
	w.logger.Info("kalshi/ws: connected", slog.Int("tickers", len(tickers)))

	stop := make(chan struct{})
	defer close(stop)
	go w.keepalive(ctx, conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		w.handleMessage(message)
	}
}

// keepalive pings the peer and closes conn when ctx ends so the blocked
// read returns.
func (w *WSClient) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(kalshiPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(kalshiWriteWait))
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(kalshiWriteWait)); err != nil {
				return
			}
		}
	}
}

// sendLocked writes a subscription command. Caller must hold w.mu.
func (w *WSClient) sendLocked(cmd string, tickers []string) error {
	w.cmdID++
	data, err := json.Marshal(wsCommand{
		ID:  w.cmdID,
		Cmd: cmd,
		Params: wsCommandParam{
			Channels: []string{"orderbook_delta"},
			Tickers:  tickers,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(kalshiWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleMessage applies a snapshot or delta and emits the resulting quote.
func (w *WSClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Debug("kalshi/ws: undecodable frame", slog.String("error", err.Error()))
		return
	}

	var (
		q  domain.Quote
		ok bool
	)
	switch env.Type {
	case "orderbook_snapshot":
		var snap wsSnapshot
		if err := json.Unmarshal(env.Msg, &snap); err != nil {
			return
		}
		q, ok = w.applySnapshot(snap)
	case "orderbook_delta":
		var d wsDelta
		if err := json.Unmarshal(env.Msg, &d); err != nil {
			return
		}
		q, ok = w.applyDelta(d)
	case "error":
		w.logger.Warn("kalshi/ws: server error", slog.String("msg", string(env.Msg)))
		return
	default:
		return
	}
	if !ok {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(q)
	}
}

func (w *WSClient) applySnapshot(s wsSnapshot) (domain.Quote, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, tracked := w.tickers[s.MarketTicker]; !tracked {
		return domain.Quote{}, false
	}
	b := NewBook(s.MarketTicker, Orderbook{Yes: s.Yes, No: s.No})
	w.books[s.MarketTicker] = b
	return b.Quote(w.now())
}

func (w *WSClient) applyDelta(d wsDelta) (domain.Quote, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.books[d.MarketTicker]
	if !ok {
		return domain.Quote{}, false
	}
	b.Apply(d.Side, d.Price, d.Delta)
	return b.Quote(w.now())
}
