package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between frames before the session is
	// considered dead. The server answers every PING with PONG.
	readWait = 30 * time.Second

	// pingPeriod is the application-level keepalive interval.
	pingPeriod = 10 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// QuoteHandler receives every market quote derivable after a book change.
type QuoteHandler func(domain.Quote)

// WSClient streams the CLOB market channel for a dynamic set of markets and
// keeps a two-token ask book per market.
type WSClient struct {
	wsURL  string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	books   map[string]*Book
	byToken map[string]string

	handlerMu sync.RWMutex
	handlers  []QuoteHandler
}

// NewWSClient creates a client for wsURL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		logger:  logger.With(slog.String("component", "polymarket_ws")),
		now:     time.Now,
		books:   make(map[string]*Book),
		byToken: make(map[string]string),
	}
}

// OnQuote registers a quote handler. Handlers run on the read goroutine.
func (w *WSClient) OnQuote(h QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Track starts streaming a market's two tokens.
func (w *WSClient) Track(l domain.Listing) error {
	if l.YesToken == "" || l.NoToken == "" {
		return fmt.Errorf("polymarket/ws: %s: listing has no tokens", l.Ref.MarketID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.books[l.Ref.MarketID]; ok {
		return nil
	}
	w.books[l.Ref.MarketID] = NewBook(l.Ref.MarketID, l.YesToken, l.NoToken)
	w.byToken[l.YesToken] = l.Ref.MarketID
	w.byToken[l.NoToken] = l.Ref.MarketID
	if w.conn == nil {
		return nil
	}
	if err := w.writeLocked(wsSubscription{
		AssetsIDs: []string{l.YesToken, l.NoToken},
		Operation: "subscribe",
	}); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// Forget stops tracking a market. Later frames for its tokens are ignored.
func (w *WSClient) Forget(marketID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.books[marketID]
	if !ok {
		return
	}
	delete(w.byToken, b.yesToken)
	delete(w.byToken, b.noToken)
	delete(w.books, marketID)
}

// Tracked returns the tracked market ids, sorted.
func (w *WSClient) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.books))
	for m := range w.books {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Run keeps a session open until ctx is cancelled, reconnecting with
// exponential backoff.
func (w *WSClient) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := w.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > maxReconnectDelay {
			delay = reconnectDelay
		}
		w.logger.Warn("polymarket/ws: disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (w *WSClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	w.mu.Lock()
	w.conn = conn
	tokens := make([]string, 0, len(w.byToken))
	for t := range w.byToken {
		tokens = append(tokens, t)
	}
	for id, b := range w.books {
		w.books[id] = NewBook(id, b.yesToken, b.noToken)
	}
	sort.Strings(tokens)
	err = w.writeLocked(wsSubscription{AssetsIDs: tokens, Type: "market"})
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
	}()
	if err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	w.logger.Info("polymarket/ws: connected", slog.Int("tokens", len(tokens)))

	stop := make(chan struct{})
	defer close(stop)
	go w.keepalive(ctx, conn, stop)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// keepalive sends PING frames and closes conn when ctx ends so the
// blocked read returns.
func (w *WSClient) keepalive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return
		case <-ticker.C:
			w.mu.Lock()
			var err error
			if w.conn == conn {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				err = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
			}
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// writeLocked sends a JSON frame. Caller must hold w.mu.
func (w *WSClient) writeLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleMessage routes one frame, which may be a single event or an array
// of events (the initial book dump).
func (w *WSClient) handleMessage(raw []byte) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("PONG")) {
		return
	}
	if raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			w.logger.Debug("polymarket/ws: undecodable frame", slog.String("error", err.Error()))
			return
		}
		for _, m := range batch {
			w.handleEvent(m)
		}
		return
	}
	w.handleEvent(raw)
}

func (w *WSClient) handleEvent(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Debug("polymarket/ws: undecodable event", slog.String("error", err.Error()))
		return
	}

	var quotes []domain.Quote
	switch env.EventType {
	case "book":
		var b wsBook
		if err := json.Unmarshal(raw, &b); err != nil {
			return
		}
		quotes = w.applyBook(b)
	case "price_change":
		var pc wsPriceChange
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		quotes = w.applyChanges(pc)
	default:
		return
	}
	if len(quotes) == 0 {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, q := range quotes {
		for _, h := range handlers {
			h(q)
		}
	}
}

func (w *WSClient) applyBook(b wsBook) []domain.Quote {
	w.mu.Lock()
	defer w.mu.Unlock()
	book, ok := w.bookForLocked(b.AssetID)
	if !ok || !book.ReplaceAsks(b.AssetID, b.Asks) {
		return nil
	}
	if q, ok := book.Quote(w.now()); ok {
		return []domain.Quote{q}
	}
	return nil
}

func (w *WSClient) applyChanges(pc wsPriceChange) []domain.Quote {
	w.mu.Lock()
	defer w.mu.Unlock()
	touched := make(map[string]*Book)
	for _, c := range pc.PriceChanges {
		if c.Side != "SELL" {
			continue
		}
		book, ok := w.bookForLocked(c.AssetID)
		if !ok {
			continue
		}
		if book.ApplyAsk(c.AssetID, c.Price, c.Size) {
			touched[book.market] = book
		}
	}

	var out []domain.Quote
	now := w.now()
	for _, book := range touched {
		if q, ok := book.Quote(now); ok {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// bookForLocked resolves a token to its market book. Caller must hold w.mu.
func (w *WSClient) bookForLocked(token string) (*Book, bool) {
	market, ok := w.byToken[token]
	if !ok {
		return nil, false
	}
	b, ok := w.books[market]
	return b, ok
}
