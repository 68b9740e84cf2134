// Package ws streams bot events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// ErrClosed is returned by Publish after Run has returned.
var ErrClosed = errors.New("ws: hub closed")

// Channels are the event channels every client receives until it
// unsubscribes.
var Channels = []string{
	domain.ChannelOpportunities,
	domain.ChannelTrades,
	domain.ChannelBreaker,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Format selects the frame encoding for a client.
type Format int

const (
	FormatJSON Format = iota
	// FormatProto sends each envelope as a binary google.protobuf.Struct.
	FormatProto
)

// Envelope is the frame sent to clients.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// encode renders env as a JSON text frame or a protobuf binary frame.
func (env Envelope) encode(f Format) (int, []byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return 0, nil, err
	}
	if f == FormatJSON {
		return websocket.TextMessage, data, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return 0, nil, err
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return 0, nil, err
	}
	return websocket.BinaryMessage, b, nil
}

// DecodeProto reverses a FormatProto frame. Clients written in Go can use it.
func DecodeProto(frame []byte) (Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(frame, &s); err != nil {
		return Envelope{}, fmt.Errorf("ws: decode frame: %w", err)
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return Envelope{}, fmt.Errorf("ws: decode frame: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("ws: decode frame: %w", err)
	}
	return env, nil
}

type frame struct {
	kind int
	data []byte
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	format Format
	send   chan frame
	mu     sync.RWMutex
	subs   map[string]bool
}

type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithRelay forwards every event channel from bus to clients. Used when
// another process publishes events to Redis.
func WithRelay(bus domain.SignalBus) Option {
	return func(h *Hub) { h.relay = bus }
}

// WithStatus sets the snapshot sent to each client on connect.
func WithStatus(fn func() any) Option {
	return func(h *Hub) { h.status = fn }
}

// Hub fans published events out to connected clients. It satisfies the
// Broadcaster used by the event publisher.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan Envelope
	done       chan struct{}
	relay      domain.SignalBus
	status     func() any
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Envelope, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
		logger:     logger.With(slog.String("component", "ws")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish queues payload for clients subscribed to channel. payload must
// be valid JSON.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("ws: publish %s: payload is not JSON", channel)
	}
	env := Envelope{Channel: channel, Data: json.RawMessage(payload)}
	select {
	case h.broadcast <- env:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.relay != nil {
		for _, ch := range Channels {
			go h.relayChannel(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case env := <-h.broadcast:
			h.fanOut(env)
		}
	}
}

func (h *Hub) fanOut(env Envelope) {
	var encoded [2]*frame

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(env.Channel) {
			continue
		}
		if encoded[c.format] == nil {
			kind, data, err := env.encode(c.format)
			if err != nil {
				h.logger.Error("ws: encode failed",
					slog.String("channel", env.Channel),
					slog.String("error", err.Error()),
				)
				return
			}
			encoded[c.format] = &frame{kind: kind, data: data}
		}
		select {
		case c.send <- *encoded[c.format]:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("channel", env.Channel))
		}
	}
}

func (h *Hub) relayChannel(ctx context.Context, channel string) {
	msgs, err := h.relay.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: relay subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				return
			}
			if err := h.Publish(ctx, channel, data); err != nil {
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client. ?format=proto
// selects binary protobuf frames.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	format := FormatJSON
	if strings.EqualFold(r.URL.Query().Get("format"), "proto") {
		format = FormatProto
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		format: format,
		send:   make(chan frame, sendBufferSize),
		subs:   make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	c.sendStatus()

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) sendStatus() {
	if c.hub.status == nil {
		return
	}
	data, err := json.Marshal(c.hub.status())
	if err != nil {
		return
	}
	kind, b, err := Envelope{Channel: "status", Data: data}.encode(c.format)
	if err != nil {
		return
	}
	c.send <- frame{kind: kind, data: b}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
