// Package feed turns venue quote streams into PriceCache writes and keeps
// the tracked market set in step with discovery.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const (
	mirrorQueueSize = 1024
	mirrorTimeout   = 2 * time.Second
)

// Sink is the write side of the price cache.
type Sink interface {
	Update(q domain.Quote) error
	Remove(ref domain.MarketRef)
}

// Hub owns one Stream per venue, writes every quote to the Sink, and
// optionally mirrors accepted quotes to a shared cache.
type Hub struct {
	sink    Sink
	mirror  domain.QuoteMirror
	streams map[domain.VenueID]Stream
	logger  *slog.Logger

	mirrorCh chan domain.Quote
	received atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithMirror copies accepted quotes to m, best effort.
func WithMirror(m domain.QuoteMirror) Option {
	return func(h *Hub) { h.mirror = m }
}

// NewHub creates a hub over streams. At most one stream per venue.
func NewHub(sink Sink, streams []Stream, logger *slog.Logger, opts ...Option) (*Hub, error) {
	h := &Hub{
		sink:     sink,
		streams:  make(map[domain.VenueID]Stream, len(streams)),
		logger:   logger.With(slog.String("component", "feed")),
		mirrorCh: make(chan domain.Quote, mirrorQueueSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, s := range streams {
		if _, dup := h.streams[s.Venue()]; dup {
			return nil, fmt.Errorf("feed: duplicate stream for %s", s.Venue())
		}
		h.streams[s.Venue()] = s
		s.OnQuote(h.write)
	}
	return h, nil
}

// Track starts streaming a listing on its venue.
func (h *Hub) Track(l domain.Listing) error {
	s, ok := h.streams[l.Ref.Venue]
	if !ok {
		return fmt.Errorf("feed: %s: %w", l.Ref.Venue, domain.ErrUnknownVenue)
	}
	if err := s.Track(l); err != nil {
		return fmt.Errorf("feed: track %s: %w", l.Ref, err)
	}
	return nil
}

// Forget stops streaming ref and drops its cached quote.
func (h *Hub) Forget(ctx context.Context, ref domain.MarketRef) {
	if s, ok := h.streams[ref.Venue]; ok {
		s.Forget(ref.MarketID)
	}
	h.sink.Remove(ref)
	if h.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := h.mirror.DeleteQuote(mctx, ref); err != nil {
		h.logger.Warn("feed: mirror delete failed", slog.String("market", ref.Key()), slog.String("error", err.Error()))
	}
}

// Stats returns quotes received, rejected by the cache, and dropped from
// the mirror queue.
func (h *Hub) Stats() (received, rejected, dropped int64) {
	return h.received.Load(), h.rejected.Load(), h.dropped.Load()
}

// Run runs every stream and the mirror writer until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for id, s := range h.streams {
		g.Go(func() error {
			h.logger.Info("feed: stream started", slog.String("venue", string(id)))
			if err := s.Run(gctx); err != nil {
				return fmt.Errorf("feed: %s: %w", id, err)
			}
			return nil
		})
	}
	if h.mirror != nil {
		g.Go(func() error {
			h.runMirror(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (h *Hub) write(q domain.Quote) {
	h.received.Add(1)
	if err := h.sink.Update(q); err != nil {
		h.rejected.Add(1)
		h.logger.Debug("feed: quote rejected", slog.String("market", q.Ref().Key()), slog.String("error", err.Error()))
		return
	}
	if h.mirror == nil {
		return
	}
	select {
	case h.mirrorCh <- q:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) runMirror(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-h.mirrorCh:
			mctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
			if err := h.mirror.SetQuote(mctx, q); err != nil {
				h.logger.Debug("feed: mirror write failed", slog.String("market", q.Ref().Key()), slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}
