// Package pricecache holds the most recent quote for every (venue, market)
// and signals subscribers when a quote is replaced.
package pricecache

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Cache is an in-memory quote store with a staleness horizon. Quotes whose
// ObservedAt is older than the horizon are reported as absent, never
// returned stale.
type Cache struct {
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	quotes map[domain.MarketRef]domain.Quote

	subMu sync.RWMutex
	subs  []chan domain.MarketRef
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache that treats quotes older than staleAfter as absent.
func New(staleAfter time.Duration, opts ...Option) *Cache {
	c := &Cache{
		staleAfter: staleAfter,
		now:        time.Now,
		quotes:     make(map[domain.MarketRef]domain.Quote),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update replaces the stored quote for q's market unconditionally and
// notifies subscribers. A zero ObservedAt is stamped with the write time.
func (c *Cache) Update(q domain.Quote) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if q.ObservedAt.IsZero() {
		q.ObservedAt = c.now()
	}
	ref := q.Ref()

	c.mu.Lock()
	c.quotes[ref] = q
	c.mu.Unlock()

	c.broadcast(ref)
	return nil
}

// Get returns the latest quote for ref, or false if none was seen or the
// latest one is older than the staleness horizon.
func (c *Cache) Get(ref domain.MarketRef) (domain.Quote, bool) {
	c.mu.RLock()
	q, ok := c.quotes[ref]
	c.mu.RUnlock()
	if !ok || c.stale(q) {
		return domain.Quote{}, false
	}
	return q, true
}

// Remove drops the quote for a delisted market.
func (c *Cache) Remove(ref domain.MarketRef) {
	c.mu.Lock()
	delete(c.quotes, ref)
	c.mu.Unlock()
}

// Snapshot returns every fresh quote, ordered by market key.
func (c *Cache) Snapshot() []domain.Quote {
	c.mu.RLock()
	out := make([]domain.Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		if !c.stale(q) {
			out = append(out, q)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Ref().Key() < out[j].Ref().Key()
	})
	return out
}

// Len returns the number of stored quotes, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Subscribe returns a channel that receives the market of every update.
// Sends never block: when the buffer is full the notification is dropped,
// so consumers must also rescan periodically.
func (c *Cache) Subscribe(buffer int) <-chan domain.MarketRef {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.MarketRef, buffer)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Cache) broadcast(ref domain.MarketRef) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs {
		select {
		case ch <- ref:
		default:
		}
	}
}

func (c *Cache) stale(q domain.Quote) bool {
	if c.staleAfter <= 0 {
		return false
	}
	return c.now().Sub(q.ObservedAt) > c.staleAfter
}
