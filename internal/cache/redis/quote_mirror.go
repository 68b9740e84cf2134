package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// QuoteMirror implements domain.QuoteMirror with one hash per market at
// "quote:{venue}:{market}" holding yes, no and ts (unix nanoseconds).
// Entries expire after ttl so a dead writer leaves nothing stale behind.
type QuoteMirror struct {
	c   *Client
	ttl time.Duration
}

// NewQuoteMirror creates a mirror whose entries live for ttl (no expiry
// when ttl <= 0).
func NewQuoteMirror(c *Client, ttl time.Duration) *QuoteMirror {
	return &QuoteMirror{c: c, ttl: ttl}
}

func (m *QuoteMirror) quoteKey(ref domain.MarketRef) string {
	return m.c.key("quote", string(ref.Venue), ref.MarketID)
}

// SetQuote writes q and refreshes its expiry in one round trip.
func (m *QuoteMirror) SetQuote(ctx context.Context, q domain.Quote) error {
	key := m.quoteKey(q.Ref())
	_, err := m.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, encodeQuote(q))
		if m.ttl > 0 {
			pipe.Expire(ctx, key, m.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Ref(), err)
	}
	return nil
}

// GetQuote reads a mirrored quote. It returns domain.ErrNotFound when the
// key does not exist.
func (m *QuoteMirror) GetQuote(ctx context.Context, ref domain.MarketRef) (domain.Quote, error) {
	vals, err := m.c.rdb.HGetAll(ctx, m.quoteKey(ref)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", ref, err)
	}
	q, err := decodeQuote(ref, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", ref, err)
	}
	return q, nil
}

// DeleteQuote removes a mirrored quote.
func (m *QuoteMirror) DeleteQuote(ctx context.Context, ref domain.MarketRef) error {
	if err := m.c.rdb.Del(ctx, m.quoteKey(ref)).Err(); err != nil {
		return fmt.Errorf("redis: delete quote %s: %w", ref, err)
	}
	return nil
}

func encodeQuote(q domain.Quote) map[string]any {
	return map[string]any{
		"yes": strconv.FormatInt(q.YesCents, 10),
		"no":  strconv.FormatInt(q.NoCents, 10),
		"ts":  strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
}

func decodeQuote(ref domain.MarketRef, vals map[string]string) (domain.Quote, error) {
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	q := domain.Quote{Venue: ref.Venue, MarketID: ref.MarketID}
	var err error
	if q.YesCents, err = strconv.ParseInt(vals["yes"], 10, 64); err != nil {
		return domain.Quote{}, fmt.Errorf("parse yes: %w", err)
	}
	if q.NoCents, err = strconv.ParseInt(vals["no"], 10, 64); err != nil {
		return domain.Quote{}, fmt.Errorf("parse no: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ts: %w", err)
	}
	q.ObservedAt = time.Unix(0, ts)
	return q, nil
}

var _ domain.QuoteMirror = (*QuoteMirror)(nil)
