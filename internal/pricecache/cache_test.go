package pricecache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

var kx = domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KXFED-25DEC"}

func quote(yes, no int64) domain.Quote {
	return domain.Quote{Venue: kx.Venue, MarketID: kx.MarketID, YesCents: yes, NoCents: no}
}

func TestCache_UpdateReplacesAndStamps(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(5*time.Second, WithClock(clk.Now))

	_, ok := c.Get(kx)
	assert.False(t, ok, "never seen is absent")

	require.NoError(t, c.Update(quote(40, 62)))
	require.NoError(t, c.Update(quote(41, 60)))

	q, ok := c.Get(kx)
	require.True(t, ok)
	assert.Equal(t, int64(41), q.YesCents)
	assert.Equal(t, int64(60), q.NoCents)
	assert.Equal(t, clk.t, q.ObservedAt)
	assert.Equal(t, 1, c.Len())
}

func TestCache_StaleQuoteIsAbsent(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(5*time.Second, WithClock(clk.Now))
	require.NoError(t, c.Update(quote(40, 62)))

	clk.Advance(5 * time.Second)
	_, ok := c.Get(kx)
	assert.True(t, ok, "exactly at the horizon is still fresh")

	clk.Advance(time.Millisecond)
	_, ok = c.Get(kx)
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot())

	require.NoError(t, c.Update(quote(39, 63)))
	q, ok := c.Get(kx)
	require.True(t, ok)
	assert.Equal(t, int64(39), q.YesCents)
}

func TestCache_ObservedAtDrivesStaleness(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(time.Second, WithClock(clk.Now))

	old := quote(40, 62)
	old.ObservedAt = clk.t.Add(-2 * time.Second)
	require.NoError(t, c.Update(old))

	_, ok := c.Get(kx)
	assert.False(t, ok)

	recent := quote(41, 57)
	recent.ObservedAt = clk.t.Add(-500 * time.Millisecond)
	require.NoError(t, c.Update(recent))
	_, ok = c.Get(kx)
	require.True(t, ok)

	clk.Advance(600 * time.Millisecond)
	_, ok = c.Get(kx)
	assert.False(t, ok, "age counts from observation, not from the write")
	assert.Empty(t, c.Snapshot())
}

func TestCache_RejectsInvalidQuote(t *testing.T) {
	c := New(time.Second)
	require.NoError(t, c.Update(quote(40, 62)))

	for _, q := range []domain.Quote{quote(0, 50), quote(50, 100), {YesCents: 40, NoCents: 40}} {
		assert.ErrorIs(t, c.Update(q), domain.ErrInvalidQuote)
	}
	got, ok := c.Get(kx)
	require.True(t, ok)
	assert.Equal(t, int64(40), got.YesCents, "invalid update must not replace the stored quote")
}

func TestCache_SubscribeNeverBlocks(t *testing.T) {
	c := New(time.Minute)
	sub := c.Subscribe(1)

	require.NoError(t, c.Update(quote(40, 62)))
	require.NoError(t, c.Update(quote(41, 62)))

	assert.Equal(t, kx, <-sub)
	select {
	case <-sub:
		t.Fatal("second notification should have been dropped")
	default:
	}
}

func TestCache_RemoveAndSnapshotOrder(t *testing.T) {
	c := New(time.Minute)
	pm := domain.Quote{Venue: domain.VenuePolymarket, MarketID: "0xabc", YesCents: 55, NoCents: 47}
	require.NoError(t, c.Update(pm))
	require.NoError(t, c.Update(quote(40, 62)))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.VenueKalshi, snap[0].Venue)

	c.Remove(kx)
	_, ok := c.Get(kx)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}
