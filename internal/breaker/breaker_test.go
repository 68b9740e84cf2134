package breaker

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newBreaker(threshold int, cooldown time.Duration) (*Breaker, *clock) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New(Config{FailureThreshold: threshold, Cooldown: cooldown},
		slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(clk.Now))
	return b, clk
}

func fail(t *testing.T, b *Breaker) {
	t.Helper()
	p, err := b.Allow()
	require.NoError(t, err)
	b.Record(p, false)
}

func TestBreaker_OpensExactlyOnNthFailure(t *testing.T) {
	b, _ := newBreaker(3, time.Minute)

	fail(t, b)
	fail(t, b)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 2, b.Snapshot().ConsecutiveFailures)

	fail(t, b)
	assert.Equal(t, Open, b.State())

	_, err := b.Allow()
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b, _ := newBreaker(3, time.Minute)
	fail(t, b)
	fail(t, b)

	p, err := b.Allow()
	require.NoError(t, err)
	b.Record(p, true)
	assert.Zero(t, b.Snapshot().ConsecutiveFailures)

	fail(t, b)
	fail(t, b)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenProbeSucceeds(t *testing.T) {
	b, clk := newBreaker(3, 30*time.Second)
	for range 3 {
		fail(t, b)
	}

	clk.Advance(29 * time.Second)
	_, err := b.Allow()
	require.ErrorIs(t, err, domain.ErrBreakerOpen, "still cooling down")

	clk.Advance(time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, probe.Probe())
	assert.Equal(t, HalfOpen, b.State())

	_, err = b.Allow()
	assert.ErrorIs(t, err, domain.ErrBreakerOpen, "second request during probe is rejected")

	b.Record(probe, true)
	snap := b.Snapshot()
	assert.Equal(t, Closed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.False(t, snap.ProbeInFlight)
}

func TestBreaker_HalfOpenProbeFailsRestartsCooldown(t *testing.T) {
	b, clk := newBreaker(1, 10*time.Second)
	fail(t, b)
	first := b.Snapshot().TrippedAt

	clk.Advance(10 * time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(probe, false)

	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.True(t, snap.TrippedAt.After(first))

	clk.Advance(9 * time.Second)
	_, err = b.Allow()
	assert.ErrorIs(t, err, domain.ErrBreakerOpen)
	clk.Advance(time.Second)
	_, err = b.Allow()
	assert.NoError(t, err)
}

func TestBreaker_StalePermitIgnored(t *testing.T) {
	b, clk := newBreaker(2, time.Second)

	early, err := b.Allow()
	require.NoError(t, err)
	fail(t, b)
	fail(t, b)
	require.Equal(t, Open, b.State())

	b.Record(early, true)
	assert.Equal(t, Open, b.State(), "an attempt admitted before the trip cannot close the breaker")

	clk.Advance(time.Second)
	probe, err := b.Allow()
	require.NoError(t, err)
	b.Record(early, false)
	assert.Equal(t, HalfOpen, b.State())
	b.Record(probe, true)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_ConcurrentHalfOpenAdmitsOneProbe(t *testing.T) {
	b, clk := newBreaker(1, time.Second)
	fail(t, b)
	clk.Advance(time.Second)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Allow(); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestBreaker_TripResetAndHooks(t *testing.T) {
	b, _ := newBreaker(5, time.Hour)
	var got []string
	b.OnTransition(func(from, to State, snap Snapshot) {
		got = append(got, from.String()+"->"+to.String())
	})

	b.Trip("operator halt")
	snap := b.Snapshot()
	assert.Equal(t, Open, snap.State)
	assert.Equal(t, "operator halt", snap.Reason)
	assert.Equal(t, snap.TrippedAt.Add(time.Hour), snap.ReopensAt())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, []string{"closed->open", "open->closed"}, got)

	text, err := HalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half_open", string(text))
}

func TestBreaker_CancelFreesProbe(t *testing.T) {
	b, clk := newBreaker(1, time.Second)
	fail(t, b)
	clk.Advance(time.Second)

	probe, err := b.Allow()
	require.NoError(t, err)
	b.Cancel(probe)
	assert.Equal(t, HalfOpen, b.State())

	again, err := b.Allow()
	require.NoError(t, err)
	assert.True(t, again.Probe())
}
