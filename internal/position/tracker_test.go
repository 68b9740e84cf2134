package position

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

var mkt = domain.MarketRef{Venue: domain.VenueKalshi, MarketID: "KXFED"}

func newTracker(limit int64, opts ...Option) *Tracker {
	return NewTracker(Limits{Default: limit}, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func fill(id string, side domain.Side, action domain.Action, n, price int64) domain.Fill {
	return domain.Fill{OrderID: id, Market: mkt, Side: side, Action: action, Contracts: n, PriceCents: price}
}

func TestTracker_VolumeWeightedEntry(t *testing.T) {
	tr := newTracker(100)
	ctx := t.Context()

	_, err := tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 10, 40))
	require.NoError(t, err)
	pos, err := tr.Apply(ctx, fill("o2", domain.SideYes, domain.ActionBuy, 30, 44))
	require.NoError(t, err)

	assert.Equal(t, int64(40), pos.NetContracts)
	assert.True(t, decimal.NewFromInt(43).Equal(pos.AvgEntryCents), "got %s", pos.AvgEntryCents)
	assert.Equal(t, int64(60), tr.Headroom(mkt))
}

func TestTracker_NoIsShortYes(t *testing.T) {
	tr := newTracker(100)
	pos, err := tr.Apply(t.Context(), fill("o1", domain.SideNo, domain.ActionBuy, 10, 55))
	require.NoError(t, err)

	assert.Equal(t, int64(-10), pos.NetContracts)
	assert.True(t, decimal.NewFromInt(45).Equal(pos.AvgEntryCents))
	assert.Equal(t, int64(90), tr.Headroom(mkt))
}

func TestTracker_ReduceRealizesAndFlatResetsAverage(t *testing.T) {
	tr := newTracker(100)
	ctx := t.Context()
	_, err := tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 10, 40))
	require.NoError(t, err)

	pos, err := tr.Apply(ctx, fill("o2", domain.SideYes, domain.ActionSell, 4, 45))
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos.NetContracts)
	assert.True(t, decimal.NewFromInt(40).Equal(pos.AvgEntryCents))
	assert.True(t, decimal.NewFromInt(20).Equal(pos.RealizedCents))

	pos, err = tr.Apply(ctx, fill("o3", domain.SideYes, domain.ActionSell, 6, 38))
	require.NoError(t, err)
	assert.Zero(t, pos.NetContracts)
	assert.True(t, pos.AvgEntryCents.IsZero())
	assert.True(t, decimal.NewFromInt(8).Equal(pos.RealizedCents))
}

func TestTracker_FlipRestartsAverage(t *testing.T) {
	tr := newTracker(100)
	ctx := t.Context()
	_, err := tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 5, 40))
	require.NoError(t, err)

	pos, err := tr.Apply(ctx, fill("o2", domain.SideNo, domain.ActionBuy, 8, 50))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), pos.NetContracts)
	assert.True(t, decimal.NewFromInt(50).Equal(pos.AvgEntryCents))
}

func TestTracker_IdempotentByOrderID(t *testing.T) {
	tr := newTracker(100)
	ctx := t.Context()

	_, err := tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 4, 40))
	require.NoError(t, err)
	_, err = tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 4, 40))
	require.NoError(t, err)
	assert.Equal(t, int64(4), tr.Get(mkt).NetContracts, "redelivery is a no-op")

	_, err = tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 10, 40))
	require.NoError(t, err)
	assert.Equal(t, int64(10), tr.Get(mkt).NetContracts, "cumulative fill applies only the increase")

	_, err = tr.Apply(ctx, fill("o1", domain.SideYes, domain.ActionBuy, 7, 40))
	require.NoError(t, err)
	assert.Equal(t, int64(10), tr.Get(mkt).NetContracts, "stale cumulative count is ignored")
}

func TestTracker_RejectsBadFills(t *testing.T) {
	tr := newTracker(100)
	for _, f := range []domain.Fill{
		fill("", domain.SideYes, domain.ActionBuy, 1, 40),
		fill("o1", domain.SideYes, domain.ActionBuy, -1, 40),
		fill("o2", domain.SideYes, domain.ActionBuy, 1, 101),
	} {
		_, err := tr.Apply(t.Context(), f)
		assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	}
}

func TestTracker_ReserveAndRelease(t *testing.T) {
	tr := NewTracker(Limits{Default: 10, PerMarket: map[string]int64{mkt.Key(): 15}},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, int64(15), tr.Limit(mkt))

	r1, err := tr.Reserve(mkt, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tr.Headroom(mkt))

	_, err = tr.Reserve(mkt, 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientHeadroom)

	r1.Release()
	r1.Release()
	assert.Equal(t, int64(15), tr.Headroom(mkt))

	_, err = tr.Reserve(mkt, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestTracker_NeverExceedsLimitUnderReservation(t *testing.T) {
	const limit = 20
	tr := newTracker(limit)
	rng := rand.New(rand.NewPCG(7, 11))
	ctx := t.Context()

	for i := range 2000 {
		n := rng.Int64N(12) + 1
		res, err := tr.Reserve(mkt, n)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientHeadroom)
			// Drain the position so the walk keeps moving.
			pos := tr.Get(mkt)
			side, action := domain.SideYes, domain.ActionSell
			if pos.NetContracts < 0 {
				action = domain.ActionBuy
			}
			if pos.NetContracts != 0 {
				_, err = tr.Apply(ctx, fill("flat"+strconv.Itoa(i), side, action, pos.Abs(), 50))
				require.NoError(t, err)
			}
			continue
		}
		side := domain.SideYes
		if rng.IntN(2) == 0 {
			side = domain.SideNo
		}
		filled := rng.Int64N(n + 1)
		if filled > 0 {
			_, err = tr.Apply(ctx, fill("o"+strconv.Itoa(i), side, domain.ActionBuy, filled, rng.Int64N(98)+1))
			require.NoError(t, err)
		}
		res.Release()
		require.LessOrEqual(t, tr.Get(mkt).Abs(), int64(limit))
	}
}

func TestTracker_ConcurrentMarketsIndependent(t *testing.T) {
	tr := newTracker(1000)
	var wg sync.WaitGroup
	for m := range 8 {
		ref := domain.MarketRef{Venue: domain.VenuePolymarket, MarketID: strconv.Itoa(m)}
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := tr.Apply(context.Background(), domain.Fill{
					OrderID: strconv.Itoa(m) + "-" + strconv.Itoa(i), Market: ref,
					Side: domain.SideYes, Action: domain.ActionBuy, Contracts: 2, PriceCents: 50,
				})
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	positions := tr.Positions()
	require.Len(t, positions, 8)
	for _, p := range positions {
		assert.Equal(t, int64(100), p.NetContracts)
	}
}

type memStore struct {
	mu  sync.Mutex
	got map[string]domain.Position
}

func (m *memStore) UpsertPosition(_ context.Context, p domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got[p.Market.Key()] = p
	return nil
}

func (m *memStore) ListPositions(context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, p := range m.got {
		out = append(out, p)
	}
	return out, nil
}

func TestTracker_PersistsAndLoads(t *testing.T) {
	store := &memStore{got: map[string]domain.Position{}}
	at := time.Unix(1_700_000_000, 0)
	tr := newTracker(100, WithStore(store), WithClock(func() time.Time { return at }))

	_, err := tr.Apply(t.Context(), fill("o1", domain.SideYes, domain.ActionBuy, 7, 40))
	require.NoError(t, err)
	require.Contains(t, store.got, mkt.Key())
	assert.Equal(t, at, store.got[mkt.Key()].UpdatedAt)

	fresh := newTracker(100, WithStore(store))
	require.NoError(t, fresh.Load(t.Context()))
	assert.Equal(t, int64(7), fresh.Get(mkt).NetContracts)
	assert.Equal(t, int64(93), fresh.Headroom(mkt))
}
