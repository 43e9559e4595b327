package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalshi-ladder-feed/internal/clock"
)

func intPtr(v int) *int { return &v }

func newTestState(clk clock.Clock) *State {
	return NewState(clk, 500, 60_000)
}

func TestSnapshotReplacesBook(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 100}, {Price: 39, Size: 50}}, []Level{{Price: 55, Size: 200}})
	s.ApplySnapshot("MKT", []Level{{Price: 42, Size: 10}}, []Level{{Price: 56, Size: 20}})

	b := s.Book("MKT")
	require.NotNil(t, b)
	assert.Equal(t, map[int]int{42: 10}, b.Yes)
	assert.Equal(t, map[int]int{56: 20}, b.No)
}

func TestSnapshotDropsNonPositiveSizes(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 0}, {Price: 41, Size: -5}, {Price: 42, Size: 7}}, nil)

	assert.Equal(t, map[int]int{42: 7}, s.Book("MKT").Yes)
}

func TestDeltaAddsAndRemovesLevels(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	s.ApplyDelta("MKT", SideYes, 40, 100)
	s.ApplyDelta("MKT", SideYes, 40, 50)
	assert.Equal(t, 150, s.Book("MKT").Yes[40])

	s.ApplyDelta("MKT", SideYes, 40, -150)
	_, present := s.Book("MKT").Yes[40]
	assert.False(t, present, "level at exactly zero must be removed")

	s.ApplyDelta("MKT", SideNo, 55, 30)
	s.ApplyDelta("MKT", SideNo, 55, -100)
	_, present = s.Book("MKT").No[55]
	assert.False(t, present, "level driven negative must be removed")
}

func TestTopOfBookDerivedFromNoSide(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	// Best YES bid 40, best NO bid 55 so the YES ask is 100-55 = 45.
	s.ApplySnapshot("MKT",
		[]Level{{Price: 40, Size: 100}, {Price: 38, Size: 500}},
		[]Level{{Price: 55, Size: 200}, {Price: 50, Size: 900}})

	bid, ask, bidSize, askSize, ok := s.Book("MKT").TopOfBook()
	require.True(t, ok)
	assert.Equal(t, 40, bid)
	assert.Equal(t, 45, ask)
	assert.Equal(t, 100, bidSize)
	assert.Equal(t, 200, askSize)

	mid, ok := s.Book("MKT").Mid()
	require.True(t, ok)
	assert.InDelta(t, 42.5, mid, 1e-9)
}

func TestTopOfBookPrefersTickerQuote(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 100}}, []Level{{Price: 55, Size: 200}})
	s.ApplyTicker("MKT", TickerQuote{Bid: intPtr(41), Ask: intPtr(44)})

	bid, ask, _, _, ok := s.Book("MKT").TopOfBook()
	require.True(t, ok)
	assert.Equal(t, 41, bid)
	assert.Equal(t, 44, ask)
}

func TestTopOfBookMissingSide(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 100}}, nil)

	_, _, _, _, ok := s.Book("MKT").TopOfBook()
	assert.False(t, ok, "one-sided book has no quote")
}

func TestTopLevelsOrderedBestFirst(t *testing.T) {
	clk := clock.NewFake(1_000)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{
		{Price: 31, Size: 1}, {Price: 35, Size: 5}, {Price: 33, Size: 3},
		{Price: 40, Size: 9}, {Price: 32, Size: 2}, {Price: 38, Size: 8},
	}, nil)

	top := s.Book("MKT").TopLevels(SideYes, 5)
	require.Len(t, top, 5)
	prices := []int{top[0].Price, top[1].Price, top[2].Price, top[3].Price, top[4].Price}
	assert.Equal(t, []int{40, 38, 35, 33, 32}, prices)
}

func TestRingPrunesByWindow(t *testing.T) {
	clk := clock.NewFake(0)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 1}}, []Level{{Price: 55, Size: 1}})
	clk.Advance(70_000)

	s.ApplyDelta("MKT", SideYes, 40, 1)

	mids := s.Book("MKT").Rings().MidsSince(0)
	require.Len(t, mids, 1, "entries older than the window are pruned")
	assert.Equal(t, int64(70_000), mids[0].Ts)
}

func TestRingPrunesByMaxEntries(t *testing.T) {
	clk := clock.NewFake(0)
	s := NewState(clk, 10, 60_000)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 1}}, []Level{{Price: 55, Size: 1}})
	for i := 0; i < 30; i++ {
		clk.Advance(1)
		s.ApplyDelta("MKT", SideYes, 40, 1)
	}

	mids := s.Book("MKT").Rings().MidsSince(0)
	assert.Len(t, mids, 10)
	assert.Equal(t, int64(30), mids[len(mids)-1].Ts, "newest entries survive")
}

func TestMidAnchorsRefreshOnHorizon(t *testing.T) {
	clk := clock.NewFake(0)
	s := newTestState(clk)

	s.ApplyTicker("MKT", TickerQuote{Bid: intPtr(40), Ask: intPtr(42)}) // mid 41
	r := s.Book("MKT").Rings()

	anchor, ok := r.Mid5sAgo()
	require.True(t, ok)
	assert.InDelta(t, 41, anchor, 1e-9)

	// 2s later the anchor must not move.
	clk.Advance(2_000)
	s.ApplyTicker("MKT", TickerQuote{Bid: intPtr(43), Ask: intPtr(45)}) // mid 44
	anchor, _ = r.Mid5sAgo()
	assert.InDelta(t, 41, anchor, 1e-9)

	// Past the 5s horizon it refreshes to the latest mid.
	clk.Advance(4_000)
	s.ApplyTicker("MKT", TickerQuote{Bid: intPtr(45), Ask: intPtr(47)}) // mid 46
	anchor, _ = r.Mid5sAgo()
	assert.InDelta(t, 46, anchor, 1e-9)

	// The 60s anchor is still the original.
	long, ok := r.Mid1mAgo()
	require.True(t, ok)
	assert.InDelta(t, 41, long, 1e-9)
}

func TestTradeSideInference(t *testing.T) {
	clk := clock.NewFake(0)
	s := newTestState(clk)

	s.ApplySnapshot("MKT", []Level{{Price: 40, Size: 1}}, []Level{{Price: 56, Size: 1}}) // mid 42

	s.ApplyTrade("MKT", 43, 10, "yes")
	s.ApplyTrade("MKT", 43, 10, "no")
	s.ApplyTrade("MKT", 43, 10, "") // above mid -> buy
	s.ApplyTrade("MKT", 41, 10, "") // below mid -> sell

	trades := s.Book("MKT").Rings().TradesSince(0)
	require.Len(t, trades, 4)
	assert.Equal(t, TradeBuy, trades[0].Side)
	assert.Equal(t, TradeSell, trades[1].Side)
	assert.Equal(t, TradeBuy, trades[2].Side)
	assert.Equal(t, TradeSell, trades[3].Side)
}

func TestDirtyTracking(t *testing.T) {
	clk := clock.NewFake(0)
	s := newTestState(clk)

	s.ApplyDelta("A", SideYes, 40, 1)
	s.ApplyDelta("B", SideYes, 40, 1)
	s.ApplyDelta("A", SideYes, 41, 1)

	dirty := s.TakeDirty()
	assert.ElementsMatch(t, []string{"A", "B"}, dirty)
	assert.Empty(t, s.TakeDirty(), "drained after take")
}

func TestQuoteBoundsUnderRandomUpdates(t *testing.T) {
	clk := clock.NewFake(0)
	s := newTestState(clk)
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 2000; i++ {
		clk.Advance(int64(rng.Intn(200)))
		switch rng.Intn(4) {
		case 0:
			yes := make([]Level, rng.Intn(6))
			no := make([]Level, rng.Intn(6))
			for j := range yes {
				yes[j] = Level{Price: rng.Intn(101), Size: rng.Intn(300) - 20}
			}
			for j := range no {
				no[j] = Level{Price: rng.Intn(101), Size: rng.Intn(300) - 20}
			}
			s.ApplySnapshot("MKT", yes, no)
		case 1:
			side := SideYes
			if rng.Intn(2) == 1 {
				side = SideNo
			}
			s.ApplyDelta("MKT", side, rng.Intn(101), rng.Intn(401)-200)
		case 2:
			q := TickerQuote{Ts: clk.Now()}
			if rng.Intn(2) == 1 {
				bid := rng.Intn(101)
				ask := bid + rng.Intn(101-bid)
				q.Bid, q.Ask = intPtr(bid), intPtr(ask)
			}
			s.ApplyTicker("MKT", q)
		case 3:
			s.ApplyTrade("MKT", rng.Intn(101), 1+rng.Intn(50), "")
		}

		b := s.Book("MKT")
		for _, m := range []map[int]int{b.Yes, b.No} {
			for price, size := range m {
				require.GreaterOrEqual(t, price, 0)
				require.LessOrEqual(t, price, 100)
				require.Greater(t, size, 0, "stored levels are strictly positive")
			}
		}

		bid, ask, bidSize, askSize, ok := b.TopOfBook()
		if !ok {
			continue
		}
		require.GreaterOrEqual(t, bid, 0)
		require.LessOrEqual(t, bid, ask)
		require.LessOrEqual(t, ask, 100)
		require.GreaterOrEqual(t, bidSize, 0)
		require.GreaterOrEqual(t, askSize, 0)

		mid, midOK := b.Mid()
		require.True(t, midOK)
		require.GreaterOrEqual(t, mid, 0.0)
		require.LessOrEqual(t, mid, 100.0)
		require.GreaterOrEqual(t, mid/100.0, 0.0)
		require.LessOrEqual(t, mid/100.0, 1.0)
	}
}
