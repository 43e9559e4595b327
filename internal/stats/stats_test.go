package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalshi-ladder-feed/internal/book"
	"github.com/kalshi-ladder-feed/internal/clock"
	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/parser"
	"github.com/kalshi-ladder-feed/internal/signals"
)

func newEngine(t *testing.T) (*Engine, *book.State, *clock.Fake) {
	t.Helper()
	cfg := config.Default().Stats
	clk := clock.NewFake(1_000_000)
	state := book.NewState(clk, cfg.RingBufferMaxSize, cfg.RingBufferWindowMs)
	return NewEngine(cfg, clk, state), state, clk
}

func TestComputeQuoteDerivedFields(t *testing.T) {
	e, state, _ := newEngine(t)

	// YES bids 40x100, NO bids 55x300 so the quote is 40/45.
	state.ApplySnapshot("MKT",
		[]book.Level{{Price: 40, Size: 100}, {Price: 38, Size: 400}},
		[]book.Level{{Price: 55, Size: 300}, {Price: 54, Size: 100}})

	snap, ok := e.Compute("MKT")
	require.True(t, ok)
	require.True(t, snap.HasQuote)

	assert.Equal(t, 40, snap.Bid)
	assert.Equal(t, 45, snap.Ask)
	assert.InDelta(t, 42.5, snap.Mid, 1e-9)
	assert.InDelta(t, 5, snap.Spread, 1e-9)
	assert.InDelta(t, 5.0/42.5*10_000, snap.SpreadBps, 1e-6)
	assert.InDelta(t, 0.425, snap.ImpliedProb, 1e-9)

	// microprice = (45*100 + 40*300) / 400
	require.NotNil(t, snap.Microprice)
	assert.InDelta(t, 41.25, *snap.Microprice, 1e-9)

	require.NotNil(t, snap.ImbalanceTop)
	assert.InDelta(t, float64(100-300)/400, *snap.ImbalanceTop, 1e-9)
}

func TestComputeDepthAndWalls(t *testing.T) {
	e, state, _ := newEngine(t)

	state.ApplySnapshot("MKT",
		[]book.Level{
			{Price: 40, Size: 100}, {Price: 39, Size: 700}, {Price: 38, Size: 200},
			{Price: 37, Size: 50}, {Price: 36, Size: 50}, {Price: 35, Size: 9_999},
		},
		[]book.Level{{Price: 55, Size: 300}, {Price: 54, Size: 100}})

	snap, ok := e.Compute("MKT")
	require.True(t, ok)

	// Sixth level (price 35) is outside the top 5.
	assert.Equal(t, 1_100, snap.SumBidTop5)
	assert.Equal(t, 400, snap.SumAskTop5)
	assert.Equal(t, 700, snap.WallBidSize)
	assert.InDelta(t, 700.0/1_100, snap.WallBidRatio, 1e-9)
	assert.Equal(t, 300, snap.WallAskSize)

	require.NotNil(t, snap.BookImbalanceTop5)
	assert.InDelta(t, float64(1_100-400)/1_500, *snap.BookImbalanceTop5, 1e-9)
}

func TestComputeTradeWindow(t *testing.T) {
	e, state, clk := newEngine(t)

	state.ApplySnapshot("MKT", []book.Level{{Price: 40, Size: 1}}, []book.Level{{Price: 56, Size: 1}}) // mid 42

	state.ApplyTrade("MKT", 43, 10, "yes")
	clk.Advance(100)
	state.ApplyTrade("MKT", 41, 30, "no")
	clk.Advance(100)
	state.ApplyTrade("MKT", 45, 10, "yes")

	snap, ok := e.Compute("MKT")
	require.True(t, ok)

	assert.Equal(t, 3, snap.TradesPerMin)
	require.NotNil(t, snap.VWAP60s)
	assert.InDelta(t, float64(43*10+41*30+45*10)/50, *snap.VWAP60s, 1e-9)
	require.NotNil(t, snap.BuyPressure)
	assert.InDelta(t, 2.0/3, *snap.BuyPressure, 1e-9)
	assert.InDelta(t, 1.0/3, *snap.SellPressure, 1e-9)
}

func TestJumpFlag(t *testing.T) {
	e, state, clk := newEngine(t)

	bid, ask := 40, 42
	state.ApplyTicker("MKT", book.TickerQuote{Bid: &bid, Ask: &ask}) // mid 41, anchor 41

	clk.Advance(1_000)
	bid2, ask2 := 46, 48
	state.ApplyTicker("MKT", book.TickerQuote{Bid: &bid2, Ask: &ask2}) // mid 47

	snap, ok := e.Compute("MKT")
	require.True(t, ok)
	assert.True(t, snap.JumpFlag)
	assert.InDelta(t, 6, snap.JumpSize, 1e-9)
}

func TestFeedStatusTransitions(t *testing.T) {
	e, state, clk := newEngine(t)

	snap, ok := e.Compute("MKT")
	assert.False(t, ok, "unknown market has no snapshot")

	state.ApplyDelta("MKT", book.SideYes, 40, 10)
	snap, ok = e.Compute("MKT")
	require.True(t, ok)
	assert.Equal(t, FeedFresh, snap.FeedStatus)

	clk.Advance(3_001)
	snap, _ = e.Compute("MKT")
	assert.Equal(t, FeedStale, snap.FeedStatus)
	require.NotNil(t, snap.LastOrderbookAgeMs)
	assert.Equal(t, int64(3_001), *snap.LastOrderbookAgeMs)
}

func TestComputeDirtyOnlyTouchedMarkets(t *testing.T) {
	e, state, _ := newEngine(t)

	state.ApplyDelta("A", book.SideYes, 40, 10)
	state.ApplyDelta("B", book.SideYes, 40, 10)

	first := e.ComputeDirty()
	assert.Len(t, first, 2)

	state.ApplyDelta("A", book.SideYes, 41, 10)
	second := e.ComputeDirty()
	assert.Len(t, second, 1)
	_, hasA := second["A"]
	assert.True(t, hasA)

	all := e.ComputeAll()
	assert.Len(t, all, 2)
}

func floatPtr(v float64) *float64 { return &v }

func TestEnricherScoresAndFlags(t *testing.T) {
	cfg := config.Default().Stats
	meta := map[string]parser.Meta{
		"MKT": {
			Ticker:      "MKT",
			GroupType:   parser.GroupSpread,
			Side:        "Baltimore Ravens",
			Line:        floatPtr(3),
			LadderKey:   "g1|spread|Baltimore Ravens|wins_by_over",
			Predicate:   parser.PredicateWinsByOver,
			ParseSource: parser.SourceTicker,
		},
	}
	en := NewEnricher(cfg, meta)

	age := int64(1_000)
	snap := Snapshot{
		Ticker: "MKT", HasQuote: true,
		Bid: 40, Ask: 44, BidSize: 250, AskSize: 400,
		Mid: 42, Spread: 4,
		SumBidTop5: 500, SumAskTop5: 300,
		LastTickerAgeMs: &age,
	}

	e := en.Enrich(snap, nil, 0)

	assert.Equal(t, "Baltimore Ravens", e.Side)
	assert.Equal(t, "g1|spread|Baltimore Ravens|wins_by_over", e.LadderKey)

	// min(250/500,1)=0.5, 1-min(4/20,0.5)=0.8
	assert.InDelta(t, 0.4, e.LiquidityScore, 1e-9)
	assert.InDelta(t, 0.1, e.StalenessScore, 1e-9)
	// spread/2 + 100/avg(500,300) = 2 + 0.25
	assert.InDelta(t, 2.25, e.ExitabilityCents, 1e-9)
	assert.Empty(t, e.Flags)
}

func TestEnricherFlagThresholds(t *testing.T) {
	cfg := config.Default().Stats
	en := NewEnricher(cfg, nil)

	age := int64(8_000)
	snap := Snapshot{
		Ticker: "MKT", HasQuote: true,
		Bid: 30, Ask: 40, BidSize: 10, AskSize: 10,
		Mid: 35, Spread: 10, JumpFlag: true,
		SumBidTop5: 10, SumAskTop5: 10,
		LastTickerAgeMs: &age,
	}

	e := en.Enrich(snap, nil, 0)

	assert.Contains(t, e.Flags, signals.TypeStaleQuote)
	assert.Contains(t, e.Flags, signals.TypeJump)
	assert.Contains(t, e.Flags, signals.TypeLowLiquidity)
	assert.Contains(t, e.Flags, signals.TypeWideSpread)
}

func TestEnricherNoHistoryDefaults(t *testing.T) {
	en := NewEnricher(config.Default().Stats, nil)

	e := en.Enrich(Snapshot{Ticker: "MKT"}, nil, 0)

	assert.Equal(t, parser.SideUnknown, e.Side)
	assert.InDelta(t, 1, e.StalenessScore, 1e-9, "no ages known scores fully stale")
	assert.InDelta(t, 99, e.ExitabilityCents, 1e-9, "no resting size")
	assert.Zero(t, e.JumpScore5s)
}
