// Package stats computes per-market snapshots from book and ring-buffer
// state, and enriches them with parsed metadata and derived scores. All
// computation is pure; nothing here mutates book state.
package stats

import (
	"math"

	"github.com/kalshi-ladder-feed/internal/book"
	"github.com/kalshi-ladder-feed/internal/clock"
	"github.com/kalshi-ladder-feed/internal/config"
)

type FeedStatus string

const (
	FeedFresh   FeedStatus = "fresh"
	FeedStale   FeedStatus = "stale"
	FeedUnknown FeedStatus = "unknown"
)

// Snapshot is the computed view of one market at one instant. Pointer fields
// are nil when the underlying inputs are missing (no quote, no trades, no
// history).
type Snapshot struct {
	Ticker string `json:"ticker"`
	Ts     int64  `json:"ts"`

	HasQuote bool `json:"has_quote"`
	Bid      int  `json:"bid"`
	Ask      int  `json:"ask"`
	BidSize  int  `json:"bid_size"`
	AskSize  int  `json:"ask_size"`

	Mid         float64 `json:"mid"`
	Spread      float64 `json:"spread"`
	SpreadBps   float64 `json:"spread_bps"`
	ImpliedProb float64 `json:"implied_prob"`

	Microprice   *float64 `json:"microprice,omitempty"`
	ImbalanceTop *float64 `json:"imbalance_top,omitempty"`

	SumBidTop5        int      `json:"sum_bid_top5"`
	SumAskTop5        int      `json:"sum_ask_top5"`
	BookImbalanceTop5 *float64 `json:"book_imbalance_top5,omitempty"`
	WallBidSize       int      `json:"wall_bid_size"`
	WallBidRatio      float64  `json:"wall_bid_ratio"`
	WallAskSize       int      `json:"wall_ask_size"`
	WallAskRatio      float64  `json:"wall_ask_ratio"`

	TradesPerMin int      `json:"trades_per_min"`
	VWAP60s      *float64 `json:"vwap_60s,omitempty"`
	BuyPressure  *float64 `json:"buy_pressure,omitempty"`
	SellPressure *float64 `json:"sell_pressure,omitempty"`
	VolMid60s    float64  `json:"vol_mid_60s"`

	PriceDelta1m *float64 `json:"price_delta_1m,omitempty"`
	JumpFlag     bool     `json:"jump_flag"`
	JumpSize     float64  `json:"jump_size"`

	LastTickerAgeMs    *int64 `json:"last_ticker_age_ms,omitempty"`
	LastOrderbookAgeMs *int64 `json:"last_orderbook_age_ms,omitempty"`
	LastTradeAgeMs     *int64 `json:"last_trade_age_ms,omitempty"`

	Volume     int        `json:"volume"`
	FeedStatus FeedStatus `json:"feed_status"`
}

// Engine computes snapshots over a book state it does not own.
type Engine struct {
	cfg   config.StatsConfig
	clk   clock.Clock
	state *book.State
}

func NewEngine(cfg config.StatsConfig, clk clock.Clock, state *book.State) *Engine {
	return &Engine{cfg: cfg, clk: clk, state: state}
}

// ComputeDirty computes snapshots for markets touched since the last drain.
func (e *Engine) ComputeDirty() map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, ticker := range e.state.TakeDirty() {
		if snap, ok := e.Compute(ticker); ok {
			out[ticker] = snap
		}
	}
	return out
}

// ComputeAll computes snapshots for every known market.
func (e *Engine) ComputeAll() map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, ticker := range e.state.Tickers() {
		if snap, ok := e.Compute(ticker); ok {
			out[ticker] = snap
		}
	}
	return out
}

// Compute builds the snapshot for one market. ok is false when no event has
// ever arrived for the ticker.
func (e *Engine) Compute(ticker string) (Snapshot, bool) {
	b := e.state.Book(ticker)
	if b == nil {
		return Snapshot{}, false
	}

	now := e.clk.Now()
	snap := Snapshot{
		Ticker:     ticker,
		Ts:         now,
		Volume:     b.Volume(),
		FeedStatus: feedStatus(b, now, e.cfg.StaleThresholdMs),
	}

	if ts := b.LastTickerTs; ts > 0 {
		age := now - ts
		snap.LastTickerAgeMs = &age
	}
	if ts := b.LastOrderbookTs; ts > 0 {
		age := now - ts
		snap.LastOrderbookAgeMs = &age
	}
	if ts := b.LastTradeTs; ts > 0 {
		age := now - ts
		snap.LastTradeAgeMs = &age
	}

	if bid, ask, bidSize, askSize, ok := b.TopOfBook(); ok {
		snap.HasQuote = true
		snap.Bid, snap.Ask = bid, ask
		snap.BidSize, snap.AskSize = bidSize, askSize
		snap.Mid = float64(bid+ask) / 2
		snap.Spread = float64(ask - bid)
		if snap.Mid > 0 {
			snap.SpreadBps = snap.Spread / snap.Mid * 10_000
		}
		snap.ImpliedProb = snap.Mid / 100

		if total := bidSize + askSize; total > 0 {
			micro := (float64(ask)*float64(bidSize) + float64(bid)*float64(askSize)) / float64(total)
			snap.Microprice = &micro
			imb := float64(bidSize-askSize) / float64(total)
			snap.ImbalanceTop = &imb
		}
	}

	e.computeDepth(b, &snap)
	e.computeWindow(b, &snap, now)

	return snap, true
}

func (e *Engine) computeDepth(b *book.Book, snap *Snapshot) {
	bids := b.TopLevels(book.SideYes, e.cfg.TopNLevels)
	asks := b.TopLevels(book.SideNo, e.cfg.TopNLevels)

	for _, lvl := range bids {
		snap.SumBidTop5 += lvl.Size
		if lvl.Size > snap.WallBidSize {
			snap.WallBidSize = lvl.Size
		}
	}
	for _, lvl := range asks {
		snap.SumAskTop5 += lvl.Size
		if lvl.Size > snap.WallAskSize {
			snap.WallAskSize = lvl.Size
		}
	}
	if snap.SumBidTop5 > 0 {
		snap.WallBidRatio = float64(snap.WallBidSize) / float64(snap.SumBidTop5)
	}
	if snap.SumAskTop5 > 0 {
		snap.WallAskRatio = float64(snap.WallAskSize) / float64(snap.SumAskTop5)
	}
	if total := snap.SumBidTop5 + snap.SumAskTop5; total > 0 {
		imb := float64(snap.SumBidTop5-snap.SumAskTop5) / float64(total)
		snap.BookImbalanceTop5 = &imb
	}
}

func (e *Engine) computeWindow(b *book.Book, snap *Snapshot, now int64) {
	r := b.Rings()
	since := now - e.cfg.RingBufferWindowMs

	trades := r.TradesSince(since)
	snap.TradesPerMin = len(trades)
	var notional, count float64
	var buys, sells int
	for _, tp := range trades {
		notional += float64(tp.Price) * float64(tp.Count)
		count += float64(tp.Count)
		switch tp.Side {
		case book.TradeBuy:
			buys++
		case book.TradeSell:
			sells++
		}
	}
	if count > 0 {
		vwap := notional / count
		snap.VWAP60s = &vwap
	}
	if total := buys + sells; total > 0 {
		buy := float64(buys) / float64(total)
		sell := float64(sells) / float64(total)
		snap.BuyPressure = &buy
		snap.SellPressure = &sell
	}

	mids := r.MidsSince(since)
	if len(mids) >= 2 {
		diffs := make([]float64, 0, len(mids)-1)
		for i := 1; i < len(mids); i++ {
			diffs = append(diffs, mids[i].Mid-mids[i-1].Mid)
		}
		snap.VolMid60s = stddev(diffs)
	}

	if snap.HasQuote {
		if anchor, ok := r.Mid1mAgo(); ok {
			delta := snap.Mid - anchor
			snap.PriceDelta1m = &delta
		}
		if anchor, ok := r.Mid5sAgo(); ok {
			snap.JumpSize = snap.Mid - anchor
			snap.JumpFlag = math.Abs(snap.JumpSize) >= float64(e.cfg.JumpThresholdCents)
		}
	}
}

func feedStatus(b *book.Book, now, staleMs int64) FeedStatus {
	newest := b.LastTickerTs
	if b.LastOrderbookTs > newest {
		newest = b.LastOrderbookTs
	}
	if b.LastTradeTs > newest {
		newest = b.LastTradeTs
	}
	if newest == 0 {
		return FeedUnknown
	}
	if now-newest <= staleMs {
		return FeedFresh
	}
	return FeedStale
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
