// Package book holds per-market order-book state and the bounded history
// buffers derived from it. All prices are integer cents in [0,100]; sizes are
// strictly positive (a zero or negative level is deleted, never stored).
//
// A State instance is owned by exactly one session worker. Nothing here
// locks; the orchestrator guarantees single-goroutine access.
package book

import (
	"github.com/kalshi-ladder-feed/internal/clock"
)

type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

type TradeSide string

const (
	TradeBuy     TradeSide = "buy"
	TradeSell    TradeSide = "sell"
	TradeUnknown TradeSide = "unknown"
)

// TickerQuote is the latest ticker record for a market.
type TickerQuote struct {
	Bid          *int  `json:"yes_bid,omitempty"`
	Ask          *int  `json:"yes_ask,omitempty"`
	LastPrice    *int  `json:"last_price,omitempty"`
	Volume       *int  `json:"volume,omitempty"`
	Volume24h    *int  `json:"volume_24h,omitempty"`
	OpenInterest *int  `json:"open_interest,omitempty"`
	Ts           int64 `json:"ts,omitempty"`
}

type Level struct {
	Price int `json:"price"`
	Size  int `json:"size"`
}

// Book is the live order-book state for one market.
type Book struct {
	Ticker string

	Yes map[int]int // price cents -> size
	No  map[int]int

	LastTicker *TickerQuote

	LastTickerTs    int64 // 0 = never
	LastOrderbookTs int64
	LastTradeTs     int64

	rings *Rings
}

func newBook(ticker string, maxEntries int, windowMs int64) *Book {
	return &Book{
		Ticker: ticker,
		Yes:    make(map[int]int),
		No:     make(map[int]int),
		rings:  NewRings(maxEntries, windowMs),
	}
}

// applySnapshot replaces both side maps. Non-positive sizes are dropped.
func (b *Book) applySnapshot(yes, no []Level, now int64) {
	b.Yes = make(map[int]int, len(yes))
	b.No = make(map[int]int, len(no))
	for _, lvl := range yes {
		if lvl.Size > 0 {
			b.Yes[lvl.Price] = lvl.Size
		}
	}
	for _, lvl := range no {
		if lvl.Size > 0 {
			b.No[lvl.Price] = lvl.Size
		}
	}
	b.LastOrderbookTs = now
}

// applyDelta adjusts one level. A resulting size <= 0 removes the level.
func (b *Book) applyDelta(side Side, price, delta int, now int64) {
	m := b.Yes
	if side == SideNo {
		m = b.No
	}
	next := m[price] + delta
	if next <= 0 {
		delete(m, price)
	} else {
		m[price] = next
	}
	b.LastOrderbookTs = now
}

// TopOfBook returns the best bid/ask and the sizes at those levels. Ticker
// quotes take priority over book-derived prices when present. ok is false
// when either side is missing or the quote is crossed past validity
// (bid > ask).
func (b *Book) TopOfBook() (bid, ask, bidSize, askSize int, ok bool) {
	bookBid, bookBidSize, haveBid := maxLevel(b.Yes)
	bookNoBid, bookAskSize, haveAsk := maxLevel(b.No)
	bookAsk := 100 - bookNoBid

	bid, ask = bookBid, bookAsk
	bidSize, askSize = bookBidSize, bookAskSize

	if b.LastTicker != nil {
		if b.LastTicker.Bid != nil {
			bid = *b.LastTicker.Bid
			haveBid = true
			if s, found := b.Yes[bid]; found {
				bidSize = s
			}
		}
		if b.LastTicker.Ask != nil {
			ask = *b.LastTicker.Ask
			haveAsk = true
			if s, found := b.No[100-ask]; found {
				askSize = s
			}
		}
	}

	if !haveBid || !haveAsk || bid > ask {
		return 0, 0, 0, 0, false
	}
	return bid, ask, bidSize, askSize, true
}

// Mid returns (bid+ask)/2 in cents.
func (b *Book) Mid() (float64, bool) {
	bid, ask, _, _, ok := b.TopOfBook()
	if !ok {
		return 0, false
	}
	return float64(bid+ask) / 2.0, true
}

// TopLevels returns up to n levels of one side, best price first (highest
// price on either raw side). n is small so this is an insertion scan, not a
// sort of the whole map.
func (b *Book) TopLevels(side Side, n int) []Level {
	m := b.Yes
	if side == SideNo {
		m = b.No
	}
	top := make([]Level, 0, n)
	for price, size := range m {
		pos := len(top)
		for pos > 0 && top[pos-1].Price < price {
			pos--
		}
		if pos >= n {
			continue
		}
		top = append(top, Level{})
		copy(top[pos+1:], top[pos:])
		top[pos] = Level{Price: price, Size: size}
		if len(top) > n {
			top = top[:n]
		}
	}
	return top
}

// Volume returns the lifetime volume reported by the latest ticker, 0 when
// unknown.
func (b *Book) Volume() int {
	if b.LastTicker != nil && b.LastTicker.Volume != nil {
		return *b.LastTicker.Volume
	}
	return 0
}

func (b *Book) Rings() *Rings {
	return b.rings
}

func maxLevel(m map[int]int) (price, size int, ok bool) {
	for p, s := range m {
		if !ok || p > price {
			price, size, ok = p, s, true
		}
	}
	return price, size, ok
}

// State is the collection of books for one session, with dirty tracking so
// the fast tick only recomputes markets that changed.
type State struct {
	cfg struct {
		maxEntries int
		windowMs   int64
	}
	clk   clock.Clock
	books map[string]*Book
	dirty map[string]struct{}
}

func NewState(clk clock.Clock, ringMaxEntries int, ringWindowMs int64) *State {
	s := &State{
		clk:   clk,
		books: make(map[string]*Book),
		dirty: make(map[string]struct{}),
	}
	s.cfg.maxEntries = ringMaxEntries
	s.cfg.windowMs = ringWindowMs
	return s
}

func (s *State) book(ticker string) *Book {
	b, ok := s.books[ticker]
	if !ok {
		b = newBook(ticker, s.cfg.maxEntries, s.cfg.windowMs)
		s.books[ticker] = b
	}
	return b
}

// Book returns the book for a ticker, nil if no event has arrived for it.
func (s *State) Book(ticker string) *Book {
	return s.books[ticker]
}

// Tickers returns every ticker with any state.
func (s *State) Tickers() []string {
	out := make([]string, 0, len(s.books))
	for t := range s.books {
		out = append(out, t)
	}
	return out
}

// TakeDirty drains and returns the dirty set.
func (s *State) TakeDirty() []string {
	out := make([]string, 0, len(s.dirty))
	for t := range s.dirty {
		out = append(out, t)
	}
	s.dirty = make(map[string]struct{})
	return out
}

func (s *State) markDirty(ticker string) {
	s.dirty[ticker] = struct{}{}
}

// ApplyTicker stores the latest ticker record and records the implied mid.
func (s *State) ApplyTicker(ticker string, q TickerQuote) {
	now := s.clk.Now()
	b := s.book(ticker)
	b.LastTicker = &q
	b.LastTickerTs = now
	if mid, ok := b.Mid(); ok {
		b.rings.recordMid(now, mid)
	}
	s.markDirty(ticker)
}

// ApplySnapshot replaces the book and records the new mid.
func (s *State) ApplySnapshot(ticker string, yes, no []Level) {
	now := s.clk.Now()
	b := s.book(ticker)
	b.applySnapshot(yes, no, now)
	if mid, ok := b.Mid(); ok {
		b.rings.recordMid(now, mid)
	}
	s.markDirty(ticker)
}

// ApplyDelta adjusts one book level and records the new mid.
func (s *State) ApplyDelta(ticker string, side Side, price, delta int) {
	now := s.clk.Now()
	b := s.book(ticker)
	b.applyDelta(side, price, delta, now)
	if mid, ok := b.Mid(); ok {
		b.rings.recordMid(now, mid)
	}
	s.markDirty(ticker)
}

// ApplyTrade appends a trade to the ring. The trade side comes from the
// taker side when the feed supplies one, otherwise it is classified against
// the current mid (at-or-above mid = buy).
func (s *State) ApplyTrade(ticker string, price, count int, takerSide string) {
	now := s.clk.Now()
	b := s.book(ticker)

	side := TradeUnknown
	switch takerSide {
	case "yes":
		side = TradeBuy
	case "no":
		side = TradeSell
	default:
		if mid, ok := b.Mid(); ok {
			if float64(price) >= mid {
				side = TradeBuy
			} else {
				side = TradeSell
			}
		}
	}

	b.rings.recordTrade(now, TradePoint{Ts: now, Price: price, Count: count, Side: side})
	b.LastTradeTs = now
	s.markDirty(ticker)
}
