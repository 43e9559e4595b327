package book

const (
	midAnchorShortMs = 5_000
	midAnchorLongMs  = 60_000
)

type MidPoint struct {
	Ts  int64   `json:"ts"`
	Mid float64 `json:"mid"`
}

type TradePoint struct {
	Ts    int64     `json:"ts"`
	Price int       `json:"price"`
	Count int       `json:"count"`
	Side  TradeSide `json:"side"`
}

// Rings keeps bounded mid and trade history for one market, capped by both
// entry count and age. It also tracks two slow-moving mid anchors used for
// jump detection; each anchor only refreshes after its horizon has fully
// elapsed, so "mid minus anchor" always measures a move over at least that
// horizon.
type Rings struct {
	maxEntries int
	windowMs   int64

	mids   []MidPoint
	trades []TradePoint

	lastMid float64
	hasMid  bool

	anchorShort     float64
	anchorShortTs   int64
	hasAnchorShort  bool
	anchorLong      float64
	anchorLongTs    int64
	hasAnchorLong   bool
}

func NewRings(maxEntries int, windowMs int64) *Rings {
	return &Rings{maxEntries: maxEntries, windowMs: windowMs}
}

func (r *Rings) recordMid(ts int64, mid float64) {
	r.mids = append(r.mids, MidPoint{Ts: ts, Mid: mid})
	r.mids = pruneMids(r.mids, ts-r.windowMs, r.maxEntries)

	r.lastMid = mid
	r.hasMid = true

	if !r.hasAnchorShort || ts-r.anchorShortTs >= midAnchorShortMs {
		r.anchorShort, r.anchorShortTs, r.hasAnchorShort = mid, ts, true
	}
	if !r.hasAnchorLong || ts-r.anchorLongTs >= midAnchorLongMs {
		r.anchorLong, r.anchorLongTs, r.hasAnchorLong = mid, ts, true
	}
}

func (r *Rings) recordTrade(ts int64, tp TradePoint) {
	r.trades = append(r.trades, tp)
	r.trades = pruneTrades(r.trades, ts-r.windowMs, r.maxEntries)
}

// LastMid is the most recently recorded mid, surviving even after the ring
// itself ages out.
func (r *Rings) LastMid() (float64, bool) {
	return r.lastMid, r.hasMid
}

// Mid5sAgo is the short-horizon anchor mid.
func (r *Rings) Mid5sAgo() (float64, bool) {
	return r.anchorShort, r.hasAnchorShort
}

// Mid1mAgo is the long-horizon anchor mid.
func (r *Rings) Mid1mAgo() (float64, bool) {
	return r.anchorLong, r.hasAnchorLong
}

// MidsSince returns the mid points recorded at or after ts, oldest first.
func (r *Rings) MidsSince(ts int64) []MidPoint {
	i := 0
	for i < len(r.mids) && r.mids[i].Ts < ts {
		i++
	}
	return r.mids[i:]
}

// TradesSince returns the trades recorded at or after ts, oldest first.
func (r *Rings) TradesSince(ts int64) []TradePoint {
	i := 0
	for i < len(r.trades) && r.trades[i].Ts < ts {
		i++
	}
	return r.trades[i:]
}

// MidAtOrBefore returns the newest mid recorded at or before ts. Used for
// window comparisons against the live mid.
func (r *Rings) MidAtOrBefore(ts int64) (float64, bool) {
	for i := len(r.mids) - 1; i >= 0; i-- {
		if r.mids[i].Ts <= ts {
			return r.mids[i].Mid, true
		}
	}
	return 0, false
}

func pruneMids(pts []MidPoint, minTs int64, maxEntries int) []MidPoint {
	i := 0
	for i < len(pts) && pts[i].Ts < minTs {
		i++
	}
	pts = pts[i:]
	if len(pts) > maxEntries {
		pts = pts[len(pts)-maxEntries:]
	}
	return pts
}

func pruneTrades(pts []TradePoint, minTs int64, maxEntries int) []TradePoint {
	i := 0
	for i < len(pts) && pts[i].Ts < minTs {
		i++
	}
	pts = pts[i:]
	if len(pts) > maxEntries {
		pts = pts[len(pts)-maxEntries:]
	}
	return pts
}
