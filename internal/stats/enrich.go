package stats

import (
	"math"

	"github.com/kalshi-ladder-feed/internal/book"
	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/parser"
	"github.com/kalshi-ladder-feed/internal/signals"
)

// Enriched is a snapshot joined with parsed metadata and derived tradability
// scores. This is the shape the ladder builder and the subscriber stream
// consume.
type Enriched struct {
	Snapshot

	GroupType   parser.GroupType   `json:"group_type"`
	Line        *float64           `json:"line,omitempty"`
	Side        string             `json:"side"`
	LadderKey   string             `json:"ladder_key,omitempty"`
	Predicate   parser.Predicate   `json:"predicate,omitempty"`
	ParseSource parser.ParseSource `json:"parse_source"`

	LiquidityScore   float64        `json:"liquidity_score"`
	StalenessScore   float64        `json:"staleness_score"`
	JumpScore5s      float64        `json:"jump_score_5s"`
	JumpScore30s     float64        `json:"jump_score_30s"`
	ExitabilityCents float64        `json:"exitability_cents"`
	Flags            []signals.Type `json:"signals,omitempty"`
}

// Enricher joins snapshots with the session's frozen market metadata.
type Enricher struct {
	cfg  config.StatsConfig
	meta map[string]parser.Meta
}

func NewEnricher(cfg config.StatsConfig, meta map[string]parser.Meta) *Enricher {
	return &Enricher{cfg: cfg, meta: meta}
}

// EnrichAll enriches a snapshot map in ticker order-independent fashion.
func (en *Enricher) EnrichAll(snaps map[string]Snapshot, state *book.State, now int64) map[string]Enriched {
	out := make(map[string]Enriched, len(snaps))
	for ticker, snap := range snaps {
		out[ticker] = en.Enrich(snap, state.Book(ticker), now)
	}
	return out
}

func (en *Enricher) Enrich(snap Snapshot, b *book.Book, now int64) Enriched {
	e := Enriched{Snapshot: snap, Side: parser.SideUnknown, ParseSource: parser.SourceUnknown}

	if meta, ok := en.meta[snap.Ticker]; ok {
		e.GroupType = meta.GroupType
		e.Line = meta.Line
		e.Side = meta.Side
		e.LadderKey = meta.LadderKey
		e.Predicate = meta.Predicate
		e.ParseSource = meta.ParseSource
	}

	e.LiquidityScore = liquidityScore(snap)
	e.StalenessScore = stalenessScore(snap)
	e.ExitabilityCents = exitabilityCents(snap)

	if b != nil && snap.HasQuote {
		r := b.Rings()
		if past, ok := r.MidAtOrBefore(now - 5_000); ok {
			e.JumpScore5s = math.Abs(snap.Mid - past)
		}
		if past, ok := r.MidAtOrBefore(now - 30_000); ok {
			e.JumpScore30s = math.Abs(snap.Mid - past)
		}
	}

	if e.StalenessScore > 0.7 {
		e.Flags = append(e.Flags, signals.TypeStaleQuote)
	}
	if snap.JumpFlag {
		e.Flags = append(e.Flags, signals.TypeJump)
	}
	if e.LiquidityScore < 0.2 {
		e.Flags = append(e.Flags, signals.TypeLowLiquidity)
	}
	if snap.HasQuote && snap.Spread >= float64(en.cfg.WideSpreadCents) {
		e.Flags = append(e.Flags, signals.TypeWideSpread)
	}

	return e
}

func liquidityScore(snap Snapshot) float64 {
	if !snap.HasQuote {
		return 0
	}
	size := float64(snap.BidSize)
	if float64(snap.AskSize) < size {
		size = float64(snap.AskSize)
	}
	depth := math.Min(size/500, 1)
	tightness := 1 - math.Min(snap.Spread/20, 0.5)
	return depth * tightness
}

func stalenessScore(snap Snapshot) float64 {
	var maxAge int64 = -1
	for _, age := range []*int64{snap.LastTickerAgeMs, snap.LastOrderbookAgeMs, snap.LastTradeAgeMs} {
		if age != nil && *age > maxAge {
			maxAge = *age
		}
	}
	if maxAge < 0 {
		return 1
	}
	return math.Min(float64(maxAge)/10_000, 1)
}

// exitabilityCents estimates the cost in cents of unwinding a small position.
// Capped above at 50; 99 when there is no resting size at all.
func exitabilityCents(snap Snapshot) float64 {
	levels := 0
	totalSize := 0
	if snap.SumBidTop5 > 0 {
		totalSize += snap.SumBidTop5
		levels++
	}
	if snap.SumAskTop5 > 0 {
		totalSize += snap.SumAskTop5
		levels++
	}
	if totalSize == 0 {
		return 99
	}
	avgTopSize := float64(totalSize) / float64(levels)
	cost := snap.Spread/2 + 100/math.Max(avgTopSize, 1)
	return math.Min(cost, 50)
}
