// Package ladder groups strike-parameterized markets into monotone families,
// fits an isotonic curve over each, and detects shape violations, outliers,
// and cross-ladder arbitrage. The builder consumes enriched stats and emits
// signal candidates; it never emits signals directly.
package ladder

import (
	"math"
	"sort"
	"strings"

	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/parser"
	"github.com/kalshi-ladder-feed/internal/signals"
	"github.com/kalshi-ladder-feed/internal/stats"
)

type Direction string

const (
	DirNonIncreasing Direction = "nonincreasing"
	DirNonDecreasing Direction = "nondecreasing"
)

type ExcludeReason string

const (
	ExcludeLowLiquidity ExcludeReason = "low_liquidity"
	ExcludeWideSpread   ExcludeReason = "wide_spread"
	ExcludeStale        ExcludeReason = "stale"
)

// Point is one market inside a ladder.
type Point struct {
	Ticker   string  `json:"ticker"`
	Line     float64 `json:"line"`
	BidProb  float64 `json:"bid_prob"`
	AskProb  float64 `json:"ask_prob"`
	MidProb  float64 `json:"mid_prob"`
	Spread   float64 `json:"spread_cents"`
	MinDepth float64 `json:"min_depth"`
	Volume   int     `json:"volume"`

	IsExcluded    bool          `json:"is_excluded"`
	ExcludeReason ExcludeReason `json:"exclude_reason,omitempty"`
	IsPrimary     bool          `json:"is_primary"`
	IsViolation   bool          `json:"is_violation"`
	IsOutlier     bool          `json:"is_outlier"`

	FittedProb    *float64 `json:"fitted_prob,omitempty"`
	ResidualCents *float64 `json:"residual_cents,omitempty"`
}

// Diagnostics counts what the builder saw and dropped for one ladder.
type Diagnostics struct {
	Total             int `json:"total"`
	Parsed            int `json:"parsed"`
	Unparsed          int `json:"unparsed"`
	DuplicatesDropped int `json:"duplicates_dropped"`
	ExcludedLowLiq    int `json:"excluded_low_liquidity"`
	ExcludedSpread    int `json:"excluded_wide_spread"`
	ExcludedStale     int `json:"excluded_stale"`
}

// Ladder is one monotone family of markets, sorted by line ascending.
type Ladder struct {
	Key        string           `json:"key"`
	LadderType parser.GroupType `json:"ladder_type"`
	GameID     string           `json:"game_id"`
	Side       string           `json:"side"`
	Predicate  parser.Predicate `json:"predicate,omitempty"`
	Direction  Direction        `json:"direction"`

	Points             []Point     `json:"points"`
	MonoViolationCount int         `json:"mono_violation_count"`
	Diagnostics        Diagnostics `json:"diagnostics"`

	// Violations holds emitted signal ids, filled in after the lifecycle
	// pass. Ids and lookups, no back-pointers.
	Violations []string `json:"violations,omitempty"`
}

// Builder turns an enriched stats map into ladders plus signal candidates.
type Builder struct {
	cfg config.LadderConfig
}

func NewBuilder(cfg config.LadderConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Build groups, gates, dedups, checks monotonicity, fits, and scans for
// outliers. The returned candidates include MONO_VIOLATION and OUTLIER_LINE;
// run DetectArbitrage over the ladders for SUM_GT_1.
func (bl *Builder) Build(enriched map[string]stats.Enriched) ([]*Ladder, []signals.Candidate) {
	buckets := make(map[string][]stats.Enriched)
	unparsedByKey := make(map[string]int)

	for _, e := range enriched {
		if e.GroupType != parser.GroupSpread && e.GroupType != parser.GroupTotal {
			continue
		}
		if e.LadderKey == "" || (bl.cfg.ExcludeUnparsed && e.Side == parser.SideUnknown) {
			continue
		}
		if e.Line == nil || !e.HasQuote {
			unparsedByKey[e.LadderKey]++
			continue
		}
		buckets[e.LadderKey] = append(buckets[e.LadderKey], e)
	}

	var ladders []*Ladder
	var candidates []signals.Candidate

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		lad := bl.buildOne(key, members, unparsedByKey[key])
		cands := bl.analyze(lad)
		ladders = append(ladders, lad)
		candidates = append(candidates, cands...)
	}

	return ladders, candidates
}

func (bl *Builder) buildOne(key string, members []stats.Enriched, unparsed int) *Ladder {
	first := members[0]
	lad := &Ladder{
		Key:        key,
		LadderType: first.GroupType,
		Side:       first.Side,
		Predicate:  first.Predicate,
		Direction:  expectedDirection(first.GroupType, first.Side),
	}
	if i := strings.Index(key, "|"); i >= 0 {
		lad.GameID = key[:i]
	}
	lad.Diagnostics.Unparsed = unparsed
	lad.Diagnostics.Total = len(members) + unparsed
	lad.Diagnostics.Parsed = len(members)

	for _, e := range members {
		p := Point{
			Ticker:   e.Ticker,
			Line:     *e.Line,
			BidProb:  float64(e.Bid) / 100,
			AskProb:  float64(e.Ask) / 100,
			MidProb:  e.Mid / 100,
			Spread:   e.Spread,
			MinDepth: minDepth(e),
			Volume:   e.Volume,
		}
		if reason, excluded := bl.gate(e, p.MinDepth); excluded {
			p.IsExcluded = true
			p.ExcludeReason = reason
			switch reason {
			case ExcludeLowLiquidity:
				lad.Diagnostics.ExcludedLowLiq++
			case ExcludeWideSpread:
				lad.Diagnostics.ExcludedSpread++
			case ExcludeStale:
				lad.Diagnostics.ExcludedStale++
			}
		}
		lad.Points = append(lad.Points, p)
	}

	sort.SliceStable(lad.Points, func(i, j int) bool {
		return lad.Points[i].Line < lad.Points[j].Line
	})

	bl.markPrimaries(lad)
	return lad
}

// gate applies the per-point liquidity, spread, and staleness filters.
func (bl *Builder) gate(e stats.Enriched, depth float64) (ExcludeReason, bool) {
	if depth < float64(bl.cfg.MinLiquidityDepth) && e.Volume < bl.cfg.MinLiquidityVolume {
		return ExcludeLowLiquidity, true
	}
	if e.Spread > float64(bl.cfg.MaxSpreadCents) {
		return ExcludeWideSpread, true
	}
	if maxAge(e) > bl.cfg.MaxStaleMs {
		return ExcludeStale, true
	}
	return "", false
}

// markPrimaries dedups included points that share an exact line, keeping the
// deepest one.
func (bl *Builder) markPrimaries(lad *Ladder) {
	best := make(map[float64]int)
	for i := range lad.Points {
		p := &lad.Points[i]
		if p.IsExcluded {
			continue
		}
		prev, seen := best[p.Line]
		if !seen {
			best[p.Line] = i
			p.IsPrimary = true
			continue
		}
		if p.MinDepth > lad.Points[prev].MinDepth {
			lad.Points[prev].IsPrimary = false
			best[p.Line] = i
			p.IsPrimary = true
		}
		lad.Diagnostics.DuplicatesDropped++
	}
}

// analyze runs the monotonicity check, isotonic fit, and outlier scan over
// the primary points, returning signal candidates.
func (bl *Builder) analyze(lad *Ladder) []signals.Candidate {
	idx := make([]int, 0, len(lad.Points))
	for i, p := range lad.Points {
		if p.IsPrimary && !p.IsExcluded {
			idx = append(idx, i)
		}
	}

	var cands []signals.Candidate
	cands = append(cands, bl.checkMonotonicity(lad, idx)...)
	bl.fit(lad, idx)
	cands = append(cands, bl.findOutliers(lad, idx)...)
	return cands
}

func (bl *Builder) checkMonotonicity(lad *Ladder, idx []int) []signals.Candidate {
	var cands []signals.Candidate
	for k := 0; k+1 < len(idx); k++ {
		a := &lad.Points[idx[k]]
		b := &lad.Points[idx[k+1]]

		avgSpread := (a.Spread + b.Spread) / 2
		eps := math.Max(bl.cfg.MonoEpsilon, 0.5*avgSpread/100)

		var marginCents float64
		if lad.Direction == DirNonIncreasing {
			marginCents = (b.BidProb - a.AskProb - eps) * 100
		} else {
			marginCents = (a.BidProb - b.AskProb - eps) * 100
		}
		if marginCents < bl.cfg.MonoMinCents {
			continue
		}

		a.IsViolation = true
		b.IsViolation = true
		lad.MonoViolationCount++

		cands = append(cands, signals.Candidate{
			Type:            signals.TypeMonoViolation,
			MarketTicker:    a.Ticker,
			LadderKey:       lad.Key,
			Magnitude:       marginCents,
			SuggestedAction: "review adjacent strikes",
			Reason:          "adjacent strikes priced out of order",
			RelatedTickers:  []string{a.Ticker, b.Ticker},
			MinDepth:        math.Min(a.MinDepth, b.MinDepth),
			AvgSpread:       avgSpread,
		})
	}
	return cands
}

func (bl *Builder) fit(lad *Ladder, idx []int) {
	if len(idx) < 3 {
		return
	}
	ys := make([]float64, len(idx))
	ws := make([]float64, len(idx))
	for k, i := range idx {
		ys[k] = lad.Points[i].MidProb
		ws[k] = 1
	}

	fitted := FitIsotonic(ys, ws, lad.Direction)
	for k, i := range idx {
		f := fitted[k]
		lad.Points[i].FittedProb = &f
		r := (lad.Points[i].MidProb - f) * 100
		lad.Points[i].ResidualCents = &r
	}
}

func (bl *Builder) findOutliers(lad *Ladder, idx []int) []signals.Candidate {
	var cands []signals.Candidate
	for _, i := range idx {
		p := &lad.Points[i]
		if p.ResidualCents == nil {
			continue
		}
		abs := math.Abs(*p.ResidualCents)
		if abs < bl.cfg.OutlierMinCents {
			continue
		}
		p.IsOutlier = true

		conf := signals.ConfidenceLow
		switch {
		case abs >= 8:
			conf = signals.ConfidenceHigh
		case abs >= 6:
			conf = signals.ConfidenceMedium
		}

		cands = append(cands, signals.Candidate{
			Type:            signals.TypeOutlierLine,
			MarketTicker:    p.Ticker,
			LadderKey:       lad.Key,
			Magnitude:       abs,
			Confidence:      conf,
			SuggestedAction: "compare against fitted curve",
			Reason:          "strike priced away from the isotonic fit",
			MinDepth:        p.MinDepth,
			AvgSpread:       p.Spread,
		})
	}
	return cands
}

func expectedDirection(groupType parser.GroupType, side string) Direction {
	if groupType == parser.GroupTotal && strings.EqualFold(side, "Under") {
		return DirNonDecreasing
	}
	return DirNonIncreasing
}

func minDepth(e stats.Enriched) float64 {
	return math.Min(float64(e.SumBidTop5), float64(e.SumAskTop5))
}

func maxAge(e stats.Enriched) int64 {
	var m int64
	if e.LastTickerAgeMs != nil && *e.LastTickerAgeMs > m {
		m = *e.LastTickerAgeMs
	}
	if e.LastOrderbookAgeMs != nil && *e.LastOrderbookAgeMs > m {
		m = *e.LastOrderbookAgeMs
	}
	return m
}
