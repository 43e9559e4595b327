package ladder

import (
	"math"
	"strings"

	"github.com/kalshi-ladder-feed/internal/parser"
	"github.com/kalshi-ladder-feed/internal/signals"
)

const lineMatchTolerance = 0.01

// DetectArbitrage scans every pair of opposing ladders for strike pairs
// whose bid probabilities sum above 1 plus the buffer. Totals oppose across
// Over/Under on equal lines; spreads oppose across different teams on
// negated lines.
func DetectArbitrage(ladders []*Ladder, buffer float64) []signals.Candidate {
	var cands []signals.Candidate
	for i := 0; i < len(ladders); i++ {
		for j := i + 1; j < len(ladders); j++ {
			if !opposing(ladders[i], ladders[j]) {
				continue
			}
			cands = append(cands, scanPair(ladders[i], ladders[j], buffer)...)
		}
	}
	return cands
}

func opposing(a, b *Ladder) bool {
	if a.LadderType != b.LadderType || a.GameID != b.GameID {
		return false
	}
	switch a.LadderType {
	case parser.GroupTotal:
		return (strings.EqualFold(a.Side, "Over") && strings.EqualFold(b.Side, "Under")) ||
			(strings.EqualFold(a.Side, "Under") && strings.EqualFold(b.Side, "Over"))
	case parser.GroupSpread:
		return a.Side != b.Side
	}
	return false
}

func scanPair(a, b *Ladder, buffer float64) []signals.Candidate {
	var cands []signals.Candidate
	for ai := range a.Points {
		p1 := &a.Points[ai]
		if p1.IsExcluded || !p1.IsPrimary {
			continue
		}
		p2 := mirrorPoint(b, p1.Line, a.LadderType)
		if p2 == nil {
			continue
		}

		sumBids := p1.BidProb + p2.BidProb
		if sumBids <= 1+buffer {
			continue
		}

		magnitude := (sumBids - 1) * 100
		cands = append(cands, signals.Candidate{
			Type:            signals.TypeSumGT1,
			MarketTicker:    p1.Ticker,
			LadderKey:       a.Key,
			Magnitude:       magnitude,
			Confidence:      signals.ConfidenceHigh,
			SuggestedAction: "sell both sides",
			Reason:          "opposing bids sum above one",
			RelatedTickers:  []string{p1.Ticker, p2.Ticker},
			MinDepth:        math.Min(p1.MinDepth, p2.MinDepth),
			AvgSpread:       (p1.Spread + p2.Spread) / 2,
		})
	}
	return cands
}

// mirrorPoint finds the opposing strike: totals match on equal line, spreads
// on the negated line.
func mirrorPoint(lad *Ladder, line float64, ladderType parser.GroupType) *Point {
	target := line
	if ladderType == parser.GroupSpread {
		target = -line
	}
	for i := range lad.Points {
		p := &lad.Points[i]
		if p.IsExcluded || !p.IsPrimary {
			continue
		}
		if math.Abs(p.Line-target) <= lineMatchTolerance {
			return p
		}
	}
	return nil
}
