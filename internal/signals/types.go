// Package signals defines the signal vocabulary shared by the analytics
// pipeline and the lifecycle that turns transient detections into emitted
// signals (persistence window, cooldown, severity ranking, eviction).
package signals

type Type string

const (
	TypeMonoViolation Type = "MONO_VIOLATION"
	TypeNegMass       Type = "NEG_MASS"
	TypeSumGT1        Type = "SUM_GT_1"
	TypeOutlierLine   Type = "OUTLIER_LINE"
	TypeStaleQuote    Type = "STALE_QUOTE"
	TypeJump          Type = "JUMP"
	TypeLowLiquidity  Type = "LOW_LIQUIDITY"
	TypeWideSpread    Type = "WIDE_SPREAD"
)

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Candidate is a single detection produced by the ladder or arbitrage scan.
// Candidates are ephemeral; only ones that persist across the persistence
// window become Signals.
type Candidate struct {
	Type            Type       `json:"type"`
	MarketTicker    string     `json:"market_ticker"`
	LadderKey       string     `json:"ladder_key,omitempty"`
	Magnitude       float64    `json:"magnitude"` // cents
	Confidence      Confidence `json:"confidence,omitempty"`
	SuggestedAction string     `json:"suggested_action,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	RelatedTickers  []string   `json:"related_tickers,omitempty"`

	// Liquidity context at detection time, used for severity and for the
	// monotonicity confidence heuristic.
	MinDepth  float64 `json:"min_depth,omitempty"`
	AvgSpread float64 `json:"avg_spread,omitempty"` // cents
}

// Key is the canonical dedup key: one pending slot per (type, market, ladder).
func (c Candidate) Key() string {
	return string(c.Type) + ":" + c.MarketTicker + ":" + c.LadderKey
}

// Signal is an emitted, active signal.
type Signal struct {
	ID              string     `json:"id"`
	Ts              int64      `json:"ts"`
	MarketTicker    string     `json:"market_ticker"`
	Type            Type       `json:"type"`
	Confidence      Confidence `json:"confidence"`
	SuggestedAction string     `json:"suggested_action,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Magnitude       float64    `json:"magnitude"`
	RelatedTickers  []string   `json:"related_tickers,omitempty"`
	SeverityScore   float64    `json:"severity_score"`
	LadderKey       string     `json:"ladder_key,omitempty"`

	FirstSeenTs int64 `json:"first_seen_ts"`
	LastSeenTs  int64 `json:"last_seen_ts"`
	EmittedTs   int64 `json:"emitted_ts"`
}
