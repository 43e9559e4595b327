package signals

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// Params holds the lifecycle timing knobs. Zero values are not usable; start
// from DefaultParams.
type Params struct {
	PersistMs       int64
	CooldownMs      int64
	PendingExpiryMs int64
	ActiveMaxAgeMs  int64
	TopK            int
}

func DefaultParams() Params {
	return Params{
		PersistMs:       3_000,
		CooldownMs:      30_000,
		PendingExpiryMs: 2_000,
		ActiveMaxAgeMs:  60_000,
		TopK:            8,
	}
}

type pendingEntry struct {
	candidate Candidate
	firstSeen int64
	lastSeen  int64
	emittedTs int64 // 0 = never emitted
}

// Lifecycle tracks pending and active signals for one session. Not safe for
// concurrent use; the session worker owns it.
type Lifecycle struct {
	params  Params
	pending map[string]*pendingEntry
	active  map[string]Signal // by signal id
}

func NewLifecycle(params Params) *Lifecycle {
	return &Lifecycle{
		params:  params,
		pending: make(map[string]*pendingEntry),
		active:  make(map[string]Signal),
	}
}

// Observe feeds one candidate at time now. A candidate must re-trigger
// continuously through the persistence window before it is emitted, and the
// same canonical key is not re-emitted inside the cooldown. Returns the
// emitted signal, or nil.
func (l *Lifecycle) Observe(c Candidate, now int64) *Signal {
	key := c.Key()
	entry, ok := l.pending[key]
	if !ok {
		l.pending[key] = &pendingEntry{candidate: c, firstSeen: now, lastSeen: now}
		return nil
	}

	entry.lastSeen = now
	entry.candidate = c

	if now-entry.firstSeen < l.params.PersistMs {
		return nil
	}
	if entry.emittedTs != 0 && now-entry.emittedTs < l.params.CooldownMs {
		return nil
	}

	entry.emittedTs = now
	sig := l.build(entry, now)
	l.active[sig.ID] = sig
	return &sig
}

// ObserveAll runs Observe over a batch and returns every signal emitted.
func (l *Lifecycle) ObserveAll(cands []Candidate, now int64) []Signal {
	var out []Signal
	for _, c := range cands {
		if sig := l.Observe(c, now); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// Cleanup drops pending entries that stopped re-triggering and active
// signals past their maximum age.
func (l *Lifecycle) Cleanup(now int64) {
	for key, entry := range l.pending {
		if now-entry.lastSeen > l.params.PendingExpiryMs {
			delete(l.pending, key)
		}
	}
	for id, sig := range l.active {
		if now-sig.EmittedTs > l.params.ActiveMaxAgeMs {
			delete(l.active, id)
		}
	}
}

// ActiveSignals returns the highest-severity active signals, at most TopK,
// sorted descending.
func (l *Lifecycle) ActiveSignals() []Signal {
	out := make([]Signal, 0, len(l.active))
	for _, sig := range l.active {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SeverityScore > out[j].SeverityScore
	})
	if len(out) > l.params.TopK {
		out = out[:l.params.TopK]
	}
	return out
}

func (l *Lifecycle) build(entry *pendingEntry, now int64) Signal {
	c := entry.candidate
	sig := Signal{
		ID:              uuid.NewString(),
		Ts:              now,
		MarketTicker:    c.MarketTicker,
		Type:            c.Type,
		Confidence:      c.Confidence,
		SuggestedAction: c.SuggestedAction,
		Reason:          c.Reason,
		Magnitude:       c.Magnitude,
		RelatedTickers:  c.RelatedTickers,
		SeverityScore:   Severity(c),
		LadderKey:       c.LadderKey,
		FirstSeenTs:     entry.firstSeen,
		LastSeenTs:      entry.lastSeen,
		EmittedTs:       now,
	}
	if sig.Type == TypeMonoViolation {
		sig.Confidence = monoConfidence(c.MinDepth)
	}
	if sig.Confidence == "" {
		sig.Confidence = ConfidenceLow
	}
	return sig
}

// Severity scores a candidate. Arbitrage scales directly with magnitude;
// ladder-shape candidates are depth-weighted and spread-penalized.
func Severity(c Candidate) float64 {
	if c.Type == TypeSumGT1 {
		return c.Magnitude * 10
	}
	return c.Magnitude*math.Log10(1+c.MinDepth/1000) - 0.5*c.AvgSpread
}

func monoConfidence(minDepth float64) Confidence {
	switch {
	case minDepth < 20:
		return ConfidenceLow
	case minDepth < 100:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}
