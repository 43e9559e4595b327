package session

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/kalshi-ladder-feed/internal/book"
	"github.com/kalshi-ladder-feed/internal/clock"
	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/feed"
	"github.com/kalshi-ladder-feed/internal/ladder"
	"github.com/kalshi-ladder-feed/internal/metrics"
	"github.com/kalshi-ladder-feed/internal/parser"
	"github.com/kalshi-ladder-feed/internal/signals"
	"github.com/kalshi-ladder-feed/internal/stats"
)

// EmitFunc delivers one record to the subscriber. A non-nil error cancels
// the session.
type EmitFunc func(Record) error

// Core is the single-worker analytics state machine. It owns all mutable
// per-session state; callers must drive HandleFrame and Advance from one
// goroutine.
type Core struct {
	cfg  *config.Config
	clk  clock.Clock
	log  zerolog.Logger
	emit EmitFunc

	// onSignal, when set, observes every newly emitted signal (alerting).
	onSignal func(signals.Signal)

	state     *book.State
	engine    *stats.Engine
	enricher  *stats.Enricher
	builder   *ladder.Builder
	lifecycle *signals.Lifecycle

	rawBuf      []json.RawMessage
	tickerBatch map[string]feed.TickerMsg

	nextTickerFlush int64
	nextRawFlush    int64
	nextStats       int64
	nextSignals     int64
}

func NewCore(cfg *config.Config, clk clock.Clock, meta map[string]parser.Meta, emit EmitFunc, onSignal func(signals.Signal), log zerolog.Logger) *Core {
	state := book.NewState(clk, cfg.Stats.RingBufferMaxSize, cfg.Stats.RingBufferWindowMs)
	now := clk.Now()
	return &Core{
		cfg:      cfg,
		clk:      clk,
		log:      log,
		emit:     emit,
		onSignal: onSignal,

		state:     state,
		engine:    stats.NewEngine(cfg.Stats, clk, state),
		enricher:  stats.NewEnricher(cfg.Stats, meta),
		builder:   ladder.NewBuilder(cfg.Ladder),
		lifecycle: signals.NewLifecycle(signals.Params{
			PersistMs:       cfg.Signals.PersistMs,
			CooldownMs:      cfg.Signals.CooldownMs,
			PendingExpiryMs: cfg.Signals.PendingExpiryMs,
			ActiveMaxAgeMs:  cfg.Signals.ActiveSignalMaxAge,
			TopK:            cfg.Signals.TopK,
		}),

		tickerBatch: make(map[string]feed.TickerMsg),

		nextTickerFlush: now + cfg.Session.TickerBatchIntervalMs,
		nextRawFlush:    now + cfg.Session.RawBatchIntervalMs,
		nextStats:       now + cfg.Session.StatsEmitIntervalMs,
		nextSignals:     now + cfg.Session.SignalsEmitIntervalMs,
	}
}

// HandleFrame applies one upstream frame. Malformed frames are logged and
// dropped; they never stop the session.
func (c *Core) HandleFrame(data []byte) {
	metrics.FramesTotal.Inc()
	c.bufferRaw(data)

	typ, payload, err := feed.Parse(data)
	if err != nil {
		metrics.MalformedFramesTotal.Inc()
		c.log.Warn().Err(err).Msg("dropping malformed upstream frame")
		return
	}

	switch m := payload.(type) {
	case *feed.TickerMsg:
		c.tickerBatch[m.MarketTicker] = *m
		c.state.ApplyTicker(m.MarketTicker, book.TickerQuote{
			Bid:          m.YesBid,
			Ask:          m.YesAsk,
			LastPrice:    m.LastPrice,
			Volume:       m.Volume,
			Volume24h:    m.Volume24h,
			OpenInterest: m.OpenInterest,
			Ts:           m.Ts,
		})
	case *feed.OrderbookSnapshotMsg:
		c.state.ApplySnapshot(m.MarketTicker, levels(m.Yes), levels(m.No))
	case *feed.OrderbookDeltaMsg:
		c.state.ApplyDelta(m.MarketTicker, book.Side(m.Side), m.Price, m.Delta)
	case *feed.TradeMsg:
		price, ok := tradePrice(m)
		if !ok {
			return
		}
		c.state.ApplyTrade(m.MarketTicker, price, m.Count, m.TakerSide)
	case *feed.ErrorMsg:
		c.log.Warn().Str("message", m.Message).Int("code", m.Code).Msg("upstream error frame")
	default:
		if typ != feed.MsgSubscribed {
			c.log.Debug().Str("type", typ).Msg("ignoring unknown frame type")
		}
	}
}

// Advance runs every tick that has come due. Overrun ticks are not queued;
// the next due time is always measured from now.
func (c *Core) Advance(now int64) error {
	if now >= c.nextTickerFlush {
		c.nextTickerFlush = now + c.cfg.Session.TickerBatchIntervalMs
		if err := c.flushTickers(); err != nil {
			return err
		}
	}
	if now >= c.nextRawFlush {
		c.nextRawFlush = now + c.cfg.Session.RawBatchIntervalMs
		if err := c.flushRaw(); err != nil {
			return err
		}
	}
	if now >= c.nextStats {
		c.nextStats = now + c.cfg.Session.StatsEmitIntervalMs
		if err := c.statsTick(now); err != nil {
			return err
		}
	}
	if now >= c.nextSignals {
		c.nextSignals = now + c.cfg.Session.SignalsEmitIntervalMs
		if err := c.signalsTick(now); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) bufferRaw(data []byte) {
	buf := make(json.RawMessage, len(data))
	copy(buf, data)
	c.rawBuf = append(c.rawBuf, buf)
	if max := c.cfg.Session.RawBufferMax; len(c.rawBuf) > max {
		c.rawBuf = c.rawBuf[len(c.rawBuf)-max:]
	}
}

func (c *Core) flushTickers() error {
	if len(c.tickerBatch) == 0 {
		return nil
	}
	batch := c.tickerBatch
	c.tickerBatch = make(map[string]feed.TickerMsg)
	return c.emit(Record{Type: RecordTicker, Data: TickerPayload{Data: batch}})
}

func (c *Core) flushRaw() error {
	if len(c.rawBuf) == 0 {
		return nil
	}
	buf := c.rawBuf
	c.rawBuf = nil
	return c.emit(Record{Type: RecordRaw, Data: RawPayload{Messages: buf}})
}

// statsTick recomputes and emits the enriched stats map. A panic inside the
// computation skips this tick only.
func (c *Core) statsTick(now int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("stats tick failed, skipping")
			err = nil
		}
	}()

	enriched := c.computeEnriched(now)
	if len(enriched) == 0 {
		return nil
	}
	return c.emit(Record{Type: RecordStats, Data: StatsPayload{Ts: now, Markets: enriched}})
}

// signalsTick runs the ladder build, arbitrage scan, and signal lifecycle.
func (c *Core) signalsTick(now int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("signals tick failed, skipping")
			err = nil
		}
	}()

	enriched := c.computeEnriched(now)
	ladders, candidates := c.builder.Build(enriched)
	candidates = append(candidates, ladder.DetectArbitrage(ladders, c.cfg.Ladder.ArbBuffer)...)

	emitted := c.lifecycle.ObserveAll(candidates, now)
	c.lifecycle.Cleanup(now)
	active := c.lifecycle.ActiveSignals()

	attachViolations(ladders, active)

	for _, sig := range emitted {
		metrics.SignalsEmitted.WithLabelValues(string(sig.Type)).Inc()
		if c.onSignal != nil {
			c.onSignal(sig)
		}
	}

	if len(active) == 0 && len(ladders) == 0 {
		return nil
	}
	return c.emit(Record{Type: RecordSignals, Data: SignalsPayload{Ts: now, Signals: active, Ladders: ladders}})
}

func (c *Core) computeEnriched(now int64) map[string]stats.Enriched {
	snaps := c.engine.ComputeAll()
	c.state.TakeDirty()
	return c.enricher.EnrichAll(snaps, c.state, now)
}

// attachViolations links ladders to the active signals that reference them,
// by id only.
func attachViolations(ladders []*ladder.Ladder, active []signals.Signal) {
	if len(ladders) == 0 {
		return
	}
	byKey := make(map[string][]string)
	for _, sig := range active {
		if sig.LadderKey == "" {
			continue
		}
		byKey[sig.LadderKey] = append(byKey[sig.LadderKey], sig.ID)
	}
	for _, lad := range ladders {
		lad.Violations = byKey[lad.Key]
	}
}

func levels(raw [][2]int) []book.Level {
	out := make([]book.Level, 0, len(raw))
	for _, pair := range raw {
		out = append(out, book.Level{Price: pair[0], Size: pair[1]})
	}
	return out
}

// tradePrice normalizes a trade to YES cents.
func tradePrice(m *feed.TradeMsg) (int, bool) {
	if m.YesPrice != nil {
		return *m.YesPrice, true
	}
	if m.NoPrice != nil {
		return 100 - *m.NoPrice, true
	}
	return 0, false
}
