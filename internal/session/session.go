package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalshi-ladder-feed/internal/clock"
	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/feed"
	"github.com/kalshi-ladder-feed/internal/metrics"
	"github.com/kalshi-ladder-feed/internal/resolver"
	"github.com/kalshi-ladder-feed/internal/signals"
)

// pulseInterval drives Advance in production. It only needs to be finer
// than the shortest timer (300ms).
const pulseInterval = 50 * time.Millisecond

// Deps are the collaborators a session needs beyond its config.
type Deps struct {
	Resolver *resolver.Client
	Signer   *feed.Signer
	Clock    clock.Clock
	Log      zerolog.Logger

	// OnSignal observes every newly emitted signal, for alerting. Optional.
	OnSignal func(signals.Signal)
}

// Session streams one event family to one subscriber. It is single-use.
type Session struct {
	cfg  *config.Config
	deps Deps
}

func New(cfg *config.Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Wall{}
	}
	return &Session{cfg: cfg, deps: deps}
}

// Run resolves the event, connects upstream, and streams snapshots until the
// upstream drops, emit fails, or ctx is cancelled. There is no reconnect.
func (s *Session) Run(ctx context.Context, eventTicker string, emit EmitFunc) error {
	log := s.deps.Log.With().Str("event", eventTicker).Logger()

	if err := emit(statusRecord(StatusResolving, "")); err != nil {
		return err
	}

	res, err := s.deps.Resolver.Resolve(ctx, eventTicker)
	if err != nil {
		metrics.ResolveFailures.Inc()
		log.Error().Err(err).Msg("resolve failed")
		emit(errorRecord("failed to resolve event: "+err.Error(), false))
		return err
	}
	res.Markets = capMarkets(res.Markets, s.cfg.Session.MaxMarkets)
	if len(res.Markets) == 0 {
		emit(errorRecord("event has no markets", false))
		return resolver.ErrNotFound
	}

	if err := emit(Record{Type: RecordMeta, Data: MetaPayload{
		Event:          res.PrimaryEvent,
		Markets:        res.Markets,
		ResolvedEvents: res.ResolvedEvents,
		GameID:         res.GameID,
	}}); err != nil {
		return err
	}

	if err := emit(statusRecord(StatusConnecting, "")); err != nil {
		return err
	}

	client, err := feed.Dial(ctx, s.cfg.Kalshi.WebSocketURL, s.deps.Signer, log)
	if err != nil {
		return s.reportUpstreamError(emit, log, err)
	}
	defer client.Close()

	tickers := make([]string, 0, len(res.Markets))
	for _, m := range res.Markets {
		tickers = append(tickers, m.Ticker)
	}
	if err := client.Subscribe(tickers); err != nil {
		return s.reportUpstreamError(emit, log, err)
	}

	if err := emit(statusRecord(StatusStreaming, "")); err != nil {
		return err
	}

	core := NewCore(s.cfg, s.deps.Clock, res.MetaByTicker(), emit, s.deps.OnSignal, log)
	return s.stream(ctx, client, core, emit, log)
}

func (s *Session) stream(ctx context.Context, client *feed.Client, core *Core, emit EmitFunc, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	pulse := time.NewTicker(pulseInterval)
	defer pulse.Stop()

	frames := client.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil

		case data, ok := <-frames:
			if !ok {
				err := <-runErr
				if err == nil {
					return nil
				}
				return s.reportUpstreamError(emit, log, err)
			}
			core.HandleFrame(data)

		case <-pulse.C:
			if err := core.Advance(s.deps.Clock.Now()); err != nil {
				// Subscriber gone; treat as cancel.
				log.Debug().Err(err).Msg("emit failed, ending session")
				return nil
			}
		}
	}
}

func (s *Session) reportUpstreamError(emit EmitFunc, log zerolog.Logger, err error) error {
	if errors.Is(err, feed.ErrAuthRequired) {
		log.Warn().Msg("upstream requires authentication")
		emit(errorRecord("upstream requires authentication", true))
		return err
	}
	log.Error().Err(err).Msg("upstream transport error")
	emit(errorRecord(err.Error(), false))
	emit(statusRecord(StatusDisconnected, ""))
	return err
}

// capMarkets trims the tail of an oversized market list.
func capMarkets(markets []resolver.Market, max int) []resolver.Market {
	if len(markets) <= max {
		return markets
	}
	return markets[:max]
}
