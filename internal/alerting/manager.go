// Package alerting pushes emitted signals to Slack and Discord webhooks.
// The signal lifecycle already enforces persistence and cooldown per market;
// the manager adds a coarser per-key alert cooldown so webhook channels are
// not flooded during a volatile stretch.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/signals"
)

type Manager struct {
	config  config.AlertingConfig
	log     zerolog.Logger
	inbox   chan signals.Signal
	slack   *SlackClient
	discord *DiscordClient

	mu       sync.Mutex
	cooldown map[string]time.Time
}

func NewManager(cfg config.AlertingConfig, log zerolog.Logger) *Manager {
	m := &Manager{
		config:   cfg,
		log:      log,
		inbox:    make(chan signals.Signal, 256),
		cooldown: make(map[string]time.Time),
	}
	if cfg.SlackWebhookURL != "" {
		m.slack = NewSlackClient(cfg.SlackWebhookURL)
	}
	if cfg.DiscordWebhookURL != "" {
		m.discord = NewDiscordClient(cfg.DiscordWebhookURL)
	}
	return m
}

// Notify enqueues a signal without blocking the session worker. When the
// inbox is full the signal is dropped; alerting is best effort.
func (m *Manager) Notify(sig signals.Signal) {
	if !m.config.Enabled {
		return
	}
	select {
	case m.inbox <- sig:
	default:
		m.log.Warn().Str("signal", sig.ID).Msg("alert inbox full, dropping")
	}
}

func (m *Manager) Run(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-m.inbox:
			m.handle(sig)
		}
	}
}

func (m *Manager) handle(sig signals.Signal) {
	key := sig.MarketTicker + ":" + string(sig.Type)
	window := time.Duration(m.config.AlertCooldownSecs) * time.Second

	m.mu.Lock()
	last, seen := m.cooldown[key]
	if seen && time.Since(last) < window {
		m.mu.Unlock()
		return
	}
	m.cooldown[key] = time.Now()
	m.mu.Unlock()

	message := formatSignal(sig)

	if m.slack != nil {
		go func() {
			if err := m.slack.Send(message); err != nil {
				m.log.Warn().Err(err).Msg("slack alert failed")
			}
		}()
	}
	if m.discord != nil {
		go func() {
			if err := m.discord.Send(message); err != nil {
				m.log.Warn().Err(err).Msg("discord alert failed")
			}
		}()
	}
}

func formatSignal(sig signals.Signal) string {
	var b strings.Builder

	switch sig.Type {
	case signals.TypeMonoViolation:
		b.WriteString("**Ladder out of order**\n")
	case signals.TypeSumGT1:
		b.WriteString("**Cross-ladder arbitrage**\n")
	case signals.TypeOutlierLine:
		b.WriteString("**Strike priced off the curve**\n")
	default:
		fmt.Fprintf(&b, "**%s**\n", sig.Type)
	}

	fmt.Fprintf(&b, "Market: %s\n", sig.MarketTicker)
	fmt.Fprintf(&b, "Magnitude: %.1f cents\n", sig.Magnitude)
	fmt.Fprintf(&b, "Severity: %.1f\n", sig.SeverityScore)
	fmt.Fprintf(&b, "Confidence: %s", sig.Confidence)
	if len(sig.RelatedTickers) > 0 {
		fmt.Fprintf(&b, "\nRelated: %s", strings.Join(sig.RelatedTickers, ", "))
	}
	return b.String()
}
