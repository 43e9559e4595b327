package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Kalshi   KalshiConfig   `toml:"kalshi"`
	Session  SessionConfig  `toml:"session"`
	Stats    StatsConfig    `toml:"stats"`
	Ladder   LadderConfig   `toml:"ladder"`
	Signals  SignalsConfig  `toml:"signals"`
	Alerting AlertingConfig `toml:"alerting"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	BindAddress string   `toml:"bind_address"`
	CORSOrigins []string `toml:"cors_origins"`
}

type KalshiConfig struct {
	APIBaseURL     string `toml:"api_base_url"`
	WebSocketURL   string `toml:"websocket_url"`
	APIKeyID       string `toml:"api_key_id"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SessionConfig drives the per-session orchestrator cadence.
type SessionConfig struct {
	MaxMarkets            int   `toml:"max_markets"`
	TickerBatchIntervalMs int64 `toml:"ticker_batch_interval_ms"`
	RawBatchIntervalMs    int64 `toml:"raw_batch_interval_ms"`
	StatsEmitIntervalMs   int64 `toml:"stats_emit_interval_ms"`
	SignalsEmitIntervalMs int64 `toml:"signals_emit_interval_ms"`
	RawBufferMax          int   `toml:"raw_buffer_max"`
}

type StatsConfig struct {
	RingBufferMaxSize  int   `toml:"ring_buffer_max_size"`
	RingBufferWindowMs int64 `toml:"ring_buffer_window_ms"`
	StaleThresholdMs   int64 `toml:"stale_threshold_ms"`
	JumpThresholdCents int   `toml:"jump_threshold_cents"`
	TopNLevels         int   `toml:"top_n_levels"`
	WideSpreadCents    int   `toml:"wide_spread_cents"`
}

type LadderConfig struct {
	MinLiquidityDepth  int     `toml:"min_liquidity_depth"`
	MinLiquidityVolume int     `toml:"min_liquidity_volume"`
	MaxSpreadCents     int     `toml:"max_spread_cents"`
	MaxStaleMs         int64   `toml:"max_stale_ms"`
	OutlierMinCents    float64 `toml:"outlier_min_cents"`
	MonoMinCents       float64 `toml:"mono_min_cents"`
	MonoEpsilon        float64 `toml:"mono_epsilon"`
	ArbBuffer          float64 `toml:"arb_buffer"`
	ExcludeUnparsed    bool    `toml:"exclude_unparsed"`
}

type SignalsConfig struct {
	PersistMs          int64 `toml:"persist_ms"`
	CooldownMs         int64 `toml:"cooldown_ms"`
	PendingExpiryMs    int64 `toml:"pending_expiry_ms"`
	ActiveSignalMaxAge int64 `toml:"active_signal_max_age_ms"`
	TopK               int   `toml:"top_k"`
}

type AlertingConfig struct {
	Enabled           bool   `toml:"enabled"`
	SlackWebhookURL   string `toml:"slack_webhook_url"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	AlertCooldownSecs int    `toml:"alert_cooldown_secs"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the built-in configuration. Every threshold the analytics
// pipeline uses has a named default here.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "0.0.0.0:8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Kalshi: KalshiConfig{
			APIBaseURL:   "https://api.elections.kalshi.com/trade-api/v2",
			WebSocketURL: "wss://api.elections.kalshi.com/trade-api/v2/ws",
		},
		Session: SessionConfig{
			MaxMarkets:            50,
			TickerBatchIntervalMs: 300,
			RawBatchIntervalMs:    500,
			StatsEmitIntervalMs:   500,
			SignalsEmitIntervalMs: 1000,
			RawBufferMax:          50,
		},
		Stats: StatsConfig{
			RingBufferMaxSize:  500,
			RingBufferWindowMs: 60000,
			StaleThresholdMs:   3000,
			JumpThresholdCents: 5,
			TopNLevels:         5,
			WideSpreadCents:    8,
		},
		Ladder: LadderConfig{
			MinLiquidityDepth:  2000,
			MinLiquidityVolume: 5000,
			MaxSpreadCents:     3,
			MaxStaleMs:         5000,
			OutlierMinCents:    5,
			MonoMinCents:       3,
			MonoEpsilon:        0.015,
			ArbBuffer:          0.01,
			ExcludeUnparsed:    true,
		},
		Signals: SignalsConfig{
			PersistMs:          3000,
			CooldownMs:         30000,
			PendingExpiryMs:    2000,
			ActiveSignalMaxAge: 60000,
			TopK:               8,
		},
		Alerting: AlertingConfig{
			Enabled:           false,
			AlertCooldownSecs: 300,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file, and
// KALSHI__SECTION__KEY environment variables (env wins).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if data, err := os.ReadFile("config/default.toml"); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Session.MaxMarkets <= 0 {
		return nil, fmt.Errorf("session.max_markets must be positive")
	}
	if cfg.Stats.TopNLevels <= 0 {
		return nil, fmt.Errorf("stats.top_n_levels must be positive")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.BindAddress = getEnv("KALSHI__SERVER__BIND_ADDRESS", c.Server.BindAddress)
	c.Server.CORSOrigins = getEnvSlice("KALSHI__SERVER__CORS_ORIGINS", c.Server.CORSOrigins)

	c.Kalshi.APIBaseURL = getEnv("KALSHI__KALSHI__API_BASE_URL", c.Kalshi.APIBaseURL)
	c.Kalshi.WebSocketURL = getEnv("KALSHI__KALSHI__WEBSOCKET_URL", c.Kalshi.WebSocketURL)
	c.Kalshi.APIKeyID = getEnv("KALSHI__KALSHI__API_KEY_ID", c.Kalshi.APIKeyID)
	c.Kalshi.PrivateKeyPath = getEnv("KALSHI__KALSHI__PRIVATE_KEY_PATH", c.Kalshi.PrivateKeyPath)

	c.Session.MaxMarkets = getEnvInt("KALSHI__SESSION__MAX_MARKETS", c.Session.MaxMarkets)
	c.Session.StatsEmitIntervalMs = getEnvInt64("KALSHI__SESSION__STATS_EMIT_INTERVAL_MS", c.Session.StatsEmitIntervalMs)
	c.Session.SignalsEmitIntervalMs = getEnvInt64("KALSHI__SESSION__SIGNALS_EMIT_INTERVAL_MS", c.Session.SignalsEmitIntervalMs)

	c.Alerting.Enabled = getEnvBool("KALSHI__ALERTING__ENABLED", c.Alerting.Enabled)
	c.Alerting.SlackWebhookURL = getEnv("KALSHI__ALERTING__SLACK_WEBHOOK_URL", c.Alerting.SlackWebhookURL)
	c.Alerting.DiscordWebhookURL = getEnv("KALSHI__ALERTING__DISCORD_WEBHOOK_URL", c.Alerting.DiscordWebhookURL)

	c.Logging.Level = getEnv("KALSHI__LOGGING__LEVEL", c.Logging.Level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
