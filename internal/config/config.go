// Package config defines the crossarb configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by CROSSARB_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
	// Store selects trade persistence: "postgres", "sqlite" or "" for none.
	Store string `toml:"store"`

	Kalshi     KalshiConfig     `toml:"kalshi"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Paper      PaperConfig      `toml:"paper"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Risk       RiskConfig       `toml:"risk"`
	Execution  ExecutionConfig  `toml:"execution"`
	Discovery  DiscoveryConfig  `toml:"discovery"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Profiling  ProfilingConfig  `toml:"profiling"`
}

// KalshiConfig holds Kalshi API access.
type KalshiConfig struct {
	APIKey            string   `toml:"api_key"`
	RSAPrivateKeyPath string   `toml:"rsa_private_key_path"`
	BaseURL           string   `toml:"base_url"`
	WsURL             string   `toml:"ws_url"`
	Timeout           duration `toml:"timeout"`
	MaxMarkets        int      `toml:"max_markets"`
}

// PolymarketConfig holds Polymarket endpoints, chain parameters and the
// signing wallet.
type PolymarketConfig struct {
	ClobHost         string   `toml:"clob_host"`
	GammaHost        string   `toml:"gamma_host"`
	WsHost           string   `toml:"ws_host"`
	ChainID          int64    `toml:"chain_id"`
	ExchangeAddress  string   `toml:"exchange_address"`
	SignatureType    int      `toml:"signature_type"`
	FunderAddress    string   `toml:"funder_address"`
	FeeRateBps       int64    `toml:"fee_rate_bps"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Timeout          duration `toml:"timeout"`
	MaxMarkets       int      `toml:"max_markets"`
}

// PaperConfig tunes the simulated venues used in paper mode.
type PaperConfig struct {
	Latency     duration `toml:"latency"`
	FailureRate float64  `toml:"failure_rate"`
	Seed        uint64   `toml:"seed"`
}

// ArbitrageConfig holds detection parameters. Prices are in cents.
type ArbitrageConfig struct {
	MinProfitCents    int64    `toml:"min_profit_cents"`
	FeePerLegCents    int64    `toml:"fee_per_leg_cents"`
	ContractsPerTrade int64    `toml:"contracts_per_trade"`
	PollInterval      duration `toml:"poll_interval"`
	HysteresisWindow  duration `toml:"hysteresis_window"`
	StalenessHorizon  duration `toml:"staleness_horizon"`
}

// RiskConfig holds position limits and circuit breaker settings.
type RiskConfig struct {
	MaxPosition int64 `toml:"max_position"`
	// PerMarket overrides MaxPosition, keyed by "venue:market".
	PerMarket        map[string]int64 `toml:"per_market"`
	FailureThreshold int              `toml:"failure_threshold"`
	Cooldown         duration         `toml:"cooldown"`
}

// ExecutionConfig bounds order execution.
type ExecutionConfig struct {
	LegTimeout      duration `toml:"leg_timeout"`
	LateFillHorizon duration `toml:"late_fill_horizon"`
	// StatusPollInterval paces order status checks for legs the venue
	// left unresolved.
	StatusPollInterval duration `toml:"status_poll_interval"`
	DrainTimeout       duration `toml:"drain_timeout"`
	// DistributedLocks adds a Redis per-market lock so several processes
	// can share the same accounts.
	DistributedLocks bool     `toml:"distributed_locks"`
	LockTTL          duration `toml:"lock_ttl"`
}

// DiscoveryConfig controls catalog matching.
type DiscoveryConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	MinConfidence  float64  `toml:"min_confidence"`
	MinShared      int      `toml:"min_shared"`
	MinScore       float64  `toml:"min_score"`
	CloseTolerance duration `toml:"close_tolerance"`
	// MarketMap pins Kalshi tickers to Polymarket condition ids.
	MarketMap map[string]string `toml:"market_map"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local database path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	FlushInterval  duration `toml:"flush_interval"`
}

// ServerConfig holds the operator API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channels and pacing.
type NotifyConfig struct {
	TelegramEnabled   bool     `toml:"telegram_enabled"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
	MinInterval       duration `toml:"min_interval"`
	StatusInterval    duration `toml:"status_interval"`
}

// ProfilingConfig enables continuous profiling with Pyroscope.
type ProfilingConfig struct {
	Enabled       bool   `toml:"enabled"`
	ServerAddress string `toml:"server_address"`
	AppName       string `toml:"app_name"`
}

// duration wraps time.Duration so TOML files can use "5s" strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Mode:     "monitor",
		LogLevel: "info",
		Kalshi: KalshiConfig{
			BaseURL:    "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:      "wss://api.elections.kalshi.com/trade-api/ws/v2",
			Timeout:    duration{10 * time.Second},
			MaxMarkets: 2000,
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:       137,
			SignatureType: 0,
			Timeout:       duration{10 * time.Second},
			MaxMarkets:    2000,
		},
		Paper: PaperConfig{
			Latency: duration{50 * time.Millisecond},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitCents:    2,
			FeePerLegCents:    1,
			ContractsPerTrade: 10,
			PollInterval:      duration{time.Second},
			HysteresisWindow:  duration{5 * time.Second},
			StalenessHorizon:  duration{5 * time.Second},
		},
		Risk: RiskConfig{
			MaxPosition:      100,
			FailureThreshold: 3,
			Cooldown:         duration{5 * time.Minute},
		},
		Execution: ExecutionConfig{
			LegTimeout:      duration{5 * time.Second},
			LateFillHorizon:    duration{30 * time.Second},
			StatusPollInterval: duration{time.Second},
			DrainTimeout:       duration{30 * time.Second},
			LockTTL:            duration{time.Minute},
		},
		Discovery: DiscoveryConfig{
			Enabled:        true,
			Interval:       duration{10 * time.Minute},
			MinConfidence:  0.6,
			MinShared:      3,
			MinScore:       0.6,
			CloseTolerance: duration{72 * time.Hour},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "crossarb:",
			QuoteTTL:   duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/crossarb.db",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "crossarb-trades",
			ForcePathStyle: true,
			FlushInterval:  duration{5 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			QueueSize:      100,
			MinInterval:    duration{time.Second},
			StatusInterval: duration{time.Hour},
		},
		Profiling: ProfilingConfig{
			ServerAddress: "http://localhost:4040",
			AppName:       "crossarb",
		},
	}
}

var validModes = map[string]bool{
	"monitor": true,
	"paper":   true,
	"live":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStores = map[string]bool{
	"":         true,
	"postgres": true,
	"sqlite":   true,
}

// Validate checks the configuration and returns every problem found as
// one error, one line per problem.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[c.Mode] {
		add("unknown mode %q (valid: monitor, paper, live)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}
	if !validStores[c.Store] {
		add("unknown store %q (valid: postgres, sqlite, or empty)", c.Store)
	}

	if c.Kalshi.BaseURL == "" {
		add("kalshi: base_url must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		add("polymarket: gamma_host must not be empty")
	}

	if c.Mode == "live" {
		if c.Kalshi.APIKey == "" {
			add("kalshi: api_key is required for live mode")
		}
		if c.Kalshi.RSAPrivateKeyPath == "" {
			add("kalshi: rsa_private_key_path is required for live mode")
		}
		if c.Polymarket.PrivateKey == "" && c.Polymarket.EncryptedKeyPath == "" {
			add("polymarket: either private_key or encrypted_key_path is required for live mode")
		}
		if c.Polymarket.ClobHost == "" {
			add("polymarket: clob_host must not be empty")
		}
		if c.Polymarket.ChainID <= 0 {
			add("polymarket: chain_id must be positive")
		}
	}
	if c.Polymarket.EncryptedKeyPath != "" && c.Polymarket.KeyPassword == "" {
		add("polymarket: key_password is required when encrypted_key_path is set")
	}
	switch c.Polymarket.SignatureType {
	case 0, 1, 2:
	default:
		add("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType)
	}

	if c.Paper.FailureRate < 0 || c.Paper.FailureRate > 1 {
		add("paper: failure_rate must be within [0, 1]")
	}

	a := c.Arbitrage
	if a.MinProfitCents < 0 {
		add("arbitrage: min_profit_cents must not be negative")
	}
	if a.FeePerLegCents < 0 {
		add("arbitrage: fee_per_leg_cents must not be negative")
	}
	if a.ContractsPerTrade <= 0 {
		add("arbitrage: contracts_per_trade must be positive")
	}
	if a.PollInterval.Duration <= 0 {
		add("arbitrage: poll_interval must be positive")
	}
	if a.StalenessHorizon.Duration <= 0 {
		add("arbitrage: staleness_horizon must be positive")
	}

	if c.Risk.MaxPosition <= 0 {
		add("risk: max_position must be positive")
	}
	for k, v := range c.Risk.PerMarket {
		if v < 0 {
			add("risk: per_market limit for %q must not be negative", k)
		}
	}
	if c.Risk.FailureThreshold < 1 {
		add("risk: failure_threshold must be at least 1")
	}
	if c.Risk.Cooldown.Duration <= 0 {
		add("risk: cooldown must be positive")
	}

	e := c.Execution
	if e.LegTimeout.Duration <= 0 {
		add("execution: leg_timeout must be positive")
	}
	if e.LateFillHorizon.Duration < e.LegTimeout.Duration {
		add("execution: late_fill_horizon must be at least leg_timeout")
	}
	if e.StatusPollInterval.Duration <= 0 {
		add("execution: status_poll_interval must be positive")
	}
	if e.DistributedLocks && !c.Redis.Enabled {
		add("execution: distributed_locks requires redis.enabled")
	}
	if e.DistributedLocks && e.LockTTL.Duration <= e.LateFillHorizon.Duration {
		add("execution: lock_ttl must exceed late_fill_horizon")
	}

	if c.Discovery.Enabled && c.Discovery.Interval.Duration <= 0 {
		add("discovery: interval must be positive")
	}
	if c.Discovery.MinConfidence < 0 || c.Discovery.MinConfidence > 1 {
		add("discovery: min_confidence must be within [0, 1]")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Store == "postgres" && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		add("postgres: dsn or host is required")
	}
	if c.Store == "sqlite" && c.SQLite.Path == "" {
		add("sqlite: path must not be empty")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be within 1-65535, got %d", c.Server.Port)
	}

	if c.Notify.TelegramEnabled && (c.Notify.TelegramToken == "" || c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id are required when telegram is enabled")
	}

	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		add("profiling: server_address must not be empty")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
