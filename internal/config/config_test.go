package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeTOML(t, `
mode = "paper"
store = "sqlite"

[arbitrage]
min_profit_cents = 3
fee_per_leg_cents = 2
poll_interval = "250ms"

[risk]
max_position = 50
cooldown = "90s"

[risk.per_market]
"kalshi:KX-1" = 10

[discovery.market_map]
"KX-1" = "0xcond"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "paper", cfg.Mode)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, int64(3), cfg.Arbitrage.MinProfitCents)
	assert.Equal(t, int64(2), cfg.Arbitrage.FeePerLegCents)
	assert.Equal(t, 250*time.Millisecond, cfg.Arbitrage.PollInterval.Duration)
	assert.Equal(t, int64(10), cfg.Arbitrage.ContractsPerTrade, "defaults survive")
	assert.Equal(t, int64(50), cfg.Risk.MaxPosition)
	assert.Equal(t, 90*time.Second, cfg.Risk.Cooldown.Duration)
	assert.Equal(t, map[string]int64{"kalshi:KX-1": 10}, cfg.Risk.PerMarket)
	assert.Equal(t, map[string]string{"KX-1": "0xcond"}, cfg.Discovery.MarketMap)
}

func TestLoad_BadFile(t *testing.T) {
	_, err := Load(writeTOML(t, `mode = `))
	assert.Error(t, err)

	_, err = Load(writeTOML(t, "[arbitrage]\npoll_interval = \"soon\"\n"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CROSSARB_MODE", "live")
	t.Setenv("CROSSARB_KALSHI_API_KEY", "key-id")
	t.Setenv("CROSSARB_KALSHI_RSA_PRIVATE_KEY_PATH", "/secrets/kalshi.pem")
	t.Setenv("CROSSARB_POLYMARKET_PRIVATE_KEY", "0xabc")
	t.Setenv("CROSSARB_RISK_MAX_POSITION", "25")
	t.Setenv("CROSSARB_EXECUTION_LEG_TIMEOUT", "2s")
	t.Setenv("CROSSARB_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("CROSSARB_REDIS_DB", "not-a-number")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100")
	t.Setenv("TELEGRAM_ENABLED", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "live", cfg.Mode)
	assert.Equal(t, "key-id", cfg.Kalshi.APIKey)
	assert.Equal(t, int64(25), cfg.Risk.MaxPosition)
	assert.Equal(t, 2*time.Second, cfg.Execution.LegTimeout.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0, cfg.Redis.DB, "unparsable values are ignored")
	assert.True(t, cfg.Notify.TelegramEnabled)
	assert.Equal(t, "123:abc", cfg.Notify.TelegramToken)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "yolo" }, `unknown mode "yolo"`},
		{"bad store", func(c *Config) { c.Store = "mongo" }, `unknown store "mongo"`},
		{"live without credentials", func(c *Config) { c.Mode = "live" }, "kalshi: api_key is required for live mode"},
		{"zero contracts", func(c *Config) { c.Arbitrage.ContractsPerTrade = 0 }, "contracts_per_trade must be positive"},
		{"zero threshold", func(c *Config) { c.Risk.FailureThreshold = 0 }, "failure_threshold must be at least 1"},
		{"short horizon", func(c *Config) { c.Execution.LateFillHorizon.Duration = time.Second }, "late_fill_horizon must be at least leg_timeout"},
		{"locks without redis", func(c *Config) { c.Execution.DistributedLocks = true }, "distributed_locks requires redis.enabled"},
		{"lock expires before late fills", func(c *Config) {
			c.Execution.DistributedLocks = true
			c.Execution.LockTTL.Duration = c.Execution.LateFillHorizon.Duration
		}, "lock_ttl must exceed late_fill_horizon"},
		{"status poll", func(c *Config) { c.Execution.StatusPollInterval.Duration = 0 }, "status_poll_interval must be positive"},
		{"failure rate", func(c *Config) { c.Paper.FailureRate = 2 }, "failure_rate must be within [0, 1]"},
		{"telegram", func(c *Config) { c.Notify.TelegramEnabled = true }, "telegram_token and telegram_chat_id are required"},
		{"encrypted key", func(c *Config) { c.Polymarket.EncryptedKeyPath = "key.json" }, "key_password is required"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server: port must be within 1-65535"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Risk.MaxPosition = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "max_position must be positive")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Kalshi.APIKey = "key-id"
	cfg.Polymarket.PrivateKey = "0xabc"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Risk.PerMarket = map[string]int64{"kalshi:KX-1": 5}

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Kalshi.APIKey)
	assert.Equal(t, redacted, out.Polymarket.PrivateKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	assert.Equal(t, "key-id", cfg.Kalshi.APIKey, "original untouched")
	out.Risk.PerMarket["kalshi:KX-1"] = 99
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, int64(5), cfg.Risk.PerMarket["kalshi:KX-1"])
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}

func TestDurationText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}
