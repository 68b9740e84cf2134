package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the defaults, loads .env when
// present, and applies environment overrides. An empty path skips the
// file. The result is not validated; callers run Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and flip switches at
// deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
	setStr(&cfg.Store, "CROSSARB_STORE")

	setStr(&cfg.Kalshi.APIKey, "CROSSARB_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RSAPrivateKeyPath, "CROSSARB_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "CROSSARB_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "CROSSARB_KALSHI_WS_URL")

	setStr(&cfg.Polymarket.ClobHost, "CROSSARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "CROSSARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "CROSSARB_POLYMARKET_WS_HOST")
	setInt64(&cfg.Polymarket.ChainID, "CROSSARB_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "CROSSARB_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.FunderAddress, "CROSSARB_POLYMARKET_FUNDER_ADDRESS")
	setStr(&cfg.Polymarket.PrivateKey, "CROSSARB_POLYMARKET_PRIVATE_KEY")
	setStr(&cfg.Polymarket.EncryptedKeyPath, "CROSSARB_POLYMARKET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Polymarket.KeyPassword, "CROSSARB_POLYMARKET_KEY_PASSWORD")

	setInt64(&cfg.Arbitrage.MinProfitCents, "CROSSARB_ARBITRAGE_MIN_PROFIT_CENTS")
	setInt64(&cfg.Arbitrage.FeePerLegCents, "CROSSARB_ARBITRAGE_FEE_PER_LEG_CENTS")
	setInt64(&cfg.Arbitrage.ContractsPerTrade, "CROSSARB_ARBITRAGE_CONTRACTS_PER_TRADE")
	setDuration(&cfg.Arbitrage.StalenessHorizon, "CROSSARB_ARBITRAGE_STALENESS_HORIZON")

	setInt64(&cfg.Risk.MaxPosition, "CROSSARB_RISK_MAX_POSITION")
	setInt(&cfg.Risk.FailureThreshold, "CROSSARB_RISK_FAILURE_THRESHOLD")
	setDuration(&cfg.Risk.Cooldown, "CROSSARB_RISK_COOLDOWN")

	setDuration(&cfg.Execution.LegTimeout, "CROSSARB_EXECUTION_LEG_TIMEOUT")
	setBool(&cfg.Execution.DistributedLocks, "CROSSARB_EXECUTION_DISTRIBUTED_LOCKS")

	setBool(&cfg.Discovery.Enabled, "CROSSARB_DISCOVERY_ENABLED")
	setDuration(&cfg.Discovery.Interval, "CROSSARB_DISCOVERY_INTERVAL")

	setBool(&cfg.Redis.Enabled, "CROSSARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	setStr(&cfg.Postgres.DSN, "CROSSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSARB_POSTGRES_SSL_MODE")

	setStr(&cfg.SQLite.Path, "CROSSARB_SQLITE_PATH")

	setBool(&cfg.S3.Enabled, "CROSSARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")

	setBool(&cfg.Server.Enabled, "CROSSARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CROSSARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CROSSARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CROSSARB_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSARB_NOTIFY_EVENTS")
	setStr(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setFlag(&cfg.Notify.TelegramEnabled, "TELEGRAM_ENABLED")

	setBool(&cfg.Profiling.Enabled, "CROSSARB_PROFILING_ENABLED")
	setStr(&cfg.Profiling.ServerAddress, "CROSSARB_PROFILING_SERVER_ADDRESS")
}

// Each helper only writes dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setFlag accepts "1", "true" and "yes" as on and anything else as off.
func setFlag(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			*dst = true
		default:
			*dst = false
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
