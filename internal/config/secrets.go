package config

import "maps"

const redacted = "***"

// RedactedConfig returns a copy of cfg with every secret masked, safe to
// log or serve.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Kalshi.APIKey)
	redact(&out.Polymarket.PrivateKey)
	redact(&out.Polymarket.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices and maps are copied so the redacted value cannot alias cfg.
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Risk.PerMarket = maps.Clone(cfg.Risk.PerMarket)
	out.Discovery.MarketMap = maps.Clone(cfg.Discovery.MarketMap)

	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
