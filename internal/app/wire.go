package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/crossarb/internal/blob/s3"
	"github.com/alanyoungcy/crossarb/internal/cache/redis"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/executor"
	"github.com/alanyoungcy/crossarb/internal/notify"
	"github.com/alanyoungcy/crossarb/internal/store/postgres"
	"github.com/alanyoungcy/crossarb/internal/store/sqlite"
)

// tradeStore is what a configured database offers the runtime.
type tradeStore interface {
	domain.TradeStore
	domain.PositionStore
	domain.PairStore
	domain.AuditStore
	executor.Recorder
}

// pgStore joins the postgres stores into one tradeStore.
type pgStore struct {
	*postgres.TradeStore
	*postgres.PositionStore
	*postgres.PairStore
	*postgres.AuditStore
}

// Dependencies bundles the infrastructure the run modes share. Optional
// parts are nil when not configured.
type Dependencies struct {
	Store tradeStore

	Redis     *redis.Client
	Mirror    domain.QuoteMirror
	Locks     domain.LockManager
	SignalBus domain.SignalBus

	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire connects the configured infrastructure. The returned cleanup
// closes everything in reverse order and must be called even after a
// partial failure has been reported.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	switch cfg.Store {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return nil, cleanup, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		pool := pg.Pool()
		deps.Store = pgStore{
			TradeStore:    postgres.NewTradeStore(pool),
			PositionStore: postgres.NewPositionStore(pool),
			PairStore:     postgres.NewPairStore(pool),
			AuditStore:    postgres.NewAuditStore(pool),
		}
		logger.Info("wire: postgres connected", slog.String("host", cfg.Postgres.Host))

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Store = db
		logger.Info("wire: sqlite opened", slog.String("path", cfg.SQLite.Path))
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Redis = rc
		deps.Mirror = redis.NewQuoteMirror(rc, cfg.Redis.QuoteTTL.Duration)
		deps.Locks = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		logger.Info("wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, cleanup, fmt.Errorf("wire: s3: %w", err)
		}
		if err := sc.Health(ctx); err != nil {
			return nil, cleanup, fmt.Errorf("wire: s3: %w", err)
		}
		var opts []s3blob.ArchiverOption
		if deps.Store != nil {
			opts = append(opts, s3blob.WithAudit(deps.Store))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), logger, opts...)
		logger.Info("wire: s3 archive enabled", slog.String("bucket", cfg.S3.Bucket))
	}

	deps.Notifier = notify.NewNotifier(buildSenders(cfg, logger), notify.Config{
		QueueSize:   cfg.Notify.QueueSize,
		MinInterval: cfg.Notify.MinInterval.Duration,
		Events:      cfg.Notify.Events,
	}, logger)

	return deps, cleanup, nil
}

// buildSenders creates the configured notification channels. A sender
// that fails to start is logged and skipped; notifications never stop
// the bot.
func buildSenders(cfg *config.Config, logger *slog.Logger) []notify.Sender {
	var senders []notify.Sender
	if cfg.Notify.TelegramEnabled {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "")
		if err != nil {
			logger.Warn("wire: telegram disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return senders
}
