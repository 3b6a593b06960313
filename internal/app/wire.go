package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/lnp2pbot/escrowd/internal/blob/s3"
	"github.com/lnp2pbot/escrowd/internal/cache/redis"
	"github.com/lnp2pbot/escrowd/internal/config"
	"github.com/lnp2pbot/escrowd/internal/crypto"
	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/lnp2pbot/escrowd/internal/lightning"
	"github.com/lnp2pbot/escrowd/internal/notify"
	"github.com/lnp2pbot/escrowd/internal/platform/yadio"
	"github.com/lnp2pbot/escrowd/internal/server/handler"
	"github.com/lnp2pbot/escrowd/internal/service"
	"github.com/lnp2pbot/escrowd/internal/store/memstore"
	"github.com/lnp2pbot/escrowd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional dependencies are nil interfaces when their
// backend is disabled.
type Dependencies struct {
	Stores  domain.Stores
	Gateway domain.Gateway
	Rates   domain.RatesProvider

	// Redis-backed; nil without Redis.
	RateLimiter domain.RateLimiter
	NodeStatus  domain.NodeStatusCache
	SignalBus   *redis.SignalBus

	// S3-backed; nil without object storage.
	Reports *s3blob.ReportArchiver

	Notifier *notify.Notifier

	// Health lists the dependencies reported by GET /api/health.
	Health map[string]handler.Pinger
}

// pingFunc adapts a health probe to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Stores ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Stores = pgClient.Stores()
		deps.Health["postgres"] = pingFunc(pgClient.Pool().Ping)
	} else {
		logger.WarnContext(ctx, "postgres disabled, state is kept in memory and lost on restart")
		deps.Stores = memstore.New().Stores()
	}

	// --- Redis ---
	var rateCache domain.RateCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		rateCache = redis.NewRateCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.NodeStatus = redis.NewNodeStatusCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = pingFunc(redisClient.Ping)
	}

	// --- S3 report archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		objects := s3blob.NewObjects(s3Client)
		deps.Reports = s3blob.NewReportArchiver(objects, objects)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Lightning ---
	gateway, err := wireGateway(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: lightning: %w", err)
	}
	deps.Gateway = gateway

	// --- Fiat rates ---
	deps.Rates = service.NewRateService(
		yadio.NewClient(cfg.Rates.YadioURL),
		rateCache,
		cfg.Rates.CacheTTL.Duration,
		logger,
	)

	// --- Notifications ---
	var (
		admins []notify.Sender
		direct notify.DirectSender
	)
	if cfg.Notify.TelegramToken != "" {
		tg := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		direct = tg
		if cfg.Notify.TelegramChatID != "" {
			admins = append(admins, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		admins = append(admins, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(admins, direct, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireGateway connects to the configured Lightning node.
func wireGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Gateway, error) {
	if strings.EqualFold(cfg.Lightning.Driver, "memory") {
		logger.WarnContext(ctx, "lightning memory driver in use, no real payments are made")
		return lightning.NewMemoryNode(), nil
	}

	macaroon, err := crypto.LoadMacaroon(crypto.MacaroonConfig{
		Path:          cfg.Lightning.MacaroonPath,
		EncryptedPath: cfg.Lightning.EncryptedMacaroonPath,
		Password:      cfg.Lightning.MacaroonPassword,
	})
	if err != nil {
		return nil, err
	}
	client, err := lightning.New(lightning.Config{
		RESTHost:          cfg.Lightning.RESTHost,
		TLSCertPath:       cfg.Lightning.TLSCertPath,
		Macaroon:          macaroon,
		Timeout:           cfg.Lightning.Timeout.Duration,
		PaymentTimeout:    cfg.Lightning.PaymentTimeout.Duration,
		InvoiceExpiry:     cfg.Lightning.InvoiceExpiry.Duration,
		CltvExpiry:        uint64(cfg.Orders.HoldInvoiceCltvDelta),
		MaxRoutingFeeRate: cfg.Lightning.MaxRoutingFeeRate,
	})
	if err != nil {
		return nil, err
	}
	info, err := client.NodeInfo(ctx)
	if err != nil {
		// The node monitor keeps reporting; start anyway so the API can answer.
		logger.WarnContext(ctx, "lightning node unreachable at startup", slog.String("error", err.Error()))
		return client, nil
	}
	logger.InfoContext(ctx, "lightning node connected",
		slog.String("alias", info.Alias),
		slog.Uint64("block_height", uint64(info.BlockHeight)),
		slog.Bool("synced_to_chain", info.SyncedToChain),
	)
	return client, nil
}

// engineConfig derives the immutable engine policy from the loaded config.
func engineConfig(cfg *config.Config) service.EngineConfig {
	currencies := make([]string, 0, len(cfg.Orders.Currencies))
	for _, c := range cfg.Orders.Currencies {
		currencies = append(currencies, strings.ToUpper(strings.TrimSpace(c)))
	}
	return service.EngineConfig{
		BotFee:                       cfg.Fees.BotFee,
		FeeSplit:                     cfg.Fees.FeeSplit,
		GoldenHoneyBadgerProbability: cfg.Fees.GoldenHoneyBadgerProbability,
		MaxAmount:                    cfg.Orders.MaxAmount,
		Currencies:                   currencies,
		MaxDisputes:                  cfg.Orders.MaxDisputes,
		ReputationWindow:             cfg.Orders.ReputationWindow.Duration,
		MaxAttempts:                  cfg.Payments.MaxAttempts,
	}
}
