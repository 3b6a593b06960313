package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ESCROWD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESCROWD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ESCROWD_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ESCROWD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "ESCROWD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROWD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROWD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESCROWD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESCROWD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "ESCROWD_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ESCROWD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESCROWD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWD_S3_FORCE_PATH_STYLE")

	// ── Lightning ──
	setStr(&cfg.Lightning.Driver, "ESCROWD_LIGHTNING_DRIVER")
	setStr(&cfg.Lightning.RESTHost, "ESCROWD_LIGHTNING_REST_HOST")
	setStr(&cfg.Lightning.TLSCertPath, "ESCROWD_LIGHTNING_TLS_CERT_PATH")
	setStr(&cfg.Lightning.MacaroonPath, "ESCROWD_LIGHTNING_MACAROON_PATH")
	setStr(&cfg.Lightning.EncryptedMacaroonPath, "ESCROWD_LIGHTNING_ENCRYPTED_MACAROON_PATH")
	setStr(&cfg.Lightning.MacaroonPassword, "ESCROWD_LIGHTNING_MACAROON_PASSWORD")
	setDuration(&cfg.Lightning.InvoiceExpiry, "ESCROWD_LIGHTNING_INVOICE_EXPIRY")
	setFloat64(&cfg.Lightning.MaxRoutingFeeRate, "ESCROWD_LIGHTNING_MAX_ROUTING_FEE_RATE")

	// ── Rates ──
	setStr(&cfg.Rates.YadioURL, "ESCROWD_RATES_YADIO_URL")
	setDuration(&cfg.Rates.CacheTTL, "ESCROWD_RATES_CACHE_TTL")

	// ── Fees ──
	setFloat64(&cfg.Fees.BotFee, "ESCROWD_FEES_BOT_FEE")
	setFloat64(&cfg.Fees.FeeSplit, "ESCROWD_FEES_FEE_SPLIT")
	setInt(&cfg.Fees.GoldenHoneyBadgerProbability, "ESCROWD_FEES_GOLDEN_HONEY_BADGER_PROBABILITY")

	// ── Orders ──
	setInt64(&cfg.Orders.MaxAmount, "ESCROWD_ORDERS_MAX_AMOUNT")
	setDuration(&cfg.Orders.PublicationWindow, "ESCROWD_ORDERS_PUBLICATION_WINDOW")
	setDuration(&cfg.Orders.HoldInvoiceWindow, "ESCROWD_ORDERS_HOLD_INVOICE_WINDOW")
	setInt(&cfg.Orders.HoldInvoiceCltvDelta, "ESCROWD_ORDERS_HOLD_INVOICE_CLTV_DELTA")
	setInt(&cfg.Orders.CltvSafetyWindow, "ESCROWD_ORDERS_CLTV_SAFETY_WINDOW")
	setDuration(&cfg.Orders.BlockTime, "ESCROWD_ORDERS_BLOCK_TIME")
	setInt(&cfg.Orders.MaxDisputes, "ESCROWD_ORDERS_MAX_DISPUTES")
	setDuration(&cfg.Orders.ReputationWindow, "ESCROWD_ORDERS_REPUTATION_WINDOW")
	setStringSlice(&cfg.Orders.Currencies, "ESCROWD_ORDERS_CURRENCIES")

	// ── Payments ──
	setInt(&cfg.Payments.MaxAttempts, "ESCROWD_PAYMENTS_MAX_ATTEMPTS")
	setDuration(&cfg.Payments.RetryInterval, "ESCROWD_PAYMENTS_RETRY_INTERVAL")

	// ── Jobs ──
	setDuration(&cfg.Jobs.ExpiryInterval, "ESCROWD_JOBS_EXPIRY_INTERVAL")
	setDuration(&cfg.Jobs.EarningsInterval, "ESCROWD_JOBS_EARNINGS_INTERVAL")
	setDuration(&cfg.Jobs.CommunityPayoutInterval, "ESCROWD_JOBS_COMMUNITY_PAYOUT_INTERVAL")
	setDuration(&cfg.Jobs.InvoiceWatchInterval, "ESCROWD_JOBS_INVOICE_WATCH_INTERVAL")
	setDuration(&cfg.Jobs.NodeInfoInterval, "ESCROWD_JOBS_NODE_INFO_INTERVAL")
	setStr(&cfg.Jobs.ReportCron, "ESCROWD_JOBS_REPORT_CRON")
	setDuration(&cfg.Jobs.ReportInterval, "ESCROWD_JOBS_REPORT_INTERVAL")
	setDuration(&cfg.Jobs.ReportWindow, "ESCROWD_JOBS_REPORT_WINDOW")
	setFloat64(&cfg.Jobs.RoutingFeeAlertRatio, "ESCROWD_JOBS_ROUTING_FEE_ALERT_RATIO")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ESCROWD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ESCROWD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ESCROWD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ESCROWD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ESCROWD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROWD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROWD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESCROWD_MODE")
	setStr(&cfg.LogLevel, "ESCROWD_LOG_LEVEL")
	setStr(&cfg.LogFile, "ESCROWD_LOG_FILE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
