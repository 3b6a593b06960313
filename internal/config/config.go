// Package config defines the top-level configuration for the escrow daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROWD_* environment variables. It
// is read once at startup and never mutated afterwards.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Lightning LightningConfig `toml:"lightning"`
	Rates     RatesConfig     `toml:"rates"`
	Fees      FeesConfig      `toml:"fees"`
	Orders    OrdersConfig    `toml:"orders"`
	Payments  PaymentsConfig  `toml:"payments"`
	Jobs      JobsConfig      `toml:"jobs"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	// LogFile, when set, receives a rotated copy of every log line.
	LogFile string `toml:"log_file"`
}

// PostgresConfig holds PostgreSQL connection parameters. When disabled the
// daemon keeps its state in memory, which is only suitable for development.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the report
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LightningConfig selects and configures the payment node.
type LightningConfig struct {
	// Driver is "lnd" or "memory". The memory node never moves real funds.
	Driver                string   `toml:"driver"`
	RESTHost              string   `toml:"rest_host"`
	TLSCertPath           string   `toml:"tls_cert_path"`
	MacaroonPath          string   `toml:"macaroon_path"`
	EncryptedMacaroonPath string   `toml:"encrypted_macaroon_path"`
	MacaroonPassword      string   `toml:"macaroon_password"`
	InvoiceExpiry         duration `toml:"invoice_expiry"`
	Timeout               duration `toml:"timeout"`
	PaymentTimeout        duration `toml:"payment_timeout"`
	MaxRoutingFeeRate     float64  `toml:"max_routing_fee_rate"`
}

// RatesConfig configures the fiat exchange rate source.
type RatesConfig struct {
	YadioURL string   `toml:"yadio_url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// FeesConfig holds the fee policy.
type FeesConfig struct {
	BotFee   float64 `toml:"bot_fee"`
	FeeSplit float64 `toml:"fee_split"`
	// GoldenHoneyBadgerProbability is N in a 1-in-N fee waiver draw; zero
	// disables it.
	GoldenHoneyBadgerProbability int `toml:"golden_honey_badger_probability"`
}

// OrdersConfig holds order limits and timing windows.
type OrdersConfig struct {
	MaxAmount            int64    `toml:"max_amount"`
	PublicationWindow    duration `toml:"publication_window"`
	HoldInvoiceWindow    duration `toml:"hold_invoice_window"`
	HoldInvoiceCltvDelta int      `toml:"hold_invoice_cltv_delta"`
	CltvSafetyWindow     int      `toml:"cltv_safety_window"`
	BlockTime            duration `toml:"block_time"`
	MaxDisputes          int      `toml:"max_disputes"`
	ReputationWindow     duration `toml:"reputation_window"`
	Currencies           []string `toml:"currencies"`
}

// PaymentsConfig holds the payout retry policy.
type PaymentsConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	RetryInterval duration `toml:"retry_interval"`
}

// JobsConfig holds the schedules of the reconciliation jobs. A zero interval
// disables the job.
type JobsConfig struct {
	ExpiryInterval          duration `toml:"expiry_interval"`
	EarningsInterval        duration `toml:"earnings_interval"`
	CommunityPayoutInterval duration `toml:"community_payout_interval"`
	InvoiceWatchInterval    duration `toml:"invoice_watch_interval"`
	NodeInfoInterval        duration `toml:"node_info_interval"`
	// ReportCron takes precedence over ReportInterval when set.
	ReportCron           string   `toml:"report_cron"`
	ReportInterval       duration `toml:"report_interval"`
	ReportWindow         duration `toml:"report_window"`
	RoutingFeeAlertRatio float64  `toml:"routing_fee_alert_ratio"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit requests per RateWindow per user; enforced only with Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "escrowd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "escrowd:",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrowd-reports",
			ForcePathStyle: true,
		},
		Lightning: LightningConfig{
			Driver:            "lnd",
			RESTHost:          "https://127.0.0.1:8080",
			InvoiceExpiry:     duration{time.Hour},
			Timeout:           duration{30 * time.Second},
			PaymentTimeout:    duration{90 * time.Second},
			MaxRoutingFeeRate: 0.002,
		},
		Rates: RatesConfig{
			YadioURL: "https://api.yadio.io",
			CacheTTL: duration{5 * time.Minute},
		},
		Fees: FeesConfig{
			BotFee:                       0.006,
			FeeSplit:                     0.7,
			GoldenHoneyBadgerProbability: 100,
		},
		Orders: OrdersConfig{
			MaxAmount:            10_000_000,
			PublicationWindow:    duration{23 * time.Hour},
			HoldInvoiceWindow:    duration{15 * time.Minute},
			HoldInvoiceCltvDelta: 144,
			CltvSafetyWindow:     24,
			BlockTime:            duration{10 * time.Minute},
			MaxDisputes:          4,
			ReputationWindow:     duration{24 * time.Hour},
			Currencies:           []string{"USD", "EUR", "ARS", "VES", "COP", "MXN", "BRL", "CUP"},
		},
		Payments: PaymentsConfig{
			MaxAttempts:   3,
			RetryInterval: duration{2 * time.Minute},
		},
		Jobs: JobsConfig{
			ExpiryInterval:          duration{time.Minute},
			EarningsInterval:        duration{10 * time.Minute},
			CommunityPayoutInterval: duration{5 * time.Minute},
			InvoiceWatchInterval:    duration{5 * time.Second},
			NodeInfoInterval:        duration{time.Minute},
			ReportCron:              "0 0 * * *",
			ReportWindow:            duration{24 * time.Hour},
			RoutingFeeAlertRatio:    0.5,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   30,
			RateWindow:  duration{time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full": true, // API and jobs in one process
	"api":  true,
	"jobs": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, api, jobs)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	} else if mode != "full" {
		// Separate api and jobs processes must share state.
		errs = append(errs, "postgres: must be enabled for mode "+c.Mode)
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" && c.S3.Region == "" {
			errs = append(errs, "s3: endpoint or region must be set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Lightning
	switch strings.ToLower(c.Lightning.Driver) {
	case "lnd":
		if c.Lightning.RESTHost == "" {
			errs = append(errs, "lightning: rest_host must not be empty")
		}
		if c.Lightning.MacaroonPath == "" && c.Lightning.EncryptedMacaroonPath == "" {
			errs = append(errs, "lightning: either macaroon_path or encrypted_macaroon_path must be set")
		}
		if c.Lightning.EncryptedMacaroonPath != "" && c.Lightning.MacaroonPassword == "" {
			errs = append(errs, "lightning: macaroon_password is required when encrypted_macaroon_path is set")
		}
	case "memory":
		if mode != "full" {
			errs = append(errs, "lightning: the memory driver only works in mode full")
		}
	default:
		errs = append(errs, fmt.Sprintf("lightning: unknown driver %q (valid: lnd, memory)", c.Lightning.Driver))
	}
	if c.Lightning.MaxRoutingFeeRate < 0 || c.Lightning.MaxRoutingFeeRate >= 1 {
		errs = append(errs, "lightning: max_routing_fee_rate must be in [0, 1)")
	}

	// Rates
	if c.Rates.YadioURL == "" {
		errs = append(errs, "rates: yadio_url must not be empty")
	}

	// Fees
	if c.Fees.BotFee < 0 || c.Fees.BotFee >= 1 {
		errs = append(errs, "fees: bot_fee must be in [0, 1)")
	}
	if c.Fees.FeeSplit < 0 || c.Fees.FeeSplit > 1 {
		errs = append(errs, "fees: fee_split must be in [0, 1]")
	}
	if c.Fees.GoldenHoneyBadgerProbability < 0 {
		errs = append(errs, "fees: golden_honey_badger_probability must be >= 0")
	}

	// Orders
	if c.Orders.MaxAmount <= 0 {
		errs = append(errs, "orders: max_amount must be > 0")
	}
	if c.Orders.PublicationWindow.Duration <= 0 {
		errs = append(errs, "orders: publication_window must be > 0")
	}
	if c.Orders.HoldInvoiceWindow.Duration <= 0 {
		errs = append(errs, "orders: hold_invoice_window must be > 0")
	}
	if c.Orders.HoldInvoiceCltvDelta <= c.Orders.CltvSafetyWindow {
		errs = append(errs, "orders: hold_invoice_cltv_delta must exceed cltv_safety_window")
	}
	if c.Orders.BlockTime.Duration <= 0 {
		errs = append(errs, "orders: block_time must be > 0")
	}
	if c.Orders.MaxDisputes < 1 {
		errs = append(errs, "orders: max_disputes must be >= 1")
	}

	// Payments
	if c.Payments.MaxAttempts < 1 {
		errs = append(errs, "payments: max_attempts must be >= 1")
	}

	// Jobs
	if c.Jobs.RoutingFeeAlertRatio < 0 {
		errs = append(errs, "jobs: routing_fee_alert_ratio must be >= 0")
	}
	if c.Jobs.ReportWindow.Duration <= 0 {
		errs = append(errs, "jobs: report_window must be > 0")
	}

	// Server
	if c.Server.Enabled && mode != "jobs" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
