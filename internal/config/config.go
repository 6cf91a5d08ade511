// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"
	ClientURL string // allowed CORS origin for the dashboard

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain data
	EthRPCURL    string // optional; ETH balances come from the simulator when unset
	LivenessMode string // "random" or "fixed"

	// Rule engine and synchronizer tables
	SupportedNetworks        []string
	LargeTransferThresholds  map[string]decimal.Decimal
	DefaultTransferThreshold decimal.Decimal
	USDRates                 map[string]decimal.Decimal
	RepeatedFailureThreshold int
	TxWindowDefault          int
	TxWindowMax              int
	DashboardTxWindow        int

	// Monitoring
	MonitorInterval        time.Duration // 0 disables the scheduled sweep
	MaxConcurrentSyncs     int
	PersistGeneratedAlerts bool

	// Notifications
	EmailFrom           string
	SMTPHost            string
	SMTPPort            int
	SMTPUser            string
	SMTPPass            string
	NotificationWebhook string
	WebhookSecret       string
	NotifyTimeout       time.Duration
	NotifyCooldown      time.Duration // 0 = notify on every cycle
	NotifyRatePerMinute int

	// Tracing
	OTelEndpoint string

	// Security
	RateLimitRPM int
	AdminSecret  string
	DemoMode     bool
}

const (
	DefaultPort                     = "8080"
	DefaultEnv                      = "development"
	DefaultLogLevel                 = "info"
	DefaultLogFormat                = "text"
	DefaultClientURL                = "http://localhost:5173"
	DefaultEmailFrom                = "alerts@cryptoguard.dev"
	DefaultSMTPPort                 = 587
	DefaultLivenessMode             = "random"
	DefaultRepeatedFailureThreshold = 3
	DefaultTxWindow                 = 25
	DefaultTxWindowMax              = 100
	DefaultDashboardTxWindow        = 10
	DefaultMaxConcurrentSyncs       = 8
	DefaultNotifyTimeout            = 10 * time.Second
	DefaultNotifyRatePerMinute      = 6
	DefaultRateLimit                = 120
)

// Defaults for the tables, in KEY=value,KEY=value form.
const (
	DefaultSupportedNetworks        = "BTC,ETH,SOL"
	DefaultLargeTransferThresholds  = "BTC=0.75,ETH=5,SOL=250"
	DefaultUSDRates                 = "BTC=65000,ETH=3200,SOL=150"
	DefaultLargeTransferFallbackStr = "100"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	thresholds, err := parseTable("LARGE_TRANSFER_THRESHOLDS", getEnv("LARGE_TRANSFER_THRESHOLDS", DefaultLargeTransferThresholds))
	if err != nil {
		return nil, err
	}
	rates, err := parseTable("USD_RATES", getEnv("USD_RATES", DefaultUSDRates))
	if err != nil {
		return nil, err
	}
	fallback, err := decimal.NewFromString(getEnv("DEFAULT_LARGE_TRANSFER_THRESHOLD", DefaultLargeTransferFallbackStr))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_LARGE_TRANSFER_THRESHOLD: %w", err)
	}

	cfg := &Config{
		Port:      getEnv("PORT", DefaultPort),
		Env:       getEnv("ENV", DefaultEnv),
		LogLevel:  getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat: getEnv("LOG_FORMAT", DefaultLogFormat),
		ClientURL: getEnv("CLIENT_URL", DefaultClientURL),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		EthRPCURL:    os.Getenv("ETH_RPC_URL"),
		LivenessMode: getEnv("LIVENESS_MODE", DefaultLivenessMode),

		SupportedNetworks:        splitList(getEnv("SUPPORTED_NETWORKS", DefaultSupportedNetworks)),
		LargeTransferThresholds:  thresholds,
		DefaultTransferThreshold: fallback,
		USDRates:                 rates,
		RepeatedFailureThreshold: int(getEnvInt64("REPEATED_FAILURE_THRESHOLD", DefaultRepeatedFailureThreshold)),
		TxWindowDefault:          int(getEnvInt64("TX_WINDOW_DEFAULT", DefaultTxWindow)),
		TxWindowMax:              int(getEnvInt64("TX_WINDOW_MAX", DefaultTxWindowMax)),
		DashboardTxWindow:        int(getEnvInt64("DASHBOARD_TX_WINDOW", DefaultDashboardTxWindow)),

		MonitorInterval:        getEnvDuration("MONITOR_INTERVAL", 0),
		MaxConcurrentSyncs:     int(getEnvInt64("MAX_CONCURRENT_SYNCS", DefaultMaxConcurrentSyncs)),
		PersistGeneratedAlerts: getEnvBool("PERSIST_GENERATED_ALERTS", false),

		EmailFrom:           getEnv("EMAIL_FROM", DefaultEmailFrom),
		SMTPHost:            os.Getenv("SMTP_HOST"),
		SMTPPort:            int(getEnvInt64("SMTP_PORT", DefaultSMTPPort)),
		SMTPUser:            os.Getenv("SMTP_USER"),
		SMTPPass:            os.Getenv("SMTP_PASS"),
		NotificationWebhook: os.Getenv("NOTIFICATION_WEBHOOK"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),
		NotifyTimeout:       getEnvDuration("NOTIFY_TIMEOUT", DefaultNotifyTimeout),
		NotifyCooldown:      getEnvDuration("NOTIFY_COOLDOWN", 0),
		NotifyRatePerMinute: int(getEnvInt64("NOTIFY_RATE_PER_MINUTE", DefaultNotifyRatePerMinute)),

		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		RateLimitRPM: int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AdminSecret:  os.Getenv("ADMIN_SECRET"),
		DemoMode:     getEnvBool("DEMO_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if len(c.SupportedNetworks) == 0 {
		return fmt.Errorf("SUPPORTED_NETWORKS must name at least one network")
	}
	for _, n := range c.SupportedNetworks {
		switch n {
		case "BTC", "ETH", "SOL":
		default:
			return fmt.Errorf("SUPPORTED_NETWORKS: unknown network %q", n)
		}
	}
	if c.TxWindowDefault <= 0 || c.TxWindowMax <= 0 {
		return fmt.Errorf("TX_WINDOW_DEFAULT and TX_WINDOW_MAX must be positive")
	}
	if c.TxWindowDefault > c.TxWindowMax {
		return fmt.Errorf("TX_WINDOW_DEFAULT (%d) exceeds TX_WINDOW_MAX (%d)", c.TxWindowDefault, c.TxWindowMax)
	}
	if c.DashboardTxWindow <= 0 {
		return fmt.Errorf("DASHBOARD_TX_WINDOW must be positive")
	}
	if c.RepeatedFailureThreshold <= 0 {
		return fmt.Errorf("REPEATED_FAILURE_THRESHOLD must be positive")
	}
	if c.DefaultTransferThreshold.IsNegative() {
		return fmt.Errorf("DEFAULT_LARGE_TRANSFER_THRESHOLD must be non-negative")
	}
	if c.MaxConcurrentSyncs <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_SYNCS must be positive")
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("NOTIFY_TIMEOUT must be positive")
	}
	if c.NotifyRatePerMinute <= 0 {
		return fmt.Errorf("NOTIFY_RATE_PER_MINUTE must be positive, got %d", c.NotifyRatePerMinute)
	}
	if c.MonitorInterval < 0 || c.NotifyCooldown < 0 {
		return fmt.Errorf("MONITOR_INTERVAL and NOTIFY_COOLDOWN must not be negative")
	}
	switch c.LivenessMode {
	case "random", "fixed":
	default:
		return fmt.Errorf("LIVENESS_MODE must be random or fixed, got %q", c.LivenessMode)
	}
	if c.IsProduction() && c.DemoMode {
		return fmt.Errorf("DEMO_MODE cannot be enabled in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SeedDemoData reports whether the demo user and wallets should be created.
func (c *Config) SeedDemoData() bool {
	return c.DemoMode || (c.IsDevelopment() && c.DatabaseURL == "")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseTable parses "BTC=0.75,ETH=5" into a map keyed by upper-case network.
func parseTable(name, s string) (map[string]decimal.Decimal, error) {
	table := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%s: expected KEY=value, got %q", name, pair)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", name, key, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("%s: %s must be non-negative", name, key)
		}
		table[strings.ToUpper(strings.TrimSpace(key))] = d
	}
	return table, nil
}
