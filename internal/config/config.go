// Package config defines the top-level configuration for the arbitrage core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBX_* environment variables.
type Config struct {
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Execution ExecutionConfig `toml:"execution"`
	Registry  RegistryConfig  `toml:"registry"`
	Engine    EngineConfig    `toml:"engine"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Venues    []VenueSpec     `toml:"venues"`
	Order     OrderSpec       `toml:"order"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// OrderSpec describes the one-shot order submitted by order mode. The venue
// is chosen by the registry's configured routing strategy unless Venue pins
// one directly.
type OrderSpec struct {
	Symbol   string  `toml:"symbol"`
	Side     string  `toml:"side"` // "buy" or "sell"
	Quantity float64 `toml:"quantity"`
	Price    float64 `toml:"price"`
	Venue    string  `toml:"venue"`
}

// VenueSpec describes one venue to register at startup.
type VenueSpec struct {
	ID             string  `toml:"id"`
	Kind           string  `toml:"kind"` // "wsfeed" or "sim"
	URL            string  `toml:"url"`  // websocket endpoint, wsfeed only
	TakerFeeBps    float64 `toml:"taker_fee_bps"`
	MakerFeeBps    float64 `toml:"maker_fee_bps"`
	AvgLatencyMs   float64 `toml:"avg_latency_ms"`
	Reliability    float64 `toml:"reliability"`
	RateLimitPerS  int     `toml:"rate_limit_per_s"`
	MaxConnections int     `toml:"max_connections"`
}

// ArbitrageConfig holds detection thresholds.
type ArbitrageConfig struct {
	MinProfitThreshold float64  `toml:"min_profit_threshold"` // percent
	MaxProfitThreshold float64  `toml:"max_profit_threshold"` // percent; above this = data outlier
	MinVolumeThreshold float64  `toml:"min_volume_threshold"`
	MaxLatencyMs       float64  `toml:"max_latency_ms"`
	OpportunityExpiry  duration `toml:"opportunity_expiry"`
	Symbols            []string `toml:"symbols"`
	BaseRiskScore      float64  `toml:"base_risk_score"`
}

// ExecutionConfig holds risk budgeting and execution limits.
type ExecutionConfig struct {
	AutoExecute             bool     `toml:"auto_execute"`
	MaxConcurrentArbitrages int      `toml:"max_concurrent_arbitrages"`
	MaxPositionSize         float64  `toml:"max_position_size"`
	MaxDailyVolume          float64  `toml:"max_daily_volume"`
	RiskBudgetPerTrade      float64  `toml:"risk_budget_per_trade"`
	ExecutionTimeout        duration `toml:"execution_timeout"`
	PreTradeValidation      bool     `toml:"pre_trade_validation"`
	PostTradeValidation     bool     `toml:"post_trade_validation"`
}

// RegistryConfig holds venue registry limits and cadences.
type RegistryConfig struct {
	MaxVenues           int                `toml:"max_venues"`
	HealthCheckInterval duration           `toml:"health_check_interval"`
	PortfolioTTL        duration           `toml:"portfolio_ttl"`
	RequestTimeout      duration           `toml:"request_timeout"`
	Routing             string             `toml:"routing"` // "best_price", "smart", "fixed"
	FixedVenue          string             `toml:"fixed_venue"`
	FeeBps              map[string]float64 `toml:"fee_bps"`
	LatencyMs           map[string]float64 `toml:"latency_ms"`
}

// EngineConfig holds lifecycle loop cadences and alert thresholds.
type EngineConfig struct {
	PriceUpdateInterval       duration `toml:"price_update_interval"`
	PerformanceReviewInterval duration `toml:"performance_review_interval"`
	AlertSpreadPercent        float64  `toml:"alert_spread_percent"`
	AlertVolume               float64  `toml:"alert_volume"`
	MaxAutoExecutions         int      `toml:"max_auto_executions"` // per scan cycle
}

// PostgresConfig holds PostgreSQL connection parameters.
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
}

// S3Config holds S3-compatible object storage parameters for the history
// archiver.
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

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold: 0.1,
			MaxProfitThreshold: 5.0,
			MinVolumeThreshold: 10,
			MaxLatencyMs:       1000,
			OpportunityExpiry:  duration{30 * time.Second},
			Symbols:            []string{"BTC/USDT", "ETH/USDT"},
			BaseRiskScore:      20,
		},
		Execution: ExecutionConfig{
			AutoExecute:             false,
			MaxConcurrentArbitrages: 5,
			MaxPositionSize:         10_000,
			MaxDailyVolume:          100_000,
			RiskBudgetPerTrade:      500,
			ExecutionTimeout:        duration{10 * time.Second},
			PreTradeValidation:      true,
			PostTradeValidation:     true,
		},
		Registry: RegistryConfig{
			MaxVenues:           10,
			HealthCheckInterval: duration{30 * time.Second},
			PortfolioTTL:        duration{15 * time.Second},
			RequestTimeout:      duration{5 * time.Second},
			Routing:             "best_price",
			FeeBps:              map[string]float64{},
			LatencyMs:           map[string]float64{},
		},
		Engine: EngineConfig{
			PriceUpdateInterval:       duration{5 * time.Second},
			PerformanceReviewInterval: duration{60 * time.Second},
			AlertSpreadPercent:        1.0,
			AlertVolume:               1000,
			MaxAutoExecutions:         3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbx",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbx-history",
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"high_value_opportunity_alert", "unhedged_exposure", "execution_result"},
		},
		Mode:     "detect",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect": true,
	"trade":  true,
	"sim":    true,
	"order":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validRouting enumerates the accepted routing strategy tags.
var validRouting = map[string]bool{
	"best_price": true,
	"smart":      true,
	"fixed":      true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, trade, sim, order)", c.Mode))
	}
	if strings.ToLower(c.Mode) == "order" {
		if c.Order.Symbol == "" {
			errs = append(errs, "order: symbol is required in order mode")
		}
		if side := strings.ToLower(c.Order.Side); side != "buy" && side != "sell" {
			errs = append(errs, fmt.Sprintf("order: unknown side %q (valid: buy, sell)", c.Order.Side))
		}
		if c.Order.Quantity <= 0 {
			errs = append(errs, "order: quantity must be positive")
		}
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validRouting[strings.ToLower(c.Registry.Routing)] {
		errs = append(errs, fmt.Sprintf("unknown routing %q (valid: best_price, smart, fixed)", c.Registry.Routing))
	}
	if c.Registry.Routing == "fixed" && c.Registry.FixedVenue == "" {
		errs = append(errs, "registry: fixed_venue is required when routing = fixed")
	}

	if c.Arbitrage.MinProfitThreshold < 0 {
		errs = append(errs, "arbitrage: min_profit_threshold must be >= 0")
	}
	if c.Arbitrage.MaxProfitThreshold <= c.Arbitrage.MinProfitThreshold {
		errs = append(errs, "arbitrage: max_profit_threshold must exceed min_profit_threshold")
	}
	if c.Arbitrage.MinVolumeThreshold < 0 {
		errs = append(errs, "arbitrage: min_volume_threshold must be >= 0")
	}
	if c.Arbitrage.OpportunityExpiry.Duration <= 0 {
		errs = append(errs, "arbitrage: opportunity_expiry must be positive")
	}
	if len(c.Arbitrage.Symbols) == 0 {
		errs = append(errs, "arbitrage: at least one symbol is required")
	}

	if c.Execution.MaxConcurrentArbitrages <= 0 {
		errs = append(errs, "execution: max_concurrent_arbitrages must be positive")
	}
	if c.Execution.MaxPositionSize <= 0 {
		errs = append(errs, "execution: max_position_size must be positive")
	}
	if c.Execution.MaxDailyVolume <= 0 {
		errs = append(errs, "execution: max_daily_volume must be positive")
	}
	if c.Execution.RiskBudgetPerTrade <= 0 {
		errs = append(errs, "execution: risk_budget_per_trade must be positive")
	}
	if c.Execution.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "execution: execution_timeout must be positive")
	}

	if c.Registry.MaxVenues <= 0 {
		errs = append(errs, "registry: max_venues must be positive")
	}
	if c.Engine.PriceUpdateInterval.Duration <= 0 {
		errs = append(errs, "engine: price_update_interval must be positive")
	}
	if c.Engine.MaxAutoExecutions <= 0 {
		errs = append(errs, "engine: max_auto_executions must be positive")
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		errs = append(errs, "postgres: dsn or host is required when enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket is required when enabled")
	}

	for i, v := range c.Venues {
		if v.ID == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: id is required", i))
		}
		switch v.Kind {
		case "wsfeed":
			if v.URL == "" {
				errs = append(errs, fmt.Sprintf("venues[%d]: url is required for wsfeed", i))
			}
		case "sim":
		default:
			errs = append(errs, fmt.Sprintf("venues[%d]: unknown kind %q (valid: wsfeed, sim)", i, v.Kind))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
