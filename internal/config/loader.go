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
// built-in defaults, applies ARBX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBX_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.MinProfitThreshold, "ARBX_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MaxProfitThreshold, "ARBX_ARBITRAGE_MAX_PROFIT_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MinVolumeThreshold, "ARBX_ARBITRAGE_MIN_VOLUME_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MaxLatencyMs, "ARBX_ARBITRAGE_MAX_LATENCY_MS")
	setDuration(&cfg.Arbitrage.OpportunityExpiry, "ARBX_ARBITRAGE_OPPORTUNITY_EXPIRY")
	setStrSlice(&cfg.Arbitrage.Symbols, "ARBX_ARBITRAGE_SYMBOLS")

	// ── Execution ──
	setBool(&cfg.Execution.AutoExecute, "ARBX_EXECUTION_AUTO_EXECUTE")
	setInt(&cfg.Execution.MaxConcurrentArbitrages, "ARBX_EXECUTION_MAX_CONCURRENT_ARBITRAGES")
	setFloat64(&cfg.Execution.MaxPositionSize, "ARBX_EXECUTION_MAX_POSITION_SIZE")
	setFloat64(&cfg.Execution.MaxDailyVolume, "ARBX_EXECUTION_MAX_DAILY_VOLUME")
	setFloat64(&cfg.Execution.RiskBudgetPerTrade, "ARBX_EXECUTION_RISK_BUDGET_PER_TRADE")
	setDuration(&cfg.Execution.ExecutionTimeout, "ARBX_EXECUTION_TIMEOUT")

	// ── Registry ──
	setInt(&cfg.Registry.MaxVenues, "ARBX_REGISTRY_MAX_VENUES")
	setDuration(&cfg.Registry.HealthCheckInterval, "ARBX_REGISTRY_HEALTH_CHECK_INTERVAL")
	setDuration(&cfg.Registry.PortfolioTTL, "ARBX_REGISTRY_PORTFOLIO_TTL")
	setDuration(&cfg.Registry.RequestTimeout, "ARBX_REGISTRY_REQUEST_TIMEOUT")
	setStr(&cfg.Registry.Routing, "ARBX_REGISTRY_ROUTING")
	setStr(&cfg.Registry.FixedVenue, "ARBX_REGISTRY_FIXED_VENUE")

	// ── Engine ──
	setDuration(&cfg.Engine.PriceUpdateInterval, "ARBX_ENGINE_PRICE_UPDATE_INTERVAL")
	setDuration(&cfg.Engine.PerformanceReviewInterval, "ARBX_ENGINE_PERFORMANCE_REVIEW_INTERVAL")
	setFloat64(&cfg.Engine.AlertSpreadPercent, "ARBX_ENGINE_ALERT_SPREAD_PERCENT")
	setFloat64(&cfg.Engine.AlertVolume, "ARBX_ENGINE_ALERT_VOLUME")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBX_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBX_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "ARBX_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBX_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBX_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ARBX_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBX_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBX_S3_SECRET_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBX_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARBX_MODE")
	setStr(&cfg.LogLevel, "ARBX_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
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
