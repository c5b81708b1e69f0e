package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// loadDotEnv reads .env from dir and the working directory if present.
// Variables already set in the environment win.
func loadDotEnv(dir string) {
	for _, p := range []string{filepath.Join(dir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// applyEnvOverrides lets operators inject secrets and deployment settings
// without editing the config file. Bare API_KEY and SECRET are accepted for
// older deployments; the TRAILGUARD_ names take precedence.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Exchange.APIKey, "API_KEY")
	setStr(&cfg.Exchange.APISecret, "SECRET")

	setStr(&cfg.Exchange.Name, "TRAILGUARD_EXCHANGE_NAME")
	setStr(&cfg.Exchange.APIKey, "TRAILGUARD_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "TRAILGUARD_EXCHANGE_API_SECRET")
	setBool(&cfg.Exchange.Testnet, "TRAILGUARD_EXCHANGE_TESTNET")
	setStr(&cfg.Exchange.BaseURL, "TRAILGUARD_EXCHANGE_BASE_URL")
	setDuration(&cfg.Exchange.RequestTimeout, "TRAILGUARD_EXCHANGE_REQUEST_TIMEOUT")

	setFloat64(&cfg.Risk.DefaultThreshold, "TRAILGUARD_RISK_DEFAULT_THRESHOLD")
	setFloat64(&cfg.Risk.DefaultProfitTarget, "TRAILGUARD_RISK_DEFAULT_PROFIT_TARGET")
	setBool(&cfg.Risk.ReentryEnabled, "TRAILGUARD_RISK_REENTRY_ENABLED")
	setBool(&cfg.Risk.TrailingEnabled, "TRAILGUARD_RISK_TRAILING_ENABLED")
	setBool(&cfg.Risk.RearmOnCancel, "TRAILGUARD_RISK_REARM_ON_CANCEL")

	setDuration(&cfg.Schedule.Interval, "TRAILGUARD_SCHEDULE_INTERVAL")
	setDuration(&cfg.Schedule.FailureBackoff, "TRAILGUARD_SCHEDULE_FAILURE_BACKOFF")

	setStr(&cfg.State.Backend, "TRAILGUARD_STATE_BACKEND")
	setStr(&cfg.State.Dir, "TRAILGUARD_STATE_DIR")
	setStr(&cfg.State.DBPath, "TRAILGUARD_STATE_DB_PATH")
	setStr(&cfg.State.DSN, "TRAILGUARD_STATE_DSN")
	setStr(&cfg.State.Redis.Addr, "TRAILGUARD_REDIS_ADDR")
	setStr(&cfg.State.Redis.Password, "TRAILGUARD_REDIS_PASSWORD")
	setInt(&cfg.State.Redis.DB, "TRAILGUARD_REDIS_DB")

	setStr(&cfg.Journal.Type, "TRAILGUARD_JOURNAL_TYPE")
	setStr(&cfg.Journal.Path, "TRAILGUARD_JOURNAL_PATH")

	setBool(&cfg.Metrics.Enabled, "TRAILGUARD_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "TRAILGUARD_METRICS_ADDR")

	setStr(&cfg.Log.Level, "TRAILGUARD_LOG_LEVEL")
	setStr(&cfg.Log.Format, "TRAILGUARD_LOG_FORMAT")
}

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

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
