package config

import "fmt"

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Exchange.Name {
	case "bybit":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required for bybit")
		}
	case "paper":
	default:
		return fmt.Errorf("exchange.name must be 'bybit' or 'paper', got %q", c.Exchange.Name)
	}
	if c.Exchange.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("exchange.request_timeout must be positive")
	}

	r := c.Risk
	if r.DefaultThreshold <= 0 {
		return fmt.Errorf("risk.default_threshold must be positive")
	}
	if r.DefaultProfitTarget <= 0 {
		return fmt.Errorf("risk.default_profit_target must be positive")
	}
	if r.DefaultProfitTarget >= r.DefaultThreshold {
		return fmt.Errorf("risk.default_profit_target (%g) must be below risk.default_threshold (%g)",
			r.DefaultProfitTarget, r.DefaultThreshold)
	}
	if r.BreathThreshold < 0 || r.BreathStop < 0 {
		return fmt.Errorf("risk.breath_threshold and risk.breath_stop must not be negative")
	}
	// the stop must not gain on the threshold each ratchet
	if r.BreathStop > r.BreathThreshold {
		return fmt.Errorf("risk.breath_stop (%g) must not exceed risk.breath_threshold (%g)",
			r.BreathStop, r.BreathThreshold)
	}
	if r.ReentryCloseness <= 0 || r.ReentryCloseness > 1 {
		return fmt.Errorf("risk.reentry_closeness must be in (0, 1]")
	}

	if c.Schedule.Interval.Duration <= 0 {
		return fmt.Errorf("schedule.interval must be positive")
	}
	if c.Schedule.FailureBackoff.Duration < 0 {
		return fmt.Errorf("schedule.failure_backoff must not be negative")
	}

	switch c.State.Backend {
	case "file":
		if c.State.Dir == "" {
			return fmt.Errorf("state.dir required for file backend")
		}
	case "sqlite":
		if c.State.DBPath == "" {
			return fmt.Errorf("state.db_path required for sqlite backend")
		}
	case "postgres":
		if c.State.DSN == "" {
			return fmt.Errorf("state.dsn required for postgres backend")
		}
	case "redis":
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr required for redis backend")
		}
	case "memory":
	default:
		return fmt.Errorf("state.backend must be one of file, sqlite, postgres, redis, memory")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv", "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for %s journal", c.Journal.Type)
		}
	default:
		return fmt.Errorf("journal.type must be 'none', 'csv' or 'sqlite'")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr required when metrics are enabled")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}

	if c.Exchange.Name == "paper" {
		if c.Paper.Mode != "hedge" && c.Paper.Mode != "one_way" {
			return fmt.Errorf("paper.mode must be 'hedge' or 'one_way'")
		}
		if c.Paper.Balance <= 0 {
			return fmt.Errorf("paper.balance must be positive")
		}
		markets := make(map[string]bool, len(c.Paper.Markets))
		for _, m := range c.Paper.Markets {
			markets[m.Symbol] = true
		}
		for i, p := range c.Paper.Positions {
			if !markets[p.Symbol] {
				return fmt.Errorf("paper.positions[%d]: unknown market %q", i, p.Symbol)
			}
			if p.Contracts <= 0 || p.Entry <= 0 {
				return fmt.Errorf("paper.positions[%d]: contracts and entry must be positive", i)
			}
		}
	}
	return nil
}
