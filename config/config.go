// Package config loads trailguard settings from YAML, JSON or TOML, then
// layers .env and TRAILGUARD_* environment overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Exchange ExchangeConfig `json:"exchange" yaml:"exchange" toml:"exchange"`
	Risk     RiskConfig     `json:"risk" yaml:"risk" toml:"risk"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule" toml:"schedule"`
	State    StateConfig    `json:"state" yaml:"state" toml:"state"`
	Journal  JournalConfig  `json:"journal" yaml:"journal" toml:"journal"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" toml:"metrics"`
	Log      LogConfig      `json:"log" yaml:"log" toml:"log"`
	Paper    PaperConfig    `json:"paper" yaml:"paper" toml:"paper"`
}

// ExchangeConfig selects the venue and its credentials.
type ExchangeConfig struct {
	Name           string   `json:"name" yaml:"name" toml:"name"` // "bybit" or "paper"
	APIKey         string   `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key"`
	APISecret      string   `json:"api_secret,omitempty" yaml:"api_secret,omitempty" toml:"api_secret"`
	Testnet        bool     `json:"testnet" yaml:"testnet" toml:"testnet"`
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	Quote          string   `json:"quote" yaml:"quote" toml:"quote"`
	Category       string   `json:"category" yaml:"category" toml:"category"`
}

// RiskConfig mirrors the engine policy.
type RiskConfig struct {
	DefaultThreshold    float64 `json:"default_threshold" yaml:"default_threshold" toml:"default_threshold"`
	DefaultProfitTarget float64 `json:"default_profit_target" yaml:"default_profit_target" toml:"default_profit_target"`
	BreathThreshold     float64 `json:"breath_threshold" yaml:"breath_threshold" toml:"breath_threshold"`
	BreathStop          float64 `json:"breath_stop" yaml:"breath_stop" toml:"breath_stop"`
	ReentryCloseness    float64 `json:"reentry_closeness" yaml:"reentry_closeness" toml:"reentry_closeness"`
	ReentryEnabled      bool    `json:"reentry_enabled" yaml:"reentry_enabled" toml:"reentry_enabled"`
	TrailingEnabled     bool    `json:"trailing_enabled" yaml:"trailing_enabled" toml:"trailing_enabled"`
	RearmOnCancel       bool    `json:"rearm_on_cancel" yaml:"rearm_on_cancel" toml:"rearm_on_cancel"`
}

type ScheduleConfig struct {
	Interval       Duration `json:"interval" yaml:"interval" toml:"interval"`
	FailureBackoff Duration `json:"failure_backoff" yaml:"failure_backoff" toml:"failure_backoff"`
}

// StateConfig picks the trailing-state backend.
type StateConfig struct {
	Backend string      `json:"backend" yaml:"backend" toml:"backend"` // file|sqlite|postgres|redis|memory
	Dir     string      `json:"dir,omitempty" yaml:"dir,omitempty" toml:"dir"`
	DBPath  string      `json:"db_path,omitempty" yaml:"db_path,omitempty" toml:"db_path"`
	DSN     string      `json:"dsn,omitempty" yaml:"dsn,omitempty" toml:"dsn"`
	Redis   RedisConfig `json:"redis" yaml:"redis" toml:"redis"`
}

type RedisConfig struct {
	Addr       string `json:"addr,omitempty" yaml:"addr,omitempty" toml:"addr"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty" toml:"password"`
	DB         int    `json:"db" yaml:"db" toml:"db"`
	TLSEnabled bool   `json:"tls_enabled" yaml:"tls_enabled" toml:"tls_enabled"`
	Prefix     string `json:"prefix" yaml:"prefix" toml:"prefix"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Type string `json:"type" yaml:"type" toml:"type"` // "none", "csv" or "sqlite"
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path"`
}

type MetricsConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr       string   `json:"addr" yaml:"addr" toml:"addr"`
	MaxTickAge Duration `json:"max_tick_age" yaml:"max_tick_age" toml:"max_tick_age"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`   // debug|info|warn|error
	Format string `json:"format" yaml:"format" toml:"format"` // text|json
}

// PaperConfig seeds the simulated exchange used for dry runs.
type PaperConfig struct {
	Mode                    string          `json:"mode" yaml:"mode" toml:"mode"` // hedge|one_way
	Balance                 float64         `json:"balance" yaml:"balance" toml:"balance"`
	MaintenanceMargin       float64         `json:"maintenance_margin,omitempty" yaml:"maintenance_margin,omitempty" toml:"maintenance_margin"`
	CancelNeedsPositionSide bool            `json:"cancel_needs_position_side" yaml:"cancel_needs_position_side" toml:"cancel_needs_position_side"`
	Markets                 []PaperMarket   `json:"markets,omitempty" yaml:"markets,omitempty" toml:"markets"`
	Positions               []PaperPosition `json:"positions,omitempty" yaml:"positions,omitempty" toml:"positions"`
	// Steps is the price path: each step sets marks by symbol, then ticks.
	Steps []map[string]float64 `json:"steps,omitempty" yaml:"steps,omitempty" toml:"steps"`
}

type PaperMarket struct {
	Symbol          string  `json:"symbol" yaml:"symbol" toml:"symbol"`
	Base            string  `json:"base" yaml:"base" toml:"base"`
	Quote           string  `json:"quote" yaml:"quote" toml:"quote"`
	AmountIncrement float64 `json:"amount_increment" yaml:"amount_increment" toml:"amount_increment"`
	PriceIncrement  float64 `json:"price_increment" yaml:"price_increment" toml:"price_increment"`
	MinAmount       float64 `json:"min_amount" yaml:"min_amount" toml:"min_amount"`
}

type PaperPosition struct {
	Symbol    string  `json:"symbol" yaml:"symbol" toml:"symbol"`
	Side      string  `json:"side" yaml:"side" toml:"side"`
	Contracts float64 `json:"contracts" yaml:"contracts" toml:"contracts"`
	Entry     float64 `json:"entry" yaml:"entry" toml:"entry"`
	Leverage  float64 `json:"leverage" yaml:"leverage" toml:"leverage"`
}

// Duration reads "10s"-style strings from every supported format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name:           "bybit",
			RequestTimeout: Duration{10 * time.Second},
			Quote:          "USDT",
			Category:       "linear",
		},
		Risk: RiskConfig{
			DefaultThreshold:    0.10,
			DefaultProfitTarget: 0.01,
			BreathThreshold:     0.10,
			BreathStop:          0.10,
			ReentryCloseness:    0.80,
			ReentryEnabled:      true,
			TrailingEnabled:     true,
		},
		Schedule: ScheduleConfig{
			Interval:       Duration{10 * time.Second},
			FailureBackoff: Duration{10 * time.Second},
		},
		State: StateConfig{
			Backend: "file",
			Dir:     "./trailProfit",
			DBPath:  "./trailguard.db",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "trailguard:"},
		},
		Journal: JournalConfig{
			Type: "sqlite",
			Path: "./journal.db",
		},
		Metrics: MetricsConfig{
			Addr:       ":9102",
			MaxTickAge: Duration{2 * time.Minute},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Paper: PaperConfig{
			Mode:    "hedge",
			Balance: 10000,
		},
	}
}

// LoadFromFile reads path over the defaults, applies environment overrides
// and validates the result. TOML is chosen by extension; anything else is
// tried as YAML first, then JSON.
func LoadFromFile(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load is LoadFromFile without validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config (TOML): %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}

	loadDotEnv(filepath.Dir(path))
	applyEnvOverrides(cfg)
	return cfg, nil
}

// SaveToFile writes the configuration in the format implied by the file
// extension: .yaml/.yml, .toml, otherwise JSON.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch {
	case isYAML(path):
		data, err = yaml.Marshal(c)
	case isTOML(path):
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(c)
		data = []byte(b.String())
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isTOML(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".toml"
}
