// Package cmd is the trailguard command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/trailguard/config"
)

var rootCmd = &cobra.Command{
	Use:   "trailguard",
	Short: "Trailing-stop and liquidation guard for leveraged derivatives positions",
	Long: `Trailguard watches open perpetual futures positions and manages their risk.

On every tick it:
  - ratchets a reduce-only stop up behind profitable positions
  - tracks whether that stop filled or was canceled
  - adds to a position whose mark is close to liquidation
  - forgets trailing state for positions that are gone

State is kept per (symbol, side) in a file, sqlite, postgres or redis store.`,
	SilenceUsage: true,
}

var configPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "file", "f", "trailguard.yaml", "path to config file (YAML, JSON or TOML)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func setupLogger(cfg *config.Config) *slog.Logger {
	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	return logger
}
