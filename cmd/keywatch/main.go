package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newthinker/keywatch/internal/app"
	"github.com/newthinker/keywatch/internal/config"
	"github.com/newthinker/keywatch/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "keywatch",
	Short: "keywatch - cached keyword time series",
	Long: `keywatch fetches keyword time series from rate-limited sources and keeps
them in a local cache, so repeated queries only fetch what is missing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads --config, falling back to defaults, and validates it.
func loadConfig() (*config.Config, error) {
	cfg := config.Defaults()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	opts := logger.Options{
		Development: debug,
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
	}
	if debug {
		opts.Level = "debug"
	}
	return logger.NewWithOptions(opts)
}

// setup loads config, builds the logger and opens the app. The caller
// closes the app and syncs the logger.
func setup() (*config.Config, *app.App, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, nil, fmt.Errorf("creating app: %w", err)
	}
	return cfg, a, log, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (expected RFC 3339 or YYYY-MM-DD)", v)
	}
	return t, nil
}

// parseWindow parses --from and an optional --to (default now).
func parseWindow(from, to string) (time.Time, time.Time, error) {
	start, err := parseTime(from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := time.Now().UTC()
	if to != "" {
		if end, err = parseTime(to); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("end must be after start")
	}
	return start, end, nil
}
