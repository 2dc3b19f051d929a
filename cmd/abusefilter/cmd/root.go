package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/solatis/abusefilter/internal/core/config"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	redisURL   string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "abusefilter",
	Short:        "Rule engine screening user actions before they are committed",
	Long:         `abusefilter evaluates administrator-authored rules against edits, moves, uploads and account creations and applies their consequences.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "", "redis URL for shared counters and caches (empty keeps them in process)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and environment; --db-url and
// --redis-url win over both.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	if err := v.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("db-url")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("redis.url", rootCmd.PersistentFlags().Lookup("redis-url")); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from --log-level and --log-format.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q (expected json or text)", logFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
