// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the fusion-engine CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/fusion-engine/internal/cache"
	"github.com/pdiddy/fusion-engine/internal/config"
	"github.com/pdiddy/fusion-engine/internal/engine"
	"github.com/pdiddy/fusion-engine/internal/provider"
	"github.com/pdiddy/fusion-engine/internal/secrets"
	"github.com/pdiddy/fusion-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets *secrets.Store

var logger = zerolog.Nop()

// rootCmd is the base command for the fusion-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "fusion-engine",
	Short: "Fuse market data from multiple providers into one record",
	Long: `fusion-engine asks several market data providers for the same entity,
scores every answer, reconciles disagreements, and caches the fused record.

Providers, tools, and fusion settings come from fusion-engine.yaml. API keys
are read from .secrets/<provider-id>-api-key, or the file a provider names
in api_key_secret.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(viper.GetString("log_level"))
		cmd.SetContext(withLogger(cmd.Context(), logger))

		s, err := secrets.Load(".secrets/", logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if names := s.Names(); len(names) > 0 {
			logger.Debug().Strs("secrets", names).Msg("loaded secrets")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./fusion-engine.yaml or ~/.config/fusion-engine/config.yaml)")
	flags.String("redis-url", "", "use a Redis shared cache tier at this URL")
	flags.String("sqlite-path", "", "use a SQLite shared cache tier at this path")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("redis_url", flags.Lookup("redis-url"))
	_ = viper.BindPFlag("sqlite_path", flags.Lookup("sqlite-path"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("fusion-engine")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "fusion-engine"))
		}
	}

	viper.SetEnvPrefix("FUSION_ENGINE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// loadConfig reads the config file found by viper and applies the flag and
// environment overrides for the shared cache tier.
func loadConfig() (types.EngineConfig, string, error) {
	path := viper.ConfigFileUsed()
	if path == "" {
		return types.EngineConfig{}, "", fmt.Errorf("no config file: create fusion-engine.yaml or pass --config")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return types.EngineConfig{}, "", err
	}
	applyOverrides(&cfg, viper.GetString("redis_url"), viper.GetString("sqlite_path"))
	if err := config.Validate(cfg); err != nil {
		return types.EngineConfig{}, "", err
	}
	return cfg, filepath.Dir(path), nil
}

func applyOverrides(cfg *types.EngineConfig, redisURL, sqlitePath string) {
	switch {
	case redisURL != "":
		cfg.Cache.Shared = types.SharedRedis
		cfg.Cache.RedisURL = redisURL
	case sqlitePath != "":
		cfg.Cache.Shared = types.SharedSQLite
		cfg.Cache.SQLitePath = sqlitePath
	}
}

// withLogger attaches log to ctx so packages logging through zerolog.Ctx,
// such as the HTTP retry loop, write to the CLI's logger.
func withLogger(ctx context.Context, log zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return log.WithContext(ctx)
}

// buildEngine wires an engine from configuration. The caller owns Close.
func buildEngine(ctx context.Context) (*engine.Engine, error) {
	cfg, baseDir, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newEngine(ctx, cfg, baseDir, loadedSecrets, logger)
}

func newEngine(ctx context.Context, cfg types.EngineConfig, baseDir string, keys *secrets.Store, log zerolog.Logger) (*engine.Engine, error) {
	if missing := keys.Missing(cfg.Providers); len(missing) > 0 {
		log.Warn().Strs("providers", missing).Msg("API keys not found; requests will be sent without them")
	}
	providers, err := provider.BuildAll(cfg.Providers, baseDir, keys, &http.Client{})
	if err != nil {
		return nil, err
	}
	shared, err := cache.OpenShared(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(cfg, providers, shared, log)
	if err != nil {
		if shared != nil {
			shared.Close()
		}
		return nil, err
	}
	return e, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
