package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BadgerOps/cvmfs-scraper/internal/config"
	"github.com/BadgerOps/cvmfs-scraper/internal/fetch"
	"github.com/BadgerOps/cvmfs-scraper/pkg/scraper"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string
	globalCfg *config.Config
	logger    = slog.Default()
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cvmfs-scraper",
		Short: "Scrape CVMFS servers for repository state",
		Long: `cvmfs-scraper queries CVMFS Stratum0, Stratum1 and sync servers over
HTTP. For every server it works out which repositories exist, fetches each
repository's manifest and status, and reports a populated record or a
failure per server.`,
		Example: `  cvmfs-scraper scrape
  cvmfs-scraper scrape --server cvmfs-stratum-one.cern.ch --repo software.eessi.io
  cvmfs-scraper scrape --format json --output report.json.zst
  cvmfs-scraper manifest .cvmfspublished
  cvmfs-scraper serve --listen 127.0.0.1:8080`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging(cmd)

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			path := cfgPath
			if path == "" {
				var err error
				path, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if path != "" {
				var err error
				globalCfg, err = config.Load(path)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			logger.Debug("config loaded", "path", path, "servers", len(globalCfg.Servers))
			return nil
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	// Add subcommands
	cmd.AddCommand(
		newScrapeCmd(),
		newValidateCmd(),
		newManifestCmd(),
		newGeoAPICmd(),
		newConfigCmd(),
		newReportCmd(),
		newServeCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging(cmd *cobra.Command) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := cmd.ErrOrStderr()

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":     true,
		"version":  true,
		"manifest": true,
	}
	return skipConfigCmds[cmdName]
}

// scraperOptions builds the scraper options from the loaded config
func scraperOptions(cfg *config.Config) []scraper.Option {
	return []scraper.Option{
		scraper.WithLogger(logger),
		scraper.WithFetcher(fetch.NewClient(cfg.FetchOptions(), logger)),
		scraper.WithConcurrency(cfg.Scrape.Concurrency),
	}
}
