package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/internal/server"
	"github.com/spf13/cobra"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start a read-only HTTP API. GET /api/scrape scrapes the configured servers
and returns the report as JSON (or text with ?format=text); GET /api/last
returns the previous report; GET /healthz reports liveness.

By default, the server listens on the address configured in the config file
(default: 127.0.0.1:8080). Use --listen to override.`,
		Example: `  cvmfs-scraper serve
  cvmfs-scraper serve --listen 0.0.0.0:9000`,
		Args: cobra.NoArgs,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Serve.Listen
	}

	// Fail at startup rather than on every request.
	s, err := buildServerScraper(globalCfg, scrapeSelection{})
	if err != nil {
		return err
	}
	ready, err := s.Validate()
	if err != nil {
		return err
	}
	logger.Info("server starting", "listen", listen, "servers", len(ready.Servers()))

	srv := server.NewServer(scrapeOnce(globalCfg), logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(listen)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
