package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BadgerOps/cvmfs-scraper/internal/report"
	"github.com/BadgerOps/cvmfs-scraper/pkg/scraper"
)

// ScrapeFunc runs one scrape of the configured servers and returns the run
// id with the results.
type ScrapeFunc func(ctx context.Context) (string, []scraper.ScrapedServer, error)

// Server represents the read-only HTTP API.
type Server struct {
	scrape ScrapeFunc
	logger *slog.Logger

	srvMu      sync.Mutex
	httpServer *http.Server
	closed     bool

	// running serializes scrapes; a request arriving during a scrape is
	// refused rather than queued.
	running sync.Mutex

	mu   sync.Mutex
	last *report.Report
}

// NewServer creates a new Server instance.
func NewServer(scrape ScrapeFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scrape: scrape,
		logger: logger,
	}
}

// Start starts the HTTP server on the given listen address.
// It returns nil without listening if Shutdown has already been called.
func (s *Server) Start(listenAddr string) error {
	s.srvMu.Lock()
	if s.closed {
		s.srvMu.Unlock()
		return nil
	}
	hs := &http.Server{
		Addr:        listenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// A scrape of many servers can take minutes.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	s.httpServer = hs
	s.srvMu.Unlock()

	s.logger.Info("starting HTTP server", "addr", listenAddr)
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.srvMu.Lock()
	s.closed = true
	hs := s.httpServer
	s.srvMu.Unlock()

	if hs == nil {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	return hs.Shutdown(ctx)
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/scrape", s.handleAPIScrape)
	mux.HandleFunc("GET /api/last", s.handleAPILast)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// handleAPIScrape runs a scrape and returns the report. format=text
// returns the plain table instead of JSON.
func (s *Server) handleAPIScrape(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "json" && format != "text" {
		jsonError(w, http.StatusBadRequest, "format must be json or text")
		return
	}

	if !s.running.TryLock() {
		jsonError(w, http.StatusConflict, "a scrape is already running")
		return
	}
	defer s.running.Unlock()

	start := time.Now()
	runID, results, err := s.scrape(r.Context())
	if err != nil && results == nil {
		s.logger.Error("scrape failed", "error", err)
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rep := report.New(runID, results)
	s.logger.Info("scrape served",
		"run_id", runID,
		"servers", rep.Summary.Servers,
		"failed_servers", rep.Summary.FailedServers,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	s.writeReport(w, rep, format)
}

// handleAPILast returns the most recent report without scraping.
func (s *Server) handleAPILast(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rep := s.last
	s.mu.Unlock()

	if rep == nil {
		jsonError(w, http.StatusNotFound, "no scrape has run yet")
		return
	}
	s.writeReport(w, rep, r.URL.Query().Get("format"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		s.logger.Error("failed to encode health response", "error", err)
	}
}

func (s *Server) writeReport(w http.ResponseWriter, rep *report.Report, format string) {
	if format == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteText(w, rep); err != nil {
			s.logger.Error("failed to write text report", "error", err)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.WriteJSON(w, rep); err != nil {
		s.logger.Error("failed to encode scrape response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
