// Package server exposes the operational HTTP endpoints: health, cycle
// trigger, stop, and a summary report.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Controller is the scrape-cycle surface the server drives.
type Controller interface {
	Run(ctx context.Context) (int, error)
	RequestStop()
	IsRunning() bool
}

// Sweeper triggers the follow-health pass.
type Sweeper interface {
	Run(ctx context.Context) error
}

// Stats reports store counters for the summary endpoint.
type Stats interface {
	Stats(ctx context.Context) (total, newToday int, err error)
}

// Server handles HTTP requests.
type Server struct {
	controller Controller
	sweeper    Sweeper
	stats      Stats
	logger     *slog.Logger
}

// Config holds server dependencies.
type Config struct {
	Controller Controller
	Sweeper    Sweeper
	Stats      Stats
	Logger     *slog.Logger
}

// New creates the HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		controller: cfg.Controller,
		sweeper:    cfg.Sweeper,
		stats:      cfg.Stats,
		logger:     cfg.Logger,
	}
}

// ListenAndServe registers all routes and serves on the given port.
func (s *Server) ListenAndServe(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/scanz", s.handleScan)
	mux.HandleFunc("/sweepz", s.handleSweep)
	mux.HandleFunc("/stopz", s.handleStop)
	mux.HandleFunc("/statz", s.handleStats)

	// Timeouts prevent resource exhaustion from slow clients.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleScan starts a scrape cycle in the background. A trigger while one is
// running is rejected, not queued.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.controller.IsRunning() {
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}

	s.logger.Info("Scan endpoint triggered")
	go func() {
		// Detached from the request context; the cycle outlives the request.
		newAds, err := s.controller.Run(context.Background())
		if err != nil {
			s.logger.Error("Scrape cycle failed", "error", err)
			return
		}
		s.logger.Info("Scrape cycle report", "new_ads", newAds)
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Sweep endpoint triggered")
	go func() {
		if err := s.sweeper.Run(context.Background()); err != nil {
			s.logger.Error("Follow-health sweep failed", "error", err)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Stop endpoint triggered")
	s.controller.RequestStop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stop_requested"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	total, newToday, err := s.stats.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to read stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"total_ads":    total,
		"new_today":    newToday,
		"cycle_active": s.controller.IsRunning(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
