// Package server provides the HTTP control plane for the cascade pipeline.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/pipeline"
	"github.com/jonathan/cascade/internal/scheduler"
	"github.com/jonathan/cascade/internal/stage"
	"github.com/jonathan/cascade/internal/store"
)

// Server represents the HTTP control plane
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux

	store    store.Store
	registry *stage.Registry
	exec     *pipeline.Executor
	queue    *pipeline.Queue
	bandit   *scheduler.Bandit
	cfg      *config.Config
}

// Deps bundles the services the server fronts.
type Deps struct {
	Store    store.Store
	Registry *stage.Registry
	Exec     *pipeline.Executor
	Queue    *pipeline.Queue
	Bandit   *scheduler.Bandit
}

// New creates a new server instance
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("server requires a store")
	}

	s := &Server{
		store:    deps.Store,
		registry: deps.Registry,
		exec:     deps.Exec,
		queue:    deps.Queue,
		bandit:   deps.Bandit,
		cfg:      cfg,
	}

	mux := http.NewServeMux()

	// Recording lifecycle
	mux.HandleFunc("POST /recordings", s.handleCreateRecording)
	mux.HandleFunc("GET /recordings", s.handleListRecordings)
	mux.HandleFunc("GET /recordings/{id}", s.handleGetRecording)
	mux.HandleFunc("POST /recordings/{id}/run", s.handleRun)
	mux.HandleFunc("POST /recordings/{id}/run/stream", s.handleRunStream)
	mux.HandleFunc("POST /recordings/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /recordings/{id}/approve", s.handleApprove)

	// External inputs and overrides
	mux.HandleFunc("PUT /recordings/{id}/crop", s.handleSupplyCrop)
	mux.HandleFunc("POST /recordings/{id}/stages/{stage}/rerun", s.handleRerunStage)
	mux.HandleFunc("POST /recordings/{id}/clips/{clip_id}/review", s.handleReviewClip)

	// Artifacts and history
	mux.HandleFunc("GET /recordings/{id}/artifacts/{name}", s.handleGetArtifact)
	mux.HandleFunc("GET /recordings/{id}/runs", s.handleListStageRuns)

	// Scheduler state
	mux.HandleFunc("GET /schedule/best", s.handleBestSchedule)
	mux.HandleFunc("GET /arms", s.handleListArms)
	mux.HandleFunc("POST /arms/reset", s.handleResetArms)
	mux.HandleFunc("GET /weights", s.handleGetWeights)

	mux.HandleFunc("GET /health", s.handleHealth)

	s.mux = mux
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for streaming runs
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the route handler without middleware; tests use it with
// httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins listening for requests
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.queue != nil {
		if err := s.queue.Shutdown(ctx); err != nil {
			return fmt.Errorf("queue shutdown failed: %w", err)
		}
	}

	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFor maps a typed error onto its HTTP status and writes it
func (s *Server) errorFor(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}
