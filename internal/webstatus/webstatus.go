// Package webstatus implements the optional read-only status HTTP server
// (SPEC_FULL.md's "Status server" addition): a minimal go-chi router,
// structurally grounded on the reference implementation's web server/
// router pair, exposing liveness and the most recent run's report. It is
// strictly an observer of Orchestrator state and never drives the
// pipeline.
package webstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mirahollis/classphoto-organizer/internal/orchestrator"
)

// RunObserver is the subset of *orchestrator.Orchestrator the status
// server needs: read-only access to the most recent run.
type RunObserver interface {
	LastRun() orchestrator.Run
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
}

// NewServer builds a Server bound to addr, backed by observer.
func NewServer(addr string, observer RunObserver, backendEngine, backendModel string) *Server {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", healthz)
	r.Get("/api/v1/status", statusHandler(observer, backendEngine, backendModel))

	return &Server{
		router: r,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Router exposes the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webstatus: starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("webstatus: shutting down: %w", err)
	}
	return nil
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statusResponse struct {
	InProgress    bool       `json:"in_progress"`
	RunID         string     `json:"run_id,omitempty"`
	StartedAt     time.Time  `json:"started_at,omitempty"`
	FinishedAt    time.Time  `json:"finished_at,omitempty"`
	ExitCode      int        `json:"exit_code"`
	BackendEngine string     `json:"backend_engine"`
	BackendModel  string     `json:"backend_model"`
	Report        *runReport `json:"report,omitempty"`
}

type runReport struct {
	SuccessCount      int            `json:"success_count"`
	NoFaceCount       int            `json:"no_face_count"`
	ErrorCount        int            `json:"error_count"`
	PersonMatchCounts map[string]int `json:"person_match_counts"`
	ClusterSizes      map[string]int `json:"cluster_sizes"`
	UnlabeledCount    int            `json:"unlabeled_count"`
	FellBackToSerial  bool           `json:"fell_back_to_serial"`
}

func statusHandler(observer RunObserver, engine, model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run := observer.LastRun()
		resp := statusResponse{
			InProgress:    run.InProgress,
			RunID:         run.RunID,
			StartedAt:     run.StartedAt,
			FinishedAt:    run.FinishedAt,
			ExitCode:      run.ExitCode,
			BackendEngine: engine,
			BackendModel:  model,
		}
		if run.RunID != "" && !run.InProgress {
			resp.Report = &runReport{
				SuccessCount:      run.Report.SuccessCount,
				NoFaceCount:       run.Report.NoFaceCount,
				ErrorCount:        run.Report.ErrorCount,
				PersonMatchCounts: run.Report.PersonMatchCounts,
				ClusterSizes:      run.Report.ClusterSizes,
				UnlabeledCount:    run.Report.UnlabeledCount,
				FellBackToSerial:  run.Report.FellBackToSerial,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
