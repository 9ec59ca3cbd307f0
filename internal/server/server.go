// Package server exposes the pipeline runner over HTTP: submit a YAML
// definition, then query run status and per-stage results.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pipeweld/internal/core"
)

// runEntry tracks one submitted run.
type runEntry struct {
	runner *core.Runner
}

// Server holds the in-memory run registry. Run execution happens in
// background goroutines; the registry map is the only shared state and is
// guarded by the mutex.
type Server struct {
	mu   sync.Mutex
	runs map[string]*runEntry

	workDir string
	runsDir string
	journal string
	logger  *slog.Logger
}

// New creates a server whose runs execute in workDir and archive under
// runsDir.
func New(workDir, runsDir, journal string, logger *slog.Logger) *Server {
	return &Server{
		runs:    make(map[string]*runEntry),
		workDir: workDir,
		runsDir: runsDir,
		journal: journal,
		logger:  logger,
	}
}

// Routes mounts the API.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/pipelines", s.handleSubmit)
	r.Get("/pipelines", s.handleList)
	r.Get("/pipelines/{id}", s.handleStatus)
	r.Get("/pipelines/{id}/stages", s.handleStages)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit accepts a pipeline definition as YAML, starts it in the
// background and returns the run id immediately.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	pipeline, err := core.ParsePipeline(data)
	if err != nil {
		http.Error(w, "invalid pipeline: "+err.Error(), http.StatusBadRequest)
		return
	}

	cfg := core.NewConfig(pipeline, core.Options{
		WorkDir: s.workDir,
		RunsDir: s.runsDir,
		Journal: s.journal,
		Logger:  s.logger,
	})
	runner, err := core.NewRunner(cfg)
	if err != nil {
		http.Error(w, "starting run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	entry := &runEntry{runner: runner}
	s.mu.Lock()
	s.runs[cfg.RunID] = entry
	s.mu.Unlock()

	// The run outlives the request; detach it from the request context.
	go runner.Run(context.Background())

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     cfg.RunID,
		"state":  string(core.RunPending),
		"status": "accepted",
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type item struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	items := make([]item, 0, len(s.runs))
	for id, entry := range s.runs {
		items = append(items, item{ID: id, State: string(entry.state())})
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entry := s.lookup(w, r)
	if entry == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    chi.URLParam(r, "id"),
		"state": string(entry.state()),
	})
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	entry := s.lookup(w, r)
	if entry == nil {
		return
	}
	result := entry.runner.Result()
	if result == nil {
		http.Error(w, "run not started", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *runEntry {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	entry, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown run", http.StatusNotFound)
		return nil
	}
	return entry
}

func (e *runEntry) state() core.RunState {
	if res := e.runner.Result(); res != nil {
		return res.State
	}
	return core.RunPending
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
