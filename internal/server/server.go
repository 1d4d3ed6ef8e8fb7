package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/semaphore"

	"github.com/cwbudde/pixelmatch/internal/match"
	"github.com/cwbudde/pixelmatch/internal/store"
)

// Config configures a Server.
type Config struct {
	Addr string
	// Store persists finished jobs as reports. Nil keeps results in memory only.
	Store store.Store
	// MaxConcurrent caps simultaneous comparisons; <= 0 means GOMAXPROCS.
	MaxConcurrent int
	// Workers is the goroutine count per comparison; <= 0 means GOMAXPROCS.
	Workers int
	// Root confines job file paths to this directory. Relative job paths are
	// resolved against it. Empty accepts any server-local path.
	Root string
}

// Server is the comparison HTTP service
type Server struct {
	jobs    *JobManager
	store   store.Store
	metrics *Metrics
	sem     *semaphore.Weighted
	workers int
	root    string

	addr   string
	server *http.Server

	// ctx is the parent of all background jobs; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new HTTP server
func NewServer(cfg Config) *Server {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	root := cfg.Root
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		jobs:    NewJobManager(),
		store:   cfg.Store,
		metrics: NewMetrics(),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		workers: cfg.Workers,
		root:    root,
		addr:    cfg.Addr,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the service's routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware, s.corsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/compare", s.handleCompare)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Get("/{id}/diff.png", s.handleGetDiffImage)
			r.Get("/{id}/events", s.handleJobStream)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels pending jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancel()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.metrics.inFlight.Inc()
	return nil
}

func (s *Server) release() {
	s.metrics.inFlight.Dec()
	s.sem.Release(1)
}

// jobRequest is the body of POST /api/v1/jobs
type jobRequest struct {
	Baseline  string        `json:"baseline"`
	Candidate string        `json:"candidate"`
	Options   match.Options `json:"options"`
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req := jobRequest{Options: match.DefaultOptions()}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if req.Baseline == "" || req.Candidate == "" {
		http.Error(w, "baseline and candidate are required", http.StatusBadRequest)
		return
	}
	if err := req.Options.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.Baseline, err = s.resolvePath(req.Baseline); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if req.Candidate, err = s.resolvePath(req.Candidate); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	job := s.jobs.CreateJob(JobConfig(req))

	go func() {
		if err := s.runJob(s.ctx, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusCreated, job)
}

// resolvePath maps a job path into the configured root. Relative paths are
// joined to the root; the cleaned result must not leave it.
func (s *Server) resolvePath(path string) (string, error) {
	if s.root == "" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the server root", path)
	}
	return path, nil
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.ListJobs())
}

// handleGetJob handles GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, exists := s.jobs.GetJob(chi.URLParam(r, "id"))
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleGetDiffImage handles GET /api/v1/jobs/{id}/diff.png
func (s *Server) handleGetDiffImage(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, exists := s.jobs.GetJob(jobID)
	if exists && job.diff != nil {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, job.diff); err != nil {
			slog.Error("Failed to encode PNG", "error", err)
		}
		return
	}

	// reports from earlier server runs only exist in the store
	if s.store != nil {
		if _, err := s.store.LoadReport(jobID); err == nil {
			if _, err := os.Stat(s.store.DiffPath(jobID)); err == nil {
				w.Header().Set("Content-Type", "image/png")
				http.ServeFile(w, r, s.store.DiffPath(jobID))
				return
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to load report", "job_id", jobID, "error", err)
		}
	}

	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	http.Error(w, "No results yet", http.StatusNotFound)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   s.jobs.CountByState(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
