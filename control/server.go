// Package control is the operator's HTTP surface over running jobs: list
// them, resume one parked on a login wall, cancel one, and scrape metrics.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hazyhaar/applyflow/journal"
	"github.com/hazyhaar/applyflow/pipeline"
)

// Jobs is the running-job registry. *pipeline.Controls implements it.
type Jobs interface {
	List() []pipeline.JobState
	Resume(jobID string) error
	Cancel(jobID string) error
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Default: "127.0.0.1:8090".
	Addr     string
	Controls Jobs
	// Journal, when set, backs GET /journal/stats.
	Journal *journal.Journal
	// Gatherer serves /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// MaxBodyBytes caps request bodies. Default: 64 KiB.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8090"
	}
	if c.Controls == nil {
		c.Controls = pipeline.NewControls()
	}
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Server routes control requests.
type Server struct {
	cfg    Config
	router chi.Router
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	s := &Server{cfg: cfg}
	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, maxBody(cfg.MaxBodyBytes), traceRequests(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Post("/{id}/resume", s.resume)
		r.Post("/{id}/cancel", s.cancel)
	})
	r.Get("/journal/stats", s.journalStats)
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.cfg.Logger.Info("control: listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Controls.List())
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Controls.Resume(id); err != nil {
		s.controlError(w, r, id, err)
		return
	}
	loggerFrom(r.Context(), s.cfg.Logger).Info("control: job resumed", zap.String("job_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "resumed"})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.cfg.Controls.Cancel(id); err != nil {
		s.controlError(w, r, id, err)
		return
	}
	loggerFrom(r.Context(), s.cfg.Logger).Info("control: job cancelled", zap.String("job_id", id))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

func (s *Server) journalStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal not configured"})
		return
	}
	st, err := s.cfg.Journal.Stats(r.Context())
	if err != nil {
		loggerFrom(r.Context(), s.cfg.Logger).Warn("control: journal stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) controlError(w http.ResponseWriter, r *http.Request, id string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrUnknownJob):
		status = http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotParked):
		status = http.StatusConflict
	}
	loggerFrom(r.Context(), s.cfg.Logger).Info("control: request refused",
		zap.String("job_id", id), zap.Error(err))
	writeJSON(w, status, map[string]string{"job_id": id, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
