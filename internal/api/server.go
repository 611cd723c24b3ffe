// Package api exposes the HTTP interface for triggering and inspecting sync
// runs.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/postsync/internal/config"
	"github.com/JakeFAU/postsync/internal/ingest"
	"github.com/JakeFAU/postsync/internal/metrics"
	"github.com/JakeFAU/postsync/internal/orchestrator"
)

// Runner is the sync run surface the API drives.
type Runner interface {
	Run(ctx context.Context, store ingest.Store) (orchestrator.Report, error)
	Last() (orchestrator.Report, bool)
	Running() bool
}

// Server wires HTTP handlers to the runner and the document store.
type Server struct {
	router   chi.Router
	runner   Runner
	store    ingest.Store
	cfg      config.Config
	logger   *zap.Logger
	runCtx   context.Context
	inflight atomic.Bool
	runs     chan struct{}
}

// NewServer constructs a Server with middleware and routes. Runs started
// over HTTP outlive their request and are canceled with ctx.
func NewServer(
	ctx context.Context,
	runner Runner,
	store ingest.Store,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: runner,
		store:  store,
		cfg:    cfg,
		logger: logger,
		runCtx: ctx,
		runs:   make(chan struct{}, 1),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/runs", s.triggerRun)
		r.Get("/runs/last", s.lastRun)
		r.Get("/checkpoint", s.checkpoint)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Finished delivers a value each time a run started over HTTP returns.
func (s *Server) Finished() <-chan struct{} {
	return s.runs
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, _, err := s.store.Checkpoint(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// triggerRun starts a run in the background. ?wait=true runs it inside the
// request and returns the report.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	if s.runner.Running() || !s.inflight.CompareAndSwap(false, true) {
		s.writeError(w, http.StatusConflict, orchestrator.ErrRunInProgress.Error())
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		defer s.inflight.Store(false)
		report, err := s.runner.Run(r.Context(), s.store)
		switch {
		case errors.Is(err, orchestrator.ErrRunInProgress):
			s.writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		default:
			s.writeJSON(w, http.StatusOK, report)
		}
		return
	}

	go func() {
		defer func() {
			s.inflight.Store(false)
			select {
			case s.runs <- struct{}{}:
			default:
			}
		}()
		if _, err := s.runner.Run(s.runCtx, s.store); err != nil {
			s.logger.Error("triggered run failed", zap.Error(err))
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) lastRun(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.runner.Last()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) checkpoint(w http.ResponseWriter, r *http.Request) {
	ts, ok, err := s.store.Checkpoint(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "checkpoint read failed")
		return
	}
	if !ok {
		s.writeError(w, http.StatusNotFound, "no checkpoint recorded")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]time.Time{"checkpoint": ts})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id requestIDMiddleware stored on ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
