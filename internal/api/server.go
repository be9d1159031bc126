package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/follower"
	"github.com/JakeFAU/depfollow/internal/metrics"
	"github.com/JakeFAU/depfollow/internal/progress/sinks"
)

const storeTimeout = 3 * time.Second

// Readiness reports whether the follower loop is active.
type Readiness interface {
	Running() bool
}

// Server wires HTTP handlers to the follower's store and progress feed.
type Server struct {
	router  chi.Router
	store   follower.Store
	ready   Readiness
	events  *sinks.RecentSink
	timeout time.Duration
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready and events
// may be nil; /readyz then reports not ready and /v1/events is unavailable.
func NewServer(store follower.Store, ready Readiness, events *sinks.RecentSink, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		store:   store,
		ready:   ready,
		events:  events,
		timeout: storeTimeout,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/checkpoint", s.getCheckpoint)
		r.Get("/dependencies/{name}/{version}", s.getDependencies)
		r.Get("/events", s.listEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready == nil || !s.ready.Running() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	seq, found, err := follower.ReadCheckpoint(ctx, s.store)
	if err != nil {
		s.logger.Error("read checkpoint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequence": seq, "found": found})
}

// getDependencies returns the stored dependency JSON verbatim. Scoped names
// must be sent percent-encoded, e.g. /v1/dependencies/%40scope%2Fpkg/1.0.0.
func (s *Server) getDependencies(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		writeError(w, http.StatusBadRequest, "invalid package name")
		return
	}
	version, err := url.PathUnescape(chi.URLParam(r, "version"))
	if err != nil || version == "" {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	raw, err := s.store.Get(ctx, follower.DependencyKey(name, version))
	if err != nil {
		if errors.Is(err, follower.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dependencies not found")
			return
		}
		s.logger.Error("get dependencies failed",
			zap.String("package", name), zap.String("version", version), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load dependencies")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		s.logger.Debug("write dependencies failed", zap.Error(err))
	}
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

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
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

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
