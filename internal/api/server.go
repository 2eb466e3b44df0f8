// Package api implements the HTTP surface from spec §6: domain-scoped
// coordination endpoints wired to the frontier, upload, probe, streaming,
// and reconciliation subsystems, all mutations serialized through a single
// coordinator.Coordinator. Grounded on the teacher's internal/api/server.go
// (chi router, requestID/logging/recover/timeout middleware chain,
// writeJSON/writeError helpers, responseWriter wrapper), retargeted from
// job-dispatch routes to the sink's domain/frontier/upload/probe/runs
// routes.
package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/clock"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/config"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/coordinator"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/idgen"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/metrics"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/routing"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/storecache"
	"github.com/niusealeo/election-result-bfs-crawler-sink/internal/streaming"
)

// Server wires the HTTP surface to the coordination subsystems.
type Server struct {
	router chi.Router

	cfg         config.Config
	logger      *zap.Logger
	coordinator *coordinator.Coordinator
	stores      *storecache.Cache
	streaming   *streaming.Manager
	policy      routing.Policy
	clock       clock.Clock
	ids         idgen.Generator
}

// NewServer builds the router and returns a Server ready to serve. stores
// and streamingMgr must share the same underlying storecache.Cache so a
// finalize and a concurrent upload for the same domain never diverge into
// two independent in-memory snapshots of the same state.json.
func NewServer(cfg config.Config, logger *zap.Logger, co *coordinator.Coordinator, stores *storecache.Cache, streamingMgr *streaming.Manager, policy routing.Policy, clk clock.Clock) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		coordinator: co,
		stores:      stores,
		streaming:   streamingMgr,
		policy:      policy,
		clock:       clk,
		ids:         idgen.New(),
	}

	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(bodyLimitMiddleware(cfg.Upload.MaxBodyBytes))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/health", s.health)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/meta/electorates", func(r chi.Router) {
		r.Post("/", s.upsertElectorates)
		r.Get("/", s.getElectorates)
		r.Post("/reset", s.resetElectorates)
	})

	r.Post("/dedupe/level", s.dedupeLevel)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/start/urls", s.startURLs)
		r.Post("/append/urls", s.appendURLs)
		r.Post("/finalize/urls", s.finalizeURLs)
		r.Post("/chunk/urls", s.chunkURLs)
		r.Post("/chunk/files", s.chunkFiles)
		r.Post("/chunk/files/incomplete", s.chunkFilesIncomplete)
		r.Post("/start/files", s.startFiles)
	})

	r.Post("/upload/file", s.uploadFile)
	r.Post("/probe/meta", s.probeMeta)

	s.router = r
	return s
}

// Handler returns the assembled http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// withLock runs fn under the coordinator's mutation lock and records how
// long the caller waited to acquire it (spec §5's single critical section
// per request); fn's own runtime is not part of the observation.
func (s *Server) withLock(fn func() error) error {
	start := time.Now()
	return s.coordinator.With(func() error {
		metrics.ObserveLockWait(time.Since(start))
		return fn()
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
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

// bodyLimitMiddleware enforces spec §5's request-body cap on every POST,
// rejecting oversized uploads before they reach the hashing/routing path.
func bodyLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = r.URL.Query().Get("api_key")
			}
			if got != expected {
				writeError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
