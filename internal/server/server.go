// Package server provides the HTTP API for the Belongings Hub.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/umt-belongings/hub/internal/config"
	"github.com/umt-belongings/hub/internal/indexer"
	"github.com/umt-belongings/hub/internal/metrics"
	"github.com/umt-belongings/hub/internal/search"
	"github.com/umt-belongings/hub/internal/storage"
	"github.com/umt-belongings/hub/internal/uploads"
	"go.uber.org/zap"
)

// ExtractorStatus reports the state of the feature extractor. *embedding.Loader implements it.
type ExtractorStatus interface {
	Name() string
	Ready() bool
	Dimensions() int
	LoadedAt() time.Time
	Err() error
}

// Server is the HTTP server for the Belongings Hub API.
type Server struct {
	engine    *search.Engine
	indexer   *indexer.Indexer
	storage   storage.Storage
	uploads   *uploads.Store
	config    *config.Config
	extractor ExtractorStatus
	metrics   *metrics.Metrics
	logger    *zap.Logger
	server    *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics exposes m on /metrics and records request metrics.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithExtractorStatus reports the extractor state on /api/v1/status.
func WithExtractorStatus(es ExtractorStatus) ServerOption {
	return func(s *Server) { s.extractor = es }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	storage storage.Storage,
	uploadStore *uploads.Store,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		engine:  engine,
		indexer: idx,
		storage: storage,
		uploads: uploadStore,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	if s.config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	if s.uploads != nil {
		r.Handle(uploads.URLPrefix+"*", http.StripPrefix(uploads.URLPrefix, http.FileServer(http.Dir(s.uploads.Dir()))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compress(5, "application/json"))
		r.Get("/status", s.handleStatus)
		r.Get("/posts", s.handleListPosts)
		r.Get("/posts/{id}", s.handleGetPost)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/posts", s.handleCreatePost)
			r.Post("/posts/find-similar", s.handleFindSimilar)
			r.Patch("/posts/{id}", s.handleUpdatePost)
			r.Delete("/posts/{id}", s.handleDeletePost)
			r.Get("/posts/{id}/similar", s.handleSimilarToPost)

			r.Get("/notifications", s.handleListNotifications)
			r.Patch("/notifications/read-all", s.handleReadAllNotifications)
			r.Patch("/notifications/{id}/read", s.handleReadNotification)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/posts/{id}/reindex", s.handleReindexPost)
				r.Get("/admin/posts", s.handleAdminListPosts)
				r.Patch("/admin/posts/{id}/archive", s.handleArchivePost)
				r.Get("/admin/posts/export", s.handleExportPosts)
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// instrument logs each request and records its latency under the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(r.Method, route, status, elapsed)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("took", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
