// Package server provides the HTTP API for imgsearch.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/imgsearch/internal/config"
	"github.com/hyperjump/imgsearch/internal/indexer"
	"github.com/hyperjump/imgsearch/internal/search"
	"github.com/hyperjump/imgsearch/internal/session"
	"github.com/hyperjump/imgsearch/pkg/utils"
)

// WatchService follows the folder of the active session. Watch("") stops watching.
type WatchService interface {
	Watch(folder string) error
	Folder() string
}

// defaultRequestTimeout bounds every request except folder builds.
const defaultRequestTimeout = 60 * time.Second

// Server is the HTTP server for the imgsearch API.
type Server struct {
	engine  *search.Engine
	builder *indexer.Builder
	holder  *session.Holder
	config  *config.ServerConfig
	logger  *zap.Logger
	watch   WatchService // nil when watch mode is off
	server  *http.Server

	requestTimeout time.Duration
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	engine *search.Engine,
	builder *indexer.Builder,
	holder *session.Holder,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	watch WatchService,
) *Server {
	return &Server{
		engine:  engine,
		builder: builder,
		holder:  holder,
		config:  cfg,
		logger:  utils.OrNop(logger),
		watch:   watch,

		requestTimeout: defaultRequestTimeout,
	}
}

// Handler returns the API router. Folder builds embed every image of the folder and
// run without the request timeout; they end when the client goes away.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/folders", s.handleLoadFolder)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))
			r.Post("/search", s.handleSearch)
			r.Post("/search/image", s.handleSearchImage)
			r.Get("/search/name", s.handleSearchName)
			r.Get("/images/{id}", s.handleGetImage)
			r.Get("/status", s.handleStatus)
			r.Delete("/index", s.handleReset)
		})
	})
	r.With(middleware.Timeout(s.requestTimeout)).Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
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
