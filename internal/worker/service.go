// Package worker provides the HTTP service exposing threads and the ingest
// endpoint.
package worker

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/threadline/internal/config"
	db "github.com/thebtf/threadline/internal/db/gorm"
	"github.com/thebtf/threadline/internal/engine"
	"github.com/thebtf/threadline/internal/search"
	"github.com/thebtf/threadline/internal/worker/sse"
)

// Service wires the router, stores and engine into one HTTP server.
type Service struct {
	version string
	cfg     config.ServerConfig

	store    *db.Store
	articles *db.ArticleStore
	threads  *db.ThreadStore
	engine   *engine.Engine
	search   *search.Manager

	broadcaster *sse.Broadcaster
	router      chi.Router
	server      *http.Server

	startTime time.Time
	ready     atomic.Bool
}

// New creates the service and registers its routes.
func New(version string, cfg config.ServerConfig, store *db.Store, eng *engine.Engine) *Service {
	threads := db.NewThreadStore(store)
	svc := &Service{
		version:     version,
		cfg:         cfg,
		store:       store,
		articles:    db.NewArticleStore(store),
		threads:     threads,
		engine:      eng,
		search:      search.NewManager(threads),
		broadcaster: sse.NewBroadcaster(),
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/threads", s.handleListThreads)
		r.Get("/threads/search", s.handleSearchThreads)
		r.Get("/threads/{id}", s.handleGetThread)
		r.Get("/threads/{id}/articles", s.handleThreadArticles)
		r.Delete("/threads/{id}", s.handleDeleteThread)
		r.Post("/articles", s.handleIngestArticle)
		r.Get("/events", s.broadcaster.ServeHTTP)
	})
}

// Router exposes the handler tree, mainly for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start listens on the configured address until the context is cancelled,
// then shuts down gracefully.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// requestLogger logs each request with its duration and status.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}
