package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mediacatalog/internal/api"
	"mediacatalog/internal/config"
)

type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	httpServer *http.Server
	router     *chi.Mux
	handler    *api.Handler
}

func New(cfg *config.Config, logger zerolog.Logger, handler *api.Handler) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(RecoverMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handler.Health)
	s.router.Handle("/metrics", promhttp.Handler())

	// Media files are fetched in many small Range requests while playing,
	// so they stay outside the API rate limit.
	s.router.Get("/uploads/{filename}", s.handler.ServeUpload)
	s.router.Head("/uploads/{filename}", s.handler.ServeUpload)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window))

		r.Get("/midias", s.handler.ListMedia)
		r.Post("/midias", s.handler.CreateMedia)
		r.Get("/midias/{id}", s.handler.GetMedia)
		r.Put("/midias/{id}", s.handler.UpdateMedia)
		r.Delete("/midias/{id}", s.handler.DeleteMedia)
		r.Post("/midias/{id}/favorite", s.handler.ToggleFavorite)

		r.Post("/upload", s.handler.Upload)
		r.Get("/stats", s.handler.Stats)
	})
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
