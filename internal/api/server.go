package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter creates a new router with all routes configured. validator may
// be nil, in which case the API is unauthenticated. middlewares run on the
// /v1 routes after authentication.
func NewRouter(h *Handler, validator TokenValidator, middlewares ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestContext)
	r.Use(instrument)

	r.Get("/healthz", h.Health)

	r.Route("/v1", func(r chi.Router) {
		if validator != nil {
			r.Use(authenticate(validator))
		}
		r.Use(middlewares...)

		r.Post("/early-returns", h.ProcessEarlyReturn)
		r.Post("/early-returns/preview", h.PreviewEarlyReturn)
		r.Get("/notifications", h.ListNotifications)
	})

	return r
}

// Server is the HTTP front end of the service
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown error: %w", err)
	}
	return nil
}
