package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/handlers"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	components *Components
	log        logging.Logger
}

// New opens the configured backends, seeds the administrator when enabled
// and mounts the routes.
func New(ctx context.Context, cfg config.Config, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop{}
	}

	components, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Admin.Seed {
		if _, err := components.SeedAdmin(ctx, cfg.Admin); err != nil {
			_ = components.Close()
			return nil, fmt.Errorf("seed admin: %w", err)
		}
	}

	router := NewRouter(cfg, components, log)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		components: components,
		log:        log,
	}, nil
}

// NewRouter mounts the health, auth, dashboard and admin routes.
func NewRouter(cfg config.Config, c *Components, log logging.Logger) *chi.Mux {
	gates := handlers.NewGates(c.Tokens, cfg.Auth.CookieName, handlers.DefaultLoginPath)
	cookie := handlers.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}

	authHandler := handlers.NewAuthHandler(c.Auth, c.Users, c.Challenges, c.Sealer, cookie, log.With("component", "handlers"))
	adminHandler := handlers.NewAdminHandler(c.Users, log.With("component", "handlers"))

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(log),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, gates)
	})
	router.With(gates.Protect()).Get("/dashboard", handlers.Dashboard)
	router.Route("/admin", func(r chi.Router) {
		handlers.AdminRouter(r, adminHandler, gates)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.components.Close())
}
