// Package server wires the identity service together: database, services,
// handlers, routes, and the HTTP lifecycle.
//
// It is the composition root — every dependency is constructed here, in one
// place, and each layer only receives what it needs: the service gets the
// repository interface, the handlers get the services, the router gets the
// handlers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lokalhub/lokalhub/internal/auth"
	"github.com/lokalhub/lokalhub/internal/handler"
	"github.com/lokalhub/lokalhub/internal/middleware"
	sqliteRepo "github.com/lokalhub/lokalhub/internal/repository/sqlite"
	"github.com/lokalhub/lokalhub/internal/service"
)

// Config holds everything the server needs from the environment.
type Config struct {
	Port   int
	DBPath string

	// JWTSecret signs session tokens. When empty, authentication is
	// disabled and only the public routes are mounted.
	JWTSecret string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	TwitterClientID     string
	TwitterClientSecret string
	TwitterCallbackURL  string

	// BootstrapPasswordHash is the bcrypt hash guarding the admin promote
	// endpoint. Empty disables the endpoint.
	BootstrapPasswordHash string
}

// Server owns the router and the database connection. The connection is
// closed during graceful shutdown so the WAL is flushed and the file lock
// released.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the full dependency chain:
//
//	sqlite.DB → IdentityService → AuthHandler / AccountHandler → router
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTES:
//
//	GET  /auth/{provider}/login    → redirect to the provider
//	GET  /auth/{provider}/callback → complete login, set session cookie
//	POST /auth/logout              → clear session cookie
//	GET  /api/me                   → current account          (auth required)
//	GET  /api/accounts             → member directory         (admin only)
//	POST /api/admin/promote        → promote account to admin (bootstrap password)
//
// Middleware order: RequestID first so the logger can include it, RealIP
// before logging so the logged address is the client's, Recoverer last so a
// panicking handler still produces a 500 with the request logged.
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	identity := service.NewIdentityService(s.db, s.logger)

	if s.config.JWTSecret == "" {
		// No secret means no sessions: run with the auth surface off
		// rather than signing tokens with a guessable default.
		s.logger.Warn("JWT_SECRET not set — authentication routes disabled")
		return nil
	}

	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var providers []auth.OAuthProvider
	if s.config.GitHubClientID != "" {
		providers = append(providers, auth.NewGitHubProvider(
			s.config.GitHubClientID,
			s.config.GitHubClientSecret,
			s.config.GitHubCallbackURL,
		))
	}
	if s.config.TwitterClientID != "" {
		providers = append(providers, auth.NewTwitterProvider(
			s.config.TwitterClientID,
			s.config.TwitterClientSecret,
			s.config.TwitterCallbackURL,
		))
	}
	if len(providers) == 0 {
		s.logger.Warn("no OAuth providers configured — nobody can log in")
	}
	registry := auth.NewRegistry(providers...)

	bootstrap := auth.NewBootstrapService(s.config.BootstrapPasswordHash)
	if !bootstrap.Enabled() {
		s.logger.Warn("BOOTSTRAP_PASSWORD_HASH not set — admin promotion disabled")
	}

	authHandler := handler.NewAuthHandler(registry, tokens, identity, s.logger)
	accountHandler := handler.NewAccountHandler(identity, bootstrap, s.logger)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/{provider}/login", authHandler.HandleLogin)
		r.Get("/{provider}/callback", authHandler.HandleCallback)
		r.Post("/logout", authHandler.HandleLogout)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Get("/accounts", accountHandler.HandleList)
		})
		r.Post("/admin/promote", accountHandler.HandlePromote)
	})

	return nil
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully: stop accepting connections, give in-flight requests 30 seconds,
// close the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
