// Package main is the entry point for the lokalhub identity server.
//
// Its job is deliberately small: read configuration from the environment,
// build the logger, hand both to the server package. All actual logic lives
// in internal/.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lokalhub/lokalhub/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		var err error
		port, err = strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
	}

	// DB_PATH overrides for production deployments, e.g.
	// DB_PATH=/var/lib/lokalhub/prod.db
	dbPath := "data/lokalhub.db"
	if envDB := os.Getenv("DB_PATH"); envDB != "" {
		dbPath = envDB
	}

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// JWT_SECRET must be a long random string:
	//   JWT_SECRET=$(openssl rand -hex 32)
	// If unset, the server starts but no auth routes are registered.
	jwtSecret := os.Getenv("JWT_SECRET")

	githubCallbackURL := os.Getenv("GITHUB_CALLBACK_URL")
	if githubCallbackURL == "" {
		githubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", port)
	}
	twitterCallbackURL := os.Getenv("TWITTER_CALLBACK_URL")
	if twitterCallbackURL == "" {
		twitterCallbackURL = fmt.Sprintf("http://localhost:%d/auth/twitter/callback", port)
	}

	cfg := server.Config{
		Port:      port,
		DBPath:    dbPath,
		JWTSecret: jwtSecret,

		GitHubClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubCallbackURL:  githubCallbackURL,

		TwitterClientID:     os.Getenv("TWITTER_CLIENT_ID"),
		TwitterClientSecret: os.Getenv("TWITTER_CLIENT_SECRET"),
		TwitterCallbackURL:  twitterCallbackURL,

		BootstrapPasswordHash: os.Getenv("BOOTSTRAP_PASSWORD_HASH"),
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
