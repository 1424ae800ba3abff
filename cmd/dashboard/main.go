package main

import (
	"context"
	"flag"
	"os"

	"procodus.dev/irrigation-dashboard/internal/api"
	"procodus.dev/irrigation-dashboard/internal/dashboard"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/logger"
)

func main() {
	// Parse command-line flags
	httpPort := flag.Int("http-port", 3000, "HTTP server port")
	apiURL := flag.String("api-url", "http://localhost:8080/api", "Backend REST API base URL")
	feedURL := flag.String("feed-url", "ws://localhost:8080/ws", "Backend sensor WebSocket URL")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Set up logger
	log := logger.NewWithLevel(logger.ParseLevel(*logLevel))

	client, err := api.NewClient(&api.ClientConfig{Logger: logger.Component(log, "api"), BaseURL: *apiURL})
	if err != nil {
		log.Error("failed to create API client", "error", err)
		os.Exit(1)
	}

	sessions, err := session.NewManager(&session.ManagerConfig{
		Store:  session.NewMemoryStore(),
		Logger: logger.Component(log, "session"),
	})
	if err != nil {
		log.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}

	// Create server
	server, err := dashboard.NewServer(&dashboard.ServerConfig{
		Logger:   log,
		HTTPPort: *httpPort,
		API:      client,
		Sessions: sessions,
		FeedURL:  *feedURL,
	})
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Run server
	log.Info("starting dashboard server",
		"http_port", *httpPort,
		"api_url", *apiURL,
		"feed_url", *feedURL,
	)

	if err := server.Run(context.Background()); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("dashboard server stopped")
}
