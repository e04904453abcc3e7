package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fluxwire/toolbus"
	"github.com/fluxwire/toolbus/servers/filesystem"
	"github.com/fluxwire/toolbus/servers/httpbridge"
	"github.com/fluxwire/toolbus/servers/inference"
	"github.com/fluxwire/toolbus/servers/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	backends := &composite{}

	fs, err := filesystem.NewServer(cfg.Root, filesystem.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to create filesystem backend: %v", err)
	}
	backends.addTools(fs)
	backends.addResources(fs)

	backends.addTools(httpbridge.NewServer(httpbridge.WithLogger(logger)))

	if cfg.DatabaseURL != "" {
		pg, db, err := postgres.Connect(cfg.DatabaseURL, postgres.WithLogger(logger))
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		backends.addTools(pg)
		backends.addResources(pg)
	}

	if cfg.Inference.BaseURL != "" {
		inf, err := inference.NewServer(cfg.Inference.BaseURL, inference.WithLogger(logger))
		if err != nil {
			log.Fatalf("failed to create inference backend: %v", err)
		}
		backends.addTools(inf)
		backends.addResources(inf)
	}

	messageURL := fmt.Sprintf("http://localhost:%d/message", cfg.Port)
	transport := toolbus.NewSSEServer(messageURL)

	srv, err := toolbus.NewServer(
		toolbus.Info{Name: "everything-example", Version: "0.1.0"},
		transport,
		toolbus.WithToolBackend(backends),
		toolbus.WithResourceBackend(backends),
		toolbus.WithServerLogger(logger),
		toolbus.WithServerOnClientConnected(func(id string) {
			logger.Info("client connected", slog.String("sessionID", id))
		}),
		toolbus.WithServerOnClientDisconnected(func(id string) {
			logger.Info("client disconnected", slog.String("sessionID", id))
		}),
	)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/sse", transport.HandleSSE())
	mux.Handle("/message", transport.HandleMessage())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go srv.Serve()
	go func() {
		logger.Info("server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("failed to shutdown protocol server: %v", err)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("failed to shutdown http server: %v", err)
	}

	logger.Info("server exited gracefully")
}
