package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fluxwire/toolbus"
	"github.com/fluxwire/toolbus/servers/filesystem"
)

func main() {
	root := flag.String("root", ".", "directory to serve")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	backend, err := filesystem.NewServer(*root, filesystem.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to create filesystem backend: %v", err)
	}

	// The demo client talks to the server over an in-process pipe pair using
	// the same newline-delimited framing a spawned subprocess would use.
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()

	transport := toolbus.NewStdIO(serverReader, serverWriter)
	srv, err := toolbus.NewServer(
		toolbus.Info{Name: "filesystem-example", Version: "0.1.0"},
		transport,
		toolbus.WithToolBackend(backend),
		toolbus.WithResourceBackend(backend),
		toolbus.WithServerLogger(logger),
	)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	go srv.Serve()

	cli := newClient(clientReader, clientWriter)
	if err := cli.run(); err != nil {
		log.Printf("client error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("failed to shutdown server: %v", err)
	}

	fmt.Println("Server exited gracefully")
}
