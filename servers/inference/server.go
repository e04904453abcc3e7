// Package inference exposes a local model-inference HTTP API (an
// Ollama-style daemon) as tools and resources. Requests are plain JSON over
// HTTP; streaming is disabled so each generation is a single call.
package inference

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Server is a client for one inference daemon. It implements the tool and
// resource backend interfaces consumed by the protocol server.
type Server struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option represents the options for the inference server.
type Option func(*Server)

// WithHTTPClient sets the HTTP client used for daemon calls. The default
// client carries no timeout; deadlines arrive through the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.httpClient = client
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "servers/inference"),
		)
	}
}

// NewServer creates an inference backend talking to the daemon at baseURL.
func NewServer(baseURL string, options ...Option) (*Server, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	s := &Server{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}

	return s, nil
}
