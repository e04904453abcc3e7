// Package httpbridge exposes plain HTTP endpoints as a generic request tool.
// It is the escape hatch for services that have no dedicated backend: the
// caller supplies method, URL, headers and body, and gets status, headers and
// body back.
package httpbridge

import (
	"log/slog"
	"net/http"
)

// Server is a generic HTTP client backend. It implements the tool backend
// interface consumed by the protocol server; it exposes no resources.
type Server struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// Option represents the options for the httpbridge server.
type Option func(*Server)

// WithHTTPClient sets the HTTP client used for outbound requests. The default
// client carries no timeout; per-call deadlines come from the timeout_ms
// argument and the caller's context.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Server) {
		s.httpClient = client
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "servers/httpbridge"),
		)
	}
}

// NewServer creates an httpbridge backend.
func NewServer(options ...Option) *Server {
	s := &Server{
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}
