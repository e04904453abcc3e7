// Package filesystem exposes a rooted directory tree as tools and resources.
// Every operation is confined to the configured root: requested paths are
// resolved against it and symlinks may not escape it.
package filesystem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Server provides file access under a single root directory. It implements
// the tool and resource backend interfaces consumed by the protocol server.
type Server struct {
	root   string
	logger *slog.Logger
}

// Option represents the options for the filesystem server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "servers/filesystem"),
		)
	}
}

// NewServer creates a filesystem backend rooted at the given directory.
//
// The root must exist and be a directory; it is resolved to its real path so
// the containment checks see through symlinks. All tool and resource
// operations are restricted to this directory and its subtree.
func NewServer(root string, options ...Option) (*Server, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}

	info, err := os.Stat(realRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	s := &Server{
		root:   realRoot,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}

	return s, nil
}
