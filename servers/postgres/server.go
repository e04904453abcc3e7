// Package postgres exposes a PostgreSQL database as read-only tools and
// resources. Queries are restricted to SELECT statements; schema inspection
// goes through information_schema so no catalog privileges are needed.
package postgres

import (
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver for database/sql.
	_ "github.com/lib/pq"
)

// Server provides query and schema-inspection access to one database. It
// implements the tool and resource backend interfaces consumed by the
// protocol server.
type Server struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option represents the options for the postgres server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "servers/postgres"),
		)
	}
}

// NewServer creates a postgres backend on top of an existing database handle.
// The caller keeps ownership of the handle and closes it after the protocol
// server has shut down.
func NewServer(db *sql.DB, options ...Option) *Server {
	s := &Server{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Connect opens a database handle for the given connection string and builds
// a backend on it. The connection is verified with a ping.
func Connect(connString string, options ...Option) (*Server, *sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewServer(db, options...), db, nil
}
