package toolbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// Server accepts transport connections and owns one session per connection.
// The tool and resource registries are built once from the configured
// backends, shared read-only across all sessions; concurrent connections are
// fully independent and no cross-session state is mutated by the engine.
type Server struct {
	info      Info
	transport ServerTransport

	tools     *ToolRegistry
	resources *ResourceRegistry

	toolBackend     ToolBackend
	resourceBackend ResourceBackend

	sendTimeout time.Duration
	logger      *slog.Logger

	onClientConnected    func(sessionID string)
	onClientDisconnected func(sessionID string)

	// live maps connection identity to its session. It is mutated only on
	// accept and close, and never iterated by the dispatch engine itself.
	live   map[string]*serverSession
	liveMu sync.Mutex

	sessions *sync.WaitGroup
}

const defaultSendTimeout = 30 * time.Second

// NewServer creates a protocol server bound to the given transport. At least
// one backend option must be supplied; registries are built here, once, and
// are immutable afterwards.
func NewServer(info Info, transport ServerTransport, options ...ServerOption) (*Server, error) {
	s := &Server{
		info:      info,
		transport: transport,
		logger:    slog.Default(),
		live:      make(map[string]*serverSession),
		sessions:  &sync.WaitGroup{},
	}
	for _, opt := range options {
		opt(s)
	}
	if s.sendTimeout == 0 {
		s.sendTimeout = defaultSendTimeout
	}

	if s.toolBackend == nil && s.resourceBackend == nil {
		return nil, fmt.Errorf("server needs at least one backend")
	}

	if s.toolBackend != nil {
		tools, err := NewToolRegistryFromBackend(s.toolBackend)
		if err != nil {
			return nil, fmt.Errorf("failed to build tool registry: %w", err)
		}
		s.tools = tools
	}
	if s.resourceBackend != nil {
		resources, err := NewResourceRegistryFromBackend(s.resourceBackend)
		if err != nil {
			return nil, fmt.Errorf("failed to build resource registry: %w", err)
		}
		s.resources = resources
	}

	return s, nil
}

// WithToolBackend returns a ServerOption that exposes the backend's tools.
func WithToolBackend(backend ToolBackend) ServerOption {
	return func(s *Server) {
		s.toolBackend = backend
	}
}

// WithResourceBackend returns a ServerOption that exposes the backend's resources.
func WithResourceBackend(backend ResourceBackend) ServerOption {
	return func(s *Server) {
		s.resourceBackend = backend
	}
}

// WithServerSendTimeout returns a ServerOption that bounds each response write.
func WithServerSendTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.sendTimeout = timeout
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "toolbus"),
			slog.String("component", "server"),
		)
	}
}

// WithServerOnClientConnected sets the callback for when a session is accepted.
func WithServerOnClientConnected(fn func(sessionID string)) ServerOption {
	return func(s *Server) {
		s.onClientConnected = fn
	}
}

// WithServerOnClientDisconnected sets the callback for when a session ends.
func WithServerOnClientDisconnected(fn func(sessionID string)) ServerOption {
	return func(s *Server) {
		s.onClientDisconnected = fn
	}
}

// Serve accepts sessions from the transport until it is shut down, running
// one dispatch loop per connection. Serve blocks until the transport's
// session iterator ends.
func (s *Server) Serve() {
	for sess := range s.transport.Sessions() {
		ss := newServerSession(
			sess,
			s.logger.With(slog.String("sessionID", sess.ID())),
			s.info,
			s.tools,
			s.resources,
			s.sendTimeout,
		)

		s.liveMu.Lock()
		s.live[sess.ID()] = ss
		s.liveMu.Unlock()

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()

			if s.onClientConnected != nil {
				s.onClientConnected(ss.sess.ID())
			}

			ss.run()
			ss.stop()

			s.liveMu.Lock()
			delete(s.live, ss.sess.ID())
			s.liveMu.Unlock()

			if s.onClientDisconnected != nil {
				s.onClientDisconnected(ss.sess.ID())
			}
		}()
	}
}

// Shutdown gracefully shuts down the server: the transport stops yielding
// sessions and every session loop is waited for. In-flight backend calls see
// their contexts cancelled; whether they stop is the backend's concern.
func (s *Server) Shutdown(ctx context.Context) error {
	// Stop live sessions outside the lock: stopping blocks until a session's
	// loop exits, and that loop needs the lock to deregister itself.
	s.liveMu.Lock()
	live := make([]*serverSession, 0, len(s.live))
	for _, ss := range s.live {
		live = append(live, ss)
	}
	s.liveMu.Unlock()
	for _, ss := range live {
		ss.stop()
	}

	if err := s.transport.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown transport: %w", err)
	}

	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to drain sessions: %w", ctx.Err())
	case <-drained:
	}
	return nil
}
