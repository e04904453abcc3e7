package toolbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// sessionState tracks one connection's lifecycle. A session is created OPEN,
// becomes READY on its first initialize, and is CLOSED when the transport
// ends, gracefully or abruptly. State never persists across connections.
type sessionState int

const (
	stateOpen sessionState = iota
	stateReady
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// handlerFunc services one routed request. Handlers return either a result
// value or a protocol error, never both.
type handlerFunc func(ctx context.Context, params json.RawMessage) (any, *Error)

// serverSession sequences inbound messages for one connection and guarantees
// each produces exactly one outbound reply. Frames are read and routed in
// arrival order; registry-backed calls complete on their own goroutines, so
// completions may interleave while every response still carries its own
// request's id.
type serverSession struct {
	sess   Session
	logger *slog.Logger

	serverInfo  Info
	tools       *ToolRegistry
	resources   *ResourceRegistry
	sendTimeout time.Duration

	// handlers maps the fixed method surface, built once at session start.
	handlers map[string]handlerFunc

	// state and caps are only touched from the intake loop.
	state sessionState
	caps  Capabilities

	// baseCtx is handed to executors and cancelled when the session closes.
	// Cancellation stays cooperative: nothing is force-stopped.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	// stopOnce guards the transport session's Stop, which both the normal
	// end-of-stream path and server shutdown may reach.
	stopOnce sync.Once

	calls sync.WaitGroup
}

// stop closes the underlying transport session exactly once.
func (s *serverSession) stop() {
	s.stopOnce.Do(s.sess.Stop)
}

func newServerSession(
	sess Session,
	logger *slog.Logger,
	info Info,
	tools *ToolRegistry,
	resources *ResourceRegistry,
	sendTimeout time.Duration,
) *serverSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &serverSession{
		sess:        sess,
		logger:      logger,
		serverInfo:  info,
		tools:       tools,
		resources:   resources,
		sendTimeout: sendTimeout,
		state:       stateOpen,
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
	s.handlers = map[string]handlerFunc{
		MethodToolsList:     s.handleListTools,
		MethodToolsCall:     s.handleCallTool,
		MethodResourcesList: s.handleListResources,
		MethodResourcesRead: s.handleReadResource,
	}
	return s
}

// run consumes the session's frames until the transport closes, then marks
// the session CLOSED and releases per-session resources. In-flight calls are
// not force-cancelled beyond their context; their responses are simply
// dropped by the closed transport.
func (s *serverSession) run() {
	for frame := range s.sess.Messages() {
		s.onMessage(frame)
	}
	s.onClose()
}

// onMessage decodes one frame and routes it. Decode failure is the one case
// where a reply is sent despite an unparseable request: the id is
// unrecoverable, so the error response carries id null and the connection
// stays open.
func (s *serverSession) onMessage(frame []byte) {
	env, derr := DecodeEnvelope(frame)
	if derr != nil {
		s.logger.Debug("rejected frame",
			slog.String("code", string(derr.Code)),
			slog.String("err", derr.Message))
		s.send(NewErrorResponse(nil, derr))
		return
	}

	if env.Kind() != KindRequest {
		// The engine only speaks request→response; an inbound response-shaped
		// envelope still gets its one reply.
		s.send(NewErrorResponse(env.ID, &Error{
			Code:    CodeInvalidEnvelope,
			Message: "expected a request",
		}))
		return
	}

	s.dispatch(env)
}

// dispatch applies the lifecycle state machine and routes the request. The
// state checks and the initialize transition happen synchronously in arrival
// order; only registry-backed work is deferred to its own goroutine.
func (s *serverSession) dispatch(env Envelope) {
	if env.Method == MethodInitialize {
		s.send(s.handleInitialize(env))
		return
	}

	if s.state == stateOpen {
		s.send(NewErrorResponse(env.ID, Errorf(CodeNotInitialized,
			"method %s requires a completed initialize", env.Method)))
		return
	}

	handler, ok := s.handlers[env.Method]
	if !ok {
		s.send(NewErrorResponse(env.ID, Errorf(CodeMethodNotFound,
			"Unknown method: %s", env.Method)))
		return
	}

	s.calls.Add(1)
	go func() {
		defer s.calls.Done()

		result, herr := handler(s.baseCtx, env.Params)
		if herr != nil {
			s.send(NewErrorResponse(env.ID, herr))
			return
		}
		s.send(NewResult(env.ID, result))
	}()
}

// onClose transitions the session to its terminal state. In-flight executors
// see their context cancelled; whether they stop is the backend's concern.
func (s *serverSession) onClose() {
	s.state = stateClosed
	s.baseCancel()
	s.logger.Debug("session closed")
}

func (s *serverSession) send(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()

	if err := s.sess.Send(ctx, EncodeEnvelope(env)); err != nil {
		// A response to a closed session goes nowhere; that is not an engine
		// failure, so it is logged and dropped.
		s.logger.Warn("failed to send response", slog.String("err", err.Error()))
	}
}

// handleInitialize records the capability snapshot on the first call and
// transitions OPEN→READY. Later calls re-acknowledge: only the first call's
// capabilities are binding, so the reply repeats the recorded snapshot.
func (s *serverSession) handleInitialize(env Envelope) Envelope {
	var params initializeParams
	if len(env.Params) != 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return NewErrorResponse(env.ID, &Error{
				Code:    CodeInvalidEnvelope,
				Message: "malformed initialize params",
			})
		}
	}

	if s.state == stateOpen {
		caps := Capabilities{}
		if s.tools != nil {
			caps.Tools = &ToolsCapability{}
		}
		if s.resources != nil {
			caps.Resources = &ResourcesCapability{}
		}
		s.caps = caps
		s.state = stateReady

		if params.ClientInfo != nil {
			s.logger.Info("session initialized",
				slog.String("clientName", params.ClientInfo.Name),
				slog.String("clientVersion", params.ClientInfo.Version))
		} else {
			s.logger.Info("session initialized")
		}
	}

	return NewResult(env.ID, initializeResult{
		Capabilities: s.caps,
		ServerInfo:   s.serverInfo,
	})
}

func (s *serverSession) handleListTools(_ context.Context, _ json.RawMessage) (any, *Error) {
	if s.tools == nil {
		return listToolsResult{Tools: []ToolSpec{}}, nil
	}
	return listToolsResult{Tools: s.tools.List()}, nil
}

func (s *serverSession) handleCallTool(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p callToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: CodeInvalidArguments, Message: "malformed tools/call params"}
	}
	if s.tools == nil {
		return nil, Errorf(CodeToolNotFound, "Unknown tool: %s", p.Name)
	}

	result, cerr := s.tools.Call(ctx, p.Name, p.Arguments)
	if cerr != nil {
		return nil, cerr
	}
	return result, nil
}

func (s *serverSession) handleListResources(_ context.Context, _ json.RawMessage) (any, *Error) {
	if s.resources == nil {
		return listResourcesResult{Resources: []ResourceSpec{}}, nil
	}
	return listResourcesResult{Resources: s.resources.List()}, nil
}

func (s *serverSession) handleReadResource(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p readResourceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: CodeInvalidArguments, Message: "malformed resources/read params"}
	}
	if s.resources == nil {
		return nil, Errorf(CodeResourceNotFound, "Unknown resource: %s", p.URI)
	}

	contents, rerr := s.resources.Read(ctx, p.URI)
	if rerr != nil {
		return nil, rerr
	}
	return readResourceResult{Contents: []ResourceContents{contents}}, nil
}
