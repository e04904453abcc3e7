package toolbus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/fluxwire/toolbus"
)

type mockSession struct {
	id       string
	incoming chan []byte
	outgoing chan []byte
	stopped  chan struct{}
}

func newMockSession(id string) *mockSession {
	return &mockSession{
		id:       id,
		incoming: make(chan []byte),
		outgoing: make(chan []byte, 16),
		stopped:  make(chan struct{}),
	}
}

func (m *mockSession) ID() string {
	return m.id
}

func (m *mockSession) Send(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.outgoing <- frame:
		return nil
	}
}

func (m *mockSession) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			select {
			case <-m.stopped:
				return
			case frame, ok := <-m.incoming:
				if !ok {
					return
				}
				if !yield(frame) {
					return
				}
			}
		}
	}
}

func (m *mockSession) Stop() {
	close(m.stopped)
}

type mockTransport struct {
	sessions chan toolbus.Session
	done     chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		sessions: make(chan toolbus.Session, 4),
		done:     make(chan struct{}),
	}
}

func (m *mockTransport) Sessions() iter.Seq[toolbus.Session] {
	return func(yield func(toolbus.Session) bool) {
		for {
			select {
			case <-m.done:
				return
			case sess := <-m.sessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

func (m *mockTransport) Shutdown(context.Context) error {
	close(m.done)
	return nil
}

type mockToolBackend struct{}

func (mockToolBackend) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{
			Name:        "echo",
			Description: "Echoes back the input",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"message": {Type: "string"},
			}, "message"),
		},
	}
}

func (mockToolBackend) ExecuteTool(_ context.Context, name string, args map[string]any) (any, error) {
	if name != "echo" {
		return nil, fmt.Errorf("unexpected tool %s", name)
	}
	return args["message"], nil
}

type mockResourceBackend struct{}

func (mockResourceBackend) Resources() []toolbus.ResourceSpec {
	return []toolbus.ResourceSpec{
		{URI: "scheme://known", Name: "known", MimeType: "text/plain"},
	}
}

func (mockResourceBackend) ResolveResource(_ context.Context, uri string) (toolbus.ResourceContents, error) {
	return toolbus.ResourceContents{URI: uri, MimeType: "text/plain", Text: "known contents"}, nil
}

type sessionHarness struct {
	t    *testing.T
	sess *mockSession
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()

	transport := newMockTransport()
	srv, err := toolbus.NewServer(
		toolbus.Info{Name: "test-server", Version: "1.0"},
		transport,
		toolbus.WithToolBackend(mockToolBackend{}),
		toolbus.WithResourceBackend(mockResourceBackend{}),
	)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	sess := newMockSession("sess-1")
	transport.sessions <- sess

	serveDone := make(chan struct{})
	go func() {
		srv.Serve()
		close(serveDone)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
		<-serveDone
	})

	return &sessionHarness{t: t, sess: sess}
}

// roundTrip sends one frame and waits for the single reply it must produce.
func (h *sessionHarness) roundTrip(raw string) toolbus.Envelope {
	h.t.Helper()

	select {
	case h.sess.incoming <- []byte(raw):
	case <-time.After(time.Second):
		h.t.Fatalf("timed out sending frame")
	}

	select {
	case frame := <-h.sess.outgoing:
		env, derr := toolbus.DecodeEnvelope(frame)
		if derr != nil {
			h.t.Fatalf("response is not a valid envelope: %v (%s)", derr, frame)
		}
		return env
	case <-time.After(time.Second):
		h.t.Fatalf("timed out waiting for a response")
		return toolbus.Envelope{}
	}
}

func (h *sessionHarness) initialize() toolbus.Envelope {
	h.t.Helper()
	return h.roundTrip(`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"clientInfo":{"name":"test-client","version":"0.1"}}}`)
}

func TestSessionRequiresInitialize(t *testing.T) {
	h := newSessionHarness(t)

	env := h.roundTrip(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if env.Error == nil || env.Error.Code != toolbus.CodeNotInitialized {
		t.Fatalf("expected NOT_INITIALIZED before initialize, got %+v", env)
	}
	if string(env.ID) != "1" {
		t.Fatalf("id not echoed: %s", env.ID)
	}

	env = h.initialize()
	if env.Error != nil {
		t.Fatalf("initialize failed: %v", env.Error)
	}
	var init struct {
		Capabilities toolbus.Capabilities `json:"capabilities"`
		ServerInfo   toolbus.Info         `json:"serverInfo"`
	}
	if err := json.Unmarshal(env.Result, &init); err != nil {
		t.Fatalf("failed to unmarshal initialize result: %v", err)
	}
	if init.ServerInfo.Name != "test-server" {
		t.Fatalf("unexpected server info: %+v", init.ServerInfo)
	}
	if init.Capabilities.Tools == nil || init.Capabilities.Resources == nil {
		t.Fatalf("expected tools and resources capabilities, got %+v", init.Capabilities)
	}

	env = h.roundTrip(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if env.Error != nil {
		t.Fatalf("tools/list failed after initialize: %v", env.Error)
	}
	var list struct {
		Tools []toolbus.ToolSpec `json:"tools"`
	}
	if err := json.Unmarshal(env.Result, &list); err != nil {
		t.Fatalf("failed to unmarshal tools/list result: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "echo" {
		t.Fatalf("unexpected tool list: %+v", list.Tools)
	}
}

func TestSessionInitializeIdempotent(t *testing.T) {
	h := newSessionHarness(t)

	first := h.initialize()
	second := h.roundTrip(`{"jsonrpc":"2.0","id":"init-2","method":"initialize","params":{}}`)

	if first.Error != nil || second.Error != nil {
		t.Fatalf("initialize should never fail on repeats: %v, %v", first.Error, second.Error)
	}
	if string(first.Result) != string(second.Result) {
		t.Fatalf("repeated initialize must re-acknowledge the first snapshot: %s vs %s",
			first.Result, second.Result)
	}
}

func TestSessionUnknownMethod(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":3,"method":"tools/wipe"}`)
	if env.Error == nil || env.Error.Code != toolbus.CodeMethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %+v", env)
	}
	if env.Error.Message != "Unknown method: tools/wipe" {
		t.Fatalf("unexpected message: %s", env.Error.Message)
	}
}

func TestSessionToolCallRoundTrip(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`)
	if env.Error != nil {
		t.Fatalf("tools/call failed: %v", env.Error)
	}
	var result string
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result != "hi" {
		t.Fatalf("expected echoed message, got %q", result)
	}
}

func TestSessionUnknownTool(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"x","arguments":{}}}`)
	if env.Error == nil || env.Error.Code != toolbus.CodeToolNotFound {
		t.Fatalf("expected TOOL_NOT_FOUND, got %+v", env)
	}
	if env.Error.Message != "Unknown tool: x" {
		t.Fatalf("unexpected message: %s", env.Error.Message)
	}
}

func TestSessionInvalidToolArguments(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{}}}`)
	if env.Error == nil || env.Error.Code != toolbus.CodeInvalidArguments {
		t.Fatalf("expected INVALID_ARGUMENTS, got %+v", env)
	}
}

func TestSessionResourceReadRoundTrip(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":7,"method":"resources/read","params":{"uri":"scheme://known"}}`)
	if env.Error != nil {
		t.Fatalf("resources/read failed: %v", env.Error)
	}
	var result struct {
		Contents []toolbus.ResourceContents `json:"contents"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Contents) != 1 || result.Contents[0].Text != "known contents" {
		t.Fatalf("unexpected contents: %+v", result.Contents)
	}
}

func TestSessionUnknownResource(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":8,"method":"resources/read","params":{"uri":"scheme://missing"}}`)
	if env.Error == nil || env.Error.Code != toolbus.CodeResourceNotFound {
		t.Fatalf("expected RESOURCE_NOT_FOUND, got %+v", env)
	}
	if env.Error.Message != "Unknown resource: scheme://missing" {
		t.Fatalf("unexpected message: %s", env.Error.Message)
	}
}

func TestSessionSurvivesMalformedFrame(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":`)
	if env.Error == nil || env.Error.Code != toolbus.CodeParseError {
		t.Fatalf("expected PARSE_ERROR, got %+v", env)
	}
	if !env.ID.IsNull() {
		t.Fatalf("reply to an unparseable frame must carry a null id, got %s", env.ID)
	}

	// The connection stays open and usable.
	env = h.roundTrip(`{"jsonrpc":"2.0","id":9,"method":"tools/list"}`)
	if env.Error != nil {
		t.Fatalf("connection unusable after a malformed frame: %v", env.Error)
	}
}

type gatedToolBackend struct {
	started chan struct{}
	release chan struct{}
}

func (b *gatedToolBackend) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{Name: "slow", InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{})},
	}
}

func (b *gatedToolBackend) ExecuteTool(ctx context.Context, _ string, _ map[string]any) (any, error) {
	close(b.started)
	select {
	case <-b.release:
		return "slow done", nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSessionSlowCallDoesNotBlockIntake(t *testing.T) {
	transport := newMockTransport()
	backend := &gatedToolBackend{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	srv, err := toolbus.NewServer(
		toolbus.Info{Name: "test-server", Version: "1.0"},
		transport,
		toolbus.WithToolBackend(backend),
	)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	sess := newMockSession("sess-slow")
	transport.sessions <- sess

	serveDone := make(chan struct{})
	go func() {
		srv.Serve()
		close(serveDone)
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
		<-serveDone
	}()

	h := &sessionHarness{t: t, sess: sess}
	h.initialize()

	// Park a call in its executor, without waiting for the reply.
	select {
	case sess.incoming <- []byte(`{"jsonrpc":"2.0","id":"slow-1","method":"tools/call","params":{"name":"slow","arguments":{}}}`):
	case <-time.After(time.Second):
		t.Fatalf("timed out sending the slow call")
	}
	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatalf("the slow call never reached its executor")
	}

	// Intake keeps servicing requests while the call is parked.
	env := h.roundTrip(`{"jsonrpc":"2.0","id":"list-2","method":"tools/list"}`)
	if env.Error != nil {
		t.Fatalf("tools/list failed behind a parked call: %v", env.Error)
	}
	if string(env.ID) != `"list-2"` {
		t.Fatalf("expected the tools/list reply first, got id %s", env.ID)
	}

	// Releasing the executor completes the earlier call under its own id.
	close(backend.release)
	select {
	case frame := <-sess.outgoing:
		late, derr := toolbus.DecodeEnvelope(frame)
		if derr != nil {
			t.Fatalf("response is not a valid envelope: %v (%s)", derr, frame)
		}
		if string(late.ID) != `"slow-1"` {
			t.Fatalf("expected the slow call's id, got %s", late.ID)
		}
		if string(late.Result) != `"slow done"` {
			t.Fatalf("unexpected result: %s", late.Result)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the released call's reply")
	}
}

type cancelAwareBackend struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (b *cancelAwareBackend) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{Name: "wait", InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{})},
	}
}

func (b *cancelAwareBackend) ExecuteTool(ctx context.Context, _ string, _ map[string]any) (any, error) {
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return nil, ctx.Err()
}

func TestSessionCloseCancelsInFlightCall(t *testing.T) {
	transport := newMockTransport()
	backend := &cancelAwareBackend{
		started:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	srv, err := toolbus.NewServer(
		toolbus.Info{Name: "test-server", Version: "1.0"},
		transport,
		toolbus.WithToolBackend(backend),
	)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	sess := newMockSession("sess-cancel")
	transport.sessions <- sess

	serveDone := make(chan struct{})
	go func() {
		srv.Serve()
		close(serveDone)
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shutdown server: %v", err)
		}
		<-serveDone
	}()

	h := &sessionHarness{t: t, sess: sess}
	h.initialize()

	select {
	case sess.incoming <- []byte(`{"jsonrpc":"2.0","id":"wait-1","method":"tools/call","params":{"name":"wait","arguments":{}}}`):
	case <-time.After(time.Second):
		t.Fatalf("timed out sending the call")
	}
	select {
	case <-backend.started:
	case <-time.After(time.Second):
		t.Fatalf("the call never reached its executor")
	}

	// Ending the inbound stream closes the session; the parked executor must
	// observe its context being cancelled.
	close(sess.incoming)

	select {
	case <-backend.cancelled:
	case <-time.After(time.Second):
		t.Fatalf("the executor's context was not cancelled on session close")
	}
}

func TestSessionRejectsResponseShapedEnvelope(t *testing.T) {
	h := newSessionHarness(t)
	h.initialize()

	env := h.roundTrip(`{"jsonrpc":"2.0","id":10,"result":{"ok":true}}`)
	if env.Error == nil || env.Error.Code != toolbus.CodeInvalidEnvelope {
		t.Fatalf("expected INVALID_ENVELOPE for a response-shaped frame, got %+v", env)
	}
	if string(env.ID) != "10" {
		t.Fatalf("id not echoed: %s", env.ID)
	}
}
