package toolbus

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer. A transport
// moves opaque frames; envelope validity is the engine's concern, so that a
// malformed frame is answered with a protocol error instead of being dropped
// at the transport.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they are
	// initiated. Each yielded Session represents a unique client connection.
	// The implementation must guarantee that session IDs are unique across all
	// active connections, and should exit the iteration when Shutdown is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the transport and releases its resources.
	// The caller is guaranteed to call this method only once, and stops the
	// sessions the transport produced itself.
	Shutdown(ctx context.Context) error
}

// Session is one persistent, ordered, bidirectional connection to a client.
// Frames are carried as raw bytes in arrival order.
type Session interface {
	// ID returns the unique identifier for this session.
	ID() string

	// Send transmits one frame to the client.
	Send(ctx context.Context, frame []byte) error

	// Messages returns an iterator that yields frames received from the
	// client in arrival order. The iteration ends when the session closes,
	// gracefully or abruptly.
	Messages() iter.Seq[[]byte]

	// Stop closes the session. The caller is guaranteed to call this method
	// at most once.
	Stop()
}

// ToolBackend is the adapter a backend supplies to expose invocable tools.
// The engine validates call arguments against each tool's input schema before
// ExecuteTool is reached, and surfaces any error it returns as a
// TOOL_EXECUTION_ERROR reply; a failing call never closes the connection.
//
// The ctx passed to ExecuteTool is cancelled when the session that issued the
// call closes. Cancellation is cooperative: the engine sets no timers and
// never force-stops a call, it only stops writing a response that would go
// nowhere.
type ToolBackend interface {
	// Tools declares the backend's tools. The engine snapshots the returned
	// specs once at server construction; order is preserved in tools/list.
	Tools() []ToolSpec

	// ExecuteTool invokes the named tool with validated arguments, defaults
	// already applied for omitted optional properties.
	ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error)
}

// ResourceBackend is the adapter a backend supplies to expose addressable
// resources. Resolution failures return an error and are surfaced as
// RESOURCE_READ_ERROR replies.
type ResourceBackend interface {
	// Resources declares the backend's resources. The engine snapshots the
	// returned specs once at server construction; order is preserved in
	// resources/list.
	Resources() []ResourceSpec

	// ResolveResource reads the object the URI addresses. It is only invoked
	// for URIs that matched a registered resource exactly or by prefix.
	ResolveResource(ctx context.Context, uri string) (ResourceContents, error)
}

// PrefixResourceBackend is an optional extension of ResourceBackend for
// backends whose resources form an open set under one or more URI prefixes
// (a filesystem subtree, a table namespace). Declared prefixes are routed to
// ResolveResource by longest match; backends that do not implement it are
// resolvable only by the exact URIs they list.
type PrefixResourceBackend interface {
	ResourceBackend

	// ResourcePrefixes returns the URI prefixes this backend claims.
	ResourcePrefixes() []string
}

// ToolSpec declares one invocable tool: a stable unique name, a human
// description, and the structural schema its call arguments must satisfy.
type ToolSpec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	InputSchema *InputSchema `json:"inputSchema,omitempty"`
}

// ResourceSpec declares one addressable resource. The URI is an opaque
// locator partitioned by a backend-chosen scheme prefix; the engine routes by
// exact or longest-prefix match and never interprets scheme semantics.
type ResourceSpec struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is the result of a resource read. Binary payloads are out
// of scope; backends that need them encode to text.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// Info identifies a server instance in the initialize handshake.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities is the immutable feature set negotiated at initialize time,
// declaring which categories the backend supports for the connection's
// remaining lifetime.
type Capabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
}

// ToolsCapability marks tool support.
type ToolsCapability struct{}

// ResourcesCapability marks resource support.
type ResourcesCapability struct{}

// The fixed method surface.
const (
	MethodInitialize    = "initialize"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

type initializeParams struct {
	ClientInfo   *Info          `json:"clientInfo,omitempty"`
	Capabilities map[string]any `json:"capabilities,omitempty"`
}

type initializeResult struct {
	Capabilities Capabilities `json:"capabilities"`
	ServerInfo   Info         `json:"serverInfo"`
}

type listToolsResult struct {
	Tools []ToolSpec `json:"tools"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type listResourcesResult struct {
	Resources []ResourceSpec `json:"resources"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type readResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}
