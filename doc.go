// Package toolbus implements a shared request/response protocol engine that exposes
// heterogeneous backends (model inference, filesystems, relational stores, plain HTTP
// endpoints) as a uniform set of invocable tools and addressable resources.
//
// The engine owns connection lifecycle, message framing, method routing, capability
// negotiation and the error taxonomy; everything backend-specific is supplied through
// the ToolBackend and ResourceBackend interfaces, so a single client can discover and
// call any backend without knowing its wire format.
package toolbus
