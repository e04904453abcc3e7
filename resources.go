package toolbus

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ResourceResolver reads the object a URI addresses. It is the
// backend-supplied function the registry invokes; its failure is surfaced as
// a RESOURCE_READ_ERROR reply.
type ResourceResolver func(ctx context.Context, uri string) (ResourceContents, error)

type prefixResolver struct {
	prefix  string
	resolve ResourceResolver
}

// ResourceRegistry declares the resources one backend instance exposes and
// routes read requests to their resolvers: exact URI match first, then the
// longest registered prefix. The engine never interprets scheme semantics.
// Registries are built once at server startup and are read-only afterwards.
type ResourceRegistry struct {
	order    []string
	specs    map[string]ResourceSpec
	exact    map[string]ResourceResolver
	prefixes []prefixResolver
}

// NewResourceRegistry returns an empty registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		specs: make(map[string]ResourceSpec),
		exact: make(map[string]ResourceResolver),
	}
}

// NewResourceRegistryFromBackend builds a registry from a backend adapter:
// every declared spec resolves through the backend, and backends implementing
// PrefixResourceBackend additionally claim their URI prefixes.
func NewResourceRegistryFromBackend(backend ResourceBackend) (*ResourceRegistry, error) {
	r := NewResourceRegistry()
	for _, spec := range backend.Resources() {
		if err := r.Register(spec, backend.ResolveResource); err != nil {
			return nil, err
		}
	}
	if pb, ok := backend.(PrefixResourceBackend); ok {
		for _, prefix := range pb.ResourcePrefixes() {
			if err := r.RegisterPrefix(prefix, backend.ResolveResource); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Register adds a resource resolved by exact URI match. URIs must be unique.
func (r *ResourceRegistry) Register(spec ResourceSpec, resolve ResourceResolver) error {
	if spec.URI == "" {
		return fmt.Errorf("resource URI must not be empty")
	}
	if _, ok := r.specs[spec.URI]; ok {
		return fmt.Errorf("duplicate resource URI: %s", spec.URI)
	}
	if resolve == nil {
		return fmt.Errorf("resource %s has no resolver", spec.URI)
	}

	r.order = append(r.order, spec.URI)
	r.specs[spec.URI] = spec
	r.exact[spec.URI] = resolve
	return nil
}

// RegisterPrefix routes every URI under the given prefix to the resolver.
// Prefixes compete by length: the longest match wins.
func (r *ResourceRegistry) RegisterPrefix(prefix string, resolve ResourceResolver) error {
	if prefix == "" {
		return fmt.Errorf("resource prefix must not be empty")
	}
	for _, pr := range r.prefixes {
		if pr.prefix == prefix {
			return fmt.Errorf("duplicate resource prefix: %s", prefix)
		}
	}
	if resolve == nil {
		return fmt.Errorf("resource prefix %s has no resolver", prefix)
	}

	r.prefixes = append(r.prefixes, prefixResolver{prefix: prefix, resolve: resolve})
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
	return nil
}

// List returns the declared specs in declaration order. The result is a copy;
// the registry itself stays immutable.
func (r *ResourceRegistry) List() []ResourceSpec {
	specs := make([]ResourceSpec, 0, len(r.order))
	for _, uri := range r.order {
		specs = append(specs, r.specs[uri])
	}
	return specs
}

// Read resolves the URI and returns its contents. URIs with no exact or
// prefix match are rejected without invoking any resolver; a resolver's own
// failure is reported as a read error.
func (r *ResourceRegistry) Read(ctx context.Context, uri string) (ResourceContents, *Error) {
	resolve, ok := r.exact[uri]
	if !ok {
		for _, pr := range r.prefixes {
			if strings.HasPrefix(uri, pr.prefix) {
				resolve = pr.resolve
				ok = true
				break
			}
		}
	}
	if !ok {
		return ResourceContents{}, Errorf(CodeResourceNotFound, "Unknown resource: %s", uri)
	}

	contents, err := resolve(ctx, uri)
	if err != nil {
		return ResourceContents{}, Errorf(CodeResourceReadError, "%s", err.Error())
	}
	return contents, nil
}
