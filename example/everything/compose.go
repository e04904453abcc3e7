package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluxwire/toolbus"
)

// composite fans the backend interfaces out over several concrete backends,
// presenting them to the protocol server as one. Tool names and resource
// prefixes must not collide across members; the registry build rejects
// duplicates.
type composite struct {
	tools     []toolbus.ToolBackend
	resources []toolbus.ResourceBackend
}

func (c *composite) addTools(backend toolbus.ToolBackend) {
	c.tools = append(c.tools, backend)
}

func (c *composite) addResources(backend toolbus.ResourceBackend) {
	c.resources = append(c.resources, backend)
}

func (c *composite) Tools() []toolbus.ToolSpec {
	var specs []toolbus.ToolSpec
	for _, backend := range c.tools {
		specs = append(specs, backend.Tools()...)
	}
	return specs
}

func (c *composite) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	for _, backend := range c.tools {
		for _, spec := range backend.Tools() {
			if spec.Name == name {
				return backend.ExecuteTool(ctx, name, args)
			}
		}
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

func (c *composite) Resources() []toolbus.ResourceSpec {
	var specs []toolbus.ResourceSpec
	for _, backend := range c.resources {
		specs = append(specs, backend.Resources()...)
	}
	return specs
}

// ResourcePrefixes merges the prefixes of members that claim any.
func (c *composite) ResourcePrefixes() []string {
	var prefixes []string
	for _, backend := range c.resources {
		if pb, ok := backend.(toolbus.PrefixResourceBackend); ok {
			prefixes = append(prefixes, pb.ResourcePrefixes()...)
		}
	}
	return prefixes
}

// ResolveResource routes like the registry does: exact URI match first, then
// the longest claimed prefix across all members.
func (c *composite) ResolveResource(ctx context.Context, uri string) (toolbus.ResourceContents, error) {
	for _, backend := range c.resources {
		for _, spec := range backend.Resources() {
			if spec.URI == uri {
				return backend.ResolveResource(ctx, uri)
			}
		}
	}

	var best toolbus.ResourceBackend
	bestLen := 0
	for _, backend := range c.resources {
		pb, ok := backend.(toolbus.PrefixResourceBackend)
		if !ok {
			continue
		}
		for _, prefix := range pb.ResourcePrefixes() {
			if strings.HasPrefix(uri, prefix) && len(prefix) > bestLen {
				best = backend
				bestLen = len(prefix)
			}
		}
	}
	if best != nil {
		return best.ResolveResource(ctx, uri)
	}

	return toolbus.ResourceContents{}, fmt.Errorf("resource not found: %s", uri)
}
