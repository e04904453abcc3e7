package main

import (
	"context"
	"testing"

	"github.com/fluxwire/toolbus"
)

// prefixBackend claims one prefix and resolves everything under it to a
// fixed marker, so routing decisions are observable.
type prefixBackend struct {
	prefix string
	marker string
}

func (b prefixBackend) Resources() []toolbus.ResourceSpec {
	return []toolbus.ResourceSpec{
		{URI: b.prefix, Name: b.marker},
	}
}

func (b prefixBackend) ResourcePrefixes() []string {
	return []string{b.prefix}
}

func (b prefixBackend) ResolveResource(_ context.Context, uri string) (toolbus.ResourceContents, error) {
	return toolbus.ResourceContents{URI: uri, Text: b.marker}, nil
}

func TestCompositeResolvesByLongestPrefix(t *testing.T) {
	backends := &composite{}
	// Registered shortest-first, so first-match routing would pick wrong.
	backends.addResources(prefixBackend{prefix: "a://", marker: "outer"})
	backends.addResources(prefixBackend{prefix: "a://nested/", marker: "inner"})

	contents, err := backends.ResolveResource(context.Background(), "a://nested/object")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if contents.Text != "inner" {
		t.Fatalf("Expected the longest prefix to win, got %q", contents.Text)
	}

	contents, err = backends.ResolveResource(context.Background(), "a://object")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if contents.Text != "outer" {
		t.Fatalf("Expected the shorter prefix for a non-nested URI, got %q", contents.Text)
	}

	if _, err := backends.ResolveResource(context.Background(), "b://object"); err == nil {
		t.Fatal("Expected an error for an unclaimed URI")
	}
}
