package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluxwire/toolbus"
)

const modelPrefix = "model://"

// Resources implements the toolbus.ResourceBackend interface. The model
// catalog is an open set owned by the daemon, so only the namespace is
// enumerated; individual models are reachable through the claimed prefix.
func (s *Server) Resources() []toolbus.ResourceSpec {
	return []toolbus.ResourceSpec{
		{
			URI:         modelPrefix,
			Name:        "models",
			Description: "Models available on the inference daemon",
			MimeType:    "text/plain",
		},
	}
}

// ResourcePrefixes implements the toolbus.PrefixResourceBackend interface.
func (s *Server) ResourcePrefixes() []string {
	return []string{modelPrefix}
}

// ResolveResource implements the toolbus.ResourceBackend interface. A model
// URI resolves to that model's catalog entry; the bare namespace URI resolves
// to the full model list.
func (s *Server) ResolveResource(ctx context.Context, uri string) (toolbus.ResourceContents, error) {
	name := strings.TrimPrefix(uri, modelPrefix)

	var catalog listModelsResponse
	if err := s.get(ctx, "/api/tags", &catalog); err != nil {
		return toolbus.ResourceContents{}, err
	}

	if name == "" {
		names := make([]string, 0, len(catalog.Models))
		for _, model := range catalog.Models {
			names = append(names, model.Name)
		}
		return toolbus.ResourceContents{
			URI:      uri,
			MimeType: "text/plain",
			Text:     strings.Join(names, "\n"),
		}, nil
	}

	for _, model := range catalog.Models {
		if model.Name == name {
			return toolbus.ResourceContents{
				URI:      uri,
				MimeType: "text/plain",
				Text: fmt.Sprintf("name: %s\nsize: %d\nmodified_at: %s\n",
					model.Name, model.Size, model.ModifiedAt),
			}, nil
		}
	}

	return toolbus.ResourceContents{}, fmt.Errorf("model not found: %s", name)
}
