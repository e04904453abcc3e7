package filesystem

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/fluxwire/toolbus"
)

const uriScheme = "file://"

// Resources implements the toolbus.ResourceBackend interface. The root
// directory is the only enumerable resource; individual files are reachable
// through the claimed prefix.
func (s *Server) Resources() []toolbus.ResourceSpec {
	return []toolbus.ResourceSpec{
		{
			URI:         uriScheme,
			Name:        filepath.Base(s.root),
			Description: "Files under the served root directory",
			MimeType:    "inode/directory",
		},
	}
}

// ResourcePrefixes implements the toolbus.PrefixResourceBackend interface.
func (s *Server) ResourcePrefixes() []string {
	return []string{uriScheme}
}

// ResolveResource implements the toolbus.ResourceBackend interface. File URIs
// resolve to the file's text contents; the root URI and directory URIs
// resolve to a newline-separated listing.
func (s *Server) ResolveResource(_ context.Context, uri string) (toolbus.ResourceContents, error) {
	relPath := strings.TrimPrefix(uri, uriScheme)

	path, err := s.resolve(relPath)
	if err != nil {
		return toolbus.ResourceContents{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return toolbus.ResourceContents{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return toolbus.ResourceContents{}, fmt.Errorf("failed to read directory %s: %w", path, err)
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return toolbus.ResourceContents{
			URI:      uri,
			MimeType: "inode/directory",
			Text:     strings.Join(names, "\n"),
		}, nil
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return toolbus.ResourceContents{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "text/plain"
	}

	return toolbus.ResourceContents{
		URI:      uri,
		MimeType: mimeType,
		Text:     string(bs),
	}, nil
}
