package filesystem

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/cast"

	"github.com/fluxwire/toolbus"
)

// Tools implements the toolbus.ToolBackend interface.
func (s *Server) Tools() []toolbus.ToolSpec {
	return []toolbus.ToolSpec{
		{
			Name: "read_file",
			Description: "Read the complete contents of a file under the root directory. " +
				"The path is relative to the root; reading a directory fails.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"path": {Type: "string", Description: "Path relative to the root directory"},
			}, "path"),
		},
		{
			Name: "write_file",
			Description: "Create a new file or overwrite an existing file with the given content. " +
				"Missing parent directories are not created.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"path":    {Type: "string", Description: "Path relative to the root directory"},
				"content": {Type: "string", Description: "Full new file content"},
			}, "path", "content"),
		},
		{
			Name: "edit_file",
			Description: "Apply exact-match text replacements to a file and return a " +
				"unified diff of the changes. With dry_run the diff is returned without " +
				"writing the file.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"path":    {Type: "string", Description: "Path relative to the root directory"},
				"edits":   {Type: "array", Description: "Objects with old_text and new_text members, applied in order"},
				"dry_run": {Type: "boolean", Description: "Preview the diff without writing", Default: false},
			}, "path", "edits"),
		},
		{
			Name: "list_directory",
			Description: "List the entries of a directory, distinguishing files from " +
				"directories and reporting file sizes.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"path": {Type: "string", Description: "Path relative to the root directory", Default: "."},
			}),
		},
		{
			Name: "search_files",
			Description: "Recursively search the root for entries whose name contains the " +
				"pattern, case-insensitively. Glob exclude patterns filter the results.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"pattern": {Type: "string", Description: "Substring to match against entry names"},
				"path":    {Type: "string", Description: "Subtree to search, relative to the root", Default: "."},
				"exclude": {Type: "array", Description: "Glob patterns for relative paths to skip"},
			}, "pattern"),
		},
		{
			Name:        "get_file_info",
			Description: "Retrieve metadata for a file or directory: size, modification time, permissions and type.",
			InputSchema: toolbus.ObjectSchema(map[string]toolbus.PropertySchema{
				"path": {Type: "string", Description: "Path relative to the root directory"},
			}, "path"),
		},
	}
}

// ExecuteTool implements the toolbus.ToolBackend interface.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.logger.Debug("executing tool", slog.String("tool", name))

	switch name {
	case "read_file":
		return s.readFile(args)
	case "write_file":
		return s.writeFile(args)
	case "edit_file":
		return s.editFile(args)
	case "list_directory":
		return s.listDirectory(args)
	case "search_files":
		return s.searchFiles(ctx, args)
	case "get_file_info":
		return s.getFileInfo(args)
	default:
		return nil, fmt.Errorf("tool not found: %s", name)
	}
}

func (s *Server) readFile(args map[string]any) (any, error) {
	path, err := s.resolve(cast.ToString(args["path"]))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path %s is a directory, not a file", path)
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(bs), nil
}

func (s *Server) writeFile(args map[string]any) (any, error) {
	relPath := cast.ToString(args["path"])
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	content := cast.ToString(args["content"])
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", path, err)
	}

	return map[string]any{
		"path":    relPath,
		"written": len(content),
	}, nil
}

func (s *Server) editFile(args map[string]any) (any, error) {
	relPath := cast.ToString(args["path"])
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	edits, err := parseEdits(args["edits"])
	if err != nil {
		return nil, err
	}
	dryRun := cast.ToBool(args["dry_run"])

	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	modified, err := applyEdits(string(bs), edits)
	if err != nil {
		return nil, err
	}
	diff := createUnifiedDiff(string(bs), modified, relPath)

	if !dryRun {
		if err := os.WriteFile(path, []byte(modified), 0600); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	return map[string]any{
		"path":    relPath,
		"dry_run": dryRun,
		"diff":    diff,
	}, nil
}

func parseEdits(raw any) ([]editOperation, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("edits must be an array of objects")
	}

	edits := make([]editOperation, 0, len(items))
	for i, item := range items {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("edit %d is not an object", i)
		}
		oldText := cast.ToString(fields["old_text"])
		if oldText == "" {
			return nil, fmt.Errorf("edit %d is missing old_text", i)
		}
		edits = append(edits, editOperation{
			OldText: oldText,
			NewText: cast.ToString(fields["new_text"]),
		})
	}
	return edits, nil
}

func (s *Server) listDirectory(args map[string]any) (any, error) {
	path, err := s.resolve(cast.ToString(args["path"]))
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	result := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		kind := "file"
		var size int64
		if entry.IsDir() {
			kind = "directory"
		} else if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		result = append(result, map[string]any{
			"name": entry.Name(),
			"type": kind,
			"size": size,
		})
	}
	return result, nil
}

func (s *Server) searchFiles(ctx context.Context, args map[string]any) (any, error) {
	start, err := s.resolve(cast.ToString(args["path"]))
	if err != nil {
		return nil, err
	}

	excludes, err := compileExcludes(cast.ToStringSlice(args["exclude"]))
	if err != nil {
		return nil, err
	}
	pattern := strings.ToLower(cast.ToString(args["pattern"]))

	var matches []string
	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == start {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		for _, exclude := range excludes {
			if exclude.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if strings.Contains(strings.ToLower(d.Name()), pattern) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}

	if matches == nil {
		matches = []string{}
	}
	return matches, nil
}

func compileExcludes(patterns []string) ([]glob.Glob, error) {
	compiled := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		// Bare names exclude whole subtrees.
		if !strings.Contains(pattern, "*") {
			pattern = "**" + pattern + "**"
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}

func (s *Server) getFileInfo(args map[string]any) (any, error) {
	relPath := cast.ToString(args["path"])
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return map[string]any{
		"path":         relPath,
		"size":         info.Size(),
		"modified":     info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		"permissions":  info.Mode().Perm().String(),
		"is_directory": info.IsDir(),
	}, nil
}
