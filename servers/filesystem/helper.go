package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// resolve maps a client-supplied relative path onto the root and rejects
// anything that would land outside of it. Symlinked targets are checked
// against the root too; for paths that do not exist yet the parent directory
// must exist and be contained.
func (s *Server) resolve(requested string) (string, error) {
	joined := filepath.Join(s.root, filepath.Clean("/"+requested))

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(joined)
		realParent, err := filepath.EvalSymlinks(parent)
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("access denied - parent directory of %s does not exist", requested)
			}
			return "", err
		}
		if !isSubpath(realParent, s.root) {
			return "", fmt.Errorf("access denied - path %s outside root directory", requested)
		}
		return joined, nil
	}

	if !isSubpath(real, s.root) {
		return "", fmt.Errorf("access denied - path %s outside root directory", requested)
	}
	return real, nil
}

func isSubpath(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// editOperation replaces one exact occurrence of OldText with NewText.
type editOperation struct {
	OldText string
	NewText string
}

func applyEdits(content string, edits []editOperation) (string, error) {
	modified := normalizeLineEndings(content)

	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)

		if !strings.Contains(modified, oldText) {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		modified = strings.Replace(modified, oldText, newText, 1)
	}

	return modified, nil
}

func createUnifiedDiff(originalContent, newContent, path string) string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(normalizeLineEndings(originalContent), normalizeLineEndings(newContent), true)
	patches := dmp.PatchMake(diffs)

	var diff strings.Builder
	diff.WriteString(fmt.Sprintf("--- %s (original)\n", path))
	diff.WriteString(fmt.Sprintf("+++ %s (modified)\n", path))
	for _, patch := range patches {
		diff.WriteString(dmp.PatchToText([]diffmatchpatch.Patch{patch}))
	}

	return diff.String()
}
