// Package pathvalidate enforces the library boundary: every user-supplied
// path must resolve underneath the tenant's library root, with no
// absolute paths, no ".." traversal, and no symlinked path segments.
// Mirrors validate_path's containment checks.
package pathvalidate

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/braindrive/library-service/internal/errs"
)

// Validate normalizes rawPath, rejects traversal/absolute/symlinked
// segments, and returns the absolute path under libraryRoot.
func Validate(libraryRoot, rawPath string) (string, error) {
	normalized := strings.ReplaceAll(rawPath, "\\", "/")
	cleaned := path.Clean("/" + normalized)
	parts := strings.Split(strings.Trim(cleaned, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		parts = nil
	}

	if strings.HasPrefix(normalized, "/") {
		return "", errs.New("ABSOLUTE_PATH", "Absolute paths are not allowed.", map[string]any{"path": rawPath})
	}
	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return "", errs.New("PATH_TRAVERSAL", "Path traversal is not allowed.", map[string]any{"path": rawPath})
		}
	}

	segments := strings.Split(strings.Trim(normalized, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = nil
	}

	if containsSymlink(libraryRoot, segments) {
		return "", errs.New("PATH_SYMLINK", "Symlinked paths are not allowed.", map[string]any{"path": rawPath})
	}

	return filepath.Join(append([]string{libraryRoot}, segments...)...), nil
}

func containsSymlink(libraryRoot string, segments []string) bool {
	current := libraryRoot
	for _, segment := range segments {
		current = filepath.Join(current, segment)
		info, err := os.Lstat(current)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}
