// Package atomicio writes files atomically: a temp file is created beside
// the target, written, flushed, fsynced, then renamed into place. Grounded
// on app/mcp_utils.py's _atomic_write/_atomic_write_bytes and on the
// teacher's temp-file-then-rename pattern in internal/daemon/registry.go.
package atomicio

import (
	"os"
	"path/filepath"
)

// WriteString atomically writes text content to targetPath.
func WriteString(targetPath, content string) error {
	return writeBytes(targetPath, []byte(content))
}

// WriteBytes atomically writes binary content to targetPath.
func WriteBytes(targetPath string, content []byte) error {
	return writeBytes(targetPath, content)
}

func writeBytes(targetPath string, content []byte) error {
	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, ".atomicio-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return err
	}
	cleanup = false
	syncDir(dir)
	return nil
}

// JoinWithNewline concatenates left and right with exactly one newline
// between them, unless either side is empty or already carries one at the
// seam. Mirrors app/mcp_utils.py's _join_with_newline.
func JoinWithNewline(left, right string) string {
	if left == "" || right == "" {
		return left + right
	}
	if left[len(left)-1] == '\n' || right[0] == '\n' {
		return left + right
	}
	return left + "\n" + right
}
