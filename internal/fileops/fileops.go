// Package fileops implements the non-markdown Path Operations: list,
// metadata, move, copy, and delete, each collecting the
// relative paths that change so the Mutation Engine can commit and
// journal them as one unit. Grounded on app/mcp_files.py.
package fileops

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/braindrive/library-service/internal/errs"
)

// Entry describes one directory listing result.
type Entry struct {
	Path  string
	IsDir bool
}

// ListDirectory lists immediate children of dir (relative to libraryRoot),
// or the full recursive tree when recursive is true. Symlinked entries are
// skipped, matching the original's followlinks=False walk.
func ListDirectory(libraryRoot, dir string, recursive, includeFiles, includeDirs bool) ([]string, []string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": dir})
		}
		return nil, nil, err
	}
	if !info.IsDir() {
		return nil, nil, errs.New("INVALID_PATH", "Path must reference a directory.", map[string]any{"path": dir})
	}

	var files, dirs []string
	if recursive {
		err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || p == dir {
				return nil
			}
			if isSymlink(p) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			rel, _ := filepath.Rel(libraryRoot, p)
			rel = filepath.ToSlash(rel)
			if d.IsDir() {
				if includeDirs {
					dirs = append(dirs, rel)
				}
			} else if includeFiles {
				files = append(files, rel)
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			if isSymlink(full) {
				continue
			}
			rel, _ := filepath.Rel(libraryRoot, full)
			rel = filepath.ToSlash(rel)
			if e.IsDir() {
				if includeDirs {
					dirs = append(dirs, rel)
				}
			} else if includeFiles {
				files = append(files, rel)
			}
		}
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs, nil
}

// Metadata is the result of read_file_metadata.
type Metadata struct {
	Path         string
	IsDir        bool
	IsFile       bool
	SizeBytes    int64
	LastModified time.Time
}

// ReadMetadata stats path and returns its metadata.
func ReadMetadata(libraryRoot, path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": path})
		}
		return Metadata{}, err
	}
	rel, _ := filepath.Rel(libraryRoot, path)
	return Metadata{
		Path:         filepath.ToSlash(rel),
		IsDir:        info.IsDir(),
		IsFile:       !info.IsDir(),
		SizeBytes:    info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// CollectFilePaths returns every regular file under target (or target
// itself if it is a file) as a path relative to libraryRoot, excluding
// anything under .git.
func CollectFilePaths(libraryRoot, target string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		rel, _ := filepath.Rel(libraryRoot, target)
		rel = filepath.ToSlash(rel)
		if isUnderGit(rel) {
			return nil, nil
		}
		return []string{rel}, nil
	}

	var out []string
	err = filepath.WalkDir(target, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(libraryRoot, p)
		rel = filepath.ToSlash(rel)
		if isUnderGit(rel) {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	return out, err
}

// Move relocates source to destination, removing any existing destination
// first when overwrite is true, and returns the union of relative paths
// that changed (files that moved out plus files that landed).
func Move(libraryRoot, source, destination string, overwrite bool) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("FILE_NOT_FOUND", "Source path does not exist.", map[string]any{"path": source})
		}
		return nil, err
	}
	_ = info
	if _, err := os.Stat(destination); err == nil {
		if !overwrite {
			return nil, errs.New("PATH_EXISTS", "Destination already exists.", map[string]any{"path": destination})
		}
		if err := os.RemoveAll(destination); err != nil {
			return nil, err
		}
	}

	prePaths, err := CollectFilePaths(libraryRoot, source)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, err
	}
	if err := os.Rename(source, destination); err != nil {
		return nil, err
	}
	postPaths, err := CollectFilePaths(libraryRoot, destination)
	if err != nil {
		return nil, err
	}
	return unionPaths(prePaths, postPaths), nil
}

// Copy duplicates source to destination, removing any existing destination
// first when overwrite is true, and returns the relative paths created.
func Copy(libraryRoot, source, destination string, overwrite bool) ([]string, error) {
	info, err := os.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("FILE_NOT_FOUND", "Source path does not exist.", map[string]any{"path": source})
		}
		return nil, err
	}
	if _, err := os.Stat(destination); err == nil {
		if !overwrite {
			return nil, errs.New("PATH_EXISTS", "Destination already exists.", map[string]any{"path": destination})
		}
		if err := os.RemoveAll(destination); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, err
	}
	if info.IsDir() {
		if err := copyTree(source, destination); err != nil {
			return nil, err
		}
	} else {
		if err := copyFile(source, destination); err != nil {
			return nil, err
		}
	}
	return CollectFilePaths(libraryRoot, destination)
}

// Delete removes target (recursively for directories when recursive is
// true) and returns the relative paths that were removed.
func Delete(libraryRoot, target string, recursive bool) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": target})
		}
		return nil, err
	}
	if info.IsDir() && !recursive {
		return nil, errs.New("RECURSIVE_REQUIRED", "Directory deletion requires recursive=true.", map[string]any{"path": target})
	}

	prePaths, err := CollectFilePaths(libraryRoot, target)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		err = os.RemoveAll(target)
	} else {
		err = os.Remove(target)
	}
	if err != nil {
		return nil, err
	}
	return prePaths, nil
}

// PathMapping describes one source->destination relocation for a preview.
type PathMapping struct {
	From string
	To   string
}

// PreviewMappings builds the from/to mapping list and conflict list for a
// move or copy without performing it.
func PreviewMappings(libraryRoot, source, destination string) ([]PathMapping, []string, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, nil, err
	}
	var mappings []PathMapping
	var conflicts []string

	if !info.IsDir() {
		dest := destination
		if destInfo, err := os.Stat(destination); err == nil && destInfo.IsDir() {
			dest = filepath.Join(destination, filepath.Base(source))
		}
		relFrom, _ := filepath.Rel(libraryRoot, source)
		relTo, _ := filepath.Rel(libraryRoot, dest)
		mappings = append(mappings, PathMapping{From: filepath.ToSlash(relFrom), To: filepath.ToSlash(relTo)})
		if _, err := os.Stat(dest); err == nil {
			conflicts = append(conflicts, filepath.ToSlash(relTo))
		}
		return mappings, conflicts, nil
	}

	err = filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(source, p)
		dest := filepath.Join(destination, rel)
		relFrom, _ := filepath.Rel(libraryRoot, p)
		relTo, _ := filepath.Rel(libraryRoot, dest)
		mappings = append(mappings, PathMapping{From: filepath.ToSlash(relFrom), To: filepath.ToSlash(relTo)})
		if _, err := os.Stat(dest); err == nil {
			conflicts = append(conflicts, filepath.ToSlash(relTo))
		}
		return nil
	})
	return mappings, conflicts, err
}

func unionPaths(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range a {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func copyFile(source, destination string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	return os.WriteFile(destination, data, info.Mode().Perm())
}

func copyTree(source, destination string) error {
	return filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func isUnderGit(relPath string) bool {
	for _, seg := range pathSegments(relPath) {
		if seg == ".git" {
			return true
		}
	}
	return false
}

func pathSegments(p string) []string {
	p = filepath.ToSlash(p)
	var segs []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				segs = append(segs, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		segs = append(segs, p[start:])
	}
	return segs
}

func isSymlink(p string) bool {
	info, err := os.Lstat(p)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}
