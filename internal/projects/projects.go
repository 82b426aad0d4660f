// Package projects implements project discovery and scope scaffolding on
// top of the Path Validator and Mutation Engine: project_exists,
// list_projects, project_context, create_project_scaffold, and the
// underlying ensure_scope_scaffold used by onboarding. Grounded on
// app/mcp_projects.py.
package projects

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/braindrive/library-service/internal/errs"
	"github.com/braindrive/library-service/internal/pathvalidate"
)

// defaultProjectFiles mirrors DEFAULT_PROJECT_FILES: filename/content pairs
// in a fixed, meaningful order (unlike a map).
var defaultProjectFiles = []struct{ Name, Content string }{
	{"AGENT.md", "# Project Agent\n"},
	{"spec.md", "# Spec\n\n## Scope\nInitial scope.\n"},
	{"build-plan.md", "# Build Plan\n"},
	{"decisions.md", "# Decisions\n"},
	{"ideas.md", "# Ideas\n"},
}

var markdownExtensions = map[string]bool{".md": true, ".markdown": true}

func normalizeScopePath(raw string) string {
	return strings.Trim(strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/"), "/")
}

func scopeSlug(raw string) string {
	normalized := normalizeScopePath(raw)
	parts := nonEmptyParts(normalized)
	if len(parts) == 0 {
		return "scope"
	}
	if parts[0] == "life" && len(parts) >= 2 {
		return parts[1]
	}
	if parts[0] == "projects" && len(parts) >= 3 && (parts[1] == "active" || parts[1] == "archived") {
		return parts[2]
	}
	if parts[0] == "projects" && len(parts) >= 2 {
		return parts[1]
	}
	return parts[len(parts)-1]
}

func nonEmptyParts(normalized string) []string {
	var out []string
	for _, p := range strings.Split(normalized, "/") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var titleSeparator = regexp.MustCompile(`[-_]+`)

func scopeTitle(raw string) string {
	slug := scopeSlug(raw)
	title := strings.TrimSpace(titleSeparator.ReplaceAllString(slug, " "))
	if title == "" {
		return "Scope"
	}
	words := strings.Fields(title)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ScopeDefaultFiles returns the canonical filename->content scaffold for a
// scope path, varying by whether the scope lives under life/, capture/,
// projects/, or is otherwise unrecognized.
func ScopeDefaultFiles(rawPath string) map[string]string {
	normalized := normalizeScopePath(rawPath)
	title := scopeTitle(normalized)

	switch {
	case strings.HasPrefix(normalized, "life/"):
		lowered := strings.ToLower(title)
		return map[string]string{
			"AGENT.md": fmt.Sprintf("# %s Agent\n\nUse this folder for %s planning and execution.\n", title, lowered),
			"interview.md": fmt.Sprintf(
				"# %s Interview\n\n## Seed Questions\n1. What matters most in %s right now?\n2. What is working and what is not?\n3. What constraints are blocking progress?\n4. What would make the next 30 days successful?\n",
				title, lowered,
			),
			"spec.md":        fmt.Sprintf("# %s Spec\n\n## Current Reality\n\n## Desired Outcomes\n\n## Constraints\n\n## Success Criteria\n", title),
			"build-plan.md":  fmt.Sprintf("# %s Build Plan\n\n## Phase 1\n\n## Phase 2\n\n## Risks\n\n## Next Review\n", title),
			"goals.md":       fmt.Sprintf("# %s Goals\n\n## Current Goals\n\n", title),
			"action-plan.md": fmt.Sprintf("# %s Action Plan\n\n## Immediate Actions\n\n", title),
		}
	case normalized == "capture" || strings.HasPrefix(normalized, "capture/"):
		return map[string]string{
			"AGENT.md": "# Capture Agent\n\nCapture raw input in this scope and route intentionally.\n",
		}
	case strings.HasPrefix(normalized, "projects/"):
		defaults := map[string]string{}
		for _, f := range defaultProjectFiles {
			defaults[f.Name] = f.Content
		}
		defaults["AGENT.md"] = fmt.Sprintf("# %s Agent\n", title)
		defaults["spec.md"] = fmt.Sprintf("# %s\n", title)
		return defaults
	default:
		return map[string]string{
			"AGENT.md":      fmt.Sprintf("# %s Agent\n", title),
			"spec.md":       fmt.Sprintf("# %s Spec\n", title),
			"build-plan.md": fmt.Sprintf("# %s Build Plan\n", title),
		}
	}
}

// ScaffoldFile is one file to be written under a scope or project root.
type ScaffoldFile struct {
	Path    string
	Content string
}

// DefaultProjectFiles returns the ordered default project scaffold.
func DefaultProjectFiles() []ScaffoldFile {
	out := make([]ScaffoldFile, len(defaultProjectFiles))
	for i, f := range defaultProjectFiles {
		out[i] = ScaffoldFile{Path: f.Name, Content: f.Content}
	}
	return out
}

// ExistsResult reports whether a project directory was found among the
// candidate paths checked (name-based lookups probe multiple locations).
type ExistsResult struct {
	Path          string
	Exists        bool
	IsDir         bool
	Conflict      bool
	CheckedPaths  []string
	ConflictPaths []string
}

// Exists checks whether a project directory exists at rawPath, or — when
// name is given instead — at one of name's conventional project locations.
func Exists(libraryRoot, rawPath, name string) (ExistsResult, error) {
	var candidates []string
	if rawPath != "" {
		candidates = []string{rawPath}
	} else {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return ExistsResult{}, errs.New("INVALID_NAME", "Name must be a non-empty string.", map[string]any{"name": name})
		}
		if strings.ContainsAny(trimmed, "/\\") {
			candidates = []string{trimmed}
		} else {
			candidates = []string{"projects/active/" + trimmed, "projects/" + trimmed}
		}
	}

	var checked, conflicts []string
	var found string
	for _, candidate := range candidates {
		abs, err := pathvalidate.Validate(libraryRoot, candidate)
		if err != nil {
			return ExistsResult{}, err
		}
		if markdownExtensions[strings.ToLower(filepath.Ext(abs))] {
			return ExistsResult{}, errs.New("INVALID_PATH", "Project path must be a directory, not a markdown file.", map[string]any{"path": candidate})
		}
		rel, _ := filepath.Rel(libraryRoot, abs)
		rel = filepath.ToSlash(rel)
		checked = append(checked, rel)
		info, statErr := os.Stat(abs)
		if statErr == nil {
			if info.IsDir() {
				found = rel
				break
			}
			conflicts = append(conflicts, rel)
		}
	}

	exists := found != ""
	relative := found
	if relative == "" {
		relative = checked[0]
	}
	return ExistsResult{
		Path:          relative,
		Exists:        exists,
		IsDir:         exists,
		Conflict:      len(conflicts) > 0 && !exists,
		CheckedPaths:  checked,
		ConflictPaths: conflicts,
	}, nil
}

// ProjectRef is one entry in a project listing.
type ProjectRef struct {
	Name string
	Path string
}

// List returns the subdirectories of rawPath, defaulting to
// projects/active (falling back to projects/) when rawPath is empty.
func List(libraryRoot, rawPath string) ([]ProjectRef, string, error) {
	candidates := []string{rawPath}
	if rawPath == "" {
		candidates = []string{"projects/active", "projects"}
	}

	var resolved string
	var usedCandidate string
	for _, candidate := range candidates {
		abs, err := pathvalidate.Validate(libraryRoot, candidate)
		if err != nil {
			return nil, "", err
		}
		info, statErr := os.Stat(abs)
		if statErr != nil {
			continue
		}
		if !info.IsDir() {
			return nil, "", errs.New("INVALID_PATH", "Path must reference a directory.", map[string]any{"path": candidate})
		}
		resolved = abs
		usedCandidate = candidate
		break
	}
	if resolved == "" {
		return nil, "", errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": candidates[0]})
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, "", err
	}
	var projects []ProjectRef
	for _, e := range entries {
		info, infoErr := e.Info()
		if infoErr != nil || info.Mode()&os.ModeSymlink != 0 || !e.IsDir() {
			continue
		}
		rel, _ := filepath.Rel(libraryRoot, filepath.Join(resolved, e.Name()))
		projects = append(projects, ProjectRef{Name: e.Name(), Path: filepath.ToSlash(rel)})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, filepath.ToSlash(usedCandidate), nil
}

// ScaffoldFiles computes the on-disk file set for a project: explicit
// files are kept; any canonical default file not already present (by
// case-insensitive path) is appended.
func ScaffoldFiles(rawPath string, explicit []ScaffoldFile) []ScaffoldFile {
	defaults := ScopeDefaultFiles(rawPath)
	if len(explicit) == 0 {
		var out []ScaffoldFile
		for name, content := range defaults {
			out = append(out, ScaffoldFile{Path: name, Content: content})
		}
		return out
	}

	merged := append([]ScaffoldFile{}, explicit...)
	provided := map[string]bool{}
	for _, f := range explicit {
		provided[strings.ToLower(strings.Trim(strings.ReplaceAll(f.Path, "\\", "/"), "/"))] = true
	}
	for name, content := range defaults {
		if provided[strings.ToLower(name)] {
			continue
		}
		merged = append(merged, ScaffoldFile{Path: name, Content: content})
	}
	return merged
}

// EnsureScopeScaffoldFiles writes any missing canonical scaffold file for
// a scope path directly to disk (idempotent — existing files are left
// untouched) and returns the absolute paths it created.
func EnsureScopeScaffoldFiles(libraryRoot, scopePath string) ([]string, error) {
	normalized := normalizeScopePath(scopePath)
	defaults := ScopeDefaultFiles(normalized)

	var created []string
	for filename, content := range defaults {
		combined := strings.TrimSuffix(normalized, "/") + "/" + filename
		abs, err := pathvalidate.Validate(libraryRoot, combined)
		if err != nil {
			return created, err
		}
		if _, statErr := os.Stat(abs); statErr == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return created, err
		}
		if err := writeFile(abs, content); err != nil {
			return created, err
		}
		created = append(created, abs)
	}
	return created, nil
}

func writeFile(abs, content string) error {
	return os.WriteFile(abs, []byte(content), 0o644)
}

// ContextFile is one markdown file returned by Context.
type ContextFile struct {
	Path    string
	Content string
}

// Context gathers the canonical project files (or an explicit subset) and
// optionally the project's transcript file list.
func Context(libraryRoot, rawPath, name string, includeFiles []string, includeTranscripts bool) (files []ContextFile, missing []string, transcripts []string, err error) {
	var target string
	if rawPath != "" {
		target, err = pathvalidate.Validate(libraryRoot, rawPath)
	} else {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, nil, nil, errs.New("INVALID_NAME", "Name must be a non-empty string.", map[string]any{"name": name})
		}
		target, err = pathvalidate.Validate(libraryRoot, "projects/active/"+trimmed)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	info, statErr := os.Stat(target)
	if statErr != nil || !info.IsDir() {
		rel, _ := filepath.Rel(libraryRoot, target)
		return nil, nil, nil, errs.New("FILE_NOT_FOUND", "Project path does not exist.", map[string]any{"path": filepath.ToSlash(rel)})
	}

	wanted := includeFiles
	if len(wanted) == 0 {
		for _, f := range defaultProjectFiles {
			wanted = append(wanted, f.Name)
		}
	}
	for _, name := range wanted {
		candidate := filepath.Join(target, name)
		content, readErr := os.ReadFile(candidate)
		if readErr != nil {
			rel, _ := filepath.Rel(libraryRoot, candidate)
			missing = append(missing, filepath.ToSlash(rel))
			continue
		}
		rel, _ := filepath.Rel(libraryRoot, candidate)
		files = append(files, ContextFile{Path: filepath.ToSlash(rel), Content: string(content)})
	}

	if includeTranscripts {
		transcriptsRoot := filepath.Join(libraryRoot, "transcripts")
		_ = filepath.Walk(transcriptsRoot, func(p string, walkInfo os.FileInfo, walkErr error) error {
			if walkErr != nil || walkInfo.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(libraryRoot, p)
			transcripts = append(transcripts, filepath.ToSlash(rel))
			return nil
		})
		sort.Strings(transcripts)
	}

	return files, missing, transcripts, nil
}

// ResolveProjectPath returns the library-relative project path for a
// path-or-name payload, defaulting name-only requests to projects/active.
func ResolveProjectPath(rawPath, name string) (string, error) {
	if rawPath != "" {
		return rawPath, nil
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errs.New("INVALID_NAME", "Name must be a non-empty string.", map[string]any{"name": name})
	}
	if strings.ContainsAny(trimmed, "/\\") {
		return trimmed, nil
	}
	return "projects/active/" + trimmed, nil
}
