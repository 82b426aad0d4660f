package projects

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/braindrive/library-service/internal/schema"
)

func seedLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if _, err := schema.EnsureScopedLibraryStructure(root, false, time.Now()); err != nil {
		t.Fatalf("EnsureScopedLibraryStructure: %v", err)
	}
	return root
}

func TestScopeDefaultFilesVariesByPrefix(t *testing.T) {
	life := ScopeDefaultFiles("life/finances")
	if _, ok := life["interview.md"]; !ok {
		t.Fatal("expected life scope to include interview.md")
	}

	project := ScopeDefaultFiles("projects/active/acme")
	if _, ok := project["decisions.md"]; !ok {
		t.Fatal("expected project scope to include decisions.md")
	}
	if _, ok := project["interview.md"]; ok {
		t.Fatal("project scope should not include interview.md")
	}

	capture := ScopeDefaultFiles("capture/inbox")
	if len(capture) != 1 {
		t.Fatalf("expected capture scope to have one default file, got %d", len(capture))
	}
}

func TestExistsFindsDirectoryByName(t *testing.T) {
	root := seedLibrary(t)
	if err := os.MkdirAll(filepath.Join(root, "projects", "active", "acme"), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := Exists(root, "", "acme")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !result.Exists || !result.IsDir {
		t.Fatalf("expected project to be found, got %+v", result)
	}
	if result.Path != "projects/active/acme" {
		t.Fatalf("unexpected path %q", result.Path)
	}
}

func TestExistsReportsConflictForFile(t *testing.T) {
	root := seedLibrary(t)
	if err := os.MkdirAll(filepath.Join(root, "projects"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "projects", "conflict"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Exists(root, "projects/conflict", "")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if result.Exists {
		t.Fatal("a non-directory should not report exists=true")
	}
	if !result.Conflict {
		t.Fatal("expected conflict to be reported")
	}
}

func TestListReturnsDirectoriesOnly(t *testing.T) {
	root := seedLibrary(t)
	if err := os.MkdirAll(filepath.Join(root, "projects", "active", "one"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "projects", "active", "two"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "projects", "active", "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, _, err := List(root, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 projects, got %d: %+v", len(list), list)
	}
	if list[0].Name != "one" || list[1].Name != "two" {
		t.Fatalf("expected sorted names, got %+v", list)
	}
}

func TestEnsureScopeScaffoldFilesIsIdempotent(t *testing.T) {
	root := seedLibrary(t)
	if err := os.MkdirAll(filepath.Join(root, "projects", "active", "acme"), 0o755); err != nil {
		t.Fatal(err)
	}

	created, err := EnsureScopeScaffoldFiles(root, "projects/active/acme")
	if err != nil {
		t.Fatalf("EnsureScopeScaffoldFiles: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("expected 5 default project files, got %d: %v", len(created), created)
	}

	second, err := EnsureScopeScaffoldFiles(root, "projects/active/acme")
	if err != nil {
		t.Fatalf("second EnsureScopeScaffoldFiles: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no files created on second run, got %v", second)
	}
}

func TestContextReturnsFilesAndMissing(t *testing.T) {
	root := seedLibrary(t)
	projectDir := filepath.Join(root, "projects", "active", "acme")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, "spec.md"), []byte("# Spec\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	files, missing, _, err := Context(root, "", "acme", nil, false)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if len(files) != 1 || files[0].Path != "projects/active/acme/spec.md" {
		t.Fatalf("unexpected files: %+v", files)
	}
	if len(missing) != 4 {
		t.Fatalf("expected 4 missing default files, got %d: %v", len(missing), missing)
	}
}

func TestResolveProjectPathDefaultsToActive(t *testing.T) {
	path, err := ResolveProjectPath("", "acme")
	if err != nil {
		t.Fatal(err)
	}
	if path != "projects/active/acme" {
		t.Fatalf("unexpected path %q", path)
	}

	explicit, err := ResolveProjectPath("projects/archived/old", "")
	if err != nil {
		t.Fatal(err)
	}
	if explicit != "projects/archived/old" {
		t.Fatalf("unexpected path %q", explicit)
	}
}
