package schema

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnsureScopedLibraryStructureCreatesTree(t *testing.T) {
	root := t.TempDir()
	result, err := EnsureScopedLibraryStructure(root, true, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EnsureScopedLibraryStructure: %v", err)
	}
	if len(result.CreatedPaths) == 0 {
		t.Fatal("expected created paths")
	}
	for _, dir := range []string{"capture/inbox", "life/finances", "pulse/completed", "digest/daily"} {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", dir, err)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "life", "finances", "spec.md")); err != nil {
		t.Fatalf("expected finances spec.md: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".braindrive", "schema-version.json")); err != nil {
		t.Fatalf("expected schema version marker: %v", err)
	}
}

func TestEnsureScopedLibraryStructureIsIdempotent(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureScopedLibraryStructure(root, true, time.Now()); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(root, "pulse", "index.md")
	os.WriteFile(marker, []byte("# custom content\n"), 0o644)

	if _, err := EnsureScopedLibraryStructure(root, true, time.Now()); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(marker)
	if string(data) != "# custom content\n" {
		t.Fatalf("expected existing file preserved, got %q", data)
	}
}

func TestMigrateLegacyAgents(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "capture"), 0o755)
	os.WriteFile(filepath.Join(root, "capture", "agents.md"), []byte("legacy content"), 0o644)

	result, err := EnsureScopedLibraryStructure(root, false, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range result.MigratedPaths {
		if p == "capture/AGENT.md" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected capture/AGENT.md in migrated paths, got %v", result.MigratedPaths)
	}
	data, err := os.ReadFile(filepath.Join(root, "capture", "AGENT.md"))
	if err != nil || string(data) != "legacy content" {
		t.Fatalf("expected migrated content, got %q err=%v", data, err)
	}
}

func TestIsUpgrade(t *testing.T) {
	if !IsUpgrade("v2.2.0") {
		t.Fatal("expected v2.2.0 to be an upgrade over " + Version)
	}
	if IsUpgrade("v1.0.0") {
		t.Fatal("did not expect v1.0.0 to be an upgrade")
	}
}

func TestManifestRoundTrip(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "share", "templates"), 0o755)

	manifest, err := ReadManifest(root)
	if err != nil {
		t.Fatal(err)
	}
	manifest = UpsertTemplate(manifest, TemplateEntry{Name: "weekly-review", Path: "weekly-review.md"})
	if err := WriteManifest(root, manifest); err != nil {
		t.Fatal(err)
	}

	reloaded, err := ReadManifest(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Templates) != 1 || reloaded.Templates[0].Name != "weekly-review" {
		t.Fatalf("unexpected manifest: %+v", reloaded)
	}
}
