package digest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/braindrive/library-service/internal/schema"
	"github.com/braindrive/library-service/internal/tasks"
)

func seedLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if _, err := schema.EnsureScopedLibraryStructure(root, false, time.Now()); err != nil {
		t.Fatalf("EnsureScopedLibraryStructure: %v", err)
	}
	return root
}

func TestBuildSnapshotFiltersOpenTasks(t *testing.T) {
	root := seedLibrary(t)
	content := "- [ ] T-001 | p0 | owner:ada | project:core | Ship release\n" +
		"- [x] T-002 | p1 | owner:bo | project:core | Done already\n"
	os.WriteFile(filepath.Join(root, "pulse", "index.md"), []byte(content), 0o644)

	snapshot, err := BuildSnapshot(root, "", "", "", "", false, 10, nil, 50)
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	if len(snapshot.Tasks) != 1 || snapshot.Tasks[0].ID != 1 {
		t.Fatalf("unexpected open tasks: %+v", snapshot.Tasks)
	}
}

func TestScoreTasksSortsDescending(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	items := []tasks.Task{
		{ID: 1, Priority: "p3"},
		{ID: 2, Priority: "p0"},
	}
	scored := ScoreTasks(items, "", now)
	if scored[0].Task.ID != 2 {
		t.Fatalf("expected p0 task first, got %+v", scored)
	}
}

func TestRollupPeriodRendersAndCommits(t *testing.T) {
	root := seedLibrary(t)
	day := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	dailyDir := filepath.Join(root, "digest", "daily", "2026", "08")
	os.MkdirAll(dailyDir, 0o755)
	os.WriteFile(filepath.Join(dailyDir, "2026-08-01.md"), []byte("Shipped the thing.\n"), 0o644)

	result, err := RollupPeriod(root, PeriodMonth, day)
	if err != nil {
		t.Fatalf("RollupPeriod: %v", err)
	}
	if !result.Changed || result.CommitSHA == "" {
		t.Fatalf("expected a committed change: %+v", result)
	}
	if result.DailyCount != 1 {
		t.Fatalf("expected 1 daily entry, got %d", result.DailyCount)
	}

	data, err := os.ReadFile(filepath.Join(root, result.Path))
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(data), "Shipped the thing.") {
		t.Fatalf("expected rollup to include daily content, got %q", data)
	}

	// A second run with no new daily entries renders the same rollup from
	// the same single daily entry.
	secondRun, err := RollupPeriod(root, PeriodMonth, day)
	if err != nil {
		t.Fatalf("second RollupPeriod: %v", err)
	}
	if secondRun.DailyCount != 1 {
		t.Fatalf("expected daily count to remain 1, got %d", secondRun.DailyCount)
	}
}

func TestRollupPeriodRejectsInvalidPeriod(t *testing.T) {
	root := seedLibrary(t)
	if _, err := RollupPeriod(root, "decade", time.Now()); err == nil {
		t.Fatal("expected INVALID_PERIOD error")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
