package activity

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendAndReadSince(t *testing.T) {
	dir := t.TempDir()
	e1 := Build("create_task", "pulse/index.md", "create task", "abc123")
	if err := Append(dir, e1); err != nil {
		t.Fatalf("Append: %v", err)
	}
	e2 := Build("complete_task", "pulse/completed/2026-08.md", "complete task", "def456")
	if err := Append(dir, e2); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err := ReadSince(dir, nil, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != e1.ID || entries[1].ID != e2.ID {
		t.Fatalf("entries out of order: %+v", entries)
	}
}

func TestReadSinceSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	content := `{"id":"act-1","timestamp":"2026-01-01T00:00:00Z","operation":"create_task","path":"a","summary":"x"}
not json at all
{"id":"act-2","timestamp":"2026-01-02T00:00:00Z","operation":"create_task","path":"b","summary":"y"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := ReadSince(dir, nil, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 valid entries, got %d", len(entries))
	}
}

func TestReadSinceAppliesLimit(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		Append(dir, Build("create_task", "pulse/index.md", "create task", ""))
	}
	entries, err := ReadSince(dir, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestReadSinceFiltersByTime(t *testing.T) {
	dir := t.TempDir()
	old := Entry{ID: "act-old", Timestamp: "2020-01-01T00:00:00Z", Operation: "create_task", Path: "a", Summary: "x"}
	recent := Entry{ID: "act-new", Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Operation: "create_task", Path: "b", Summary: "y"}
	Append(dir, old)
	Append(dir, recent)

	cutoff := time.Now().Add(-time.Hour)
	entries, err := ReadSince(dir, &cutoff, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "act-new" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestReadSinceMissingFile(t *testing.T) {
	dir := t.TempDir()
	os.Remove(filepath.Join(dir, filename))
	entries, err := ReadSince(dir, nil, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %v", entries)
	}
}
