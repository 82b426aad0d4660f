package atomicio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteStringCreatesFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "note.md")
	if err := WriteString(target, "hello\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("content = %q", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the target file to remain, got %v", entries)
	}
}

func TestWriteStringOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "note.md")
	if err := WriteString(target, "first\n"); err != nil {
		t.Fatal(err)
	}
	if err := WriteString(target, "second\n"); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "second\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestJoinWithNewline(t *testing.T) {
	cases := []struct{ left, right, want string }{
		{"", "b", "b"},
		{"a", "", "a"},
		{"a\n", "b", "a\nb"},
		{"a", "b", "a\nb"},
		{"a\n", "\nb", "a\n\nb"},
	}
	for _, c := range cases {
		if got := JoinWithNewline(c.left, c.right); got != c.want {
			t.Errorf("JoinWithNewline(%q,%q) = %q, want %q", c.left, c.right, got, c.want)
		}
	}
}
