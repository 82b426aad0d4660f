package onboarding

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

func TestReadStateDefaultsWhenMissing(t *testing.T) {
	root := seedLibrary(t)
	state, err := ReadState(root)
	if err != nil {
		t.Fatal(err)
	}
	if state.StarterTopics["finances"] != StatusNotStarted {
		t.Fatalf("expected not_started, got %q", state.StarterTopics["finances"])
	}
	if NextIncompleteTopic(state) != "finances" {
		t.Fatalf("expected finances to be next incomplete topic, got %q", NextIncompleteTopic(state))
	}
}

func TestStartTopicMarksInProgress(t *testing.T) {
	root := seedLibrary(t)
	state, seed, changedPath, err := StartTopic(root, "finances")
	if err != nil {
		t.Fatalf("StartTopic: %v", err)
	}
	if state.StarterTopics["finances"] != StatusInProgress {
		t.Fatalf("expected in_progress, got %q", state.StarterTopics["finances"])
	}
	if seed == "" {
		t.Fatal("expected non-empty interview seed")
	}
	if changedPath == "" {
		t.Fatal("expected changed path on first transition")
	}
}

func TestSaveApprovedContextAppendsAndPersists(t *testing.T) {
	root := seedLibrary(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	state, path, err := SaveApprovedContext(root, "career", "Wants a senior IC track.", now)
	if err != nil {
		t.Fatalf("SaveApprovedContext: %v", err)
	}
	if path != "life/career/interview.md" {
		t.Fatalf("path = %q", path)
	}
	if state.StarterTopics["career"] != StatusInProgress {
		t.Fatalf("expected in_progress, got %q", state.StarterTopics["career"])
	}
	data, err := os.ReadFile(filepath.Join(root, "life", "career", "interview.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(data), "Wants a senior IC track.") {
		t.Fatalf("expected approved context in interview.md, got %q", data)
	}
}

func TestCompleteTopicRecordsTimestampAndSummary(t *testing.T) {
	root := seedLibrary(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	state, changed, err := CompleteTopic(root, "fitness", "Run 3x a week.", now)
	if err != nil {
		t.Fatalf("CompleteTopic: %v", err)
	}
	if state.StarterTopics["fitness"] != StatusComplete {
		t.Fatalf("expected complete, got %q", state.StarterTopics["fitness"])
	}
	if state.CompletedAt["fitness"] == "" {
		t.Fatal("expected completed_at timestamp")
	}
	if len(changed) == 0 {
		t.Fatal("expected changed paths")
	}
	data, err := os.ReadFile(filepath.Join(root, "life", "fitness", "action-plan.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(data), "Run 3x a week.") {
		t.Fatalf("expected summary appended, got %q", data)
	}
}

func TestExtractProfileFactsAndRebuild(t *testing.T) {
	root := seedLibrary(t)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if _, _, err := SaveApprovedContext(root, "finances", "Wants a 6-month emergency fund.", now); err != nil {
		t.Fatal(err)
	}

	facts := ExtractProfileFacts(root, []string{"finances"})
	if len(facts) != 1 || !contains(facts[0], "Wants a 6-month emergency fund.") {
		t.Fatalf("unexpected facts: %v", facts)
	}

	merged := MergeFacts(NormalizeFacts([]string{"Explicit fact"}), facts)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged facts, got %v", merged)
	}

	changed, err := RebuildProfile(root, merged)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected profile.md to change")
	}
	data, err := os.ReadFile(filepath.Join(root, "me", "profile.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(data), "Explicit fact") {
		t.Fatalf("expected explicit fact in profile, got %q", data)
	}
}

func TestValidateTopicRejectsUnknown(t *testing.T) {
	if _, err := ValidateTopic("not-a-topic"); err == nil {
		t.Fatal("expected INVALID_TOPIC error")
	}
}

func TestSortedTopicsValidatesAndDedupes(t *testing.T) {
	topics, err := SortedTopics([]string{"career", "career", "finances"})
	if err != nil {
		t.Fatal(err)
	}
	if len(topics) != 2 || topics[0] != "finances" || topics[1] != "career" {
		t.Fatalf("unexpected topics: %v", topics)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
