package mdedit

import "testing"

const doc = `# Title

## Scope

Initial scope.

## Risks

None yet.
`

func TestFindSection(t *testing.T) {
	bounds, found := FindSection(splitLines(doc), "Scope")
	if !found {
		t.Fatal("expected to find Scope section")
	}
	if bounds.Level != 2 {
		t.Fatalf("Level = %d", bounds.Level)
	}
}

func TestApplyAppend(t *testing.T) {
	out, err := Apply(doc, OpAppend, "", "## Notes\n\nmore\n")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out, "## Notes") {
		t.Fatalf("expected appended heading, got:\n%s", out)
	}
}

func TestApplyReplaceSection(t *testing.T) {
	out, err := Apply(doc, OpReplaceSection, "Scope", "## Scope\n\nUpdated scope.\n")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(out, "Updated scope.") || contains(out, "Initial scope.") {
		t.Fatalf("replace_section did not swap body, got:\n%s", out)
	}
	if !contains(out, "## Risks") {
		t.Fatal("expected trailing sections to survive")
	}
}

func TestApplySectionNotFound(t *testing.T) {
	if _, err := Apply(doc, OpReplaceSection, "Missing", "x"); err == nil {
		t.Fatal("expected SECTION_NOT_FOUND error")
	}
}

func TestClassifyRisk(t *testing.T) {
	cases := []struct {
		changed int
		want    Risk
	}{{1, RiskLow}, {5, RiskLow}, {6, RiskMedium}, {20, RiskMedium}, {21, RiskHigh}}
	for _, c := range cases {
		if got := ClassifyRisk(c.changed); got != c.want {
			t.Errorf("ClassifyRisk(%d) = %s, want %s", c.changed, got, c.want)
		}
	}
}

func TestUnifiedDiffCountsChanges(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nx\nc\n"
	diff, changed := UnifiedDiff("a.md", "b.md", before, after)
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	if !contains(diff, "-b") || !contains(diff, "+x") {
		t.Fatalf("diff missing expected lines:\n%s", diff)
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
