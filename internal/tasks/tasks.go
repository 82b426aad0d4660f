// Package tasks implements the Task Ledger: pipe-delimited task lines in
// pulse/index.md, monthly completion roll-off into pulse/completed/YYYY-MM.md,
// and the priority scoring formula used by the Digest Rollup. Grounded on
// app/mcp_tasks.py and app/mcp_digest.py's _score_task.
package tasks

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/braindrive/library-service/internal/errs"
)

var taskLinePattern = regexp.MustCompile(`^- \[([ xX])\] T-(\d+)\s*\|\s*(.*)$`)

// Task is one ledger entry.
type Task struct {
	ID       int
	Status   string // " " open, "x" complete
	Title    string
	Priority string
	Owner    string
	Tags     []string
	Project  string
	Due      string
	Raw      string
}

var dueParser = buildDueParser()

func buildDueParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ResolveDue accepts either an ISO date or a natural-language phrase
// ("next friday", "in 3 days") and returns an ISO 8601 date/time string.
func ResolveDue(raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return raw, nil
	}
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return raw, nil
	}
	result, err := dueParser.Parse(raw, now)
	if err != nil || result == nil {
		return "", errs.New("INVALID_DATE", "due must be ISO format or a recognizable phrase.", map[string]any{"due": raw})
	}
	return result.Time.Format(time.RFC3339), nil
}

// Parse splits markdown content into the full list of lines and the
// subset that parse as task lines.
func Parse(content string) ([]Task, []string) {
	var tasksOut []Task
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			continue // trailing newline produces one empty element
		}
		match := taskLinePattern.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			continue
		}
		id, _ := strconv.Atoi(match[2])
		status := " "
		if strings.EqualFold(match[1], "x") {
			status = "x"
		}
		task := Task{ID: id, Status: status, Raw: line}
		var titleParts []string
		for _, part := range splitNonEmpty(match[3], "|") {
			part = strings.TrimSpace(part)
			switch {
			case strings.HasPrefix(part, "p") && len(part) <= 3:
				task.Priority = part
			case strings.HasPrefix(part, "owner:"):
				task.Owner = strings.TrimSpace(strings.TrimPrefix(part, "owner:"))
			case strings.HasPrefix(part, "tags:"):
				task.Tags = splitNonEmpty(strings.TrimPrefix(part, "tags:"), ",")
			case strings.HasPrefix(part, "project:"):
				task.Project = strings.TrimSpace(strings.TrimPrefix(part, "project:"))
			case strings.HasPrefix(part, "due:"):
				task.Due = strings.TrimSpace(strings.TrimPrefix(part, "due:"))
			default:
				titleParts = append(titleParts, part)
			}
		}
		task.Title = strings.TrimSpace(strings.Join(titleParts, " | "))
		tasksOut = append(tasksOut, task)
	}
	return tasksOut, lines
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// FormatLine renders a Task back into its pipe-delimited markdown line.
func FormatLine(t Task) string {
	var parts []string
	if t.Priority != "" {
		parts = append(parts, t.Priority)
	}
	if t.Owner != "" {
		parts = append(parts, "owner:"+t.Owner)
	}
	if len(t.Tags) > 0 {
		parts = append(parts, "tags:"+strings.Join(t.Tags, ","))
	}
	if t.Project != "" {
		parts = append(parts, "project:"+t.Project)
	}
	if t.Due != "" {
		parts = append(parts, "due:"+t.Due)
	}
	if t.Title != "" {
		parts = append(parts, t.Title)
	}
	status := t.Status
	if status == "" {
		status = " "
	}
	line := fmt.Sprintf("- [%s] T-%03d | %s", status, t.ID, strings.Join(parts, " | "))
	return strings.TrimRight(line, " ")
}

// NextID returns one greater than the highest existing task id, or 1.
func NextID(all []Task) int {
	max := 0
	for _, t := range all {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}

// Filter narrows tasks by optional owner/priority/tag/project criteria.
func Filter(all []Task, owner, priority, tag, project string) []Task {
	var out []Task
	for _, t := range all {
		if owner != "" && t.Owner != owner {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		if tag != "" && !containsTag(t.Tags, tag) {
			continue
		}
		if project != "" && t.Project != project {
			continue
		}
		out = append(out, t)
	}
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CompletedPath returns pulse/completed/<YYYY-MM>.md for now.
func CompletedPath(now time.Time) string {
	return "pulse/completed/" + now.Format("2006-01") + ".md"
}

// Score implements the digest ranking formula: priority weight, a
// focus-project bonus, a "blocked" tag penalty, and an urgency bonus
// scaled by days until due.
func Score(t Task, focusProject string, now time.Time) (int, []string) {
	var reasons []string
	score := 0

	priority := t.Priority
	if priority == "" {
		priority = "p2"
	}
	priorityScores := map[string]int{"p0": 100, "p1": 70, "p2": 40, "p3": 20}
	weight, ok := priorityScores[priority]
	if !ok {
		weight = 10
	}
	score += weight
	reasons = append(reasons, "priority:"+priority)

	if focusProject != "" && t.Project == focusProject {
		score += 10
		reasons = append(reasons, "focus_project")
	}
	if containsTag(t.Tags, "blocked") {
		score -= 100
		reasons = append(reasons, "blocked")
	}

	if t.Due != "" {
		if due, err := time.Parse(time.RFC3339, t.Due); err == nil {
			days := int(due.Sub(now).Hours() / 24)
			switch {
			case days <= 0:
				score += 30
				reasons = append(reasons, "due_overdue")
			case days <= 1:
				score += 25
				reasons = append(reasons, "due_1d")
			case days <= 3:
				score += 20
				reasons = append(reasons, "due_3d")
			case days <= 7:
				score += 10
				reasons = append(reasons, "due_7d")
			}
		} else {
			reasons = append(reasons, "due_invalid")
		}
	}
	return score, reasons
}

// SortByScoreDesc sorts scored tasks from highest to lowest score.
func SortByScoreDesc(tasks []Task, scores map[int]int) []Task {
	sorted := append([]Task{}, tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return scores[sorted[i].ID] > scores[sorted[j].ID]
	})
	return sorted
}
