// Package digest assembles the task/activity snapshot used by digest
// rendering, scores tasks for ranking, and rebuilds weekly/monthly/yearly
// rollups from canonical digest/daily entries. Grounded on
// app/mcp_digest.py.
package digest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/braindrive/library-service/internal/activity"
	"github.com/braindrive/library-service/internal/atomicio"
	"github.com/braindrive/library-service/internal/commitstore"
	"github.com/braindrive/library-service/internal/errs"
	"github.com/braindrive/library-service/internal/tasks"
)

// Snapshot is the result of assembling open tasks, recent completions, and
// recent activity for digest rendering.
type Snapshot struct {
	Tasks      []tasks.Task
	Completed  []tasks.Task
	Activity   []activity.Entry
}

// BuildSnapshot loads pulse/index.md and, when includeCompleted is true,
// the relevant monthly completion ledgers, filters both by the given
// criteria, and reads recent activity journal entries.
func BuildSnapshot(
	libraryRoot string,
	owner, priority, tag, project string,
	includeCompleted bool,
	completedLimit int,
	activitySince *time.Time,
	activityLimit int,
) (Snapshot, error) {
	indexPath := filepath.Join(libraryRoot, "pulse", "index.md")
	content, err := os.ReadFile(indexPath)
	if err != nil && !os.IsNotExist(err) {
		return Snapshot{}, err
	}
	allTasks, _ := tasks.Parse(string(content))
	openTasks := make([]tasks.Task, 0, len(allTasks))
	for _, t := range allTasks {
		if t.Status != "x" {
			openTasks = append(openTasks, t)
		}
	}
	filteredOpen := tasks.Filter(openTasks, owner, priority, tag, project)

	var completed []tasks.Task
	if includeCompleted {
		loaded, err := loadCompletedTasks(libraryRoot, activitySince)
		if err != nil {
			return Snapshot{}, err
		}
		filtered := tasks.Filter(loaded, owner, priority, tag, project)
		if len(filtered) > completedLimit {
			filtered = filtered[:completedLimit]
		}
		completed = filtered
	}

	entries, err := activity.ReadSince(libraryRoot, activitySince, activityLimit)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{Tasks: filteredOpen, Completed: completed, Activity: entries}, nil
}

func loadCompletedTasks(libraryRoot string, since *time.Time) ([]tasks.Task, error) {
	completedDir := filepath.Join(libraryRoot, "pulse", "completed")
	entries, err := os.ReadDir(completedDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []tasks.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		month := strings.TrimSuffix(e.Name(), ".md")
		if since != nil {
			monthStart, err := time.Parse("2006-01", month)
			if err == nil && monthStart.Before(time.Date(since.Year(), since.Month(), 1, 0, 0, 0, 0, time.UTC)) {
				continue
			}
		}
		data, err := os.ReadFile(filepath.Join(completedDir, e.Name()))
		if err != nil {
			continue
		}
		parsed, _ := tasks.Parse(string(data))
		out = append(out, parsed...)
	}
	return out, nil
}

// ScoredTask pairs a task with its digest score and score reasons.
type ScoredTask struct {
	Task    tasks.Task
	Score   int
	Reasons []string
}

// ScoreTasks scores every task against the formula in internal/tasks and
// returns them sorted from highest to lowest score.
func ScoreTasks(items []tasks.Task, focusProject string, now time.Time) []ScoredTask {
	scored := make([]ScoredTask, 0, len(items))
	for _, t := range items {
		score, reasons := tasks.Score(t, focusProject, now)
		scored = append(scored, ScoredTask{Task: t, Score: score, Reasons: reasons})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// Period identifiers accepted by RollupPeriod.
const (
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

// RollupState is the digest/_meta/rollup-state.toml document tracking the
// last time each rollup tier ran.
type RollupState struct {
	Version           int    `toml:"version"`
	LastDailyIngest   string `toml:"last_daily_ingest,omitempty"`
	LastWeeklyRollup  string `toml:"last_weekly_rollup,omitempty"`
	LastMonthlyRollup string `toml:"last_monthly_rollup,omitempty"`
	LastYearlyRollup  string `toml:"last_yearly_rollup,omitempty"`
}

func rollupStatePath(libraryRoot string) string {
	return filepath.Join(libraryRoot, "digest", "_meta", "rollup-state.toml")
}

func readRollupState(libraryRoot string) RollupState {
	state := RollupState{Version: 1}
	data, err := os.ReadFile(rollupStatePath(libraryRoot))
	if err != nil {
		return state
	}
	var loaded RollupState
	if _, err := toml.Decode(string(data), &loaded); err != nil {
		return state
	}
	loaded.Version = 1
	return loaded
}

func writeRollupStateIfChanged(libraryRoot string, state RollupState) (bool, error) {
	path := rollupStatePath(libraryRoot)
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(state); err != nil {
		return false, err
	}
	rendered := buf.String()
	if existing, err := os.ReadFile(path); err == nil && string(existing) == rendered {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	return true, atomicio.WriteString(path, rendered)
}

type dailyEntry struct {
	date    time.Time
	relPath string
	content string
}

func collectDailyEntries(libraryRoot string) ([]dailyEntry, error) {
	dailyRoot := filepath.Join(libraryRoot, "digest", "daily")
	var entries []dailyEntry
	err := filepath.Walk(dailyRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		stem := strings.TrimSuffix(filepath.Base(p), ".md")
		entryDate, parseErr := time.Parse("2006-01-02", stem)
		if parseErr != nil {
			return nil
		}
		content, readErr := os.ReadFile(p)
		if readErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(libraryRoot, p)
		entries = append(entries, dailyEntry{date: entryDate, relPath: filepath.ToSlash(rel), content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].date.Before(entries[j].date) })
	return entries, nil
}

func filterPeriodEntries(entries []dailyEntry, period string, target time.Time) []dailyEntry {
	var out []dailyEntry
	targetYear, targetWeek := target.ISOWeek()
	for _, e := range entries {
		switch period {
		case PeriodWeek:
			year, week := e.date.ISOWeek()
			if year == targetYear && week == targetWeek {
				out = append(out, e)
			}
		case PeriodMonth:
			if e.date.Year() == target.Year() && e.date.Month() == target.Month() {
				out = append(out, e)
			}
		default:
			if e.date.Year() == target.Year() {
				out = append(out, e)
			}
		}
	}
	return out
}

func periodOutputPath(period string, target time.Time) (relPath, label string) {
	switch period {
	case PeriodWeek:
		year, week := target.ISOWeek()
		label = fmt.Sprintf("%04d-W%02d", year, week)
		return filepath.Join("digest", "weekly", fmt.Sprintf("%04d", year), label+".md"), label
	case PeriodMonth:
		label = fmt.Sprintf("%04d-%02d", target.Year(), target.Month())
		return filepath.Join("digest", "monthly", fmt.Sprintf("%04d", target.Year()), label+".md"), label
	default:
		label = fmt.Sprintf("%04d", target.Year())
		return filepath.Join("digest", "yearly", label+".md"), label
	}
}

func renderRollup(period, label string, entries []dailyEntry) string {
	headers := map[string]string{PeriodWeek: "Weekly", PeriodMonth: "Monthly", PeriodYear: "Yearly"}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s Digest %s\n\n", headers[period], label)
	b.WriteString("## Source Daily Entries\n")
	if len(entries) == 0 {
		b.WriteString("\n- (none)\n")
		return b.String()
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "\n### %s (%s)\n\n", e.date.Format("2006-01-02"), e.relPath)
		body := strings.TrimSpace(e.content)
		if body == "" {
			b.WriteString("_empty_")
		} else {
			b.WriteString(body)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RollupResult describes the outcome of rebuilding one digest period.
type RollupResult struct {
	Period     string
	Label      string
	Path       string
	DailyCount int
	Changed    bool
	CommitSHA  string
}

// RollupPeriod rebuilds the weekly/monthly/yearly digest rollup for
// targetDate from canonical digest/daily entries, updates the rollup
// state marker, commits the change, and journals it.
func RollupPeriod(libraryRoot, period string, targetDate time.Time) (RollupResult, error) {
	switch period {
	case PeriodWeek, PeriodMonth, PeriodYear:
	default:
		return RollupResult{}, errs.New("INVALID_PERIOD", "period must be one of week, month, or year.", map[string]any{"period": period})
	}

	entries, err := collectDailyEntries(libraryRoot)
	if err != nil {
		return RollupResult{}, err
	}
	periodEntries := filterPeriodEntries(entries, period, targetDate)
	relOutput, label := periodOutputPath(period, targetDate)
	absOutput := filepath.Join(libraryRoot, relOutput)
	rendered := renderRollup(period, label, periodEntries)

	var changedPaths []string
	previous, readErr := os.ReadFile(absOutput)
	if readErr != nil || string(previous) != rendered {
		if err := os.MkdirAll(filepath.Dir(absOutput), 0o755); err != nil {
			return RollupResult{}, err
		}
		if err := atomicio.WriteString(absOutput, rendered); err != nil {
			return RollupResult{}, err
		}
		changedPaths = append(changedPaths, filepath.ToSlash(relOutput))
	}

	state := readRollupState(libraryRoot)
	nowISO := time.Now().UTC().Format(time.RFC3339)
	switch period {
	case PeriodWeek:
		state.LastWeeklyRollup = nowISO
	case PeriodMonth:
		state.LastMonthlyRollup = nowISO
	case PeriodYear:
		state.LastYearlyRollup = nowISO
	}
	if len(periodEntries) > 0 {
		state.LastDailyIngest = periodEntries[len(periodEntries)-1].date.Format("2006-01-02")
	}
	stateChanged, err := writeRollupStateIfChanged(libraryRoot, state)
	if err != nil {
		return RollupResult{}, err
	}
	if stateChanged {
		changedPaths = append(changedPaths, "digest/_meta/rollup-state.toml")
	}

	result := RollupResult{Period: period, Label: label, Path: filepath.ToSlash(relOutput), DailyCount: len(periodEntries), Changed: len(changedPaths) > 0}
	if len(changedPaths) == 0 {
		return result, nil
	}

	repo, err := commitstore.EnsureRepo(libraryRoot)
	if err != nil {
		return RollupResult{}, err
	}
	sha, err := repo.CommitPaths(changedPaths, "rollup_digest_period", relOutput)
	if err != nil {
		return RollupResult{}, errs.New("GIT_ERROR", "Git commit failed for digest rollup.", map[string]any{"period": period, "path": filepath.ToSlash(relOutput)})
	}
	result.CommitSHA = sha

	entry := activity.Build("rollup_digest_period", filepath.ToSlash(relOutput), "rollup digest "+period, sha)
	if err := activity.Append(libraryRoot, entry); err != nil {
		return RollupResult{}, errs.New("LOG_ERROR", "Activity journal write failed after digest rollup commit.", map[string]any{"period": period})
	}
	return result, nil
}
