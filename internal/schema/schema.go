// Package schema bootstraps the canonical per-tenant library tree: required
// directories, seed text files, legacy AGENT.md migration, topic seed
// content, and a schema-version marker. Grounded on
// app/library_schema.py's ensure_scoped_library_structure.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/braindrive/library-service/internal/atomicio"
)

// Version is the schema-version marker written to
// .braindrive/schema-version.json. Expressed as semver so future
// bootstrappers can compare versions with golang.org/x/mod/semver instead
// of string equality.
const Version = "v2.1.0"

var TopicOrder = []string{"finances", "fitness", "relationships", "career", "whyfinder"}

var TopicTitles = map[string]string{
	"finances":      "Finances",
	"fitness":       "Fitness",
	"relationships": "Relationships",
	"career":        "Career",
	"whyfinder":     "WhyFinder",
}

const rootAgentTemplate = "# BrainDrive Library Agent\n\n" +
	"You are working in a user-scoped BrainDrive library.\n" +
	"Read this contract before mutating files.\n\n" +
	"## Priorities\n" +
	"1. Preserve user data.\n" +
	"2. Keep paths canonical.\n" +
	"3. Require explicit approval before mutating writes.\n"

const lifeDomainAgentTemplate = "# Life Domain Agent\n\n" +
	"Life-domain context lives under `life/<topic>`.\n" +
	"Each topic must include AGENT.md, spec.md, and build-plan.md.\n"

const projectsAgentTemplate = "# Projects Domain Agent\n\n" +
	"Use `projects/active` for active projects and `projects/archived` for archived work.\n" +
	"Each project must include AGENT.md, spec.md, build-plan.md, decisions.md, and ideas.md.\n"

const captureAgentTemplate = "# Capture Agent\n\n" +
	"Capture raw input in `capture/inbox` and then route it intentionally.\n"

const pulseAgentTemplate = "# Pulse Agent\n\n" +
	"Pulse tracks active tasks in `pulse/index.md` and completed tasks in `pulse/completed/YYYY-MM.md`.\n"

const digestAgentTemplate = "# Digest Agent\n\n" +
	"Digest rollups derive from `digest/daily` entries.\n"

const shareAgentTemplate = "# Share Agent\n\n" +
	"Share templates live in `share/templates` and exports in `share/exports`.\n"

// RequiredDirectories is the canonical directory set every library root
// must contain.
var RequiredDirectories = []string{
	".braindrive",
	"me",
	"capture",
	"capture/inbox",
	"life",
	"projects",
	"projects/active",
	"projects/archived",
	"pulse",
	"pulse/completed",
	"digest",
	"digest/daily",
	"digest/weekly",
	"digest/monthly",
	"digest/yearly",
	"digest/_meta",
	"transcripts",
	"share",
	"share/templates",
	"share/exports",
}

// RequiredTextFiles maps a relative path to the seed content written only
// when the file does not already exist.
var RequiredTextFiles = map[string]string{
	"AGENT.md":         rootAgentTemplate,
	"activity.log":     "",
	"capture/AGENT.md": captureAgentTemplate,
	"life/AGENT.md":    lifeDomainAgentTemplate,
	"projects/AGENT.md": projectsAgentTemplate,
	"pulse/AGENT.md":   pulseAgentTemplate,
	"pulse/index.md":   "# Pulse Index\n",
	"digest/AGENT.md":  digestAgentTemplate,
	"share/AGENT.md":   shareAgentTemplate,
	"me/profile.md": "# Profile\n\n" +
		"## Identity\n\n" +
		"## Goals\n\n" +
		"## Constraints\n\n" +
		"## Preferences\n\n" +
		"## Last Updated\n",
}

// GitkeepFiles are empty placeholder files ensuring otherwise-empty
// directories are not pruned by the commit store's tree walk.
var GitkeepFiles = []string{
	"capture/inbox/.gitkeep",
	"projects/active/.gitkeep",
	"projects/archived/.gitkeep",
	"digest/daily/.gitkeep",
	"digest/weekly/.gitkeep",
	"digest/monthly/.gitkeep",
	"digest/yearly/.gitkeep",
	"transcripts/.gitkeep",
	"share/templates/.gitkeep",
	"share/exports/.gitkeep",
}

// AgentMigrationDirs are the directories checked for a legacy agents.md
// that should be promoted to the canonical AGENT.md name.
var AgentMigrationDirs = []string{
	".", "capture", "life", "projects", "pulse", "digest", "share",
	"life/finances", "life/fitness", "life/relationships", "life/career", "life/whyfinder",
}

// ApplyResult summarizes what EnsureScopedLibraryStructure changed.
type ApplyResult struct {
	CreatedPaths  []string
	MigratedPaths []string
	ChangedPaths  []string
}

func topicSeedFiles(topic string) map[string]string {
	title := TopicTitles[topic]
	lowered := strings.ToLower(title)
	if topic == "finances" {
		return map[string]string{
			"AGENT.md": "# Finances Agent\n\n" +
				"This topic helps the user build financial clarity, consistency, and confidence.\n\n" +
				"## Focus Description\n\n" +
				"Prioritize practical money management and steady progress.\n\n" +
				"## Interview Focus\n\n" +
				"- Income and cash-flow stability\n" +
				"- Budget consistency and spending awareness\n" +
				"- Debt payoff priorities\n" +
				"- Savings and emergency buffer goals\n" +
				"- Near-term milestones (30/60/90 days)\n" +
				"- Constraints and tradeoffs\n",
			"interview.md": "# Finances Interview\n\n" +
				"## Opening Interview Policy\n\n" +
				"- Ask one question at a time.\n" +
				"- Opening set should be high-level and capped at 6 questions.\n" +
				"- Require approval before each write.\n" +
				"- Convert relative dates to explicit dates before final save.\n\n" +
				"## Seed Questions (Fallback)\n" +
				"1. What matters most in finances over the next 90 days?\n" +
				"2. What is working well today, and what is not?\n" +
				"3. Which constraints are blocking progress?\n" +
				"4. What would make the next 30 days successful?\n",
			"spec.md": "# Finances Spec\n\n## Current Reality\n\n## Desired Outcomes\n\n## Constraints\n\n## Success Criteria\n",
			"build-plan.md": "# Finances Build Plan\n\n## Phase 1\n\n## Phase 2\n\n## Risks\n\n## Next Review\n",
			"goals.md": "# Finances Goals\n\n## Current Goals\n\n- (to be populated during onboarding)\n",
			"action-plan.md": "# Finances Action Plan\n\n## Immediate Actions\n\n- (to be populated during onboarding)\n",
		}
	}
	return map[string]string{
		"AGENT.md": fmt.Sprintf("# %s Agent\n\nUse this folder for %s planning and execution.\n", title, lowered),
		"interview.md": fmt.Sprintf("# %s Interview\n\n## Seed Questions\n1. What matters most in %s right now?\n"+
			"2. What is working and what is not?\n3. What constraints are blocking progress?\n4. What would make the next 30 days successful?\n", title, lowered),
		"spec.md":        fmt.Sprintf("# %s Spec\n\n## Current Reality\n\n## Desired Outcomes\n\n## Constraints\n\n## Success Criteria\n", title),
		"build-plan.md":  fmt.Sprintf("# %s Build Plan\n\n## Phase 1\n\n## Phase 2\n\n## Risks\n\n## Next Review\n", title),
		"goals.md":       fmt.Sprintf("# %s Goals\n\n## Current Goals\n\n", title),
		"action-plan.md": fmt.Sprintf("# %s Action Plan\n\n## Immediate Actions\n\n", title),
	}
}

func digestStarterPaths(today time.Time) map[string]string {
	year, week := today.ISOWeek()
	return map[string]string{
		filepath.Join("digest", "daily", fmt.Sprintf("%04d", today.Year()), fmt.Sprintf("%02d", today.Month()), today.Format("2006-01-02")+".md"): fmt.Sprintf("# Daily Digest %s\n\n", today.Format("2006-01-02")),
		filepath.Join("digest", "weekly", fmt.Sprintf("%04d", year), fmt.Sprintf("%04d-W%02d.md", year, week)):                                    fmt.Sprintf("# Weekly Digest %04d-W%02d\n\n", year, week),
		filepath.Join("digest", "monthly", fmt.Sprintf("%04d", today.Year()), fmt.Sprintf("%04d-%02d.md", today.Year(), today.Month())):            fmt.Sprintf("# Monthly Digest %04d-%02d\n\n", today.Year(), today.Month()),
		filepath.Join("digest", "yearly", fmt.Sprintf("%04d.md", today.Year())):                                                                    fmt.Sprintf("# Yearly Digest %04d\n\n", today.Year()),
	}
}

func writeTextIfMissing(root, relativePath, content string, created map[string]bool) error {
	target := filepath.Join(root, relativePath)
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := atomicio.WriteString(target, content); err != nil {
		return err
	}
	created[filepath.ToSlash(relativePath)] = true
	return nil
}

func migrateLegacyAgents(root string, migrated map[string]bool) error {
	for _, relDir := range AgentMigrationDirs {
		dir := root
		if relDir != "." {
			dir = filepath.Join(root, relDir)
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		canonical := filepath.Join(dir, "AGENT.md")
		legacy := filepath.Join(dir, "agents.md")
		if _, err := os.Stat(canonical); err == nil {
			continue
		}
		content, err := os.ReadFile(legacy)
		if err != nil {
			continue
		}
		if err := atomicio.WriteBytes(canonical, content); err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, canonical)
		migrated[filepath.ToSlash(rel)] = true
	}
	return nil
}

func ensureVersionMarker(root string) (bool, error) {
	path := filepath.Join(root, ".braindrive", "schema-version.json")
	desired := map[string]string{"schema_version": Version}
	if data, err := os.ReadFile(path); err == nil {
		var existing map[string]string
		if json.Unmarshal(data, &existing) == nil && existing["schema_version"] == Version {
			return false, nil
		}
	}
	if !semver.IsValid(Version) {
		return false, fmt.Errorf("schema: invalid version marker %q", Version)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	payload, _ := json.MarshalIndent(desired, "", "  ")
	return true, atomicio.WriteBytes(path, append(payload, '\n'))
}

// IsUpgrade reports whether candidate is a newer schema version than
// Version, using semantic version ordering.
func IsUpgrade(candidate string) bool {
	return semver.IsValid(candidate) && semver.Compare(candidate, Version) > 0
}

// EnsureScopedLibraryStructure creates every required directory and seed
// file that is missing under root, migrates legacy agents.md files to
// AGENT.md, and refreshes the schema-version marker. Apart from a
// schema-version marker that differs from Version, it never overwrites
// existing content.
func EnsureScopedLibraryStructure(root string, includeDigestPeriodFiles bool, today time.Time) (ApplyResult, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return ApplyResult{}, err
	}

	created := map[string]bool{}
	migrated := map[string]bool{}

	for _, dir := range RequiredDirectories {
		target := filepath.Join(root, dir)
		existed := true
		if _, err := os.Stat(target); os.IsNotExist(err) {
			existed = false
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return ApplyResult{}, err
		}
		if !existed {
			created[filepath.ToSlash(dir)] = true
		}
	}

	if err := migrateLegacyAgents(root, migrated); err != nil {
		return ApplyResult{}, err
	}

	names := make([]string, 0, len(RequiredTextFiles))
	for name := range RequiredTextFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writeTextIfMissing(root, name, RequiredTextFiles[name], created); err != nil {
			return ApplyResult{}, err
		}
	}

	for _, topic := range TopicOrder {
		topicDir := filepath.Join(root, "life", topic)
		if _, err := os.Stat(topicDir); os.IsNotExist(err) {
			if err := os.MkdirAll(topicDir, 0o755); err != nil {
				return ApplyResult{}, err
			}
			rel, _ := filepath.Rel(root, topicDir)
			created[filepath.ToSlash(rel)] = true
		}
		seeds := topicSeedFiles(topic)
		seedNames := make([]string, 0, len(seeds))
		for name := range seeds {
			seedNames = append(seedNames, name)
		}
		sort.Strings(seedNames)
		for _, name := range seedNames {
			rel := filepath.Join("life", topic, name)
			if err := writeTextIfMissing(root, rel, seeds[name], created); err != nil {
				return ApplyResult{}, err
			}
		}
	}

	for _, rel := range GitkeepFiles {
		if err := writeTextIfMissing(root, rel, "", created); err != nil {
			return ApplyResult{}, err
		}
	}

	if includeDigestPeriodFiles {
		for rel, content := range digestStarterPaths(today) {
			if err := writeTextIfMissing(root, rel, content, created); err != nil {
				return ApplyResult{}, err
			}
		}
	}

	versionChanged, err := ensureVersionMarker(root)
	if err != nil {
		return ApplyResult{}, err
	}
	if versionChanged {
		created[".braindrive/schema-version.json"] = true
	}

	result := ApplyResult{}
	for p := range created {
		result.CreatedPaths = append(result.CreatedPaths, p)
	}
	for p := range migrated {
		result.MigratedPaths = append(result.MigratedPaths, p)
	}
	sort.Strings(result.CreatedPaths)
	sort.Strings(result.MigratedPaths)
	result.ChangedPaths = append(append([]string{}, result.CreatedPaths...), result.MigratedPaths...)
	sort.Strings(result.ChangedPaths)
	return result, nil
}
