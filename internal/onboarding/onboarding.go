// Package onboarding drives the per-topic onboarding state machine:
// starting a topic interview, recording approved interview context,
// completing a topic, and rebuilding me/profile.md from approved facts.
// Grounded on app/mcp_onboarding.py and app/library_schema.py.
package onboarding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/braindrive/library-service/internal/atomicio"
	"github.com/braindrive/library-service/internal/errs"
	"github.com/braindrive/library-service/internal/schema"
)

// Status values for a topic's starter_topics entry.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// State is the persisted onboarding_state.json document.
type State struct {
	Version             int               `json:"version"`
	StarterTopics       map[string]string `json:"starter_topics"`
	CompletedAt         map[string]string `json:"completed_at"`
	CreatedAtUTC        string            `json:"created_at_utc"`
	UpdatedAtUTC        string            `json:"updated_at_utc"`
	RecommendedNext     string            `json:"recommended_next_topic,omitempty"`
}

func statePath(libraryRoot string) string {
	return filepath.Join(libraryRoot, ".braindrive", "onboarding_state.json")
}

func defaultState(now time.Time) State {
	starter := make(map[string]string, len(schema.TopicOrder))
	for _, topic := range schema.TopicOrder {
		starter[topic] = StatusNotStarted
	}
	stamp := now.UTC().Format(time.RFC3339)
	return State{
		Version:         2,
		StarterTopics:   starter,
		CompletedAt:     map[string]string{},
		CreatedAtUTC:    stamp,
		UpdatedAtUTC:    stamp,
		RecommendedNext: schema.TopicOrder[0],
	}
}

// ReadState loads onboarding_state.json, falling back to a fresh default
// state when the file is absent or unparsable.
func ReadState(libraryRoot string) (State, error) {
	data, err := os.ReadFile(statePath(libraryRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return defaultState(time.Now()), nil
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return defaultState(time.Now()), nil
	}
	if state.StarterTopics == nil {
		state.StarterTopics = map[string]string{}
	}
	for _, topic := range schema.TopicOrder {
		if _, ok := state.StarterTopics[topic]; !ok {
			state.StarterTopics[topic] = StatusNotStarted
		}
	}
	if state.CompletedAt == nil {
		state.CompletedAt = map[string]string{}
	}
	return state, nil
}

// PersistState writes state back to disk atomically, returning the
// relative path written, or "" if the content was already up to date.
func PersistState(libraryRoot string, state State) (string, error) {
	state.UpdatedAtUTC = time.Now().UTC().Format(time.RFC3339)
	if state.RecommendedNext == "" || !isKnownTopic(state.RecommendedNext) {
		if next := NextIncompleteTopic(state); next != "" {
			state.RecommendedNext = next
		}
	}

	path := statePath(libraryRoot)
	existing, _ := os.ReadFile(path)
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", err
	}
	payload = append(payload, '\n')
	if string(existing) == string(payload) {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := atomicio.WriteBytes(path, payload); err != nil {
		return "", err
	}
	rel, _ := filepath.Rel(libraryRoot, path)
	return filepath.ToSlash(rel), nil
}

func isKnownTopic(topic string) bool {
	for _, t := range schema.TopicOrder {
		if t == topic {
			return true
		}
	}
	return false
}

// ValidateTopic normalizes and validates a topic name against the known
// topic set.
func ValidateTopic(raw string) (string, error) {
	topic := strings.ToLower(strings.TrimSpace(raw))
	if !isKnownTopic(topic) {
		return "", errs.New("INVALID_TOPIC", fmt.Sprintf("Unsupported topic %q.", raw), map[string]any{"allowed": schema.TopicOrder})
	}
	return topic, nil
}

// NextIncompleteTopic returns the first topic in canonical order that has
// not reached StatusComplete, or "" if all topics are complete.
func NextIncompleteTopic(state State) string {
	for _, topic := range schema.TopicOrder {
		if state.StarterTopics[topic] != StatusComplete {
			return topic
		}
	}
	return ""
}

// TopicFilePath returns the absolute path to a topic file under
// life/<topic>/<filename>.
func TopicFilePath(libraryRoot, topic, filename string) string {
	return filepath.Join(libraryRoot, "life", topic, filename)
}

// StartTopic transitions a topic to in_progress (idempotent once
// in_progress or complete) and returns the current interview seed
// content plus the updated state.
func StartTopic(libraryRoot, topic string) (State, string, string, error) {
	state, err := ReadState(libraryRoot)
	if err != nil {
		return State{}, "", "", err
	}
	if state.StarterTopics[topic] == "" || state.StarterTopics[topic] == StatusNotStarted {
		state.StarterTopics[topic] = StatusInProgress
	}
	changedPath, err := PersistState(libraryRoot, state)
	if err != nil {
		return State{}, "", "", err
	}

	interviewPath := TopicFilePath(libraryRoot, topic, "interview.md")
	seed, err := os.ReadFile(interviewPath)
	if err != nil {
		return State{}, "", "", err
	}
	return state, string(seed), changedPath, nil
}

// SaveApprovedContext appends an approved interview context block to the
// topic's interview.md and marks the topic in_progress if it was not
// already complete.
func SaveApprovedContext(libraryRoot, topic, context string, now time.Time) (State, string, error) {
	interviewPath := TopicFilePath(libraryRoot, topic, "interview.md")
	existing, err := os.ReadFile(interviewPath)
	if err != nil {
		return State{}, "", err
	}
	stamp := now.UTC().Format(time.RFC3339)
	section := fmt.Sprintf("## Approved Context %s\n\n%s\n", stamp, strings.TrimSpace(context))
	updated := atomicio.JoinWithNewline(string(existing), section)
	if err := atomicio.WriteString(interviewPath, updated); err != nil {
		return State{}, "", err
	}

	state, err := ReadState(libraryRoot)
	if err != nil {
		return State{}, "", err
	}
	if state.StarterTopics[topic] != StatusComplete {
		state.StarterTopics[topic] = StatusInProgress
	}
	if _, err := PersistState(libraryRoot, state); err != nil {
		return State{}, "", err
	}
	return state, "life/" + topic + "/interview.md", nil
}

// CompleteTopic marks a topic complete, records the completion timestamp,
// and optionally appends an onboarding summary to the topic's
// action-plan.md.
func CompleteTopic(libraryRoot, topic, summary string, now time.Time) (State, []string, error) {
	state, err := ReadState(libraryRoot)
	if err != nil {
		return State{}, nil, err
	}
	state.StarterTopics[topic] = StatusComplete
	state.CompletedAt[topic] = now.UTC().Format(time.RFC3339)

	var changed []string
	if statePath, err := PersistState(libraryRoot, state); err != nil {
		return State{}, nil, err
	} else if statePath != "" {
		changed = append(changed, statePath)
	}

	if strings.TrimSpace(summary) != "" {
		planPath := TopicFilePath(libraryRoot, topic, "action-plan.md")
		current, err := os.ReadFile(planPath)
		if err != nil {
			return State{}, nil, err
		}
		block := fmt.Sprintf("## Onboarding Summary %s\n\n%s\n", now.UTC().Format("2006-01-02"), strings.TrimSpace(summary))
		if err := atomicio.WriteString(planPath, atomicio.JoinWithNewline(string(current), block)); err != nil {
			return State{}, nil, err
		}
		changed = append(changed, "life/"+topic+"/action-plan.md")
	}
	return state, changed, nil
}

var approvedContextHeadingPattern = regexp.MustCompile(`(?m)^## Approved Context[^\n]*\n`)

var nextHeadingPattern = regexp.MustCompile(`(?m)^## `)

// ExtractProfileFacts scans each topic's interview.md for approved
// context blocks and flattens them into profile facts.
func ExtractProfileFacts(libraryRoot string, topics []string) []string {
	var facts []string
	for _, topic := range topics {
		data, err := os.ReadFile(TopicFilePath(libraryRoot, topic, "interview.md"))
		if err != nil {
			continue
		}
		text := string(data)
		for _, loc := range approvedContextHeadingPattern.FindAllStringIndex(text, -1) {
			rest := text[loc[1]:]
			if next := nextHeadingPattern.FindStringIndex(rest); next != nil {
				rest = rest[:next[0]]
			}
			body := strings.TrimSpace(rest)
			if body == "" {
				continue
			}
			var lines []string
			for _, line := range strings.Split(body, "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					lines = append(lines, line)
				}
			}
			normalized := strings.Join(lines, " ")
			if normalized == "" {
				continue
			}
			facts = append(facts, fmt.Sprintf("[%s] %s", schema.TopicTitles[topic], normalized))
		}
	}
	return facts
}

// NormalizeFacts trims and drops empty/non-string facts, preserving order.
func NormalizeFacts(raw []string) []string {
	var out []string
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// MergeFacts concatenates explicit facts followed by extracted facts,
// de-duplicating while preserving first-seen order.
func MergeFacts(explicit, extracted []string) []string {
	seen := map[string]bool{}
	var merged []string
	for _, f := range append(append([]string{}, explicit...), extracted...) {
		if !seen[f] {
			seen[f] = true
			merged = append(merged, f)
		}
	}
	return merged
}

// RenderProfile renders me/profile.md content from a merged fact list.
func RenderProfile(facts []string) string {
	lines := []string{
		"# Profile", "",
		"## Identity", "",
		"## Goals", "",
		"## Constraints", "",
		"## Preferences", "",
		"## Onboarding Facts", "",
	}
	if len(facts) == 0 {
		lines = append(lines, "- (no approved onboarding facts yet)")
	} else {
		for _, f := range facts {
			lines = append(lines, "- "+f)
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// RebuildProfile writes me/profile.md if its rendered content changed,
// returning whether a write occurred.
func RebuildProfile(libraryRoot string, facts []string) (bool, error) {
	path := filepath.Join(libraryRoot, "me", "profile.md")
	rendered := RenderProfile(facts)
	existing, err := os.ReadFile(path)
	if err == nil && string(existing) == rendered {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := atomicio.WriteString(path, rendered); err != nil {
		return false, err
	}
	return true, nil
}

// SortedTopics returns schema.TopicOrder's topics in canonical order,
// ignoring duplicates, used when the caller supplies an explicit topics
// filter for RebuildProfile's fact extraction.
func SortedTopics(filter []string) ([]string, error) {
	if len(filter) == 0 {
		return append([]string{}, schema.TopicOrder...), nil
	}
	seen := map[string]bool{}
	var out []string
	for _, raw := range filter {
		topic, err := ValidateTopic(raw)
		if err != nil {
			return nil, err
		}
		if !seen[topic] {
			seen[topic] = true
			out = append(out, topic)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return indexOfTopic(out[i]) < indexOfTopic(out[j])
	})
	return out, nil
}

func indexOfTopic(topic string) int {
	for i, t := range schema.TopicOrder {
		if t == topic {
			return i
		}
	}
	return len(schema.TopicOrder)
}
