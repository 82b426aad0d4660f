// Package transcripts implements transcript ingestion: writing a dated
// transcript file under transcripts/YYYY-MM/ and appending an index line
// to transcripts/index.md. Grounded on app/mcp_transcripts.py; the tool
// dispatcher turns a Plan into mutate.Change values for the Mutation
// Engine's commit/rollback pipeline.
package transcripts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/braindrive/library-service/internal/atomicio"
	"github.com/braindrive/library-service/internal/errs"
)

// Plan describes the two file writes an ingestion produces, ready to be
// handed to the Mutation Engine as a pair of changes.
type Plan struct {
	TranscriptRelativePath string
	TranscriptContent      string
	IndexRelativePath      string
	IndexContent           string
	IndexExisted           bool
	IndexOriginal          string
}

// BuildPlan resolves the transcript's destination path and renders the
// updated transcripts/index.md content, without writing anything to disk.
func BuildPlan(libraryRoot, content, rawDate, filename, project, source string) (Plan, error) {
	dateValue := strings.TrimSpace(rawDate)
	if dateValue == "" {
		dateValue = time.Now().UTC().Format("2006-01-02")
	}
	parsedDate, err := parseFlexibleDate(dateValue)
	if err != nil {
		return Plan{}, errs.New("INVALID_DATE", "date must be ISO format (YYYY-MM-DD).", map[string]any{"date": dateValue})
	}

	folder := parsedDate.Format("2006-01")
	if strings.TrimSpace(filename) == "" {
		filename = fmt.Sprintf("transcript-%s.md", parsedDate.Format("20060102-150405"))
	}
	transcriptRelative := filepath.ToSlash(filepath.Join("transcripts", folder, filename))

	indexRelative := "transcripts/index.md"
	indexPath := filepath.Join(libraryRoot, indexRelative)
	existing, readErr := os.ReadFile(indexPath)
	existed := readErr == nil

	parts := []string{dateValue, transcriptRelative}
	if project != "" {
		parts = append(parts, "project:"+project)
	}
	if source != "" {
		parts = append(parts, "source:"+source)
	}
	indexLine := strings.Join(parts, " - ")
	updatedIndex := atomicio.JoinWithNewline(string(existing), indexLine)

	return Plan{
		TranscriptRelativePath: transcriptRelative,
		TranscriptContent:      content,
		IndexRelativePath:      indexRelative,
		IndexContent:           updatedIndex,
		IndexExisted:           existed,
		IndexOriginal:          string(existing),
	}, nil
}

func parseFlexibleDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
