// Package activity implements the append-only Activity Journal: one
// JSON-lines file per tenant library, flushed and fsynced on every
// append, tolerant of malformed lines on read. Adapted from the
// teacher's internal/audit package, which appends JSON-encoded Entry
// values to a single log file the same way.
package activity

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const filename = "activity.log"

// Entry is one recorded mutation against a tenant's library.
type Entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Summary   string `json:"summary"`
	CommitSHA string `json:"commitSha,omitempty"`
}

// Path returns the activity log path for a library root.
func Path(libraryRoot string) string {
	return filepath.Join(libraryRoot, filename)
}

// Build constructs an Entry with a fresh id and current timestamp.
func Build(operation, relativePath, summary, commitSHA string) Entry {
	return Entry{
		ID:        newID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: operation,
		Path:      relativePath,
		Summary:   summary,
		CommitSHA: commitSHA,
	}
}

// Append writes entry as one JSON line, flushing and fsyncing before
// returning so a crash immediately after Append cannot lose the record.
func Append(libraryRoot string, entry Entry) error {
	path := Path(libraryRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entry); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadSince returns up to limit entries at or after since (if non-nil),
// most-recent-last, skipping any line that fails to parse as JSON rather
// than failing the whole read.
func ReadSince(libraryRoot string, since *time.Time, limit int) ([]Entry, error) {
	path := Path(libraryRoot)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if since != nil {
			ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
			if err == nil && ts.Before(*since) {
				continue
			}
		}
		all = append(all, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func newID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("act-%s", hex.EncodeToString(buf))
}
