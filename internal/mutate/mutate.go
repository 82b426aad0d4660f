// Package mutate implements the Mutation Engine pipeline used by the
// markdown, task, project, transcript, directory and binary write
// operations: validate, resolve path, apply in memory, ensure the
// commit store exists, capture HEAD state, write atomically, commit, then
// journal — with staged rollback at the git-commit and activity-log
// boundaries. The onboarding operations and the schema bootstrap write
// their files directly, without a commit or an activity entry. A per-tenant file lock (gofrs/flock) serializes mutations
// against one library root the way the concurrency model requires.
package mutate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/braindrive/library-service/internal/activity"
	"github.com/braindrive/library-service/internal/atomicio"
	"github.com/braindrive/library-service/internal/commitstore"
	"github.com/braindrive/library-service/internal/errs"
)

// Change describes one file write participating in a commit. Content is
// the full desired post-mutation content; Original is the pre-mutation
// content used for rollback (empty string for newly created files).
type Change struct {
	RelativePath string
	AbsolutePath string
	Content      string
	Binary       []byte
	Existed      bool
	Original     string
}

// Result carries what a successful mutation produced for the journal and
// the tool response.
type Result struct {
	CommitSHA string
}

// Lock acquires the per-tenant mutation lock at <libraryRoot>/.braindrive/mutate.lock
// for the duration of fn, guaranteeing at most one mutation runs against a
// tenant's library at a time.
func Lock(libraryRoot string, fn func() error) error {
	lockDir := filepath.Join(libraryRoot, ".braindrive")
	if err := ensureDir(lockDir); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(lockDir, "mutate.lock"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !locked {
		return errs.New("LOCK_TIMEOUT", "Another mutation is already in progress for this library.", nil)
	}
	defer lock.Unlock()
	return fn()
}

// Run executes the full pipeline for a set of file changes: write each
// change atomically, commit them all together, then append one activity
// entry. On a commit failure every change is rolled back to its
// pre-mutation state and the HEAD ref is untouched (it was never
// advanced). On a journal failure the commit itself is additionally
// rolled back via RestoreHead.
func Run(libraryRoot string, changes []Change, operation, primaryRelativePath, summary string) (Result, *errs.Error) {
	repo, err := commitstore.EnsureRepo(libraryRoot)
	if err != nil {
		return Result{}, errs.New("GIT_ERROR", "Failed to initialize commit store.", map[string]any{"operation": operation})
	}

	headState, err := repo.ReadHeadState()
	if err != nil {
		return Result{}, errs.New("GIT_ERROR", "Failed to read HEAD state.", map[string]any{"operation": operation})
	}

	for _, change := range changes {
		if change.Binary != nil {
			err = atomicio.WriteBytes(change.AbsolutePath, change.Binary)
		} else {
			err = atomicio.WriteString(change.AbsolutePath, change.Content)
		}
		if err != nil {
			rollbackChanges(changes)
			return Result{}, errs.New("WRITE_ERROR", "Failed to write file.", map[string]any{"path": change.RelativePath})
		}
	}

	relativePaths := make([]string, len(changes))
	for i, c := range changes {
		relativePaths[i] = c.RelativePath
	}

	commitSHA, err := repo.CommitPaths(relativePaths, operation, primaryRelativePath)
	if err != nil {
		rollbackChanges(changes)
		return Result{}, errs.New("GIT_ERROR", "Git commit failed; mutation rolled back.", map[string]any{"path": primaryRelativePath, "operation": operation})
	}

	entry := activity.Build(operation, primaryRelativePath, summary, commitSHA)
	if err := activity.Append(libraryRoot, entry); err != nil {
		rollbackChanges(changes)
		_ = repo.RestoreHead(headState)
		return Result{}, errs.New("LOG_ERROR", "Activity log write failed; mutation rolled back.", map[string]any{"path": primaryRelativePath, "operation": operation})
	}

	return Result{CommitSHA: commitSHA}, nil
}

// RunNoRestoreOnLogFailure mirrors Run but, on an activity-log failure,
// rolls back the written files without calling RestoreHead: a brand-new
// file has no prior HEAD worth protecting. Callers creating a file that
// did not exist before the mutation use this; callers mutating an
// existing file use Run instead.
func RunNoRestoreOnLogFailure(libraryRoot string, changes []Change, operation, primaryRelativePath, summary string) (Result, *errs.Error) {
	repo, err := commitstore.EnsureRepo(libraryRoot)
	if err != nil {
		return Result{}, errs.New("GIT_ERROR", "Failed to initialize commit store.", map[string]any{"operation": operation})
	}

	for _, change := range changes {
		if change.Binary != nil {
			err = atomicio.WriteBytes(change.AbsolutePath, change.Binary)
		} else {
			err = atomicio.WriteString(change.AbsolutePath, change.Content)
		}
		if err != nil {
			rollbackChanges(changes)
			return Result{}, errs.New("WRITE_ERROR", "Failed to write file.", map[string]any{"path": change.RelativePath})
		}
	}

	relativePaths := make([]string, len(changes))
	for i, c := range changes {
		relativePaths[i] = c.RelativePath
	}

	commitSHA, err := repo.CommitPaths(relativePaths, operation, primaryRelativePath)
	if err != nil {
		rollbackChanges(changes)
		return Result{}, errs.New("GIT_ERROR", "Git commit failed; mutation rolled back.", map[string]any{"path": primaryRelativePath, "operation": operation})
	}

	entry := activity.Build(operation, primaryRelativePath, summary, commitSHA)
	if err := activity.Append(libraryRoot, entry); err != nil {
		rollbackChanges(changes)
		return Result{}, errs.New("LOG_ERROR", "Activity log write failed; mutation rolled back.", map[string]any{"path": primaryRelativePath, "operation": operation})
	}

	return Result{CommitSHA: commitSHA}, nil
}

func rollbackChanges(changes []Change) {
	for _, change := range changes {
		if change.Existed {
			_ = commitstore.RollbackModifiedFile(change.AbsolutePath, change.Original)
		} else {
			_ = commitstore.RollbackCreatedFile(change.AbsolutePath)
		}
	}
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
