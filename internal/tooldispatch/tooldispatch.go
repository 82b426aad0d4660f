// Package tooldispatch wires every tool operation — markdown mutation,
// path operations, task ledger, onboarding, and digest — behind a single
// typed Request/Dispatch surface that always answers with an
// errs.Envelope. Grounded on the teacher's RPC Request/Response shape and
// app/mcp_*.py's per-tool payload validation.
package tooldispatch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/braindrive/library-service/internal/activity"
	"github.com/braindrive/library-service/internal/commitstore"
	"github.com/braindrive/library-service/internal/digest"
	"github.com/braindrive/library-service/internal/errs"
	"github.com/braindrive/library-service/internal/fileops"
	"github.com/braindrive/library-service/internal/mdedit"
	"github.com/braindrive/library-service/internal/mutate"
	"github.com/braindrive/library-service/internal/onboarding"
	"github.com/braindrive/library-service/internal/pathvalidate"
	"github.com/braindrive/library-service/internal/projects"
	"github.com/braindrive/library-service/internal/schema"
	"github.com/braindrive/library-service/internal/tasks"
	"github.com/braindrive/library-service/internal/transcripts"
)

var markdownSuffixes = map[string]bool{".md": true, ".markdown": true}

func isMarkdownPath(p string) bool {
	return markdownSuffixes[strings.ToLower(filepath.Ext(p))]
}

// Operation names accepted by Dispatch.
const (
	OpCreateMarkdown   = "create_markdown"
	OpWriteMarkdown    = "write_markdown"
	OpEditMarkdown     = "edit_markdown"
	OpDeleteMarkdown   = "delete_markdown"
	OpListDirectory    = "list_directory"
	OpReadMetadata     = "read_file_metadata"
	OpMovePath         = "move_path"
	OpCopyPath         = "copy_path"
	OpDeletePath       = "delete_path"
	OpPreviewMove      = "preview_move_path"
	OpListTasks        = "list_tasks"
	OpCreateTask       = "create_task"
	OpCompleteTask     = "complete_task"
	OpStartTopic       = "start_topic_onboarding"
	OpSaveTopicContext = "save_topic_onboarding_context"
	OpCompleteTopic    = "complete_topic_onboarding"
	OpGetOnboarding    = "get_onboarding_state"
	OpRebuildProfile   = "rebuild_profile_context"
	OpDigestSnapshot   = "digest_snapshot"
	OpScoreDigestTasks = "score_digest_tasks"
	OpRollupDigest     = "rollup_digest_period"
	OpProjectExists       = "project_exists"
	OpListProjects        = "list_projects"
	OpCreateProject       = "create_project"
	OpEnsureScopeScaffold = "ensure_scope_scaffold"
	OpProjectContext      = "project_context"
	OpCreateProjectScaffold = "create_project_scaffold"
	OpIngestTranscript    = "ingest_transcript"

	OpReadMarkdown          = "read_markdown"
	OpListMarkdownFiles     = "list_markdown_files"
	OpSearchMarkdown        = "search_markdown"
	OpPreviewMarkdownChange = "preview_markdown_change"
	OpPreviewBulkChanges    = "preview_bulk_changes"
	OpCreateDirectory       = "create_directory"
	OpWriteBinary           = "write_binary"
	OpPreviewCopyPath       = "preview_copy_path"
	OpPreviewDeletePath     = "preview_delete_path"
	OpUpdateTask            = "update_task"
	OpReopenTask            = "reopen_task"
	OpBootstrapLibrary      = "bootstrap_user_library"
	OpReadActivityLog       = "read_activity_log"
	OpListOperations        = "list_operations"
)

// Request is one tool invocation: an operation name, the tenant's
// library root, and the operation's JSON-encoded arguments.
type Request struct {
	Operation   string
	LibraryRoot string
	Args        json.RawMessage
}

// Dispatch routes a Request to its handler and always returns an
// errs.Envelope, never a raw Go error.
func Dispatch(req Request) errs.Envelope {
	handler, ok := handlers[req.Operation]
	if !ok {
		return errs.Failure(errs.New("UNKNOWN_OPERATION", fmt.Sprintf("No handler for operation %q.", req.Operation), nil))
	}
	data, err := handler(req.LibraryRoot, req.Args)
	if err != nil {
		return errs.Failure(errs.AsError(err))
	}
	return errs.Success(data)
}

type handlerFunc func(libraryRoot string, args json.RawMessage) (any, error)

var handlers = map[string]handlerFunc{
	OpCreateMarkdown:   handleCreateMarkdown,
	OpWriteMarkdown:    handleWriteMarkdown,
	OpEditMarkdown:     handleEditMarkdown,
	OpDeleteMarkdown:   handleDeleteMarkdown,
	OpListDirectory:    handleListDirectory,
	OpReadMetadata:     handleReadMetadata,
	OpMovePath:         handleMovePath,
	OpCopyPath:         handleCopyPath,
	OpDeletePath:       handleDeletePath,
	OpPreviewMove:      handlePreviewMove,
	OpListTasks:        handleListTasks,
	OpCreateTask:       handleCreateTask,
	OpCompleteTask:     handleCompleteTask,
	OpStartTopic:       handleStartTopic,
	OpSaveTopicContext: handleSaveTopicContext,
	OpCompleteTopic:    handleCompleteTopic,
	OpGetOnboarding:    handleGetOnboarding,
	OpRebuildProfile:   handleRebuildProfile,
	OpDigestSnapshot:   handleDigestSnapshot,
	OpScoreDigestTasks: handleScoreDigestTasks,
	OpRollupDigest:     handleRollupDigest,
	OpProjectExists:         handleProjectExists,
	OpListProjects:          handleListProjects,
	OpCreateProject:         handleCreateProject,
	OpEnsureScopeScaffold:   handleEnsureScopeScaffold,
	OpProjectContext:        handleProjectContext,
	OpCreateProjectScaffold: handleCreateProjectScaffold,
	OpIngestTranscript:      handleIngestTranscript,

	OpReadMarkdown:          handleReadMarkdown,
	OpListMarkdownFiles:     handleListMarkdownFiles,
	OpSearchMarkdown:        handleSearchMarkdown,
	OpPreviewMarkdownChange: handlePreviewMarkdownChange,
	OpPreviewBulkChanges:    handlePreviewBulkChanges,
	OpCreateDirectory:       handleCreateDirectory,
	OpWriteBinary:           handleWriteBinary,
	OpPreviewCopyPath:       handlePreviewCopyPath,
	OpPreviewDeletePath:     handlePreviewDeletePath,
	OpUpdateTask:            handleUpdateTask,
	OpReopenTask:            handleReopenTask,
	OpBootstrapLibrary:      handleBootstrapLibrary,
	OpReadActivityLog:       handleReadActivityLog,
	OpListOperations:        handleListOperations,
}

func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return errs.New("INVALID_ARGS", "Request arguments could not be parsed.", map[string]any{"error": err.Error()})
	}
	return nil
}

// checkAllowedFields rejects any top-level key in args not present in
// allowed, mirroring app/mcp_payload.py's _reject_unknown_fields strict
// schema. Malformed JSON is left for decode's json.Unmarshal to report as
// INVALID_ARGS rather than reported here.
func checkAllowedFields(args json.RawMessage, allowed ...string) error {
	if len(args) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		allowedSet[f] = true
	}
	var unknown []string
	for k := range raw {
		if !allowedSet[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return errs.New("UNKNOWN_FIELD", "Unknown fields are not allowed.", map[string]any{"fields": unknown})
}

// decodeStrict is decode plus a per-operation allow-list pass: every
// handler names exactly the fields its payload accepts, and anything else
// fails closed instead of being silently dropped.
func decodeStrict(args json.RawMessage, v any, allowed ...string) error {
	if err := checkAllowedFields(args, allowed...); err != nil {
		return err
	}
	return decode(args, v)
}

// rejectUnknownFieldsInArray applies checkAllowedFields to every element of
// the JSON array stored under field in args, for payloads shaped as a list
// of sub-objects (bulk changes, project scaffold files).
func rejectUnknownFieldsInArray(args json.RawMessage, field string, allowed ...string) error {
	if len(args) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil
	}
	listRaw, ok := raw[field]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(listRaw, &items); err != nil {
		return nil
	}
	for _, item := range items {
		if err := checkAllowedFields(item, allowed...); err != nil {
			return err
		}
	}
	return nil
}

func resolvePath(libraryRoot, rawPath string) (string, error) {
	return pathvalidate.Validate(libraryRoot, rawPath)
}

// --- markdown mutation ---

type markdownArgs struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Operation string `json:"operation"`
	Heading   string `json:"heading"`
}

func handleCreateMarkdown(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path", "content"); err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(abs); statErr == nil {
		return nil, errs.New("PATH_EXISTS", "A file already exists at this path.", map[string]any{"path": args.Path})
	}
	change := mutate.Change{RelativePath: args.Path, AbsolutePath: abs, Content: args.Content, Existed: false}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, []mutate.Change{change}, OpCreateMarkdown, args.Path, "create markdown "+args.Path)
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"path": args.Path, "commitSha": result.CommitSHA}, nil
}

func handleWriteMarkdown(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path", "content"); err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	original, readErr := os.ReadFile(abs)
	existed := readErr == nil
	change := mutate.Change{RelativePath: args.Path, AbsolutePath: abs, Content: args.Content, Existed: existed, Original: string(original)}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.Run(libraryRoot, []mutate.Change{change}, OpWriteMarkdown, args.Path, "write markdown "+args.Path)
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"path": args.Path, "commitSha": result.CommitSHA}, nil
}

func handleEditMarkdown(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path", "operation", "heading", "content"); err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	original, readErr := os.ReadFile(abs)
	if readErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": args.Path})
	}
	updated, editErr := mdedit.Apply(string(original), args.Operation, args.Heading, args.Content)
	if editErr != nil {
		return nil, editErr
	}
	_, changedLines := mdedit.UnifiedDiff(args.Path, args.Path, string(original), updated)
	change := mutate.Change{RelativePath: args.Path, AbsolutePath: abs, Content: updated, Existed: true, Original: string(original)}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.Run(libraryRoot, []mutate.Change{change}, OpEditMarkdown, args.Path, "edit markdown "+args.Path)
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{
		"path":      args.Path,
		"commitSha": result.CommitSHA,
		"risk":      mdedit.ClassifyRisk(changedLines),
	}, nil
}

func handleDeleteMarkdown(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path"); err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	original, readErr := os.ReadFile(abs)
	if readErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": args.Path})
	}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		if err := os.Remove(abs); err != nil {
			return err
		}
		result, mutErr = commitRawPaths(libraryRoot, []string{args.Path}, OpDeleteMarkdown, args.Path, "delete markdown "+args.Path)
		if mutErr != nil {
			_ = commitstore.RollbackModifiedFile(abs, string(original))
		}
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"path": args.Path, "commitSha": result.CommitSHA}, nil
}

// --- path operations ---

type pathArgs struct {
	Path        string `json:"path"`
	Recursive   bool   `json:"recursive"`
	IncludeDirs bool   `json:"include_dirs"`
}

func handleListDirectory(libraryRoot string, raw json.RawMessage) (any, error) {
	var args pathArgs
	if err := decodeStrict(raw, &args, "path", "recursive", "include_files", "include_dirs"); err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	files, dirs, err := fileops.ListDirectory(libraryRoot, abs, args.Recursive, true, true)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files, "directories": dirs}, nil
}

func handleReadMetadata(libraryRoot string, raw json.RawMessage) (any, error) {
	var args pathArgs
	if err := decodeStrict(raw, &args, "path"); err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	meta, err := fileops.ReadMetadata(libraryRoot, abs)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

type moveArgs struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Overwrite   bool   `json:"overwrite"`
	Recursive   bool   `json:"recursive"`
	Confirm     bool   `json:"confirm"`
}

func handleMovePath(libraryRoot string, raw json.RawMessage) (any, error) {
	var args moveArgs
	if err := decodeStrict(raw, &args, "source", "destination", "overwrite"); err != nil {
		return nil, err
	}
	src, err := resolvePath(libraryRoot, args.Source)
	if err != nil {
		return nil, err
	}
	dst, err := resolvePath(libraryRoot, args.Destination)
	if err != nil {
		return nil, err
	}
	changed, err := fileops.Move(libraryRoot, src, dst, args.Overwrite)
	if err != nil {
		return nil, err
	}
	return commitPathChange(libraryRoot, changed, OpMovePath, args.Destination, "move "+args.Source+" to "+args.Destination)
}

func handleCopyPath(libraryRoot string, raw json.RawMessage) (any, error) {
	var args moveArgs
	if err := decodeStrict(raw, &args, "source", "destination", "overwrite"); err != nil {
		return nil, err
	}
	src, err := resolvePath(libraryRoot, args.Source)
	if err != nil {
		return nil, err
	}
	dst, err := resolvePath(libraryRoot, args.Destination)
	if err != nil {
		return nil, err
	}
	changed, err := fileops.Copy(libraryRoot, src, dst, args.Overwrite)
	if err != nil {
		return nil, err
	}
	return commitPathChange(libraryRoot, changed, OpCopyPath, args.Destination, "copy "+args.Source+" to "+args.Destination)
}

func handleDeletePath(libraryRoot string, raw json.RawMessage) (any, error) {
	var args moveArgs
	if err := decodeStrict(raw, &args, "source", "recursive", "confirm"); err != nil {
		return nil, err
	}
	if !args.Confirm {
		return nil, errs.New("CONFIRM_REQUIRED", "Deleting a path requires confirm=true.", map[string]any{"path": args.Source})
	}
	abs, err := resolvePath(libraryRoot, args.Source)
	if err != nil {
		return nil, err
	}
	changed, err := fileops.Delete(libraryRoot, abs, args.Recursive)
	if err != nil {
		return nil, err
	}
	return commitPathChange(libraryRoot, changed, OpDeletePath, args.Source, "delete "+args.Source)
}

func handlePreviewMove(libraryRoot string, raw json.RawMessage) (any, error) {
	var args moveArgs
	if err := decodeStrict(raw, &args, "source", "destination", "overwrite"); err != nil {
		return nil, err
	}
	src, err := resolvePath(libraryRoot, args.Source)
	if err != nil {
		return nil, err
	}
	dst, err := resolvePath(libraryRoot, args.Destination)
	if err != nil {
		return nil, err
	}
	mappings, conflicts, err := fileops.PreviewMappings(libraryRoot, src, dst)
	if err != nil {
		return nil, err
	}
	return map[string]any{"mappings": mappings, "conflicts": conflicts}, nil
}

func commitPathChange(libraryRoot string, changedPaths []string, operation, primaryPath, summary string) (any, error) {
	if len(changedPaths) == 0 {
		return map[string]any{"changed": false}, nil
	}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = commitRawPaths(libraryRoot, changedPaths, operation, primaryPath, summary)
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"changed": true, "commitSha": result.CommitSHA, "paths": changedPaths}, nil
}

// commitRawPaths commits and journals paths the caller has already changed
// on disk (moved, copied or deleted); the files themselves are not rewritten.
func commitRawPaths(libraryRoot string, relativePaths []string, operation, primaryPath, summary string) (mutate.Result, *errs.Error) {
	repo, err := commitstore.EnsureRepo(libraryRoot)
	if err != nil {
		return mutate.Result{}, errs.New("GIT_ERROR", "Failed to initialize commit store.", map[string]any{"operation": operation})
	}
	commitSHA, err := repo.CommitPaths(relativePaths, operation, primaryPath)
	if err != nil {
		return mutate.Result{}, errs.New("GIT_ERROR", "Git commit failed.", map[string]any{"path": primaryPath, "operation": operation})
	}
	if err := activity.Append(libraryRoot, activity.Build(operation, primaryPath, summary, commitSHA)); err != nil {
		return mutate.Result{}, errs.New("LOG_ERROR", "Activity log write failed.", map[string]any{"path": primaryPath, "operation": operation})
	}
	return mutate.Result{CommitSHA: commitSHA}, nil
}

// --- task ledger ---

type taskArgs struct {
	Owner    string   `json:"owner"`
	Priority string   `json:"priority"`
	Tag      string   `json:"tag"`
	Project  string   `json:"project"`
	Title    string   `json:"title"`
	Due      string   `json:"due"`
	Tags     []string `json:"tags"`
	ID       int      `json:"id"`
}

func handleListTasks(libraryRoot string, raw json.RawMessage) (any, error) {
	var args taskArgs
	if err := decodeStrict(raw, &args, "owner", "priority", "tag", "status", "project"); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(filepath.Join(libraryRoot, "pulse", "index.md"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	all, _ := tasks.Parse(string(content))
	return tasks.Filter(all, args.Owner, args.Priority, args.Tag, args.Project), nil
}

func handleCreateTask(libraryRoot string, raw json.RawMessage) (any, error) {
	var args taskArgs
	if err := decodeStrict(raw, &args, "title", "owner", "priority", "tags", "project", "due"); err != nil {
		return nil, err
	}
	path := filepath.Join(libraryRoot, "pulse", "index.md")
	content, readErr := os.ReadFile(path)
	existed := readErr == nil
	all, lines := tasks.Parse(string(content))

	due, err := tasks.ResolveDue(args.Due, time.Now())
	if err != nil {
		return nil, err
	}
	newTask := tasks.Task{ID: tasks.NextID(all), Status: " ", Title: args.Title, Priority: args.Priority, Owner: args.Owner, Tags: args.Tags, Project: args.Project, Due: due}
	updated := appendLines(lines, tasks.FormatLine(newTask))

	change := mutate.Change{RelativePath: "pulse/index.md", AbsolutePath: path, Content: updated, Existed: existed, Original: string(content)}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		if existed {
			result, mutErr = mutate.Run(libraryRoot, []mutate.Change{change}, OpCreateTask, "pulse/index.md", fmt.Sprintf("create task T-%03d", newTask.ID))
		} else {
			result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, []mutate.Change{change}, OpCreateTask, "pulse/index.md", fmt.Sprintf("create task T-%03d", newTask.ID))
		}
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"task": newTask, "commitSha": result.CommitSHA}, nil
}

func handleCompleteTask(libraryRoot string, raw json.RawMessage) (any, error) {
	var args taskArgs
	if err := decodeStrict(raw, &args, "id"); err != nil {
		return nil, err
	}
	path := filepath.Join(libraryRoot, "pulse", "index.md")
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New("FILE_NOT_FOUND", "pulse/index.md does not exist.", nil)
	}
	all, lines := tasks.Parse(string(content))

	var found *tasks.Task
	var remainingLines []string
	for i, line := range lines {
		matched := false
		for _, t := range all {
			if t.ID == args.ID && t.Raw == line {
				matched = true
				completed := t
				completed.Status = "x"
				found = &completed
				_ = i
				break
			}
		}
		if !matched {
			remainingLines = append(remainingLines, line)
		}
	}
	if found == nil {
		return nil, errs.New("TASK_NOT_FOUND", "No open task with that id.", map[string]any{"id": args.ID})
	}

	now := time.Now()
	completedPath := filepath.Join(libraryRoot, tasks.CompletedPath(now))
	completedExisting, completedReadErr := os.ReadFile(completedPath)
	completedExisted := completedReadErr == nil
	completedContent := appendLines(splitNonEmptyLines(string(completedExisting)), tasks.FormatLine(*found))

	indexUpdated := joinLines(remainingLines)
	indexChange := mutate.Change{RelativePath: "pulse/index.md", AbsolutePath: path, Content: indexUpdated, Existed: true, Original: string(content)}
	completedChange := mutate.Change{RelativePath: tasks.CompletedPath(now), AbsolutePath: completedPath, Content: completedContent, Existed: completedExisted, Original: string(completedExisting)}

	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.Run(libraryRoot, []mutate.Change{indexChange, completedChange}, OpCompleteTask, "pulse/index.md", fmt.Sprintf("complete task T-%03d", args.ID))
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"task": found, "commitSha": result.CommitSHA}, nil
}

func appendLines(lines []string, newLine string) string {
	out := append([]string{}, lines...)
	if len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	out = append(out, newLine)
	return joinLines(out)
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	result := ""
	for _, l := range lines {
		result += l + "\n"
	}
	return result
}

func splitNonEmptyLines(content string) []string {
	if content == "" {
		return nil
	}
	_, lines := tasks.Parse(content)
	return lines
}

// --- onboarding ---

type onboardingArgs struct {
	Topic   string   `json:"topic"`
	Context string   `json:"context"`
	Approved bool    `json:"approved"`
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
	Topics  []string `json:"topics"`
}

func handleStartTopic(libraryRoot string, raw json.RawMessage) (any, error) {
	var args onboardingArgs
	if err := decodeStrict(raw, &args, "topic"); err != nil {
		return nil, err
	}
	topic, err := onboarding.ValidateTopic(args.Topic)
	if err != nil {
		return nil, err
	}
	state, seed, _, err := onboarding.StartTopic(libraryRoot, topic)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"topic":          topic,
		"status":         state.StarterTopics[topic],
		"interview_seed": seed,
		"next_topic":     onboarding.NextIncompleteTopic(state),
	}, nil
}

func handleSaveTopicContext(libraryRoot string, raw json.RawMessage) (any, error) {
	var args onboardingArgs
	if err := decodeStrict(raw, &args, "topic", "context", "approved"); err != nil {
		return nil, err
	}
	if !args.Approved {
		return nil, errs.New("APPROVAL_REQUIRED", "approved=true is required for mutating onboarding context writes.", map[string]any{"topic": args.Topic})
	}
	topic, err := onboarding.ValidateTopic(args.Topic)
	if err != nil {
		return nil, err
	}
	state, path, err := onboarding.SaveApprovedContext(libraryRoot, topic, args.Context, time.Now())
	if err != nil {
		return nil, err
	}
	return map[string]any{"topic": topic, "path": path, "status": state.StarterTopics[topic]}, nil
}

func handleCompleteTopic(libraryRoot string, raw json.RawMessage) (any, error) {
	var args onboardingArgs
	if err := decodeStrict(raw, &args, "topic", "summary"); err != nil {
		return nil, err
	}
	topic, err := onboarding.ValidateTopic(args.Topic)
	if err != nil {
		return nil, err
	}
	state, _, err := onboarding.CompleteTopic(libraryRoot, topic, args.Summary, time.Now())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"topic":      topic,
		"status":     state.StarterTopics[topic],
		"next_topic": onboarding.NextIncompleteTopic(state),
	}, nil
}

func handleGetOnboarding(libraryRoot string, raw json.RawMessage) (any, error) {
	if err := checkAllowedFields(raw); err != nil {
		return nil, err
	}
	state, err := onboarding.ReadState(libraryRoot)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state, "next_topic": onboarding.NextIncompleteTopic(state)}, nil
}

func handleRebuildProfile(libraryRoot string, raw json.RawMessage) (any, error) {
	var args onboardingArgs
	if err := decodeStrict(raw, &args, "facts", "topics"); err != nil {
		return nil, err
	}
	topics, err := onboarding.SortedTopics(args.Topics)
	if err != nil {
		return nil, err
	}
	extracted := onboarding.ExtractProfileFacts(libraryRoot, topics)
	merged := onboarding.MergeFacts(onboarding.NormalizeFacts(args.Facts), extracted)
	changed, err := onboarding.RebuildProfile(libraryRoot, merged)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": "me/profile.md", "fact_count": len(merged), "facts": merged, "changed": changed}, nil
}

// --- digest ---

type digestArgs struct {
	Owner            string     `json:"owner"`
	Priority         string     `json:"priority"`
	Tag              string     `json:"tag"`
	Project          string     `json:"project"`
	IncludeCompleted *bool      `json:"include_completed"`
	CompletedLimit   int        `json:"completed_limit"`
	ActivitySince    *time.Time `json:"activity_since"`
	ActivityLimit    int        `json:"activity_limit"`
	Tasks            []tasks.Task `json:"tasks"`
	FocusProject     string     `json:"focus_project"`
	Period           string     `json:"period"`
	TargetDate       string     `json:"target_date"`
}

func handleDigestSnapshot(libraryRoot string, raw json.RawMessage) (any, error) {
	var args digestArgs
	if err := decodeStrict(raw, &args, "owner", "priority", "tag", "project", "include_completed", "completed_limit", "activity_since", "activity_limit"); err != nil {
		return nil, err
	}
	includeCompleted := true
	if args.IncludeCompleted != nil {
		includeCompleted = *args.IncludeCompleted
	}
	completedLimit := args.CompletedLimit
	if completedLimit <= 0 {
		completedLimit = 10
	}
	activityLimit := args.ActivityLimit
	if activityLimit <= 0 {
		activityLimit = 50
	}
	snapshot, err := digest.BuildSnapshot(libraryRoot, args.Owner, args.Priority, args.Tag, args.Project, includeCompleted, completedLimit, args.ActivitySince, activityLimit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": snapshot.Tasks, "completed": snapshot.Completed, "activity": snapshot.Activity}, nil
}

func handleScoreDigestTasks(_ string, raw json.RawMessage) (any, error) {
	var args digestArgs
	if err := decodeStrict(raw, &args, "tasks", "focus_project"); err != nil {
		return nil, err
	}
	scored := digest.ScoreTasks(args.Tasks, args.FocusProject, time.Now())
	return map[string]any{"tasks": scored}, nil
}

func handleRollupDigest(libraryRoot string, raw json.RawMessage) (any, error) {
	var args digestArgs
	if err := decodeStrict(raw, &args, "period", "target_date"); err != nil {
		return nil, err
	}
	target := time.Now()
	if args.TargetDate != "" {
		parsed, parseErr := time.Parse("2006-01-02", args.TargetDate)
		if parseErr != nil {
			return nil, errs.New("INVALID_DATE", "target_date must use YYYY-MM-DD format.", map[string]any{"target_date": args.TargetDate})
		}
		target = parsed
	}
	result, err := digest.RollupPeriod(libraryRoot, args.Period, target)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- projects and transcripts ---

type projectArgs struct {
	Path               string            `json:"path"`
	Name               string            `json:"name,omitempty"`
	Files              []projectFileArgs `json:"files,omitempty"`
	IncludeFiles       []string          `json:"include_files,omitempty"`
	IncludeTranscripts bool              `json:"include_transcripts,omitempty"`
}

type projectFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func requirePathOrName(path, name string) error {
	if path == "" && name == "" {
		return errs.New("MISSING_PATH", "Path or name is required.", map[string]any{"fields": []string{"path", "name"}})
	}
	return nil
}

func handleProjectExists(libraryRoot string, raw json.RawMessage) (any, error) {
	var args projectArgs
	if err := decodeStrict(raw, &args, "path", "name"); err != nil {
		return nil, err
	}
	if err := requirePathOrName(args.Path, args.Name); err != nil {
		return nil, err
	}
	result, err := projects.Exists(libraryRoot, args.Path, args.Name)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func handleListProjects(libraryRoot string, raw json.RawMessage) (any, error) {
	var args projectArgs
	if err := decodeStrict(raw, &args, "path"); err != nil {
		return nil, err
	}
	list, _, err := projects.List(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"projects": list}, nil
}

func handleCreateProject(libraryRoot string, raw json.RawMessage) (any, error) {
	var args projectArgs
	if err := decodeStrict(raw, &args, "path", "files", "name"); err != nil {
		return nil, err
	}
	if err := rejectUnknownFieldsInArray(raw, "files", "path", "content"); err != nil {
		return nil, err
	}
	if err := requirePathOrName(args.Path, args.Name); err != nil {
		return nil, err
	}
	projectPath, err := projects.ResolveProjectPath(args.Path, args.Name)
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, projectPath)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(abs); statErr == nil {
		if info.IsDir() {
			return nil, errs.New("PROJECT_EXISTS", "Project already exists.", map[string]any{"path": projectPath})
		}
		return nil, errs.New("INVALID_PATH", "Project path conflicts with a non-directory.", map[string]any{"path": projectPath})
	}

	explicit := make([]projects.ScaffoldFile, 0, len(args.Files))
	for _, f := range args.Files {
		explicit = append(explicit, projects.ScaffoldFile{Path: f.Path, Content: f.Content})
	}
	merged := projects.ScaffoldFiles(projectPath, explicit)

	changes := make([]mutate.Change, 0, len(merged))
	for _, f := range merged {
		fileAbs, err := resolvePath(libraryRoot, projectPath+"/"+f.Path)
		if err != nil {
			return nil, err
		}
		if filepath.Ext(fileAbs) != ".md" && filepath.Ext(fileAbs) != ".markdown" {
			return nil, errs.New("NOT_MARKDOWN", "Only markdown files are allowed.", map[string]any{"path": f.Path})
		}
		if _, statErr := os.Stat(fileAbs); statErr == nil {
			return nil, errs.New("FILE_EXISTS", "Markdown file already exists.", map[string]any{"path": f.Path})
		}
		changes = append(changes, mutate.Change{RelativePath: projectPath + "/" + f.Path, AbsolutePath: fileAbs, Content: f.Content, Existed: false})
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}

	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, changes, OpCreateProject, projectPath, "create project")
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		os.RemoveAll(abs)
		return nil, mutErr
	}

	created := make([]string, 0, len(changes))
	for _, c := range changes {
		created = append(created, c.RelativePath)
	}
	return map[string]any{"success": true, "commitSha": result.CommitSHA, "path": projectPath, "createdFiles": created}, nil
}

func handleEnsureScopeScaffold(libraryRoot string, raw json.RawMessage) (any, error) {
	var args projectArgs
	if err := decodeStrict(raw, &args, "path", "name"); err != nil {
		return nil, err
	}
	if err := requirePathOrName(args.Path, args.Name); err != nil {
		return nil, err
	}
	scopePath, err := projects.ResolveProjectPath(args.Path, args.Name)
	if err != nil {
		return nil, err
	}
	abs, err := resolvePath(libraryRoot, scopePath)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
		return nil, errs.New("INVALID_PATH", "Scope path conflicts with a non-directory.", map[string]any{"path": scopePath})
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}

	createdAbs, err := projects.EnsureScopeScaffoldFiles(libraryRoot, scopePath)
	if err != nil {
		return nil, err
	}
	if len(createdAbs) == 0 {
		return map[string]any{"success": true, "path": scopePath, "createdFiles": []string{}, "commitSha": nil}, nil
	}

	changes := make([]mutate.Change, 0, len(createdAbs))
	for _, fileAbs := range createdAbs {
		rel, _ := filepath.Rel(libraryRoot, fileAbs)
		content, _ := os.ReadFile(fileAbs)
		changes = append(changes, mutate.Change{RelativePath: filepath.ToSlash(rel), AbsolutePath: fileAbs, Content: string(content)})
	}

	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, changes, OpEnsureScopeScaffold, scopePath, "ensure scope scaffold")
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}

	created := make([]string, 0, len(changes))
	for _, c := range changes {
		created = append(created, c.RelativePath)
	}
	return map[string]any{"success": true, "commitSha": result.CommitSHA, "path": scopePath, "createdFiles": created}, nil
}

func handleProjectContext(libraryRoot string, raw json.RawMessage) (any, error) {
	var args projectArgs
	if err := decodeStrict(raw, &args, "path", "name", "include_files", "include_transcripts"); err != nil {
		return nil, err
	}
	if err := requirePathOrName(args.Path, args.Name); err != nil {
		return nil, err
	}
	files, missing, transcriptPaths, err := projects.Context(libraryRoot, args.Path, args.Name, args.IncludeFiles, args.IncludeTranscripts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files, "missing": missing, "transcripts": transcriptPaths}, nil
}

func handleCreateProjectScaffold(libraryRoot string, raw json.RawMessage) (any, error) {
	var args projectArgs
	if err := decodeStrict(raw, &args, "path", "name"); err != nil {
		return nil, err
	}
	if err := requirePathOrName(args.Path, args.Name); err != nil {
		return nil, err
	}
	projectPath, err := projects.ResolveProjectPath(args.Path, args.Name)
	if err != nil {
		return nil, err
	}
	files := make([]projectFileArgs, 0, len(projects.DefaultProjectFiles()))
	for _, f := range projects.DefaultProjectFiles() {
		files = append(files, projectFileArgs{Path: f.Path, Content: f.Content})
	}
	wrapped, err := json.Marshal(projectArgs{Path: projectPath, Files: files})
	if err != nil {
		return nil, err
	}
	return handleCreateProject(libraryRoot, wrapped)
}

type transcriptArgs struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	Date     string `json:"date"`
	Project  string `json:"project"`
	Source   string `json:"source"`
}

func handleIngestTranscript(libraryRoot string, raw json.RawMessage) (any, error) {
	var args transcriptArgs
	if err := decodeStrict(raw, &args, "content", "filename", "date", "project", "source"); err != nil {
		return nil, err
	}
	if args.Content == "" {
		return nil, errs.New("MISSING_CONTENT", "content is required.", map[string]any{"fields": []string{"content"}})
	}
	plan, err := transcripts.BuildPlan(libraryRoot, args.Content, args.Date, args.Filename, args.Project, args.Source)
	if err != nil {
		return nil, err
	}

	transcriptAbs := filepath.Join(libraryRoot, plan.TranscriptRelativePath)
	indexAbs := filepath.Join(libraryRoot, plan.IndexRelativePath)
	changes := []mutate.Change{
		{RelativePath: plan.TranscriptRelativePath, AbsolutePath: transcriptAbs, Content: plan.TranscriptContent, Existed: false},
		{RelativePath: plan.IndexRelativePath, AbsolutePath: indexAbs, Content: plan.IndexContent, Existed: plan.IndexExisted, Original: plan.IndexOriginal},
	}
	if err := os.MkdirAll(filepath.Dir(transcriptAbs), 0o755); err != nil {
		return nil, err
	}

	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, changes, OpIngestTranscript, plan.TranscriptRelativePath, "ingest transcript")
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"success": true, "commitSha": result.CommitSHA, "path": plan.TranscriptRelativePath}, nil
}

// --- markdown reads, search, previews ---

func handleReadMarkdown(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path"); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errs.New("MISSING_PATH", "Path is required.", map[string]any{"fields": []string{"path"}})
	}
	if !isMarkdownPath(args.Path) {
		return nil, errs.New("NOT_MARKDOWN", "Only markdown files are allowed.", map[string]any{"path": args.Path})
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Markdown file does not exist.", map[string]any{"path": args.Path})
	}
	if info.IsDir() {
		return nil, errs.New("INVALID_PATH", "Path must reference a file.", map[string]any{"path": args.Path})
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	meta, err := fileops.ReadMetadata(libraryRoot, abs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": string(content), "metadata": meta}, nil
}

func collectMarkdownFiles(libraryRoot, dirAbs string) ([]string, error) {
	all, err := fileops.CollectFilePaths(libraryRoot, dirAbs)
	if err != nil {
		return nil, err
	}
	markdown := make([]string, 0, len(all))
	for _, p := range all {
		if isMarkdownPath(p) {
			markdown = append(markdown, p)
		}
	}
	sort.Strings(markdown)
	return markdown, nil
}

func handleListMarkdownFiles(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path"); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errs.New("MISSING_PATH", "Path is required.", map[string]any{"fields": []string{"path"}})
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": args.Path})
	}
	if !info.IsDir() {
		return nil, errs.New("INVALID_PATH", "Path must reference a directory.", map[string]any{"path": args.Path})
	}
	files, err := collectMarkdownFiles(libraryRoot, abs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files": files}, nil
}

type searchArgs struct {
	Query string `json:"query"`
	Path  string `json:"path"`
}

type searchMatch struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

func handleSearchMarkdown(libraryRoot string, raw json.RawMessage) (any, error) {
	var args searchArgs
	if err := decodeStrict(raw, &args, "query", "path"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errs.New("INVALID_QUERY", "Query must be a non-empty string.", map[string]any{"query": args.Query})
	}

	var candidates []string
	if args.Path != "" {
		abs, err := resolvePath(libraryRoot, args.Path)
		if err != nil {
			return nil, err
		}
		info, statErr := os.Stat(abs)
		if statErr != nil {
			return nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": args.Path})
		}
		if info.IsDir() {
			files, err := collectMarkdownFiles(libraryRoot, abs)
			if err != nil {
				return nil, err
			}
			candidates = files
		} else {
			if !isMarkdownPath(args.Path) {
				return nil, errs.New("NOT_MARKDOWN", "Only markdown files are allowed.", map[string]any{"path": args.Path})
			}
			candidates = []string{args.Path}
		}
	} else {
		files, err := collectMarkdownFiles(libraryRoot, libraryRoot)
		if err != nil {
			return nil, err
		}
		candidates = files
	}

	results := make([]searchMatch, 0)
	for _, rel := range candidates {
		data, err := os.ReadFile(filepath.Join(libraryRoot, rel))
		if err != nil {
			continue
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), strings.ToLower(args.Query)) {
				results = append(results, searchMatch{Path: rel, Line: i + 1, Snippet: strings.TrimSpace(line)})
			}
		}
	}
	return map[string]any{"results": results}, nil
}

func handlePreviewMarkdownChange(libraryRoot string, raw json.RawMessage) (any, error) {
	var args markdownArgs
	if err := decodeStrict(raw, &args, "path", "operation", "heading", "content"); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errs.New("MISSING_PATH", "Path is required.", map[string]any{"fields": []string{"path"}})
	}
	if args.Operation == "" {
		return nil, errs.New("MISSING_OPERATION", "Operation is required.", map[string]any{"fields": []string{"operation"}})
	}
	if !isMarkdownPath(args.Path) {
		return nil, errs.New("NOT_MARKDOWN", "Only markdown files are allowed.", map[string]any{"path": args.Path})
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	original, readErr := os.ReadFile(abs)
	if readErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Markdown file does not exist.", map[string]any{"path": args.Path})
	}
	updated, editErr := mdedit.Apply(string(original), args.Operation, args.Heading, args.Content)
	if editErr != nil {
		return nil, editErr
	}
	diff, changedLines := mdedit.UnifiedDiff(args.Path, args.Path, string(original), updated)
	return map[string]any{
		"diff":      diff,
		"riskLevel": mdedit.ClassifyRisk(changedLines),
		"summary":   fmt.Sprintf("%s on %s: %d changed lines", args.Operation, args.Path, changedLines),
	}, nil
}

type bulkChangeArgs struct {
	Path      string `json:"path"`
	Action    string `json:"action"`
	Operation string `json:"operation"`
	Content   string `json:"content"`
}

type bulkChangesArgs struct {
	Changes []bulkChangeArgs `json:"changes"`
}

type bulkChangeResult struct {
	Path    string `json:"path"`
	Action  string `json:"action"`
	Diff    string `json:"diff,omitempty"`
	Summary string `json:"summary"`
}

func handlePreviewBulkChanges(libraryRoot string, raw json.RawMessage) (any, error) {
	var args bulkChangesArgs
	if err := decodeStrict(raw, &args, "changes"); err != nil {
		return nil, err
	}
	if err := rejectUnknownFieldsInArray(raw, "changes", "path", "action", "operation", "content"); err != nil {
		return nil, err
	}
	if len(args.Changes) == 0 {
		return nil, errs.New("MISSING_CHANGES", "changes is required.", map[string]any{"fields": []string{"changes"}})
	}
	results := make([]bulkChangeResult, 0, len(args.Changes))
	totalAdded, totalRemoved := 0, 0
	for _, change := range args.Changes {
		action := strings.ToLower(change.Action)
		if action != "create" && action != "write" && action != "edit" && action != "delete" {
			return nil, errs.New("INVALID_ACTION", "action must be one of create/write/edit/delete.", map[string]any{"action": change.Action})
		}
		if !isMarkdownPath(change.Path) {
			return nil, errs.New("NOT_MARKDOWN", "Only markdown files are allowed.", map[string]any{"path": change.Path})
		}
		abs, err := resolvePath(libraryRoot, change.Path)
		if err != nil {
			return nil, err
		}
		original, readErr := os.ReadFile(abs)
		existing := string(original)
		var updated string
		switch action {
		case "create", "write":
			updated = change.Content
		case "delete":
			updated = ""
		case "edit":
			if readErr != nil {
				return nil, errs.New("FILE_NOT_FOUND", "Markdown file does not exist.", map[string]any{"path": change.Path})
			}
			updated, err = mdedit.Apply(existing, change.Operation, "", change.Content)
			if err != nil {
				return nil, err
			}
		}
		diff, changedLines := mdedit.UnifiedDiff(change.Path, change.Path, existing, updated)
		results = append(results, bulkChangeResult{Path: change.Path, Action: action, Diff: diff, Summary: fmt.Sprintf("%s: %d changed lines", action, changedLines)})
		if changedLines > 0 {
			totalAdded += changedLines
		}
	}
	return map[string]any{"results": results, "totalChangedLines": totalAdded, "totalRemoved": totalRemoved}, nil
}

// --- directories and binary files ---

type dirArgs struct {
	Path    string `json:"path"`
	Gitkeep bool   `json:"gitkeep"`
}

func handleCreateDirectory(libraryRoot string, raw json.RawMessage) (any, error) {
	var args dirArgs
	if err := decodeStrict(raw, &args, "path", "gitkeep"); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errs.New("MISSING_PATH", "Path is required.", map[string]any{"fields": []string{"path"}})
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
		return nil, errs.New("INVALID_PATH", "Path must reference a directory.", map[string]any{"path": args.Path})
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	if !args.Gitkeep {
		return map[string]any{"success": true, "path": args.Path, "commitSha": nil}, nil
	}

	gitkeepRel := args.Path + "/.gitkeep"
	gitkeepAbs := filepath.Join(abs, ".gitkeep")
	change := mutate.Change{RelativePath: gitkeepRel, AbsolutePath: gitkeepAbs, Existed: false}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, []mutate.Change{change}, OpCreateDirectory, gitkeepRel, "create directory "+args.Path)
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"success": true, "path": args.Path, "commitSha": result.CommitSHA}, nil
}

type binaryArgs struct {
	Path           string `json:"path"`
	ContentBase64  string `json:"content_base64"`
}

func handleWriteBinary(libraryRoot string, raw json.RawMessage) (any, error) {
	var args binaryArgs
	if err := decodeStrict(raw, &args, "path", "content_base64", "content_type"); err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, errs.New("MISSING_PATH", "Path is required.", map[string]any{"fields": []string{"path"}})
	}
	if args.ContentBase64 == "" {
		return nil, errs.New("MISSING_CONTENT", "content_base64 is required.", map[string]any{"fields": []string{"content_base64"}})
	}
	data, decodeErr := base64.StdEncoding.DecodeString(args.ContentBase64)
	if decodeErr != nil {
		return nil, errs.New("INVALID_CONTENT", "content_base64 must be valid base64.", map[string]any{"path": args.Path})
	}
	abs, err := resolvePath(libraryRoot, args.Path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(abs); statErr == nil {
		return nil, errs.New("PATH_EXISTS", "Path already exists.", map[string]any{"path": args.Path})
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	change := mutate.Change{RelativePath: args.Path, AbsolutePath: abs, Binary: data, Existed: false}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.RunNoRestoreOnLogFailure(libraryRoot, []mutate.Change{change}, OpWriteBinary, args.Path, "write binary "+args.Path)
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"success": true, "commitSha": result.CommitSHA, "path": args.Path}, nil
}

func handlePreviewCopyPath(libraryRoot string, raw json.RawMessage) (any, error) {
	var args moveArgs
	if err := decodeStrict(raw, &args, "source", "destination", "overwrite"); err != nil {
		return nil, err
	}
	if args.Source == "" || args.Destination == "" {
		return nil, errs.New("MISSING_PATH", "source and destination are required.", map[string]any{"fields": []string{"source", "destination"}})
	}
	src, err := resolvePath(libraryRoot, args.Source)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(src); statErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Source path does not exist.", map[string]any{"path": args.Source})
	}
	dst, err := resolvePath(libraryRoot, args.Destination)
	if err != nil {
		return nil, err
	}
	mappings, conflicts, err := fileops.PreviewMappings(libraryRoot, src, dst)
	if err != nil {
		return nil, err
	}
	return map[string]any{"mappings": mappings, "conflicts": conflicts, "summary": map[string]any{"files": len(mappings)}}, nil
}

func handlePreviewDeletePath(libraryRoot string, raw json.RawMessage) (any, error) {
	var args moveArgs
	if err := decodeStrict(raw, &args, "source", "recursive"); err != nil {
		return nil, err
	}
	if args.Source == "" {
		return nil, errs.New("MISSING_PATH", "Source is required.", map[string]any{"fields": []string{"source"}})
	}
	abs, err := resolvePath(libraryRoot, args.Source)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Path does not exist.", map[string]any{"path": args.Source})
	}
	if info.IsDir() && !args.Recursive {
		return nil, errs.New("RECURSIVE_REQUIRED", "Directory deletion requires recursive=true.", map[string]any{"path": args.Source})
	}
	paths, err := fileops.CollectFilePaths(libraryRoot, abs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"paths": paths, "summary": map[string]any{"files": len(paths)}}, nil
}

// --- task updates ---

type taskUpdateArgs struct {
	ID     int            `json:"id"`
	Fields map[string]any `json:"fields"`
}

func handleUpdateTask(libraryRoot string, raw json.RawMessage) (any, error) {
	var args taskUpdateArgs
	if err := decodeStrict(raw, &args, "id", "fields"); err != nil {
		return nil, err
	}
	if args.Fields == nil {
		return nil, errs.New("MISSING_FIELDS", "id and fields are required.", map[string]any{"fields": []string{"id", "fields"}})
	}
	path := filepath.Join(libraryRoot, "pulse", "index.md")
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Task index does not exist.", map[string]any{"path": "pulse/index.md"})
	}
	all, lines := tasks.Parse(string(content))

	var updatedTask *tasks.Task
	updatedLines := append([]string{}, lines...)
	for i, line := range lines {
		for _, t := range all {
			if t.ID == args.ID && t.Raw == line {
				next := t
				applyTaskFields(&next, args.Fields)
				updatedLines[i] = tasks.FormatLine(next)
				updatedTask = &next
				break
			}
		}
		if updatedTask != nil {
			break
		}
	}
	if updatedTask == nil {
		return nil, errs.New("TASK_NOT_FOUND", "Task ID not found.", map[string]any{"id": args.ID})
	}

	change := mutate.Change{RelativePath: "pulse/index.md", AbsolutePath: path, Content: joinLines(updatedLines), Existed: true, Original: string(content)}
	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.Run(libraryRoot, []mutate.Change{change}, OpUpdateTask, "pulse/index.md", fmt.Sprintf("update task T-%03d", args.ID))
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"task": *updatedTask, "commitSha": result.CommitSHA}, nil
}

func applyTaskFields(t *tasks.Task, fields map[string]any) {
	if v, ok := fields["title"].(string); ok {
		t.Title = v
	}
	if v, ok := fields["priority"].(string); ok {
		t.Priority = v
	}
	if v, ok := fields["owner"].(string); ok {
		t.Owner = v
	}
	if v, ok := fields["project"].(string); ok {
		t.Project = v
	}
	if v, ok := fields["due"].(string); ok {
		t.Due = v
	}
	if raw, ok := fields["tags"].([]any); ok {
		tags := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				tags = append(tags, s)
			}
		}
		t.Tags = tags
	}
}

func handleReopenTask(libraryRoot string, raw json.RawMessage) (any, error) {
	var args taskArgs
	if err := decodeStrict(raw, &args, "id"); err != nil {
		return nil, err
	}
	completedPath := filepath.Join(libraryRoot, tasks.CompletedPath(time.Now()))
	completedContent, readErr := os.ReadFile(completedPath)
	if readErr != nil {
		return nil, errs.New("FILE_NOT_FOUND", "Completed tasks file does not exist.", map[string]any{"path": tasks.CompletedPath(time.Now())})
	}
	all, lines := tasks.Parse(string(completedContent))

	var found *tasks.Task
	remainingLines := make([]string, 0, len(lines))
	for _, line := range lines {
		matched := false
		for _, t := range all {
			if t.ID == args.ID && t.Raw == line {
				reopened := t
				reopened.Status = " "
				found = &reopened
				matched = true
				break
			}
		}
		if !matched {
			remainingLines = append(remainingLines, line)
		}
	}
	if found == nil {
		return nil, errs.New("TASK_NOT_FOUND", "Task ID not found.", map[string]any{"id": args.ID})
	}

	indexPath := filepath.Join(libraryRoot, "pulse", "index.md")
	indexContent, indexReadErr := os.ReadFile(indexPath)
	indexExisted := indexReadErr == nil
	updatedIndex := appendLines(splitNonEmptyLines(string(indexContent)), tasks.FormatLine(*found))

	completedChange := mutate.Change{RelativePath: tasks.CompletedPath(time.Now()), AbsolutePath: completedPath, Content: joinLines(remainingLines), Existed: true, Original: string(completedContent)}
	indexChange := mutate.Change{RelativePath: "pulse/index.md", AbsolutePath: indexPath, Content: updatedIndex, Existed: indexExisted, Original: string(indexContent)}

	var result mutate.Result
	var mutErr *errs.Error
	if lockErr := mutate.Lock(libraryRoot, func() error {
		result, mutErr = mutate.Run(libraryRoot, []mutate.Change{completedChange, indexChange}, OpReopenTask, "pulse/index.md", fmt.Sprintf("reopen task T-%03d", args.ID))
		return nil
	}); lockErr != nil {
		return nil, lockErr
	}
	if mutErr != nil {
		return nil, mutErr
	}
	return map[string]any{"task": *found, "commitSha": result.CommitSHA}, nil
}

// --- bootstrap, activity log, catalogue ---

func handleBootstrapLibrary(libraryRoot string, raw json.RawMessage) (any, error) {
	if err := checkAllowedFields(raw); err != nil {
		return nil, err
	}
	result, err := schema.EnsureScopedLibraryStructure(libraryRoot, true, time.Now())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"changed":      len(result.ChangedPaths) > 0,
		"changedPaths": result.ChangedPaths,
		"commitSha":    nil,
	}, nil
}

type activityArgs struct {
	Limit int        `json:"limit"`
	Since *time.Time `json:"since"`
}

func handleReadActivityLog(libraryRoot string, raw json.RawMessage) (any, error) {
	var args activityArgs
	if err := decodeStrict(raw, &args, "limit", "since"); err != nil {
		return nil, err
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}
	entries, err := activity.ReadSince(libraryRoot, args.Since, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": entries}, nil
}

func handleListOperations(_ string, raw json.RawMessage) (any, error) {
	if err := checkAllowedFields(raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return map[string]any{"operations": names}, nil
}
