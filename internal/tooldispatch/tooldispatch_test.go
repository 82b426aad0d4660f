package tooldispatch

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/braindrive/library-service/internal/schema"
	"github.com/braindrive/library-service/internal/tasks"
)

func seedLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if _, err := schema.EnsureScopedLibraryStructure(root, true, time.Now()); err != nil {
		t.Fatalf("EnsureScopedLibraryStructure: %v", err)
	}
	return root
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDispatchUnknownOperation(t *testing.T) {
	envelope := Dispatch(Request{Operation: "not_a_real_op", LibraryRoot: t.TempDir()})
	if envelope.OK {
		t.Fatal("expected failure for unknown operation")
	}
	if envelope.Error.Code != "UNKNOWN_OPERATION" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestCreateAndEditMarkdown(t *testing.T) {
	root := seedLibrary(t)

	createArgs := marshal(t, markdownArgs{Path: "capture/inbox/note.md", Content: "# Note\n\nFirst line.\n"})
	envelope := Dispatch(Request{Operation: OpCreateMarkdown, LibraryRoot: root, Args: createArgs})
	if !envelope.OK {
		t.Fatalf("create_markdown failed: %+v", envelope.Error)
	}

	editArgs := marshal(t, markdownArgs{Path: "capture/inbox/note.md", Operation: "append", Content: "Second line."})
	editEnvelope := Dispatch(Request{Operation: OpEditMarkdown, LibraryRoot: root, Args: editArgs})
	if !editEnvelope.OK {
		t.Fatalf("edit_markdown failed: %+v", editEnvelope.Error)
	}

	data, err := os.ReadFile(filepath.Join(root, "capture/inbox/note.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Second line.") {
		t.Fatalf("expected appended content, got %q", data)
	}
}

func TestCreateMarkdownRejectsExistingPath(t *testing.T) {
	root := seedLibrary(t)
	args := marshal(t, markdownArgs{Path: "me/profile.md", Content: "x"})
	envelope := Dispatch(Request{Operation: OpCreateMarkdown, LibraryRoot: root, Args: args})
	if envelope.OK {
		t.Fatal("expected PATH_EXISTS failure")
	}
	if envelope.Error.Code != "PATH_EXISTS" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestCreateAndCompleteTask(t *testing.T) {
	root := seedLibrary(t)

	createArgs := marshal(t, taskArgs{Title: "Ship the release", Priority: "p0", Owner: "ada", Project: "core"})
	createEnvelope := Dispatch(Request{Operation: OpCreateTask, LibraryRoot: root, Args: createArgs})
	if !createEnvelope.OK {
		t.Fatalf("create_task failed: %+v", createEnvelope.Error)
	}
	created := createEnvelope.Data.(map[string]any)
	task := created["task"].(tasks.Task)
	id := task.ID

	listEnvelope := Dispatch(Request{Operation: OpListTasks, LibraryRoot: root})
	if !listEnvelope.OK {
		t.Fatalf("list_tasks failed: %+v", listEnvelope.Error)
	}

	completeArgs := marshal(t, taskArgs{ID: id})
	completeEnvelope := Dispatch(Request{Operation: OpCompleteTask, LibraryRoot: root, Args: completeArgs})
	if !completeEnvelope.OK {
		t.Fatalf("complete_task failed: %+v", completeEnvelope.Error)
	}

	indexData, err := os.ReadFile(filepath.Join(root, "pulse", "index.md"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(indexData), "Ship the release") {
		t.Fatalf("expected completed task to be removed from open index, got %q", indexData)
	}
}

func TestOnboardingStartSaveComplete(t *testing.T) {
	root := seedLibrary(t)

	startEnvelope := Dispatch(Request{Operation: OpStartTopic, LibraryRoot: root, Args: marshal(t, onboardingArgs{Topic: "finances"})})
	if !startEnvelope.OK {
		t.Fatalf("start_topic_onboarding failed: %+v", startEnvelope.Error)
	}

	saveEnvelope := Dispatch(Request{Operation: OpSaveTopicContext, LibraryRoot: root, Args: marshal(t, onboardingArgs{
		Topic: "finances", Context: "Runway is 8 months.", Approved: true,
	})})
	if !saveEnvelope.OK {
		t.Fatalf("save_topic_onboarding_context failed: %+v", saveEnvelope.Error)
	}

	completeEnvelope := Dispatch(Request{Operation: OpCompleteTopic, LibraryRoot: root, Args: marshal(t, onboardingArgs{
		Topic: "finances", Summary: "Runway review complete.",
	})})
	if !completeEnvelope.OK {
		t.Fatalf("complete_topic_onboarding failed: %+v", completeEnvelope.Error)
	}

	rebuildEnvelope := Dispatch(Request{Operation: OpRebuildProfile, LibraryRoot: root})
	if !rebuildEnvelope.OK {
		t.Fatalf("rebuild_profile_context failed: %+v", rebuildEnvelope.Error)
	}
}

func TestOnboardingSaveContextRequiresApproval(t *testing.T) {
	root := seedLibrary(t)
	envelope := Dispatch(Request{Operation: OpSaveTopicContext, LibraryRoot: root, Args: marshal(t, onboardingArgs{
		Topic: "finances", Context: "Unapproved.",
	})})
	if envelope.OK {
		t.Fatal("expected APPROVAL_REQUIRED failure")
	}
	if envelope.Error.Code != "APPROVAL_REQUIRED" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestCreateProjectScaffoldAndListProjects(t *testing.T) {
	root := seedLibrary(t)

	scaffoldEnvelope := Dispatch(Request{Operation: OpCreateProjectScaffold, LibraryRoot: root, Args: marshal(t, projectArgs{Name: "acme"})})
	if !scaffoldEnvelope.OK {
		t.Fatalf("create_project_scaffold failed: %+v", scaffoldEnvelope.Error)
	}

	listEnvelope := Dispatch(Request{Operation: OpListProjects, LibraryRoot: root})
	if !listEnvelope.OK {
		t.Fatalf("list_projects failed: %+v", listEnvelope.Error)
	}
	listed := listEnvelope.Data.(map[string]any)["projects"]
	projectsJSON, _ := json.Marshal(listed)
	if !strings.Contains(string(projectsJSON), "acme") {
		t.Fatalf("expected acme project in listing, got %s", projectsJSON)
	}

	existsEnvelope := Dispatch(Request{Operation: OpProjectExists, LibraryRoot: root, Args: marshal(t, projectArgs{Name: "acme"})})
	if !existsEnvelope.OK {
		t.Fatalf("project_exists failed: %+v", existsEnvelope.Error)
	}
}

func TestReadMarkdownReturnsContentAndMetadata(t *testing.T) {
	root := seedLibrary(t)
	create := marshal(t, markdownArgs{Path: "capture/inbox/note.md", Content: "# Note\n"})
	if env := Dispatch(Request{Operation: OpCreateMarkdown, LibraryRoot: root, Args: create}); !env.OK {
		t.Fatalf("create_markdown failed: %+v", env.Error)
	}

	envelope := Dispatch(Request{Operation: OpReadMarkdown, LibraryRoot: root, Args: marshal(t, markdownArgs{Path: "capture/inbox/note.md"})})
	if !envelope.OK {
		t.Fatalf("read_markdown failed: %+v", envelope.Error)
	}
	data := envelope.Data.(map[string]any)
	if data["content"] != "# Note\n" {
		t.Fatalf("unexpected content %v", data["content"])
	}
}

func TestReadMarkdownRejectsNonMarkdown(t *testing.T) {
	root := seedLibrary(t)
	envelope := Dispatch(Request{Operation: OpReadMarkdown, LibraryRoot: root, Args: marshal(t, markdownArgs{Path: "capture/notes.txt"})})
	if envelope.OK || envelope.Error.Code != "NOT_MARKDOWN" {
		t.Fatalf("expected NOT_MARKDOWN, got %+v", envelope)
	}
}

func TestUpdateAndReopenTask(t *testing.T) {
	root := seedLibrary(t)
	created := Dispatch(Request{Operation: OpCreateTask, LibraryRoot: root, Args: marshal(t, taskArgs{Title: "Ship it", Priority: "p1"})})
	if !created.OK {
		t.Fatalf("create_task failed: %+v", created.Error)
	}
	id := created.Data.(map[string]any)["task"].(tasks.Task).ID

	updated := Dispatch(Request{Operation: OpUpdateTask, LibraryRoot: root, Args: marshal(t, taskUpdateArgs{ID: id, Fields: map[string]any{"priority": "p0"}})})
	if !updated.OK {
		t.Fatalf("update_task failed: %+v", updated.Error)
	}
	if updated.Data.(map[string]any)["task"].(tasks.Task).Priority != "p0" {
		t.Fatalf("expected priority to be updated, got %+v", updated.Data)
	}

	completed := Dispatch(Request{Operation: OpCompleteTask, LibraryRoot: root, Args: marshal(t, taskArgs{ID: id})})
	if !completed.OK {
		t.Fatalf("complete_task failed: %+v", completed.Error)
	}

	reopened := Dispatch(Request{Operation: OpReopenTask, LibraryRoot: root, Args: marshal(t, taskArgs{ID: id})})
	if !reopened.OK {
		t.Fatalf("reopen_task failed: %+v", reopened.Error)
	}
	indexData, err := os.ReadFile(filepath.Join(root, "pulse", "index.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(indexData), "Ship it") {
		t.Fatalf("expected reopened task back in open index, got %q", indexData)
	}
}

func TestCreateDirectoryWithGitkeep(t *testing.T) {
	root := seedLibrary(t)
	envelope := Dispatch(Request{Operation: OpCreateDirectory, LibraryRoot: root, Args: marshal(t, dirArgs{Path: "capture/scratch", Gitkeep: true})})
	if !envelope.OK {
		t.Fatalf("create_directory failed: %+v", envelope.Error)
	}
	if _, err := os.Stat(filepath.Join(root, "capture", "scratch", ".gitkeep")); err != nil {
		t.Fatalf("expected .gitkeep to exist: %v", err)
	}
}

func TestWriteBinaryRoundTrips(t *testing.T) {
	root := seedLibrary(t)
	payload := []byte{0x01, 0x02, 0x03}
	envelope := Dispatch(Request{Operation: OpWriteBinary, LibraryRoot: root, Args: marshal(t, binaryArgs{
		Path:          "share/exports/blob.bin",
		ContentBase64: base64.StdEncoding.EncodeToString(payload),
	})})
	if !envelope.OK {
		t.Fatalf("write_binary failed: %+v", envelope.Error)
	}
	data, err := os.ReadFile(filepath.Join(root, "share", "exports", "blob.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(payload) {
		t.Fatalf("unexpected binary content %v", data)
	}
}

func TestListOperationsIncludesKnownOps(t *testing.T) {
	envelope := Dispatch(Request{Operation: OpListOperations, LibraryRoot: t.TempDir()})
	if !envelope.OK {
		t.Fatalf("list_operations failed: %+v", envelope.Error)
	}
	ops := envelope.Data.(map[string]any)["operations"].([]string)
	found := false
	for _, op := range ops {
		if op == OpCreateMarkdown {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s among listed operations, got %v", OpCreateMarkdown, ops)
	}
}

func TestReadActivityLogReturnsRecentEntries(t *testing.T) {
	root := seedLibrary(t)
	if env := Dispatch(Request{Operation: OpCreateMarkdown, LibraryRoot: root, Args: marshal(t, markdownArgs{Path: "capture/inbox/a.md", Content: "a"})}); !env.OK {
		t.Fatalf("create_markdown failed: %+v", env.Error)
	}
	envelope := Dispatch(Request{Operation: OpReadActivityLog, LibraryRoot: root})
	if !envelope.OK {
		t.Fatalf("read_activity_log failed: %+v", envelope.Error)
	}
}

func TestBootstrapLibraryIsIdempotent(t *testing.T) {
	root := t.TempDir()
	first := Dispatch(Request{Operation: OpBootstrapLibrary, LibraryRoot: root})
	if !first.OK {
		t.Fatalf("bootstrap_user_library failed: %+v", first.Error)
	}
	second := Dispatch(Request{Operation: OpBootstrapLibrary, LibraryRoot: root})
	if !second.OK {
		t.Fatalf("second bootstrap_user_library failed: %+v", second.Error)
	}
	if second.Data.(map[string]any)["changed"] != false {
		t.Fatalf("expected no changes on second bootstrap, got %+v", second.Data)
	}
}

func TestIngestTranscriptWritesFileAndIndex(t *testing.T) {
	root := seedLibrary(t)
	args := marshal(t, transcriptArgs{Content: "hello", Date: "2026-03-05", Filename: "call.md"})
	envelope := Dispatch(Request{Operation: OpIngestTranscript, LibraryRoot: root, Args: args})
	if !envelope.OK {
		t.Fatalf("ingest_transcript failed: %+v", envelope.Error)
	}

	data, err := os.ReadFile(filepath.Join(root, "transcripts", "2026-03", "call.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected transcript content %q", data)
	}

	index, err := os.ReadFile(filepath.Join(root, "transcripts", "index.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(index), "transcripts/2026-03/call.md") {
		t.Fatalf("expected index to reference new transcript, got %q", index)
	}
}

func TestCreateMarkdownRejectsUnknownField(t *testing.T) {
	root := seedLibrary(t)
	args := json.RawMessage(`{"path":"capture/inbox/note.md","content":"x","bogus":true}`)
	envelope := Dispatch(Request{Operation: OpCreateMarkdown, LibraryRoot: root, Args: args})
	if envelope.OK {
		t.Fatal("expected UNKNOWN_FIELD failure")
	}
	if envelope.Error.Code != "UNKNOWN_FIELD" {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
}

func TestCreateTaskRejectsUnknownField(t *testing.T) {
	root := seedLibrary(t)
	args := json.RawMessage(`{"title":"Ship it","status":"done"}`)
	envelope := Dispatch(Request{Operation: OpCreateTask, LibraryRoot: root, Args: args})
	if envelope.OK || envelope.Error.Code != "UNKNOWN_FIELD" {
		t.Fatalf("expected UNKNOWN_FIELD, got %+v", envelope)
	}
}

func TestDeletePathRequiresConfirm(t *testing.T) {
	root := seedLibrary(t)
	if env := Dispatch(Request{Operation: OpCreateMarkdown, LibraryRoot: root, Args: marshal(t, markdownArgs{Path: "capture/inbox/note.md", Content: "x"})}); !env.OK {
		t.Fatalf("create_markdown failed: %+v", env.Error)
	}

	unconfirmed := Dispatch(Request{Operation: OpDeletePath, LibraryRoot: root, Args: marshal(t, moveArgs{Source: "capture/inbox/note.md"})})
	if unconfirmed.OK || unconfirmed.Error.Code != "CONFIRM_REQUIRED" {
		t.Fatalf("expected CONFIRM_REQUIRED, got %+v", unconfirmed)
	}
	if _, err := os.Stat(filepath.Join(root, "capture/inbox/note.md")); err != nil {
		t.Fatalf("expected file to survive unconfirmed delete: %v", err)
	}

	confirmed := Dispatch(Request{Operation: OpDeletePath, LibraryRoot: root, Args: marshal(t, moveArgs{Source: "capture/inbox/note.md", Confirm: true})})
	if !confirmed.OK {
		t.Fatalf("delete_path failed: %+v", confirmed.Error)
	}
	if _, err := os.Stat(filepath.Join(root, "capture/inbox/note.md")); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err = %v", err)
	}
}

func TestPreviewBulkChangesRejectsUnknownFieldInChangeItem(t *testing.T) {
	root := seedLibrary(t)
	args := json.RawMessage(`{"changes":[{"path":"capture/inbox/a.md","action":"create","content":"a","extra":1}]}`)
	envelope := Dispatch(Request{Operation: OpPreviewBulkChanges, LibraryRoot: root, Args: args})
	if envelope.OK || envelope.Error.Code != "UNKNOWN_FIELD" {
		t.Fatalf("expected UNKNOWN_FIELD, got %+v", envelope)
	}
}
