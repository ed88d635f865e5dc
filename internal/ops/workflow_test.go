package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/config"
	"github.com/hpungsan/capture/internal/db"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/export"
	"github.com/hpungsan/capture/internal/logging"
	"github.com/hpungsan/capture/internal/orchestrator"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database, config.DefaultConfig(), logging.NewNop())
}

func stringPtr(s string) *string {
	return &s
}

// TestFullWorkflow exercises the capture lifecycle:
// ingest (email + voice) → finalize → export → list → fetch → stats
func TestFullWorkflow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	vault := t.TempDir()

	// 1. Email arrives with final text.
	email, err := svc.Ingest(ctx, IngestInput{
		Source:   "email",
		Content:  "# Flight confirmation\n\nGate 12",
		Metadata: map[string]string{"From": "airline@example.com"},
	})
	require.NoError(t, err)
	require.True(t, capture.ValidID(email.ID))
	require.Equal(t, capture.StatusStaged, email.Status)
	require.True(t, email.ContentHash.IsFinalized())
	require.Equal(t, "Flight confirmation", email.Title)

	// 2. Voice memo arrives as a reference.
	voice, err := svc.Ingest(ctx, IngestInput{
		Source:      "voice",
		Content:     "/recordings/memo-7.m4a",
		ContentKind: "reference",
	})
	require.NoError(t, err)
	require.Equal(t, capture.StatusPending, voice.Status)
	require.False(t, voice.ContentHash.IsFinalized())

	// 3. Transcription completes.
	fin, err := svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Text: stringPtr("Remember to renew passport")})
	require.NoError(t, err)
	require.Equal(t, capture.StatusStaged, fin.Status)
	require.Equal(t, "Remember to renew passport", fin.Title)

	// 4. Both are staged.
	listOut, err := svc.List(ctx, ListInput{Statuses: []string{"staged"}})
	require.NoError(t, err)
	require.Len(t, listOut.Items, 2)
	require.Equal(t, 2, listOut.Pagination.Total)
	require.False(t, listOut.Pagination.HasMore)

	// 5. Export.
	exporter, err := export.New(export.Options{VaultRoot: vault})
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Options{
		Store:  svc.Store(),
		Audit:  svc.Audit(),
		Writer: exporter,
	})
	require.NoError(t, err)
	summary, err := orch.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Exported)

	data, err := os.ReadFile(filepath.Join(vault, "inbox", voice.ID+".md"))
	require.NoError(t, err)
	require.Equal(t, "Remember to renew passport", string(data))

	// 6. Fetch shows the audit history.
	fetchOut, err := svc.Fetch(ctx, FetchInput{ID: email.ID})
	require.NoError(t, err)
	require.Equal(t, capture.StatusExported, fetchOut.Status)
	require.Equal(t, "inbox/"+email.ID+".md", fetchOut.ExportPath)
	require.Len(t, fetchOut.Audit, 1)
	require.Equal(t, capture.AuditInitial, fetchOut.Audit[0].Mode)
	require.Empty(t, fetchOut.Errors)
	require.Equal(t, "airline@example.com", fetchOut.Metadata["from"])

	noText, err := svc.Fetch(ctx, FetchInput{ID: email.ID, IncludeText: new(bool)})
	require.NoError(t, err)
	require.Empty(t, noText.Content)

	// 7. Stats.
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 2, stats.Counts[capture.StatusExported])
	require.Equal(t, 0, stats.AwaitingExport)

	// 8. Nothing failed.
	errsOut, err := svc.Errors(ctx, ErrorsInput{})
	require.NoError(t, err)
	require.Empty(t, errsOut.Failed)
	require.Empty(t, errsOut.Log)
}

func TestIngest_CallerSuppliedID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := svc.Ingest(ctx, IngestInput{ID: " 01arz3 ", Source: "email", Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, "01ARZ3", out.ID)

	_, err = svc.Ingest(ctx, IngestInput{ID: "01ARZ3", Source: "email", Content: "again"})
	require.True(t, errors.Is(err, errors.ErrDuplicateID))
}

func TestIngest_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input IngestInput
	}{
		{"unknown source", IngestInput{Source: "sms", Content: "x"}},
		{"unknown kind", IngestInput{Source: "email", Content: "x", ContentKind: "blob"}},
		{"empty content", IngestInput{Source: "email", Content: "   "}},
		{"bad id", IngestInput{ID: "01-ARZ", Source: "email", Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, tt.input)
			require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestFinalize_HashOnlyThenText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	voice, err := svc.Ingest(ctx, IngestInput{Source: "voice", Content: "/rec/1.m4a", ContentKind: "reference"})
	require.NoError(t, err)

	text := "Pick up dry cleaning"
	digest := capture.HashContent([]byte(text))

	out, err := svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Hash: "BLAKE3:" + digest.String()})
	require.NoError(t, err)
	require.Equal(t, capture.StatusHashed, out.Status)

	out, err = svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Text: &text})
	require.NoError(t, err)
	require.Equal(t, capture.StatusStaged, out.Status)

	// Once staged the hash can no longer be finalized.
	_, err = svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Text: stringPtr("changed")})
	require.True(t, errors.Is(err, errors.ErrInvalidTransition), "got %v", err)
}

func TestFinalize_TextMustMatchBoundHash(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	voice, err := svc.Ingest(ctx, IngestInput{Source: "voice", Content: "/rec/2.m4a", ContentKind: "reference"})
	require.NoError(t, err)

	digest := capture.HashContent([]byte("Water the plants"))
	_, err = svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Hash: digest.String()})
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Text: stringPtr("changed")})
	require.True(t, errors.Is(err, errors.ErrHashImmutable), "got %v", err)
}

func TestFinalize_HashMustMatchText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	email, err := svc.Ingest(ctx, IngestInput{Source: "email", Content: "first note"})
	require.NoError(t, err)
	voice, err := svc.Ingest(ctx, IngestInput{Source: "voice", Content: "/rec/3.m4a", ContentKind: "reference"})
	require.NoError(t, err)

	// Borrowing another capture's hash would turn distinct text into a
	// duplicate and drop it.
	_, err = svc.Finalize(ctx, FinalizeInput{
		ID:   voice.ID,
		Text: stringPtr("completely different transcript"),
		Hash: capture.HashContent([]byte("first note")).String(),
	})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	fetched, err := svc.Fetch(ctx, FetchInput{ID: voice.ID})
	require.NoError(t, err)
	require.Equal(t, capture.StatusPending, fetched.Status)
	require.Equal(t, "/rec/3.m4a", fetched.Content)

	// A matching hash is accepted and the transcript exports as its own file.
	text := "completely different transcript"
	out, err := svc.Finalize(ctx, FinalizeInput{ID: voice.ID, Text: &text, Hash: capture.HashContent([]byte(text)).String()})
	require.NoError(t, err)
	require.Equal(t, capture.StatusStaged, out.Status)

	vault := t.TempDir()
	exporter, err := export.New(export.Options{VaultRoot: vault})
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Options{
		Store:  svc.Store(),
		Audit:  svc.Audit(),
		Writer: exporter,
	})
	require.NoError(t, err)
	summary, err := orch.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Exported)
	require.Equal(t, 0, summary.Duplicates)

	for id, want := range map[string]string{email.ID: "first note", voice.ID: text} {
		body, err := os.ReadFile(filepath.Join(vault, "inbox", id+".md"))
		require.NoError(t, err)
		require.Equal(t, want, string(body))
	}
}

func TestFinalize_Validation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Finalize(ctx, FinalizeInput{ID: "01ARZ3"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = svc.Finalize(ctx, FinalizeInput{ID: "01ARZ3", Hash: "abc"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = svc.Finalize(ctx, FinalizeInput{ID: "01ARZ3", Text: stringPtr("x")})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestList_PaginationAndFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"01A", "01B", "01C"} {
		_, err := svc.Ingest(ctx, IngestInput{ID: id, Source: "email", Content: "body " + id})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListInput{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.True(t, page.Pagination.HasMore)
	require.Equal(t, 3, page.Pagination.Total)

	page, err = svc.List(ctx, ListInput{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.False(t, page.Pagination.HasMore)

	none, err := svc.List(ctx, ListInput{Statuses: []string{"exported,quarantined"}})
	require.NoError(t, err)
	require.NotNil(t, none.Items)
	require.Empty(t, none.Items)

	_, err = svc.List(ctx, ListInput{Statuses: []string{"lost"}})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = svc.List(ctx, ListInput{Since: "yesterday"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	future, err := svc.List(ctx, ListInput{Since: "2999-01-01"})
	require.NoError(t, err)
	require.Empty(t, future.Items)
}

func TestErrors_ReportsFailedCaptures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	vault := t.TempDir()

	out, err := svc.Ingest(ctx, IngestInput{ID: "01ARZ3", Source: "email", Content: "mine"})
	require.NoError(t, err)

	target := filepath.Join(vault, "inbox", "01ARZ3.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("theirs"), 0o644))

	exporter, err := export.New(export.Options{VaultRoot: vault})
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Options{Store: svc.Store(), Audit: svc.Audit(), Writer: exporter})
	require.NoError(t, err)
	_, err = orch.ExportOne(ctx, out.ID)
	require.NoError(t, err)

	errsOut, err := svc.Errors(ctx, ErrorsInput{})
	require.NoError(t, err)
	require.Len(t, errsOut.Failed, 1)
	require.Equal(t, capture.StatusPermanentlyFailed, errsOut.Failed[0].Status)
	require.Len(t, errsOut.Log, 1)
	require.Equal(t, "id_collision_conflict", errsOut.Log[0].ErrorCode)

	one, err := svc.Errors(ctx, ErrorsInput{ID: "01ARZ3"})
	require.NoError(t, err)
	require.Len(t, one.Failed, 1)

	fetched, err := svc.Fetch(ctx, FetchInput{ID: "01ARZ3"})
	require.NoError(t, err)
	require.NotEmpty(t, fetched.LastError)
	require.Len(t, fetched.Audit, 1)
	require.True(t, fetched.Audit[0].ErrorFlag)
}

func TestCursor_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetCursor(ctx, "email")
	require.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = svc.PutCursor(ctx, "Email", "historyId=991")
	require.NoError(t, err)

	cur, err := svc.GetCursor(ctx, "email")
	require.NoError(t, err)
	require.Equal(t, "historyId=991", cur.Cursor)

	_, err = svc.PutCursor(ctx, "", "x")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = svc.PutCursor(ctx, "email", " ")
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	vault := t.TempDir()

	for _, id := range []string{"01A", "01B"} {
		_, err := svc.Ingest(ctx, IngestInput{ID: id, Source: "email", Content: "same body"})
		require.NoError(t, err)
	}

	exporter, err := export.New(export.Options{VaultRoot: vault})
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Options{Store: svc.Store(), Audit: svc.Audit(), Writer: exporter})
	require.NoError(t, err)
	summary, err := orch.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Exported)
	require.Equal(t, 1, summary.Duplicates)

	all, err := svc.History(ctx, HistoryInput{})
	require.NoError(t, err)
	require.Len(t, all.Entries, 2)
	require.Equal(t, capture.AuditInitial, all.Entries[0].Mode)
	require.Equal(t, capture.AuditDuplicateSkip, all.Entries[1].Mode)
	require.Equal(t, "inbox/01A.md", all.Entries[1].VaultPath)

	one, err := svc.History(ctx, HistoryInput{ID: "01b"})
	require.NoError(t, err)
	require.Len(t, one.Entries, 1)
	require.Equal(t, "01B", one.Entries[0].CaptureID)

	none, err := svc.History(ctx, HistoryInput{ID: "01C"})
	require.NoError(t, err)
	require.NotNil(t, none.Entries)
	require.Empty(t, none.Entries)
}

func TestReportError(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	voice, err := svc.Ingest(ctx, IngestInput{Source: "voice", Content: "/rec/9.m4a", ContentKind: "reference"})
	require.NoError(t, err)

	out, err := svc.ReportError(ctx, ReportErrorInput{ID: voice.ID, Message: "  transcription service timed out "})
	require.NoError(t, err)
	require.Equal(t, capture.StatusPending, out.Status)
	require.Equal(t, "transcription service timed out", out.LastError)

	_, err = svc.ReportError(ctx, ReportErrorInput{ID: voice.ID, Message: " "})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = svc.ReportError(ctx, ReportErrorInput{ID: "01ZZZ", Message: "x"})
	require.True(t, errors.Is(err, errors.ErrNotFound))
}
