package staging

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/db"
	"github.com/hpungsan/capture/internal/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T, opts Options) (*Store, *fakeClock) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	return New(database, opts), clock
}

func textCapture(id, body string) *capture.Capture {
	return &capture.Capture{
		ID:          id,
		Source:      capture.SourceEmail,
		Content:     body,
		ContentKind: capture.ContentText,
	}
}

// stage inserts a text capture and finalizes it to staged.
func stage(t *testing.T, s *Store, id, body string) capture.Digest {
	t.Helper()
	ctx := context.Background()
	if err := s.Insert(ctx, textCapture(id, body)); err != nil {
		t.Fatalf("Insert(%s) failed: %v", id, err)
	}
	d := capture.HashContent([]byte(body))
	c, err := s.FinalizeHash(ctx, id, d, nil)
	if err != nil {
		t.Fatalf("FinalizeHash(%s) failed: %v", id, err)
	}
	if c.Status != capture.StatusStaged {
		t.Fatalf("status after finalize = %s, want staged", c.Status)
	}
	return d
}

func TestInsert_StartsPending(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	c := textCapture("01ARZ3", "hello")
	c.Metadata = map[string]string{" Subject ": "Hi"}
	if err := s.Insert(ctx, c); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := s.Get(ctx, "01ARZ3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != capture.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.Hash.IsFinalized() {
		t.Error("hash finalized on insert")
	}
	if got.Metadata["subject"] != "Hi" {
		t.Errorf("Metadata = %v, want normalized key", got.Metadata)
	}
}

func TestInsert_Validation(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		c    *capture.Capture
	}{
		{"nil", nil},
		{"bad id", textCapture("not-a-ulid!", "x")},
		{"bad source", &capture.Capture{ID: "01A", Source: "fax", ContentKind: capture.ContentText}},
		{"missing kind", &capture.Capture{ID: "01A", Source: capture.SourceVoice}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Insert(ctx, tt.c); !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("Insert error = %v, want INVALID_REQUEST", err)
			}
		})
	}

	if err := s.Insert(ctx, textCapture("01A", "x")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Insert(ctx, textCapture("01A", "y")); !errors.Is(err, errors.ErrDuplicateID) {
		t.Errorf("duplicate insert error = %v, want DUPLICATE_ID", err)
	}
}

func TestFinalizeHash_ReferenceThenText(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	memo := &capture.Capture{
		ID:          "01VMEM",
		Source:      capture.SourceVoice,
		Content:     "/audio/memo-1.m4a",
		ContentKind: capture.ContentReference,
	}
	if err := s.Insert(ctx, memo); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	transcript := "Call the plumber"
	d := capture.HashContent([]byte(transcript))

	// Hash known before the transcript is stored: hashed, not staged.
	c, err := s.FinalizeHash(ctx, memo.ID, d, nil)
	if err != nil {
		t.Fatalf("FinalizeHash failed: %v", err)
	}
	if c.Status != capture.StatusHashed {
		t.Fatalf("Status = %s, want hashed", c.Status)
	}

	c, err = s.FinalizeHash(ctx, memo.ID, d, &transcript)
	if err != nil {
		t.Fatalf("FinalizeHash with text failed: %v", err)
	}
	if c.Status != capture.StatusStaged {
		t.Errorf("Status = %s, want staged", c.Status)
	}
	if c.Content != transcript || c.ContentKind != capture.ContentText {
		t.Errorf("content = %q (%s), want transcript text", c.Content, c.ContentKind)
	}
}

func TestFinalizeHash_Immutable(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	memo := &capture.Capture{ID: "01ARZ3", Source: capture.SourceVoice, Content: "/rec/a.m4a", ContentKind: capture.ContentReference}
	if err := s.Insert(ctx, memo); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	d := capture.HashContent([]byte("original"))
	if _, err := s.FinalizeHash(ctx, "01ARZ3", d, nil); err != nil {
		t.Fatalf("FinalizeHash failed: %v", err)
	}

	// Same digest again on a hashed capture is accepted.
	c, err := s.FinalizeHash(ctx, "01ARZ3", d, nil)
	if err != nil {
		t.Fatalf("repeat FinalizeHash failed: %v", err)
	}
	if c.Status != capture.StatusHashed {
		t.Errorf("status = %s, want hashed", c.Status)
	}

	other := capture.HashContent([]byte("tampered"))
	if _, err := s.FinalizeHash(ctx, "01ARZ3", other, nil); !errors.Is(err, errors.ErrHashImmutable) {
		t.Fatalf("FinalizeHash with new digest error = %v, want HASH_IMMUTABLE", err)
	}

	stored, _ := s.Get(ctx, "01ARZ3")
	if got, _ := stored.Hash.Digest(); got != d {
		t.Errorf("stored hash = %s, want %s", got, d)
	}
}

func TestFinalizeHash_OnlyFromPendingOrHashed(t *testing.T) {
	ctx := context.Background()

	paths := map[capture.Status][]capture.Status{
		capture.StatusStaged:            {},
		capture.StatusExporting:         {capture.StatusExporting},
		capture.StatusExported:          {capture.StatusExporting, capture.StatusExported},
		capture.StatusPermanentlyFailed: {capture.StatusExporting, capture.StatusPermanentlyFailed},
	}
	for status, path := range paths {
		t.Run(string(status), func(t *testing.T) {
			s, _ := newTestStore(t, Options{})
			d := stage(t, s, "01ARZ3", "original")
			for _, to := range path {
				if _, err := s.Transition(ctx, "01ARZ3", to); err != nil {
					t.Fatalf("Transition(%s) failed: %v", to, err)
				}
			}

			for _, digest := range []capture.Digest{d, capture.HashContent([]byte("other"))} {
				_, err := s.FinalizeHash(ctx, "01ARZ3", digest, nil)
				if !errors.Is(err, errors.ErrInvalidTransition) {
					t.Errorf("FinalizeHash from %s error = %v, want INVALID_TRANSITION", status, err)
				}
			}

			stored, _ := s.Get(ctx, "01ARZ3")
			if stored.Status != status {
				t.Errorf("status = %s, want %s", stored.Status, status)
			}
		})
	}
}

func TestFinalizeHash_NotFound(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	_, err := s.FinalizeHash(context.Background(), "01ZZZ", capture.HashContent(nil), nil)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

// Every undeclared edge must be rejected with INVALID_TRANSITION and leave
// the stored status unchanged.
func TestTransition_StateSoundness(t *testing.T) {
	ctx := context.Background()

	// Paths from a freshly staged capture to each status.
	reach := map[capture.Status][]capture.Status{
		capture.StatusStaged:            {},
		capture.StatusExporting:         {capture.StatusExporting},
		capture.StatusExported:          {capture.StatusExporting, capture.StatusExported},
		capture.StatusDuplicateSkip:     {capture.StatusExporting, capture.StatusDuplicateSkip},
		capture.StatusError:             {capture.StatusExporting, capture.StatusError},
		capture.StatusPermanentlyFailed: {capture.StatusExporting, capture.StatusPermanentlyFailed},
		capture.StatusQuarantined:       {capture.StatusExporting, capture.StatusQuarantined},
	}

	for from, path := range reach {
		for _, to := range capture.AllStatuses() {
			if capture.CanTransition(from, to) {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				s, _ := newTestStore(t, Options{})
				stage(t, s, "01A", "body")
				for _, step := range path {
					if _, err := s.Transition(ctx, "01A", step); err != nil {
						t.Fatalf("setup transition to %s failed: %v", step, err)
					}
				}

				_, err := s.Transition(ctx, "01A", to)
				if !errors.Is(err, errors.ErrInvalidTransition) {
					t.Fatalf("Transition error = %v, want INVALID_TRANSITION", err)
				}
				got, _ := s.Get(ctx, "01A")
				if got.Status != from {
					t.Errorf("status = %s after rejected edge, want %s", got.Status, from)
				}
			})
		}
	}
}

func TestTransition_PendingCannotStageWithoutHash(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	if err := s.Insert(ctx, textCapture("01A", "x")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := s.Transition(ctx, "01A", capture.StatusStaged); !errors.Is(err, errors.ErrHashNotFinalized) {
		t.Errorf("error = %v, want HASH_NOT_FINALIZED", err)
	}
}

func TestTransition_CountsAttemptsAndSetsPath(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	stage(t, s, "01A", "body")

	c, err := s.Transition(ctx, "01A", capture.StatusExporting)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if c.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", c.Attempts)
	}

	c, err = s.Transition(ctx, "01A", capture.StatusExported, WithExportPath("inbox/01A.md"))
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if c.ExportPath != "inbox/01A.md" {
		t.Errorf("ExportPath = %q", c.ExportPath)
	}
}

func TestAttachError_TerminalCapture(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	stage(t, s, "01A", "body")
	for _, to := range []capture.Status{capture.StatusExporting, capture.StatusPermanentlyFailed} {
		if _, err := s.Transition(ctx, "01A", to); err != nil {
			t.Fatalf("Transition(%s) failed: %v", to, err)
		}
	}

	if err := s.AttachError(ctx, "01A", "permission denied"); err != nil {
		t.Fatalf("AttachError failed: %v", err)
	}
	got, _ := s.Get(ctx, "01A")
	if got.Status != capture.StatusPermanentlyFailed || got.LastError != "permission denied" {
		t.Errorf("got %s/%q", got.Status, got.LastError)
	}
}

func TestCheckDuplicate_UsesAuditPath(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	d := stage(t, s, "01ARZ3", "same")
	stage(t, s, "01ARZ4", "same")

	// Nothing exported yet.
	if _, found, err := s.CheckDuplicate(ctx, d, "01ARZ4"); err != nil || found {
		t.Fatalf("CheckDuplicate before export = %v, %v; want not found", found, err)
	}

	if _, err := s.Transition(ctx, "01ARZ3", capture.StatusExporting); err != nil {
		t.Fatal(err)
	}
	if _, err := db.InsertAudit(ctx, s.DB(), &capture.AuditEntry{
		CaptureID: "01ARZ3", VaultPath: "inbox/01ARZ3.md", HashAtExport: d,
		Mode: capture.AuditInitial, Timestamp: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	// Column deliberately differs so the audit trail is shown to win.
	if _, err := s.Transition(ctx, "01ARZ3", capture.StatusExported, WithExportPath("stale/path.md")); err != nil {
		t.Fatal(err)
	}

	dup, found, err := s.CheckDuplicate(ctx, d, "01ARZ4")
	if err != nil {
		t.Fatalf("CheckDuplicate failed: %v", err)
	}
	if !found {
		t.Fatal("expected duplicate")
	}
	if dup.CaptureID != "01ARZ3" || dup.ExportPath != "inbox/01ARZ3.md" {
		t.Errorf("dup = %+v, want 01ARZ3 at inbox/01ARZ3.md", dup)
	}

	// A capture never matches itself.
	if _, found, _ := s.CheckDuplicate(ctx, d, "01ARZ3"); found {
		t.Error("capture matched itself")
	}
}

func TestCheckDuplicate_Lookback(t *testing.T) {
	s, clock := newTestStore(t, Options{DedupLookback: 24 * time.Hour})
	ctx := context.Background()

	d := stage(t, s, "01PAST", "body")
	for _, to := range []capture.Status{capture.StatusExporting, capture.StatusExported} {
		if _, err := s.Transition(ctx, "01PAST", to, WithExportPath("inbox/01PAST.md")); err != nil {
			t.Fatal(err)
		}
	}

	if _, found, _ := s.CheckDuplicate(ctx, d, "01NEW"); !found {
		t.Fatal("expected duplicate inside the window")
	}

	clock.t = clock.t.Add(48 * time.Hour)
	if _, found, _ := s.CheckDuplicate(ctx, d, "01NEW"); found {
		t.Error("duplicate found outside the lookback window")
	}
}

func TestRecoverStuck(t *testing.T) {
	s, clock := newTestStore(t, Options{})
	ctx := context.Background()

	stage(t, s, "01A", "a")
	stage(t, s, "01B", "b")
	if _, err := s.Transition(ctx, "01A", capture.StatusExporting); err != nil {
		t.Fatal(err)
	}
	clock.t = clock.t.Add(10 * time.Minute)
	if _, err := s.Transition(ctx, "01B", capture.StatusExporting); err != nil {
		t.Fatal(err)
	}

	ids, err := s.RecoverStuck(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("RecoverStuck failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "01A" {
		t.Fatalf("recovered = %v, want [01A]", ids)
	}

	a, _ := s.Get(ctx, "01A")
	b, _ := s.Get(ctx, "01B")
	if a.Status != capture.StatusStaged {
		t.Errorf("01A status = %s, want staged", a.Status)
	}
	if b.Status != capture.StatusExporting {
		t.Errorf("01B status = %s, want exporting", b.Status)
	}
}

func TestNextStaged_IngestOrder(t *testing.T) {
	s, clock := newTestStore(t, Options{})
	ctx := context.Background()

	stage(t, s, "01ARZ3", "first")
	clock.t = clock.t.Add(time.Second)
	stage(t, s, "01ARZ4", "second")

	next, err := s.NextStaged(ctx)
	if err != nil {
		t.Fatalf("NextStaged failed: %v", err)
	}
	if next == nil || next.ID != "01ARZ3" {
		t.Errorf("NextStaged = %v, want 01ARZ3", next)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts[capture.StatusStaged] != 2 {
		t.Errorf("staged count = %d, want 2", counts[capture.StatusStaged])
	}
}
