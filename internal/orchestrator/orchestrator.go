// Package orchestrator drives staged captures through the vault export.
//
// Captures are processed one at a time in ingest order. Each attempt holds
// the export gate, so at most one vault write is ever in flight. Every
// attempt leaves an audit entry, and failures also leave an error log entry.
package orchestrator

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/export"
	"github.com/hpungsan/capture/internal/logging"
	"github.com/hpungsan/capture/internal/staging"
)

// CaptureStore is the subset of the staging store the orchestrator uses.
type CaptureStore interface {
	Get(ctx context.Context, id string) (*capture.Capture, error)
	NextStaged(ctx context.Context) (*capture.Capture, error)
	Transition(ctx context.Context, id string, to capture.Status, opts ...staging.TransitionOption) (*capture.Capture, error)
	CheckDuplicate(ctx context.Context, digest capture.Digest, excludeID string) (*staging.Duplicate, bool, error)
	RecoverStuck(ctx context.Context, threshold time.Duration) ([]string, error)
}

// AuditLog records export attempts.
type AuditLog interface {
	Record(ctx context.Context, e capture.AuditEntry) (int64, error)
	LogError(ctx context.Context, e capture.ErrorLogEntry) (int64, error)
}

// VaultWriter writes captures into the vault.
type VaultWriter interface {
	Export(ctx context.Context, permit *export.Permit, req export.Request) (*export.Result, error)
	RelPath(id string) string
	Committed(id string, digest capture.Digest) bool
	CleanOrphans(ctx context.Context) ([]string, error)
	CheckVault() error
}

// Options wires an Orchestrator.
type Options struct {
	Store  CaptureStore
	Audit  AuditLog
	Writer VaultWriter
	Policy Policy
	Logger *slog.Logger

	// Sleep waits between retries. Defaults to a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator owns the export gate and the retry policy.
type Orchestrator struct {
	store  CaptureStore
	audit  AuditLog
	writer VaultWriter
	gate   *export.Gate
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil || opts.Audit == nil || opts.Writer == nil {
		return nil, errors.NewInvalidRequest("orchestrator needs a store, an audit log and a vault writer")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Orchestrator{
		store:  opts.Store,
		audit:  opts.Audit,
		writer: opts.Writer,
		gate:   export.NewGate(),
		policy: opts.Policy.withDefaults(),
		logger: logging.NewComponentLogger(opts.Logger, "orchestrator"),
		sleep:  sleep,
	}, nil
}

// Outcome is the final result of processing one capture.
type Outcome struct {
	ID        string           `json:"id"`
	Status    capture.Status   `json:"status"`
	Path      string           `json:"path,omitempty"`
	Attempts  int              `json:"attempts"`
	ErrorKind export.ErrorKind `json:"error_kind,omitempty"`
}

// Summary counts what a RunOnce pass did.
type Summary struct {
	Recovered   int       `json:"recovered"`
	Processed   int       `json:"processed"`
	Exported    int       `json:"exported"`
	Duplicates  int       `json:"duplicates"`
	Failed      int       `json:"failed"`
	Quarantined int       `json:"quarantined"`
	Retries     int       `json:"retries"`
	Outcomes    []Outcome `json:"outcomes,omitempty"`
}

func (s *Summary) add(out *Outcome, retries int) {
	s.Processed++
	s.Retries += retries
	s.Outcomes = append(s.Outcomes, *out)
	switch out.Status {
	case capture.StatusExported:
		s.Exported++
	case capture.StatusDuplicateSkip:
		s.Duplicates++
	case capture.StatusPermanentlyFailed:
		s.Failed++
	case capture.StatusQuarantined:
		s.Quarantined++
	}
}

// RunOnce requeues captures stuck in exporting, then drains every staged
// capture in ingest order. It stops at the first invariant violation or
// storage failure and returns what was done so far.
func (o *Orchestrator) RunOnce(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	recovered, err := o.store.RecoverStuck(ctx, o.policy.StuckThreshold)
	summary.Recovered = len(recovered)
	if err != nil {
		return summary, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		next, err := o.store.NextStaged(ctx)
		if err != nil {
			return summary, err
		}
		if next == nil {
			return summary, nil
		}

		out, retries, err := o.process(ctx, next.ID)
		if err != nil {
			return summary, err
		}
		summary.add(out, retries)
	}
}

// ExportOne processes a single staged capture to a final status.
func (o *Orchestrator) ExportOne(ctx context.Context, id string) (*Outcome, error) {
	out, _, err := o.process(ctx, id)
	return out, err
}

// Run cleans up after any previous crash and then drains staged captures
// every poll interval until ctx is cancelled. Invalid transitions stop the
// loop; other failures are logged and retried on the next poll.
func (o *Orchestrator) Run(ctx context.Context) error {
	if removed, err := o.writer.CleanOrphans(ctx); err != nil {
		o.logger.Warn("orphan temp cleanup failed", logging.Error(err))
	} else if len(removed) > 0 {
		o.logger.Info("startup cleanup removed orphan temp files", logging.Int("count", len(removed)))
	}
	if err := o.writer.CheckVault(); err != nil {
		o.logger.Warn("vault not writable; exports will retry", logging.Error(err))
	}

	o.logger.Info("export loop started",
		logging.Event("loop_started"),
		logging.Duration("poll_interval", o.policy.PollInterval),
	)

	ticker := time.NewTicker(o.policy.PollInterval)
	defer ticker.Stop()
	for {
		summary, err := o.RunOnce(ctx)
		switch {
		case err == nil:
			if summary.Processed > 0 || summary.Recovered > 0 {
				o.logger.Info("export pass complete",
					logging.Event("pass_complete"),
					logging.Int("processed", summary.Processed),
					logging.Int("exported", summary.Exported),
					logging.Int("duplicates", summary.Duplicates),
					logging.Int("failed", summary.Failed),
					logging.Int("quarantined", summary.Quarantined),
				)
			}
		case errors.IsContext(err) && ctx.Err() != nil:
			return nil
		case errors.Is(err, errors.ErrInvalidTransition):
			o.logger.Error("export loop halted on invalid transition", logging.Error(err))
			return err
		default:
			o.logger.Error("export pass failed", logging.Error(err))
		}

		select {
		case <-ctx.Done():
			o.logger.Info("export loop stopped", logging.Event("loop_stopped"))
			return nil
		case <-ticker.C:
		}
	}
}

// process runs attempts for id until it reaches a final status or a retry
// is not allowed. It returns the number of retries taken.
func (o *Orchestrator) process(ctx context.Context, id string) (*Outcome, int, error) {
	retries := 0
	for {
		permit, err := o.gate.Acquire(ctx)
		if err != nil {
			return nil, retries, err
		}
		out, retry, err := o.attempt(ctx, permit, id)
		permit.Release()
		if err != nil || !retry {
			return out, retries, err
		}

		delay := o.policy.Backoff(out.Attempts)
		o.logger.Info("retrying export after backoff",
			logging.CaptureID(id),
			logging.Event("retry_scheduled"),
			logging.Int(logging.FieldAttempt, out.Attempts),
			logging.Duration("delay", delay),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return out, retries, err
		}
		retries++
	}
}

// attempt makes one export attempt. retry is true when the capture went
// back to staged and should be attempted again.
func (o *Orchestrator) attempt(ctx context.Context, permit *export.Permit, id string) (*Outcome, bool, error) {
	c, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if c.Status != capture.StatusStaged {
		return nil, false, errors.NewInvalidTransition(id, string(c.Status), string(capture.StatusExporting))
	}
	digest, ok := c.Hash.Digest()
	if !ok {
		return nil, false, errors.NewHashNotFinalized(id)
	}

	c, err = o.store.Transition(ctx, id, capture.StatusExporting)
	if err != nil {
		return nil, false, err
	}
	out := &Outcome{ID: id, Attempts: c.Attempts}

	actx := ctx
	if o.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.policy.AttemptTimeout)
		defer cancel()
	}

	// The capture's own committed file wins over another capture's copy;
	// the exporter reports it as a duplicate of itself below.
	var (
		dup   *staging.Duplicate
		found bool
	)
	if !o.writer.Committed(id, digest) {
		dup, found, err = o.store.CheckDuplicate(actx, digest, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			return o.fail(ctx, c, digest, export.KindUnclassified, err)
		}
	}
	if found {
		if _, err := o.audit.Record(ctx, capture.AuditEntry{
			CaptureID:    id,
			VaultPath:    dup.ExportPath,
			HashAtExport: digest,
			Mode:         capture.AuditDuplicateSkip,
		}); err != nil {
			return nil, false, err
		}
		if _, err := o.store.Transition(ctx, id, capture.StatusDuplicateSkip, staging.WithExportPath(dup.ExportPath)); err != nil {
			return nil, false, err
		}
		o.logger.Info("capture skipped as duplicate",
			logging.CaptureID(id),
			logging.Event("duplicate_skip"),
			logging.String("original_id", dup.CaptureID),
			logging.String(logging.FieldPath, dup.ExportPath),
		)
		out.Status = capture.StatusDuplicateSkip
		out.Path = dup.ExportPath
		return out, false, nil
	}

	res, err := o.writer.Export(actx, permit, export.Request{ID: id, Content: []byte(c.Content), Digest: digest})
	if err != nil {
		if ctx.Err() != nil {
			// Left in exporting; stuck-export recovery requeues it.
			return nil, false, ctx.Err()
		}
		var exportErr *export.ExportError
		switch {
		case stderrors.As(err, &exportErr):
			return o.fail(ctx, c, digest, exportErr.Kind, err)
		case stderrors.Is(err, export.ErrNoPermit):
			return nil, false, err
		default:
			return o.fail(ctx, c, digest, export.KindUnclassified, err)
		}
	}

	// Exporter duplicates mean the capture's own file already holds these
	// bytes, so the capture counts as exported.
	if _, err := o.audit.Record(ctx, capture.AuditEntry{
		CaptureID:    id,
		VaultPath:    res.Path,
		HashAtExport: digest,
		Mode:         res.Mode,
	}); err != nil {
		return nil, false, err
	}
	if _, err := o.store.Transition(ctx, id, capture.StatusExported, staging.WithExportPath(res.Path), staging.WithLastError("")); err != nil {
		return nil, false, err
	}
	out.Status = capture.StatusExported
	out.Path = res.Path
	return out, false, nil
}

// fail records a failed attempt and moves the capture on according to the
// error kind.
func (o *Orchestrator) fail(ctx context.Context, c *capture.Capture, digest capture.Digest, kind export.ErrorKind, cause error) (*Outcome, bool, error) {
	msg := cause.Error()
	out := &Outcome{ID: c.ID, Attempts: c.Attempts, ErrorKind: kind}

	if _, err := o.audit.Record(ctx, capture.AuditEntry{
		CaptureID:    c.ID,
		VaultPath:    o.writer.RelPath(c.ID),
		HashAtExport: digest,
		Mode:         capture.AuditInitial,
		ErrorFlag:    true,
		ErrorCode:    string(kind),
	}); err != nil {
		return nil, false, err
	}
	if _, err := o.audit.LogError(ctx, capture.ErrorLogEntry{
		CaptureID:  c.ID,
		ErrorCode:  string(kind),
		Message:    msg,
		RetryCount: c.Attempts,
	}); err != nil {
		return nil, false, err
	}

	attrs := []any{
		logging.CaptureID(c.ID),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Int(logging.FieldAttempt, c.Attempts),
		logging.Error(cause),
	}

	retriable := (&export.ExportError{Kind: kind}).Retriable()
	switch {
	case kind == export.KindIntegrityMismatch:
		if _, err := o.store.Transition(ctx, c.ID, capture.StatusQuarantined, staging.WithLastError(msg)); err != nil {
			return nil, false, err
		}
		o.logger.Error("capture quarantined after integrity check", append(attrs, logging.Event("quarantined"))...)
		out.Status = capture.StatusQuarantined
		return out, false, nil

	case retriable && c.Attempts < o.policy.MaxAttempts:
		if _, err := o.store.Transition(ctx, c.ID, capture.StatusError, staging.WithLastError(msg)); err != nil {
			return nil, false, err
		}
		if _, err := o.store.Transition(ctx, c.ID, capture.StatusStaged); err != nil {
			return nil, false, err
		}
		o.logger.Warn("export attempt failed", append(attrs, logging.Event("attempt_failed"))...)
		out.Status = capture.StatusStaged
		return out, true, nil

	default:
		if _, err := o.store.Transition(ctx, c.ID, capture.StatusPermanentlyFailed, staging.WithLastError(msg)); err != nil {
			return nil, false, err
		}
		o.logger.Error("capture permanently failed", append(attrs, logging.Event("permanently_failed"))...)
		out.Status = capture.StatusPermanentlyFailed
		return out, false, nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
