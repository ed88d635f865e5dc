// Package audit records every export attempt in an append-only trail.
//
// The trail has no update or delete path: the export_audit table carries
// triggers that abort any UPDATE or DELETE, so history written here is
// permanent.
package audit

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/db"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/logging"
)

// Trail appends to and reads from the export audit and error log tables.
type Trail struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Trail over an initialized database.
func New(database *sql.DB, logger *slog.Logger) *Trail {
	return &Trail{
		db:     database,
		logger: logging.NewComponentLogger(logger, "audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends e and returns its id. A zero timestamp is set to now.
func (t *Trail) Record(ctx context.Context, e capture.AuditEntry) (int64, error) {
	if e.CaptureID == "" || e.VaultPath == "" {
		return 0, errors.NewInvalidRequest("audit entry needs capture_id and vault_path")
	}
	switch e.Mode {
	case capture.AuditInitial, capture.AuditDuplicateSkip:
	default:
		return 0, errors.NewInvalidRequest("audit mode must be initial or duplicate_skip")
	}
	if !e.ErrorFlag {
		e.ErrorCode = ""
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}

	var id int64
	err := db.RetryOnBusy(ctx, func() error {
		var err error
		id, err = db.InsertAudit(ctx, t.db, &e)
		return err
	})
	if err != nil {
		return 0, wrap(err)
	}

	t.logger.Debug("audit entry recorded",
		logging.CaptureID(e.CaptureID),
		logging.Event("audit_recorded"),
		logging.String("mode", string(e.Mode)),
		logging.Bool("error_flag", e.ErrorFlag),
		logging.String(logging.FieldPath, e.VaultPath),
	)
	return id, nil
}

// LogError appends an error log entry.
func (t *Trail) LogError(ctx context.Context, e capture.ErrorLogEntry) (int64, error) {
	if e.CaptureID == "" || e.ErrorCode == "" {
		return 0, errors.NewInvalidRequest("error log entry needs capture_id and error_code")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}

	var id int64
	err := db.RetryOnBusy(ctx, func() error {
		var err error
		id, err = db.InsertErrorLog(ctx, t.db, &e)
		return err
	})
	if err != nil {
		return 0, wrap(err)
	}
	return id, nil
}

// ListForCapture returns a capture's audit history, oldest first.
func (t *Trail) ListForCapture(ctx context.Context, captureID string) ([]capture.AuditEntry, error) {
	list, err := db.ListAudit(ctx, t.db, captureID, 0)
	if err != nil {
		return nil, wrap(err)
	}
	return list, nil
}

// List returns up to limit audit entries across all captures, oldest first.
func (t *Trail) List(ctx context.Context, limit int) ([]capture.AuditEntry, error) {
	list, err := db.ListAudit(ctx, t.db, "", limit)
	if err != nil {
		return nil, wrap(err)
	}
	return list, nil
}

// Errors returns error log entries newest first. An empty captureID lists
// every capture.
func (t *Trail) Errors(ctx context.Context, captureID string, limit int) ([]capture.ErrorLogEntry, error) {
	list, err := db.ListErrorLog(ctx, t.db, captureID, limit)
	if err != nil {
		return nil, wrap(err)
	}
	return list, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	var cErr *errors.CaptureError
	if errors.As(err, &cErr) || errors.IsContext(err) {
		return err
	}
	return errors.NewInternal(err)
}
