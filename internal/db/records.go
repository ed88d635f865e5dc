package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hpungsan/capture/internal/capture"
)

// InsertAudit appends an audit entry and returns its id.
func InsertAudit(ctx context.Context, q Querier, e *capture.AuditEntry) (int64, error) {
	flag := 0
	if e.ErrorFlag {
		flag = 1
	}
	result, err := q.ExecContext(ctx, `
		INSERT INTO export_audit (capture_id, vault_path, hash_at_export, mode, error_flag, error_code, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.CaptureID, e.VaultPath, e.HashAtExport.String(), string(e.Mode), flag, toNullString(e.ErrorCode), toMillis(e.Timestamp),
	)
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert audit entry: %w", err)
	}
	return id, nil
}

// ListAudit returns audit entries oldest first. An empty captureID lists
// every capture. limit <= 0 means no limit.
func ListAudit(ctx context.Context, q Querier, captureID string, limit int) ([]capture.AuditEntry, error) {
	query := `SELECT id, capture_id, vault_path, hash_at_export, mode, error_flag, error_code, timestamp FROM export_audit`
	var args []any
	if captureID != "" {
		query += " WHERE capture_id = ?"
		args = append(args, captureID)
	}
	query += " ORDER BY id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []capture.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// FirstInitialExport returns the first successful initial-mode audit entry
// for captureID, or nil if the capture was never written.
func FirstInitialExport(ctx context.Context, q Querier, captureID string) (*capture.AuditEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, capture_id, vault_path, hash_at_export, mode, error_flag, error_code, timestamp
		FROM export_audit
		WHERE capture_id = ? AND mode = ? AND error_flag = 0
		ORDER BY id ASC LIMIT 1`,
		captureID, string(capture.AuditInitial),
	)
	e, err := scanAudit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first initial export %s: %w", captureID, err)
	}
	return e, nil
}

func scanAudit(row rowScanner) (*capture.AuditEntry, error) {
	var (
		e         capture.AuditEntry
		hash      string
		mode      string
		flag      int
		errorCode sql.NullString
		ts        int64
	)
	if err := row.Scan(&e.ID, &e.CaptureID, &e.VaultPath, &hash, &mode, &flag, &errorCode, &ts); err != nil {
		return nil, err
	}
	d, err := capture.ParseDigest(hash)
	if err != nil {
		return nil, fmt.Errorf("audit %d: stored hash: %w", e.ID, err)
	}
	e.HashAtExport = d
	e.Mode = capture.AuditMode(mode)
	e.ErrorFlag = flag != 0
	e.ErrorCode = errorCode.String
	e.Timestamp = fromMillis(ts)
	return &e, nil
}

// InsertErrorLog appends an error log entry and returns its id.
func InsertErrorLog(ctx context.Context, q Querier, e *capture.ErrorLogEntry) (int64, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO error_log (capture_id, error_code, message, timestamp, retry_count)
		VALUES (?, ?, ?, ?, ?)`,
		e.CaptureID, e.ErrorCode, e.Message, toMillis(e.Timestamp), e.RetryCount,
	)
	if err != nil {
		return 0, fmt.Errorf("insert error log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert error log: %w", err)
	}
	return id, nil
}

// ListErrorLog returns error log entries newest first. An empty captureID
// lists every capture. limit <= 0 means no limit.
func ListErrorLog(ctx context.Context, q Querier, captureID string, limit int) ([]capture.ErrorLogEntry, error) {
	query := `SELECT id, capture_id, error_code, message, timestamp, retry_count FROM error_log`
	var args []any
	if captureID != "" {
		query += " WHERE capture_id = ?"
		args = append(args, captureID)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list error log: %w", err)
	}
	defer rows.Close()

	var out []capture.ErrorLogEntry
	for rows.Next() {
		var (
			e  capture.ErrorLogEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.CaptureID, &e.ErrorCode, &e.Message, &ts, &e.RetryCount); err != nil {
			return nil, fmt.Errorf("list error log: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetCursor returns the stored cursor for source, or nil if none exists.
func GetCursor(ctx context.Context, q Querier, source string) (*capture.SyncCursor, error) {
	var (
		c  capture.SyncCursor
		ts int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT source, cursor, updated_at FROM sync_cursor WHERE source = ?`, source,
	).Scan(&c.Source, &c.Cursor, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", source, err)
	}
	c.UpdatedAt = fromMillis(ts)
	return &c, nil
}

// PutCursor inserts or replaces the cursor for source.
func PutCursor(ctx context.Context, q Querier, source, cursor string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sync_cursor (source, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		source, cursor, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("put cursor %s: %w", source, err)
	}
	return nil
}
