package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
)

const captureColumns = `
	id, source, content, content_kind, content_hash, status,
	metadata_json, attempts, export_path, last_error, created_at, updated_at
`

// InsertCapture stores a new capture row.
// Returns a DUPLICATE_ID error if the id already exists.
func InsertCapture(ctx context.Context, q Querier, c *capture.Capture) error {
	metadataJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO captures (
			id, source, content, content_kind, content_hash, status,
			metadata_json, attempts, export_path, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = q.ExecContext(ctx, query,
		c.ID, string(c.Source), c.Content, string(c.ContentKind), hashColumn(c.Hash), string(c.Status),
		metadataJSON, c.Attempts, toNullString(c.ExportPath), toNullString(c.LastError),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewDuplicateID(c.ID)
		}
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetCapture retrieves a capture by id.
func GetCapture(ctx context.Context, q Querier, id string) (*capture.Capture, error) {
	row := q.QueryRowContext(ctx, `SELECT `+captureColumns+` FROM captures WHERE id = ?`, id)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get capture %s: %w", id, err)
	}
	return c, nil
}

// UpdateCapture writes every mutable column of c, provided the stored status
// still equals expect. It reports false when the row changed underneath.
// id, source and created_at never change.
func UpdateCapture(ctx context.Context, q Querier, c *capture.Capture, expect capture.Status) (bool, error) {
	metadataJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE captures
		SET content = ?, content_kind = ?, content_hash = ?, status = ?,
			metadata_json = ?, attempts = ?, export_path = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := q.ExecContext(ctx, query,
		c.Content, string(c.ContentKind), hashColumn(c.Hash), string(c.Status),
		metadataJSON, c.Attempts, toNullString(c.ExportPath), toNullString(c.LastError), toMillis(c.UpdatedAt),
		c.ID, string(expect),
	)
	if err != nil {
		return false, fmt.Errorf("update capture %s: %w", c.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update capture %s: %w", c.ID, err)
	}
	return rows == 1, nil
}

// SetLastError updates only last_error and updated_at.
func SetLastError(ctx context.Context, q Querier, id, msg string, now time.Time) error {
	result, err := q.ExecContext(ctx,
		`UPDATE captures SET last_error = ?, updated_at = ? WHERE id = ?`,
		toNullString(msg), toMillis(now), id,
	)
	if err != nil {
		return fmt.Errorf("set last error %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set last error %s: %w", id, err)
	}
	if rows == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// CaptureFilter narrows ListCaptures.
type CaptureFilter struct {
	Statuses      []capture.Status
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// captureWhere builds the WHERE clause shared by ListCaptures and CountCaptures.
func captureWhere(f CaptureFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toMillis(f.CreatedAfter))
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, toMillis(f.CreatedBefore))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// ListCaptures returns captures in ingest order (created_at, then id).
func ListCaptures(ctx context.Context, q Querier, f CaptureFilter) ([]capture.Capture, error) {
	where, args := captureWhere(f)
	query := `SELECT ` + captureColumns + ` FROM captures` + where + " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var out []capture.Capture
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("list captures: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	return out, nil
}

// CountCaptures returns the number of captures matching f. Limit and
// offset are ignored.
func CountCaptures(ctx context.Context, q Querier, f CaptureFilter) (int, error) {
	where, args := captureWhere(f)
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count captures: %w", err)
	}
	return n, nil
}

// NextStaged returns the oldest staged capture, or nil when none is waiting.
func NextStaged(ctx context.Context, q Querier) (*capture.Capture, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+captureColumns+` FROM captures WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		string(capture.StatusStaged),
	)
	c, err := scanCapture(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next staged: %w", err)
	}
	return c, nil
}

// StuckExporting returns ids of captures left in exporting since before cutoff.
func StuckExporting(ctx context.Context, q Querier, cutoff time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM captures WHERE status = ? AND updated_at < ? ORDER BY created_at ASC, id ASC`,
		string(capture.StatusExporting), toMillis(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("stuck exporting: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("stuck exporting: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindExportedByHash returns the earliest exported capture other than
// excludeID whose hash equals digest. A non-zero since limits the search to
// captures created at or after it. Returns nil when there is no match.
func FindExportedByHash(ctx context.Context, q Querier, digest capture.Digest, excludeID string, since time.Time) (*capture.Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM captures
		WHERE content_hash = ? AND status = ? AND id != ?`
	args := []any{digest.String(), string(capture.StatusExported), excludeID}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, toMillis(since))
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT 1"

	c, err := scanCapture(q.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find exported by hash: %w", err)
	}
	return c, nil
}

// CountByStatus returns the number of captures per status. Statuses with no
// captures are present with a zero count.
func CountByStatus(ctx context.Context, q Querier) (map[capture.Status]int, error) {
	counts := make(map[capture.Status]int)
	for _, s := range capture.AllStatuses() {
		counts[s] = 0
	}

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM captures GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count captures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count captures: %w", err)
		}
		counts[capture.Status(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCapture scans a single row into a Capture struct.
func scanCapture(row rowScanner) (*capture.Capture, error) {
	var (
		c            capture.Capture
		source       string
		kind         string
		status       string
		hash         sql.NullString
		metadataJSON sql.NullString
		exportPath   sql.NullString
		lastError    sql.NullString
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(
		&c.ID, &source, &c.Content, &kind, &hash, &status,
		&metadataJSON, &c.Attempts, &exportPath, &lastError, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Source = capture.Source(source)
	c.ContentKind = capture.ContentKind(kind)
	c.Status = capture.Status(status)
	c.ExportPath = exportPath.String
	c.LastError = lastError.String
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)

	c.Hash = capture.PendingHash()
	if hash.Valid && hash.String != "" {
		d, err := capture.ParseDigest(hash.String)
		if err != nil {
			return nil, fmt.Errorf("capture %s: stored hash: %w", c.ID, err)
		}
		c.Hash = capture.FinalizedHash(d)
	}

	c.Metadata = map[string]string{}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("capture %s: metadata: %w", c.ID, err)
		}
	}

	return &c, nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func hashColumn(h capture.ContentHash) sql.NullString {
	d, ok := h.Digest()
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// toNullString maps the empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
