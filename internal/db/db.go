package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hpungsan/capture/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created inside the data directory.
const FileName = "capture.db"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/capture.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.capture.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: captures, audit trail, error log, sync cursors
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS captures (
		  id            TEXT PRIMARY KEY,
		  source        TEXT NOT NULL,
		  content       TEXT NOT NULL,
		  content_kind  TEXT NOT NULL,
		  content_hash  TEXT,
		  status        TEXT NOT NULL,
		  metadata_json TEXT,
		  attempts      INTEGER NOT NULL DEFAULT 0,
		  export_path   TEXT,
		  last_error    TEXT,
		  created_at    INTEGER NOT NULL,
		  updated_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_captures_status_created
		ON captures(status, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_captures_hash
		ON captures(content_hash)
		WHERE content_hash IS NOT NULL;

		CREATE TABLE IF NOT EXISTS export_audit (
		  id             INTEGER PRIMARY KEY AUTOINCREMENT,
		  capture_id     TEXT NOT NULL REFERENCES captures(id),
		  vault_path     TEXT NOT NULL,
		  hash_at_export TEXT NOT NULL,
		  mode           TEXT NOT NULL CHECK (mode IN ('initial', 'duplicate_skip')),
		  error_flag     INTEGER NOT NULL DEFAULT 0,
		  error_code     TEXT,
		  timestamp      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_export_audit_capture
		ON export_audit(capture_id, id);

		CREATE TRIGGER IF NOT EXISTS export_audit_no_update
		BEFORE UPDATE ON export_audit
		BEGIN
		  SELECT RAISE(ABORT, 'export_audit is append-only');
		END;

		CREATE TRIGGER IF NOT EXISTS export_audit_no_delete
		BEFORE DELETE ON export_audit
		BEGIN
		  SELECT RAISE(ABORT, 'export_audit is append-only');
		END;

		CREATE TABLE IF NOT EXISTS error_log (
		  id          INTEGER PRIMARY KEY AUTOINCREMENT,
		  capture_id  TEXT NOT NULL REFERENCES captures(id),
		  error_code  TEXT NOT NULL,
		  message     TEXT NOT NULL,
		  timestamp   INTEGER NOT NULL,
		  retry_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_error_log_capture
		ON error_log(capture_id, id);

		CREATE TABLE IF NOT EXISTS sync_cursor (
		  source     TEXT PRIMARY KEY,
		  cursor     TEXT NOT NULL,
		  updated_at INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// IsBusy reports whether err is SQLITE_BUSY or a locked-database error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryOnBusy runs op, retrying with bounded backoff while SQLite reports busy.
func RetryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// WithTx runs fn inside a transaction, committing on success.
// The whole transaction is retried while SQLite reports busy.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return RetryOnBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}
