package capture

import "time"

// AuditMode says how an export attempt treated the vault file.
type AuditMode string

const (
	AuditInitial       AuditMode = "initial"
	AuditDuplicateSkip AuditMode = "duplicate_skip"
)

// AuditEntry is one immutable row of the export audit trail.
type AuditEntry struct {
	ID           int64     `json:"id"`
	CaptureID    string    `json:"capture_id"`
	VaultPath    string    `json:"vault_path"`
	HashAtExport Digest    `json:"hash_at_export"`
	Mode         AuditMode `json:"mode"`
	ErrorFlag    bool      `json:"error_flag"`
	ErrorCode    string    `json:"error_code,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorLogEntry records one failed export attempt.
type ErrorLogEntry struct {
	ID         int64     `json:"id"`
	CaptureID  string    `json:"capture_id"`
	ErrorCode  string    `json:"error_code"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// SyncCursor is an opaque resume token owned by an acquisition collaborator.
type SyncCursor struct {
	Source    string    `json:"source"`
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}
