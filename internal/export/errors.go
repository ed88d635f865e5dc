package export

import "fmt"

// ErrorKind classifies export failures for the retry policy.
type ErrorKind string

const (
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindStorageExhausted    ErrorKind = "storage_exhausted"
	KindReadOnlyFilesystem  ErrorKind = "read_only_filesystem"
	KindVolumeUnavailable   ErrorKind = "volume_unavailable"
	KindIDCollisionConflict ErrorKind = "id_collision_conflict"
	KindIntegrityMismatch   ErrorKind = "integrity_mismatch"
	KindUnclassified        ErrorKind = "unclassified"
)

// ExportError describes a failed export. TempPath is empty when no temp file
// was created or it has already been removed.
type ExportError struct {
	Kind       ErrorKind
	ID         string
	TempPath   string
	TargetPath string
	Err        error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("export %s: %s", e.ID, e.Kind)
	}
	return fmt.Sprintf("export %s: %s: %v", e.ID, e.Kind, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the failure may clear up on its own.
func (e *ExportError) Retriable() bool {
	switch e.Kind {
	case KindStorageExhausted, KindVolumeUnavailable, KindUnclassified:
		return true
	default:
		return false
	}
}
