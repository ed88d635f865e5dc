// Package export writes captures into the vault atomically.
//
// A capture lands at <vault>/<inbox>/<id>.<ext>. Bytes are written to a temp
// file in <vault>/.capture-staging on the same volume, fsynced, and renamed
// into place; the rename is the commit point. Only a caller holding a Permit
// from the Gate may write, which keeps the vault single-writer.
package export

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/logging"
)

// StagingDirName is the temp directory created under the vault root.
const StagingDirName = ".capture-staging"

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Options configures an Exporter.
type Options struct {
	VaultRoot string
	InboxDir  string
	Ext       string
	Logger    *slog.Logger
}

// Exporter writes capture content into the vault inbox.
type Exporter struct {
	root       string
	inbox      string
	ext        string
	stagingDir string
	logger     *slog.Logger

	// beforeRename runs after the temp file is durable and before the
	// commit rename. Tests use it to inject races and cancellation.
	beforeRename func(tempPath string)
}

// New validates opts and returns an Exporter. The vault root is not required
// to exist yet; a missing root surfaces as volume_unavailable on export.
func New(opts Options) (*Exporter, error) {
	root := strings.TrimSpace(opts.VaultRoot)
	if root == "" {
		return nil, errors.NewInvalidRequest("vault_root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("vault_root: %v", err))
	}

	inbox := filepath.Clean(strings.TrimSpace(opts.InboxDir))
	if inbox == "." || inbox == "" {
		inbox = "inbox"
	}
	if filepath.IsAbs(inbox) || inbox == ".." || strings.HasPrefix(inbox, ".."+string(filepath.Separator)) {
		return nil, errors.NewInvalidRequest("inbox_dir must be a relative path inside the vault")
	}

	ext := strings.TrimPrefix(strings.TrimSpace(opts.Ext), ".")
	if ext == "" {
		ext = "md"
	}
	if strings.ContainsAny(ext, `/\`) {
		return nil, errors.NewInvalidRequest("export_ext must not contain path separators")
	}

	return &Exporter{
		root:       abs,
		inbox:      inbox,
		ext:        ext,
		stagingDir: filepath.Join(abs, StagingDirName),
		logger:     logging.NewComponentLogger(opts.Logger, "exporter"),
	}, nil
}

// VaultRoot returns the absolute vault root.
func (e *Exporter) VaultRoot() string {
	return e.root
}

// RelPath returns the vault-relative, slash-separated path for id.
func (e *Exporter) RelPath(id string) string {
	return filepath.ToSlash(filepath.Join(e.inbox, id+"."+e.ext))
}

// TargetPath returns the absolute path for id.
func (e *Exporter) TargetPath(id string) string {
	return filepath.Join(e.root, e.inbox, id+"."+e.ext)
}

// Committed reports whether the target for id already holds exactly the
// bytes digest names, as after a crash between the rename and the status
// update.
func (e *Exporter) Committed(id string, digest capture.Digest) bool {
	if !capture.ValidID(id) {
		return false
	}
	col, err := DetectCollision(e.TargetPath(id), digest)
	return err == nil && col == CollisionDuplicate
}

// Request is one capture to write. Digest must be the finalized content hash.
type Request struct {
	ID      string
	Content []byte
	Digest  capture.Digest
}

// Result describes a successful export.
type Result struct {
	// Mode is initial when bytes were written and duplicate_skip when the
	// target already held identical content.
	Mode    capture.AuditMode
	Path    string
	AbsPath string
	Bytes   int
}

// Export writes req into the vault. A target that already holds identical
// bytes is reported as duplicate_skip without writing; one that holds
// anything else fails with id_collision_conflict and is left untouched.
// Cancellation is honoured up to the commit rename.
func (e *Exporter) Export(ctx context.Context, permit *Permit, req Request) (*Result, error) {
	if !permit.Held() {
		return nil, ErrNoPermit
	}
	if !capture.ValidID(req.ID) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid capture id %q", req.ID))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("export %s: %w", req.ID, err)
	}

	target := e.TargetPath(req.ID)
	result := &Result{Path: e.RelPath(req.ID), AbsPath: target, Bytes: len(req.Content)}

	if err := e.ensureDirs(req.ID, target); err != nil {
		return nil, err
	}

	switch state, cause := DetectCollision(target, req.Digest); state {
	case CollisionDuplicate:
		e.logger.Info("vault already holds identical content",
			logging.CaptureID(req.ID),
			logging.Event("export_duplicate"),
			logging.String(logging.FieldPath, result.Path),
		)
		result.Mode = capture.AuditDuplicateSkip
		return result, nil
	case CollisionConflict:
		return nil, &ExportError{Kind: KindIDCollisionConflict, ID: req.ID, TargetPath: target, Err: cause}
	}

	tempPath, err := e.writeTemp(req)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	if e.beforeRename != nil {
		e.beforeRename(tempPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("export %s: %w", req.ID, err)
	}

	if err := renameNoReplace(tempPath, target); err != nil {
		if stderrors.Is(err, os.ErrExist) {
			// Something appeared after the collision check.
			state, cause := DetectCollision(target, req.Digest)
			if state == CollisionDuplicate {
				result.Mode = capture.AuditDuplicateSkip
				return result, nil
			}
			return nil, &ExportError{Kind: KindIDCollisionConflict, ID: req.ID, TargetPath: target, Err: cause}
		}
		return nil, &ExportError{Kind: classify(err), ID: req.ID, TempPath: tempPath, TargetPath: target, Err: err}
	}
	committed = true

	if err := syncDir(filepath.Dir(target)); err != nil {
		return nil, &ExportError{Kind: classify(err), ID: req.ID, TargetPath: target, Err: fmt.Errorf("sync inbox directory: %w", err)}
	}

	if err := verify(target, req.Digest); err != nil {
		var exportErr *ExportError
		if stderrors.As(err, &exportErr) {
			exportErr.ID = req.ID
			return nil, exportErr
		}
		return nil, &ExportError{Kind: classify(err), ID: req.ID, TargetPath: target, Err: err}
	}

	e.logger.Info("capture written to vault",
		logging.CaptureID(req.ID),
		logging.Event("export_committed"),
		logging.String(logging.FieldPath, result.Path),
		logging.Int("bytes", len(req.Content)),
	)
	result.Mode = capture.AuditInitial
	return result, nil
}

// ensureDirs checks the vault root and creates the inbox and staging
// directories inside it.
func (e *Exporter) ensureDirs(id, target string) error {
	info, err := os.Stat(e.root)
	if err != nil {
		return &ExportError{Kind: classify(err), ID: id, TargetPath: target, Err: fmt.Errorf("vault root: %w", err)}
	}
	if !info.IsDir() {
		return &ExportError{Kind: KindVolumeUnavailable, ID: id, TargetPath: target, Err: fmt.Errorf("vault root %s is not a directory", e.root)}
	}
	for _, dir := range []string{filepath.Dir(target), e.stagingDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return &ExportError{Kind: classify(err), ID: id, TargetPath: target, Err: err}
		}
	}
	return nil
}

// writeTemp writes req.Content to a fresh temp file and fsyncs it.
func (e *Exporter) writeTemp(req Request) (string, error) {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", &ExportError{Kind: KindUnclassified, ID: req.ID, Err: fmt.Errorf("temp file name: %w", err)}
	}
	tempPath := filepath.Join(e.stagingDir, req.ID+"."+hex.EncodeToString(randBytes)+".tmp")
	target := e.TargetPath(req.ID)

	fail := func(err error) (string, error) {
		_ = os.Remove(tempPath)
		return "", &ExportError{Kind: classify(err), ID: req.ID, TempPath: tempPath, TargetPath: target, Err: err}
	}

	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return fail(err)
	}
	if _, err := file.Write(req.Content); err != nil {
		file.Close()
		return fail(err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fail(err)
	}
	if err := file.Close(); err != nil {
		return fail(err)
	}
	return tempPath, nil
}

// verify re-reads the committed file and compares its digest.
func verify(path string, want capture.Digest) error {
	f, err := openFileNoFollowRead(path)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := capture.HashReader(f)
	if err != nil {
		return err
	}
	if got != want {
		return &ExportError{
			Kind:       KindIntegrityMismatch,
			TargetPath: path,
			Err:        fmt.Errorf("written file hashes to %s, want %s", got, want),
		}
	}
	return nil
}

// CheckVault reports whether the vault root exists and is writable.
func (e *Exporter) CheckVault() error {
	info, err := os.Stat(e.root)
	if err != nil {
		return &ExportError{Kind: classify(err), TargetPath: e.root, Err: err}
	}
	if !info.IsDir() {
		return &ExportError{Kind: KindVolumeUnavailable, TargetPath: e.root, Err: fmt.Errorf("%s is not a directory", e.root)}
	}
	if err := checkWritable(e.root); err != nil {
		return &ExportError{Kind: classify(err), TargetPath: e.root, Err: err}
	}
	return nil
}
