package export

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/capture/internal/logging"
)

// CleanOrphans removes temp files left in the staging directory by a crash
// between temp write and rename. The inbox is never touched. It returns the
// removed paths.
func (e *Exporter) CleanOrphans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(e.stagingDir)
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		path := filepath.Join(e.stagingDir, entry.Name())
		if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			e.logger.Warn("failed to remove orphan temp file",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
			)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		e.logger.Info("removed orphan temp files",
			logging.Event("orphans_cleaned"),
			logging.Int("count", len(removed)),
		)
	}
	return removed, nil
}
