package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/db"
	"github.com/hpungsan/capture/internal/errors"
)

// MaxCursorLength bounds the opaque cursor text.
const MaxCursorLength = 4096

// GetCursor returns the stored sync cursor for source.
func (s *Service) GetCursor(ctx context.Context, source string) (*capture.SyncCursor, error) {
	source = capture.Normalize(source)
	if source == "" {
		return nil, errors.NewInvalidRequest("source is required")
	}
	cur, err := db.GetCursor(ctx, s.db, source)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if cur == nil {
		return nil, &errors.CaptureError{
			Code:    errors.ErrNotFound,
			Status:  404,
			Message: "no cursor stored for source: " + source,
			Details: map[string]any{"source": source},
		}
	}
	return cur, nil
}

// PutCursor stores cursor for source, replacing any previous value. The
// cursor is opaque and never interpreted.
func (s *Service) PutCursor(ctx context.Context, source, cursor string) (*capture.SyncCursor, error) {
	source = capture.Normalize(source)
	if source == "" {
		return nil, errors.NewInvalidRequest("source is required")
	}
	if strings.TrimSpace(cursor) == "" {
		return nil, errors.NewInvalidRequest("cursor must not be empty")
	}
	if len(cursor) > MaxCursorLength {
		return nil, errors.NewInvalidRequest("cursor exceeds maximum length")
	}

	now := s.now().UTC()
	err := db.RetryOnBusy(ctx, func() error {
		return db.PutCursor(ctx, s.db, source, cursor, now)
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &capture.SyncCursor{Source: source, Cursor: cursor, UpdatedAt: now}, nil
}
