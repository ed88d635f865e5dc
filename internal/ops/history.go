package ops

import (
	"context"

	"github.com/hpungsan/capture/internal/capture"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	ID    string // optional; limits the trail to one capture
	Limit int    // default: 50, max: 500; ignored with ID
}

// HistoryOutput is a slice of the export audit trail, oldest first.
type HistoryOutput struct {
	Entries []capture.AuditEntry `json:"entries"`
}

// History reads the append-only export audit trail.
func (s *Service) History(ctx context.Context, input HistoryInput) (*HistoryOutput, error) {
	if input.ID != "" {
		id, err := validateID(input.ID)
		if err != nil {
			return nil, err
		}
		entries, err := s.audit.ListForCapture(ctx, id)
		if err != nil {
			return nil, err
		}
		return &HistoryOutput{Entries: nonNil(entries)}, nil
	}

	entries, err := s.audit.List(ctx, clampLimit(input.Limit, DefaultErrorsLimit, MaxErrorsLimit))
	if err != nil {
		return nil, err
	}
	return &HistoryOutput{Entries: nonNil(entries)}, nil
}
