package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
)

// MaxErrorMessageLength bounds a reported error message.
const MaxErrorMessageLength = 4096

// ReportErrorInput contains parameters for the ReportError operation.
type ReportErrorInput struct {
	ID      string // required
	Message string // required
}

// ReportError lets a collaborator record why a capture is stuck, for example
// a failed transcription. Only last_error changes; status is left alone, so
// terminal captures accept it too.
func (s *Service) ReportError(ctx context.Context, input ReportErrorInput) (*capture.Summary, error) {
	id, err := validateID(input.ID)
	if err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(input.Message)
	if msg == "" {
		return nil, errors.NewInvalidRequest("message must not be empty")
	}
	if len(msg) > MaxErrorMessageLength {
		return nil, errors.NewInvalidRequest("message exceeds maximum length")
	}

	if err := s.store.AttachError(ctx, id, msg); err != nil {
		return nil, err
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := c.ToSummary()
	return &summary, nil
}
