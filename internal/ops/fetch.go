package ops

import (
	"context"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/staging"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID          string
	IncludeText *bool // default: true (nil means default)
}

// FetchOutput is a capture with its full export history.
type FetchOutput struct {
	capture.Capture
	Audit  []capture.AuditEntry    `json:"audit"`
	Errors []capture.ErrorLogEntry `json:"errors"`
}

// Fetch retrieves one capture together with its audit trail and error log.
func (s *Service) Fetch(ctx context.Context, input FetchInput) (*FetchOutput, error) {
	id, err := validateID(input.ID)
	if err != nil {
		return nil, err
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.audit.ListForCapture(ctx, id)
	if err != nil {
		return nil, err
	}
	errs, err := s.audit.Errors(ctx, id, 0)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		Capture: *c, // copy, not pointer
		Audit:   nonNil(history),
		Errors:  nonNil(errs),
	}
	if input.IncludeText != nil && !*input.IncludeText {
		output.Content = ""
	}
	return output, nil
}

// ErrorsInput contains parameters for the Errors operation.
type ErrorsInput struct {
	ID    string // optional; limits the log to one capture
	Limit int    // default: 50, max: 500
}

// ErrorsOutput lists captures that need attention and recent failures.
type ErrorsOutput struct {
	// Failed holds permanently_failed and quarantined captures.
	Failed []capture.Summary       `json:"failed"`
	Log    []capture.ErrorLogEntry `json:"log"`
}

// Errors reports failed and quarantined captures and the error log, newest
// first.
func (s *Service) Errors(ctx context.Context, input ErrorsInput) (*ErrorsOutput, error) {
	limit := clampLimit(input.Limit, DefaultErrorsLimit, MaxErrorsLimit)

	id := ""
	if input.ID != "" {
		var err error
		if id, err = validateID(input.ID); err != nil {
			return nil, err
		}
	}

	log, err := s.audit.Errors(ctx, id, limit)
	if err != nil {
		return nil, err
	}

	failed := []capture.Summary{}
	if id == "" {
		captures, err := s.store.List(ctx, staging.Filter{
			Statuses: []capture.Status{capture.StatusPermanentlyFailed, capture.StatusQuarantined},
			Limit:    limit,
		})
		if err != nil {
			return nil, err
		}
		for i := range captures {
			failed = append(failed, captures[i].ToSummary())
		}
	} else {
		c, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.Status == capture.StatusPermanentlyFailed || c.Status == capture.StatusQuarantined {
			failed = append(failed, c.ToSummary())
		}
	}

	return &ErrorsOutput{Failed: failed, Log: nonNil(log)}, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
