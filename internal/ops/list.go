package ops

import (
	"context"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/staging"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	Statuses []string // optional; comma-separated values allowed
	Since    string   // optional RFC3339 or YYYY-MM-DD, inclusive
	Until    string   // optional RFC3339 or YYYY-MM-DD, exclusive
	Limit    int      // default: 20, max: 100
	Offset   int      // default: 0
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []capture.Summary `json:"items"`
	Pagination Pagination        `json:"pagination"`
	Sort       string            `json:"sort"`
}

// List retrieves capture summaries in ingest order with pagination.
func (s *Service) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	statuses, err := parseStatuses(input.Statuses)
	if err != nil {
		return nil, err
	}
	since, err := parseTime("since", input.Since)
	if err != nil {
		return nil, err
	}
	until, err := parseTime("until", input.Until)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	filter := staging.Filter{
		Statuses:      statuses,
		CreatedAfter:  since,
		CreatedBefore: until,
		Limit:         limit,
		Offset:        offset,
	}
	captures, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	items := make([]capture.Summary, 0, len(captures))
	for i := range captures {
		items = append(items, captures[i].ToSummary())
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_asc",
	}, nil
}
