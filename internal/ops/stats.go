package ops

import (
	"context"

	"github.com/hpungsan/capture/internal/capture"
)

// StatsOutput reports how many captures sit in each status.
type StatsOutput struct {
	Counts         map[capture.Status]int `json:"counts"`
	Total          int                    `json:"total"`
	AwaitingExport int                    `json:"awaiting_export"`
}

// Stats counts captures per status.
func (s *Service) Stats(ctx context.Context) (*StatsOutput, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	out := &StatsOutput{Counts: counts}
	for status, n := range counts {
		out.Total += n
		if !status.IsTerminal() {
			out.AwaitingExport += n
		}
	}
	return out, nil
}
