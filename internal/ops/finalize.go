package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
)

// FinalizeInput contains parameters for the Finalize operation.
type FinalizeInput struct {
	ID   string  // required
	Text *string // final text, e.g. a transcript
	Hash string  // optional hex digest; computed from Text when empty, must match Text when both are set
}

// FinalizeOutput contains the result of the Finalize operation.
type FinalizeOutput struct {
	ID          string              `json:"id"`
	Status      capture.Status      `json:"status"`
	ContentHash capture.ContentHash `json:"content_hash"`
	Title       string              `json:"title,omitempty"`
}

// Finalize binds the content hash of a pending capture, optionally replacing
// its reference with final text.
func (s *Service) Finalize(ctx context.Context, input FinalizeInput) (*FinalizeOutput, error) {
	id, err := validateID(input.ID)
	if err != nil {
		return nil, err
	}
	if input.Text == nil && strings.TrimSpace(input.Hash) == "" {
		return nil, errors.NewInvalidRequest("text or hash is required")
	}
	if input.Text != nil && strings.TrimSpace(*input.Text) == "" {
		return nil, errors.NewInvalidRequest("text must not be empty")
	}

	var digest capture.Digest
	if strings.TrimSpace(input.Hash) != "" {
		digest, err = capture.ParseDigest(input.Hash)
		if err != nil {
			return nil, errors.NewInvalidRequest("hash: " + err.Error())
		}
		if input.Text != nil && capture.HashContent([]byte(*input.Text)) != digest {
			return nil, errors.NewInvalidRequest("hash does not match text")
		}
	} else {
		digest = capture.HashContent([]byte(*input.Text))
	}

	c, err := s.store.FinalizeHash(ctx, id, digest, input.Text)
	if err != nil {
		return nil, err
	}
	return &FinalizeOutput{
		ID:          c.ID,
		Status:      c.Status,
		ContentHash: c.Hash,
		Title:       c.Metadata[capture.MetadataTitle],
	}, nil
}
