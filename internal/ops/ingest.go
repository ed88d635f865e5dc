package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/errors"
)

// IngestInput contains parameters for the Ingest operation.
type IngestInput struct {
	ID          string // optional; generated when empty
	Source      string // required: voice | email
	Content     string // text, or a reference such as an audio path
	ContentKind string // text (default) | reference
	Metadata    map[string]string
}

// IngestOutput contains the result of the Ingest operation.
type IngestOutput struct {
	ID          string              `json:"id"`
	Status      capture.Status      `json:"status"`
	ContentHash capture.ContentHash `json:"content_hash"`
	Title       string              `json:"title,omitempty"`
}

// Ingest stores a new capture. Text content is hashed and staged straight
// away; a reference stays pending until Finalize supplies the text.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*IngestOutput, error) {
	source, ok := capture.ParseSource(input.Source)
	if !ok {
		return nil, errors.NewInvalidRequest("source must be voice or email")
	}
	kind, ok := capture.ParseContentKind(input.ContentKind)
	if !ok {
		return nil, errors.NewInvalidRequest("content_kind must be text or reference")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, errors.NewInvalidRequest("content must not be empty")
	}

	var id string
	if strings.TrimSpace(input.ID) == "" {
		generated, err := capture.NewID(s.now())
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		id = generated
	} else {
		var err error
		if id, err = validateID(input.ID); err != nil {
			return nil, err
		}
	}

	c := &capture.Capture{
		ID:          id,
		Source:      source,
		Content:     input.Content,
		ContentKind: kind,
		Metadata:    input.Metadata,
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	if kind == capture.ContentText {
		finalized, err := s.store.FinalizeHash(ctx, id, capture.HashContent([]byte(c.Content)), nil)
		if err != nil {
			return nil, err
		}
		c = finalized
	}

	return &IngestOutput{
		ID:          c.ID,
		Status:      c.Status,
		ContentHash: c.Hash,
		Title:       c.Metadata[capture.MetadataTitle],
	}, nil
}
