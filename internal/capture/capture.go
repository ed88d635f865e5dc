package capture

import (
	"strings"
	"time"
)

// Source identifies the acquisition channel a capture came from.
type Source string

const (
	SourceVoice Source = "voice"
	SourceEmail Source = "email"
)

// ParseSource converts user input into a known Source.
func ParseSource(value string) (Source, bool) {
	switch Source(Normalize(value)) {
	case SourceVoice:
		return SourceVoice, true
	case SourceEmail:
		return SourceEmail, true
	default:
		return "", false
	}
}

// ContentKind says whether Content holds final text or a reference to it
// (for voice memos, the audio location until transcription completes).
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentReference ContentKind = "reference"
)

// ParseContentKind converts user input into a known ContentKind.
// Empty input defaults to ContentText.
func ParseContentKind(value string) (ContentKind, bool) {
	switch ContentKind(Normalize(value)) {
	case "", ContentText:
		return ContentText, true
	case ContentReference:
		return ContentReference, true
	default:
		return "", false
	}
}

// Capture is a single personal capture staged for export into the vault.
type Capture struct {
	// ID is a ULID; the export path is derived from it and nothing else.
	ID string `json:"id"`

	Source      Source      `json:"source"`
	Content     string      `json:"content"`
	ContentKind ContentKind `json:"content_kind"`

	// Hash stays pending until the final text is known (late binding).
	Hash ContentHash `json:"content_hash"`

	Status   Status            `json:"status"`
	Metadata map[string]string `json:"metadata"`

	// Attempts counts export attempts made so far.
	Attempts int `json:"attempts"`

	// ExportPath is vault-relative and set once the capture reaches
	// exported or duplicate_skip. For duplicates it names the original file.
	ExportPath string `json:"export_path,omitempty"`

	// LastError is the most recent failure message, kept for inspection.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MetadataComplete reports whether the capture carries everything export
// needs: final, non-empty text.
func (c *Capture) MetadataComplete() bool {
	return c.ContentKind == ContentText && strings.TrimSpace(c.Content) != ""
}

// Summary is a capture without its content, used by list views.
type Summary struct {
	ID         string            `json:"id"`
	Source     Source            `json:"source"`
	Status     Status            `json:"status"`
	Hash       ContentHash       `json:"content_hash"`
	Title      string            `json:"title,omitempty"`
	Attempts   int               `json:"attempts"`
	ExportPath string            `json:"export_path,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ToSummary strips the content from a capture.
func (c *Capture) ToSummary() Summary {
	return Summary{
		ID:         c.ID,
		Source:     c.Source,
		Status:     c.Status,
		Hash:       c.Hash,
		Title:      c.Metadata[MetadataTitle],
		Attempts:   c.Attempts,
		ExportPath: c.ExportPath,
		LastError:  c.LastError,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}
