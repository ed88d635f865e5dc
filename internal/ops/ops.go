package ops

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/hpungsan/capture/internal/audit"
	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/config"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/staging"
)

// Pagination limits
const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultErrorsLimit = 50
	MaxErrorsLimit     = 500
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Service is the entry point used by the CLI, the MCP server and ingest
// collaborators.
type Service struct {
	db    *sql.DB
	store *staging.Store
	audit *audit.Trail
	now   func() time.Time
}

// New builds a Service over an initialized database.
func New(database *sql.DB, cfg *config.Config, logger *slog.Logger) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Service{
		db:    database,
		store: staging.New(database, staging.Options{DedupLookback: cfg.DedupLookback(), Logger: logger}),
		audit: audit.New(database, logger),
		now:   time.Now,
	}
}

// Store returns the staging store.
func (s *Service) Store() *staging.Store {
	return s.store
}

// Audit returns the audit trail.
func (s *Service) Audit() *audit.Trail {
	return s.audit
}

// clampLimit applies the default and upper bound to a requested limit.
func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// validateID normalizes and checks a caller-supplied capture id.
func validateID(id string) (string, error) {
	id = capture.NormalizeID(id)
	if id == "" {
		return "", errors.NewInvalidRequest("id is required")
	}
	if !capture.ValidID(id) {
		return "", errors.NewInvalidRequest("id must be Crockford base32 (at most 26 characters)")
	}
	return id, nil
}

// parseStatuses converts status names, rejecting unknown ones.
func parseStatuses(values []string) ([]capture.Status, error) {
	var out []capture.Status
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := capture.ParseStatus(part)
			if !ok {
				return nil, errors.NewInvalidRequest("unknown status: " + strings.TrimSpace(part))
			}
			out = append(out, status)
		}
	}
	return out, nil
}

// parseTime accepts RFC3339 timestamps or YYYY-MM-DD dates. Empty input
// yields the zero time.
func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.NewInvalidRequest(field + " must be RFC3339 or YYYY-MM-DD")
}
