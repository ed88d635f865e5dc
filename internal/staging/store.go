// Package staging is the durable record of every capture and its lifecycle.
//
// All status changes go through Transition, which compares-and-swaps the
// stored status inside a transaction and rejects any edge the status graph
// does not declare. Content hashes are bound once by FinalizeHash and never
// change afterwards.
package staging

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hpungsan/capture/internal/capture"
	"github.com/hpungsan/capture/internal/db"
	"github.com/hpungsan/capture/internal/errors"
	"github.com/hpungsan/capture/internal/logging"
)

// Options configures a Store.
type Options struct {
	// DedupLookback limits duplicate detection to captures created within
	// this window. Zero searches every capture.
	DedupLookback time.Duration

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store persists captures in SQLite.
type Store struct {
	db       *sql.DB
	lookback time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New wraps an initialized database.
func New(database *sql.DB, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:       database,
		lookback: opts.DedupLookback,
		logger:   logging.NewComponentLogger(opts.Logger, "staging"),
		now:      func() time.Time { return now().UTC() },
	}
}

// DB exposes the underlying handle for collaborators sharing the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Insert stores a new capture at pending with a pending hash.
// The caller supplies id, source, content, content kind and metadata.
func (s *Store) Insert(ctx context.Context, c *capture.Capture) error {
	if c == nil {
		return errors.NewInvalidRequest("capture is required")
	}
	if !capture.ValidID(c.ID) {
		return errors.NewInvalidRequest("capture id must be Crockford base32 (at most 26 characters)")
	}
	if _, ok := capture.ParseSource(string(c.Source)); !ok {
		return errors.NewInvalidRequest("source must be voice or email")
	}
	if _, ok := capture.ParseContentKind(string(c.ContentKind)); !ok || c.ContentKind == "" {
		return errors.NewInvalidRequest("content_kind must be text or reference")
	}

	now := s.now()
	c.Status = capture.StatusPending
	c.Hash = capture.PendingHash()
	c.Attempts = 0
	c.ExportPath = ""
	c.LastError = ""
	c.Metadata = capture.NormalizeMetadata(c.Metadata)
	if c.ContentKind == capture.ContentText {
		setTitle(c)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err := db.RetryOnBusy(ctx, func() error {
		return db.InsertCapture(ctx, s.db, c)
	})
	if err != nil {
		return wrap(err)
	}

	s.logger.Debug("capture inserted",
		logging.CaptureID(c.ID),
		logging.Event("capture_inserted"),
		logging.String("source", string(c.Source)),
	)
	return nil
}

// FinalizeHash binds digest to a pending or hashed capture. When content is
// non-nil it replaces the stored content with final text.
//
// The capture moves to staged when its metadata is complete, otherwise to
// hashed. Any other status fails with INVALID_TRANSITION. On a hashed
// capture the same digest may be bound again; a different one fails with
// HASH_IMMUTABLE.
func (s *Store) FinalizeHash(ctx context.Context, id string, digest capture.Digest, content *string) (*capture.Capture, error) {
	var out *capture.Capture
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		c, err := db.GetCapture(ctx, tx, id)
		if err != nil {
			return err
		}

		switch c.Status {
		case capture.StatusPending, capture.StatusHashed:
		default:
			return errors.NewInvalidTransition(id, string(c.Status), string(capture.StatusHashed))
		}
		if existing, ok := c.Hash.Digest(); ok && existing != digest {
			return errors.NewHashImmutable(id, existing.String(), digest.String())
		}

		from := c.Status
		if content != nil {
			c.Content = *content
			c.ContentKind = capture.ContentText
			setTitle(c)
		}
		c.Hash = capture.FinalizedHash(digest)

		next := capture.StatusHashed
		if c.MetadataComplete() {
			next = capture.StatusStaged
		}
		if next != from {
			if !capture.CanTransition(from, next) {
				return errors.NewInvalidTransition(id, string(from), string(next))
			}
			c.Status = next
		}
		c.UpdatedAt = s.now()

		ok, err := db.UpdateCapture(ctx, tx, c, from)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewInvalidTransition(id, string(from), string(next))
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	s.logger.Debug("capture hash finalized",
		logging.CaptureID(id),
		logging.Event("hash_finalized"),
		logging.String(logging.FieldStatus, string(out.Status)),
	)
	return out, nil
}

// Duplicate describes an already-exported capture with the same content.
type Duplicate struct {
	CaptureID  string
	ExportPath string
}

// CheckDuplicate reports whether a capture other than excludeID with the
// same digest has already been exported, and where it landed.
func (s *Store) CheckDuplicate(ctx context.Context, digest capture.Digest, excludeID string) (*Duplicate, bool, error) {
	var since time.Time
	if s.lookback > 0 {
		since = s.now().Add(-s.lookback)
	}

	var dup *Duplicate
	err := db.RetryOnBusy(ctx, func() error {
		match, err := db.FindExportedByHash(ctx, s.db, digest, excludeID, since)
		if err != nil || match == nil {
			return err
		}
		path := match.ExportPath
		first, err := db.FirstInitialExport(ctx, s.db, match.ID)
		if err != nil {
			return err
		}
		if first != nil {
			path = first.VaultPath
		}
		dup = &Duplicate{CaptureID: match.ID, ExportPath: path}
		return nil
	})
	if err != nil {
		return nil, false, wrap(err)
	}
	return dup, dup != nil, nil
}

// TransitionOption sets a column alongside a status change.
type TransitionOption func(*capture.Capture)

// WithExportPath records the vault-relative path of the exported file.
func WithExportPath(path string) TransitionOption {
	return func(c *capture.Capture) { c.ExportPath = path }
}

// WithLastError records the failure that caused the transition.
func WithLastError(msg string) TransitionOption {
	return func(c *capture.Capture) { c.LastError = msg }
}

// Transition moves a capture to status to. The stored status is compared
// and swapped in one transaction, so concurrent writers cannot both win.
// Entering exporting counts as an export attempt.
func (s *Store) Transition(ctx context.Context, id string, to capture.Status, opts ...TransitionOption) (*capture.Capture, error) {
	var (
		out  *capture.Capture
		from capture.Status
	)
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		c, err := db.GetCapture(ctx, tx, id)
		if err != nil {
			return err
		}
		from = c.Status
		if !capture.CanTransition(from, to) {
			return errors.NewInvalidTransition(id, string(from), string(to))
		}
		if to == capture.StatusStaged && !c.Hash.IsFinalized() {
			return errors.NewHashNotFinalized(id)
		}

		c.Status = to
		if to == capture.StatusExporting {
			c.Attempts++
		}
		for _, opt := range opts {
			opt(c)
		}
		c.UpdatedAt = s.now()

		ok, err := db.UpdateCapture(ctx, tx, c, from)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewInvalidTransition(id, string(from), string(to))
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	s.logger.Debug("capture status changed",
		logging.CaptureID(id),
		logging.Event("status_changed"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
	)
	return out, nil
}

// AttachError updates last_error without touching status. It is the only
// write permitted on a terminal capture.
func (s *Store) AttachError(ctx context.Context, id, msg string) error {
	err := db.RetryOnBusy(ctx, func() error {
		return db.SetLastError(ctx, s.db, id, msg, s.now())
	})
	return wrap(err)
}

// RecoverStuck returns captures left in exporting for longer than threshold
// to staged, and reports their ids. Exports interrupted by a crash resume
// through the collision check, which makes the re-attempt safe.
func (s *Store) RecoverStuck(ctx context.Context, threshold time.Duration) ([]string, error) {
	var ids []string
	err := db.RetryOnBusy(ctx, func() error {
		var err error
		ids, err = db.StuckExporting(ctx, s.db, s.now().Add(-threshold))
		return err
	})
	if err != nil {
		return nil, wrap(err)
	}

	recovered := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := s.Transition(ctx, id, capture.StatusStaged); err != nil {
			if errors.Is(err, errors.ErrInvalidTransition) {
				// Finished between the scan and the swap.
				continue
			}
			return recovered, err
		}
		s.logger.Warn("recovered capture stuck in exporting",
			logging.CaptureID(id),
			logging.Event("stuck_recovered"),
			logging.Duration("threshold", threshold),
		)
		recovered = append(recovered, id)
	}
	return recovered, nil
}

// NextStaged returns the oldest staged capture in ingest order, or nil.
func (s *Store) NextStaged(ctx context.Context) (*capture.Capture, error) {
	var c *capture.Capture
	err := db.RetryOnBusy(ctx, func() error {
		var err error
		c, err = db.NextStaged(ctx, s.db)
		return err
	})
	if err != nil {
		return nil, wrap(err)
	}
	return c, nil
}

// Get returns one capture.
func (s *Store) Get(ctx context.Context, id string) (*capture.Capture, error) {
	c, err := db.GetCapture(ctx, s.db, id)
	if err != nil {
		return nil, wrap(err)
	}
	return c, nil
}

// Filter selects captures for List.
type Filter = db.CaptureFilter

// List returns captures in ingest order.
func (s *Store) List(ctx context.Context, f Filter) ([]capture.Capture, error) {
	list, err := db.ListCaptures(ctx, s.db, f)
	if err != nil {
		return nil, wrap(err)
	}
	return list, nil
}

// Count returns how many captures match f, ignoring its limit and offset.
func (s *Store) Count(ctx context.Context, f Filter) (int, error) {
	n, err := db.CountCaptures(ctx, s.db, f)
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

// Counts returns the number of captures in each status.
func (s *Store) Counts(ctx context.Context) (map[capture.Status]int, error) {
	counts, err := db.CountByStatus(ctx, s.db)
	if err != nil {
		return nil, wrap(err)
	}
	return counts, nil
}

// setTitle derives a title from the content unless the caller supplied one.
func setTitle(c *capture.Capture) {
	if c.Metadata[capture.MetadataTitle] != "" {
		return
	}
	if title := capture.ExtractTitle(c.Content); title != "" {
		c.Metadata[capture.MetadataTitle] = title
	}
}

// wrap passes CaptureErrors and context errors through unchanged and turns
// everything else into INTERNAL.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var cErr *errors.CaptureError
	if errors.As(err, &cErr) {
		return err
	}
	if errors.IsContext(err) {
		return err
	}
	return errors.NewInternal(err)
}
