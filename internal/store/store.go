package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/folio/internal/app"
	"github.com/haukened/folio/internal/domain"
)

// DefaultOrphanGrace is how old an unreferenced blob must be before a sweep
// removes it. Ids are millisecond timestamps, so age is derived from the id.
const DefaultOrphanGrace = time.Minute

// SchemaVersion is the schema the adapters' record queries are written
// against. Older versions remain reachable through each adapter's Migrate so
// existing databases can be upgraded, but a Store only serves this one.
const SchemaVersion = 3

// Options tunes a Store.
type Options struct {
	// SchemaVersion is the target version passed to each adapter's Migrate.
	SchemaVersion int
	// OrphanGrace protects blobs of ingests still between their two writes.
	OrphanGrace time.Duration
	Logger      *slog.Logger
}

// Store composes ContentStorage and MetadataIndex to satisfy app.BookStore.
// Every operation is gated on Initialize having completed.
type Store struct {
	content ContentStorage
	meta    MetadataIndex
	clock   app.Clock
	opts    Options
	logger  *slog.Logger

	ready   atomic.Bool
	once    sync.Once
	done    chan struct{}
	initErr error
}

var _ app.BookStore = (*Store)(nil)

// New returns a Store. Call Initialize before use; until it completes every
// operation returns domain.ErrStoreUnavailable.
func New(content ContentStorage, meta MetadataIndex, clock app.Clock, opts Options) *Store {
	if opts.SchemaVersion <= 0 {
		opts.SchemaVersion = SchemaVersion
	}
	if opts.OrphanGrace <= 0 {
		opts.OrphanGrace = DefaultOrphanGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		content: content,
		meta:    meta,
		clock:   clock,
		opts:    opts,
		logger:  logger.With("domain", "store"),
		done:    make(chan struct{}),
	}
}

// Initialize opens both stores at the configured schema version, creating
// them if missing. It runs once; later calls return the first result.
// Failures are wrapped with domain.ErrInitialization.
func (s *Store) Initialize(ctx context.Context) error {
	s.once.Do(func() {
		defer close(s.done)
		start := time.Now()
		if s.opts.SchemaVersion < SchemaVersion {
			s.initErr = domain.InitializationError(
				fmt.Errorf("schema version %d is older than %d", s.opts.SchemaVersion, SchemaVersion))
		} else if err := s.content.Migrate(ctx, s.opts.SchemaVersion); err != nil {
			s.initErr = domain.InitializationError(fmt.Errorf("content store: %w", err))
		} else if err := s.meta.Migrate(ctx, s.opts.SchemaVersion); err != nil {
			s.initErr = domain.InitializationError(fmt.Errorf("metadata store: %w", err))
		}
		if s.initErr != nil {
			s.logger.Error("initialization failed", "action", "initialize", "error", s.initErr)
			return
		}
		s.ready.Store(true)
		s.logger.Info("initialized", "action", "initialize",
			"schema_version", s.opts.SchemaVersion, "duration", time.Since(start))
	})
	<-s.done
	return s.initErr
}

// Ready reports whether initialization completed successfully.
func (s *Store) Ready() bool { return s.ready.Load() }

// WaitReady blocks until initialization finishes or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.done:
		return s.initErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) gate() error {
	if !s.ready.Load() {
		return domain.ErrStoreUnavailable
	}
	return nil
}

// logged reports storage failures and hands them back unchanged. Not-found
// is an expected outcome and is not logged.
func (s *Store) logged(action string, id domain.BookID, err error) error {
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("storage operation failed", "action", action, "book_id", id, "error", err)
	}
	return err
}

// PutContent stores the EPUB bytes for id.
func (s *Store) PutContent(ctx context.Context, id domain.BookID, content []byte) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.logged("put_content", id, s.content.Put(ctx, id, content))
}

// GetContent returns the EPUB bytes for id.
func (s *Store) GetContent(ctx context.Context, id domain.BookID) ([]byte, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	b, err := s.content.Get(ctx, id)
	return b, s.logged("get_content", id, err)
}

// HasBook reports whether a content blob exists for id.
func (s *Store) HasBook(ctx context.Context, id domain.BookID) (bool, error) {
	if err := s.gate(); err != nil {
		return false, err
	}
	ok, err := s.content.Has(ctx, id)
	return ok, s.logged("has_book", id, err)
}

// ContentKeys lists the ids of all stored blobs.
func (s *Store) ContentKeys(ctx context.Context) ([]domain.BookID, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	keys, err := s.content.Keys(ctx)
	return keys, s.logged("content_keys", 0, err)
}

// AllContent loads every stored blob keyed by id.
func (s *Store) AllContent(ctx context.Context) (map[domain.BookID][]byte, error) {
	keys, err := s.ContentKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.BookID][]byte, len(keys))
	for _, id := range keys {
		b, err := s.content.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue // deleted since listing
		}
		if err != nil {
			return nil, s.logged("all_content", id, err)
		}
		out[id] = b
	}
	return out, nil
}

// DeleteContent removes the blob for id. Missing ids are not an error.
func (s *Store) DeleteContent(ctx context.Context, id domain.BookID) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.logged("delete_content", id, s.content.Delete(ctx, id))
}

// PutRecord writes rec, replacing any previous record with the same id.
func (s *Store) PutRecord(ctx context.Context, rec *domain.BookRecord) error {
	if err := s.gate(); err != nil {
		return err
	}
	if rec == nil || !rec.ID.Valid() {
		return domain.ErrInvalidID
	}
	return s.logged("put_record", rec.ID, s.meta.Put(ctx, rec))
}

// GetRecord returns the record for id.
func (s *Store) GetRecord(ctx context.Context, id domain.BookID) (*domain.BookRecord, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	rec, err := s.meta.Get(ctx, id)
	return rec, s.logged("get_record", id, err)
}

// AllRecords returns every stored record.
func (s *Store) AllRecords(ctx context.Context) ([]*domain.BookRecord, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	recs, err := s.meta.All(ctx)
	return recs, s.logged("all_records", 0, err)
}

// RecordKeys lists the ids of all stored records.
func (s *Store) RecordKeys(ctx context.Context) ([]domain.BookID, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	keys, err := s.meta.Keys(ctx)
	return keys, s.logged("record_keys", 0, err)
}

// UpdateRecord performs a read-modify-write of the record for id.
func (s *Store) UpdateRecord(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	if !id.Valid() {
		return nil, domain.ErrInvalidID
	}
	rec, err := s.meta.Update(ctx, id, fn)
	return rec, s.logged("update_record", id, err)
}

// DeleteRecord removes the record for id. Missing ids are not an error.
func (s *Store) DeleteRecord(ctx context.Context, id domain.BookID) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.logged("delete_record", id, s.meta.Delete(ctx, id))
}

// DeleteBook removes the content blob and then the record. Both deletes are
// attempted; a failure of either is returned.
func (s *Store) DeleteBook(ctx context.Context, id domain.BookID) error {
	if err := s.gate(); err != nil {
		return err
	}
	cErr := s.logged("delete_book", id, s.content.Delete(ctx, id))
	mErr := s.logged("delete_book", id, s.meta.Delete(ctx, id))
	return errors.Join(cErr, mErr)
}

// Reconcile removes content blobs that no record references and that are
// older than the orphan grace period. It returns the number removed.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	if err := s.gate(); err != nil {
		return 0, err
	}
	blobIDs, err := s.content.Keys(ctx)
	if err != nil {
		return 0, s.logged("reconcile", 0, err)
	}
	recIDs, err := s.meta.Keys(ctx)
	if err != nil {
		return 0, s.logged("reconcile", 0, err)
	}
	slices.Sort(recIDs)
	cutoff := s.clock.Now().Add(-s.opts.OrphanGrace).UnixMilli()
	removed := 0
	for _, id := range blobIDs {
		if _, found := slices.BinarySearch(recIDs, id); found {
			continue
		}
		if int64(id) > cutoff {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := s.content.Delete(ctx, id); err != nil {
			s.logger.Warn("orphan delete failed", "action", "reconcile", "book_id", id, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("orphans removed", "action", "reconcile", "count", removed)
	}
	return removed, nil
}
