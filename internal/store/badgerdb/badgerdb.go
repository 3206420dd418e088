// Package badgerdb implements both store ports on a single embedded Badger
// database. Content and metadata live under separate key prefixes so the two
// logical stores share one engine and one schema version.
package badgerdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/store"
)

const (
	contentPrefix  = "content:"
	metadataPrefix = "meta:"
	versionKey     = "schema:version"
	storeKeyPrefix = "schema:store:"

	// LatestVersion is the newest schema version this build understands.
	LatestVersion = 3

	maxConflictRetries = 10
)

// ErrDowngrade is returned when the database was written by a newer build.
var ErrDowngrade = errors.New("database schema is newer than requested version")

// stores lists the logical stores created by each schema version.
var stores = map[int][]string{
	1: {"content", "metadata"},
}

var (
	_ store.ContentStorage = (*ContentStore)(nil)
	_ store.MetadataIndex  = (*MetadataStore)(nil)
)

// DB wraps a Badger database instance.
type DB struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path. An empty path opens an
// in-memory database.
func Open(path string, logger *slog.Logger) (*DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = true
	opts.CompactL0OnClose = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("badger database opened", "domain", "store", "path", path)
	return &DB{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// Content returns the content store view of d.
func (d *DB) Content() *ContentStore { return &ContentStore{d: d} }

// Metadata returns the metadata store view of d.
func (d *DB) Metadata() *MetadataStore { return &MetadataStore{d: d} }

func key(prefix string, id domain.BookID) []byte {
	return fmt.Appendf(nil, "%s%020d", prefix, int64(id))
}

func parseKey(prefix string, k []byte) (domain.BookID, error) {
	return domain.ParseID(string(k[len(prefix):]))
}

// migrate records each missing store marker and the schema version.
func (d *DB) migrate(ctx context.Context, target int) error {
	if target < 1 || target > LatestVersion {
		return fmt.Errorf("unsupported schema version %d (latest %d)", target, LatestVersion)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		current := 0
		item, err := txn.Get([]byte(versionKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				if len(v) != 4 {
					return fmt.Errorf("corrupt schema version value")
				}
				current = int(binary.BigEndian.Uint32(v))
				return nil
			}); err != nil {
				return err
			}
		}
		if current > target {
			return fmt.Errorf("%w: have %d, want %d", ErrDowngrade, current, target)
		}
		for v := 1; v <= target; v++ {
			for _, name := range stores[v] {
				k := []byte(storeKeyPrefix + name)
				if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
					if err := txn.Set(k, []byte{1}); err != nil {
						return err
					}
				} else if err != nil {
					return err
				}
			}
		}
		if current == target {
			return nil
		}
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(target))
		return txn.Set([]byte(versionKey), buf[:])
	})
}

// SchemaVersion reports the recorded version, or 0 for a fresh database.
func (d *DB) SchemaVersion() (int, error) {
	v := 0
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(versionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			if len(b) == 4 {
				v = int(binary.BigEndian.Uint32(b))
			}
			return nil
		})
	})
	return v, err
}

func (d *DB) keys(ctx context.Context, prefix string) ([]domain.BookID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []domain.BookID
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			id, err := parseKey(prefix, it.Item().Key())
			if err != nil {
				d.logger.Warn("skipping malformed key", "domain", "store", "key", string(it.Item().Key()))
				continue
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (d *DB) delete(ctx context.Context, k []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// ContentStore implements store.ContentStorage.
type ContentStore struct{ d *DB }

// Migrate implements store.ContentStorage.
func (c *ContentStore) Migrate(ctx context.Context, target int) error {
	return c.d.migrate(ctx, target)
}

// Put stores content under id.
func (c *ContentStore) Put(ctx context.Context, id domain.BookID, content []byte) error {
	if !id.Valid() {
		return domain.ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(contentPrefix, id), content)
	})
}

// Get returns the content for id.
func (c *ContentStore) Get(ctx context.Context, id domain.BookID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := c.d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(contentPrefix, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Has reports whether content exists for id.
func (c *ContentStore) Has(ctx context.Context, id domain.BookID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := c.d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(contentPrefix, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, err
}

// Keys lists content ids in ascending order.
func (c *ContentStore) Keys(ctx context.Context) ([]domain.BookID, error) {
	return c.d.keys(ctx, contentPrefix)
}

// Delete removes the content for id.
func (c *ContentStore) Delete(ctx context.Context, id domain.BookID) error {
	return c.d.delete(ctx, key(contentPrefix, id))
}

// MetadataStore implements store.MetadataIndex with JSON-encoded records.
type MetadataStore struct{ d *DB }

// Migrate implements store.MetadataIndex.
func (m *MetadataStore) Migrate(ctx context.Context, target int) error {
	return m.d.migrate(ctx, target)
}

func getRecord(txn *badger.Txn, id domain.BookID) (*domain.BookRecord, error) {
	item, err := txn.Get(key(metadataPrefix, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec domain.BookRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func setRecord(txn *badger.Txn, rec *domain.BookRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(key(metadataPrefix, rec.ID), data)
}

// Put writes rec.
func (m *MetadataStore) Put(ctx context.Context, rec *domain.BookRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.d.db.Update(func(txn *badger.Txn) error {
		return setRecord(txn, rec)
	})
}

// Get returns the record for id.
func (m *MetadataStore) Get(ctx context.Context, id domain.BookID) (*domain.BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *domain.BookRecord
	err := m.d.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// All returns every record in ascending id order.
func (m *MetadataStore) All(ctx context.Context) ([]*domain.BookRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var results []*domain.BookRecord
	err := m.d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metadataPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec domain.BookRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			results = append(results, &rec)
		}
		return nil
	})
	return results, err
}

// Keys lists record ids in ascending order.
func (m *MetadataStore) Keys(ctx context.Context) ([]domain.BookID, error) {
	return m.d.keys(ctx, metadataPrefix)
}

// Update performs the read-modify-write inside one Badger transaction,
// retrying when a concurrent writer commits first.
func (m *MetadataStore) Update(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error) {
	var out *domain.BookRecord
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := m.d.db.Update(func(txn *badger.Txn) error {
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
			rec.ID = id
			out = rec
			return setRecord(txn, rec)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Delete removes the record for id.
func (m *MetadataStore) Delete(ctx context.Context, id domain.BookID) error {
	return m.d.delete(ctx, key(metadataPrefix, id))
}
