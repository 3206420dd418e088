// Package filesystem provides a ContentStorage implementation backed by the
// local filesystem. Each book's EPUB bytes live in one file named by its id.
package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/store"
)

// Ensure BlobStore implements store.ContentStorage
var _ store.ContentStorage = (*BlobStore)(nil)

const ext = ".epub"

// BlobStore implements store.ContentStorage using the local filesystem.
type BlobStore struct {
	root string
}

// New returns a filesystem-backed content store rooted at root. The
// directory is created by Migrate.
func New(root string) *BlobStore {
	return &BlobStore{root: root}
}

// path constructs the full path to the blob file for a given book ID. IDs
// are positive integers, so the name cannot contain a separator.
func (b *BlobStore) path(id domain.BookID) string { return filepath.Join(b.root, id.String()+ext) }

// Migrate creates the root directory if missing. The directory layout has
// no versioned schema.
func (b *BlobStore) Migrate(ctx context.Context, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(b.root, 0o700); err != nil {
		return err
	}
	fi, err := os.Stat(b.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.New("content root is not a directory")
	}
	return nil
}

// Put writes content to a temp file and renames it into place so readers
// never observe a partial blob.
func (b *BlobStore) Put(ctx context.Context, id domain.BookID, content []byte) error {
	if !id.Valid() {
		return domain.ErrInvalidID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.CreateTemp(b.root, ".put-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err = f.Write(content); err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err == nil {
		err = os.Rename(tmp, b.path(id))
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Get reads the blob for id.
func (b *BlobStore) Get(ctx context.Context, id domain.BookID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return data, err
}

// Has reports whether a blob exists for id.
func (b *BlobStore) Has(ctx context.Context, id domain.BookID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(b.path(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Keys returns the ids of all blobs in ascending order. Temp files and
// foreign names are skipped.
func (b *BlobStore) Keys(ctx context.Context) ([]domain.BookID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var ids []domain.BookID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), ext)
		if !ok {
			continue
		}
		id, err := domain.ParseID(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Delete removes the blob for id. Missing files are not an error.
func (b *BlobStore) Delete(ctx context.Context, id domain.BookID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(b.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
