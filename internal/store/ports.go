// Package store defines the persistence adapter ports behind the library's
// two logical stores: a Content Store holding raw EPUB bytes and a Metadata
// Store holding one BookRecord per book, both keyed by the same BookID.
// Adapters (sqlite, filesystem, badger) implement these ports; callers
// outside this package go through Store, which satisfies app.BookStore.
package store

import (
	"context"

	"github.com/haukened/folio/internal/domain"
)

// ContentStorage persists the raw bytes of each ingested book.
type ContentStorage interface {
	// Migrate brings the backing storage up to the target schema version,
	// creating it when missing. It must be idempotent.
	Migrate(ctx context.Context, target int) error
	// Put stores content under id, replacing any previous value.
	Put(ctx context.Context, id domain.BookID, content []byte) error
	// Get returns domain.ErrNotFound for a missing id.
	Get(ctx context.Context, id domain.BookID) ([]byte, error)
	Has(ctx context.Context, id domain.BookID) (bool, error)
	// Keys lists every stored id in ascending order.
	Keys(ctx context.Context) ([]domain.BookID, error)
	// Delete is a no-op for a missing id.
	Delete(ctx context.Context, id domain.BookID) error
}

// MetadataIndex persists one BookRecord per book.
type MetadataIndex interface {
	Migrate(ctx context.Context, target int) error
	Put(ctx context.Context, rec *domain.BookRecord) error
	// Get returns domain.ErrNotFound for a missing id.
	Get(ctx context.Context, id domain.BookID) (*domain.BookRecord, error)
	// All returns every record in ascending id order.
	All(ctx context.Context) ([]*domain.BookRecord, error)
	Keys(ctx context.Context) ([]domain.BookID, error)
	// Update reads the record, applies fn and writes the result inside one
	// engine transaction so concurrent updates to the same id serialize.
	// Records are only created by Put; a missing id returns
	// domain.ErrNotFound without calling fn.
	Update(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error)
	Delete(ctx context.Context, id domain.BookID) error
}
