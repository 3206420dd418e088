// Package app defines the application layer "ports" (interfaces) and simple
// data contracts that the library use-cases depend upon. It follows a
// hexagonal (ports & adapters) design: this package declares what the core
// needs, while adapter packages (sqlite/badger/filesystem storage, the EPUB
// parser, cover processing, the HTTP layer) provide concrete implementations.
package app

import (
	"context"
	"time"

	"github.com/haukened/folio/internal/domain"
)

// Clock abstracts time to enable deterministic id generation in tests.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// BookStore is the persistence port for the paired content and metadata
// stores. Implementations gate every operation on initialization and return
// domain.ErrStoreUnavailable before it completes.
type BookStore interface {
	// WaitReady blocks until initialization finished or ctx is done. It
	// returns the initialization error if initialization failed.
	WaitReady(ctx context.Context) error

	PutContent(ctx context.Context, id domain.BookID, content []byte) error
	// GetContent returns domain.ErrNotFound when no blob is stored under id.
	GetContent(ctx context.Context, id domain.BookID) ([]byte, error)
	HasBook(ctx context.Context, id domain.BookID) (bool, error)
	ContentKeys(ctx context.Context) ([]domain.BookID, error)
	DeleteContent(ctx context.Context, id domain.BookID) error

	PutRecord(ctx context.Context, rec *domain.BookRecord) error
	// GetRecord returns domain.ErrNotFound when no record is stored under id.
	GetRecord(ctx context.Context, id domain.BookID) (*domain.BookRecord, error)
	AllRecords(ctx context.Context) ([]*domain.BookRecord, error)
	// UpdateRecord runs fn against the latest stored record inside a single
	// engine transaction and returns the record as written. A missing record
	// yields domain.ErrNotFound.
	UpdateRecord(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error)

	// DeleteBook removes both the blob and the record. Missing halves are
	// not an error.
	DeleteBook(ctx context.Context, id domain.BookID) error
}

// Parser extracts descriptive metadata and the cover image from EPUB bytes.
type Parser interface {
	Metadata(content []byte) (domain.BookMetadata, error)
	// Cover returns the raw cover bytes and their declared media type.
	Cover(content []byte) ([]byte, string, error)
}

// CoverProcessor derives listing helpers from a cover image.
type CoverProcessor interface {
	// Describe returns the sniffed media type and a BlurHash placeholder.
	Describe(img []byte) (mediaType, blurHash string, err error)
}

// Notifier is told when the set of books in the library changes.
type Notifier interface {
	LibraryChanged(kind string, id domain.BookID)
}

// Counter receives monotonic metric increments.
type Counter interface {
	Inc(name string, delta int64)
}

// Notification kinds published through Notifier.
const (
	ChangeAdded   = "book.added"
	ChangeDeleted = "book.deleted"
)

type noopNotifier struct{}

func (noopNotifier) LibraryChanged(string, domain.BookID) {}

type noopCounter struct{}

func (noopCounter) Inc(string, int64) {}
