// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain-level errors reused by higher layers.
var (
	ErrInvalidID = errors.New("invalid book id")

	// ErrInitialization means the storage engine could not be opened or
	// migrated. It is fatal to every downstream operation.
	ErrInitialization = errors.New("storage initialization failed")
	// ErrStoreUnavailable is returned by store operations invoked before
	// initialization completed. Callers should wait for the ready gate.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is the store-level "no such key" result.
	ErrNotFound = errors.New("not found")

	ErrBookNotFound      = errors.New("book not found")
	ErrInvalidFile       = errors.New("invalid file: not an epub book")
	ErrUnsupportedFormat = errors.New("unsupported format: only epub files are supported")
	ErrDuplicateContent  = errors.New("duplicate content")
	ErrInvalidSettings   = errors.New("invalid reading settings")
)

// DuplicateError reports that uploaded content is byte-identical to a book
// already in the library. It matches ErrDuplicateContent via errors.Is.
type DuplicateError struct {
	ExistingID BookID
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate content: already stored as book %s", e.ExistingID)
}

// Is lets errors.Is(err, ErrDuplicateContent) succeed.
func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicateContent }

// InitializationError wraps cause so that it matches ErrInitialization.
func InitializationError(cause error) error {
	return fmt.Errorf("%w: %w", ErrInitialization, cause)
}
