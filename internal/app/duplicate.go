package app

import (
	"context"

	"github.com/haukened/folio/internal/domain"
)

// RecordLister is the slice of BookStore the duplicate detector needs.
type RecordLister interface {
	AllRecords(ctx context.Context) ([]*domain.BookRecord, error)
}

// DuplicateDetector finds an existing book with the same content
// fingerprint.
type DuplicateDetector struct {
	Store RecordLister
}

// Check returns a *domain.DuplicateError when a stored record carries
// fingerprint, nil when none does, and the scan error if listing failed.
func (d DuplicateDetector) Check(ctx context.Context, fingerprint string) error {
	recs, err := d.Store.AllRecords(ctx)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.ContentFingerprint != "" && r.ContentFingerprint == fingerprint {
			return &domain.DuplicateError{ExistingID: r.ID}
		}
	}
	return nil
}
