// Package session drives one reading session per open book: it loads the
// content into a Renderer, restores the saved position and settings, and
// persists every relocation and settings change back to the metadata store.
package session

import (
	"context"

	"github.com/haukened/folio/internal/domain"
)

// HintEPUB is the format hint passed to Renderer.Open.
const HintEPUB = "epub"

// Relocation is emitted by a Renderer whenever the visible location changes.
type Relocation struct {
	// Position is the opaque token that navigates back to this location.
	Position string
	// Href is the archive path of the visible document, when known.
	Href string
}

// Renderer is the port to a layout engine.
type Renderer interface {
	// Open parses content and returns once the renderer is ready to display.
	Open(ctx context.Context, content []byte, hint string) error
	// Display navigates to a position token or a document href.
	Display(ctx context.Context, target string) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	// Relocations delivers location changes. It is never closed; consumers
	// stop on their own shutdown signal.
	Relocations() <-chan Relocation
	// GenerateLocations builds the index PercentageFromPosition relies on.
	GenerateLocations(ctx context.Context) error
	// PercentageFromPosition translates a token to a fraction in [0,1]. It
	// reports false until the locations index exists or for unknown tokens.
	PercentageFromPosition(position string) (float64, bool)
	// SpineHref returns the document href at reading-order index i.
	SpineHref(i int) (string, bool)
	ApplyTheme(s domain.ReadingSettings) error
	Close() error
}

// Store is the slice of the book store a session needs.
type Store interface {
	WaitReady(ctx context.Context) error
	GetContent(ctx context.Context, id domain.BookID) ([]byte, error)
	GetRecord(ctx context.Context, id domain.BookID) (*domain.BookRecord, error)
	UpdateRecord(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error)
}

// Counter receives metric increments.
type Counter interface {
	Inc(name string, delta int64)
}

type noopCounter struct{}

func (noopCounter) Inc(string, int64) {}
