// Package spine is a headless session.Renderer that pages through an EPUB
// one reading-order document at a time. Positions are EPUB CFI tokens that
// address the start of a spine item.
package spine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/epub"
	"github.com/haukened/folio/internal/session"
)

var (
	// ErrNotOpen is returned before Open succeeds.
	ErrNotOpen = errors.New("spine: renderer not open")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("spine: renderer closed")
	// ErrUnknownTarget is returned for a Display target that names no item.
	ErrUnknownTarget = errors.New("spine: unknown display target")
	// ErrUnsupportedHint is returned by Open for formats other than EPUB.
	ErrUnsupportedHint = errors.New("spine: unsupported format hint")
)

var cfiPattern = regexp.MustCompile(`^epubcfi\(/6/(\d+)(?:\[[^\]]*\])?!`)

var _ session.Renderer = (*Renderer)(nil)

// Renderer implements session.Renderer.
type Renderer struct {
	mu        sync.Mutex
	items     []epub.SpineItem
	index     int
	opened    bool
	locations bool
	theme     domain.ReadingSettings

	events    chan session.Relocation
	done      chan struct{}
	closeOnce sync.Once
}

// New returns an unopened Renderer.
func New() *Renderer {
	return &Renderer{
		index:  -1,
		events: make(chan session.Relocation, 16),
		done:   make(chan struct{}),
	}
}

// Position returns the token for spine index i.
func Position(i int) string {
	return fmt.Sprintf("epubcfi(/6/%d!/4/2)", 2*(i+1))
}

// indexOf parses a token produced by Position.
func indexOf(position string) (int, bool) {
	m := cfiPattern.FindStringSubmatch(position)
	if m == nil {
		return 0, false
	}
	step, err := strconv.Atoi(m[1])
	if err != nil || step < 2 || step%2 != 0 {
		return 0, false
	}
	return step/2 - 1, true
}

// Open parses content.
func (r *Renderer) Open(ctx context.Context, content []byte, hint string) error {
	if hint != session.HintEPUB {
		return fmt.Errorf("%w: %q", ErrUnsupportedHint, hint)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	book, err := epub.Open(content)
	if err != nil {
		return err
	}
	if len(book.Spine) == 0 {
		return errors.New("spine: book has an empty reading order")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() {
		return ErrClosed
	}
	r.items = book.Spine
	r.opened = true
	return nil
}

func (r *Renderer) isClosed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Renderer) ready() error {
	switch {
	case r.isClosed():
		return ErrClosed
	case !r.opened:
		return ErrNotOpen
	}
	return nil
}

// resolve maps a token or href to a spine index.
func (r *Renderer) resolve(target string) (int, error) {
	if i, ok := indexOf(target); ok {
		if i < len(r.items) {
			return i, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	href := target
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	for i, it := range r.items {
		if it.Href == href || strings.HasSuffix(it.Href, "/"+href) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
}

// Display navigates to target.
func (r *Renderer) Display(ctx context.Context, target string) error {
	r.mu.Lock()
	if err := r.ready(); err != nil {
		r.mu.Unlock()
		return err
	}
	i, err := r.resolve(target)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.index = i
	ev := session.Relocation{Position: Position(i), Href: r.items[i].Href}
	r.mu.Unlock()
	return r.emit(ctx, ev)
}

// Next moves to the following spine item. At the end it is a no-op.
func (r *Renderer) Next(ctx context.Context) error { return r.step(ctx, 1) }

// Prev moves to the preceding spine item. At the start it is a no-op.
func (r *Renderer) Prev(ctx context.Context) error { return r.step(ctx, -1) }

func (r *Renderer) step(ctx context.Context, delta int) error {
	r.mu.Lock()
	if err := r.ready(); err != nil {
		r.mu.Unlock()
		return err
	}
	next := r.index + delta
	if r.index < 0 {
		next = 0
	}
	if next < 0 || next >= len(r.items) || next == r.index {
		r.mu.Unlock()
		return nil
	}
	r.index = next
	ev := session.Relocation{Position: Position(next), Href: r.items[next].Href}
	r.mu.Unlock()
	return r.emit(ctx, ev)
}

func (r *Renderer) emit(ctx context.Context, ev session.Relocation) error {
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Relocations implements session.Renderer.
func (r *Renderer) Relocations() <-chan session.Relocation { return r.events }

// GenerateLocations enables percentage translation.
func (r *Renderer) GenerateLocations(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ready(); err != nil {
		return err
	}
	r.locations = true
	return nil
}

// PercentageFromPosition maps spine index i of n to i/(n-1). A book with a
// single document always reports 0.
func (r *Renderer) PercentageFromPosition(position string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.locations {
		return 0, false
	}
	i, ok := indexOf(position)
	if !ok || i >= len(r.items) {
		return 0, false
	}
	if len(r.items) == 1 {
		return 0, true
	}
	return float64(i) / float64(len(r.items)-1), true
}

// SpineHref returns the href at index i.
func (r *Renderer) SpineHref(i int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.items) {
		return "", false
	}
	return r.items[i].Href, true
}

// ApplyTheme records the settings used for layout.
func (r *Renderer) ApplyTheme(s domain.ReadingSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() {
		return ErrClosed
	}
	r.theme = s
	return nil
}

// Theme returns the last applied settings.
func (r *Renderer) Theme() domain.ReadingSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.theme
}

// Index returns the current spine index, or -1 before the first display.
func (r *Renderer) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Close releases the renderer. It is safe to call more than once.
func (r *Renderer) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
