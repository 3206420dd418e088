package session

import (
	"context"
	"errors"
	"sync"

	"github.com/haukened/folio/internal/domain"
)

// memStore is an in-memory Store. UpdateRecord can be paused with gate.
type memStore struct {
	mu      sync.Mutex
	content map[domain.BookID][]byte
	records map[domain.BookID]*domain.BookRecord
	updates int

	gate      chan struct{} // when non-nil UpdateRecord waits on it
	updateCtx []error       // ctx.Err() observed by each update
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{content: map[domain.BookID][]byte{}, records: map[domain.BookID]*domain.BookRecord{}}
}

func (m *memStore) WaitReady(context.Context) error { return nil }

func (m *memStore) GetContent(_ context.Context, id domain.BookID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.content[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memStore) GetRecord(_ context.Context, id domain.BookID) (*domain.BookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memStore) UpdateRecord(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.updateCtx = append(m.updateCtx, ctx.Err())
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	r = r.Clone()
	if err := fn(r); err != nil {
		return nil, err
	}
	m.records[id] = r
	return r.Clone(), nil
}

func (m *memStore) record(id domain.BookID) *domain.BookRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return r.Clone()
	}
	return nil
}

func (m *memStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// fakeRenderer records calls and emits a relocation for each navigation.
type fakeRenderer struct {
	mu        sync.Mutex
	spine     []string
	displayed []string
	themes    []domain.ReadingSettings
	fractions map[string]float64
	locations bool
	closed    bool

	openErr    error
	openGate   chan struct{} // Open blocks until closed when non-nil
	opening    chan struct{} // closed when Open is entered, if non-nil
	displayErr map[string]error
	events     chan Relocation
}

func newFakeRenderer(spine ...string) *fakeRenderer {
	if len(spine) == 0 {
		spine = []string{"cover.xhtml", "ch1.xhtml", "ch2.xhtml"}
	}
	return &fakeRenderer{
		spine:      spine,
		fractions:  map[string]float64{},
		displayErr: map[string]error{},
		events:     make(chan Relocation, 64),
	}
}

func (f *fakeRenderer) Open(context.Context, []byte, string) error {
	if f.opening != nil {
		close(f.opening)
	}
	if f.openGate != nil {
		<-f.openGate
	}
	return f.openErr
}

func (f *fakeRenderer) Display(_ context.Context, target string) error {
	f.mu.Lock()
	err := f.displayErr[target]
	if err == nil {
		f.displayed = append(f.displayed, target)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.events <- Relocation{Position: target}
	return nil
}

func (f *fakeRenderer) Next(context.Context) error {
	f.events <- Relocation{Position: "next"}
	return nil
}

func (f *fakeRenderer) Prev(context.Context) error {
	f.events <- Relocation{Position: "prev"}
	return nil
}

func (f *fakeRenderer) Relocations() <-chan Relocation { return f.events }

func (f *fakeRenderer) GenerateLocations(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = true
	return nil
}

func (f *fakeRenderer) PercentageFromPosition(pos string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.fractions[pos]
	return v, ok && f.locations
}

func (f *fakeRenderer) SpineHref(i int) (string, bool) {
	if i < 0 || i >= len(f.spine) {
		return "", false
	}
	return f.spine[i], true
}

func (f *fakeRenderer) ApplyTheme(s domain.ReadingSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.themes = append(f.themes, s)
	return nil
}

func (f *fakeRenderer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRenderer) setFraction(pos string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fractions[pos] = v
}

func (f *fakeRenderer) displayedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.displayed...)
}

func (f *fakeRenderer) lastTheme() domain.ReadingSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.themes[len(f.themes)-1]
}

func (f *fakeRenderer) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var errBoom = errors.New("boom")

const bookID domain.BookID = 1700000000000

var epubBytes = []byte("PK\x03\x04rest-of-archive")
