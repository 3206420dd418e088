package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/haukened/folio/internal/domain"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// memStore is an in-memory BookStore with failure injection.
type memStore struct {
	mu      sync.Mutex
	content map[domain.BookID][]byte
	records map[domain.BookID]*domain.BookRecord

	putRecordErr  error
	allRecordsErr error
	waitErr       error
}

func newMemStore() *memStore {
	return &memStore{content: map[domain.BookID][]byte{}, records: map[domain.BookID]*domain.BookRecord{}}
}

func (m *memStore) WaitReady(context.Context) error { return m.waitErr }

func (m *memStore) PutContent(_ context.Context, id domain.BookID, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[id] = b
	return nil
}

func (m *memStore) GetContent(_ context.Context, id domain.BookID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.content[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *memStore) HasBook(_ context.Context, id domain.BookID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.content[id]
	return ok, nil
}

func (m *memStore) ContentKeys(context.Context) ([]domain.BookID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]domain.BookID, 0, len(m.content))
	for id := range m.content {
		keys = append(keys, id)
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *memStore) DeleteContent(_ context.Context, id domain.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, id)
	return nil
}

func (m *memStore) PutRecord(_ context.Context, r *domain.BookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putRecordErr != nil {
		return m.putRecordErr
	}
	m.records[r.ID] = r.Clone()
	return nil
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

func (m *memStore) AllRecords(context.Context) ([]*domain.BookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allRecordsErr != nil {
		return nil, m.allRecordsErr
	}
	out := make([]*domain.BookRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memStore) UpdateRecord(_ context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *memStore) DeleteBook(_ context.Context, id domain.BookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, id)
	delete(m.records, id)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) LibraryChanged(kind string, id domain.BookID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind+":"+id.String())
}

type mapCounter struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *mapCounter) Inc(name string, d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]int64{}
	}
	c.m[name] += d
}

func (c *mapCounter) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

type stubCovers struct{ err error }

func (s stubCovers) Describe([]byte) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return "image/png", "LEHV6nWB2yk8pyo0adR*.7kCMdnj", nil
}

var errBoom = errors.New("boom")
