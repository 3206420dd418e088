package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/haukened/folio/internal/domain"
)

// MetricSessionsOpened counts sessions that reached Ready.
const MetricSessionsOpened = "sessions_opened_total"

// RendererFactory returns a fresh Renderer for each session.
type RendererFactory func() Renderer

// Manager owns the open sessions and exposes them by id.
type Manager struct {
	store       Store
	newRenderer RendererFactory
	logger      *slog.Logger
	metrics     Counter

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewManager returns a Manager. logger and metrics may be nil.
func NewManager(store Store, factory RendererFactory, logger *slog.Logger, metrics Counter) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopCounter{}
	}
	return &Manager{
		store:       store,
		newRenderer: factory,
		logger:      logger,
		metrics:     metrics,
		sessions:    make(map[string]*Controller),
	}
}

// Open loads bookID in a new session. A session that fails to load is not
// kept; its snapshot carries the error message and the caller may retry.
func (m *Manager) Open(ctx context.Context, bookID domain.BookID) (Snapshot, error) {
	c := NewController(uuid.NewString(), bookID, m.store, m.newRenderer(), m.logger, m.metrics)
	if err := c.Load(ctx); err != nil {
		return c.Snapshot(), err
	}
	m.mu.Lock()
	m.sessions[c.ID()] = c
	m.mu.Unlock()
	m.metrics.Inc(MetricSessionsOpened, 1)
	return c.Snapshot(), nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Snapshot returns the state of session id.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	c, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// do runs fn against session id, waits for the resulting writes and
// returns the updated snapshot.
func (m *Manager) do(ctx context.Context, id string, fn func(*Controller) error) (Snapshot, error) {
	c, err := m.Get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := fn(c); err != nil {
		return c.Snapshot(), err
	}
	if err := c.Flush(ctx); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// Next pages session id forward.
func (m *Manager) Next(ctx context.Context, id string) (Snapshot, error) {
	return m.do(ctx, id, func(c *Controller) error { return c.Next(ctx) })
}

// Prev pages session id backward.
func (m *Manager) Prev(ctx context.Context, id string) (Snapshot, error) {
	return m.do(ctx, id, func(c *Controller) error { return c.Prev(ctx) })
}

// Display jumps session id to target.
func (m *Manager) Display(ctx context.Context, id, target string) (Snapshot, error) {
	return m.do(ctx, id, func(c *Controller) error { return c.Display(ctx, target) })
}

// UpdateSettings replaces the reading settings of session id.
func (m *Manager) UpdateSettings(ctx context.Context, id string, s domain.ReadingSettings) (Snapshot, error) {
	return m.do(ctx, id, func(c *Controller) error { return c.UpdateSettings(s) })
}

// ApplyPreset switches session id to a named preset.
func (m *Manager) ApplyPreset(ctx context.Context, id, presetID string) (Snapshot, error) {
	return m.do(ctx, id, func(c *Controller) error { return c.ApplyPreset(presetID) })
}

// Close closes and forgets session id.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return c.Close()
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()
	for _, c := range all {
		_ = c.Close()
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
