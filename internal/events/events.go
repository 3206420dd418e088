// Package events fans library changes out to connected clients.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/folio/internal/domain"
)

// TypeHeartbeat keeps idle streams open.
const TypeHeartbeat = "heartbeat"

const clientBuffer = 32

// Event is one library change.
type Event struct {
	Type   string        `json:"type"`
	BookID domain.BookID `json:"book_id,omitempty"`
	At     time.Time     `json:"at"`
}

// Client is a registered subscriber.
type Client struct {
	ID     string
	Events chan Event
	Done   chan struct{}
}

// Broadcaster delivers events to every client. Slow clients drop events
// rather than block publishers.
type Broadcaster struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:  logger.With("domain", "events"),
		now:     time.Now,
		clients: make(map[string]*Client),
	}
}

// LibraryChanged publishes a change of kind for id.
func (b *Broadcaster) LibraryChanged(kind string, id domain.BookID) {
	b.Publish(Event{Type: kind, BookID: id, At: b.now().UTC()})
}

// Publish delivers ev to all clients without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		select {
		case c.Events <- ev:
		default:
			b.logger.Warn("dropped event for slow client", "action", "publish", "client_id", c.ID, "type", ev.Type)
		}
	}
}

// Connect registers a client. It returns nil after Close.
func (b *Broadcaster) Connect() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	c := &Client{ID: uuid.NewString(), Events: make(chan Event, clientBuffer), Done: make(chan struct{})}
	b.clients[c.ID] = c
	b.logger.Debug("client connected", "action", "connect", "client_id", c.ID)
	return c
}

// Disconnect removes a client. Unknown ids are ignored.
func (b *Broadcaster) Disconnect(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		delete(b.clients, id)
		close(c.Done)
	}
}

// Len returns the number of connected clients.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, c := range b.clients {
		delete(b.clients, id)
		close(c.Done)
	}
}
