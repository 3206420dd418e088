package app

import (
	"context"
	"sync"

	"github.com/haukened/folio/internal/domain"
)

// idProbe reports whether an id is already taken in either store.
type idProbe func(ctx context.Context, id domain.BookID) (bool, error)

// IDGenerator hands out BookIDs derived from the clock in milliseconds.
// Ids from one generator strictly increase, and ids already present in
// storage are skipped.
type IDGenerator struct {
	Clock Clock

	mu   sync.Mutex
	last domain.BookID
}

// Next returns an id not seen by this generator and not reported taken by
// probe.
func (g *IDGenerator) Next(ctx context.Context, probe idProbe) (domain.BookID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := domain.BookID(g.Clock.Now().UnixMilli())
	if id <= g.last {
		id = g.last + 1
	}
	for {
		taken, err := probe(ctx, id)
		if err != nil {
			return 0, err
		}
		if !taken {
			break
		}
		id++
	}
	g.last = id
	return id, nil
}
