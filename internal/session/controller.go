package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haukened/folio/internal/domain"
)

// MetricRelocationsPersisted counts relocation writes that reached the store.
const MetricRelocationsPersisted = "relocations_persisted_total"

const opQueueSize = 32

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID              string                 `json:"id"`
	BookID          domain.BookID          `json:"book_id"`
	State           State                  `json:"state"`
	Error           string                 `json:"error,omitempty"`
	Position        string                 `json:"position,omitempty"`
	ProgressPercent *int                   `json:"progress_percent,omitempty"`
	Finished        bool                   `json:"finished"`
	Settings        domain.ReadingSettings `json:"settings"`
	MatchedPreset   string                 `json:"matched_preset,omitempty"`
}

// op is a unit of work for the session goroutine. A nil settings value
// makes it a flush barrier.
type op struct {
	settings *domain.ReadingSettings
	done     chan struct{}
}

// Controller is the state machine for one open book. All store writes of a
// session are issued from a single goroutine so they apply in event order.
type Controller struct {
	id       string
	bookID   domain.BookID
	store    Store
	renderer Renderer
	logger   *slog.Logger
	metrics  Counter

	mu       sync.Mutex
	state    State
	err      error
	settings domain.ReadingSettings
	position string
	percent  *int
	finished bool

	writeCtx    context.Context
	ops         chan op
	closing     chan struct{}
	loopDone    chan struct{}
	loopStarted bool
	releaseOnce sync.Once
}

// NewController returns an Idle controller for bookID.
func NewController(id string, bookID domain.BookID, store Store, r Renderer, logger *slog.Logger, metrics Counter) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopCounter{}
	}
	return &Controller{
		id:       id,
		bookID:   bookID,
		store:    store,
		renderer: r,
		logger:   logger.With("domain", "session", "session_id", id, "book_id", bookID),
		metrics:  metrics,
		settings: domain.DefaultSettings(),
		ops:      make(chan op, opQueueSize),
		closing:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// BookID returns the id of the open book.
func (c *Controller) BookID() domain.BookID { return c.bookID }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the load error of a Failed session.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Settings returns the settings currently applied to the renderer.
func (c *Controller) Settings() domain.ReadingSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Snapshot returns a copy of the session's observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		ID:       c.id,
		BookID:   c.bookID,
		State:    c.state,
		Position: c.position,
		Finished: c.finished,
		Settings: c.settings,
	}
	if c.err != nil {
		s.Error = "Error loading book: " + c.err.Error()
	}
	if c.percent != nil {
		p := *c.percent
		s.ProgressPercent = &p
	}
	if id, ok := domain.MatchPreset(c.settings); ok {
		s.MatchedPreset = id
	}
	return s
}

// Load moves Idle to Loading and then to Ready, or to Failed. Writes
// started by the session use a context detached from ctx's cancellation.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: load from %s", ErrInvalidTransition, st)
	}
	c.state = StateLoading
	c.writeCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	if err := c.load(ctx); err != nil {
		c.mu.Lock()
		// A Close that raced the load wins.
		if c.state == StateLoading {
			c.state = StateFailed
			c.err = err
		}
		c.mu.Unlock()
		c.release()
		c.logger.Warn("session failed to load", "action", "load", "error", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateLoading {
		c.state = StateReady
	}
	c.logger.Info("session ready", "action", "load", "position", c.position)
	return nil
}

func (c *Controller) load(ctx context.Context) error {
	if err := c.store.WaitReady(ctx); err != nil {
		return err
	}
	content, err := c.store.GetContent(ctx, c.bookID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrBookNotFound
	}
	if err != nil {
		return err
	}
	if !domain.HasZipSignature(content) {
		return domain.ErrInvalidFile
	}
	if err := c.renderer.Open(ctx, content, HintEPUB); err != nil {
		return fmt.Errorf("open renderer: %w", err)
	}

	rec, err := c.store.GetRecord(ctx, c.bookID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec = nil
	case err != nil:
		return err
	}

	settings := domain.DefaultSettings()
	if rec != nil && rec.ReadingSettings != nil {
		settings = *rec.ReadingSettings
	}
	if err := c.renderer.ApplyTheme(settings); err != nil {
		c.logger.Warn("theme not applied", "action", "load", "error", err)
	}
	c.mu.Lock()
	c.settings = settings
	if rec != nil {
		c.percent = rec.ReadingProgressPercent
		c.finished = rec.Finished
	}
	c.mu.Unlock()

	if err := c.renderer.GenerateLocations(ctx); err != nil {
		c.logger.Warn("locations unavailable", "action", "load", "error", err)
	}

	// Relocations emitted by the initial display are persisted too.
	c.startLoop()

	if rec != nil && rec.ReadingPosition != nil && *rec.ReadingPosition != "" {
		err := c.renderer.Display(ctx, *rec.ReadingPosition)
		if err == nil {
			return nil
		}
		c.logger.Warn("saved position not displayable, opening at start", "action", "load", "error", err)
	}
	return c.displayStart(ctx)
}

// displayStart opens the first document after the cover, or the only one.
func (c *Controller) displayStart(ctx context.Context) error {
	href, ok := c.renderer.SpineHref(1)
	if !ok {
		if href, ok = c.renderer.SpineHref(0); !ok {
			return errors.New("book has no readable documents")
		}
	}
	if err := c.renderer.Display(ctx, href); err != nil {
		return fmt.Errorf("display start: %w", err)
	}
	return nil
}

func (c *Controller) startLoop() {
	c.mu.Lock()
	c.loopStarted = true
	c.mu.Unlock()
	go c.run()
}

func (c *Controller) run() {
	defer close(c.loopDone)
	rel := c.renderer.Relocations()
	for {
		select {
		case <-c.closing:
			return
		case r := <-rel:
			c.persistRelocation(r)
		case o := <-c.ops:
			c.drain(rel)
			if o.settings != nil {
				c.persistSettings(*o.settings)
			}
			if o.done != nil {
				close(o.done)
			}
		}
	}
}

// drain persists relocations already queued so an op observes them.
func (c *Controller) drain(rel <-chan Relocation) {
	for {
		select {
		case r := <-rel:
			c.persistRelocation(r)
		default:
			return
		}
	}
}

func (c *Controller) closed() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Controller) persistRelocation(r Relocation) {
	if c.closed() {
		return
	}
	c.mu.Lock()
	if c.state == StateReady {
		c.state = StateRelocating
	}
	c.position = r.Position
	c.mu.Unlock()

	fraction, translated := c.renderer.PercentageFromPosition(r.Position)
	rec, err := c.store.UpdateRecord(c.writeCtx, c.bookID, func(rec *domain.BookRecord) error {
		if rec.Title == "" {
			rec.Title = domain.UntitledTitle
		}
		rec.ApplyRelocation(r.Position, fraction, translated)
		return nil
	})

	c.mu.Lock()
	if err == nil {
		c.percent = rec.ReadingProgressPercent
		c.finished = rec.Finished
	}
	if c.state == StateRelocating {
		c.state = StateReady
	}
	c.mu.Unlock()

	if errors.Is(err, domain.ErrNotFound) {
		c.logger.Warn("book removed, relocation not saved", "action", "relocate", "position", r.Position)
		return
	}
	if err != nil {
		c.logger.Error("relocation not saved", "action", "relocate", "position", r.Position, "error", err)
		return
	}
	c.metrics.Inc(MetricRelocationsPersisted, 1)
	c.logger.Debug("relocation saved", "action", "relocate", "position", r.Position, "translated", translated)
}

func (c *Controller) persistSettings(s domain.ReadingSettings) {
	if c.closed() {
		return
	}
	_, err := c.store.UpdateRecord(c.writeCtx, c.bookID, func(rec *domain.BookRecord) error {
		if rec.Title == "" {
			rec.Title = domain.UntitledTitle
		}
		rec.ReadingSettings = &s
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.logger.Warn("book removed, settings not saved", "action", "settings")
	case err != nil:
		c.logger.Error("settings not saved", "action", "settings", "error", err)
	}
}

// active returns nil when navigation and settings changes are accepted.
func (c *Controller) active() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state.Active():
		return nil
	case c.state == StateClosed || c.state == StateFailed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// Next pages forward.
func (c *Controller) Next(ctx context.Context) error {
	if err := c.active(); err != nil {
		return err
	}
	return c.renderer.Next(ctx)
}

// Prev pages backward.
func (c *Controller) Prev(ctx context.Context) error {
	if err := c.active(); err != nil {
		return err
	}
	return c.renderer.Prev(ctx)
}

// Display jumps to a position token or document href.
func (c *Controller) Display(ctx context.Context, target string) error {
	if err := c.active(); err != nil {
		return err
	}
	return c.renderer.Display(ctx, target)
}

// UpdateSettings applies s to the renderer before returning and queues the
// write of s to the record.
func (c *Controller) UpdateSettings(s domain.ReadingSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := c.active(); err != nil {
		return err
	}
	if err := c.renderer.ApplyTheme(s); err != nil {
		return fmt.Errorf("apply theme: %w", err)
	}
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	return c.enqueue(op{settings: &s})
}

// ApplyPreset switches to the named preset.
func (c *Controller) ApplyPreset(id string) error {
	s, err := domain.WithPreset(id)
	if err != nil {
		return err
	}
	return c.UpdateSettings(s)
}

// AdjustFontSize changes the font size by delta steps.
func (c *Controller) AdjustFontSize(delta int) error {
	return c.UpdateSettings(c.Settings().AdjustFontSize(delta))
}

// AdjustLineHeight changes the line height by delta.
func (c *Controller) AdjustLineHeight(delta float64) error {
	return c.UpdateSettings(c.Settings().AdjustLineHeight(delta))
}

func (c *Controller) enqueue(o op) error {
	select {
	case c.ops <- o:
		return nil
	case <-c.closing:
		return ErrClosed
	}
}

// Flush blocks until every relocation and settings change queued before
// the call has been written or ctx is done.
func (c *Controller) Flush(ctx context.Context) error {
	c.mu.Lock()
	started := c.loopStarted
	c.mu.Unlock()
	if !started {
		return ErrNotReady
	}
	o := op{done: make(chan struct{})}
	if err := c.enqueue(o); err != nil {
		return err
	}
	select {
	case <-o.done:
		return nil
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the renderer. Queued writes are dropped and a write already
// in progress completes without being awaited.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state != StateFailed {
		c.state = StateClosed
	}
	c.mu.Unlock()
	return c.release()
}

func (c *Controller) release() error {
	var err error
	c.releaseOnce.Do(func() {
		close(c.closing)
		err = c.renderer.Close()
		c.logger.Debug("session released", "action", "close")
	})
	return err
}
