// Package metrics batches counter and summary observations in memory and
// periodically flushes them to SQLite. Only monotonic counters and simple
// (count, sum, min, max) summaries are supported.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Known lists counters reported even before their first increment.
var Known = []string{
	"books_ingested_total",
	"books_duplicate_total",
	"books_deleted_total",
	"ingest_rollbacks_total",
	"sessions_opened_total",
	"relocations_persisted_total",
	"orphans_swept_total",
}

// CounterDropped counts events lost to a full buffer.
const CounterDropped = "metrics_dropped_total"

const eventBuffer = 1024

// Config controls flush cadence and logging.
type Config struct {
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Summary aggregates observations of one series.
type Summary struct {
	Count int64 `json:"count"`
	Sum   int64 `json:"sum"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

func (s *Summary) merge(o Summary) {
	if s.Count == 0 {
		*s = o
		return
	}
	if o.Count == 0 {
		return
	}
	s.Count += o.Count
	s.Sum += o.Sum
	s.Min = min(s.Min, o.Min)
	s.Max = max(s.Max, o.Max)
}

// Snapshot is the persisted state with unflushed deltas layered on top.
type Snapshot struct {
	Counters  map[string]int64   `json:"counters"`
	Summaries map[string]Summary `json:"summaries"`
}

// Manager aggregates metric events and flushes them.
type Manager struct {
	cfg      Config
	db       *sql.DB
	logger   *slog.Logger
	events   chan event
	dropped  atomic.Int64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	mu        sync.Mutex
	counters  map[string]int64
	summaries map[string]Summary
}

type eventKind int

const (
	eventInc eventKind = iota + 1
	eventObserve
)

type event struct {
	kind eventKind
	name string
	v    int64
}

// New returns a Manager writing to db. Call InitSchema, then Start.
func New(db *sql.DB, cfg Config) *Manager {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		db:        db,
		logger:    cfg.Logger.With("domain", "metrics"),
		events:    make(chan event, eventBuffer),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		counters:  make(map[string]int64),
		summaries: make(map[string]Summary),
	}
}

// InitSchema creates the metrics tables if missing.
func (m *Manager) InitSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS metrics_counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS metrics_summaries (
		name TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		sum INTEGER NOT NULL,
		min INTEGER NOT NULL,
		max INTEGER NOT NULL
	);`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create metrics tables: %w", err)
	}
	return nil
}

// Start launches the flush loop. Later calls are ignored.
func (m *Manager) Start(ctx context.Context) {
	if m.started.Swap(true) {
		return
	}
	go m.loop(ctx)
}

// Stop ends the loop and writes any remaining deltas.
func (m *Manager) Stop(ctx context.Context) error {
	if m.started.Load() {
		m.stopOnce.Do(func() { close(m.stop) })
		<-m.done
	}
	m.drain()
	return m.flush(ctx)
}

// Inc adds delta to a counter. Non-positive deltas are ignored.
func (m *Manager) Inc(name string, delta int64) {
	if delta <= 0 {
		return
	}
	m.send(event{kind: eventInc, name: name, v: delta})
}

// Observe records one summary observation.
func (m *Manager) Observe(name string, v int64) {
	m.send(event{kind: eventObserve, name: name, v: v})
}

func (m *Manager) send(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
	}
}

func (m *Manager) loop(ctx context.Context) {
	t := time.NewTicker(m.cfg.FlushInterval)
	defer func() {
		t.Stop()
		close(m.done)
	}()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("metrics stop", "reason", "context_cancel")
			return
		case <-m.stop:
			m.logger.Info("metrics stop", "reason", "stop_signal")
			return
		case ev := <-m.events:
			m.apply(ev)
		case <-t.C:
			if err := m.flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("flush failed", "action", "flush", "error", err)
			}
		}
	}
}

// drain applies events still buffered in the channel.
func (m *Manager) drain() {
	for {
		select {
		case ev := <-m.events:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.kind {
	case eventInc:
		m.counters[ev.name] += ev.v
	case eventObserve:
		s := m.summaries[ev.name]
		s.merge(Summary{Count: 1, Sum: ev.v, Min: ev.v, Max: ev.v})
		m.summaries[ev.name] = s
	}
}

// Snapshot reads persisted values and layers unflushed deltas on top.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Counters: make(map[string]int64), Summaries: make(map[string]Summary)}
	for _, n := range Known {
		snap.Counters[n] = 0
	}

	rows, err := m.db.QueryContext(ctx, `SELECT name, value FROM metrics_counters`)
	if err != nil {
		return Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var n string
		var v int64
		if err := rows.Scan(&n, &v); err != nil {
			return Snapshot{}, err
		}
		snap.Counters[n] = v
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	srows, err := m.db.QueryContext(ctx, `SELECT name, count, sum, min, max FROM metrics_summaries`)
	if err != nil {
		return Snapshot{}, err
	}
	defer srows.Close()
	for srows.Next() {
		var n string
		var s Summary
		if err := srows.Scan(&n, &s.Count, &s.Sum, &s.Min, &s.Max); err != nil {
			return Snapshot{}, err
		}
		snap.Summaries[n] = s
	}
	if err := srows.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	for n, v := range m.counters {
		snap.Counters[n] += v
	}
	for n, s := range m.summaries {
		cur := snap.Summaries[n]
		cur.merge(s)
		snap.Summaries[n] = cur
	}
	m.mu.Unlock()
	if d := m.dropped.Load(); d > 0 {
		snap.Counters[CounterDropped] += d
	}
	return snap, nil
}

// flush writes deltas in one transaction. Deltas are restored on failure.
func (m *Manager) flush(ctx context.Context) error {
	m.mu.Lock()
	if len(m.counters) == 0 && len(m.summaries) == 0 {
		m.mu.Unlock()
		return nil
	}
	counters, summaries := m.counters, m.summaries
	m.counters = make(map[string]int64)
	m.summaries = make(map[string]Summary)
	m.mu.Unlock()

	if err := m.write(ctx, counters, summaries); err != nil {
		m.mu.Lock()
		for n, v := range counters {
			m.counters[n] += v
		}
		for n, s := range summaries {
			cur := m.summaries[n]
			cur.merge(s)
			m.summaries[n] = cur
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) write(ctx context.Context, counters map[string]int64, summaries map[string]Summary) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	for name, delta := range counters {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_counters(name,value) VALUES(?,?)
			ON CONFLICT(name) DO UPDATE SET value = value + excluded.value`, name, delta); err != nil {
			return err
		}
	}
	for name, s := range summaries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics_summaries(name,count,sum,min,max) VALUES(?,?,?,?,?)
			ON CONFLICT(name) DO UPDATE SET
				count = metrics_summaries.count + excluded.count,
				sum = metrics_summaries.sum + excluded.sum,
				min = MIN(metrics_summaries.min, excluded.min),
				max = MAX(metrics_summaries.max, excluded.max)`,
			name, s.Count, s.Sum, s.Min, s.Max); err != nil {
			return err
		}
	}
	return tx.Commit()
}
