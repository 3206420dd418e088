// Package janitor runs the periodic integrity sweep that removes content
// blobs no metadata record refers to. It runs outside the request path so a
// slow sweep never delays ingest or reading.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Metric names emitted per cycle.
const (
	CounterOrphansSwept    = "orphans_swept_total"
	SummaryOrphansPerCycle = "janitor_orphans_per_cycle"
)

const (
	defaultInterval         = 10 * time.Minute
	defaultReconcileTimeout = time.Minute
)

// Store is the part of the library store the sweep needs.
type Store interface {
	// Reconcile deletes unreferenced blobs past their grace period and
	// returns how many were removed.
	Reconcile(ctx context.Context) (int, error)
}

// Collector receives cycle metrics. metrics.Manager satisfies it.
type Collector interface {
	Inc(name string, delta int64)
	Observe(name string, v int64)
}

// Config holds tunables for the Janitor.
type Config struct {
	Interval time.Duration
	// Timeout bounds a single Reconcile call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Stats is a snapshot of sweep activity since start.
type Stats struct {
	Cycles         uint64
	Failures       uint64
	OrphansRemoved uint64
	LastDuration   time.Duration
	LastRun        time.Time
}

// Janitor owns the sweep loop.
type Janitor struct {
	store     Store
	collector Collector
	cfg       Config
	logger    *slog.Logger

	mu    sync.Mutex
	stats Stats

	ticker *time.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

type nopCollector struct{}

func (nopCollector) Inc(string, int64)     {}
func (nopCollector) Observe(string, int64) {}

// New returns a stopped Janitor. collector may be nil.
func New(store Store, collector Collector, cfg Config) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReconcileTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if collector == nil {
		collector = nopCollector{}
	}
	return &Janitor{
		store:     store,
		collector: collector,
		cfg:       cfg,
		logger:    cfg.Logger.With("domain", "janitor"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the loop. Later calls are ignored.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ticker != nil {
		return
	}
	j.ticker = time.NewTicker(j.cfg.Interval)
	go j.loop(ctx, j.ticker)
}

// Stop ends the loop and waits for a running cycle to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	started := j.ticker != nil
	j.mu.Unlock()
	j.once.Do(func() { close(j.stopCh) })
	if started {
		<-j.doneCh
	}
}

// Stats returns a copy of the counters.
func (j *Janitor) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

func (j *Janitor) loop(ctx context.Context, t *time.Ticker) {
	defer func() {
		t.Stop()
		close(j.doneCh)
	}()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stop", "reason", "context_cancel")
			return
		case <-j.stopCh:
			j.logger.Info("janitor stop", "reason", "stop_signal")
			return
		case <-t.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	n, err := j.store.Reconcile(cctx)
	elapsed := time.Since(start)

	j.mu.Lock()
	j.stats.Cycles++
	j.stats.LastDuration = elapsed
	j.stats.LastRun = start
	if err != nil {
		j.stats.Failures++
	}
	if n > 0 {
		j.stats.OrphansRemoved += uint64(n)
	}
	j.mu.Unlock()

	if n > 0 {
		j.collector.Inc(CounterOrphansSwept, int64(n))
	}
	j.collector.Observe(SummaryOrphansPerCycle, int64(n))

	if err != nil {
		j.logger.Error("sweep failed", "action", "reconcile", "removed", n, "duration", elapsed, "error", err)
		return
	}
	j.logger.Info("sweep complete", "action", "reconcile", "removed", n, "duration", elapsed)
}
