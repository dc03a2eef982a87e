// Package warehouse schedules fetch cycles across all configured sources
// and writes the resulting package records into the index. Each source
// runs on its own ticker; one failing source never stops its siblings.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/LipPkg/LipIndex/pkg/log"
	"github.com/LipPkg/LipIndex/pkg/realtime"
)

var logger = log.ForService("warehouse")

type Config struct {
	// OptimizeInterval schedules periodic index maintenance; 0 disables it.
	OptimizeInterval time.Duration
	// OriginPriority is the version dedup order passed to normalization.
	// Empty selects core.DefaultOriginPriority.
	OriginPriority []core.VersionOrigin
	// Workers bounds concurrent candidate resolution per source.
	Workers int
}

type Warehouse struct {
	config          Config
	index           *index.Index
	hub             *realtime.FirehoseHub
	sources         []core.Source
	sourceNames     map[core.Source]string
	sourceIntervals map[string]time.Duration
	sourceTickers   map[string]*time.Ticker
	optimizeTicker  *time.Ticker
	refreshCh       chan struct{}
	stopCh          chan struct{}
	ctx             context.Context
	ctxCancel       context.CancelFunc
	mu              sync.RWMutex
	wg              sync.WaitGroup
	running         bool
}

func NewWarehouse(config Config, ix *index.Index) *Warehouse {
	return &Warehouse{
		config:          config,
		index:           ix,
		sources:         make([]core.Source, 0),
		sourceNames:     make(map[core.Source]string),
		sourceIntervals: make(map[string]time.Duration),
		sourceTickers:   make(map[string]*time.Ticker),
		refreshCh:       make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
}

// SetEventHub attaches the realtime hub; every successfully stored package
// is broadcast to it. Call before Start.
func (w *Warehouse) SetEventHub(hub *realtime.FirehoseHub) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hub = hub
}

// AddSource adds a source to the warehouse with the default 1-hour fetch
// interval. For custom intervals, use AddSourceWithInterval instead.
func (w *Warehouse) AddSource(name string, src core.Source) error {
	return w.AddSourceWithInterval(name, src, time.Hour)
}

// AddSourceWithInterval adds a source to the warehouse with a specific
// fetch interval. Use 0 to disable automatic fetching for this source.
func (w *Warehouse) AddSourceWithInterval(name string, src core.Source, interval time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sources = append(w.sources, src)
	w.sourceNames[src] = name
	w.sourceIntervals[name] = interval

	// If the warehouse is running and interval > 0, start the ticker for
	// this source right away.
	if w.running && w.ctx != nil && interval > 0 {
		ticker := time.NewTicker(interval)
		w.sourceTickers[name] = ticker
		w.wg.Add(1)
		go w.runSource(w.ctx, name, ticker)
		logger.Infof("Started scheduler for new source %s with interval %v", name, interval)
	} else if interval == 0 {
		logger.Infof("Source %s configured with interval 0 (no automatic fetching)", name)
	}

	return nil
}

// RemoveSource removes a source from the warehouse and closes it.
func (w *Warehouse) RemoveSource(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ticker, exists := w.sourceTickers[name]; exists {
		ticker.Stop()
		delete(w.sourceTickers, name)
		logger.Infof("Stopped ticker for source: %s", name)
	}

	var target core.Source
	for src, srcName := range w.sourceNames {
		if srcName == name {
			target = src
			break
		}
	}

	if target != nil {
		delete(w.sourceNames, target)

		for i, src := range w.sources {
			if src == target {
				w.sources = append(w.sources[:i], w.sources[i+1:]...)
				break
			}
		}

		if err := target.Close(); err != nil {
			logger.Warnf("Error closing source %s: %v", name, err)
		}
	}

	delete(w.sourceIntervals, name)

	logger.Infof("Removed source: %s", name)
	return nil
}

func (w *Warehouse) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("warehouse is already running")
	}

	if len(w.sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	w.ctx, w.ctxCancel = context.WithCancel(ctx)
	w.running = true

	logger.Infof("Starting warehouse with %d sources:", len(w.sources))
	for name, interval := range w.sourceIntervals {
		if interval == 0 {
			logger.Infof("  - %s: disabled", name)
		} else {
			logger.Infof("  - %s: %v", name, interval)
		}
	}

	for name, interval := range w.sourceIntervals {
		if interval == 0 {
			continue
		}
		ticker := time.NewTicker(interval)
		w.sourceTickers[name] = ticker
		w.wg.Add(1)
		go w.runSource(w.ctx, name, ticker)
	}

	if w.config.OptimizeInterval > 0 {
		w.optimizeTicker = time.NewTicker(w.config.OptimizeInterval)
		w.wg.Add(1)
		go w.runOptimization(w.ctx)
	}

	w.wg.Add(1)
	go w.runRefresh(w.ctx)

	// Initial fetch runs in the background so Start returns immediately.
	logger.Infof("Starting initial fetch")
	go w.fetchAll(w.ctx)

	return nil
}

// Refresh triggers an immediate fetch cycle for every source. Coalesces:
// a refresh requested while one is already pending is a no-op.
func (w *Warehouse) Refresh() {
	select {
	case w.refreshCh <- struct{}{}:
	default:
	}
}

func (w *Warehouse) runRefresh(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.refreshCh:
			logger.Infof("Refresh requested, fetching all sources")
			w.fetchAll(ctx)
		}
	}
}

func (w *Warehouse) runSource(ctx context.Context, name string, ticker *time.Ticker) {
	defer w.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.fetchSource(ctx, name, nil); err != nil {
				logger.Warnf("Scheduled fetch failed for source %s: %v", name, err)
			}
		}
	}
}

func (w *Warehouse) runOptimization(ctx context.Context) {
	defer w.wg.Done()
	defer w.optimizeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.optimizeTicker.C:
			logger.Infof("Running index maintenance")
			if err := w.index.Optimize(); err != nil {
				logger.Warnf("Index optimization failed: %v", err)
			}
			if err := w.index.WALCheckpoint(); err != nil {
				logger.Warnf("WAL checkpoint failed: %v", err)
			}
		}
	}
}

// fetchAll runs one cycle for every schedulable source in parallel.
// Failures are logged per source and never propagate to siblings.
func (w *Warehouse) fetchAll(ctx context.Context) {
	names := w.schedulableSources()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetchSource(ctx, name, nil); err != nil {
				logger.Warnf("Fetch failed for source %s: %v", name, err)
			}
		}()
	}
	wg.Wait()
}

func (w *Warehouse) schedulableSources() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var names []string
	for name, interval := range w.sourceIntervals {
		if interval > 0 {
			names = append(names, name)
		}
	}
	return names
}

func (w *Warehouse) sourceByName(name string) core.Source {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for src, srcName := range w.sourceNames {
		if srcName == name {
			return src
		}
	}
	return nil
}

// fetchSource runs one full discovery+resolution cycle for a single
// source and upserts every emitted package. The cycle gets a run id that
// shows up in fetch_runs and the logs.
func (w *Warehouse) fetchSource(ctx context.Context, name string, onPackage func(*core.Package)) (core.FetchStats, error) {
	src := w.sourceByName(name)
	if src == nil {
		return core.FetchStats{}, fmt.Errorf("source %s not found", name)
	}

	runID := uuid.New().String()
	started := time.Now().UTC()
	logger.Infof("[%s] Fetch run %s started", name, runID)

	platform := src.Platform()
	packageCh := make(chan *core.Package, 256)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for pkg := range packageCh {
			if onPackage != nil {
				onPackage(pkg)
			}
			if err := w.storePackage(name, platform, pkg); err != nil {
				logger.Errorf("[%s] Storing %s: %v", name, pkg.Identifier, err)
			}
		}
	}()

	stats, err := core.Fetch(ctx, src, packageCh, core.FetchOptions{
		Workers:   w.config.Workers,
		Normalize: core.NormalizeOptions{OriginPriority: w.config.OriginPriority},
	})
	close(packageCh)
	<-done

	finished := time.Now().UTC()
	run := index.FetchRun{
		RunID:      runID,
		Source:     name,
		StartedAt:  started,
		FinishedAt: finished,
		Discovered: stats.Discovered,
		Resolved:   stats.Resolved,
		Failed:     stats.Failed,
	}
	if recErr := w.index.RecordFetchRun(run); recErr != nil {
		logger.Warnf("[%s] Recording fetch run %s: %v", name, runID, recErr)
	}

	if err != nil {
		return stats, fmt.Errorf("fetching from source %s: %w", name, err)
	}

	if err := w.index.UpdateLastFetchTime(name, finished); err != nil {
		logger.Warnf("[%s] Updating last fetch time: %v", name, err)
	}

	logger.Infof("[%s] Fetch run %s finished in %v: %d discovered, %d resolved, %d absent, %d failed",
		name, runID, finished.Sub(started).Round(time.Millisecond),
		stats.Discovered, stats.Resolved, stats.Absent, stats.Failed)
	return stats, nil
}

// storePackage upserts one record and broadcasts the upsert event after
// successful persistence.
func (w *Warehouse) storePackage(sourceName, platform string, pkg *core.Package) error {
	if err := w.index.UpsertPackage(pkg); err != nil {
		return fmt.Errorf("storing package %s: %w", pkg.Identifier, err)
	}

	w.mu.RLock()
	hub := w.hub
	w.mu.RUnlock()
	if hub != nil {
		ev := realtime.PackageEvent{
			Identifier: pkg.Identifier,
			Name:       pkg.Name,
			Source:     sourceName,
			Platform:   platform,
			Updated:    pkg.Updated,
			Tags:       pkg.Tags,
		}
		if len(pkg.Versions) > 0 {
			ev.Latest = pkg.Versions[0].Version
		}
		hub.Broadcast(ev)
	}

	return nil
}

func (w *Warehouse) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("Stopping warehouse...")
	if w.ctxCancel != nil {
		w.ctxCancel()
	}
	close(w.stopCh)
	for name, ticker := range w.sourceTickers {
		logger.Debugf("Stopping ticker for source: %s", name)
		ticker.Stop()
	}
	if w.optimizeTicker != nil {
		w.optimizeTicker.Stop()
	}
	w.running = false

	w.wg.Wait()
	logger.Infof("Warehouse stopped")
}

func (w *Warehouse) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// FetchOnce runs one fetch cycle for every source and returns per-source
// stats. Source failures are collected, not fatal to sibling sources.
func (w *Warehouse) FetchOnce(ctx context.Context, options ...FetchOption) (map[string]core.FetchStats, error) {
	opts := &fetchOptions{}
	for _, opt := range options {
		opt(opts)
	}

	names := w.schedulableSources()
	if len(names) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	var (
		mu    sync.Mutex
		stats = make(map[string]core.FetchStats, len(names))
		errs  []error
		wg    sync.WaitGroup
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := w.fetchSource(ctx, name, opts.onPackage)
			mu.Lock()
			defer mu.Unlock()
			stats[name] = st
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	return stats, errors.Join(errs...)
}

// FetchOnceWithStreaming runs one fetch cycle streaming every stored
// package to the callback.
func (w *Warehouse) FetchOnceWithStreaming(ctx context.Context, callback func(*core.Package)) (map[string]core.FetchStats, error) {
	return w.FetchOnce(ctx, WithStreaming(callback))
}

// FetchOption defines options for the fetch operation
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	onPackage func(*core.Package)
}

// WithStreaming enables streaming packages to a callback function
func WithStreaming(callback func(*core.Package)) FetchOption {
	return func(opts *fetchOptions) {
		opts.onPackage = callback
	}
}

func (w *Warehouse) Close() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, src := range w.sources {
		if err := src.Close(); err != nil {
			logger.Warnf("Error closing source %s: %v", src.Name(), err)
		}
	}

	return nil
}
