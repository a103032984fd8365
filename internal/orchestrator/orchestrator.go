// Package orchestrator is the single-writer sync scheduler: it serializes
// full/incremental sync runs against the Ingestion Engine, tracks progress
// and a bounded event log, drives a background auto-sync timer, and bumps
// analytics cache keys at the start and end of every run.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitinnat/gmail-parser/internal/gmailapi"
	"github.com/nitinnat/gmail-parser/internal/ingest"
	"github.com/nitinnat/gmail-parser/internal/search"
)

// maxEvents bounds the in-memory event ring.
const maxEvents = 200

// defaultAutoSyncInterval is the default background polling cadence.
const defaultAutoSyncInterval = 30 * time.Second

// tickInterval is how often the background loop checks whether a run is due.
const tickInterval = 10 * time.Second

// invalidatedKeys are bumped at the start and end of every sync run.
var invalidatedKeys = []string{"overview", "senders", "categories", "alerts", "eda", "expenses_overview", "expenses_tx"}

// Event is one entry in the sync-run event log.
type Event struct {
	Ts  string `json:"ts"`
	Msg string `json:"msg"`
}

// SyncRun is the single global run record exposed to API callers.
type SyncRun struct {
	IsSyncing bool    `json:"is_syncing"`
	Synced    int     `json:"synced"`
	Total     int     `json:"total"`
	Error     string  `json:"error,omitempty"`
	Events    []Event `json:"events"`
}

// AutoSyncConfig controls the background incremental-sync timer.
type AutoSyncConfig struct {
	Enabled         bool  `json:"enabled"`
	IntervalSeconds int   `json:"interval_seconds"`
	NextRunEpoch    int64 `json:"next_run_epoch"`
}

// ErrAlreadySyncing is returned by Start* when a run is already in progress.
var ErrAlreadySyncing = errors.New("sync already in progress")

// Orchestrator owns the SyncRun state machine, the auto-sync config, and
// the background ticker goroutine. All mutable state is guarded by mu, per
// the single-mutex concurrency policy.
type Orchestrator struct {
	mu   sync.Mutex
	run  SyncRun
	auto AutoSyncConfig

	engine *ingest.Engine
	cache  *search.Cache

	now func() time.Time
}

// New builds an Orchestrator wired to engine for sync operations and cache
// for cache-invalidation bumps on run start/end. cache may be nil.
func New(engine *ingest.Engine, cache *search.Cache) *Orchestrator {
	return &Orchestrator{
		engine: engine,
		cache:  cache,
		auto:   AutoSyncConfig{Enabled: false, IntervalSeconds: int(defaultAutoSyncInterval.Seconds())},
		now:    time.Now,
	}
}

// Status returns a snapshot of the current SyncRun.
func (o *Orchestrator) Status() SyncRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copyRunLocked()
}

func (o *Orchestrator) copyRunLocked() SyncRun {
	events := make([]Event, len(o.run.Events))
	copy(events, o.run.Events)
	run := o.run
	run.Events = events
	return run
}

// Events returns events strictly newer than after (an RFC3339 timestamp).
// An empty after returns the full buffered ring.
func (o *Orchestrator) Events(after string) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	if after == "" {
		out := make([]Event, len(o.run.Events))
		copy(out, o.run.Events)
		return out
	}
	var out []Event
	for _, e := range o.run.Events {
		if e.Ts > after {
			out = append(out, e)
		}
	}
	return out
}

// AutoSync returns the current auto-sync configuration.
func (o *Orchestrator) AutoSync() AutoSyncConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.auto
}

// SetAutoSync enables or disables the background timer. Enabling arms the
// next run for one interval from now.
func (o *Orchestrator) SetAutoSync(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.auto.Enabled = enabled
	if enabled {
		o.auto.NextRunEpoch = o.now().Add(time.Duration(o.auto.IntervalSeconds) * time.Second).Unix()
	}
}

func (o *Orchestrator) appendEventLocked(msg string) {
	o.run.Events = append(o.run.Events, Event{Ts: o.now().UTC().Format(time.RFC3339Nano), Msg: msg})
	if len(o.run.Events) > maxEvents {
		o.run.Events = o.run.Events[len(o.run.Events)-maxEvents:]
	}
}

func (o *Orchestrator) invalidateCaches() {
	if o.cache == nil {
		return
	}
	for _, k := range invalidatedKeys {
		o.cache.Invalidate(k)
	}
}

// beginLocked transitions Idle -> Running, or returns ErrAlreadySyncing if
// a run is already in flight. Caller must hold mu.
func (o *Orchestrator) beginLocked(msg string) error {
	if o.run.IsSyncing {
		return ErrAlreadySyncing
	}
	o.run = SyncRun{IsSyncing: true, Events: o.run.Events}
	o.appendEventLocked(msg)
	return nil
}

func (o *Orchestrator) finish(err error, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.run.IsSyncing = false
	o.run.Total = total
	if err != nil {
		o.run.Error = err.Error()
		o.appendEventLocked("sync failed: " + err.Error())
	} else {
		o.appendEventLocked("sync complete")
	}
	o.invalidateCaches()
}

func (o *Orchestrator) progress(synced, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.run.Synced = synced
	o.run.Total = total
	o.appendEventLocked("progress")
}

// StartFull starts a full sync run. Returns ErrAlreadySyncing if one is
// already in progress; otherwise runs synchronously and returns its error.
func (o *Orchestrator) StartFull(ctx context.Context, params ingest.FullSyncParams) error {
	o.mu.Lock()
	if err := o.beginLocked("full sync started"); err != nil {
		o.mu.Unlock()
		return err
	}
	o.invalidateCaches()
	o.mu.Unlock()

	params.Progress = o.progress
	synced, err := o.engine.FullSync(ctx, params)
	o.finish(err, synced)
	return err
}

// StartIncremental starts an incremental sync run.
func (o *Orchestrator) StartIncremental(ctx context.Context) error {
	o.mu.Lock()
	if err := o.beginLocked("incremental sync started"); err != nil {
		o.mu.Unlock()
		return err
	}
	o.invalidateCaches()
	o.mu.Unlock()

	result, err := o.engine.IncrementalSync(ctx)
	if result.Fallback {
		o.mu.Lock()
		o.appendEventLocked("history cursor expired, fell back to 7-day full sync")
		o.mu.Unlock()
	}
	o.finish(err, result.Added)
	return err
}

// Run starts the background auto-sync ticker. It blocks until ctx is
// cancelled and should be launched in its own goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.maybeAutoSync(ctx)
		}
	}
}

func (o *Orchestrator) maybeAutoSync(ctx context.Context) {
	o.mu.Lock()
	due := o.auto.Enabled && !o.run.IsSyncing && o.now().Unix() >= o.auto.NextRunEpoch
	if due {
		o.auto.NextRunEpoch = o.now().Add(time.Duration(o.auto.IntervalSeconds) * time.Second).Unix()
	}
	o.mu.Unlock()
	if !due {
		return
	}

	if err := o.StartIncremental(ctx); err != nil && isAuthFailure(err) {
		o.mu.Lock()
		o.auto.Enabled = false
		o.appendEventLocked("auto-sync disabled after authentication failure")
		o.mu.Unlock()
		log.Error().Err(err).Msg("auto-sync disabled: authentication failure")
	}
}

// LoginSync fires one incremental sync after a fresh OAuth2 login. When no
// prior sync cursor exists, that run ends at once with ingest.ErrNoPriorSync
// recorded as the run's error and a "sync failed" event, and LoginSync
// returns nil. It does not re-enable auto-sync.
func (o *Orchestrator) LoginSync(ctx context.Context) error {
	if err := o.StartIncremental(ctx); err != nil && !errors.Is(err, ingest.ErrNoPriorSync) {
		return err
	}
	return nil
}

func isAuthFailure(err error) bool {
	var authErr *gmailapi.AuthError
	if errors.As(err, &authErr) {
		return true
	}
	return strings.Contains(err.Error(), "invalid_grant")
}
