// Package engine coordinates import jobs for the synced entity types. A
// SyncEngine owns the job table and subscriber list explicitly; there are no
// package-level singletons, one engine is constructed per process and passed
// by reference.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/existflow/taskmirror/internal/config"
	"github.com/existflow/taskmirror/internal/logger"
	"github.com/existflow/taskmirror/internal/model"
	"github.com/existflow/taskmirror/internal/remote"
	"github.com/existflow/taskmirror/internal/store"
)

var (
	// ErrSyncInProgress is returned when a sync is requested while another
	// one is running. One global in-flight sync keeps the shared remote rate
	// limit safe.
	ErrSyncInProgress = errors.New("a sync is already running")

	// ErrCancelled marks a run that was stopped by RequestCancel. It is a
	// deliberate terminal state, not a failure.
	ErrCancelled = errors.New("sync cancelled")
)

// ConfigError is a missing-credentials or missing-collection condition. It
// fails fast, before any network call.
type ConfigError struct {
	Type   model.EntityType
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sync %s not configured: %s", e.Type, e.Reason)
}

// defaultDisplayHold is how long a terminal job status stays visible before
// the job resets to idle.
const defaultDisplayHold = 4 * time.Second

// job is the transient in-memory state for one entity type's import.
type job struct {
	status    model.JobStatus
	startedAt time.Time
	result    *model.Result
	errMsg    string
	cancel    atomic.Bool
	resetTmr  *time.Timer
}

// SyncEngine enforces single-flight sync execution across all entity types,
// drives the per-type sync runs and broadcasts status transitions.
type SyncEngine struct {
	cfg     *config.Config
	store   *store.Store
	fetcher *remote.Fetcher

	// DisplayHold is how long terminal statuses linger before resetting to
	// idle. Set before first use; tests shorten it.
	DisplayHold time.Duration

	mu      sync.Mutex
	jobs    map[model.EntityType]*job
	current model.EntityType // "" when nothing is running
	subs    map[int]func(model.QueueStatus)
	nextSub int
}

// New creates a sync engine over the given store and fetcher.
func New(cfg *config.Config, st *store.Store, fetcher *remote.Fetcher) *SyncEngine {
	jobs := make(map[model.EntityType]*job, len(model.AllEntityTypes))
	for _, t := range model.AllEntityTypes {
		jobs[t] = &job{status: model.JobIdle}
	}
	return &SyncEngine{
		cfg:         cfg,
		store:       st,
		fetcher:     fetcher,
		DisplayHold: defaultDisplayHold,
		jobs:        jobs,
		subs:        make(map[int]func(model.QueueStatus)),
	}
}

// Store exposes the reconciliation store for read-only consumers (CLI,
// status server).
func (e *SyncEngine) Store() *store.Store {
	return e.store
}

// Subscribe registers a listener for job-status snapshots and returns its
// unsubscribe function. Unsubscribing twice is a no-op, safe to call from UI
// lifecycle hooks. Per-page progress snapshots are delivered off the fetch
// goroutine, but state transitions invoke listeners inline, so a listener
// that blocks indefinitely stalls the run's completion.
func (e *SyncEngine) Subscribe(fn func(model.QueueStatus)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Status returns a snapshot of every tracked job and the currently running
// entity type, if any.
func (e *SyncEngine) Status() model.QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// snapshotLocked builds a value copy of the job table. Caller holds e.mu.
func (e *SyncEngine) snapshotLocked() model.QueueStatus {
	qs := model.QueueStatus{Current: e.current}
	for _, t := range model.AllEntityTypes {
		j := e.jobs[t]
		snap := model.JobSnapshot{
			Type:      t,
			Status:    j.status,
			StartedAt: j.startedAt,
			Error:     j.errMsg,
		}
		if j.result != nil {
			r := *j.result
			snap.Result = &r
		}
		qs.All = append(qs.All, snap)
	}
	return qs
}

// publish broadcasts the current snapshot. The engine mutex is released
// before listeners run so a slow subscriber never blocks a state transition.
func (e *SyncEngine) publish() {
	e.mu.Lock()
	snap := e.snapshotLocked()
	listeners := make([]func(model.QueueStatus), 0, len(e.subs))
	for _, fn := range e.subs {
		listeners = append(listeners, fn)
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// RequestSync runs one complete sync for the given entity type. It blocks
// until the job reaches a terminal state and returns the run's counts.
// Admission fails with ErrSyncInProgress when any type is already running.
func (e *SyncEngine) RequestSync(ctx context.Context, t model.EntityType) (model.Result, error) {
	if !t.Valid() {
		return model.Result{}, fmt.Errorf("unknown entity type %q", t)
	}

	if err := e.admit(t); err != nil {
		return model.Result{}, err
	}
	return e.execute(ctx, t)
}

// StartSync admits t and runs its sync in the background. The admission
// outcome is decided before this returns, so concurrent callers cannot both
// be told "queued"; run errors go to the log.
func (e *SyncEngine) StartSync(t model.EntityType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown entity type %q", t)
	}

	if err := e.admit(t); err != nil {
		return err
	}

	go func() {
		if _, err := e.execute(context.Background(), t); err != nil && !errors.Is(err, ErrCancelled) {
			logger.Error("Background sync failed", logger.F("type", t), logger.F("error", err))
		}
	}()
	return nil
}

// execute runs an admitted job to its terminal state. The caller must hold
// the global slot for t via admit.
func (e *SyncEngine) execute(ctx context.Context, t model.EntityType) (model.Result, error) {
	e.publish()

	e.transition(t, model.JobRunning)
	e.publish()

	logger.Info("Sync started", logger.F("type", t))
	result, runErr := e.runSync(ctx, t)

	e.mu.Lock()
	j := e.jobs[t]
	j.result = &model.Result{Synced: result.Synced, Errors: result.Errors}
	switch {
	case errors.Is(runErr, ErrCancelled) || errors.Is(runErr, context.Canceled):
		j.status = model.JobCancelled
		runErr = ErrCancelled
	case runErr != nil:
		j.status = model.JobError
		j.errMsg = runErr.Error()
	default:
		j.status = model.JobCompleted
	}
	// Always release the global slot, whatever the outcome.
	e.current = ""
	e.scheduleResetLocked(t)
	e.mu.Unlock()
	e.publish()

	if runErr != nil && !errors.Is(runErr, ErrCancelled) {
		logger.Error("Sync failed", logger.F("type", t), logger.F("error", runErr))
	} else {
		logger.Info("Sync finished",
			logger.F("type", t),
			logger.F("status", e.jobStatus(t)),
			logger.F("synced", result.Synced),
			logger.F("errors", result.Errors))
	}

	return result, runErr
}

// admit claims the global running slot for t, transitioning its job
// idle -> queued. A terminal job for t is reset immediately instead of
// waiting out its display hold.
func (e *SyncEngine) admit(t model.EntityType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j := e.jobs[t]
	if j.status.Terminal() {
		e.resetLocked(t)
	}

	if e.current != "" {
		return fmt.Errorf("%w (%s)", ErrSyncInProgress, e.current)
	}

	e.current = t
	j.status = model.JobQueued
	j.startedAt = time.Now()
	j.result = nil
	j.errMsg = ""
	j.cancel.Store(false)
	return nil
}

// transition moves t's job to the given status.
func (e *SyncEngine) transition(t model.EntityType, status model.JobStatus) {
	e.mu.Lock()
	e.jobs[t].status = status
	e.mu.Unlock()
}

func (e *SyncEngine) jobStatus(t model.EntityType) model.JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.jobs[t].status
}

// scheduleResetLocked arms the display-hold timer that returns a terminal
// job to idle. Caller holds e.mu.
func (e *SyncEngine) scheduleResetLocked(t model.EntityType) {
	j := e.jobs[t]
	if j.resetTmr != nil {
		j.resetTmr.Stop()
	}
	j.resetTmr = time.AfterFunc(e.DisplayHold, func() {
		e.mu.Lock()
		if e.jobs[t].status.Terminal() {
			e.resetLocked(t)
			e.mu.Unlock()
			e.publish()
			return
		}
		e.mu.Unlock()
	})
}

// resetLocked returns a job to idle. Caller holds e.mu.
func (e *SyncEngine) resetLocked(t model.EntityType) {
	j := e.jobs[t]
	if j.resetTmr != nil {
		j.resetTmr.Stop()
		j.resetTmr = nil
	}
	j.status = model.JobIdle
	j.startedAt = time.Time{}
	j.result = nil
	j.errMsg = ""
	j.cancel.Store(false)
}

// RequestCancel asks the running job for t to stop. Cancellation is
// cooperative: the orchestrator observes the flag between records, so an
// in-flight page fetch still completes. Returns false when no matching job
// is running.
func (e *SyncEngine) RequestCancel(t model.EntityType) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != t {
		return false
	}
	j := e.jobs[t]
	if j.status != model.JobRunning && j.status != model.JobQueued {
		return false
	}
	j.cancel.Store(true)
	logger.Info("Cancellation requested", logger.F("type", t))
	return true
}

// SyncAll runs every entity type sequentially, in the fixed quick-sync
// order. Later types still run when an earlier one fails; the combined
// error reports every failure.
func (e *SyncEngine) SyncAll(ctx context.Context) (map[model.EntityType]model.Result, error) {
	results := make(map[model.EntityType]model.Result, len(model.AllEntityTypes))
	var errs []error

	for _, t := range model.AllEntityTypes {
		result, err := e.RequestSync(ctx, t)
		results[t] = result
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				return results, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
		}
	}

	return results, errors.Join(errs...)
}

// StartSyncAll admits the first quick-sync entity type and runs the whole
// sequence in the background. Like StartSync, admission is decided before
// this returns; failures of individual runs go to the log.
func (e *SyncEngine) StartSyncAll() error {
	first := model.AllEntityTypes[0]
	if err := e.admit(first); err != nil {
		return err
	}

	go func() {
		if _, err := e.execute(context.Background(), first); err != nil && !errors.Is(err, ErrCancelled) {
			logger.Error("Background sync failed", logger.F("type", first), logger.F("error", err))
		}

		for _, t := range model.AllEntityTypes[1:] {
			if _, err := e.RequestSync(context.Background(), t); err != nil {
				if errors.Is(err, ErrSyncInProgress) {
					logger.Error("Quick sync interrupted", logger.F("type", t), logger.F("error", err))
					return
				}
				if !errors.Is(err, ErrCancelled) {
					logger.Error("Background sync failed", logger.F("type", t), logger.F("error", err))
				}
			}
		}
	}()
	return nil
}
