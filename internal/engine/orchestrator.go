package engine

import (
	"context"
	"time"

	"github.com/existflow/taskmirror/internal/logger"
	"github.com/existflow/taskmirror/internal/mapper"
	"github.com/existflow/taskmirror/internal/model"
	"github.com/existflow/taskmirror/internal/remote"
)

// runSync drives one complete sync for one entity type:
//
//  1. validate configuration (fail fast, no network call)
//  2. fetch the full remote collection page by page
//  3. map and upsert each record, counting successes and per-record errors
//  4. on normal completion, write the sync-state ledger entry
//
// Per-record store failures are counted and logged but never abort the run.
// Fatal fetch errors abort it; rows upserted before the failure stay
// committed, each upsert is its own unit of work.
func (e *SyncEngine) runSync(ctx context.Context, t model.EntityType) (model.Result, error) {
	var result model.Result

	if e.cfg.APIToken == "" {
		return result, &ConfigError{Type: t, Reason: "missing API token"}
	}
	col := e.cfg.CollectionFor(string(t))
	if col.ID == "" {
		return result, &ConfigError{Type: t, Reason: "missing collection id"}
	}

	j := e.jobs[t]

	onProgress := func(page, records int) {
		logger.Debug("Fetched page",
			logger.F("type", t),
			logger.F("page", page),
			logger.F("records", records))
		// Let observers see the running count grow between pages. Delivery
		// happens off the fetch goroutine so a slow listener never delays
		// the next page request.
		e.mu.Lock()
		j.result = &model.Result{Synced: result.Synced, Errors: result.Errors}
		e.mu.Unlock()
		go e.publish()
	}

	_, err := e.fetcher.FetchAll(ctx, col.ID, onProgress, func(rec remote.RemoteRecord) error {
		if j.cancel.Load() {
			return ErrCancelled
		}

		entity := mapper.Map(rec, col.Fields)
		if err := e.store.Upsert(ctx, t, entity); err != nil {
			result.Errors++
			logger.Warn("Record upsert failed, skipping",
				logger.F("type", t),
				logger.F("clientID", entity.ClientID),
				logger.F("error", err))
			return nil
		}
		result.Synced++
		return nil
	})
	if err != nil {
		return result, err
	}

	// Only a completed run moves the ledger forward.
	if err := e.store.SetSyncState(ctx, string(t), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return result, err
	}

	return result, nil
}
