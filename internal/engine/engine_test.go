package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/taskmirror/internal/config"
	"github.com/existflow/taskmirror/internal/model"
	"github.com/existflow/taskmirror/internal/remote"
	"github.com/existflow/taskmirror/internal/store"
)

func newTestEngine(t *testing.T, handler http.Handler) *SyncEngine {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		APIToken:   "test-token",
		APIBaseURL: srv.URL,
		Collection: map[string]config.Collection{
			"tasks":     {ID: "col-tasks"},
			"projects":  {ID: "col-projects"},
			"contacts":  {ID: "col-contacts"},
			"time_logs": {ID: "col-time-logs"},
		},
	}

	client := remote.NewClient(srv.URL, cfg.APIToken, "")
	policy := remote.DefaultRetryPolicy()
	policy.MaxAttempts = 3
	fetcher := remote.NewFetcher(client, time.Millisecond, policy)

	eng := New(cfg, st, fetcher)
	// Keep terminal statuses visible for the duration of a test.
	eng.DisplayHold = time.Hour
	return eng
}

func taskRecord(id, title, status string) remote.RemoteRecord {
	return remote.RemoteRecord{
		ID: id,
		Properties: map[string]remote.Property{
			"Name":   {Type: "title", Title: []remote.RichTextFrag{{PlainText: title}}},
			"Status": {Type: "status", Status: &remote.SelectOption{Name: status}},
		},
	}
}

func writePage(w http.ResponseWriter, recs []remote.RemoteRecord, hasMore bool, cursor string) {
	_ = json.NewEncoder(w).Encode(remote.QueryResponse{
		Results:    recs,
		HasMore:    hasMore,
		NextCursor: cursor,
	})
}

func snapshotFor(qs model.QueueStatus, t model.EntityType) model.JobSnapshot {
	for _, s := range qs.All {
		if s.Type == t {
			return s
		}
	}
	return model.JobSnapshot{}
}

func TestSyncEndToEnd(t *testing.T) {
	start := time.Now().UTC()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []remote.RemoteRecord{
			taskRecord("a", "Buy milk", "To-do"),
			taskRecord("b", "Write report", "Done"),
		}, false, "")
	})

	eng := newTestEngine(t, handler)
	ctx := context.Background()

	result, err := eng.RequestSync(ctx, model.EntityTasks)
	require.NoError(t, err)
	assert.Equal(t, model.Result{Synced: 2, Errors: 0}, result)

	a, err := eng.Store().Get(ctx, model.EntityTasks, "a")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", a.Fields.Title)
	assert.Equal(t, "to-do", a.Fields.NormalizedStatus)
	assert.Equal(t, model.StatusSynced, a.SyncStatus)

	b, err := eng.Store().Get(ctx, model.EntityTasks, "b")
	require.NoError(t, err)
	assert.Equal(t, "Write report", b.Fields.Title)
	assert.Equal(t, "done", b.Fields.NormalizedStatus)

	entry, err := eng.Store().GetSyncState(ctx, "tasks")
	require.NoError(t, err)
	require.NotNil(t, entry)
	ledgerTime, err := time.Parse(time.RFC3339, entry.Value)
	require.NoError(t, err)
	assert.False(t, ledgerTime.Before(start.Truncate(time.Second)))

	snap := snapshotFor(eng.Status(), model.EntityTasks)
	assert.Equal(t, model.JobCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 2, snap.Result.Synced)
}

func TestSingleInFlightInvariant(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { <-release })
		writePage(w, []remote.RemoteRecord{taskRecord("a", "Task", "To-do")}, false, "")
	})

	eng := newTestEngine(t, handler)

	resCh := make(chan error, 1)
	go func() {
		_, err := eng.RequestSync(context.Background(), model.EntityTasks)
		resCh <- err
	}()

	require.Eventually(t, func() bool {
		return eng.Status().Current == model.EntityTasks
	}, time.Second, 5*time.Millisecond)

	_, err := eng.RequestSync(context.Background(), model.EntityProjects)
	require.ErrorIs(t, err, ErrSyncInProgress)

	running := 0
	for _, s := range eng.Status().All {
		if s.Status == model.JobRunning || s.Status == model.JobQueued {
			running++
		}
	}
	assert.Equal(t, 1, running)

	close(release)
	require.NoError(t, <-resCh)

	// The slot frees up once the first run completes
	_, err = eng.RequestSync(context.Background(), model.EntityProjects)
	require.NoError(t, err)
}

func TestCancellationSemantics(t *testing.T) {
	reachedPage2 := make(chan struct{})
	cancelDone := make(chan struct{})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StartCursor string `json:"start_cursor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.StartCursor == "" {
			writePage(w, []remote.RemoteRecord{
				taskRecord("a", "First", "To-do"),
				taskRecord("b", "Second", "To-do"),
			}, true, "c1")
			return
		}

		close(reachedPage2)
		<-cancelDone
		writePage(w, []remote.RemoteRecord{
			taskRecord("c", "Third", "To-do"),
			taskRecord("d", "Fourth", "To-do"),
		}, false, "")
	})

	eng := newTestEngine(t, handler)
	ctx := context.Background()

	type outcome struct {
		result model.Result
		err    error
	}
	resCh := make(chan outcome, 1)
	go func() {
		r, err := eng.RequestSync(ctx, model.EntityTasks)
		resCh <- outcome{r, err}
	}()

	<-reachedPage2
	require.True(t, eng.RequestCancel(model.EntityTasks))
	close(cancelDone)

	out := <-resCh
	require.ErrorIs(t, out.err, ErrCancelled)
	assert.Equal(t, 2, out.result.Synced)

	// Page 1 records stay committed, page 2 was never applied
	count, err := eng.Store().Count(ctx, model.EntityTasks)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// A cancelled run never advances the ledger
	entry, err := eng.Store().GetSyncState(ctx, "tasks")
	require.NoError(t, err)
	assert.Nil(t, entry)

	snap := snapshotFor(eng.Status(), model.EntityTasks)
	assert.Equal(t, model.JobCancelled, snap.Status)
}

func TestConfigErrorFailsFast(t *testing.T) {
	requests := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		writePage(w, nil, false, "")
	})

	eng := newTestEngine(t, handler)
	eng.cfg.Collection = map[string]config.Collection{} // no collection ids

	_, err := eng.RequestSync(context.Background(), model.EntityTasks)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, model.EntityTasks, cfgErr.Type)
	assert.Equal(t, 0, requests, "no network call on configuration error")

	snap := snapshotFor(eng.Status(), model.EntityTasks)
	assert.Equal(t, model.JobError, snap.Status)
	assert.Contains(t, snap.Error, "not configured")
}

func TestFatalRemoteErrorSurfacesAsJobError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"collection gone"}`))
	})

	eng := newTestEngine(t, handler)

	_, err := eng.RequestSync(context.Background(), model.EntityTasks)
	require.Error(t, err)

	snap := snapshotFor(eng.Status(), model.EntityTasks)
	assert.Equal(t, model.JobError, snap.Status)
	assert.Contains(t, snap.Error, "404")

	// Admission works again after the failure
	assert.Equal(t, model.EntityType(""), eng.Status().Current)
}

func TestLocalOnlyRecordsSurviveSync(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []remote.RemoteRecord{taskRecord("a", "Remote task", "To-do")}, false, "")
	})

	eng := newTestEngine(t, handler)
	ctx := context.Background()

	local, err := eng.Store().CreateLocal(ctx, model.EntityTasks, model.Fields{Title: "Offline draft"})
	require.NoError(t, err)

	_, err = eng.RequestSync(ctx, model.EntityTasks)
	require.NoError(t, err)

	got, err := eng.Store().Get(ctx, model.EntityTasks, local.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "Offline draft", got.Fields.Title)
	assert.Equal(t, model.StatusLocalOnly, got.SyncStatus)
}

func TestSubscribePublishesTransitions(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []remote.RemoteRecord{taskRecord("a", "Task", "To-do")}, false, "")
	})

	eng := newTestEngine(t, handler)

	var mu sync.Mutex
	var statuses []model.JobStatus
	unsubscribe := eng.Subscribe(func(qs model.QueueStatus) {
		mu.Lock()
		statuses = append(statuses, snapshotFor(qs, model.EntityTasks).Status)
		mu.Unlock()
	})

	_, err := eng.RequestSync(context.Background(), model.EntityTasks)
	require.NoError(t, err)

	mu.Lock()
	seen := append([]model.JobStatus(nil), statuses...)
	mu.Unlock()

	assert.Contains(t, seen, model.JobQueued)
	assert.Contains(t, seen, model.JobRunning)
	assert.Equal(t, model.JobCompleted, seen[len(seen)-1])

	// Unsubscribe is idempotent and stops delivery
	unsubscribe()
	unsubscribe()

	mu.Lock()
	before := len(statuses)
	mu.Unlock()

	_, err = eng.RequestSync(context.Background(), model.EntityTasks)
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, before, len(statuses))
	mu.Unlock()
}

func TestDisplayHoldResetsToIdle(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writePage(w, []remote.RemoteRecord{taskRecord("a", "Task", "To-do")}, false, "")
	})

	eng := newTestEngine(t, handler)
	eng.DisplayHold = 20 * time.Millisecond

	_, err := eng.RequestSync(context.Background(), model.EntityTasks)
	require.NoError(t, err)

	assert.Equal(t, model.JobCompleted, snapshotFor(eng.Status(), model.EntityTasks).Status)

	require.Eventually(t, func() bool {
		return snapshotFor(eng.Status(), model.EntityTasks).Status == model.JobIdle
	}, time.Second, 5*time.Millisecond)
}

func TestSyncAllRunsEveryTypeSequentially(t *testing.T) {
	var mu sync.Mutex
	collections := []string{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		collections = append(collections, r.URL.Path)
		mu.Unlock()
		writePage(w, []remote.RemoteRecord{taskRecord("id-"+r.URL.Path, "Item", "Done")}, false, "")
	})

	eng := newTestEngine(t, handler)

	results, err := eng.SyncAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, typ := range model.AllEntityTypes {
		assert.Equal(t, 1, results[typ].Synced, "type %s", typ)

		entry, err := eng.Store().GetSyncState(context.Background(), string(typ))
		require.NoError(t, err)
		assert.NotNil(t, entry, "ledger entry for %s", typ)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/databases/col-tasks/query",
		"/databases/col-projects/query",
		"/databases/col-contacts/query",
		"/databases/col-time-logs/query",
	}, collections)
}

func TestStartSyncAdmissionIsSynchronous(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { <-release })
		writePage(w, []remote.RemoteRecord{taskRecord("a", "Task", "To-do")}, false, "")
	})

	eng := newTestEngine(t, handler)

	require.NoError(t, eng.StartSync(model.EntityTasks))

	// The global slot is claimed before StartSync returns, so a concurrent
	// start loses deterministically instead of racing the background run.
	require.ErrorIs(t, eng.StartSync(model.EntityProjects), ErrSyncInProgress)
	require.ErrorIs(t, eng.StartSyncAll(), ErrSyncInProgress)
	assert.Equal(t, model.EntityTasks, eng.Status().Current)

	close(release)
	require.Eventually(t, func() bool {
		return snapshotFor(eng.Status(), model.EntityTasks).Status == model.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	require.Error(t, eng.StartSync(model.EntityType("gadgets")))

	// The slot frees up once the background run completes
	require.NoError(t, eng.StartSync(model.EntityProjects))
	require.Eventually(t, func() bool {
		return snapshotFor(eng.Status(), model.EntityProjects).Status == model.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartSyncAllRunsSequenceInBackground(t *testing.T) {
	var mu sync.Mutex
	collections := []string{}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		collections = append(collections, r.URL.Path)
		mu.Unlock()
		writePage(w, []remote.RemoteRecord{taskRecord("id-"+r.URL.Path, "Item", "Done")}, false, "")
	})

	eng := newTestEngine(t, handler)

	require.NoError(t, eng.StartSyncAll())

	require.Eventually(t, func() bool {
		for _, typ := range model.AllEntityTypes {
			if snapshotFor(eng.Status(), typ).Status != model.JobCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"/databases/col-tasks/query",
		"/databases/col-projects/query",
		"/databases/col-contacts/query",
		"/databases/col-time-logs/query",
	}, collections)
}

func TestProgressDeliveryDoesNotStallFetch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			StartCursor string `json:"start_cursor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if body.StartCursor == "" {
			writePage(w, []remote.RemoteRecord{taskRecord("a", "First", "To-do")}, true, "c1")
			return
		}
		writePage(w, []remote.RemoteRecord{taskRecord("b", "Second", "To-do")}, false, "")
	})

	eng := newTestEngine(t, handler)

	release := make(chan struct{})
	defer close(release)
	eng.Subscribe(func(qs model.QueueStatus) {
		snap := snapshotFor(qs, model.EntityTasks)
		// Per-page progress snapshots carry a running result; stall on them.
		if snap.Status == model.JobRunning && snap.Result != nil {
			<-release
		}
	})

	done := make(chan model.Result, 1)
	go func() {
		r, err := eng.RequestSync(context.Background(), model.EntityTasks)
		assert.NoError(t, err)
		done <- r
	}()

	select {
	case r := <-done:
		assert.Equal(t, 2, r.Synced)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch loop stalled behind a slow status listener")
	}
}

func TestRequestCancelWithoutRunningJob(t *testing.T) {
	eng := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	assert.False(t, eng.RequestCancel(model.EntityTasks))
}

func TestUnknownEntityTypeRejected(t *testing.T) {
	eng := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_, err := eng.RequestSync(context.Background(), model.EntityType("gadgets"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}
