package downloader

import (
	"archive/zip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibiki-app/hibiki-go/internal/config"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/events"
	"github.com/hibiki-app/hibiki-go/internal/models"
	"github.com/hibiki-app/hibiki-go/internal/store"
	"github.com/hibiki-app/hibiki-go/internal/testutil"
)

// testAdapter lets each test script resolution behavior.
type testAdapter struct {
	id      string
	resolve func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error)
}

func (a *testAdapter) Info() models.ProviderInfo {
	return models.ProviderInfo{ID: a.id, Name: a.id}
}

func (a *testAdapter) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	return nil, nil
}

func (a *testAdapter) ResolveSeries(ctx context.Context, seriesIdentifier string) (*models.Series, error) {
	return &models.Series{Identifier: seriesIdentifier, Title: "Test Series"}, nil
}

func (a *testAdapter) ResolveDownloadURLs(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
	return a.resolve(ctx, unit)
}

func newTestOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, *store.Store, *events.Bus) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	t.Cleanup(providers.UnregisterAll)
	return NewOrchestrator(cfg, st, bus, nil), st, bus
}

func newRequest(providerID, unitID string) *models.DownloadRequest {
	return &models.DownloadRequest{
		ProviderID:  providerID,
		SeriesID:    "series-1",
		SeriesTitle: "Test Series",
		Unit: models.ContentUnit{
			Identifier: unitID,
			Title:      "Chapter " + unitID,
			Number:     1,
		},
	}
}

func waitForStatus(t *testing.T, st *store.Store, id string, want models.DownloadStatus) *models.DownloadRequest {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		req, err := st.GetRequest(id)
		require.NoError(t, err)
		if req.Status == want {
			return req
		}
		time.Sleep(5 * time.Millisecond)
	}
	req, _ := st.GetRequest(id)
	t.Fatalf("request %s never reached status %q (currently %q: %s)", id, want, req.Status, req.Message)
	return nil
}

func drainEvents(ch <-chan events.Event) []events.Event {
	time.Sleep(100 * time.Millisecond)
	var got []events.Event
	for {
		select {
		case e := <-ch:
			got = append(got, e)
		default:
			return got
		}
	}
}

// pageServer serves fake page images. The fail flag makes every page request
// return a 500 until cleared.
func pageServer(t *testing.T, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pageURLs(base string, n int) models.DownloadURLs {
	var urls models.DownloadURLs
	for i := 1; i <= n; i++ {
		urls.Primary = append(urls.Primary, fmt.Sprintf("%s/page-%d.jpg", base, i))
	}
	return urls
}

func TestEnqueueCoalescesDuplicates(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, testutil.TestConfig(t))

	first, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)
	second, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "duplicate enqueue should return the existing request")

	queue, err := st.GetQueue()
	require.NoError(t, err)
	assert.Len(t, queue, 1)
}

func TestDownloadCompletes(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, bus := newTestOrchestrator(t, cfg)
	srv := pageServer(t, nil)

	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		return pageURLs(srv.URL, 3), nil
	}})

	sub := bus.SubscribeAll(16)
	require.NoError(t, o.Start())
	defer o.Stop()

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	final := waitForStatus(t, st, req.ID, models.StatusCompleted)
	assert.Equal(t, 100, final.Progress)

	cbz := filepath.Join(req.Dir, "Chapter unit-1.cbz")
	zr, err := zip.OpenReader(cbz)
	require.NoError(t, err, "expected archive at %s", cbz)
	assert.Len(t, zr.File, 3)
	zr.Close()
	_, err = os.Stat(cbz + ".partial")
	assert.True(t, os.IsNotExist(err), "partial file should be gone after completion")

	got := drainEvents(sub)
	require.Len(t, got, 2)
	assert.Equal(t, events.DownloadStarted, got[0].Kind)
	assert.Equal(t, events.DownloadFinished, got[1].Kind)
	assert.Equal(t, req.ID, got[0].RequestID)
}

func TestNotFoundFailsWithoutRetry(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, bus := newTestOrchestrator(t, cfg)

	var calls atomic.Int32
	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		calls.Add(1)
		return models.DownloadURLs{}, fmt.Errorf("chapter gone: %w", providers.ErrNotFound)
	}})

	sub := bus.SubscribeAll(16)
	require.NoError(t, o.Start())
	defer o.Stop()

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	final := waitForStatus(t, st, req.ID, models.StatusFailed)
	assert.Equal(t, int32(1), calls.Load(), "missing content must not be retried")
	assert.Equal(t, 0, final.Attempts)

	got := drainEvents(sub)
	require.Len(t, got, 2)
	assert.Equal(t, events.DownloadStarted, got[0].Kind)
	assert.Equal(t, events.DownloadFailed, got[1].Kind)
}

func TestTransientFailureRetriesThenFails(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Download.MaxRetries = 2
	o, st, bus := newTestOrchestrator(t, cfg)

	var calls atomic.Int32
	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		calls.Add(1)
		return models.DownloadURLs{}, fmt.Errorf("rate limited: %w", providers.ErrUnavailable)
	}})

	sub := bus.SubscribeAll(16)
	require.NoError(t, o.Start())
	defer o.Stop()

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	final := waitForStatus(t, st, req.ID, models.StatusFailed)
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
	assert.Equal(t, 3, final.Attempts)

	got := drainEvents(sub)
	var failed int
	for _, e := range got {
		if e.Kind == events.DownloadFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed, "only the terminal failure publishes an event")
}

func TestPerProviderConcurrencyBound(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Download.PerProviderLimit = 2
	cfg.Download.GlobalLimit = 10
	o, st, _ := newTestOrchestrator(t, cfg)
	srv := pageServer(t, nil)

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
			return models.DownloadURLs{}, ctx.Err()
		}
		return pageURLs(srv.URL, 1), nil
	}})

	require.NoError(t, o.Start())
	defer o.Stop()

	var ids []string
	for i := 0; i < 5; i++ {
		req, err := o.Enqueue(newRequest("prov", fmt.Sprintf("unit-%d", i)))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	// Give the scheduler time to admit everything it is willing to.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(2), inFlight.Load(), "only two downloads per provider may execute")

	close(release)
	for _, id := range ids {
		waitForStatus(t, st, id, models.StatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGlobalConcurrencyBound(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Download.PerProviderLimit = 2
	cfg.Download.GlobalLimit = 3
	o, st, _ := newTestOrchestrator(t, cfg)
	srv := pageServer(t, nil)

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	resolve := func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
			return models.DownloadURLs{}, ctx.Err()
		}
		return pageURLs(srv.URL, 1), nil
	}
	providers.Register(&testAdapter{id: "prov-a", resolve: resolve})
	providers.Register(&testAdapter{id: "prov-b", resolve: resolve})
	providers.Register(&testAdapter{id: "prov-c", resolve: resolve})

	require.NoError(t, o.Start())
	defer o.Stop()

	var ids []string
	for i, prov := range []string{"prov-a", "prov-a", "prov-b", "prov-b", "prov-c", "prov-c"} {
		req, err := o.Enqueue(newRequest(prov, fmt.Sprintf("unit-%d", i)))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(3), inFlight.Load(), "global bound caps total concurrency")

	close(release)
	for _, id := range ids {
		waitForStatus(t, st, id, models.StatusCompleted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestCancelExecutingDeletesPartialOutput(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, bus := newTestOrchestrator(t, cfg)

	// First page succeeds, second blocks until the request is cancelled.
	var served atomic.Int32
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			w.Write([]byte("image-bytes"))
			return
		}
		close(blocked)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		return pageURLs(srv.URL, 2), nil
	}})

	sub := bus.SubscribeAll(16)
	require.NoError(t, o.Start())
	defer o.Stop()

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	<-blocked
	require.NoError(t, o.Cancel(req.ID))
	waitForStatus(t, st, req.ID, models.StatusCancelled)

	entries, err := os.ReadDir(req.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial output should be deleted on cancel")

	got := drainEvents(sub)
	require.Len(t, got, 1, "cancellation publishes no lifecycle event")
	assert.Equal(t, events.DownloadStarted, got[0].Kind)
}

func TestCancelKeepsPartialOutputWhenConfigured(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Download.DeleteOnCancel = false
	o, st, _ := newTestOrchestrator(t, cfg)

	var served atomic.Int32
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			w.Write([]byte("image-bytes"))
			return
		}
		close(blocked)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		return pageURLs(srv.URL, 2), nil
	}})

	require.NoError(t, o.Start())
	defer o.Stop()

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	<-blocked
	require.NoError(t, o.Cancel(req.ID))
	waitForStatus(t, st, req.ID, models.StatusCancelled)

	_, err = os.Stat(filepath.Join(req.Dir, "Chapter unit-1.cbz.partial"))
	assert.NoError(t, err, "partial file should survive cancel when deletion is disabled")
}

func TestCancelPendingPublishesNothing(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, bus := newTestOrchestrator(t, cfg)

	sub := bus.SubscribeAll(16)

	// Scheduler not started, so the request stays pending.
	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)
	require.NoError(t, o.Cancel(req.ID))

	stored, err := st.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Empty(t, drainEvents(sub))

	// A fresh enqueue of the same unit is no longer coalesced away.
	again, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID)
}

func TestRequeueReusesFreshURLs(t *testing.T) {
	cfg := testutil.TestConfig(t)
	cfg.Download.MaxRetries = 1
	o, st, _ := newTestOrchestrator(t, cfg)

	var fail atomic.Bool
	fail.Store(true)
	srv := pageServer(t, &fail)

	var resolves atomic.Int32
	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		resolves.Add(1)
		return pageURLs(srv.URL, 2), nil
	}})

	require.NoError(t, o.Start())
	defer o.Stop()

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)
	waitForStatus(t, st, req.ID, models.StatusFailed)
	assert.Equal(t, int32(1), resolves.Load(), "retries reuse URLs resolved moments ago")

	fail.Store(false)
	require.NoError(t, o.Requeue(req.ID))
	waitForStatus(t, st, req.ID, models.StatusCompleted)
	assert.Equal(t, int32(1), resolves.Load(), "requeue within the freshness window skips resolution")
}

func TestPauseAndRequeue(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, _ := newTestOrchestrator(t, cfg)

	// No scheduler; exercise the state transitions directly.
	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	require.NoError(t, o.Pause(req.ID))
	stored, err := st.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaused, stored.Status)

	// A paused request still owns its content ref.
	dup, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)
	assert.Equal(t, req.ID, dup.ID)

	require.NoError(t, o.Requeue(req.ID))
	stored, err = st.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	assert.Error(t, o.Pause("no-such-id"))
	assert.Error(t, o.Cancel("no-such-id"))
}

func TestStartRecoversInterruptedRequests(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, _ := newTestOrchestrator(t, cfg)
	srv := pageServer(t, nil)

	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		return pageURLs(srv.URL, 1), nil
	}})

	// Simulate a request left mid-transfer by a crash.
	stale := newRequest("prov", "unit-1")
	stale.ID = "stale-request"
	stale.RequestedAt = time.Now()
	stale.Dir = filepath.Join(cfg.Library.Path, "Test Series")
	stale.Status = models.StatusPending
	require.NoError(t, st.AddRequest(stale))
	require.NoError(t, st.UpdateRequestStatus(stale.ID, models.StatusTransferring, "interrupted"))

	require.NoError(t, o.Start())
	defer o.Stop()

	waitForStatus(t, st, stale.ID, models.StatusCompleted)
}

func TestStopLeavesExecutingRequestRecoverable(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, bus := newTestOrchestrator(t, cfg)

	// The first page fetch blocks until the orchestrator shuts down; any
	// later fetch succeeds so a restart can finish the download.
	var served atomic.Int32
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served.Add(1) == 1 {
			close(blocked)
			<-r.Context().Done()
			return
		}
		w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(srv.Close)

	providers.Register(&testAdapter{id: "prov", resolve: func(ctx context.Context, unit models.ContentUnit) (models.DownloadURLs, error) {
		return pageURLs(srv.URL, 1), nil
	}})

	require.NoError(t, o.Start())
	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	<-blocked
	o.Stop()

	stored, err := st.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTransferring, stored.Status,
		"shutdown must not settle an interrupted request")

	// A fresh orchestrator over the same store picks it back up.
	o2 := NewOrchestrator(cfg, st, bus, nil)
	require.NoError(t, o2.Start())
	defer o2.Stop()
	waitForStatus(t, st, req.ID, models.StatusCompleted)
}

func TestCancelRacingCompletionStaysCancelled(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, st, bus := newTestOrchestrator(t, cfg)
	sub := bus.SubscribeAll(16)

	// No scheduler; drive the terminal transition directly with a cancel
	// already recorded, as when Cancel lands between the last page and the
	// completion bookkeeping.
	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	o.mu.Lock()
	h := o.byID[req.ID]
	h.cancelled = true
	o.mu.Unlock()

	o.finishCompleted(h)

	stored, err := st.GetRequest(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Empty(t, drainEvents(sub), "a cancelled request never reports completion")
}

func TestGetByContentRef(t *testing.T) {
	cfg := testutil.TestConfig(t)
	o, _, _ := newTestOrchestrator(t, cfg)

	req, err := o.Enqueue(newRequest("prov", "unit-1"))
	require.NoError(t, err)

	got, err := o.GetByContentRef("prov", "unit-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	_, err = o.GetByContentRef("prov", "missing")
	assert.Error(t, err)
}
