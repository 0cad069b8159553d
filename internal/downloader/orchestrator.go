// Package downloader runs the download queue: it admits requests, schedules
// them under per-provider and global concurrency bounds, resolves page URLs
// through the provider adapters and transfers the pages to the library.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hibiki-app/hibiki-go/internal/config"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/events"
	"github.com/hibiki-app/hibiki-go/internal/models"
	"github.com/hibiki-app/hibiki-go/internal/publication"
	"github.com/hibiki-app/hibiki-go/internal/store"
	"github.com/hibiki-app/hibiki-go/internal/util"
	"github.com/hibiki-app/hibiki-go/internal/websocket"
)

// handle is the in-memory view of one download request. Resolved URLs stick
// to the handle so a retry or requeue within the freshness window skips
// re-resolution.
type handle struct {
	req *models.DownloadRequest

	cancel     context.CancelFunc // non-nil while the request is executing
	cancelled  bool               // set by Cancel under o.mu; shutdown leaves it false
	urls       models.DownloadURLs
	resolvedAt time.Time
}

// Orchestrator owns the download queue. At most one non-terminal request
// exists per provider/unit pair; Enqueue coalesces duplicates onto the
// existing request.
type Orchestrator struct {
	cfg    *config.Config
	st     *store.Store
	bus    *events.Bus
	hub    *websocket.Hub
	client *http.Client

	global *semaphore.Weighted

	mu      sync.Mutex
	waiting []*handle          // admission order, FIFO
	active  map[string]*handle // content ref -> non-terminal handle
	byID    map[string]*handle // request id -> handle, terminal ones included
	running map[string]int     // provider id -> executing count
	paused  bool

	rootCtx context.Context
	stop    context.CancelFunc
	wake    chan struct{}
	wg      sync.WaitGroup
}

// NewOrchestrator wires an orchestrator to its collaborators. Call Start to
// begin scheduling.
func NewOrchestrator(cfg *config.Config, st *store.Store, bus *events.Bus, hub *websocket.Hub) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		st:      st,
		bus:     bus,
		hub:     hub,
		client:  &http.Client{Timeout: cfg.Download.CallTimeout},
		global:  semaphore.NewWeighted(int64(cfg.Download.GlobalLimit)),
		active:  make(map[string]*handle),
		byID:    make(map[string]*handle),
		running: make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
}

// Start recovers requests interrupted by a previous shutdown and launches
// the scheduler.
func (o *Orchestrator) Start() error {
	if err := o.st.ResetInFlightRequests(); err != nil {
		return fmt.Errorf("failed to reset in-flight downloads: %w", err)
	}
	pending, err := o.st.GetPendingRequests()
	if err != nil {
		return fmt.Errorf("failed to load pending downloads: %w", err)
	}

	o.mu.Lock()
	for _, req := range pending {
		h := &handle{req: req}
		o.active[req.ContentRef()] = h
		o.byID[req.ID] = h
		o.waiting = append(o.waiting, h)
	}
	o.rootCtx, o.stop = context.WithCancel(context.Background())
	o.mu.Unlock()

	o.wg.Add(1)
	go o.schedule()
	o.kick()
	log.Printf("Download orchestrator started with %d pending request(s)", len(pending))
	return nil
}

// Stop cancels executing downloads and waits for them to wind down. The
// interrupted rows keep their in-flight status, so the next Start resets
// and requeues them; only an explicit Cancel settles a request as cancelled.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stop != nil {
		o.stop()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// kick nudges the scheduler without blocking the caller.
func (o *Orchestrator) kick() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) schedule() {
	defer o.wg.Done()
	for {
		select {
		case <-o.rootCtx.Done():
			return
		case <-o.wake:
		}
		o.dispatch()
	}
}

// dispatch moves waiting requests into execution while capacity remains.
// A request whose provider is at its limit stays queued without blocking
// requests for other providers behind it.
func (o *Orchestrator) dispatch() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.paused {
		return
	}

	var still []*handle
	for i, h := range o.waiting {
		if o.running[h.req.ProviderID] >= o.cfg.Download.PerProviderLimit {
			still = append(still, h)
			continue
		}
		if !o.global.TryAcquire(1) {
			still = append(still, o.waiting[i:]...)
			break
		}

		o.running[h.req.ProviderID]++
		ctx, cancel := context.WithCancel(o.rootCtx)
		h.cancel = cancel
		o.wg.Add(1)
		go o.run(ctx, h)
	}
	o.waiting = still
}

// run executes one download request from resolution to completion. Lifecycle
// events are published exactly once per transition: Started when execution
// begins, then either Finished or Failed. Cancellation publishes nothing.
func (o *Orchestrator) run(ctx context.Context, h *handle) {
	providerID := h.req.ProviderID
	defer func() {
		o.global.Release(1)
		o.mu.Lock()
		o.running[providerID]--
		h.cancel = nil
		o.mu.Unlock()
		o.kick()
		o.wg.Done()
	}()

	o.setStatus(h, models.StatusResolving, "Resolving download URLs")
	o.publish(events.DownloadStarted, h, "")

	for {
		if err := o.ensureResolved(ctx, h); err != nil {
			if !o.handleFailure(ctx, h, err) {
				return
			}
			continue
		}

		o.setStatus(h, models.StatusTransferring, "Downloading pages")
		err := o.transfer(ctx, h)
		if err == nil {
			o.finishCompleted(h)
			return
		}
		if !o.handleFailure(ctx, h, err) {
			return
		}
	}
}

// ensureResolved fills in page URLs, reusing ones resolved within the
// freshness window.
func (o *Orchestrator) ensureResolved(ctx context.Context, h *handle) error {
	o.mu.Lock()
	fresh := len(h.urls.Primary) > 0 && time.Since(h.resolvedAt) < o.cfg.Download.URLFreshness
	req := *h.req
	o.mu.Unlock()
	if fresh {
		return nil
	}

	pub, err := publication.Open(req.ProviderID, req.SeriesID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, providers.ErrNotFound)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Download.CallTimeout)
	defer cancel()
	urls, err := pub.UnitURLs(callCtx, req.Unit)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("resolution timed out: %w", providers.ErrUnavailable)
		}
		return err
	}
	if len(urls.Primary) == 0 {
		return fmt.Errorf("no pages resolved for unit %s: %w", req.Unit.Identifier, providers.ErrNotFound)
	}

	o.mu.Lock()
	h.urls = urls
	h.resolvedAt = time.Now()
	o.mu.Unlock()
	return nil
}

// handleFailure classifies an execution error. It returns true when the
// request should be retried, after recording the attempt and backing off.
func (o *Orchestrator) handleFailure(ctx context.Context, h *handle, err error) bool {
	if ctx.Err() != nil {
		o.windDown(h)
		return false
	}
	if providers.NotFound(err) || errors.Is(err, ErrDestinationUnwritable) {
		o.finishFailed(h, err.Error())
		return false
	}

	o.mu.Lock()
	h.req.Attempts++
	attempts := h.req.Attempts
	id := h.req.ID
	o.mu.Unlock()
	if dbErr := o.st.UpdateRequestAttempts(id, attempts); dbErr != nil {
		log.Printf("failed to record attempt count for request %s: %v", id, dbErr)
	}

	if attempts > o.cfg.Download.MaxRetries {
		o.finishFailed(h, fmt.Sprintf("giving up after %d attempts: %v", attempts, err))
		return false
	}

	o.setStatus(h, models.StatusResolving, fmt.Sprintf("Attempt %d failed, retrying: %v", attempts, err))
	select {
	case <-ctx.Done():
		o.windDown(h)
		return false
	case <-time.After(o.cfg.Download.RetryBackoff):
	}
	return true
}

// windDown ends execution after the request's context was cancelled. An
// explicit Cancel settles the request as cancelled; a shutdown leaves the
// row in its in-flight status so the next Start recovers it.
func (o *Orchestrator) windDown(h *handle) {
	o.mu.Lock()
	cancelled := h.cancelled
	o.mu.Unlock()
	if cancelled {
		o.finishCancelled(h)
	}
}

func (o *Orchestrator) finishCompleted(h *handle) {
	o.mu.Lock()
	// A cancel that raced the last page wins over completion.
	if h.cancelled {
		o.mu.Unlock()
		o.finishCancelled(h)
		return
	}
	h.req.Status = models.StatusCompleted
	h.req.Progress = 100
	h.req.Message = "Download complete"
	req := *h.req
	delete(o.active, req.ContentRef())
	o.mu.Unlock()

	if err := o.st.UpdateRequestStatus(req.ID, models.StatusCompleted, req.Message); err != nil {
		log.Printf("failed to mark request %s completed: %v", req.ID, err)
	}
	if err := o.st.UpdateRequestProgress(req.ID, 100); err != nil {
		log.Printf("failed to record progress for request %s: %v", req.ID, err)
	}
	o.broadcast(req, true)
	o.publish(events.DownloadFinished, h, "")
}

func (o *Orchestrator) finishFailed(h *handle, msg string) {
	o.mu.Lock()
	h.req.Status = models.StatusFailed
	h.req.Message = msg
	req := *h.req
	delete(o.active, req.ContentRef())
	o.mu.Unlock()

	if err := o.st.UpdateRequestStatus(req.ID, models.StatusFailed, msg); err != nil {
		log.Printf("failed to mark request %s failed: %v", req.ID, err)
	}
	o.broadcast(req, true)
	o.publish(events.DownloadFailed, h, msg)
}

// finishCancelled ends a request without a lifecycle event. Cancellation is
// user-initiated, so connections are not notified.
func (o *Orchestrator) finishCancelled(h *handle) {
	o.mu.Lock()
	h.req.Status = models.StatusCancelled
	h.req.Message = "Cancelled"
	req := *h.req
	delete(o.active, req.ContentRef())
	o.mu.Unlock()

	if err := o.st.UpdateRequestStatus(req.ID, models.StatusCancelled, req.Message); err != nil {
		log.Printf("failed to mark request %s cancelled: %v", req.ID, err)
	}
	o.broadcast(req, true)
}

// Enqueue admits a request. If a non-terminal request already covers the
// same provider/unit pair, that request is returned instead of creating a
// duplicate. Enqueue never blocks on scheduling.
func (o *Orchestrator) Enqueue(req *models.DownloadRequest) (*models.DownloadRequest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.active[req.ContentRef()]; ok {
		snapshot := *existing.req
		return &snapshot, nil
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	if req.Dir == "" {
		req.Dir = filepath.Join(o.cfg.Library.Path, util.SanitizeFilename(req.SeriesTitle))
	}
	req.Status = models.StatusPending
	req.Progress = 0
	req.Attempts = 0

	if err := o.st.AddRequest(req); err != nil {
		return nil, fmt.Errorf("failed to persist download request: %w", err)
	}

	h := &handle{req: req}
	o.active[req.ContentRef()] = h
	o.byID[req.ID] = h
	o.waiting = append(o.waiting, h)
	o.kick()

	snapshot := *req
	return &snapshot, nil
}

// AdoptPending picks up pending requests persisted outside Enqueue, such as
// rows the series monitor committed together with a watermark advance.
func (o *Orchestrator) AdoptPending() error {
	pending, err := o.st.GetPendingRequests()
	if err != nil {
		return err
	}

	o.mu.Lock()
	for _, req := range pending {
		if _, ok := o.byID[req.ID]; ok {
			continue
		}
		if _, ok := o.active[req.ContentRef()]; ok {
			continue
		}
		h := &handle{req: req}
		o.active[req.ContentRef()] = h
		o.byID[req.ID] = h
		o.waiting = append(o.waiting, h)
	}
	o.mu.Unlock()
	o.kick()
	return nil
}

// Cancel stops a request. A request that has not started is dropped from the
// queue directly; an executing one has its context cancelled and winds down
// on its own, deleting partial output when so configured.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	h, ok := o.byID[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("download request %s not found", id)
	}
	if h.req.Status.Terminal() {
		o.mu.Unlock()
		return fmt.Errorf("download request %s already finished", id)
	}
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
		o.mu.Unlock()
		return nil
	}

	// Not executing yet; take it out of the waiting set ourselves.
	o.removeWaiting(h)
	o.mu.Unlock()
	o.finishCancelled(h)
	return nil
}

// Pause takes a pending request out of scheduling until it is requeued.
func (o *Orchestrator) Pause(id string) error {
	o.mu.Lock()
	h, ok := o.byID[id]
	if !ok || h.req.Status != models.StatusPending || h.cancel != nil {
		o.mu.Unlock()
		return fmt.Errorf("download request %s is not pending", id)
	}
	o.removeWaiting(h)
	h.req.Status = models.StatusPaused
	h.req.Message = "Paused"
	req := *h.req
	o.mu.Unlock()

	if err := o.st.UpdateRequestStatus(req.ID, models.StatusPaused, req.Message); err != nil {
		return err
	}
	o.broadcast(req, false)
	return nil
}

// Requeue moves a paused, failed or cancelled request back into scheduling.
// URLs resolved for a previous attempt are kept and reused while fresh.
func (o *Orchestrator) Requeue(id string) error {
	if err := o.st.RequeueRequest(id); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	h, ok := o.byID[id]
	if !ok {
		req, err := o.st.GetRequest(id)
		if err != nil {
			return fmt.Errorf("failed to reload download request %s: %w", id, err)
		}
		h = &handle{req: req}
		o.byID[id] = h
	}
	h.req.Status = models.StatusPending
	h.req.Progress = 0
	h.req.Attempts = 0
	h.req.Message = ""
	h.cancelled = false
	o.active[h.req.ContentRef()] = h
	o.waiting = append(o.waiting, h)
	o.kick()
	return nil
}

// PauseAll holds back scheduling of new work. Executing downloads finish.
func (o *Orchestrator) PauseAll() {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()
}

// ResumeAll lifts a PauseAll hold.
func (o *Orchestrator) ResumeAll() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
	o.kick()
}

// GetByContentRef returns the current request for a provider/unit pair,
// preferring live in-memory state over the persisted record.
func (o *Orchestrator) GetByContentRef(providerID, unitID string) (*models.DownloadRequest, error) {
	o.mu.Lock()
	if h, ok := o.active[providerID+"/"+unitID]; ok {
		snapshot := *h.req
		o.mu.Unlock()
		return &snapshot, nil
	}
	o.mu.Unlock()
	return o.st.GetRequestByRef(providerID, unitID)
}

// removeWaiting drops h from the waiting slice. Caller holds o.mu.
func (o *Orchestrator) removeWaiting(h *handle) {
	for i, w := range o.waiting {
		if w == h {
			o.waiting = append(o.waiting[:i], o.waiting[i+1:]...)
			return
		}
	}
}

func (o *Orchestrator) setStatus(h *handle, status models.DownloadStatus, msg string) {
	o.mu.Lock()
	h.req.Status = status
	h.req.Message = msg
	req := *h.req
	o.mu.Unlock()

	if err := o.st.UpdateRequestStatus(req.ID, status, msg); err != nil {
		log.Printf("failed to update status for request %s: %v", req.ID, err)
	}
	o.broadcast(req, false)
}

func (o *Orchestrator) progress(h *handle, pct int, msg string) {
	o.mu.Lock()
	h.req.Progress = pct
	if msg != "" {
		h.req.Message = msg
	}
	req := *h.req
	o.mu.Unlock()

	if err := o.st.UpdateRequestProgress(req.ID, pct); err != nil {
		log.Printf("failed to update progress for request %s: %v", req.ID, err)
	}
	o.broadcast(req, false)
}

func (o *Orchestrator) broadcast(req models.DownloadRequest, done bool) {
	if o.hub == nil {
		return
	}
	o.hub.BroadcastJSON(models.ProgressUpdate{
		RequestID: req.ID,
		Message:   req.Message,
		Progress:  float64(req.Progress),
		Status:    string(req.Status),
		Done:      done,
	})
}

func (o *Orchestrator) publish(kind string, h *handle, msg string) {
	o.mu.Lock()
	req := *h.req
	o.mu.Unlock()
	o.bus.Publish(events.Event{
		Kind:        kind,
		RequestID:   req.ID,
		ProviderID:  req.ProviderID,
		SeriesTitle: req.SeriesTitle,
		UnitTitle:   req.Unit.Title,
		Message:     msg,
		OccurredAt:  time.Now(),
	})
}
