// Package monitor polls subscribed series for new content units and feeds
// them into the download queue.
package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/hibiki-app/hibiki-go/internal/config"
	"github.com/hibiki-app/hibiki-go/internal/models"
	"github.com/hibiki-app/hibiki-go/internal/publication"
	"github.com/hibiki-app/hibiki-go/internal/store"
	"github.com/hibiki-app/hibiki-go/internal/util"
)

// Enqueuer is how the monitor hands committed requests to the scheduler.
// The download orchestrator implements it.
type Enqueuer interface {
	AdoptPending() error
}

// Monitor periodically diffs each subscription against its provider and
// enqueues every unit above the subscription's watermark. The watermark only
// moves forward in the same transaction that records the new requests, so a
// crash between the two can never skip a unit.
type Monitor struct {
	cfg       *config.Config
	st        *store.Store
	orch      Enqueuer
	scheduler *gocron.Scheduler

	mu         sync.Mutex
	inProgress map[int64]bool
}

// New creates a monitor. orch may be nil, in which case committed requests
// wait for the next orchestrator startup scan.
func New(cfg *config.Config, st *store.Store, orch Enqueuer) *Monitor {
	return &Monitor{
		cfg:        cfg,
		st:         st,
		orch:       orch,
		inProgress: make(map[int64]bool),
	}
}

// Start schedules the recurring poll.
func (m *Monitor) Start() {
	interval := m.cfg.Monitor.PollInterval
	if interval <= 0 {
		log.Println("Monitor poll interval is 0, scheduled checks are disabled.")
		return
	}

	m.scheduler = gocron.NewScheduler(time.UTC)
	m.scheduler.SingletonModeAll()

	_, err := m.scheduler.Every(interval).
		StartAt(time.Now().Add(m.cfg.Monitor.StartupDelay)).
		Do(func() {
			m.CheckAll(context.Background())
		})
	if err != nil {
		log.Printf("Error scheduling subscription checks: %v", err)
		return
	}

	log.Printf("Series monitor checking every %s", interval)
	m.scheduler.StartAsync()
}

// Stop halts the scheduler. Checks already running finish on their own.
func (m *Monitor) Stop() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// CheckAll runs one poll pass over every subscription. A failing
// subscription is logged and skipped; it never aborts the pass.
func (m *Monitor) CheckAll(ctx context.Context) {
	log.Println("Running scheduled subscription check...")
	subs, err := m.st.GetAllSubscriptions("")
	if err != nil {
		log.Printf("Subscription check: failed to list subscriptions: %v", err)
		return
	}
	for _, sub := range subs {
		if err := m.CheckSubscription(ctx, sub.ID); err != nil {
			log.Printf("Subscription check for '%s' failed: %v", sub.SeriesTitle, err)
		}
	}
	log.Println("Finished scheduled subscription check.")
}

// CheckSubscription polls one subscription. Concurrent checks of the same
// subscription are collapsed: if one is already running, this call returns
// immediately without touching the provider.
func (m *Monitor) CheckSubscription(ctx context.Context, subID int64) error {
	m.mu.Lock()
	if m.inProgress[subID] {
		m.mu.Unlock()
		return nil
	}
	m.inProgress[subID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inProgress, subID)
		m.mu.Unlock()
	}()

	sub, err := m.st.GetSubscriptionByID(subID)
	if err != nil {
		return fmt.Errorf("failed to load subscription %d: %w", subID, err)
	}

	pub, err := publication.Open(sub.ProviderID, sub.SeriesIdentifier)
	if err != nil {
		return err
	}
	series, err := pub.SeriesInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch series '%s': %w", sub.SeriesTitle, err)
	}

	units := append([]models.ContentUnit(nil), series.Units...)
	sort.Slice(units, func(i, j int) bool {
		return units[i].Key().Less(units[j].Key())
	})

	known, err := m.st.UnitIdentifiersInQueue(sub.SeriesIdentifier, sub.ProviderID)
	if err != nil {
		return err
	}
	inQueue := make(map[string]bool, len(known))
	for _, id := range known {
		inQueue[id] = true
	}

	dir := m.destinationDir(sub)
	watermark := sub.Watermark
	highest := watermark
	var fresh []*models.DownloadRequest
	for _, unit := range units {
		// An empty watermark means the series was just subscribed; every
		// unit counts as new.
		if !watermark.IsZero() && !watermark.Less(unit.Key()) {
			continue
		}
		highest = unit.Key()
		if inQueue[unit.Identifier] {
			continue
		}
		fresh = append(fresh, &models.DownloadRequest{
			ID:          uuid.NewString(),
			ProviderID:  sub.ProviderID,
			SeriesID:    sub.SeriesIdentifier,
			SeriesTitle: sub.SeriesTitle,
			Unit:        unit,
			Dir:         dir,
			Status:      models.StatusPending,
			RequestedAt: time.Now(),
		})
	}

	if highest == watermark {
		return m.st.UpdateSubscriptionLastChecked(sub.ID)
	}

	err = m.st.WithTx(func(tx *sql.Tx) error {
		for _, req := range fresh {
			if err := m.st.AddRequestTx(tx, req); err != nil {
				return err
			}
		}
		return m.st.AdvanceWatermarkTx(tx, sub.ID, highest)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue new units for '%s': %w", sub.SeriesTitle, err)
	}

	if len(fresh) > 0 {
		log.Printf("Queued %d new unit(s) for '%s'", len(fresh), sub.SeriesTitle)
	}
	if m.orch != nil {
		if err := m.orch.AdoptPending(); err != nil {
			log.Printf("Failed to hand new requests to the orchestrator: %v", err)
		}
	}
	return nil
}

func (m *Monitor) destinationDir(sub *models.Subscription) string {
	if sub.FolderPath != nil && *sub.FolderPath != "" {
		return filepath.Join(m.cfg.Library.Path, util.SanitizeFolderPath(*sub.FolderPath))
	}
	return filepath.Join(m.cfg.Library.Path, util.SanitizeFilename(sub.SeriesTitle))
}
