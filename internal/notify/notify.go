// Package notify delivers download lifecycle events to configured external
// connections over HTTP webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/config"
	"github.com/hibiki-app/hibiki-go/internal/events"
	"github.com/hibiki-app/hibiki-go/internal/models"
	"github.com/hibiki-app/hibiki-go/internal/store"
)

// Dispatcher fans lifecycle events out to every connection that follows the
// event's kind. Deliveries are independent: one endpoint failing or hanging
// never blocks the others, and a failed delivery is retried a bounded number
// of times before being dropped with a log line.
type Dispatcher struct {
	cfg    *config.Config
	st     *store.Store
	bus    *events.Bus
	client *http.Client
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher reading from the given bus.
func NewDispatcher(cfg *config.Config, st *store.Store, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		st:     st,
		bus:    bus,
		client: &http.Client{Timeout: cfg.Notify.Timeout},
	}
}

// Start begins consuming events. The loop ends when the bus is closed.
func (d *Dispatcher) Start() {
	ch := d.bus.SubscribeAll(64)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range ch {
			d.Dispatch(e)
		}
	}()
}

// Stop waits for in-flight deliveries after the bus has been closed.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
}

// Dispatch delivers one event to every connection following its kind. Each
// connection gets its own goroutine, so a slow or hanging endpoint never
// holds up delivery to the rest; Stop waits for all of them.
func (d *Dispatcher) Dispatch(e events.Event) {
	conns, err := d.st.GetConnections()
	if err != nil {
		log.Printf("notify: failed to list connections: %v", err)
		return
	}
	for _, conn := range conns {
		if !conn.Follows(e.Kind) {
			continue
		}
		d.wg.Add(1)
		go func(conn *models.Connection) {
			defer d.wg.Done()
			if err := d.deliver(conn, e); err != nil {
				log.Printf("notify: delivery of %s to '%s' failed: %v", e.Kind, conn.Name, err)
			}
		}(conn)
	}
}

// deliver posts the event to one connection, retrying transient failures.
func (d *Dispatcher) deliver(conn *models.Connection, e events.Event) error {
	payload, err := buildPayload(conn, e)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.Notify.RetryLimit; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		if lastErr = d.post(conn.URL, payload); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Dispatcher) post(url string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Notify.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// buildPayload shapes the event for the connection type. Chat endpoints get
// a human-readable message; library endpoints get the raw event so they can
// decide whether to rescan.
func buildPayload(conn *models.Connection, e events.Event) ([]byte, error) {
	switch conn.Type {
	case models.ConnectionChat:
		return json.Marshal(map[string]string{
			"text": chatText(e),
		})
	case models.ConnectionLibrary:
		return json.Marshal(e)
	default:
		return nil, fmt.Errorf("unknown connection type %q", conn.Type)
	}
}

func chatText(e events.Event) string {
	switch e.Kind {
	case events.DownloadStarted:
		return fmt.Sprintf("Download started: %s - %s", e.SeriesTitle, e.UnitTitle)
	case events.DownloadFinished:
		return fmt.Sprintf("Download finished: %s - %s", e.SeriesTitle, e.UnitTitle)
	case events.DownloadFailed:
		return fmt.Sprintf("Download failed: %s - %s (%s)", e.SeriesTitle, e.UnitTitle, e.Message)
	}
	return fmt.Sprintf("%s: %s - %s", e.Kind, e.SeriesTitle, e.UnitTitle)
}
