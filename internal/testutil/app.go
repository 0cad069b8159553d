// Shared fixtures for package tests: a migrated in-memory database, a test
// configuration with fast timings, and a fully wired core.App.
package testutil

import (
	"testing"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/config"
	"github.com/hibiki-app/hibiki-go/internal/core"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers/mocksource"
	"github.com/hibiki-app/hibiki-go/internal/events"
	"github.com/hibiki-app/hibiki-go/internal/websocket"
)

// TestConfig returns a configuration tuned for tests: a throwaway library
// directory and timings short enough that retries and polls happen within a
// test's lifetime.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Library.Path = t.TempDir()
	cfg.Download.GlobalLimit = 4
	cfg.Download.PerProviderLimit = 2
	cfg.Download.MaxRetries = 2
	cfg.Download.RetryBackoff = 10 * time.Millisecond
	cfg.Download.URLFreshness = time.Minute
	cfg.Download.PageDelay = 0
	cfg.Download.CallTimeout = 5 * time.Second
	cfg.Download.DeleteOnCancel = true
	cfg.Monitor.PollInterval = time.Hour
	cfg.Monitor.StartupDelay = 0
	cfg.Notify.RetryLimit = 2
	cfg.Notify.Timeout = time.Second
	return cfg
}

// SetupTestApp assembles a core.App over an in-memory database, with the
// mock provider registered. Providers are unregistered on cleanup so tests
// do not leak registrations into each other.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()

	database := SetupTestDB(t)
	hub := websocket.NewHub()
	go hub.Run()

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	t.Cleanup(providers.UnregisterAll)
	providers.Register(mocksource.New())

	return core.NewWith(TestConfig(t), database, bus, hub)
}
