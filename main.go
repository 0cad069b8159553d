package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiki-app/hibiki-go/internal/api"
	"github.com/hibiki-app/hibiki-go/internal/core"
	"github.com/hibiki-app/hibiki-go/internal/downloader"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers/madara"
	"github.com/hibiki-app/hibiki-go/internal/downloader/providers/mangadex"
	"github.com/hibiki-app/hibiki-go/internal/monitor"
	"github.com/hibiki-app/hibiki-go/internal/notify"
	"github.com/hibiki-app/hibiki-go/internal/store"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	// Register all available provider adapters here.
	providers.Register(mangadex.New())
	providers.Register(madara.New("toonily", "Toonily", "https://toonily.com"))

	st := store.New(app.DB())

	// Start the download orchestrator. It re-queues work interrupted by the
	// previous shutdown before accepting new requests.
	orch := downloader.NewOrchestrator(app.Config(), st, app.Bus(), app.Hub())
	if err := orch.Start(); err != nil {
		log.Fatalf("Could not start download orchestrator: %v", err)
	}

	// Start the series monitor and the notification dispatcher.
	mon := monitor.New(app.Config(), st, orch)
	mon.Start()

	dispatcher := notify.NewDispatcher(app.Config(), st, app.Bus())
	dispatcher.Start()

	// Setup the API server
	server := api.NewServer(app, orch, mon)
	addr := fmt.Sprintf(":%d", app.Config().Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	// Start the server in a goroutine so it doesn't block.
	go func() {
		log.Printf("Starting web server on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %v", err)
		}
	}()

	// Wait for an interrupt signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	// Stop taking new work, then give in-flight requests a moment to settle.
	mon.Stop()
	orch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}
