// The API server: route setup with chi, linking endpoints to handlers.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hibiki-app/hibiki-go/internal/core"
	"github.com/hibiki-app/hibiki-go/internal/downloader"
	"github.com/hibiki-app/hibiki-go/internal/monitor"
	"github.com/hibiki-app/hibiki-go/internal/store"
	"github.com/hibiki-app/hibiki-go/internal/websocket"
)

// Server holds the dependencies for the API handlers.
type Server struct {
	app   *core.App
	store *store.Store
	orch  *downloader.Orchestrator
	mon   *monitor.Monitor
}

// NewServer creates a new Server instance.
func NewServer(app *core.App, orch *downloader.Orchestrator, mon *monitor.Monitor) *Server {
	return &Server{
		app:   app,
		store: store.New(app.DB()),
		orch:  orch,
		mon:   mon,
	}
}

// Store returns the store instance.
func (s *Server) Store() *store.Store {
	return s.store
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		// Provider browsing
		r.Get("/providers", s.handleListProviders)
		r.Get("/providers/{providerID}/search", s.handleProviderSearch)
		r.Get("/providers/{providerID}/series/{seriesID}", s.handleGetSeries)

		// Download queue
		r.Get("/downloads", s.handleGetQueue)
		r.Post("/downloads", s.handleEnqueueUnits)
		r.Get("/downloads/lookup", s.handleLookupDownload)
		r.Post("/downloads/action", s.handleQueueAction)
		r.Post("/downloads/{requestID}/cancel", s.handleCancelDownload)
		r.Post("/downloads/{requestID}/pause", s.handlePauseDownload)
		r.Post("/downloads/{requestID}/requeue", s.handleRequeueDownload)

		// Subscriptions
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleSubscribeToSeries)
		r.Delete("/subscriptions/{subID}", s.handleDeleteSubscription)
		r.Post("/subscriptions/{subID}/folder", s.handleUpdateSubscriptionFolder)
		r.Post("/subscriptions/{subID}/check", s.handleCheckSubscription)

		// External connections
		r.Get("/connections", s.handleListConnections)
		r.Post("/connections", s.handleAddConnection)
		r.Put("/connections/{connID}", s.handleUpdateConnection)
		r.Delete("/connections/{connID}", s.handleDeleteConnection)
		r.Get("/events/kinds", s.handleListEventKinds)
	})

	// Live progress stream for the UI.
	r.Get("/ws/progress", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWs(s.app.Hub(), w, r)
	})

	return r
}
