package core

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/hibiki-app/hibiki-go/internal/config"
	"github.com/hibiki-app/hibiki-go/internal/db"
	"github.com/hibiki-app/hibiki-go/internal/events"
	"github.com/hibiki-app/hibiki-go/internal/websocket"
)

// App holds the core components of the application that are shared between
// the server, the orchestrator and the background services.
type App struct {
	config *config.Config
	db     *sql.DB
	bus    *events.Bus
	hub    *websocket.Hub
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.Init(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	log.Println("Core application setup complete.")
	return &App{
		config: cfg,
		db:     database,
		bus:    events.NewBus(),
		hub:    hub,
	}, nil
}

// NewWith assembles an App from pre-built components. Used by tests.
func NewWith(cfg *config.Config, database *sql.DB, bus *events.Bus, hub *websocket.Hub) *App {
	return &App{config: cfg, db: database, bus: bus, hub: hub}
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.config }

// DB returns the database handle.
func (a *App) DB() *sql.DB { return a.db }

// Bus returns the lifecycle event bus.
func (a *App) Bus() *events.Bus { return a.bus }

// Hub returns the websocket hub for UI status streaming.
func (a *App) Hub() *websocket.Hub { return a.hub }

// Close gracefully closes the application's resources.
func (a *App) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
