package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3" // sql driver

	"github.com/hibiki-app/hibiki-go/internal/db"
)

// SetupTestDB creates an in-memory SQLite database with the full schema
// applied. The connection is closed automatically when the test completes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}
