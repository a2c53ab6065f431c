package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "sumo.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS adds (
		id INTEGER PRIMARY KEY,
		hash TEXT UNIQUE NOT NULL,
		magnet TEXT NOT NULL,
		save_path TEXT,
		added_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS selection (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		hash TEXT NOT NULL,
		selected_at TEXT NOT NULL
	)`,
}

// InitDB opens the SQLite database at path and creates the tables if they
// don't exist. ":memory:" is accepted for tests.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return db, nil
}
