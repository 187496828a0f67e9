package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// BusyTimeout is how long a statement waits on a locked database.
const BusyTimeout = 5 * time.Second

// DB wraps the per-session SQLite database (minichat.db).
type DB struct {
	*sql.DB
}

// Open connects to the database at path in WAL mode and checks it is
// reachable. The file is created if missing.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	// A single writer keeps the blob upserts serialized.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", fmt.Sprint(BusyTimeout.Milliseconds()))
	q.Set("_synchronous", "NORMAL")
	return path + "?" + q.Encode()
}
