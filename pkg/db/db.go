package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the replay database and runs migrations.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// WAL lets the API read sessions while the recorder writes frames
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// PruneSessions removes recorded sessions, and their frames, older than the
// specified duration. It returns the number of sessions removed.
func (d *DB) PruneSessions(olderThan time.Duration) (int64, error) {
	// Format time compatible with SQLite DEFAULT CURRENT_TIMESTAMP (YYYY-MM-DD HH:MM:SS)
	deadline := time.Now().Add(-olderThan).UTC().Format("2006-01-02 15:04:05")

	tx, err := d.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM frames WHERE session_id IN (SELECT id FROM sessions WHERE created_at < ?)", deadline); err != nil {
		return 0, fmt.Errorf("failed to prune frames: %w", err)
	}
	res, err := tx.Exec("DELETE FROM sessions WHERE created_at < ?", deadline)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			track TEXT,
			cars INTEGER,
			frame_count INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			session_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			dt REAL,
			inputs BLOB,
			commands BLOB,
			PRIMARY KEY (session_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Migration: Add frame_count if missing
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('sessions') WHERE name='frame_count'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE sessions ADD COLUMN frame_count INTEGER DEFAULT 0"); err != nil {
			return fmt.Errorf("failed to add frame_count column: %w", err)
		}
	}

	// Migration: Add commands if missing
	err = d.QueryRow("SELECT count(*) FROM pragma_table_info('frames') WHERE name='commands'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE frames ADD COLUMN commands BLOB"); err != nil {
			return fmt.Errorf("failed to add commands column: %w", err)
		}
	}

	return nil
}
