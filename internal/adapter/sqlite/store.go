package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
)

// Store implements port.Store interface using SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Ensure Store implements port.Store
var _ port.Store = (*Store)(nil)

// Open opens a connection to the SQLite database
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Open database with WAL mode and busy timeout
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, now: time.Now}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks database connectivity
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema.
// Timestamps are unix milliseconds so range queries compare numerically.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transfers (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			url TEXT NOT NULL,
			destination TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			bytes_completed INTEGER NOT NULL DEFAULT 0,
			bytes_total INTEGER NOT NULL DEFAULT -1,
			retry_budget INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_transfers_request_id ON transfers(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_started_at ON transfers(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_finished_at ON transfers(finished_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// GetHistoryStats returns transfer history statistics
func (s *Store) GetHistoryStats() (*domain.HistoryStats, error) {
	stats := &domain.HistoryStats{}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM transfers GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.TotalCount += count
		switch domain.TransferState(status) {
		case domain.StateActive:
			stats.ActiveCount += count
		case domain.StateCompleted:
			stats.CompletedCount += count
		case domain.StateCancelled:
			stats.CancelledCount += count
		default:
			stats.FailedCount += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totalBytes sql.NullInt64
	err = s.db.QueryRow("SELECT SUM(bytes_completed) FROM transfers WHERE status = ?",
		string(domain.StateCompleted)).Scan(&totalBytes)
	if err != nil {
		return nil, err
	}
	stats.TotalBytes = totalBytes.Int64

	return stats, nil
}

// isUniqueConstraintError checks if the error is a unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "duplicate key")
}
