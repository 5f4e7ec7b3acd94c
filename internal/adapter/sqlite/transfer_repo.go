package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

const transferColumns = `id, request_id, url, destination, status, bytes_completed, bytes_total,
	retry_budget, last_error, started_at, finished_at, updated_at`

// RecordStarted inserts a record for a new transfer
func (s *Store) RecordStarted(rec *domain.TransferRecord) error {
	now := s.now()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.Status == "" {
		rec.Status = domain.StateActive
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO transfers (
			id, request_id, url, destination, status, bytes_completed, bytes_total,
			retry_budget, last_error, started_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lastError sql.NullString
	if rec.LastError != "" {
		lastError = sql.NullString{String: rec.LastError, Valid: true}
	}

	_, err := s.db.Exec(query,
		string(rec.ID), rec.RequestID, rec.URL, rec.Destination, string(rec.Status),
		rec.BytesCompleted, rec.BytesTotal, rec.RetryBudget, lastError,
		toMillis(rec.StartedAt), toMillis(rec.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateProgress updates the byte counters of an unfinished transfer
func (s *Store) UpdateProgress(id domain.TransferID, completed, total int64) error {
	query := `
		UPDATE transfers
		SET bytes_completed = ?, bytes_total = ?, updated_at = ?
		WHERE id = ? AND finished_at IS NULL
	`

	_, err := s.db.Exec(query, completed, total, toMillis(s.now()), string(id))
	return err
}

// SetDestination stores the resolved destination path
func (s *Store) SetDestination(id domain.TransferID, path string) error {
	_, err := s.db.Exec("UPDATE transfers SET destination = ?, updated_at = ? WHERE id = ?",
		path, toMillis(s.now()), string(id))
	return err
}

// Finish marks a transfer as finished with its terminal status.
// A transfer that is already finished keeps its first status.
func (s *Store) Finish(id domain.TransferID, status domain.TransferState, errMsg string) error {
	query := `
		UPDATE transfers
		SET status = ?, last_error = COALESCE(?, last_error), finished_at = ?, updated_at = ?
		WHERE id = ? AND finished_at IS NULL
	`

	var lastError sql.NullString
	if errMsg != "" {
		lastError = sql.NullString{String: errMsg, Valid: true}
	}
	now := toMillis(s.now())

	result, err := s.db.Exec(query, string(status), lastError, now, now, string(id))
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		var exists int
		err := s.db.QueryRow("SELECT COUNT(*) FROM transfers WHERE id = ?", string(id)).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
	}
	return nil
}

// Get retrieves a record by transfer ID
func (s *Store) Get(id domain.TransferID) (*domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = ?`
	return scanRecord(s.db.QueryRow(query, string(id)))
}

// ListRecent returns the most recently started records, newest first
func (s *Store) ListRecent(limit int) ([]*domain.TransferRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + transferColumns + ` FROM transfers ORDER BY started_at DESC, rowid DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TransferRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CleanupOlderThan removes finished records older than the specified duration
func (s *Store) CleanupOlderThan(olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	result, err := s.db.Exec(
		"DELETE FROM transfers WHERE finished_at IS NOT NULL AND finished_at < ?",
		toMillis(cutoff))
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	return int(count), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.TransferRecord, error) {
	rec := &domain.TransferRecord{}
	var id, status string
	var lastError sql.NullString
	var startedAt, updatedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(
		&id, &rec.RequestID, &rec.URL, &rec.Destination, &status,
		&rec.BytesCompleted, &rec.BytesTotal, &rec.RetryBudget, &lastError,
		&startedAt, &finishedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.ID = domain.TransferID(id)
	rec.Status = domain.TransferState(status)
	rec.LastError = lastError.String
	rec.StartedAt = fromMillis(startedAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	if finishedAt.Valid {
		t := fromMillis(finishedAt.Int64)
		rec.FinishedAt = &t
	}
	return rec, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
