package domain

import "time"

// TransferRecord is the persisted history of one transfer
type TransferRecord struct {
	ID             TransferID    `json:"id"`
	RequestID      string        `json:"request_id"`
	URL            string        `json:"url"`
	Destination    string        `json:"destination,omitempty"`
	Status         TransferState `json:"status"`
	BytesCompleted int64         `json:"bytes_completed"`
	BytesTotal     int64         `json:"bytes_total"`
	RetryBudget    int           `json:"retry_budget"`
	LastError      string        `json:"last_error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsFinished returns true if the transfer reached a terminal state
func (r *TransferRecord) IsFinished() bool {
	return r.FinishedAt != nil
}

// HistoryStats represents transfer history statistics
type HistoryStats struct {
	TotalCount     int   `json:"total_count"`
	ActiveCount    int   `json:"active_count"`
	CompletedCount int   `json:"completed_count"`
	FailedCount    int   `json:"failed_count"`
	CancelledCount int   `json:"cancelled_count"`
	TotalBytes     int64 `json:"total_bytes"`
}
