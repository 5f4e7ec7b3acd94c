package domain

import "time"

// AggregateProgress is the summed progress of all active transfers.
// TotalThroughput and EstimatedTimeRemaining are plain sums over children,
// so the ETA is an approximation that ignores transfers running in parallel.
type AggregateProgress struct {
	ActiveCount            int           `json:"active_count"`
	TotalThroughput        float64       `json:"total_throughput"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
	BytesCompleted         int64         `json:"bytes_completed"`
	BytesTotal             int64         `json:"bytes_total"`
}

// ChildProgress is the progress of a single transfer as seen by the tracker
type ChildProgress struct {
	ID                     TransferID    `json:"id"`
	BytesCompleted         int64         `json:"bytes_completed"`
	BytesTotal             int64         `json:"bytes_total"`
	Throughput             float64       `json:"throughput"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining"`
}
