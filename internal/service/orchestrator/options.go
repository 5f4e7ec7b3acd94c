package orchestrator

import (
	"time"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/service/destination"
	"github.com/vertextoedge/download-orchestrator/internal/service/retry"
)

// Config contains orchestrator configuration
type Config struct {
	// Policy applies to downloads submitted without WithPolicy
	Policy domain.ExistingFilePolicy

	// RetryBudget applies to downloads submitted without WithRetryBudget
	RetryBudget int

	// AckTimeout force-releases a dispatch the engine never acknowledged; 0 waits forever
	AckTimeout time.Duration

	// MaxRetryDelay caps the Retry-After delay honored before a retry is
	// resubmitted; 0 resubmits at once
	MaxRetryDelay time.Duration

	// ProgressEventInterval throttles TransferProgressed events per transfer
	ProgressEventInterval time.Duration

	// ProgressAge is the EWMA age, in samples, for throughput smoothing
	ProgressAge float64

	// RetryOverride is consulted on resumable failures.
	//
	// Deprecated: use RetryBudget.
	RetryOverride retry.RetryOverride
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() *Config {
	return &Config{
		Policy:                domain.DefaultPolicy,
		RetryBudget:           0,
		AckTimeout:            0,
		MaxRetryDelay:         5 * time.Minute,
		ProgressEventInterval: time.Second,
	}
}

// DownloadOption customizes a single download
type DownloadOption func(*downloadOptions)

type downloadOptions struct {
	policy      *domain.ExistingFilePolicy
	pathFunc    destination.PathFunc
	retryBudget *int

	// set by the orchestrator for reissued transfers
	fixedPath   string
	attempt     int
	forcedRetry bool
}

// WithPolicy sets the existing-file policy for one download
func WithPolicy(p domain.ExistingFilePolicy) DownloadOption {
	return func(o *downloadOptions) {
		o.policy = &p
	}
}

// WithPathFunc sets the destination path callback for one download
func WithPathFunc(fn destination.PathFunc) DownloadOption {
	return func(o *downloadOptions) {
		o.pathFunc = fn
	}
}

// WithRetryBudget sets the retry budget for one download; negative values become 0
func WithRetryBudget(n int) DownloadOption {
	return func(o *downloadOptions) {
		n = max(n, 0)
		o.retryBudget = &n
	}
}

func newDownloadOptions(opts []DownloadOption) *downloadOptions {
	o := &downloadOptions{attempt: 1}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *downloadOptions) clone() *downloadOptions {
	if o == nil {
		return newDownloadOptions(nil)
	}
	c := *o
	return &c
}
