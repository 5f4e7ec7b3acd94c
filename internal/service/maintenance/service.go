package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/util/ratelimiter"
)

// Config contains maintenance service configuration
type Config struct {
	// StallCheckInterval is how often to inspect the dispatch queue
	StallCheckInterval time.Duration

	// StallThreshold is how long a start call may wait for acknowledgement
	// before it is reported as stalled
	StallThreshold time.Duration

	// StallWarnInterval limits how often a stalled queue is reported
	StallWarnInterval time.Duration

	// CleanupInterval is how often to prune history
	CleanupInterval time.Duration

	// HistoryRetention is the maximum age of finished transfer records
	HistoryRetention time.Duration

	// MinFreeSpace triggers a warning when the download directory has less free space
	MinFreeSpace uint64
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		StallCheckInterval: 10 * time.Second,
		StallThreshold:     time.Minute,
		StallWarnInterval:  5 * time.Minute,
		CleanupInterval:    time.Hour,
		HistoryRetention:   30 * 24 * time.Hour,
		MinFreeSpace:       1 << 30,
	}
}

// QueueInspector exposes dispatch queue statistics
type QueueInspector interface {
	QueueStats() domain.QueueStats
}

// Service handles periodic maintenance tasks
type Service struct {
	config  *Config
	history port.TransferHistoryRepository
	queue   QueueInspector
	fs      port.FileSystem
	logger  *zap.Logger

	stallWarn *ratelimiter.Limiter
	spaceWarn *ratelimiter.Limiter
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. history and fs may be nil.
func New(cfg *Config, history port.TransferHistoryRepository, queue QueueInspector, fs port.FileSystem, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.StallCheckInterval == 0 {
		cfg.StallCheckInterval = 10 * time.Second
	}
	if cfg.StallThreshold == 0 {
		cfg.StallThreshold = time.Minute
	}
	if cfg.StallWarnInterval == 0 {
		cfg.StallWarnInterval = 5 * time.Minute
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.HistoryRetention == 0 {
		cfg.HistoryRetention = 30 * 24 * time.Hour
	}

	return &Service{
		config:    cfg,
		history:   history,
		queue:     queue,
		fs:        fs,
		logger:    logger,
		stallWarn: ratelimiter.New(cfg.StallWarnInterval),
		spaceWarn: ratelimiter.New(cfg.StallWarnInterval),
		now:       time.Now,
	}
}

// Start starts the maintenance service
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("stall_check_interval", s.config.StallCheckInterval),
		zap.Duration("stall_threshold", s.config.StallThreshold),
		zap.Duration("cleanup_interval", s.config.CleanupInterval),
		zap.Duration("history_retention", s.config.HistoryRetention))

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	stallTicker := time.NewTicker(s.config.StallCheckInterval)
	defer stallTicker.Stop()

	cleanupTicker := time.NewTicker(s.config.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stallTicker.C:
			s.checkStalledQueue()
		case <-cleanupTicker.C:
			s.cleanupHistory()
			s.checkDiskSpace()
		}
	}
}

// checkStalledQueue warns when a start call has gone unacknowledged for too long.
// Returns true if a warning was logged.
func (s *Service) checkStalledQueue() bool {
	if s.queue == nil {
		return false
	}
	stats := s.queue.QueueStats()
	if !stats.Busy || stats.InFlightSince == nil {
		return false
	}

	waited := s.now().Sub(*stats.InFlightSince)
	if waited < s.config.StallThreshold {
		return false
	}
	if ok, _ := s.stallWarn.Allow(); !ok {
		return false
	}

	s.logger.Warn("dispatch queue stalled waiting for engine acknowledgement",
		zap.Uint64("seq", stats.InFlightSeq),
		zap.String("kind", stats.InFlightKind),
		zap.Duration("waited", waited),
		zap.Int("backlog", stats.Backlog))
	return true
}

// cleanupHistory removes old finished transfer records
func (s *Service) cleanupHistory() {
	if s.history == nil {
		return
	}
	cleared, err := s.history.CleanupOlderThan(s.config.HistoryRetention)
	if err != nil {
		s.logger.Error("failed to cleanup transfer history", zap.Error(err))
	} else if cleared > 0 {
		s.logger.Info("cleaned up old transfer history", zap.Int("count", cleared))
	}
}

// checkDiskSpace warns when the download directory is running out of space
func (s *Service) checkDiskSpace() {
	if s.fs == nil || s.config.MinFreeSpace == 0 {
		return
	}
	usage, err := s.fs.GetDiskUsage()
	if err != nil {
		s.logger.Debug("disk usage unavailable", zap.Error(err))
		return
	}
	if usage.Free >= s.config.MinFreeSpace {
		return
	}
	if ok, _ := s.spaceWarn.Allow(); !ok {
		return
	}
	s.logger.Warn("download directory low on space",
		zap.String("dir", s.fs.RootDir()),
		zap.String("free", humanize.Bytes(usage.Free)),
		zap.String("min_free", humanize.Bytes(s.config.MinFreeSpace)),
		zap.Float64("used_pct", usage.UsedPct))
}
