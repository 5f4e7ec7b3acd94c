package maintenance

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/util/ratelimiter"
)

// mockHistoryRepository implements port.TransferHistoryRepository for testing
type mockHistoryRepository struct {
	mu            sync.Mutex
	cleanupCount  int
	cleanupErr    error
	cleanupCalled int
	lastRetention time.Duration
}

func (m *mockHistoryRepository) RecordStarted(rec *domain.TransferRecord) error { return nil }
func (m *mockHistoryRepository) UpdateProgress(id domain.TransferID, completed, total int64) error {
	return nil
}
func (m *mockHistoryRepository) SetDestination(id domain.TransferID, path string) error { return nil }
func (m *mockHistoryRepository) Finish(id domain.TransferID, status domain.TransferState, errMsg string) error {
	return nil
}
func (m *mockHistoryRepository) Get(id domain.TransferID) (*domain.TransferRecord, error) {
	return nil, domain.ErrNotFound
}
func (m *mockHistoryRepository) ListRecent(limit int) ([]*domain.TransferRecord, error) {
	return nil, nil
}
func (m *mockHistoryRepository) CleanupOlderThan(olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupCalled++
	m.lastRetention = olderThan
	return m.cleanupCount, m.cleanupErr
}

func (m *mockHistoryRepository) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupCalled
}

// mockQueue implements QueueInspector for testing
type mockQueue struct {
	mu    sync.Mutex
	stats domain.QueueStats
}

func (m *mockQueue) QueueStats() domain.QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// mockFileSystem implements port.FileSystem for testing
type mockFileSystem struct {
	usage *port.DiskUsage
}

func (m *mockFileSystem) RootDir() string                           { return "/downloads" }
func (m *mockFileSystem) EnsureDir(filePath string) error           { return nil }
func (m *mockFileSystem) FileSize(path string) (int64, bool, error) { return 0, false, nil }
func (m *mockFileSystem) DeleteFile(path string) error              { return nil }
func (m *mockFileSystem) GetDiskUsage() (*port.DiskUsage, error)    { return m.usage, nil }
func (m *mockFileSystem) WriteFile(path string, r io.Reader, appendMode bool, onWrite func(int64)) (int64, error) {
	return 0, nil
}

func TestService_New(t *testing.T) {
	logger := zap.NewNop()

	// Test with nil config (should use defaults)
	s := New(nil, &mockHistoryRepository{}, &mockQueue{}, nil, logger)
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.config.StallCheckInterval != 10*time.Second {
		t.Errorf("StallCheckInterval = %v, want %v", s.config.StallCheckInterval, 10*time.Second)
	}
	if s.config.HistoryRetention != 30*24*time.Hour {
		t.Errorf("HistoryRetention = %v, want %v", s.config.HistoryRetention, 30*24*time.Hour)
	}

	// Test with custom config; zero fields take defaults
	cfg := &Config{
		StallCheckInterval: 2 * time.Second,
		HistoryRetention:   12 * time.Hour,
	}
	s = New(cfg, nil, nil, nil, logger)
	if s.config.StallCheckInterval != 2*time.Second {
		t.Errorf("StallCheckInterval = %v, want %v", s.config.StallCheckInterval, 2*time.Second)
	}
	if s.config.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", s.config.CleanupInterval, time.Hour)
	}
}

func TestService_StartStop(t *testing.T) {
	history := &mockHistoryRepository{cleanupCount: 3}
	cfg := &Config{
		StallCheckInterval: time.Hour,
		CleanupInterval:    10 * time.Millisecond,
		HistoryRetention:   time.Hour,
	}
	s := New(cfg, history, &mockQueue{}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	// Wait for cleanup to run at least once
	deadline := time.Now().Add(time.Second)
	for history.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	if history.calls() == 0 {
		t.Error("CleanupOlderThan was not called")
	}
	history.mu.Lock()
	retention := history.lastRetention
	history.mu.Unlock()
	if retention != time.Hour {
		t.Errorf("CleanupOlderThan(%v), want %v", retention, time.Hour)
	}
}

func TestService_DoubleStart(t *testing.T) {
	s := New(nil, nil, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan error, 1)
	go func() {
		started <- s.Start(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if running {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}
}

func TestService_CheckStalledQueue(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-2 * time.Minute)

	tests := []struct {
		name  string
		stats domain.QueueStats
		want  bool
	}{
		{
			name:  "idle queue",
			stats: domain.QueueStats{},
			want:  false,
		},
		{
			name:  "busy under threshold",
			stats: domain.QueueStats{Busy: true, InFlightSeq: 3, InFlightSince: timePtr(now.Add(-10 * time.Second))},
			want:  false,
		},
		{
			name:  "busy over threshold",
			stats: domain.QueueStats{Busy: true, InFlightSeq: 3, InFlightKind: "navigate", InFlightSince: &since, Backlog: 4},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			s := New(&Config{StallThreshold: time.Minute}, nil, &mockQueue{stats: tt.stats}, nil, zap.New(core))
			s.now = func() time.Time { return now }

			if got := s.checkStalledQueue(); got != tt.want {
				t.Errorf("checkStalledQueue() = %v, want %v", got, tt.want)
			}
			if tt.want && logs.FilterMessage("dispatch queue stalled waiting for engine acknowledgement").Len() != 1 {
				t.Errorf("stall warning not logged: %v", logs.All())
			}
		})
	}
}

func TestService_StallWarningIsThrottled(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-time.Hour)
	queue := &mockQueue{stats: domain.QueueStats{Busy: true, InFlightSince: &since}}

	s := New(&Config{StallThreshold: time.Minute, StallWarnInterval: time.Hour}, nil, queue, nil, zap.NewNop())
	s.now = func() time.Time { return now }

	if !s.checkStalledQueue() {
		t.Fatal("first check should warn")
	}
	if s.checkStalledQueue() {
		t.Error("second check within the warn interval should be silent")
	}
}

func TestService_CheckDiskSpace(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fs := &mockFileSystem{usage: &port.DiskUsage{Total: 100 << 30, Free: 512 << 20, UsedPct: 99.5}}
	s := New(&Config{MinFreeSpace: 1 << 30}, nil, nil, fs, zap.New(core))

	s.checkDiskSpace()
	s.checkDiskSpace()

	entries := logs.FilterMessage("download directory low on space").All()
	if len(entries) != 1 {
		t.Fatalf("got %d warnings, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["dir"]; got != "/downloads" {
		t.Errorf("dir = %v, want /downloads", got)
	}

	fs.usage.Free = 10 << 30
	logs.TakeAll()
	s.spaceWarn = ratelimiter.New(s.config.StallWarnInterval)
	s.checkDiskSpace()
	if logs.Len() != 0 {
		t.Errorf("unexpected warning with enough space: %v", logs.All())
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.StallThreshold != time.Minute {
		t.Errorf("StallThreshold = %v, want %v", cfg.StallThreshold, time.Minute)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", cfg.CleanupInterval, time.Hour)
	}
	if cfg.MinFreeSpace != 1<<30 {
		t.Errorf("MinFreeSpace = %v, want %v", cfg.MinFreeSpace, uint64(1<<30))
	}
}

func timePtr(t time.Time) *time.Time { return &t }
