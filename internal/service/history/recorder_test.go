package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vertextoedge/download-orchestrator/internal/adapter/sqlite"
	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func at(sec int) event.BaseEvent {
	return event.BaseEvent{Timestamp: time.Date(2026, 3, 1, 10, 0, sec, 0, time.UTC)}
}

func TestRecorder_RetriedTransfer(t *testing.T) {
	store := newStore(t)
	r := NewRecorder(store, zaptest.NewLogger(t))
	req := domain.Request{ID: "req-1", URL: "https://example.com/a.zip"}

	events := []event.DomainEvent{
		event.TransferStarted{BaseEvent: at(0), TransferID: "h1", Request: req, RetryBudget: 1, Attempt: 1},
		event.DestinationResolved{BaseEvent: at(1), TransferID: "h1", Suggested: "a.zip", Decision: domain.Proceed("/dl/a.zip")},
		event.TransferProgressed{BaseEvent: at(2), TransferID: "h1", BytesCompleted: 40, BytesTotal: 100},
		event.TransferFailed{BaseEvent: at(3), TransferID: "h1", RequestID: req.ID, Error: "connection reset", HasResumeData: true},
		event.TransferRetrying{BaseEvent: at(3), TransferID: "h1", RequestID: req.ID, Destination: "/dl/a.zip"},
		event.TransferStarted{BaseEvent: at(4), TransferID: "h2", Request: req, Attempt: 2},
		event.TransferProgressed{BaseEvent: at(5), TransferID: "h2", BytesCompleted: 70, BytesTotal: 100},
		event.TransferCompleted{BaseEvent: at(6), TransferID: "h2", RequestID: req.ID, Destination: "/dl/a.zip", Size: 100},
	}
	for _, e := range events {
		require.NoError(t, r.Handle(e), e.EventName())
	}

	first, err := store.Get("h1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRetrying, first.Status)
	assert.Equal(t, "connection reset", first.LastError)
	assert.Equal(t, "/dl/a.zip", first.Destination)
	assert.Equal(t, int64(40), first.BytesCompleted)
	assert.True(t, first.IsFinished())

	second, err := store.Get("h2")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, second.Status)
	assert.Equal(t, int64(100), second.BytesCompleted)
	assert.Empty(t, second.LastError)
	assert.Equal(t, "req-1", second.RequestID)

	stats, err := store.GetHistoryStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Equal(t, 1, stats.FailedCount)
}

func TestRecorder_AbortedAndSkipped(t *testing.T) {
	store := newStore(t)
	r := NewRecorder(store, zaptest.NewLogger(t))
	req := domain.Request{ID: "req-2", URL: "https://example.com/b.zip"}

	events := []event.DomainEvent{
		event.TransferStarted{BaseEvent: at(0), TransferID: "h1", Request: req},
		event.TransferAborted{BaseEvent: at(1), TransferID: "h1", Destination: "/dl/b.zip", Error: "destination delete /dl/b.zip: read-only"},
		event.TransferFailed{BaseEvent: at(1), TransferID: "h1", Error: "transfer canceled"},
		event.TransferCancelled{BaseEvent: at(1), TransferID: "h1", Disposition: domain.DispositionAborted},

		event.TransferStarted{BaseEvent: at(2), TransferID: "h2", Request: req},
		event.DestinationResolved{BaseEvent: at(2), TransferID: "h2", Decision: domain.Skip()},
		event.TransferCancelled{BaseEvent: at(3), TransferID: "h2", Disposition: domain.DispositionSkipped},
	}
	for _, e := range events {
		require.NoError(t, r.Handle(e), e.EventName())
	}

	aborted, err := store.Get("h1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, aborted.Status)
	assert.Equal(t, "transfer canceled", aborted.LastError)

	skipped, err := store.Get("h2")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, skipped.Status)
	assert.Empty(t, skipped.Destination)
}

func TestRecorder_UnknownTransferIsIgnored(t *testing.T) {
	store := newStore(t)
	r := NewRecorder(store, zaptest.NewLogger(t))

	assert.NoError(t, r.Handle(event.TransferExhausted{BaseEvent: at(0), TransferID: "ghost"}))
	assert.NoError(t, r.Handle(event.NavigationFinished{BaseEvent: at(0)}))

	_, err := store.Get("ghost")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRecorder_DuplicateStart(t *testing.T) {
	store := newStore(t)
	r := NewRecorder(store, zaptest.NewLogger(t))
	started := event.TransferStarted{BaseEvent: at(0), TransferID: "h1", Request: domain.Request{ID: "r", URL: "https://example.com"}}

	require.NoError(t, r.Handle(started))
	assert.NoError(t, r.Handle(started))
}

func TestRecorder_SubscribesToLifecycle(t *testing.T) {
	store := newStore(t)
	r := NewRecorder(store, nil)
	d := event.NewInMemoryDispatcher(false, zaptest.NewLogger(t))
	d.Subscribe(r)

	d.Dispatch(event.TransferStarted{BaseEvent: at(0), TransferID: "h1", Request: domain.Request{ID: "r", URL: "https://example.com/x"}})
	d.Dispatch(event.TransferCompleted{BaseEvent: at(1), TransferID: "h1", Size: 5})

	rec, err := store.Get("h1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, rec.Status)
}
