package event

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
)

type recordingHandler struct {
	events []string
	names  []string
	err    error
}

func (h *recordingHandler) Handle(e DomainEvent) error {
	h.events = append(h.events, e.EventName())
	return h.err
}

func (h *recordingHandler) HandledEvents() []string { return h.names }

func TestInMemoryDispatcher_Routing(t *testing.T) {
	d := NewInMemoryDispatcher(false, zap.NewNop())

	failed := &recordingHandler{names: []string{NameTransferFailed}}
	all := &recordingHandler{names: []string{"*"}}
	d.Subscribe(failed)
	d.Subscribe(all)

	d.Dispatch(TransferFailed{BaseEvent: BaseEvent{Timestamp: time.Now()}})
	d.Dispatch(TransferCompleted{BaseEvent: BaseEvent{Timestamp: time.Now()}})

	assert.Equal(t, []string{NameTransferFailed}, failed.events)
	assert.Equal(t, []string{NameTransferFailed, NameTransferCompleted}, all.events)

	d.Unsubscribe(failed)
	d.Dispatch(TransferFailed{})
	assert.Len(t, failed.events, 1)
	assert.Len(t, all.events, 3)
}

func TestInMemoryDispatcher_LogsHandlerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewInMemoryDispatcher(false, zap.New(core))
	d.Subscribe(&recordingHandler{names: []string{"*"}, err: errors.New("disk full")})

	d.Dispatch(TransferStarted{})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "event handler failed", entry.Message)
	assert.Equal(t, NameTransferStarted, entry.ContextMap()["event"])
}

func TestInMemoryDispatcher_RecoversHandlerPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := NewInMemoryDispatcher(false, zap.New(core))
	after := &recordingHandler{names: []string{"*"}}
	d.Subscribe(NewHandlerFunc(func(DomainEvent) error { panic("bad handler") }, "*"))
	d.Subscribe(after)

	assert.NotPanics(t, func() { d.Dispatch(TransferCompleted{}) })
	assert.Equal(t, []string{NameTransferCompleted}, after.events)
	assert.Equal(t, 1, logs.FilterMessage("event handler panicked").Len())
}

func TestLoggingHandler(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewLoggingHandler(zap.New(core))

	tr := domain.NewTransfer("h1", domain.Request{ID: "r1", URL: "https://example.com/a.zip"}, 2, time.Now())
	require.NoError(t, h.Handle(NewTransferStarted(tr)))
	require.NoError(t, h.Handle(TransferProgressed{TransferID: "h1", BytesCompleted: 2048, BytesTotal: -1}))
	require.NoError(t, h.Handle(TransferExhausted{TransferID: "h1", Error: "reset"}))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "transfer started", entries[0].Message)
	assert.Equal(t, "h1", entries[0].ContextMap()["transfer_id"])
	assert.Equal(t, "2.0 kB", entries[1].ContextMap()["completed"])
	assert.Equal(t, "unknown", entries[1].ContextMap()["total"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestMetricsHandler(t *testing.T) {
	h := NewMetricsHandler()
	d := NewInMemoryDispatcher(false, nil)
	d.Subscribe(h)

	d.Dispatch(TransferStarted{})
	d.Dispatch(TransferFailed{})
	d.Dispatch(TransferRetrying{})
	d.Dispatch(TransferCompleted{Size: 100})
	d.Dispatch(TransferProgressed{})

	m := h.GetMetrics()
	assert.Equal(t, int64(1), m["downloads_started"])
	assert.Equal(t, int64(1), m["transfers_failed"])
	assert.Equal(t, int64(1), m["retries"])
	assert.Equal(t, int64(1), m["transfers_completed"])
	assert.Equal(t, int64(100), m["bytes_completed"])
}

func TestHandlerFunc(t *testing.T) {
	var got []string
	h := NewHandlerFunc(func(e DomainEvent) error {
		got = append(got, e.EventName())
		return nil
	})
	assert.Equal(t, []string{"*"}, h.HandledEvents())

	d := NewInMemoryDispatcher(false, nil)
	d.Subscribe(h)
	d.Dispatch(NavigationFinished{})
	assert.Equal(t, []string{NameNavigationFinished}, got)
}
