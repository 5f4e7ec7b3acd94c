package event

import (
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case NavigationDispatched:
		h.logger.Debug("navigation dispatched",
			zap.Uint64("seq", e.Seq),
			zap.String("url", e.Request.URL),
		)
	case NavigationFinished:
		if e.Error != "" {
			h.logger.Warn("navigation failed",
				zap.String("url", e.Request.URL),
				zap.String("error", e.Error),
			)
			return nil
		}
		h.logger.Info("navigation finished", zap.String("url", e.Request.URL))
	case DownloadDispatched:
		h.logger.Debug("download dispatched",
			zap.Uint64("seq", e.Seq),
			zap.Stringer("kind", e.Kind),
			zap.String("request_id", e.Request.ID),
			zap.String("url", e.Request.URL),
		)
	case DispatchFailed:
		h.logger.Error("dispatch failed",
			zap.Uint64("seq", e.Seq),
			zap.Stringer("kind", e.Kind),
			zap.String("url", e.Request.URL),
			zap.String("error", e.Error),
		)
	case DispatchTimedOut:
		h.logger.Warn("dispatch not acknowledged, released",
			zap.Uint64("seq", e.Seq),
			zap.Stringer("kind", e.Kind),
			zap.String("url", e.Request.URL),
			zap.Duration("waited", e.Waited),
		)
	case TransferStarted:
		h.logger.Info("transfer started",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("request_id", e.Request.ID),
			zap.String("url", e.Request.URL),
			zap.Int("attempt", e.Attempt),
			zap.Int("retry_budget", e.RetryBudget),
		)
	case TransferProgressed:
		total := "unknown"
		if e.BytesTotal >= 0 {
			total = humanize.Bytes(uint64(e.BytesTotal))
		}
		h.logger.Debug("transfer progress",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("completed", humanize.Bytes(uint64(max(e.BytesCompleted, 0)))),
			zap.String("total", total),
		)
	case DestinationResolved:
		h.logger.Info("destination resolved",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("suggested", e.Suggested),
			zap.Stringer("decision", e.Decision),
		)
	case TransferAborted:
		h.logger.Error("transfer aborted",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("destination", e.Destination),
			zap.String("error", e.Error),
		)
	case TransferCompleted:
		h.logger.Info("transfer completed",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("destination", e.Destination),
			zap.String("size", humanize.Bytes(uint64(max(e.Size, 0)))),
			zap.Duration("duration", e.Duration),
		)
	case TransferFailed:
		h.logger.Warn("transfer failed",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("request_id", e.RequestID),
			zap.String("error", e.Error),
			zap.Bool("resumable", e.HasResumeData),
			zap.Int("retry_budget", e.RetryBudget),
		)
	case TransferRetrying:
		h.logger.Info("transfer retrying",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("destination", e.Destination),
			zap.Int("remaining", e.RemainingRetry),
			zap.Bool("forced", e.Forced),
		)
	case TransferExhausted:
		h.logger.Error("transfer retries exhausted",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("request_id", e.RequestID),
			zap.String("error", e.Error),
		)
	case TransferAbandoned:
		h.logger.Error("transfer abandoned",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("request_id", e.RequestID),
			zap.String("error", e.Error),
		)
	case TransferCancelled:
		h.logger.Info("transfer cancelled",
			zap.String("transfer_id", string(e.TransferID)),
			zap.String("disposition", string(e.Disposition)),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// MetricsHandler collects metrics from events
type MetricsHandler struct {
	mu sync.Mutex

	navigations        int64
	downloadsStarted   int64
	transfersCompleted int64
	transfersFailed    int64
	retries            int64
	exhausted          int64
	abandoned          int64
	cancelled          int64
	aborted            int64
	dispatchFailures   int64
	dispatchTimeouts   int64
	bytesCompleted     int64
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e := event.(type) {
	case NavigationDispatched:
		h.navigations++
	case TransferStarted:
		h.downloadsStarted++
	case TransferCompleted:
		h.transfersCompleted++
		h.bytesCompleted += e.Size
	case TransferFailed:
		h.transfersFailed++
	case TransferRetrying:
		h.retries++
	case TransferExhausted:
		h.exhausted++
	case TransferAbandoned:
		h.abandoned++
	case TransferCancelled:
		h.cancelled++
	case TransferAborted:
		h.aborted++
	case DispatchFailed:
		h.dispatchFailures++
	case DispatchTimedOut:
		h.dispatchTimeouts++
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameNavigationDispatched,
		NameTransferStarted,
		NameTransferCompleted,
		NameTransferFailed,
		NameTransferRetrying,
		NameTransferExhausted,
		NameTransferAbandoned,
		NameTransferCancelled,
		NameTransferAborted,
		NameDispatchFailed,
		NameDispatchTimedOut,
	}
}

// GetMetrics returns current metrics
func (h *MetricsHandler) GetMetrics() map[string]int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return map[string]int64{
		"navigations":         h.navigations,
		"downloads_started":   h.downloadsStarted,
		"transfers_completed": h.transfersCompleted,
		"transfers_failed":    h.transfersFailed,
		"retries":             h.retries,
		"exhausted":           h.exhausted,
		"abandoned":           h.abandoned,
		"cancelled":           h.cancelled,
		"aborted":             h.aborted,
		"dispatch_failures":   h.dispatchFailures,
		"dispatch_timeouts":   h.dispatchTimeouts,
		"bytes_completed":     h.bytesCompleted,
	}
}

// HandlerFunc adapts a function to an EventHandler for the given event names
type HandlerFunc struct {
	fn     func(DomainEvent) error
	events []string
}

// NewHandlerFunc creates a handler calling fn for events; no names means all events
func NewHandlerFunc(fn func(DomainEvent) error, events ...string) *HandlerFunc {
	if len(events) == 0 {
		events = []string{"*"}
	}
	return &HandlerFunc{fn: fn, events: events}
}

// Handle calls the wrapped function
func (h *HandlerFunc) Handle(event DomainEvent) error {
	return h.fn(event)
}

// HandledEvents returns the events this handler handles
func (h *HandlerFunc) HandledEvents() []string {
	return h.events
}
