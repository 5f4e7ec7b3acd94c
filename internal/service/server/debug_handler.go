package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/port"
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	ctrl    Controller
	store   port.Store
	metrics *event.MetricsHandler
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(ctrl Controller, store port.Store, metrics *event.MetricsHandler, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		ctrl:    ctrl,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleStats handles debug statistics requests
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"queue_stats": h.ctrl.QueueStats(),
		"progress":    h.ctrl.AggregateProgress(),
	}

	if h.metrics != nil {
		response["events"] = h.metrics.GetMetrics()
	}

	if h.store != nil {
		stats, err := h.store.GetHistoryStats()
		if err != nil {
			h.logger.Error("failed to get history stats", zap.Error(err))
			http.Error(w, "Failed to get history stats", http.StatusInternalServerError)
			return
		}
		response["history_stats"] = stats
	}

	writeJSON(w, http.StatusOK, response)
}
