package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/service/orchestrator"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	maxRequestBody      = 1 << 20
)

// Controller is the orchestrator surface used by the control endpoints
type Controller interface {
	SubmitNavigation(ctx context.Context, req domain.Request) (domain.Request, error)
	SubmitDownload(ctx context.Context, req domain.Request, opts ...orchestrator.DownloadOption) (domain.Request, error)
	Cancel(ctx context.Context, id domain.TransferID) error
	AggregateProgress() domain.AggregateProgress
	ChildProgress() []domain.ChildProgress
	Transfers() []domain.Transfer
	QueueStats() domain.QueueStats
}

var _ Controller = (*orchestrator.Orchestrator)(nil)

// ControlHandler handles orchestrator control requests
type ControlHandler struct {
	ctrl   Controller
	store  port.Store
	logger *zap.Logger
}

// NewControlHandler creates a new ControlHandler
func NewControlHandler(ctrl Controller, store port.Store, logger *zap.Logger) *ControlHandler {
	return &ControlHandler{
		ctrl:   ctrl,
		store:  store,
		logger: logger,
	}
}

// submitRequest is the body of POST /navigate and POST /downloads
type submitRequest struct {
	URL    string              `json:"url"`
	Header map[string][]string `json:"header,omitempty"`

	// download only
	Policy      string `json:"policy,omitempty"`
	RetryBudget *int   `json:"retry_budget,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

func (s submitRequest) request() domain.Request {
	req := domain.Request{URL: s.URL, Method: http.MethodGet}
	if len(s.Header) > 0 {
		req.Header = make(http.Header, len(s.Header))
		for k, v := range s.Header {
			for _, value := range v {
				req.Header.Add(k, value)
			}
		}
	}
	return req
}

func (s submitRequest) options() ([]orchestrator.DownloadOption, error) {
	var opts []orchestrator.DownloadOption
	if s.Policy != "" {
		p, err := domain.ParsePolicy(s.Policy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithPolicy(p))
	}
	if s.RetryBudget != nil {
		opts = append(opts, orchestrator.WithRetryBudget(*s.RetryBudget))
	}
	if s.Filename != "" {
		name := domain.SanitizeFilename(s.Filename)
		opts = append(opts, orchestrator.WithPathFunc(func(string, int64) string { return name }))
	}
	return opts, nil
}

// HandleNavigate queues a page load
func (h *ControlHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, ok := h.decode(w, r)
	if !ok {
		return
	}

	req, err := h.ctrl.SubmitNavigation(r.Context(), body.request())
	if err != nil {
		h.submitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"request": req})
}

// HandleDownloads queues a download (POST) or lists active transfers (GET)
func (h *ControlHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"transfers": h.ctrl.Transfers(),
			"progress":  h.ctrl.ChildProgress(),
		})
	case http.MethodPost:
		body, ok := h.decode(w, r)
		if !ok {
			return
		}
		opts, err := body.options()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := h.ctrl.SubmitDownload(r.Context(), body.request(), opts...)
		if err != nil {
			h.submitError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"request": req})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleTransfer cancels one active transfer: DELETE /downloads/{id}
func (h *ControlHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/downloads/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid transfer id", http.StatusBadRequest)
		return
	}

	err := h.ctrl.Cancel(r.Context(), domain.TransferID(id))
	switch {
	case errors.Is(err, domain.ErrTransferNotFound):
		http.Error(w, "Transfer not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrStopped):
		http.Error(w, "Orchestrator stopped", http.StatusServiceUnavailable)
	case err != nil:
		h.logger.Error("failed to cancel transfer", zap.String("transfer_id", id), zap.Error(err))
		http.Error(w, "Failed to cancel transfer", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleProgress returns aggregate progress of active transfers
func (h *ControlHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.AggregateProgress())
}

// HandleHistory lists recent transfer records: GET /history?limit=N
func (h *ControlHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		http.Error(w, "History disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.store.ListRecent(limit)
	if err != nil {
		h.logger.Error("failed to list history", zap.Error(err))
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*domain.TransferRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": records})
}

func (h *ControlHandler) decode(w http.ResponseWriter, r *http.Request) (submitRequest, bool) {
	var body submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return body, false
	}
	return body, true
}

func (h *ControlHandler) submitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrStopped):
		http.Error(w, "Orchestrator stopped", http.StatusServiceUnavailable)
	default:
		h.logger.Error("failed to submit request", zap.Error(err))
		http.Error(w, "Failed to submit request", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
