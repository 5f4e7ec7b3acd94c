package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vertextoedge/download-orchestrator/internal/adapter/sqlite"
	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/service/orchestrator"
)

type fakeController struct {
	mu          sync.Mutex
	navigations []domain.Request
	downloads   []domain.Request
	optCounts   []int
	cancelled   []domain.TransferID
	submitErr   error
	transfers   []domain.Transfer
}

func (f *fakeController) SubmitNavigation(_ context.Context, req domain.Request) (domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := req.Validate(); err != nil {
		return req, err
	}
	req = req.EnsureID()
	f.navigations = append(f.navigations, req)
	return req, f.submitErr
}

func (f *fakeController) SubmitDownload(_ context.Context, req domain.Request, opts ...orchestrator.DownloadOption) (domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := req.Validate(); err != nil {
		return req, err
	}
	if f.submitErr != nil {
		return req, f.submitErr
	}
	req = req.EnsureID()
	f.downloads = append(f.downloads, req)
	f.optCounts = append(f.optCounts, len(opts))
	return req, nil
}

func (f *fakeController) Cancel(_ context.Context, id domain.TransferID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "h1" {
		return domain.ErrTransferNotFound
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeController) AggregateProgress() domain.AggregateProgress {
	return domain.AggregateProgress{ActiveCount: len(f.transfers), BytesCompleted: 10, BytesTotal: 100}
}

func (f *fakeController) ChildProgress() []domain.ChildProgress { return nil }

func (f *fakeController) Transfers() []domain.Transfer { return f.transfers }

func (f *fakeController) QueueStats() domain.QueueStats {
	return domain.QueueStats{Busy: true, Backlog: 2, Dispatched: 5}
}

type fixture struct {
	ctrl    *fakeController
	store   *sqlite.Store
	metrics *event.MetricsHandler
	handler http.Handler
	dir     string
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.DownloadDir = dir

	f := &fixture{
		ctrl:    &fakeController{},
		store:   store,
		metrics: event.NewMetricsHandler(),
		dir:     dir,
	}
	f.handler = New(cfg, f.ctrl, store, f.metrics, zaptest.NewLogger(t)).Handler()
	return f
}

func (f *fixture) do(method, target, body string, auth ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if len(auth) == 2 {
		req.SetBasicAuth(auth[0], auth[1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = f.do(http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_SubmitDownload(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantOpts int
	}{
		{
			name:     "plain download",
			body:     `{"url":"https://example.com/a.zip"}`,
			wantCode: http.StatusAccepted,
			wantOpts: 0,
		},
		{
			name:     "with options",
			body:     `{"url":"https://example.com/a.zip","policy":"delete","retry_budget":2,"filename":"../b.zip"}`,
			wantCode: http.StatusAccepted,
			wantOpts: 3,
		},
		{
			name:     "invalid policy",
			body:     `{"url":"https://example.com/a.zip","policy":"overwrite"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "relative url",
			body:     `{"url":"a.zip"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad json",
			body:     `{"url":`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			rec := f.do(http.MethodPost, "/downloads", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusAccepted {
				assert.Empty(t, f.ctrl.downloads)
				return
			}

			var resp struct {
				Request domain.Request `json:"request"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Request.ID)
			require.Len(t, f.ctrl.downloads, 1)
			assert.Equal(t, resp.Request.ID, f.ctrl.downloads[0].ID)
			assert.Equal(t, tt.wantOpts, f.ctrl.optCounts[0])
		})
	}
}

func TestServer_SubmitAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.submitErr = domain.ErrStopped

	rec := f.do(http.MethodPost, "/downloads", `{"url":"https://example.com/a.zip"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Navigate(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/navigate", `{"url":"https://example.com/","header":{"Accept-Language":["en"]}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.ctrl.navigations, 1)
	assert.Equal(t, "en", f.ctrl.navigations[0].Header.Get("Accept-Language"))

	rec = f.do(http.MethodGet, "/navigate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_ListAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.ctrl.transfers = []domain.Transfer{{ID: "h1", Request: domain.Request{ID: "r1", URL: "https://example.com/a"}, State: domain.StateActive}}

	rec := f.do(http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"h1"`)

	rec = f.do(http.MethodDelete, "/downloads/h1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []domain.TransferID{"h1"}, f.ctrl.cancelled)

	rec = f.do(http.MethodDelete, "/downloads/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var progress domain.AggregateProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, 1, progress.ActiveCount)
	assert.Equal(t, int64(100), progress.BytesTotal)
}

func TestServer_History(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.RecordStarted(&domain.TransferRecord{
			ID:        domain.TransferID(fmt.Sprintf("h%d", i)),
			RequestID: "r",
			URL:       "https://example.com/a",
		}))
	}

	rec := f.do(http.MethodGet, "/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Transfers []domain.TransferRecord `json:"transfers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Transfers, 2)

	rec = f.do(http.MethodGet, "/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_DebugStats(t *testing.T) {
	f := newFixture(t, nil)
	f.metrics.Handle(event.TransferCompleted{TransferID: "h1", Size: 42})

	rec := f.do(http.MethodGet, "/debug/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "queue_stats")
	assert.Contains(t, resp, "history_stats")
	assert.Contains(t, string(resp["events"]), `"transfers_completed":1`)
}

func TestServer_BasicAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminUsername = "admin"
	cfg.AdminPassword = "secret"
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/progress", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/progress", "", "admin", "wrong").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/progress", "", "admin", "secret").Code)
}

func TestServer_Browse(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AdminUsername = "admin"
	cfg.AdminPassword = "secret"
	cfg.EnableBrowser = true
	f := newFixture(t, cfg)

	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "sub", "<a>.txt"), []byte("hello"), 0644))

	rec := f.do(http.MethodGet, "/files/sub", "", "admin", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "&lt;a&gt;.txt")
	assert.NotContains(t, rec.Body.String(), "<a>.txt")

	rec = f.do(http.MethodGet, "/files/sub/%3Ca%3E.txt", "", "admin", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/files/", "").Code)
}

func TestServer_BrowseNeedsPassword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableBrowser = true
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/files/", "").Code)
}

func TestBrowseHandler_Resolve(t *testing.T) {
	h := NewBrowseHandler("/downloads", zaptest.NewLogger(t))

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{path: "", want: "/downloads", ok: true},
		{path: "a/b.zip", want: "/downloads/a/b.zip", ok: true},
		{path: "../etc/passwd", ok: false},
		{path: "a/../../etc", ok: false},
		{path: "..hidden", want: "/downloads/..hidden", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := h.resolve(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, filepath.FromSlash(tt.want), got)
			}
		})
	}
}
