// Package httpengine implements the orchestrator's engine port over HTTP.
package httpengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/util/ratelimiter"
)

var (
	// ErrEngineClosed is returned by start calls after Close
	ErrEngineClosed = errors.New("engine closed")
	// ErrNotAttached is returned by start calls before Attach
	ErrNotAttached = errors.New("engine has no event receiver")
)

// Engine loads pages and downloads files over HTTP.
// Every start call runs on its own goroutine; callbacks are delivered from there.
type Engine struct {
	cfg    *Config
	client *retryablehttp.Client
	fs     port.FileSystem
	logger *zap.Logger

	mu        sync.Mutex
	events    port.EngineEvents
	transfers map[domain.TransferID]context.CancelFunc
	closed    bool
	wg        sync.WaitGroup
}

// Ensure Engine implements port.Engine
var _ port.Engine = (*Engine)(nil)

// New creates an HTTP engine writing downloads through fs
func New(cfg *Config, fs port.FileSystem, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		client:    newClient(cfg, logger),
		fs:        fs,
		logger:    logger,
		transfers: make(map[domain.TransferID]context.CancelFunc),
	}
}

// Attach sets the callback receiver
func (e *Engine) Attach(events port.EngineEvents) {
	e.mu.Lock()
	e.events = events
	e.mu.Unlock()
}

// Close cancels running transfers and waits for their goroutines
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	for _, cancel := range e.transfers {
		cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Navigate loads a page. A response that looks like a file becomes a transfer.
func (e *Engine) Navigate(ctx context.Context, req domain.Request) error {
	ctx, cancel := context.WithCancel(ctx)
	hreq, err := e.newRequest(ctx, req, -1, "")
	if err != nil {
		cancel()
		return err
	}

	err = e.spawn(func(events port.EngineEvents) {
		defer cancel()

		resp, err := e.client.Do(hreq)
		if err != nil {
			events.OnAcknowledged()
			events.OnNavigationFinished(req, err)
			return
		}

		if resp.StatusCode < http.StatusBadRequest && e.isDownload(resp) {
			id := e.register(cancel)
			e.logger.Debug("navigation became a download",
				zap.String("transfer_id", string(id)),
				zap.String("url", req.URL),
				zap.String("content_type", resp.Header.Get("Content-Type")),
			)
			events.OnTransferStarted(id, req)
			events.OnAcknowledged()
			e.transfer(ctx, events, id, resumeState{Request: req}, resp)
			return
		}

		events.OnAcknowledged()
		_, err = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err == nil && resp.StatusCode >= http.StatusBadRequest {
			err = fmt.Errorf("navigation failed with status: %s", resp.Status)
		}
		events.OnNavigationFinished(req, err)
	})
	if err != nil {
		cancel()
	}
	return err
}

// StartDownload starts a new transfer for req
func (e *Engine) StartDownload(ctx context.Context, req domain.Request) error {
	return e.startTransfer(ctx, resumeState{Request: req}, -1)
}

// ResumeDownload reissues a failed transfer from resume data produced by this engine
func (e *Engine) ResumeDownload(ctx context.Context, resumeData []byte) error {
	state, err := decodeResumeState(resumeData)
	if err != nil {
		return err
	}

	rangeStart := int64(-1)
	if state.Destination != "" && state.BytesWritten > 0 {
		rangeStart = state.BytesWritten
	}
	return e.startTransfer(ctx, state, rangeStart)
}

// Cancel stops a running transfer
func (e *Engine) Cancel(id domain.TransferID) error {
	e.mu.Lock()
	cancel, ok := e.transfers[id]
	e.mu.Unlock()
	if !ok {
		return domain.ErrTransferNotFound
	}
	cancel()
	return nil
}

func (e *Engine) startTransfer(ctx context.Context, state resumeState, rangeStart int64) error {
	ctx, cancel := context.WithCancel(ctx)
	validator := ""
	if rangeStart >= 0 {
		validator = state.validator()
	}
	hreq, err := e.newRequest(ctx, state.Request, rangeStart, validator)
	if err != nil {
		cancel()
		return err
	}

	err = e.spawn(func(events port.EngineEvents) {
		id := e.register(cancel)
		events.OnTransferStarted(id, state.Request)
		events.OnAcknowledged()

		resp, err := e.client.Do(hreq)
		if err != nil {
			defer e.unregister(id)
			if ctx.Err() != nil {
				events.OnFailed(id, domain.ErrTransferCanceled, nil)
				return
			}
			events.OnFailed(id, domain.NewRetryableError(err, 0), state.encode())
			return
		}
		e.transfer(ctx, events, id, state, resp)
	})
	if err != nil {
		cancel()
	}
	return err
}

// transfer writes the response body to its destination and reports the outcome
func (e *Engine) transfer(ctx context.Context, events port.EngineEvents, id domain.TransferID, state resumeState, resp *http.Response) {
	defer e.unregister(id)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		err := fmt.Errorf("download failed with status: %s", resp.Status)
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			events.OnFailed(id, domain.NewRetryableError(err, retryAfter(resp)), state.encode())
			return
		}
		events.OnFailed(id, err, nil)
		return
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		state.ETag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		state.LastModified = lm
	}
	partial := resp.StatusCode == http.StatusPartialContent
	total := expectedTotal(resp)

	if state.Destination == "" {
		decision := events.OnDestinationNeeded(id, suggestedFilename(resp, state.Request), total)
		if !decision.Writes() {
			e.logger.Debug("transfer not written",
				zap.String("transfer_id", string(id)),
				zap.Stringer("decision", decision),
			)
			events.OnFailed(id, domain.ErrTransferCanceled, nil)
			return
		}
		state.Destination = decision.Path
	}

	if partial {
		if err := e.checkRangeStart(resp, state.Destination); err != nil {
			events.OnFailed(id, err, nil)
			return
		}
	}

	limiter := ratelimiter.New(e.cfg.ProgressInterval)
	written, err := e.fs.WriteFile(state.Destination, resp.Body, partial, func(size int64) {
		if ok, _ := limiter.Allow(); ok {
			events.OnProgress(id, size, total)
		}
	})
	state.BytesWritten = written
	if err != nil {
		if ctx.Err() != nil {
			events.OnFailed(id, domain.ErrTransferCanceled, nil)
			return
		}
		events.OnFailed(id, domain.NewRetryableError(fmt.Errorf("download interrupted: %w", err), 0), state.encode())
		return
	}
	events.OnProgress(id, written, total)

	if total >= 0 && written != total {
		err := fmt.Errorf("short download: got %d of %d bytes", written, total)
		events.OnFailed(id, domain.NewRetryableError(err, 0), state.encode())
		return
	}
	events.OnCompleted(id)
}

// checkRangeStart verifies that a partial response continues the file on disk
func (e *Engine) checkRangeStart(resp *http.Response, path string) error {
	start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
	if !ok {
		return fmt.Errorf("invalid Content-Range %q", resp.Header.Get("Content-Range"))
	}
	size, exists, err := e.fs.FileSize(path)
	if err != nil {
		return err
	}
	if !exists {
		size = 0
	}
	if start != size {
		return fmt.Errorf("range starts at byte %d but %s has %d bytes", start, path, size)
	}
	return nil
}

func (e *Engine) spawn(fn func(events port.EngineEvents)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.events == nil {
		return ErrNotAttached
	}
	events := e.events
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(events)
	}()
	return nil
}

func (e *Engine) register(cancel context.CancelFunc) domain.TransferID {
	id := domain.TransferID(uuid.NewString())
	e.mu.Lock()
	e.transfers[id] = cancel
	e.mu.Unlock()
	return id
}

func (e *Engine) unregister(id domain.TransferID) {
	e.mu.Lock()
	cancel, ok := e.transfers[id]
	delete(e.transfers, id)
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

func (e *Engine) newRequest(ctx context.Context, req domain.Request, rangeStart int64, validator string) (*retryablehttp.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hreq, err := retryablehttp.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			hreq.Header.Add(key, v)
		}
	}
	if hreq.Header.Get("User-Agent") == "" && e.cfg.UserAgent != "" {
		hreq.Header.Set("User-Agent", e.cfg.UserAgent)
	}
	if rangeStart >= 0 {
		hreq.Header.Set(domain.HeaderRange, fmt.Sprintf("bytes=%d-", rangeStart))
		if validator != "" {
			hreq.Header.Set("If-Range", validator)
		}
	}
	return hreq, nil
}

// isDownload reports whether a navigation response should be saved as a file
func (e *Engine) isDownload(resp *http.Response) bool {
	if e.cfg.ShouldDownload != nil {
		return e.cfg.ShouldDownload(resp)
	}
	if disposition, _, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil &&
		disposition == "attachment" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	for _, t := range e.cfg.DownloadMIMETypes {
		if strings.EqualFold(mediaType, t) {
			return true
		}
	}
	return false
}

// suggestedFilename takes the Content-Disposition filename, falling back to the URL path
func suggestedFilename(resp *http.Response, req domain.Request) string {
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	if resp.Request != nil && resp.Request.URL != nil {
		return domain.FilenameFromURL(resp.Request.URL.String())
	}
	return domain.FilenameFromURL(req.URL)
}

// expectedTotal returns the full size of the file, or domain.UnknownTotal
func expectedTotal(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		cr := resp.Header.Get("Content-Range")
		if i := strings.LastIndexByte(cr, '/'); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil && n >= 0 {
				return n
			}
		}
		if start, ok := contentRangeStart(cr); ok && resp.ContentLength >= 0 {
			return start + resp.ContentLength
		}
		return domain.UnknownTotal
	}
	if resp.ContentLength < 0 {
		return domain.UnknownTotal
	}
	return resp.ContentLength
}

// contentRangeStart parses the first byte of "bytes 100-199/200"
func contentRangeStart(cr string) (int64, bool) {
	v, ok := strings.CutPrefix(strings.TrimSpace(cr), "bytes ")
	if !ok {
		return 0, false
	}
	start, _, ok := strings.Cut(v, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(start, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
