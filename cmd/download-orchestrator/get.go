package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/logger"
	"github.com/vertextoedge/download-orchestrator/internal/service/orchestrator"
)

type getOptions struct {
	dir      string
	policy   string
	filename string
	retries  int
	navigate bool
	quiet    bool
}

func newGetCmd() *cobra.Command {
	opts := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get URL [URL...]",
		Short: "Download one or more URLs and wait for them to finish",
		Long: `Download one or more URLs through the orchestrator.

Requests are handed to the engine one at a time in the order given; the
transfers themselves run concurrently. An existing destination file is
resumed, replaced or skipped according to --policy. The command exits
non-zero if any download fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.filename != "" && len(args) > 1 {
				return fmt.Errorf("--output can only be used with a single URL")
			}
			return runGet(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "Download directory (overrides downloads.dir)")
	cmd.Flags().StringVarP(&opts.policy, "policy", "p", "", "Existing file policy: resume, delete or ignore")
	cmd.Flags().StringVarP(&opts.filename, "output", "o", "", "File name to save a single download as")
	cmd.Flags().IntVarP(&opts.retries, "retries", "r", -1, "Retry budget per download (default downloads.retry_budget)")
	cmd.Flags().BoolVar(&opts.navigate, "navigate", false, "Load URLs as pages and keep only those that turn into downloads")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Disable progress output")
	return cmd
}

func runGet(parent context.Context, urls []string, opts *getOptions) error {
	cfg, zapLogger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if opts.dir != "" {
		cfg.Downloads.Dir = opts.dir
	}
	var downloadOpts []orchestrator.DownloadOption
	if opts.policy != "" {
		policy, err := domain.ParsePolicy(opts.policy)
		if err != nil {
			return err
		}
		downloadOpts = append(downloadOpts, orchestrator.WithPolicy(policy))
	}
	if opts.retries >= 0 {
		downloadOpts = append(downloadOpts, orchestrator.WithRetryBudget(opts.retries))
	}
	if opts.filename != "" {
		name := domain.SanitizeFilename(opts.filename)
		downloadOpts = append(downloadOpts, orchestrator.WithPathFunc(func(string, int64) string {
			return name
		}))
	}

	a, err := newApp(cfg, zapLogger)
	if err != nil {
		return err
	}
	defer a.Close()

	ui := newProgressUI(len(urls), a.orch.AggregateProgress, opts.quiet)
	session := newGetSession(ui)
	a.orch.Subscribe(session)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchCtx, cancelOrch := context.WithCancel(ctx)
	orchDone := make(chan error, 1)
	go func() { orchDone <- a.orch.Start(orchCtx) }()

	for _, raw := range urls {
		req, err := domain.NewRequest(raw)
		if err != nil {
			session.expect(raw, raw)
			session.resolve(raw, raw, err)
			continue
		}
		session.expect(req.ID, raw)

		if opts.navigate {
			_, err = a.orch.SubmitNavigation(ctx, req)
		} else {
			_, err = a.orch.SubmitDownload(ctx, req, downloadOpts...)
		}
		if err != nil {
			session.resolve(req.ID, raw, err)
		}
	}

	select {
	case <-session.done:
	case <-ctx.Done():
		zapLogger.Warn("interrupted, stopping downloads")
	}

	cancelOrch()
	if err := <-orchDone; err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Error("orchestrator stopped with error", zap.Error(err))
	}
	ui.Wait()

	return session.summary()
}

// getResult is the outcome of one requested URL
type getResult struct {
	url         string
	destination string
	size        int64
	skipped     bool
	noDownload  bool
	err         error
	finished    bool
}

// getSession follows orchestrator events for the URLs of one get invocation
type getSession struct {
	ui *progressUI

	mu         sync.Mutex
	order      []string
	results    map[string]*getResult
	transfers  map[domain.TransferID]string
	lastErr    map[domain.TransferID]string
	unfinished int
	done       chan struct{}
}

func newGetSession(ui *progressUI) *getSession {
	return &getSession{
		ui:        ui,
		results:   make(map[string]*getResult),
		transfers: make(map[domain.TransferID]string),
		lastErr:   make(map[domain.TransferID]string),
		done:      make(chan struct{}),
	}
}

// HandledEvents returns the events that drive the progress output
func (s *getSession) HandledEvents() []string {
	return []string{
		event.NameTransferStarted,
		event.NameTransferProgressed,
		event.NameDestinationResolved,
		event.NameTransferAborted,
		event.NameTransferCompleted,
		event.NameTransferCancelled,
		event.NameTransferExhausted,
		event.NameTransferAbandoned,
		event.NameDispatchFailed,
		event.NameDispatchTimedOut,
		event.NameNavigationFinished,
	}
}

func (s *getSession) expect(requestID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[requestID]; ok {
		return
	}
	s.order = append(s.order, requestID)
	s.results[requestID] = &getResult{url: url}
	s.unfinished++
}

func (s *getSession) requestOf(id domain.TransferID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[id]
}

// Handle updates results and bars
func (s *getSession) Handle(e event.DomainEvent) error {
	switch ev := e.(type) {
	case event.TransferStarted:
		s.mu.Lock()
		s.transfers[ev.TransferID] = ev.Request.ID
		r, ok := s.results[ev.Request.ID]
		s.mu.Unlock()
		if ok {
			s.ui.start(ev.Request.ID, r.url)
		}
	case event.TransferProgressed:
		if reqID := s.requestOf(ev.TransferID); reqID != "" {
			s.ui.update(reqID, ev.BytesCompleted, ev.BytesTotal)
		}
	case event.DestinationResolved:
		if reqID := s.requestOf(ev.TransferID); reqID != "" && ev.Decision.Path != "" {
			s.mu.Lock()
			if r, ok := s.results[reqID]; ok {
				r.destination = ev.Decision.Path
			}
			s.mu.Unlock()
			s.ui.rename(reqID, filepath.Base(ev.Decision.Path))
		}
	case event.TransferAborted:
		s.mu.Lock()
		s.lastErr[ev.TransferID] = ev.Error
		s.mu.Unlock()
	case event.TransferCompleted:
		s.mu.Lock()
		if r, ok := s.results[ev.RequestID]; ok {
			r.destination = ev.Destination
			r.size = ev.Size
		}
		s.mu.Unlock()
		s.resolve(ev.RequestID, ev.Destination, nil)
	case event.TransferCancelled:
		s.cancelled(ev)
	case event.TransferExhausted:
		s.resolve(ev.RequestID, "", fmt.Errorf("retries exhausted: %s", ev.Error))
	case event.TransferAbandoned:
		s.resolve(ev.RequestID, "", errors.New(ev.Error))
	case event.DispatchFailed:
		s.resolve(ev.Request.ID, ev.Request.URL, errors.New(ev.Error))
	case event.DispatchTimedOut:
		s.timedOut(ev)
	case event.NavigationFinished:
		if ev.Error != "" {
			s.resolve(ev.Request.ID, ev.Request.URL, errors.New(ev.Error))
			return nil
		}
		s.mu.Lock()
		if r, ok := s.results[ev.Request.ID]; ok {
			r.noDownload = true
		}
		s.mu.Unlock()
		s.resolve(ev.Request.ID, ev.Request.URL+" (page, no download)", nil)
	}
	return nil
}

// timedOut fails a request whose start call was never acknowledged. A
// transfer that already started keeps reporting on its own.
func (s *getSession) timedOut(ev event.DispatchTimedOut) {
	s.mu.Lock()
	started := false
	for _, reqID := range s.transfers {
		if reqID == ev.Request.ID {
			started = true
			break
		}
	}
	s.mu.Unlock()
	if started {
		return
	}
	s.resolve(ev.Request.ID, ev.Request.URL,
		fmt.Errorf("%s %w after %s", ev.Kind, domain.ErrDispatchTimeout, ev.Waited))
}

func (s *getSession) cancelled(ev event.TransferCancelled) {
	switch ev.Disposition {
	case domain.DispositionSuperseded:
		// a ranged transfer with the same request ID takes over
		return
	case domain.DispositionSkipped:
		s.mu.Lock()
		if r, ok := s.results[ev.RequestID]; ok {
			r.skipped = true
		}
		s.mu.Unlock()
		s.resolve(ev.RequestID, "skipped, destination exists", nil)
	case domain.DispositionAborted:
		s.mu.Lock()
		msg := s.lastErr[ev.TransferID]
		s.mu.Unlock()
		if msg == "" {
			msg = "destination could not be prepared"
		}
		s.resolve(ev.RequestID, "", errors.New(msg))
	default:
		s.resolve(ev.RequestID, "", domain.ErrTransferCanceled)
	}
}

// resolve records the final outcome of a request; later outcomes are ignored
func (s *getSession) resolve(requestID, msg string, err error) {
	s.mu.Lock()
	r, ok := s.results[requestID]
	if !ok || r.finished {
		s.mu.Unlock()
		return
	}
	r.finished = true
	r.err = err
	if msg == "" {
		msg = r.url
	}
	s.unfinished--
	last := s.unfinished == 0
	s.mu.Unlock()

	s.ui.finish(requestID, msg, err)
	if last {
		close(s.done)
	}
}

// summary prints one line per request and returns an error if any failed
func (s *getSession) summary() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	for _, id := range s.order {
		r := s.results[id]
		switch {
		case !r.finished:
			failed++
			fmt.Fprintf(s.ui.out, "✗ %s: interrupted\n", r.url)
		case r.err != nil:
			failed++
			fmt.Fprintf(s.ui.out, "✗ %s: %v\n", r.url, r.err)
		case r.skipped:
			fmt.Fprintf(s.ui.out, "- %s: skipped, destination exists\n", r.url)
		case r.noDownload:
			fmt.Fprintf(s.ui.out, "- %s: page loaded, no download\n", r.url)
		default:
			fmt.Fprintf(s.ui.out, "✓ %s → %s (%s)\n", r.url, r.destination, humanize.IBytes(uint64(max(r.size, 0))))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(s.order))
	}
	return nil
}
