// Package orchestrator drives a navigation/download engine: it serializes
// start calls, tracks transfers, resolves destinations and retries failures.
//
// All state lives on one goroutine started by Start. Public methods and engine
// callbacks post messages to it and never block, except
// EngineEvents.OnDestinationNeeded, which waits for the decision and must
// therefore be called from an engine goroutine.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/service/destination"
)

// Orchestrator is the caller-facing download orchestrator
type Orchestrator struct {
	core       *Core
	mbox       *mailbox
	dispatcher event.EventDispatcher
	logger     *zap.Logger
	state      atomic.Pointer[state]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	// set by a Stop that arrives before Start
	stopRequested bool
	stopped       chan struct{}
}

// New creates an orchestrator and attaches it to engine
func New(cfg *Config, engine port.Engine, resolver *destination.Resolver, dispatcher event.EventDispatcher, logger *zap.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	o := &Orchestrator{
		mbox:       newMailbox(),
		dispatcher: dispatcher,
		logger:     logger,
		stopped:    make(chan struct{}),
	}

	c := *cfg
	c.RetryBudget = max(c.RetryBudget, 0)
	o.core = newCore(c, engine, resolver, dispatcher, logger)
	o.core.schedule = o.scheduleTimeout
	o.core.after = o.postAfter
	o.state.Store(o.core.snapshot())

	engine.Attach(&sink{o: o})
	return o
}

// Start runs the orchestrator loop until ctx is cancelled or Stop is called
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	select {
	case <-o.stopped:
		o.mu.Unlock()
		return domain.ErrStopped
	default:
	}
	o.running = true
	ctx, o.cancel = context.WithCancel(ctx)
	early := o.stopRequested
	o.mu.Unlock()

	if early {
		o.cancel()
		o.shutdown()
		o.logger.Info("orchestrator stopped before start")
		return nil
	}

	o.core.ctx = ctx
	o.logger.Info("orchestrator started",
		zap.Stringer("policy", o.core.cfg.Policy),
		zap.Int("retry_budget", o.core.cfg.RetryBudget),
		zap.Duration("ack_timeout", o.core.cfg.AckTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			o.logger.Info("orchestrator stopped")
			return nil
		case <-o.mbox.notify:
			for _, msg := range o.mbox.drain() {
				o.core.handle(msg)
			}
			o.state.Store(o.core.snapshot())
		}
	}
}

// Stop stops the orchestrator loop
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
		return
	}
	o.stopRequested = true
}

// shutdown answers callers still waiting on the mailbox
func (o *Orchestrator) shutdown() {
	o.core.disarmTimeout()
	o.core.stopDelayed()
	for _, msg := range o.mbox.close() {
		switch m := msg.(type) {
		case evDestinationNeeded:
			m.reply <- domain.Skip()
		case cmdCancel:
			m.reply <- domain.ErrStopped
		}
	}
	close(o.stopped)

	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) scheduleTimeout(seq uint64, d time.Duration) func() {
	t := time.AfterFunc(d, func() {
		o.mbox.post(cmdDispatchTimeout{seq: seq, waited: d})
	})
	return func() { t.Stop() }
}

func (o *Orchestrator) postAfter(d time.Duration, msg message) func() {
	t := time.AfterFunc(d, func() { o.mbox.post(msg) })
	return func() { t.Stop() }
}

func (o *Orchestrator) post(msg message) error {
	if !o.mbox.post(msg) {
		return domain.ErrStopped
	}
	return nil
}

// SubmitNavigation queues a page load and returns the request with its correlation ID
func (o *Orchestrator) SubmitNavigation(ctx context.Context, req domain.Request) (domain.Request, error) {
	if err := ctx.Err(); err != nil {
		return req, err
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	req = req.EnsureID().Clone()
	return req, o.post(cmdSubmitNavigation{req: req})
}

// SubmitDownload queues a download and returns the request with its correlation ID
func (o *Orchestrator) SubmitDownload(ctx context.Context, req domain.Request, opts ...DownloadOption) (domain.Request, error) {
	if err := ctx.Err(); err != nil {
		return req, err
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	req = req.EnsureID().Clone()
	return req, o.post(cmdSubmitDownload{req: req, opts: newDownloadOptions(opts)})
}

// Cancel asks the engine to stop an active transfer
func (o *Orchestrator) Cancel(ctx context.Context, id domain.TransferID) error {
	reply := make(chan error, 1)
	if err := o.post(cmdCancel{id: id, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPolicy changes the default existing-file policy for new transfers
func (o *Orchestrator) SetPolicy(p domain.ExistingFilePolicy) error {
	return o.post(cmdReconfigure{policy: &p})
}

// SetRetryBudget changes the default retry budget for new transfers
func (o *Orchestrator) SetRetryBudget(n int) error {
	return o.post(cmdReconfigure{retryBudget: &n})
}

// AggregateProgress returns the summed progress of active transfers
func (o *Orchestrator) AggregateProgress() domain.AggregateProgress {
	return o.state.Load().progress
}

// ChildProgress returns per-transfer progress
func (o *Orchestrator) ChildProgress() []domain.ChildProgress {
	return o.state.Load().children
}

// Transfers returns the active transfers in start order
func (o *Orchestrator) Transfers() []domain.Transfer {
	return o.state.Load().transfers
}

// QueueStats returns dispatch queue statistics
func (o *Orchestrator) QueueStats() domain.QueueStats {
	return o.state.Load().queue
}

// Subscribe registers an event handler
func (o *Orchestrator) Subscribe(handler event.EventHandler) {
	o.dispatcher.Subscribe(handler)
}

// Unsubscribe removes an event handler
func (o *Orchestrator) Unsubscribe(handler event.EventHandler) {
	o.dispatcher.Unsubscribe(handler)
}

// sink receives engine callbacks and posts them to the orchestrator
type sink struct {
	o *Orchestrator
}

var _ port.EngineEvents = (*sink)(nil)

func (s *sink) OnAcknowledged() {
	s.o.mbox.post(evAcknowledged{})
}

func (s *sink) OnTransferStarted(id domain.TransferID, original domain.Request) {
	s.o.mbox.post(evTransferStarted{id: id, req: original.Clone()})
}

func (s *sink) OnProgress(id domain.TransferID, completed, total int64) {
	s.o.mbox.post(evProgress{id: id, completed: completed, total: total})
}

func (s *sink) OnDestinationNeeded(id domain.TransferID, suggestedFilename string, expectedTotal int64) domain.DestinationDecision {
	reply := make(chan domain.DestinationDecision, 1)
	if !s.o.mbox.post(evDestinationNeeded{id: id, suggested: suggestedFilename, expectedTotal: expectedTotal, reply: reply}) {
		return domain.Skip()
	}
	select {
	case d := <-reply:
		return d
	case <-s.o.stopped:
		select {
		case d := <-reply:
			return d
		default:
			return domain.Skip()
		}
	}
}

func (s *sink) OnCompleted(id domain.TransferID) {
	s.o.mbox.post(evCompleted{id: id})
}

func (s *sink) OnFailed(id domain.TransferID, err error, resumeData []byte) {
	s.o.mbox.post(evFailed{id: id, err: err, resumeData: resumeData})
}

func (s *sink) OnNavigationFinished(req domain.Request, err error) {
	s.o.mbox.post(evNavigationFinished{req: req, err: err})
}
