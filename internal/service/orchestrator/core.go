package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/download-orchestrator/internal/domain"
	"github.com/vertextoedge/download-orchestrator/internal/domain/event"
	"github.com/vertextoedge/download-orchestrator/internal/port"
	"github.com/vertextoedge/download-orchestrator/internal/service/destination"
	"github.com/vertextoedge/download-orchestrator/internal/service/dispatch"
	"github.com/vertextoedge/download-orchestrator/internal/service/progress"
	"github.com/vertextoedge/download-orchestrator/internal/service/registry"
	"github.com/vertextoedge/download-orchestrator/internal/service/retry"
	"github.com/vertextoedge/download-orchestrator/internal/util/ratelimiter"
)

// scheduleFunc arranges for a dispatch timeout of seq after d and returns a
// function that cancels it
type scheduleFunc func(seq uint64, d time.Duration) (stop func())

// afterFunc posts msg back to the core after d and returns a function that
// cancels it
type afterFunc func(d time.Duration, msg message) (stop func())

// Core is the orchestrator state machine. It owns the dispatch queue, the
// transfer registry and the progress tracker, and is driven one message at a
// time. It is not safe for concurrent use.
type Core struct {
	cfg      Config
	engine   port.Engine
	queue    *dispatch.Queue
	tracker  *progress.Tracker
	registry *registry.Registry
	resolver *destination.Resolver
	retry    *retry.Controller
	events   event.EventDispatcher
	throttle *ratelimiter.Group
	logger   *zap.Logger

	ctx      context.Context
	now      func() time.Time
	schedule scheduleFunc
	after    afterFunc

	// options of submitted downloads not yet started, FIFO per request ID
	pending map[string][]*downloadOptions
	// options of registered transfers
	transferOpts map[domain.TransferID]*downloadOptions
	stopTimer    func()
	// retries waiting out a Retry-After delay
	delayed  map[uint64]func()
	delaySeq uint64
}

func newCore(cfg Config, engine port.Engine, resolver *destination.Resolver, events event.EventDispatcher, logger *zap.Logger) *Core {
	tracker := progress.NewTracker(cfg.ProgressAge)
	c := &Core{
		cfg:          cfg,
		engine:       engine,
		tracker:      tracker,
		registry:     registry.New(tracker),
		resolver:     resolver,
		retry:        retry.NewController(cfg.RetryOverride, logger.Named("retry")),
		events:       events,
		throttle:     ratelimiter.NewGroup(cfg.ProgressEventInterval),
		logger:       logger,
		ctx:          context.Background(),
		now:          time.Now,
		pending:      make(map[string][]*downloadOptions),
		transferOpts: make(map[domain.TransferID]*downloadOptions),
		delayed:      make(map[uint64]func()),
	}
	c.queue = dispatch.New(c.forward, logger.Named("dispatch"))
	return c
}

// handle executes one message
func (c *Core) handle(msg message) {
	switch m := msg.(type) {
	case engineEvent:
		c.handleEvent(m)
	case cmdSubmitNavigation:
		c.queue.Submit(domain.PendingOperation{Kind: domain.OperationNavigate, Request: m.req})
	case cmdSubmitDownload:
		c.submitDownload(m.req, m.opts)
	case cmdDispatchTimeout:
		c.dispatchTimeout(m.seq, m.waited)
	case cmdResubmit:
		if _, ok := c.delayed[m.id]; ok {
			delete(c.delayed, m.id)
			c.queue.Submit(m.op)
		}
	case cmdCancel:
		m.reply <- c.cancel(m.id)
	case cmdReconfigure:
		c.reconfigure(m)
	default:
		c.logger.Warn("unknown message", zap.Any("message", msg))
	}
}

// handleEvent is the single entry point for engine callbacks
func (c *Core) handleEvent(ev engineEvent) {
	switch e := ev.(type) {
	case evAcknowledged:
		c.acknowledge()
	case evTransferStarted:
		c.transferStarted(e.id, e.req)
	case evProgress:
		c.progress(e.id, e.completed, e.total)
	case evDestinationNeeded:
		e.reply <- c.destinationNeeded(e.id, e.suggested, e.expectedTotal)
	case evCompleted:
		c.completed(e.id)
	case evFailed:
		c.failed(e.id, e.err, e.resumeData)
	case evNavigationFinished:
		ne := event.NavigationFinished{BaseEvent: c.base(), Request: e.req}
		if e.err != nil {
			ne.Error = e.err.Error()
		}
		c.events.Dispatch(ne)
	}
}

func (c *Core) base() event.BaseEvent {
	return event.BaseEvent{Timestamp: c.now()}
}

// forward is the queue's Forwarder: it issues one start call to the engine
func (c *Core) forward(op domain.PendingOperation) error {
	var err error
	switch op.Kind {
	case domain.OperationNavigate:
		err = c.engine.Navigate(c.ctx, op.Request)
	case domain.OperationStartDownload:
		err = c.engine.StartDownload(c.ctx, op.Request)
	case domain.OperationResumeDownload:
		err = c.engine.ResumeDownload(c.ctx, op.ResumeData)
	}

	if err != nil {
		derr := &domain.DispatchError{Kind: op.Kind, Err: err}
		if op.Kind != domain.OperationNavigate {
			c.popPending(op.Request.ID)
		}
		c.events.Dispatch(event.DispatchFailed{
			BaseEvent: c.base(),
			Seq:       op.Seq,
			Kind:      op.Kind,
			Request:   op.Request,
			Error:     derr.Error(),
		})
		return derr
	}

	c.armTimeout(op.Seq)
	if op.Kind == domain.OperationNavigate {
		c.events.Dispatch(event.NavigationDispatched{BaseEvent: c.base(), Seq: op.Seq, Request: op.Request})
	} else {
		c.events.Dispatch(event.DownloadDispatched{BaseEvent: c.base(), Seq: op.Seq, Kind: op.Kind, Request: op.Request})
	}
	return nil
}

func (c *Core) armTimeout(seq uint64) {
	if c.cfg.AckTimeout <= 0 || c.schedule == nil {
		return
	}
	c.stopTimer = c.schedule(seq, c.cfg.AckTimeout)
}

func (c *Core) disarmTimeout() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Core) acknowledge() {
	// a late acknowledgment for a released dispatch leaves the current timer armed
	if !c.queue.OwesAcknowledgment() {
		c.disarmTimeout()
	}
	_ = c.queue.Acknowledge()
}

func (c *Core) dispatchTimeout(seq uint64, waited time.Duration) {
	op, ok := c.queue.InFlight()
	if !ok || op.Seq != seq {
		return
	}
	c.stopTimer = nil
	c.events.Dispatch(event.DispatchTimedOut{
		BaseEvent: c.base(),
		Seq:       op.Seq,
		Kind:      op.Kind,
		Request:   op.Request,
		Waited:    waited,
	})
	c.queue.Release(seq)
}

func (c *Core) submitDownload(req domain.Request, opts *downloadOptions) {
	c.pending[req.ID] = append(c.pending[req.ID], opts)
	c.queue.Submit(domain.PendingOperation{Kind: domain.OperationStartDownload, Request: req})
}

func (c *Core) popPending(requestID string) *downloadOptions {
	queue := c.pending[requestID]
	if len(queue) == 0 {
		return nil
	}
	opts := queue[0]
	if len(queue) == 1 {
		delete(c.pending, requestID)
	} else {
		c.pending[requestID] = queue[1:]
	}
	return opts
}

func (c *Core) transferStarted(id domain.TransferID, req domain.Request) {
	if _, exists := c.registry.Get(id); exists {
		c.logger.Warn("transfer started twice", zap.String("transfer_id", string(id)))
		return
	}

	opts := c.popPending(req.ID)
	if opts == nil {
		// a navigation the engine turned into a download
		opts = newDownloadOptions(nil)
	}

	budget := c.cfg.RetryBudget
	if opts.retryBudget != nil {
		budget = *opts.retryBudget
	}

	t := domain.NewTransfer(id, req, budget, c.now())
	t.Attempt = opts.attempt
	t.ForcedRetry = opts.forcedRetry
	if opts.fixedPath != "" {
		_ = t.AssignDestination(opts.fixedPath)
	}

	if err := c.registry.Register(t); err != nil {
		c.logger.Error("failed to register transfer", zap.String("transfer_id", string(id)), zap.Error(err))
		return
	}
	c.transferOpts[id] = opts
	c.events.Dispatch(event.NewTransferStarted(t))
}

func (c *Core) progress(id domain.TransferID, completed, total int64) {
	t, ok := c.registry.UpdateProgress(id, completed, total, c.now())
	if !ok {
		return
	}
	if c.throttle.Allow(string(id)) {
		c.events.Dispatch(event.TransferProgressed{
			BaseEvent:      c.base(),
			TransferID:     id,
			BytesCompleted: t.BytesCompleted,
			BytesTotal:     t.BytesTotal,
		})
	}
}

func (c *Core) destinationNeeded(id domain.TransferID, suggested string, expectedTotal int64) domain.DestinationDecision {
	t, ok := c.registry.Get(id)
	if !ok {
		c.logger.Warn("destination requested for unknown transfer", zap.String("transfer_id", string(id)))
		return domain.Skip()
	}
	if expectedTotal >= 0 {
		t.BytesTotal = expectedTotal
	}

	// reissued transfers keep the destination of the transfer they replace
	if t.Destination != "" {
		decision := domain.Proceed(t.Destination)
		c.publishResolved(t, suggested, decision)
		return decision
	}

	opts, ok := c.transferOpts[id]
	if !ok {
		opts = newDownloadOptions(nil)
	}
	policy := c.cfg.Policy
	if opts.policy != nil {
		policy = *opts.policy
	}

	decision, err := c.resolver.Resolve(destination.Query{
		Request:       t.Request,
		Suggested:     suggested,
		ExpectedTotal: expectedTotal,
		Policy:        policy,
		PathFunc:      opts.pathFunc,
	})
	if err != nil {
		t.MarkDisposition(domain.DispositionAborted)
		t.LastError = err.Error()
		aborted := event.TransferAborted{BaseEvent: c.base(), TransferID: id, Error: err.Error()}
		var de *domain.DestinationError
		if errors.As(err, &de) {
			aborted.Destination = de.Path
		}
		c.events.Dispatch(aborted)
		return domain.Skip()
	}

	switch decision.Kind {
	case domain.DecisionProceed, domain.DecisionDeleteExistingThenProceed:
		if err := t.AssignDestination(decision.Path); err != nil {
			c.logger.Error("failed to assign destination", zap.String("transfer_id", string(id)), zap.Error(err))
		}
		c.publishResolved(t, suggested, decision)
	case domain.DecisionSkip:
		t.MarkDisposition(domain.DispositionSkipped)
		c.publishResolved(t, suggested, decision)
	case domain.DecisionResumeFrom:
		t.MarkDisposition(domain.DispositionSuperseded)
		c.publishResolved(t, suggested, decision)

		next := opts.clone()
		next.fixedPath = decision.Path
		budget := t.RetryBudget
		next.retryBudget = &budget
		next.attempt = t.Attempt
		c.submitDownload(t.Request.WithRange(decision.RangeStart), next)
	}
	return decision
}

func (c *Core) publishResolved(t *domain.Transfer, suggested string, decision domain.DestinationDecision) {
	c.events.Dispatch(event.DestinationResolved{
		BaseEvent:  c.base(),
		TransferID: t.ID,
		Suggested:  suggested,
		Decision:   decision,
	})
}

func (c *Core) completed(id domain.TransferID) {
	t, ok := c.registry.Get(id)
	if !ok {
		c.logger.Warn("completion for unknown transfer", zap.String("transfer_id", string(id)))
		return
	}
	now := c.now()
	if err := t.Transition(domain.StateCompleted, now); err != nil {
		c.logger.Warn("unexpected completion", zap.String("transfer_id", string(id)), zap.Error(err))
	}
	c.registry.Unregister(id)
	c.forget(id)
	c.events.Dispatch(event.NewTransferCompleted(t, now))
}

func (c *Core) failed(id domain.TransferID, cause error, resumeData []byte) {
	t, ok := c.registry.Get(id)
	if !ok {
		c.logger.Warn("failure for unknown transfer", zap.String("transfer_id", string(id)), zap.Error(cause))
		return
	}
	if cause == nil {
		cause = errors.New("transfer failed")
	}

	now := c.now()
	if err := t.Fail(cause, resumeData, now); err != nil {
		c.logger.Warn("unexpected failure", zap.String("transfer_id", string(id)), zap.Error(err))
		return
	}
	c.events.Dispatch(event.NewTransferFailed(t, now))
	c.logger.Debug("transfer failed",
		zap.String("transfer_id", string(id)),
		zap.Bool("retryable", domain.IsRetryable(cause)),
		zap.Bool("resumable", len(resumeData) > 0),
		zap.Error(cause),
	)

	c.registry.Unregister(id)
	opts := c.transferOpts[id]
	c.forget(id)

	if t.Disposition != domain.DispositionNone {
		_ = t.Transition(domain.StateCancelled, now)
		c.events.Dispatch(event.TransferCancelled{
			BaseEvent:   c.base(),
			TransferID:  id,
			RequestID:   t.Request.ID,
			Disposition: t.Disposition,
		})
		return
	}

	verdict := c.retry.Decide(retry.Failure{
		TransferID:  id,
		Request:     t.Request,
		Err:         cause,
		ResumeData:  resumeData,
		RetryBudget: t.RetryBudget,
		ForcedRetry: t.ForcedRetry,
	})
	_ = t.Transition(verdict.Outcome.State(), now)

	switch verdict.Outcome {
	case retry.OutcomeRetrying:
		next := opts.clone()
		next.fixedPath = t.Destination
		budget := verdict.ChildBudget
		next.retryBudget = &budget
		next.attempt = t.Attempt + 1
		next.forcedRetry = t.ForcedRetry || verdict.Forced
		delay := c.retryDelay(cause)

		c.events.Dispatch(event.TransferRetrying{
			BaseEvent:      c.base(),
			TransferID:     id,
			RequestID:      t.Request.ID,
			Destination:    t.Destination,
			RemainingRetry: budget,
			Forced:         verdict.Forced,
			Delay:          delay,
		})
		c.pending[t.Request.ID] = append(c.pending[t.Request.ID], next)
		c.resubmit(domain.PendingOperation{
			Kind:       domain.OperationResumeDownload,
			Request:    t.Request,
			ResumeData: resumeData,
		}, delay)
	case retry.OutcomeExhausted:
		c.events.Dispatch(event.TransferExhausted{BaseEvent: c.base(), TransferID: id, RequestID: t.Request.ID, Error: t.LastError})
	case retry.OutcomeAbandoned:
		c.events.Dispatch(event.TransferAbandoned{BaseEvent: c.base(), TransferID: id, RequestID: t.Request.ID, Error: t.LastError})
	}
}

func (c *Core) forget(id domain.TransferID) {
	delete(c.transferOpts, id)
	c.throttle.Forget(string(id))
}

func (c *Core) cancel(id domain.TransferID) error {
	t, ok := c.registry.Get(id)
	if !ok {
		return domain.ErrTransferNotFound
	}
	t.MarkDisposition(domain.DispositionCancelled)
	return c.engine.Cancel(id)
}

func (c *Core) reconfigure(m cmdReconfigure) {
	if m.policy != nil {
		c.cfg.Policy = *m.policy
	}
	if m.retryBudget != nil {
		c.cfg.RetryBudget = max(*m.retryBudget, 0)
	}
	c.logger.Info("orchestrator reconfigured",
		zap.Stringer("policy", c.cfg.Policy),
		zap.Int("retry_budget", c.cfg.RetryBudget),
	)
}

// snapshot captures state readable from other goroutines
func (c *Core) snapshot() *state {
	return &state{
		progress:  c.registry.Progress(),
		children:  c.tracker.Children(),
		transfers: c.registry.Active(),
		queue:     c.queue.Stats(),
	}
}

type state struct {
	progress  domain.AggregateProgress
	children  []domain.ChildProgress
	transfers []domain.Transfer
	queue     domain.QueueStats
}

// retryDelay returns the server-requested wait before retrying after cause,
// capped at MaxRetryDelay
func (c *Core) retryDelay(cause error) time.Duration {
	if c.after == nil || c.cfg.MaxRetryDelay <= 0 {
		return 0
	}
	d, ok := domain.GetRetryAfter(cause)
	if !ok {
		return 0
	}
	return min(d, c.cfg.MaxRetryDelay)
}

// resubmit queues op now, or once delay has elapsed
func (c *Core) resubmit(op domain.PendingOperation, delay time.Duration) {
	if delay <= 0 {
		c.queue.Submit(op)
		return
	}
	c.delaySeq++
	id := c.delaySeq
	c.delayed[id] = c.after(delay, cmdResubmit{id: id, op: op})
	c.logger.Info("retry delayed by server",
		zap.String("request_id", op.Request.ID),
		zap.Duration("delay", delay),
	)
}

// stopDelayed cancels retries still waiting out their delay
func (c *Core) stopDelayed() {
	for id, stop := range c.delayed {
		stop()
		delete(c.delayed, id)
	}
}
