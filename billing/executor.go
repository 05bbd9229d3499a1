package billing

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Executor runs requests against a Service, connecting it lazily.
//
// Requests issued while disconnected start a connection and wait for it;
// requests issued while a connection is in flight queue behind it. Only one
// connection attempt is ever in flight. Failed setups and dropped connections
// go through the retry policy.
type Executor struct {
	log      *zap.Logger
	listener Listener
	policy   RetryPolicy
	sched    Scheduler
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	svc        Service
	state      State
	generation uint64
	retries    int
	pending    []*Request
	origin     []*Request
	timers     map[uint64]Timer
	timerSeq   uint64
	setupCode  ResponseCode
	setupKnown bool
	closed     bool
}

func NewExecutor(
	log *zap.Logger,
	svc Service,
	listener Listener,
	policy RetryPolicy,
	sched Scheduler,
	metrics *Metrics,
) *Executor {
	if sched == nil {
		sched = timeScheduler{}
	}
	if listener == nil {
		listener = NoOpListener{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Executor{
		log:      log,
		listener: listener,
		policy:   policy,
		sched:    sched,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		svc:      svc,
		timers:   make(map[uint64]Timer),
	}
}

// Execute runs r now if the service is connected, otherwise once a
// connection has been established.
func (e *Executor) Execute(r *Request) {
	e.execute([]*Request{r})
}

func (e *Executor) execute(reqs []*Request) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.log.Debug("Executor is closed, dropping requests", zap.Int("num_requests", len(reqs)))
		return
	}

	switch e.state {
	case StateConnected:
		svc := e.svc
		e.mu.Unlock()
		e.run(svc, reqs)
		return
	case StateConnecting:
		e.pending = append(e.pending, reqs...)
		e.mu.Unlock()
		return
	}

	e.pending = append(e.pending, reqs...)
	e.state = StateConnecting
	e.generation++
	attempt := &connectionAttempt{executor: e, generation: e.generation}
	svc := e.svc
	e.mu.Unlock()

	e.log.Debug("Starting service connection", zap.Uint64("generation", attempt.generation))
	e.metrics.connectionAttempt()
	svc.StartConnection(attempt)
}

func (e *Executor) run(svc Service, reqs []*Request) {
	for _, r := range reqs {
		if !r.run(e.ctx, svc) {
			e.log.Debug("Skipping request", zap.String("request_id", r.ID.String()), zap.Stringer("kind", r.Kind))
			continue
		}
		e.metrics.requestExecuted(r.Kind)
	}
}

func (e *Executor) onSetupFinished(generation uint64, code ResponseCode) {
	log := e.log.With(
		zap.Uint64("generation", generation),
		zap.Stringer("code", code),
	)

	e.mu.Lock()
	if e.closed || generation != e.generation || e.state != StateConnecting {
		e.mu.Unlock()
		log.Debug("Ignoring stale setup callback")
		return
	}

	e.setupCode, e.setupKnown = code, true
	reqs := e.pending
	e.pending = nil

	if code.IsOK() {
		e.state = StateConnected
		e.retries = 0
		e.origin = reqs
		svc := e.svc
		e.mu.Unlock()

		log.Debug("Setup finished", zap.Int("num_requests", len(reqs)))
		e.metrics.setupResult(code)

		e.run(svc, reqs)
		e.listener.OnSetupFinished()
		return
	}

	e.state = StateDisconnected
	e.mu.Unlock()

	log.Warn("Setup failed")
	e.metrics.setupResult(code)

	var retry []*Request
	var flowFailed bool
	for _, r := range reqs {
		if r.Kind == RequestKindPurchaseFlow {
			// The purchase flow is user initiated, it is reported and dropped
			// rather than retried.
			if r.drop() {
				flowFailed = true
			}
			continue
		}
		retry = append(retry, r)
	}

	if flowFailed {
		e.listener.OnPurchaseFlowFailed(code)
		if len(retry) == 0 {
			return
		}
	}

	e.listener.OnDisconnected(code)
	e.retry(retry)
}

func (e *Executor) onServiceDisconnected(generation uint64) {
	log := e.log.With(zap.Uint64("generation", generation))

	e.mu.Lock()
	if e.closed || generation != e.generation {
		e.mu.Unlock()
		log.Debug("Ignoring stale disconnect callback")
		return
	}

	var reqs []*Request
	switch e.state {
	case StateConnected:
		reqs = e.origin
	case StateConnecting:
		reqs = e.pending
	default:
		// Already handled by a failed setup.
		e.mu.Unlock()
		return
	}

	e.state = StateDisconnected
	e.pending = nil
	e.origin = nil
	e.mu.Unlock()

	log.Info("Service disconnected", zap.Int("num_requests", len(reqs)))
	e.retry(reqs)
}

// retry schedules a single reconnection that re-executes reqs, unless the
// retry budget is spent.
func (e *Executor) retry(reqs []*Request) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	if e.retries >= e.policy.MaxRetries {
		retries := e.retries
		e.mu.Unlock()

		e.log.Info("Retry limit reached, giving up", zap.Int("retries", retries))
		e.metrics.retryExhausted()
		return
	}

	e.retries++
	attempt := e.retries
	delay := e.policy.delay(attempt)

	e.timerSeq++
	id := e.timerSeq
	e.timers[id] = e.sched.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.timers, id)
		e.mu.Unlock()

		e.execute(reqs)
	})
	e.mu.Unlock()

	e.log.Debug("Scheduled reconnection",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Int("num_requests", len(reqs)),
	)
	e.metrics.retryScheduled()
}

// Close ends the connection if it is ready and releases the service. Every
// later call is a no-op and scheduled reconnections never fire.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	e.closed = true
	svc := e.svc
	e.svc = nil
	e.state = StateDisconnected
	e.pending = nil
	e.origin = nil
	timers := e.timers
	e.timers = make(map[uint64]Timer)
	e.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
	e.cancel()

	if svc != nil && svc.IsReady() {
		e.log.Debug("Ending service connection")
		svc.EndConnection()
	}
}

func (e *Executor) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Retries returns the current value of the retry counter.
func (e *Executor) Retries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retries
}

// SetupResponseCode returns the code of the last setup callback, if any was
// received.
func (e *Executor) SetupResponseCode() (ResponseCode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setupCode, e.setupKnown
}

// Context is cancelled when the executor is closed.
func (e *Executor) Context() context.Context {
	return e.ctx
}

// connectionAttempt ties service callbacks to the attempt that produced them,
// so late callbacks of an older connection are ignored.
type connectionAttempt struct {
	executor   *Executor
	generation uint64
}

func (a *connectionAttempt) OnSetupFinished(code ResponseCode) {
	a.executor.onSetupFinished(a.generation, code)
}

func (a *connectionAttempt) OnServiceDisconnected() {
	a.executor.onServiceDisconnected(a.generation)
}
