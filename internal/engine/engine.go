package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/replica"
)

// Status is a point-in-time view of an engine for the UI layer.
//
// Stale is set when the push channel was lost and cleared by the next
// successful refetch. Err is the last remote failure reported.
type Status struct {
	Scope   string
	Bound   bool
	Loading bool
	Stale   bool
	Pending int
	Err     error
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	keys     KeyGenerator
	now      func() time.Time
	logger   *slog.Logger
	onError  func(error)
	onChange func()
	strict   bool
}

// WithKeyGenerator sets the temporary key source. Default: TempKeys.
func WithKeyGenerator(g KeyGenerator) EngineOption {
	return func(c *engineConfig) {
		c.keys = g
	}
}

// WithClock sets the wall clock used to stamp pending creates.
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) {
		c.now = now
	}
}

// WithLogger sets the engine logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		c.logger = l
	}
}

// WithErrorHandler registers a callback for every remote failure (fetch,
// mutate, subscription). It may run on any goroutine and must not block.
func WithErrorHandler(fn func(error)) EngineOption {
	return func(c *engineConfig) {
		c.onError = fn
	}
}

// WithChangeHandler registers a callback run on the loop goroutine after
// every event that changed the store or the status. It must not block or
// call back into the engine's blocking methods.
func WithChangeHandler(fn func()) EngineOption {
	return func(c *engineConfig) {
		c.onChange = fn
	}
}

// WithStrict makes foreign-scope store writes panic.
func WithStrict(strict bool) EngineOption {
	return func(c *engineConfig) {
		c.strict = strict
	}
}

// pendingCreate shadows a record inserted optimistically under a temporary
// key until its authoritative insert arrives.
type pendingCreate[R any] struct {
	record      R
	tempKey     string
	scope       string
	gen         int64
	created     time.Time
	fingerprint string
	serverKey   string
}

// Engine keeps one kind's replica in sync with a remote gateway.
//
// All store writes happen on the Run goroutine. Public methods either read
// the store directly (List, Get, Status) or submit a command to the loop and
// wait for it; remote calls run on the caller's goroutine, never on the loop.
//
// Run must be running for Bind, Refetch, Create, Update, Delete and Flush
// to make progress.
type Engine[R any] struct {
	kind     ir.Kind[R]
	gateway  gateway.Gateway[R]
	store    *replica.Store[R]
	queue    *eventQueue[R]
	clock    *Clock
	gate     *keyGate
	keys     KeyGenerator
	now      func() time.Time
	logger   *slog.Logger
	onError  func(error)
	onChange func()

	stopped  chan struct{}
	stopOnce sync.Once

	// Loop-owned state. Only touched on the Run goroutine.
	runCtx      context.Context
	scope       string
	bound       bool
	scopeGen    int64
	epoch       int64
	fetchSeq    int64
	loading     bool
	buffer      []ir.ChangeEvent[R]
	sub         gateway.Subscription
	subLost     bool
	cancelEpoch context.CancelFunc
	pending     []*pendingCreate[R]
	promoted    map[string]struct{}
	dirty       bool

	statusMu sync.RWMutex
	status   Status
}

// New creates an unbound engine for kind over gw.
func New[R any](kind ir.Kind[R], gw gateway.Gateway[R], opts ...EngineOption) (*Engine[R], error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	if gw == nil {
		return nil, fmt.Errorf("engine %s: gateway is required", kind.Name)
	}

	cfg := engineConfig{
		keys:   TempKeys{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger.With("kind", kind.Name)
	return &Engine[R]{
		kind:     kind,
		gateway:  gw,
		store:    replica.New(kind, replica.WithStrict(cfg.strict), replica.WithLogger(logger)),
		queue:    newEventQueue[R](),
		clock:    NewClock(),
		gate:     newKeyGate(),
		keys:     cfg.keys,
		now:      cfg.now,
		logger:   logger,
		onError:  cfg.onError,
		onChange: cfg.onChange,
		stopped:  make(chan struct{}),
		runCtx:   context.Background(),
		promoted: make(map[string]struct{}),
	}, nil
}

// Kind returns the engine's entity kind.
func (e *Engine[R]) Kind() ir.Kind[R] {
	return e.kind
}

// Name returns the kind name.
func (e *Engine[R]) Name() string {
	return e.kind.Name
}

// Run processes events until ctx is cancelled or Stop is called.
// It must be called from exactly one goroutine, once.
func (e *Engine[R]) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.logger.Info("engine starting")
	defer e.shutdown()

	for {
		if ev, ok := e.queue.TryDequeue(); ok {
			e.processEvent(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		case <-e.queue.Wait():
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop shuts the loop down. Pending commands fail with ErrStopped.
func (e *Engine[R]) Stop() {
	e.queue.Close()
}

// Flush waits until every event enqueued before the call has been processed.
func (e *Engine[R]) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event[R]{Type: EventTypeCommand, Command: func() {}, Done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// List returns the replica in display order.
func (e *Engine[R]) List() []R {
	return e.store.List()
}

// Keys returns the replica's keys in display order.
func (e *Engine[R]) Keys() []string {
	return e.store.Keys()
}

// Get returns the record under key.
func (e *Engine[R]) Get(key string) (R, bool) {
	return e.store.Get(key)
}

// Len returns the number of records in the replica.
func (e *Engine[R]) Len() int {
	return e.store.Len()
}

// Snapshot returns an immutable copy of the replica.
func (e *Engine[R]) Snapshot() replica.Snapshot[R] {
	return e.store.Snapshot()
}

// Status returns the engine's current status.
func (e *Engine[R]) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// do runs fn on the loop and waits for it. The wait ignores the caller's
// context: a command, once queued, always runs, and the loop never blocks.
func (e *Engine[R]) do(fn func()) error {
	done := make(chan struct{})
	if !e.queue.Enqueue(Event[R]{Type: EventTypeCommand, Command: fn, Done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrStopped
	}
}

func (e *Engine[R]) processEvent(ev Event[R]) {
	switch ev.Type {
	case EventTypeCommand:
		ev.Command()
		e.dirty = true
		if ev.Done != nil {
			close(ev.Done)
		}
	case EventTypeChange:
		e.handleChange(ev)
	case EventTypeDropped:
		e.handleDropped(ev)
	default:
		e.logger.Error("unknown event type", "type", ev.Type)
	}

	if e.dirty {
		e.dirty = false
		e.publishStatus()
		if e.onChange != nil {
			e.onChange()
		}
	}
}

func (e *Engine[R]) shutdown() {
	e.queue.Close()
	e.teardown()
	e.stopOnce.Do(func() { close(e.stopped) })
}

// teardown cancels the current subscription. Loop only.
func (e *Engine[R]) teardown() {
	if e.cancelEpoch != nil {
		e.cancelEpoch()
		e.cancelEpoch = nil
	}
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
	e.buffer = nil
}

func (e *Engine[R]) publishStatus() {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.Scope = e.scope
	e.status.Bound = e.bound
	e.status.Loading = e.loading
	e.status.Stale = e.subLost
	e.status.Pending = len(e.pending)
}

// report surfaces a remote failure to the status and the error handler.
func (e *Engine[R]) report(err error) {
	e.statusMu.Lock()
	e.status.Err = err
	e.statusMu.Unlock()

	e.logger.Warn("sync error", "code", CodeOf(err), "error", err)
	if e.onError != nil {
		e.onError(err)
	}
}
