package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tandem/internal/engine"
	"github.com/roach88/tandem/internal/gateway/memory"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/testutil"
)

// settleTimeout bounds every wait on the engine or the backend.
const settleTimeout = 5 * time.Second

var (
	// errRemoteRejected is returned by the backend for a failure injected
	// with a fail step.
	errRemoteRejected = errors.New("remote rejected the request")

	// errConnectionLost ends a subscription on a drop step.
	errConnectionLost = errors.New("connection lost")
)

// Option configures a run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the engine. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// opFunc runs one engine operation and returns the key it targeted.
type opFunc func(ctx context.Context) (string, error)

type opResult struct {
	target string
	err    error
}

// asyncOp is an operation started by an async step.
type asyncOp struct {
	step   int
	action string
	gate   string
	done   chan opResult
	result *opResult
}

// Harness executes one scenario. It owns the engine, the backend and the
// gates held by the scenario.
type Harness struct {
	scenario *Scenario
	remote   *memory.Backend[Doc]
	engine   *engine.Engine[Doc]
	logger   *slog.Logger
	ctx      context.Context
	releases map[string]func()
	async    []*asyncOp
	result   *Result
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory backend with deterministic
// keys and clock. A non-nil error means the scenario could not be executed;
// failed expectations are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	clock := testutil.NewStepClock(Epoch.Add(1000*time.Second), time.Second)
	kind := DocKind(scenario.Kind)
	remote := memory.New(kind,
		memory.WithKeys(testutil.NewSequenceKeys("srv").Func()),
		memory.WithClock(clock.Now),
	)
	defer remote.Close()
	for _, r := range scenario.Seed {
		remote.Seed(r.Doc(""))
	}

	eng, err := engine.New(kind, remote,
		engine.WithKeyGenerator(testutil.NewSequenceKeys("tmp")),
		engine.WithClock(clock.Now),
		engine.WithLogger(o.logger),
		engine.WithStrict(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	runCtx, stopEngine := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = eng.Run(runCtx)
	}()

	opCtx, cancelOps := context.WithCancel(context.Background())
	h := &Harness{
		scenario: scenario,
		remote:   remote,
		engine:   eng,
		logger:   o.logger,
		ctx:      opCtx,
		releases: make(map[string]func()),
		result:   NewResult(),
	}
	defer func() {
		for _, release := range h.releases {
			release()
		}
		cancelOps()
		stopEngine()
		<-stopped
	}()

	for i, step := range scenario.Steps {
		if err := h.runStep(i, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Action(), err)
		}
	}
	return h.result, nil
}

func (h *Harness) runStep(i int, step Step) error {
	action := step.Action()
	var (
		target  string
		opErr   error
		awaited []string
	)

	switch action {
	case "":
	case ActionAwait:
		codes, err := h.await()
		if err != nil {
			return err
		}
		awaited = codes
	default:
		if op := h.operation(step); op != nil {
			if step.Async {
				if err := h.start(i, action, op); err != nil {
					return err
				}
				break
			}
			target, opErr = op(h.ctx)
			break
		}
		var err error
		target, opErr, err = h.control(step)
		if err != nil {
			return err
		}
	}

	if err := h.settle(); err != nil {
		return err
	}
	if action != "" && action != ActionAwait {
		h.result.AddTrace(TraceEvent{
			Step:   i,
			Action: action,
			Target: target,
			Async:  step.Async,
			Error:  errorCode(opErr),
			Keys:   h.engine.Keys(),
		})
	}

	h.logger.Debug("step completed", "step", i, "action", action, "target", target, "error", opErr)

	if step.Expect != nil {
		h.check(i, step.Expect, opErr, awaited)
	}
	return nil
}

// operation returns the engine call for a step, or nil when the step acts
// on the backend instead.
func (h *Harness) operation(step Step) opFunc {
	switch step.Action() {
	case ActionBind:
		return func(ctx context.Context) (string, error) {
			return step.Bind, h.engine.Bind(ctx, step.Bind)
		}
	case ActionUnbind:
		return func(ctx context.Context) (string, error) {
			return "", h.engine.Unbind(ctx)
		}
	case ActionRefetch:
		return func(ctx context.Context) (string, error) {
			return "", h.engine.Refetch(ctx)
		}
	case ActionCreate:
		return func(ctx context.Context) (string, error) {
			temp, err := h.engine.Create(ctx, Doc{Fields: step.Create})
			return temp.Key, err
		}
	case ActionUpdate:
		return func(ctx context.Context) (string, error) {
			_, err := h.engine.Update(ctx, step.Update.Key, func(d Doc) Doc {
				return d.withFields(step.Update.Fields)
			})
			return step.Update.Key, err
		}
	case ActionDelete:
		return func(ctx context.Context) (string, error) {
			return step.Delete, h.engine.Delete(ctx, step.Delete)
		}
	}
	return nil
}

// control runs a step that acts on the backend. A returned err aborts the
// run; opErr is the outcome of a partner write.
func (h *Harness) control(step Step) (target string, opErr, err error) {
	switch step.Action() {
	case ActionPush:
		op, _ := ir.ParseOperation(step.Push.Op)
		doc := step.Push.Record.Doc(h.boundScope())
		h.remote.Emit(ir.ChangeEvent[Doc]{Op: op, Scope: doc.Scope, Record: doc})
		return doc.Key, nil, nil

	case ActionPartner:
		op, _ := ir.ParseOperation(step.Partner.Op)
		doc := step.Partner.Record.Doc(h.boundScope())
		ack, applyErr := h.remote.Apply(op, doc)
		if ack.Key != "" {
			return ack.Key, applyErr, nil
		}
		return doc.Key, applyErr, nil

	case ActionFail:
		if step.Fail == GateFetch {
			h.remote.FailNextFetch(errRemoteRejected)
		} else {
			h.remote.FailNext(ir.Operation(step.Fail), errRemoteRejected)
		}
		return step.Fail, nil, nil

	case ActionHold:
		if _, held := h.releases[step.Hold]; held {
			return "", nil, fmt.Errorf("gate %s is already held", step.Hold)
		}
		if step.Hold == GateFetch {
			h.releases[step.Hold] = h.remote.HoldFetch()
		} else {
			h.releases[step.Hold] = h.remote.HoldMutations()
		}
		return step.Hold, nil, nil

	case ActionRelease:
		release, held := h.releases[step.Release]
		if !held {
			return "", nil, fmt.Errorf("gate %s is not held", step.Release)
		}
		delete(h.releases, step.Release)
		release()
		if err := h.finishParked(step.Release); err != nil {
			return "", nil, err
		}
		return step.Release, nil, nil

	case ActionDrop:
		scope := h.boundScope()
		if scope == "" {
			return "", nil, fmt.Errorf("drop requires a bound scope")
		}
		h.remote.Drop(scope, errConnectionLost)
		// The engine learns about the loss asynchronously.
		if err := waitFor("subscription loss", func() bool { return h.engine.Status().Stale }); err != nil {
			return "", nil, err
		}
		return scope, nil, nil
	}
	return "", nil, fmt.Errorf("unsupported action %q", step.Action())
}

// start launches op in the background and returns once it has finished or
// parked on a held gate.
func (h *Harness) start(step int, action string, op opFunc) error {
	before := h.remote.Waiting()
	a := &asyncOp{step: step, action: action, done: make(chan opResult, 1)}
	go func() {
		target, err := op(h.ctx)
		a.done <- opResult{target: target, err: err}
	}()
	h.async = append(h.async, a)

	err := waitFor(fmt.Sprintf("async %s to park", action), func() bool {
		if a.result == nil {
			select {
			case r := <-a.done:
				a.result = &r
			default:
			}
		}
		return a.result != nil || h.remote.Waiting() > before
	})
	if err != nil {
		return err
	}
	if a.result == nil {
		a.gate = gateOf(action)
	}
	return nil
}

// finishParked waits for the async operations parked on gate.
func (h *Harness) finishParked(gate string) error {
	for _, a := range h.async {
		if a.gate != gate || a.result != nil {
			continue
		}
		if err := a.wait(); err != nil {
			return err
		}
	}
	return nil
}

func (a *asyncOp) wait() error {
	select {
	case r := <-a.done:
		a.result = &r
		return nil
	case <-time.After(settleTimeout):
		return fmt.Errorf("async %s from step %d did not finish; is a gate still held?", a.action, a.step)
	}
}

// gateOf names the gate an operation parks on.
func gateOf(action string) string {
	switch action {
	case ActionBind, ActionRefetch:
		return GateFetch
	}
	return GateMutations
}

// await waits for every async operation in start order and traces each.
// It returns their error codes.
func (h *Harness) await() ([]string, error) {
	for _, a := range h.async {
		if a.result != nil {
			continue
		}
		if err := a.wait(); err != nil {
			return nil, err
		}
	}
	if err := h.settle(); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(h.async))
	keys := h.engine.Keys()
	for _, a := range h.async {
		code := errorCode(a.result.err)
		codes = append(codes, code)
		h.result.AddTrace(TraceEvent{
			Step:   a.step,
			Action: a.action,
			Target: a.result.target,
			Async:  true,
			Error:  code,
			Keys:   keys,
		})
	}
	h.async = nil
	return codes, nil
}

// settle waits until the engine has processed everything queued so far.
func (h *Harness) settle() error {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := h.engine.Flush(ctx); err != nil {
		return fmt.Errorf("engine did not settle: %w", err)
	}
	return nil
}

func (h *Harness) boundScope() string {
	return h.engine.Status().Scope
}

// waitFor polls cond until it holds or settleTimeout passes.
func waitFor(what string, cond func() bool) error {
	deadline := time.Now().Add(settleTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// errorCode renders an operation error for traces and expectations: the
// sync error code when there is one, else the message.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return err.Error()
}
