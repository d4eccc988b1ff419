package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/gateway/memory"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/testutil"
)

type msg struct {
	ID      string    `json:"id"`
	Pairing string    `json:"pairing_id"`
	Body    string    `json:"body"`
	At      time.Time `json:"created_at"`
}

var msgs = ir.Kind[msg]{
	Name:    "msgs",
	Key:     func(m msg) string { return m.ID },
	Scope:   func(m msg) string { return m.Pairing },
	Less:    func(a, b msg) bool { return a.At.Before(b.At) },
	Content: func(m msg) map[string]any { return map[string]any{"body": m.Body} },
	Stamp: func(m msg, key, scope string, at time.Time) msg {
		m.ID, m.Pairing, m.At = key, scope, at
		return m
	},
}

var epochStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epochStart.Add(time.Duration(sec) * time.Second)
}

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) add(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	remote *memory.Backend[msg]
	eng    *Engine[msg]
	errs   *errorLog
}

// newFixture starts an engine over a memory backend with deterministic
// keys ("tmp-N" local, "srv-N" remote) and a clock starting after at(1000).
func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	clock := testutil.NewStepClock(at(1000), time.Second)
	remote := memory.New(msgs,
		memory.WithKeys(testutil.NewSequenceKeys("srv").Func()),
		memory.WithClock(clock.Now),
	)
	return newFixtureOver(t, remote, remote, clock, opts...)
}

func newFixtureOver(t *testing.T, remote *memory.Backend[msg], gw gateway.Gateway[msg], clock *testutil.StepClock, opts ...EngineOption) *fixture {
	t.Helper()
	errs := &errorLog{}
	base := []EngineOption{
		WithKeyGenerator(testutil.NewSequenceKeys("tmp")),
		WithClock(clock.Now),
		WithStrict(true),
		WithErrorHandler(errs.add),
	}
	eng, err := New(msgs, gw, append(base, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &fixture{t: t, ctx: context.Background(), remote: remote, eng: eng, errs: errs}
}

func (f *fixture) flush() {
	f.t.Helper()
	require.NoError(f.t, f.eng.Flush(f.ctx))
}

func (f *fixture) bind(scope string) {
	f.t.Helper()
	require.NoError(f.t, f.eng.Bind(f.ctx, scope))
}

func (f *fixture) waitParked(n int) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.remote.Waiting() == n }, 2*time.Second, time.Millisecond)
}

func (f *fixture) body(key string) string {
	f.t.Helper()
	m, ok := f.eng.Get(key)
	require.True(f.t, ok, "key %s missing", key)
	return m.Body
}

func setBody(body string) func(msg) msg {
	return func(m msg) msg {
		m.Body = body
		return m
	}
}

// ackOnly acknowledges inserts with a fixed key without touching the
// backend, so no push event follows. Fetch and subscribe go to the backend.
type ackOnly struct {
	*memory.Backend[msg]
	key string
}

func (g ackOnly) Mutate(_ context.Context, op ir.Operation, r msg) (ir.Ack, error) {
	return ir.Ack{Key: g.key}, nil
}
