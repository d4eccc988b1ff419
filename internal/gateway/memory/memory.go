// Package memory is an in-process remote source. It backs the scenario
// harness and the engine tests, and exposes controls to inject failures,
// hold remote calls open and emit out-of-band push events.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/ir"
)

// Option configures a Backend.
type Option func(*options)

type options struct {
	keys func() string
	now  func() time.Time
}

// WithKeys sets the generator for server-assigned keys.
func WithKeys(fn func() string) Option {
	return func(o *options) {
		o.keys = fn
	}
}

// WithClock sets the server clock used to stamp inserts.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		o.now = fn
	}
}

type subscriber[R any] struct {
	scope  string
	fn     func(ir.ChangeEvent[R])
	handle *gateway.Handle
}

// Backend implements gateway.Gateway in memory.
//
// Change events are delivered synchronously, in commit order, on the
// goroutine that committed them.
type Backend[R any] struct {
	kind ir.Kind[R]
	keys func() string
	now  func() time.Time

	mu             sync.Mutex
	rows           map[string]map[string]R
	seq            int64
	subs           map[*subscriber[R]]struct{}
	closed         bool
	fetchFailures  []error
	mutateFailures map[ir.Operation][]error
	fetchGate      chan struct{}
	mutateGate     chan struct{}
	waiting        int
	mutations      int

	// pubMu keeps delivery in commit order across concurrent writers.
	pubMu sync.Mutex
}

var _ gateway.Gateway[struct{}] = (*Backend[struct{}])(nil)

// New creates an empty backend for kind.
func New[R any](kind ir.Kind[R], opts ...Option) *Backend[R] {
	o := options{
		keys: func() string { return uuid.Must(uuid.NewV7()).String() },
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Backend[R]{
		kind:           kind,
		keys:           o.keys,
		now:            o.now,
		rows:           make(map[string]map[string]R),
		subs:           make(map[*subscriber[R]]struct{}),
		mutateFailures: make(map[ir.Operation][]error),
	}
}

// FetchAll implements gateway.Gateway.
func (b *Backend[R]) FetchAll(ctx context.Context, scope string) ([]R, error) {
	if err := b.await(ctx, func() chan struct{} { return b.fetchGate }); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, gateway.ErrClosed
	}
	if len(b.fetchFailures) > 0 {
		err := b.fetchFailures[0]
		b.fetchFailures = b.fetchFailures[1:]
		return nil, err
	}
	return b.listLocked(scope), nil
}

// Mutate implements gateway.Gateway.
func (b *Backend[R]) Mutate(ctx context.Context, op ir.Operation, record R) (ir.Ack, error) {
	if err := b.await(ctx, func() chan struct{} { return b.mutateGate }); err != nil {
		return ir.Ack{}, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ir.Ack{}, gateway.ErrClosed
	}
	b.mutations++
	if queued := b.mutateFailures[op]; len(queued) > 0 {
		b.mutateFailures[op] = queued[1:]
		b.mu.Unlock()
		return ir.Ack{}, queued[0]
	}
	if op == ir.OpInsert {
		record = b.kind.Stamp(record, b.keys(), b.kind.Scope(record), b.now())
	}
	return b.commitLocked(op, record)
}

// Subscribe implements gateway.Gateway.
func (b *Backend[R]) Subscribe(ctx context.Context, scope string, onEvent func(ir.ChangeEvent[R])) (gateway.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, gateway.ErrClosed
	}
	sub := &subscriber[R]{scope: scope, fn: onEvent}
	sub.handle = gateway.NewHandle(func() { b.removeSubscriber(sub) })
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.monitorContext(ctx, sub)
	return sub.handle, nil
}

// Seed stores records without publishing events.
func (b *Backend[R]) Seed(records ...R) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.putLocked(r)
	}
}

// Apply commits a write made by another client and publishes it. Inserts
// keep the record's key when it has one.
func (b *Backend[R]) Apply(op ir.Operation, record R) (ir.Ack, error) {
	b.mu.Lock()
	if op == ir.OpInsert && b.kind.Key(record) == "" {
		record = b.kind.Stamp(record, b.keys(), b.kind.Scope(record), b.now())
	}
	return b.commitLocked(op, record)
}

// Emit delivers ev to the scope's subscribers without touching stored rows.
// Used to simulate duplicate or late deliveries.
func (b *Backend[R]) Emit(ev ir.ChangeEvent[R]) {
	b.mu.Lock()
	subs := b.subscribersLocked(ev.Scope)
	b.pubMu.Lock()
	b.mu.Unlock()
	defer b.pubMu.Unlock()
	deliver(subs, ev)
}

// Drop ends every subscription on scope with err, as a lost connection would.
func (b *Backend[R]) Drop(scope string, err error) {
	b.mu.Lock()
	subs := b.subscribersLocked(scope)
	for _, sub := range subs {
		delete(b.subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		sub.handle.Fail(err)
	}
}

// FailNext makes the next Mutate with op return err.
func (b *Backend[R]) FailNext(op ir.Operation, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mutateFailures[op] = append(b.mutateFailures[op], err)
}

// FailNextFetch makes the next FetchAll return err.
func (b *Backend[R]) FailNextFetch(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchFailures = append(b.fetchFailures, err)
}

// HoldFetch parks every FetchAll until the returned release is called.
func (b *Backend[R]) HoldFetch() (release func()) {
	return b.hold(&b.fetchGate)
}

// HoldMutations parks every Mutate until the returned release is called.
func (b *Backend[R]) HoldMutations() (release func()) {
	return b.hold(&b.mutateGate)
}

// Waiting returns the number of calls parked on a held gate.
func (b *Backend[R]) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

// Mutations returns the number of Mutate calls that reached the backend.
func (b *Backend[R]) Mutations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mutations
}

// Subscribers returns the number of live subscriptions on scope.
func (b *Backend[R]) Subscribers(scope string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribersLocked(scope))
}

// Records returns the stored records of scope in the kind's order.
func (b *Backend[R]) Records(scope string) []R {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listLocked(scope)
}

// Close fails every subscription and rejects further calls.
func (b *Backend[R]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber[R], 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscriber[R]]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.handle.Fail(gateway.ErrClosed)
	}
	return nil
}

// commitLocked applies a write and publishes it. Called with b.mu held;
// returns with it released.
func (b *Backend[R]) commitLocked(op ir.Operation, record R) (ir.Ack, error) {
	scope, key := b.kind.Scope(record), b.kind.Key(record)
	switch op {
	case ir.OpInsert:
		b.putLocked(record)
	case ir.OpUpdate:
		if _, ok := b.rows[scope][key]; !ok {
			b.mu.Unlock()
			return ir.Ack{}, fmt.Errorf("%s %q: %w", b.kind.Name, key, gateway.ErrNotFound)
		}
		b.putLocked(record)
	case ir.OpDelete:
		old, ok := b.rows[scope][key]
		if !ok {
			b.mu.Unlock()
			return ir.Ack{Key: key}, nil
		}
		delete(b.rows[scope], key)
		record = old
	default:
		b.mu.Unlock()
		return ir.Ack{}, fmt.Errorf("unsupported operation %q", op)
	}

	b.seq++
	ev := ir.ChangeEvent[R]{Op: op, Scope: scope, Record: record, Seq: b.seq}
	subs := b.subscribersLocked(scope)
	b.pubMu.Lock()
	b.mu.Unlock()
	deliver(subs, ev)
	b.pubMu.Unlock()

	return ir.Ack{Key: key, Seq: ev.Seq}, nil
}

func (b *Backend[R]) putLocked(r R) {
	scope := b.kind.Scope(r)
	if b.rows[scope] == nil {
		b.rows[scope] = make(map[string]R)
	}
	b.rows[scope][b.kind.Key(r)] = r
}

func (b *Backend[R]) listLocked(scope string) []R {
	out := make([]R, 0, len(b.rows[scope]))
	for _, r := range b.rows[scope] {
		out = append(out, r)
	}
	slices.SortFunc(out, b.kind.Compare)
	return out
}

func (b *Backend[R]) subscribersLocked(scope string) []*subscriber[R] {
	var out []*subscriber[R]
	for sub := range b.subs {
		if sub.scope == scope {
			out = append(out, sub)
		}
	}
	return out
}

func (b *Backend[R]) removeSubscriber(sub *subscriber[R]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

func (b *Backend[R]) monitorContext(ctx context.Context, sub *subscriber[R]) {
	select {
	case <-ctx.Done():
		sub.handle.Cancel()
	case <-sub.handle.Done():
	}
}

func (b *Backend[R]) hold(gate *chan struct{}) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{})
	*gate = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if *gate == ch {
				*gate = nil
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Backend[R]) await(ctx context.Context, gate func() chan struct{}) error {
	b.mu.Lock()
	ch := gate()
	if ch == nil {
		b.mu.Unlock()
		return nil
	}
	b.waiting++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.waiting--
		b.mu.Unlock()
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deliver[R any](subs []*subscriber[R], ev ir.ChangeEvent[R]) {
	for _, sub := range subs {
		select {
		case <-sub.handle.Done():
			continue
		default:
		}
		sub.fn(ev)
	}
}
