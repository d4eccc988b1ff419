// Package sqlitegw serves a kind from a SQLite file shared by several
// processes. Writes go through internal/store; subscriptions tail its change
// log by polling.
package sqlitegw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/store"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBatch        = 256
)

// Option configures a Gateway.
type Option func(*options)

type options struct {
	poll   time.Duration
	batch  int
	keys   func() string
	now    func() time.Time
	logger *slog.Logger
}

// WithPollInterval sets how often subscriptions read the change log.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithBatch caps the changes read per poll.
func WithBatch(n int) Option {
	return func(o *options) {
		o.batch = n
	}
}

// WithKeys sets the generator for keys assigned to inserts.
func WithKeys(fn func() string) Option {
	return func(o *options) {
		o.keys = fn
	}
}

// WithClock sets the clock stamping inserts.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		o.now = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Gateway implements gateway.Gateway over a store.Store.
type Gateway[R any] struct {
	kind   ir.Kind[R]
	store  *store.Store
	poll   time.Duration
	batch  int
	keys   func() string
	now    func() time.Time
	logger *slog.Logger
}

var _ gateway.Gateway[struct{}] = (*Gateway[struct{}])(nil)

// New creates a gateway for kind over st. The caller owns st.
func New[R any](kind ir.Kind[R], st *store.Store, opts ...Option) *Gateway[R] {
	o := options{
		poll:   defaultPollInterval,
		batch:  defaultBatch,
		keys:   func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Gateway[R]{
		kind:   kind,
		store:  st,
		poll:   o.poll,
		batch:  o.batch,
		keys:   o.keys,
		now:    o.now,
		logger: o.logger.With("gateway", "sqlite", "kind", kind.Name),
	}
}

// FetchAll implements gateway.Gateway.
func (g *Gateway[R]) FetchAll(ctx context.Context, scope string) ([]R, error) {
	rows, err := g.store.Records(ctx, g.kind.Name, scope)
	if err != nil {
		return nil, err
	}
	out := make([]R, 0, len(rows))
	for _, row := range rows {
		r, err := gateway.DecodeRecord[R](row.Payload)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", g.kind.Name, row.Key, err)
		}
		out = append(out, r)
	}
	slices.SortFunc(out, g.kind.Compare)
	return out, nil
}

// Mutate implements gateway.Gateway.
func (g *Gateway[R]) Mutate(ctx context.Context, op ir.Operation, record R) (ir.Ack, error) {
	if op == ir.OpInsert {
		record = g.kind.Stamp(record, g.keys(), g.kind.Scope(record), g.now())
	}
	scope, key := g.kind.Scope(record), g.kind.Key(record)

	switch op {
	case ir.OpInsert, ir.OpUpdate:
		payload, err := gateway.EncodeRecord(record)
		if err != nil {
			return ir.Ack{}, err
		}
		write := g.store.Insert
		if op == ir.OpUpdate {
			write = g.store.Update
		}
		seq, err := write(ctx, g.kind.Name, scope, key, payload)
		if errors.Is(err, store.ErrNotFound) {
			return ir.Ack{}, fmt.Errorf("%s %q: %w", g.kind.Name, key, gateway.ErrNotFound)
		}
		if err != nil {
			return ir.Ack{}, err
		}
		return ir.Ack{Key: key, Seq: seq}, nil
	case ir.OpDelete:
		seq, _, err := g.store.Delete(ctx, g.kind.Name, scope, key)
		if err != nil {
			return ir.Ack{}, err
		}
		return ir.Ack{Key: key, Seq: seq}, nil
	}
	return ir.Ack{}, fmt.Errorf("unsupported operation %q", op)
}

// Subscribe implements gateway.Gateway. Delivery starts with the first
// change committed after the call.
func (g *Gateway[R]) Subscribe(ctx context.Context, scope string, onEvent func(ir.ChangeEvent[R])) (gateway.Subscription, error) {
	cursor, err := g.store.LatestSeq(ctx, g.kind.Name, scope)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", g.kind.Name, scope, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	h := gateway.NewHandle(cancel)
	go g.tail(pollCtx, h, scope, cursor, onEvent)
	return h, nil
}

// tail polls the change log from cursor until the handle finishes.
func (g *Gateway[R]) tail(ctx context.Context, h *gateway.Handle, scope string, cursor int64, onEvent func(ir.ChangeEvent[R])) {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Cancel()
			return
		case <-ticker.C:
		}

		changes, err := g.store.ChangesSince(ctx, g.kind.Name, scope, cursor, g.batch)
		if err != nil {
			if ctx.Err() != nil {
				h.Cancel()
				return
			}
			g.logger.Warn("change log poll failed", "scope", scope, "cursor", cursor, "error", err)
			h.Fail(fmt.Errorf("poll changes: %w", err))
			return
		}

		for _, c := range changes {
			cursor = c.Seq
			r, err := gateway.DecodeRecord[R](c.Payload)
			if err != nil {
				g.logger.Warn("skipping undecodable change", "seq", c.Seq, "key", c.Key, "error", err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			onEvent(ir.ChangeEvent[R]{Op: c.Op, Scope: c.Scope, Record: r, Seq: c.Seq})
		}
	}
}
