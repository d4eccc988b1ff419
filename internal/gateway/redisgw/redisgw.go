// Package redisgw serves a kind from Redis: one hash per scope holds the
// records, and every committed change is published as a gateway envelope
// on the scope's channel.
//
// Keys, for prefix "tandem", kind "messages" and scope "P1":
//
//	tandem:messages:P1          HASH   key -> record JSON
//	tandem:messages:P1:seq      STRING change counter
//	tandem:messages:P1:changes  channel of envelopes
package redisgw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/ir"
)

// DefaultPrefix namespaces every key the gateway touches.
const DefaultPrefix = "tandem"

// maxWatchRetries bounds optimistic-lock retries per mutation.
const maxWatchRetries = 8

// ErrExists is returned when an insert collides with a stored key.
var ErrExists = errors.New("redisgw: record already exists")

// errNoop aborts a delete of a missing key without writing.
var errNoop = errors.New("noop")

// NewClient connects to redisURL and checks the connection.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	prefix string
	keys   func() string
	now    func() time.Time
	logger *slog.Logger
}

// WithPrefix sets the key namespace. Default: DefaultPrefix.
func WithPrefix(p string) Option {
	return func(o *options) {
		if p != "" {
			o.prefix = p
		}
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

// Gateway implements gateway.Gateway over Redis.
type Gateway[R any] struct {
	kind   ir.Kind[R]
	client *redis.Client
	prefix string
	keys   func() string
	now    func() time.Time
	logger *slog.Logger
}

var _ gateway.Gateway[struct{}] = (*Gateway[struct{}])(nil)

// New creates a gateway for kind. The caller owns client.
func New[R any](kind ir.Kind[R], client *redis.Client, opts ...Option) *Gateway[R] {
	o := options{
		prefix: DefaultPrefix,
		keys:   func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Gateway[R]{
		kind:   kind,
		client: client,
		prefix: o.prefix,
		keys:   o.keys,
		now:    o.now,
		logger: o.logger.With("gateway", "redis", "kind", kind.Name),
	}
}

func (g *Gateway[R]) hashKey(scope string) string {
	return g.prefix + ":" + g.kind.Name + ":" + scope
}

func (g *Gateway[R]) seqKey(scope string) string {
	return g.hashKey(scope) + ":seq"
}

// Channel returns the pub/sub channel carrying scope's changes.
func (g *Gateway[R]) Channel(scope string) string {
	return g.hashKey(scope) + ":changes"
}

// FetchAll implements gateway.Gateway.
func (g *Gateway[R]) FetchAll(ctx context.Context, scope string) ([]R, error) {
	fields, err := g.client.HGetAll(ctx, g.hashKey(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", g.kind.Name, scope, err)
	}
	out := make([]R, 0, len(fields))
	for key, payload := range fields {
		r, err := gateway.DecodeRecord[R]([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", g.kind.Name, key, err)
		}
		out = append(out, r)
	}
	slices.SortFunc(out, g.kind.Compare)
	return out, nil
}

// Mutate implements gateway.Gateway. The record write and the publish run
// in one MULTI/EXEC under WATCH on the scope's hash.
func (g *Gateway[R]) Mutate(ctx context.Context, op ir.Operation, record R) (ir.Ack, error) {
	switch op {
	case ir.OpInsert:
		record = g.kind.Stamp(record, g.keys(), g.kind.Scope(record), g.now())
	case ir.OpUpdate, ir.OpDelete:
	default:
		return ir.Ack{}, fmt.Errorf("unsupported operation %q", op)
	}
	scope, key := g.kind.Scope(record), g.kind.Key(record)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		seq, err := g.commit(ctx, op, scope, key, record)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			g.logger.Debug("watch conflict, retrying", "op", op, "key", key, "attempt", attempt)
			continue
		case errors.Is(err, errNoop):
			return ir.Ack{Key: key}, nil
		case err != nil:
			return ir.Ack{}, err
		}
		return ir.Ack{Key: key, Seq: seq}, nil
	}
	return ir.Ack{}, fmt.Errorf("%s %s %q: too many concurrent writers", op, g.kind.Name, key)
}

func (g *Gateway[R]) commit(ctx context.Context, op ir.Operation, scope, key string, record R) (int64, error) {
	hash := g.hashKey(scope)
	var seq int64

	err := g.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.HGet(ctx, hash, key).Result()
		exists := err == nil
		if err != nil && err != redis.Nil {
			return fmt.Errorf("read %s %q: %w", g.kind.Name, key, err)
		}

		switch {
		case op == ir.OpInsert && exists:
			return fmt.Errorf("%s %q: %w", g.kind.Name, key, ErrExists)
		case op == ir.OpUpdate && !exists:
			return fmt.Errorf("%s %q: %w", g.kind.Name, key, gateway.ErrNotFound)
		case op == ir.OpDelete && !exists:
			return errNoop
		case op == ir.OpDelete:
			if record, err = gateway.DecodeRecord[R]([]byte(stored)); err != nil {
				return err
			}
		}

		payload, err := gateway.EncodeRecord(record)
		if err != nil {
			return err
		}
		if seq, err = tx.Incr(ctx, g.seqKey(scope)).Result(); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}
		msg, err := gateway.MarshalEnvelope(g.kind, op, seq, record)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if op == ir.OpDelete {
				pipe.HDel(ctx, hash, key)
			} else {
				pipe.HSet(ctx, hash, key, payload)
			}
			pipe.Publish(ctx, g.Channel(scope), msg)
			return nil
		})
		return err
	}, hash)
	return seq, err
}

// Subscribe implements gateway.Gateway. It returns once the channel
// subscription is confirmed by the server.
func (g *Gateway[R]) Subscribe(ctx context.Context, scope string, onEvent func(ir.ChangeEvent[R])) (gateway.Subscription, error) {
	ps := g.client.Subscribe(ctx, g.Channel(scope))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", g.Channel(scope), err)
	}

	h := gateway.NewHandle(func() { ps.Close() })
	go g.listen(ctx, h, ps.Channel(), onEvent)
	return h, nil
}

func (g *Gateway[R]) listen(ctx context.Context, h *gateway.Handle, msgs <-chan *redis.Message, onEvent func(ir.ChangeEvent[R])) {
	for {
		select {
		case <-ctx.Done():
			h.Cancel()
			return
		case <-h.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.Fail(gateway.ErrSubscriptionLost)
				return
			}
			ev, env, err := gateway.UnmarshalEvent[R]([]byte(msg.Payload))
			if err != nil {
				g.logger.Warn("skipping undecodable change", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Kind != g.kind.Name {
				continue
			}
			onEvent(ev)
		}
	}
}
