// Package pggw serves a kind from Postgres. Records live in tandem_records;
// every write sends a gateway envelope with pg_notify on the kind's channel
// inside the writing transaction, so listeners only hear committed changes.
//
// NOTIFY payloads are limited to 8000 bytes, which bounds record size.
package pggw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roach88/tandem/internal/gateway"
	"github.com/roach88/tandem/internal/ir"
)

// ErrExists is returned when an insert collides with a stored key.
var ErrExists = errors.New("pggw: record already exists")

// Option configures a Gateway.
type Option func(*options)

type options struct {
	keys   func() string
	now    func() time.Time
	logger *slog.Logger
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

// Gateway implements gateway.Gateway over Postgres.
//
// Queries go through db. Each subscription holds its own pgx connection to
// listenURL, since LISTEN is bound to a session.
type Gateway[R any] struct {
	kind      ir.Kind[R]
	db        *sql.DB
	listenURL string
	keys      func() string
	now       func() time.Time
	logger    *slog.Logger
}

var _ gateway.Gateway[struct{}] = (*Gateway[struct{}])(nil)

// New creates a gateway for kind. Run Migrate on db first.
func New[R any](kind ir.Kind[R], db *sql.DB, listenURL string, opts ...Option) *Gateway[R] {
	o := options{
		keys:   func() string { return uuid.Must(uuid.NewV7()).String() },
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Gateway[R]{
		kind:      kind,
		db:        db,
		listenURL: listenURL,
		keys:      o.keys,
		now:       o.now,
		logger:    o.logger.With("gateway", "postgres", "kind", kind.Name),
	}
}

// Channel returns the NOTIFY channel of the gateway's kind.
func (g *Gateway[R]) Channel() string {
	return ChannelName(g.kind.Name)
}

// ChannelName returns the NOTIFY channel for a kind name.
func ChannelName(kind string) string {
	return "tandem_" + kind
}

// FetchAll implements gateway.Gateway.
func (g *Gateway[R]) FetchAll(ctx context.Context, scope string) ([]R, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT key, payload::text FROM tandem_records
		WHERE kind = $1 AND scope_id = $2
		ORDER BY seq ASC, key ASC
	`, g.kind.Name, scope)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", g.kind.Name, scope, err)
	}
	defer rows.Close()

	out := []R{}
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", g.kind.Name, err)
		}
		r, err := gateway.DecodeRecord[R]([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", g.kind.Name, key, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", g.kind.Name, err)
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

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Ack{}, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	switch op {
	case ir.OpInsert, ir.OpUpdate:
		payload, err := gateway.EncodeRecord(record)
		if err != nil {
			return ir.Ack{}, err
		}
		query := `
			INSERT INTO tandem_records (kind, key, scope_id, payload, seq)
			VALUES ($1, $2, $3, $4::jsonb, nextval('tandem_change_seq'))
			ON CONFLICT (kind, key) DO NOTHING
			RETURNING seq`
		missing := ErrExists
		if op == ir.OpUpdate {
			query = `
				UPDATE tandem_records SET payload = $4::jsonb, seq = nextval('tandem_change_seq')
				WHERE kind = $1 AND key = $2 AND scope_id = $3
				RETURNING seq`
			missing = gateway.ErrNotFound
		}
		err = tx.QueryRowContext(ctx, query, g.kind.Name, key, scope, string(payload)).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Ack{}, fmt.Errorf("%s %s %q: %w", op, g.kind.Name, key, missing)
		}
		if err != nil {
			return ir.Ack{}, fmt.Errorf("%s %s %q: %w", op, g.kind.Name, key, err)
		}
	case ir.OpDelete:
		var payload string
		err := tx.QueryRowContext(ctx, `
			DELETE FROM tandem_records
			WHERE kind = $1 AND key = $2 AND scope_id = $3
			RETURNING payload::text
		`, g.kind.Name, key, scope).Scan(&payload)
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Ack{Key: key}, nil
		}
		if err != nil {
			return ir.Ack{}, fmt.Errorf("delete %s %q: %w", g.kind.Name, key, err)
		}
		if record, err = gateway.DecodeRecord[R]([]byte(payload)); err != nil {
			return ir.Ack{}, err
		}
		if err := tx.QueryRowContext(ctx, `SELECT nextval('tandem_change_seq')`).Scan(&seq); err != nil {
			return ir.Ack{}, fmt.Errorf("delete: next seq: %w", err)
		}
	default:
		return ir.Ack{}, fmt.Errorf("unsupported operation %q", op)
	}

	msg, err := gateway.MarshalEnvelope(g.kind, op, seq, record)
	if err != nil {
		return ir.Ack{}, err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, g.Channel(), string(msg)); err != nil {
		return ir.Ack{}, fmt.Errorf("%s: notify: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return ir.Ack{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return ir.Ack{Key: key, Seq: seq}, nil
}

// Subscribe implements gateway.Gateway. It opens a dedicated connection and
// returns once LISTEN is active.
func (g *Gateway[R]) Subscribe(ctx context.Context, scope string, onEvent func(ir.ChangeEvent[R])) (gateway.Subscription, error) {
	conn, err := pgx.Connect(ctx, g.listenURL)
	if err != nil {
		return nil, fmt.Errorf("listen connect: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{g.Channel()}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", g.Channel(), err)
	}

	listenCtx, cancel := context.WithCancel(ctx)
	h := gateway.NewHandle(cancel)
	go g.listen(listenCtx, h, conn, scope, onEvent)
	return h, nil
}

func (g *Gateway[R]) listen(ctx context.Context, h *gateway.Handle, conn *pgx.Conn, scope string, onEvent func(ir.ChangeEvent[R])) {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				h.Cancel()
				return
			}
			g.logger.Warn("listen connection lost", "scope", scope, "error", err)
			h.Fail(fmt.Errorf("wait for notification: %w", err))
			return
		}

		ev, env, err := gateway.UnmarshalEvent[R]([]byte(n.Payload))
		if err != nil {
			g.logger.Warn("skipping undecodable notification", "channel", n.Channel, "error", err)
			continue
		}
		if env.Scope != scope {
			continue
		}
		onEvent(ev)
	}
}
