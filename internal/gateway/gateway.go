// Package gateway defines the boundary between the replica engine and the
// remote, multi-writer data source, plus the pieces shared by every backend.
//
// Backends live in subpackages: memory (in-process, used by tests and the
// scenario harness), sqlitegw (a shared SQLite file polled for changes),
// redisgw (hash per scope plus pub/sub) and pggw (Postgres with
// LISTEN/NOTIFY).
package gateway

import (
	"context"
	"errors"

	"github.com/roach88/tandem/internal/ir"
)

var (
	// ErrNotFound is returned by Mutate when an update targets a missing key.
	ErrNotFound = errors.New("gateway: record not found")

	// ErrClosed is returned after the gateway was closed.
	ErrClosed = errors.New("gateway: closed")

	// ErrSubscriptionLost is the Err of a subscription that ended without
	// being cancelled.
	ErrSubscriptionLost = errors.New("gateway: subscription lost")
)

// Gateway is the remote source for one entity kind.
type Gateway[R any] interface {
	// FetchAll returns every record of scope.
	FetchAll(ctx context.Context, scope string) ([]R, error)

	// Mutate applies op to the remote source. Inserts ignore the record's
	// key and return the authoritative one in Ack.Key. Deleting a missing
	// key succeeds.
	Mutate(ctx context.Context, op ir.Operation, record R) (ir.Ack, error)

	// Subscribe delivers every change committed in scope, the caller's own
	// included, until the subscription is cancelled or lost. onEvent must
	// not block.
	Subscribe(ctx context.Context, scope string, onEvent func(ir.ChangeEvent[R])) (Subscription, error)
}

// Subscription is a live push channel.
type Subscription interface {
	// Cancel stops delivery. Safe to call more than once.
	Cancel()

	// Done is closed once no further events will be delivered.
	Done() <-chan struct{}

	// Err is nil after Cancel and the cause of the loss otherwise.
	// Only meaningful once Done is closed.
	Err() error
}
