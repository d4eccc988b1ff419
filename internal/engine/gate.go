package engine

import (
	"context"
	"sync"
)

// keyGate serializes mutations per key: a second mutation on the same key
// waits until the first one's remote call has returned. Different keys
// never wait on each other.
type keyGate struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newKeyGate() *keyGate {
	return &keyGate{held: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx is done.
func (g *keyGate) Acquire(ctx context.Context, key string) (release func(), err error) {
	for {
		g.mu.Lock()
		ch, busy := g.held[key]
		if !busy {
			ch = make(chan struct{})
			g.held[key] = ch
			g.mu.Unlock()
			return func() { g.release(key, ch) }, nil
		}
		g.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Busy reports whether a mutation on key is in flight.
func (g *keyGate) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

func (g *keyGate) release(key string, ch chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[key] == ch {
		delete(g.held, key)
		close(ch)
	}
}
