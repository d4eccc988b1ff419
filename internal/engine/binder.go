package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/tandem/internal/session"
)

// Bindable is an engine as seen by the Binder.
type Bindable interface {
	Name() string
	Switch(ctx context.Context, scope string) (Loader, error)
}

// Binder derives the synchronization scope from the session and moves every
// registered engine to it.
//
// On a scope change every engine is switched (subscription cancelled, store
// emptied, new epoch) before any of them starts loading. Loads then run
// concurrently and outside the Binder's lock, so a newer session can switch
// the engines again while an older load is still in flight; that load is
// discarded when it returns.
type Binder struct {
	mu      sync.Mutex
	targets []Bindable
	scope   string
	bound   bool
	logger  *slog.Logger
}

// NewBinder creates an unbound binder over targets.
func NewBinder(targets ...Bindable) *Binder {
	return &Binder{targets: targets, logger: slog.Default()}
}

// Scope returns the current scope and whether one is bound.
func (b *Binder) Scope() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope, b.bound
}

// Apply moves every engine to the scope of s. It returns once the loads it
// started have finished; loads superseded by a later Apply are not errors.
func (b *Binder) Apply(ctx context.Context, s session.Session) error {
	scope, ok := s.Scope()

	b.mu.Lock()
	if ok == b.bound && scope == b.scope {
		b.mu.Unlock()
		return nil
	}
	b.logger.Info("scope transition", "from", b.scope, "to", scope, "bound", ok)
	b.scope, b.bound = scope, ok

	var (
		errs  []error
		loads []Loader
	)
	for _, t := range b.targets {
		load, err := t.Switch(ctx, scope)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if load != nil {
			loads = append(loads, load)
		}
	}
	b.mu.Unlock()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, load := range loads {
		wg.Add(1)
		go func(load Loader) {
			defer wg.Done()
			if err := load(ctx); err != nil && !IsScopeChanged(err) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(load)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Follow applies every session published by src until ctx is done. Bind
// failures are logged and the binder keeps following.
func (b *Binder) Follow(ctx context.Context, src *session.Source) error {
	updates := src.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			if err := b.Apply(ctx, s); err != nil {
				b.logger.Warn("scope bind failed", "error", err)
			}
		}
	}
}
