package engine

import (
	"context"

	"github.com/roach88/tandem/internal/ir"
)

// Loader completes a bind started by Switch: it opens the push subscription
// and loads the scope.
type Loader func(ctx context.Context) error

// Bind moves the engine to scope and loads it. An empty scope unbinds.
// Binding the current scope again is a no-op.
//
// The old subscription is cancelled and the store emptied before the new
// scope is requested, so the replica never shows another scope's records.
func (e *Engine[R]) Bind(ctx context.Context, scope string) error {
	load, err := e.Switch(ctx, scope)
	if err != nil || load == nil {
		return err
	}
	return load(ctx)
}

// Unbind drops the scope: subscription cancelled, store emptied.
func (e *Engine[R]) Unbind(ctx context.Context) error {
	_, err := e.Switch(ctx, "")
	return err
}

// Switch performs the synchronous half of a bind on the loop and returns the
// Loader for the rest, or nil when there is nothing to load. Binder uses it
// to switch every engine before any of them starts loading.
func (e *Engine[R]) Switch(_ context.Context, scope string) (Loader, error) {
	var load Loader
	err := e.do(func() {
		if scope == "" {
			if !e.bound {
				return
			}
			e.logger.Info("unbinding", "scope", e.scope)
			e.resetScope("", false)
			return
		}
		if e.bound && e.scope == scope {
			return
		}
		e.logger.Info("binding", "scope", scope, "previous", e.scope)
		e.resetScope(scope, true)
		load = e.startBind()
	})
	return load, err
}

// Refetch reloads the bound scope and replaces the store content. If the
// push channel was lost it is reopened first.
func (e *Engine[R]) Refetch(ctx context.Context) error {
	var (
		load    Loader
		unbound bool
	)
	err := e.do(func() {
		if !e.bound {
			unbound = true
			return
		}
		if e.subLost {
			e.logger.Info("refetch reopening subscription", "scope", e.scope)
			e.teardown()
			load = e.startBind()
			return
		}
		epoch, seq, scope := e.epoch, e.beginLoad(), e.scope
		load = func(ctx context.Context) error {
			return e.load(ctx, epoch, seq, scope)
		}
	})
	if err != nil {
		return err
	}
	if unbound {
		return newUnboundError(e.kind.Name, "refetch")
	}
	return load(ctx)
}

// resetScope discards everything tied to the current scope. Loop only.
func (e *Engine[R]) resetScope(scope string, bound bool) {
	e.teardown()
	e.scope, e.bound = scope, bound
	e.scopeGen++
	e.epoch = e.clock.Next()
	e.store.Bind(scope)
	e.pending = nil
	clear(e.promoted)
	e.loading = false
	e.subLost = false
}

// startBind opens a new epoch for the bound scope and returns the loader
// that subscribes and fetches. Loop only.
func (e *Engine[R]) startBind() Loader {
	e.epoch = e.clock.Next()
	subCtx, cancel := context.WithCancel(e.runCtx)
	e.cancelEpoch = cancel
	epoch, seq, scope := e.epoch, e.beginLoad(), e.scope

	return func(ctx context.Context) error {
		e.subscribe(subCtx, epoch, scope)
		return e.load(ctx, epoch, seq, scope)
	}
}

// beginLoad marks a load in flight. Only the latest load may apply.
func (e *Engine[R]) beginLoad() int64 {
	e.fetchSeq = e.clock.Next()
	e.loading = true
	return e.fetchSeq
}

func (e *Engine[R]) subscribe(ctx context.Context, epoch int64, scope string) {
	sub, err := e.gateway.Subscribe(ctx, scope, func(ev ir.ChangeEvent[R]) {
		e.queue.Enqueue(Event[R]{Type: EventTypeChange, Epoch: epoch, Change: &ev})
	})
	if err != nil {
		serr := newSubscriptionError(e.kind.Name, scope, err)
		var current bool
		_ = e.do(func() {
			if current = e.epoch == epoch; current {
				e.subLost = true
			}
		})
		if current {
			e.report(serr)
		}
		return
	}

	var current bool
	if err := e.do(func() {
		if current = e.epoch == epoch; current {
			e.sub = sub
			e.subLost = false
		}
	}); err != nil || !current {
		sub.Cancel()
		return
	}

	go func() {
		select {
		case <-sub.Done():
			e.queue.Enqueue(Event[R]{Type: EventTypeDropped, Epoch: epoch, Err: sub.Err()})
		case <-ctx.Done():
		}
	}()
}

// load fetches scope and applies the result if it is still the latest load
// of the current epoch. A load overtaken by a refetch of the same scope
// returns nil; one overtaken by a scope change returns SCOPE_CHANGED.
func (e *Engine[R]) load(ctx context.Context, epoch, seq int64, scope string) error {
	records, fetchErr := e.gateway.FetchAll(ctx, scope)

	var result error
	if err := e.do(func() {
		if e.epoch != epoch {
			e.logger.Debug("dropping stale load", "scope", scope, "epoch", epoch, "current_epoch", e.epoch)
			result = newScopeChangedError(e.kind.Name, scope)
			return
		}
		if e.fetchSeq != seq {
			// A newer load of the same scope owns the result.
			e.logger.Debug("dropping superseded load", "scope", scope, "seq", seq, "current_seq", e.fetchSeq)
			return
		}
		e.loading = false
		if fetchErr != nil {
			result = newFetchError(e.kind.Name, scope, fetchErr)
			e.replayBuffer()
			return
		}
		known := make(map[string]struct{}, e.store.Len())
		for _, k := range e.store.Keys() {
			known[k] = struct{}{}
		}
		e.store.Reset(records)
		clear(e.promoted)
		e.restorePending(records, known)
		e.replayBuffer()
		e.logger.Debug("scope loaded", "scope", scope, "records", e.store.Len())
	}); err != nil {
		return err
	}

	if result != nil && IsFetchError(result) {
		e.report(result)
	}
	return result
}

// restorePending re-inserts unacknowledged temporary records wiped by a
// reload, unless the reload already contains their authoritative copy: the
// acknowledged key, or for unacknowledged creates a newly seen record with
// the same scope and fingerprint, matched oldest first.
func (e *Engine[R]) restorePending(loaded []R, known map[string]struct{}) {
	claimed := make(map[string]struct{})
	for _, p := range e.pending {
		if p.serverKey != "" {
			claimed[p.serverKey] = struct{}{}
		}
	}
	kept := e.pending[:0]
	for _, p := range e.pending {
		if p.serverKey != "" && e.store.Has(p.serverKey) {
			continue
		}
		if p.serverKey == "" {
			if key, ok := e.committedCopy(p, loaded, known, claimed); ok {
				claimed[key] = struct{}{}
				e.logger.Debug("pending create found in reload", "temp_key", p.tempKey, "key", key)
				continue
			}
		}
		kept = append(kept, p)
	}
	e.pending = kept
	for _, p := range e.pending {
		e.store.InsertOrdered(p.record, nil)
	}
}

// committedCopy finds a loaded record that was not in the store before the
// reload and carries p's content.
func (e *Engine[R]) committedCopy(p *pendingCreate[R], loaded []R, known, claimed map[string]struct{}) (string, bool) {
	for _, r := range loaded {
		key := e.kind.Key(r)
		if _, ok := known[key]; ok {
			continue
		}
		if _, ok := claimed[key]; ok {
			continue
		}
		if e.kind.Scope(r) != p.scope {
			continue
		}
		fp, err := ir.Fingerprint(e.kind, r)
		if err != nil || fp != p.fingerprint {
			continue
		}
		return key, true
	}
	return "", false
}

// replayBuffer applies push events that arrived while a load was in flight.
func (e *Engine[R]) replayBuffer() {
	buffered := e.buffer
	e.buffer = nil
	for _, ch := range buffered {
		e.reconcile(ch)
	}
}

func (e *Engine[R]) handleDropped(ev Event[R]) {
	if ev.Epoch != e.epoch || ev.Err == nil {
		return
	}
	e.sub = nil
	e.subLost = true
	e.dirty = true
	e.report(newSubscriptionError(e.kind.Name, e.scope, ev.Err))
}
