package engine

import (
	"context"
	"fmt"

	"github.com/roach88/tandem/internal/ir"
	"github.com/roach88/tandem/internal/replica"
)

// Create inserts draft optimistically under a temporary key and sends it to
// the remote source. The returned record is the temporary one.
//
// On success the temporary record stays until the authoritative insert
// arrives on the push channel and replaces it. On failure it is removed and
// a MUTATE_FAILED error is returned.
func (e *Engine[R]) Create(ctx context.Context, draft R) (R, error) {
	var (
		temp R
		p    *pendingCreate[R]
		verr error
	)
	if err := e.do(func() {
		if !e.bound {
			verr = newUnboundError(e.kind.Name, ir.OpInsert)
			return
		}
		created := e.now()
		temp = e.kind.Stamp(draft, e.keys.Generate(), e.scope, created)
		key := e.kind.Key(temp)
		fp, err := ir.Fingerprint(e.kind, temp)
		if err != nil {
			verr = newInvalidRecordError(e.kind.Name, e.scope, key, ir.OpInsert, err)
			return
		}
		p = &pendingCreate[R]{
			record:      temp,
			tempKey:     key,
			scope:       e.scope,
			gen:         e.scopeGen,
			created:     created,
			fingerprint: fp,
		}
		e.pending = append(e.pending, p)
		e.store.InsertOrdered(temp, nil)
		e.logger.Debug("optimistic create", "scope", p.scope, "key", key)
	}); err != nil {
		return temp, err
	}
	if verr != nil {
		return temp, verr
	}

	ack, mutErr := e.gateway.Mutate(ctx, ir.OpInsert, temp)
	_ = e.do(func() {
		if mutErr != nil {
			e.abandonCreate(p)
			return
		}
		e.acknowledgeCreate(p, ack)
	})
	if mutErr != nil {
		err := newMutateError(e.kind.Name, p.scope, p.tempKey, ir.OpInsert, mutErr)
		e.report(err)
		return temp, err
	}
	return temp, nil
}

// Update applies patch to the record under key optimistically and sends the
// result to the remote source. patch must return a modified copy with the
// same key and scope.
//
// key may be the temporary key of a create the remote has acknowledged; the
// record moves to its server key first and the returned record carries it.
// A create still waiting for its acknowledgement fails with PENDING_KEY.
//
// On failure the change is rolled back and a MUTATE_FAILED error returned.
// On success nothing more happens locally: the push channel delivers the
// authoritative version.
func (e *Engine[R]) Update(ctx context.Context, key string, patch func(R) R) (R, error) {
	var next R
	err := e.mutateExisting(ctx, ir.OpUpdate, key, func(key string, cur R) (R, error) {
		next = patch(cur)
		if got := e.kind.Key(next); got != key {
			return next, fmt.Errorf("patch changed key from %q to %q", key, got)
		}
		if got := e.kind.Scope(next); got != e.kind.Scope(cur) {
			return next, fmt.Errorf("patch changed scope from %q to %q", e.kind.Scope(cur), got)
		}
		e.store.Replace(key, next)
		return next, nil
	})
	return next, err
}

// Delete removes the record under key optimistically and asks the remote
// source to delete it. On failure the record is restored. Temporary keys are
// handled as in Update.
func (e *Engine[R]) Delete(ctx context.Context, key string) error {
	return e.mutateExisting(ctx, ir.OpDelete, key, func(key string, cur R) (R, error) {
		e.store.Remove(key)
		return cur, nil
	})
}

// mutateExisting runs the shared snapshot/apply/remote/rollback sequence for
// updates and deletes. apply runs on the loop and returns the record to send.
func (e *Engine[R]) mutateExisting(ctx context.Context, op ir.Operation, key string, apply func(key string, cur R) (R, error)) error {
	if IsTemporaryKey(key) {
		var verr error
		if err := e.do(func() { key, verr = e.promote(key, op) }); err != nil {
			return err
		}
		if verr != nil {
			return verr
		}
	}

	release, err := e.gate.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	var (
		send  R
		snap  replica.Snapshot[R]
		rev   int64
		ver   int64
		gen   int64
		scope string
		verr  error
	)
	if err := e.do(func() {
		if !e.bound {
			verr = newUnboundError(e.kind.Name, op)
			return
		}
		scope = e.scope
		cur, ok := e.store.Get(key)
		if !ok {
			verr = newNotFoundError(e.kind.Name, scope, key, op)
			return
		}
		snap = e.store.Snapshot()
		out, err := apply(key, cur)
		if err != nil {
			verr = newInvalidRecordError(e.kind.Name, scope, key, op, err)
			return
		}
		send = out
		rev, ver, gen = e.store.Revision(key), e.store.Version(), e.scopeGen
		e.logger.Debug("optimistic write", "op", op, "scope", scope, "key", key)
	}); err != nil {
		return err
	}
	if verr != nil {
		return verr
	}

	if _, mutErr := e.gateway.Mutate(ctx, op, send); mutErr != nil {
		_ = e.do(func() { e.rollback(snap, key, rev, ver, gen) })
		err := newMutateError(e.kind.Name, scope, key, op, mutErr)
		e.report(err)
		return err
	}
	return nil
}

// rollback undoes an optimistic update or delete. The whole snapshot is
// restored when nothing else touched the store since; otherwise only key,
// and only if no newer write (a push event or a reload) replaced it. Loop
// only.
func (e *Engine[R]) rollback(snap replica.Snapshot[R], key string, rev, ver, gen int64) {
	if gen != e.scopeGen {
		e.logger.Debug("rollback skipped: scope changed", "key", key)
		return
	}
	switch {
	case e.store.Version() == ver:
		e.store.Restore(snap)
	case e.store.Revision(key) == rev:
		e.store.RestoreKey(snap, key)
	default:
		e.logger.Debug("rollback skipped: key rewritten", "key", key)
	}
}

// abandonCreate removes a failed create's temporary record unless a push
// event resolved it already. Loop only.
func (e *Engine[R]) abandonCreate(p *pendingCreate[R]) {
	if !e.dropPending(p) {
		return
	}
	if p.gen == e.scopeGen {
		e.store.Remove(p.tempKey)
	}
}

// acknowledgeCreate remembers the server key of a successful create. If the
// authoritative record is already present, the temporary one goes now.
// Loop only.
func (e *Engine[R]) acknowledgeCreate(p *pendingCreate[R], ack ir.Ack) {
	if !e.isPending(p) {
		return
	}
	p.serverKey = ack.Key
	if ack.Key != "" && e.store.Has(ack.Key) {
		e.store.Remove(p.tempKey)
		e.dropPending(p)
	}
}

// promote moves an acknowledged create's temporary record to its server
// key, so it can be changed before the push channel delivers it. The first
// authoritative insert for that key then replaces it. Loop only.
func (e *Engine[R]) promote(tempKey string, op ir.Operation) (string, error) {
	if !e.bound {
		return tempKey, newUnboundError(e.kind.Name, op)
	}
	for _, p := range e.pending {
		if p.tempKey != tempKey {
			continue
		}
		if p.serverKey == "" {
			return tempKey, newPendingKeyError(e.kind.Name, e.scope, tempKey, op)
		}
		e.store.Remove(tempKey)
		e.store.InsertOrdered(e.kind.Stamp(p.record, p.serverKey, p.scope, p.created), nil)
		e.dropPending(p)
		e.promoted[p.serverKey] = struct{}{}
		e.logger.Debug("acknowledged create promoted", "temp_key", tempKey, "key", p.serverKey)
		return p.serverKey, nil
	}
	return tempKey, newNotFoundError(e.kind.Name, e.scope, tempKey, op)
}

func (e *Engine[R]) isPending(p *pendingCreate[R]) bool {
	for _, q := range e.pending {
		if q == p {
			return true
		}
	}
	return false
}

func (e *Engine[R]) dropPending(p *pendingCreate[R]) bool {
	for i, q := range e.pending {
		if q == p {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return true
		}
	}
	return false
}
