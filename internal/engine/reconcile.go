package engine

import "github.com/roach88/tandem/internal/ir"

func (e *Engine[R]) handleChange(ev Event[R]) {
	if ev.Change == nil {
		return
	}
	ch := *ev.Change
	if !e.bound || ev.Epoch != e.epoch {
		e.logger.Debug("dropping event from previous bind", "epoch", ev.Epoch, "current_epoch", e.epoch)
		return
	}
	if ch.Scope != e.scope || e.kind.Scope(ch.Record) != e.scope {
		e.logger.Debug("dropping event from foreign scope", "event_scope", ch.Scope, "scope", e.scope)
		return
	}
	if e.loading {
		e.buffer = append(e.buffer, ch)
		return
	}
	e.reconcile(ch)
	e.dirty = true
}

// reconcile merges an authoritative change into the store. Every rule is
// idempotent: applying the same event twice leaves the store as applying it
// once. Loop only.
func (e *Engine[R]) reconcile(ch ir.ChangeEvent[R]) {
	key := e.kind.Key(ch.Record)
	_, promoted := e.promoted[key]
	delete(e.promoted, key)
	switch ch.Op {
	case ir.OpInsert:
		if promoted && e.store.Replace(key, ch.Record) {
			return
		}
		if e.store.Has(key) {
			e.logger.Debug("insert already present", "key", key)
			return
		}
		e.insertAuthoritative(ch.Record)
	case ir.OpUpdate:
		if e.store.Replace(key, ch.Record) {
			return
		}
		e.insertAuthoritative(ch.Record)
	case ir.OpDelete:
		if !e.store.Remove(key) {
			e.logger.Debug("delete of absent key", "key", key)
		}
		for _, p := range e.pending {
			if p.serverKey == key {
				e.store.Remove(p.tempKey)
				e.dropPending(p)
				break
			}
		}
	default:
		e.logger.Warn("ignoring event with unknown operation", "op", ch.Op, "key", key)
	}
}

// insertAuthoritative inserts r after retiring the pending create it
// supersedes, if any.
func (e *Engine[R]) insertAuthoritative(r R) {
	if p := e.matchPending(r); p != nil {
		e.store.Remove(p.tempKey)
		e.dropPending(p)
		e.logger.Debug("pending create resolved", "temp_key", p.tempKey, "key", e.kind.Key(r))
	}
	e.store.InsertOrdered(r, nil)
}

// matchPending finds the pending create r supersedes: first by the server
// key its acknowledgement reported, then by scope and content fingerprint,
// oldest first.
func (e *Engine[R]) matchPending(r R) *pendingCreate[R] {
	key := e.kind.Key(r)
	for _, p := range e.pending {
		if p.serverKey != "" && p.serverKey == key {
			return p
		}
	}

	fp, err := ir.Fingerprint(e.kind, r)
	if err != nil {
		e.logger.Warn("cannot fingerprint pushed record", "key", key, "error", err)
		return nil
	}
	scope := e.kind.Scope(r)
	for _, p := range e.pending {
		if p.serverKey != "" && p.serverKey != key {
			continue
		}
		if p.scope == scope && p.fingerprint == fp {
			return p
		}
	}
	return nil
}
