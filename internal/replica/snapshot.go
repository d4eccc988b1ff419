package replica

import "slices"

// Snapshot is an immutable copy of a store's content.
//
// Records are copied by value. Record types holding slices or maps must not
// be mutated in place by callers, or the snapshot sees the change.
type Snapshot[R any] struct {
	scope   string
	records []R
	version int64
	keys    []string
}

// Scope returns the scope the snapshot was taken in.
func (sn Snapshot[R]) Scope() string { return sn.scope }

// Version returns the store version at snapshot time.
func (sn Snapshot[R]) Version() int64 { return sn.version }

// Records returns a copy of the captured records.
func (sn Snapshot[R]) Records() []R { return slices.Clone(sn.records) }

// Len returns the number of captured records.
func (sn Snapshot[R]) Len() int { return len(sn.records) }

func (sn Snapshot[R]) lookup(key string) (R, int, bool) {
	for i, k := range sn.keys {
		if k == key {
			return sn.records[i], i, true
		}
	}
	var zero R
	return zero, -1, false
}

// Snapshot captures the current content.
func (s *Store[R]) Snapshot() Snapshot[R] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.records))
	for i, r := range s.records {
		keys[i] = s.kind.Key(r)
	}
	return Snapshot[R]{
		scope:   s.scope,
		records: slices.Clone(s.records),
		version: s.version,
		keys:    keys,
	}
}

// Restore puts the store back to exactly the snapshot's content and order.
// A snapshot from another scope is ignored.
func (s *Store[R]) Restore(sn Snapshot[R]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sn.scope != s.scope {
		s.logger.Warn("replica restore ignored: scope changed",
			"kind", s.kind.Name, "snapshot_scope", sn.scope, "scope", s.scope)
		return
	}
	s.version++
	for _, r := range s.records {
		s.revs[s.kind.Key(r)] = s.version
	}
	for _, k := range sn.keys {
		s.revs[k] = s.version
	}
	s.records = slices.Clone(sn.records)
}

// RestoreKey rolls back a single key to its snapshot state, leaving every
// other record as it is now. If the key existed in the snapshot it returns
// to its ordered position; otherwise it is removed.
func (s *Store[R]) RestoreKey(sn Snapshot[R], key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sn.scope != s.scope {
		s.logger.Warn("replica key restore ignored: scope changed",
			"kind", s.kind.Name, "key", key, "snapshot_scope", sn.scope, "scope", s.scope)
		return
	}
	old, _, had := sn.lookup(key)
	i := s.indexOf(key)
	switch {
	case had && i >= 0:
		s.records[i] = old
	case had:
		s.insertAt(old, s.kind.Before)
	case i >= 0:
		s.records = slices.Delete(s.records, i, i+1)
	default:
		return
	}
	s.bump(key)
}
