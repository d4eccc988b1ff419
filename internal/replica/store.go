package replica

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/tandem/internal/ir"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	strict bool
	logger *slog.Logger
}

// WithStrict makes a foreign-scope write panic instead of being logged and
// ignored. Meant for debug builds and tests.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithLogger sets the logger used for ignored writes.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Store is an ordered collection of records with unique keys, bound to one
// scope at a time.
//
// Every operation is total. Inserting an existing key replaces it, removing
// an absent key does nothing. Each write bumps a store-wide version and
// stamps the written key with it, which lets callers detect interleaved
// writes between a snapshot and a rollback.
type Store[R any] struct {
	mu      sync.RWMutex
	kind    ir.Kind[R]
	strict  bool
	logger  *slog.Logger
	scope   string
	records []R
	version int64
	revs    map[string]int64
}

// New creates an unbound store for kind.
func New[R any](kind ir.Kind[R], opts ...Option) *Store[R] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[R]{
		kind:   kind,
		strict: o.strict,
		logger: o.logger,
		revs:   make(map[string]int64),
	}
}

// Kind returns the kind the store was created for.
func (s *Store[R]) Kind() ir.Kind[R] {
	return s.kind
}

// Scope returns the bound scope, or "" when unbound.
func (s *Store[R]) Scope() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// Bind discards every record and binds the store to scope.
// An empty scope leaves the store unbound; it then accepts no records.
func (s *Store[R]) Bind(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scope = scope
	s.records = nil
	s.revs = make(map[string]int64)
	s.version++
}

// InsertFront puts r at the head of the collection.
func (s *Store[R]) InsertFront(r R) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept(r) {
		return
	}
	key := s.kind.Key(r)
	if i := s.indexOf(key); i >= 0 {
		s.records = slices.Delete(s.records, i, i+1)
	}
	s.records = slices.Insert(s.records, 0, r)
	s.bump(key)
}

// InsertOrdered puts r before the first record it sorts before under less.
// A nil less uses the kind's order.
func (s *Store[R]) InsertOrdered(r R, less func(a, b R) bool) {
	if less == nil {
		less = s.kind.Before
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept(r) {
		return
	}
	key := s.kind.Key(r)
	if i := s.indexOf(key); i >= 0 {
		s.records = slices.Delete(s.records, i, i+1)
	}
	s.insertAt(r, less)
	s.bump(key)
}

// Replace swaps the record stored under key for r, keeping its position.
// It reports false when key is absent.
func (s *Store[R]) Replace(key string, r R) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accept(r) {
		return false
	}
	if got := s.kind.Key(r); got != key {
		s.reject(fmt.Sprintf("replace %q with record keyed %q", key, got))
		return false
	}
	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.records[i] = r
	s.bump(key)
	return true
}

// Remove deletes the record under key. It reports whether one was present.
func (s *Store[R]) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(key)
	if i < 0 {
		return false
	}
	s.records = slices.Delete(s.records, i, i+1)
	s.bump(key)
	return true
}

// Reset replaces the whole content with records, sorted by the kind's order.
// Duplicate keys keep the last occurrence.
func (s *Store[R]) Reset(records []R) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	s.revs = make(map[string]int64, len(records))
	seen := make(map[string]int, len(records))
	out := make([]R, 0, len(records))
	for _, r := range records {
		if !s.accept(r) {
			continue
		}
		key := s.kind.Key(r)
		if i, ok := seen[key]; ok {
			out[i] = r
			continue
		}
		seen[key] = len(out)
		out = append(out, r)
		s.revs[key] = s.version
	}
	slices.SortStableFunc(out, s.kind.Compare)
	s.records = out
}

// Get returns the record under key.
func (s *Store[R]) Get(key string) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(key); i >= 0 {
		return s.records[i], true
	}
	var zero R
	return zero, false
}

// Has reports whether key is present.
func (s *Store[R]) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(key) >= 0
}

// List returns a copy of the records in display order.
func (s *Store[R]) List() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Keys returns the record keys in display order.
func (s *Store[R]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, len(s.records))
	for i, r := range s.records {
		keys[i] = s.kind.Key(r)
	}
	return keys
}

// Len returns the number of records.
func (s *Store[R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Version returns the number of writes applied since creation.
func (s *Store[R]) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Revision returns the version of the last write that touched key, removals
// included. Zero means the key was not written since the last bind or reset.
func (s *Store[R]) Revision(key string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revs[key]
}

// accept enforces the bound scope. Caller holds s.mu.
func (s *Store[R]) accept(r R) bool {
	scope := s.kind.Scope(r)
	if s.scope != "" && scope == s.scope {
		return true
	}
	s.reject(fmt.Sprintf("%s record %q has scope %q, store bound to %q",
		s.kind.Name, s.kind.Key(r), scope, s.scope))
	return false
}

func (s *Store[R]) reject(msg string) {
	if s.strict {
		panic("replica: " + msg)
	}
	s.logger.Warn("replica write ignored", "kind", s.kind.Name, "reason", msg)
}

func (s *Store[R]) indexOf(key string) int {
	for i, r := range s.records {
		if s.kind.Key(r) == key {
			return i
		}
	}
	return -1
}

func (s *Store[R]) insertAt(r R, less func(a, b R) bool) {
	pos := len(s.records)
	for i, cur := range s.records {
		if less(r, cur) {
			pos = i
			break
		}
	}
	s.records = slices.Insert(s.records, pos, r)
}

func (s *Store[R]) bump(key string) {
	s.version++
	s.revs[key] = s.version
}
