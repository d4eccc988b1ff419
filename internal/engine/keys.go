package engine

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TempKeyPrefix marks keys synthesized locally for records the remote source
// has not acknowledged yet.
const TempKeyPrefix = "tmp-"

// IsTemporaryKey reports whether key was synthesized for a pending create.
func IsTemporaryKey(key string) bool {
	return strings.HasPrefix(key, TempKeyPrefix)
}

// KeyGenerator produces temporary keys for pending creates.
type KeyGenerator interface {
	Generate() string
}

// TempKeys generates "tmp-" prefixed UUIDv7 keys. Stateless and safe for
// concurrent use.
type TempKeys struct{}

// Generate returns a fresh temporary key.
func (TempKeys) Generate() string {
	return TempKeyPrefix + uuid.Must(uuid.NewV7()).String()
}

// FixedKeys returns predetermined keys in order, for tests.
type FixedKeys struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedKeys creates a generator that yields keys in order and panics
// once they run out.
func NewFixedKeys(keys ...string) *FixedKeys {
	return &FixedKeys{keys: keys}
}

// Generate returns the next predetermined key.
func (g *FixedKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedKeys: all keys exhausted")
	}
	k := g.keys[g.idx]
	g.idx++
	return k
}
