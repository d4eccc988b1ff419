package testutil

import (
	"fmt"
	"sync"
)

// SequenceKeys yields "<prefix>-1", "<prefix>-2", ... It satisfies
// engine.KeyGenerator, and Func adapts it for gateway key options.
type SequenceKeys struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceKeys creates a generator for prefix.
func NewSequenceKeys(prefix string) *SequenceKeys {
	return &SequenceKeys{prefix: prefix}
}

// Generate returns the next key.
func (g *SequenceKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Func returns Generate as a plain function.
func (g *SequenceKeys) Func() func() string {
	return g.Generate
}
