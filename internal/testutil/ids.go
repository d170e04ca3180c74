package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs returns predictable connection ids for testing:
// "<prefix>-1", "<prefix>-2", ...
//
// This enables golden trace comparison of anything that records a session id.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix uses "conn".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "conn"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
