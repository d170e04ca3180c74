package dispatch

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultStripes = 256

// stripedLocks serializes work per key with a fixed set of mutexes.
// Distinct keys may share a stripe; one key always maps to the same one.
type stripedLocks struct {
	stripes []sync.Mutex
}

func newStripedLocks(n int) *stripedLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return &stripedLocks{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLocks) index(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(s.stripes)))
}

// lock acquires the stripe for key and returns its unlock func.
func (s *stripedLocks) lock(key string) func() {
	m := &s.stripes[s.index(key)]
	m.Lock()
	return m.Unlock
}
