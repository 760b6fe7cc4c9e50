package fetchcache

import (
	"sync"

	"github.com/newthinker/keywatch/internal/core"
)

// KeyLocks serialises coverage read-merge-write per coverage key. Caches that
// share a store should share one KeyLocks.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[core.CoverageKey]*sync.Mutex
}

// NewKeyLocks creates an empty lock table.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[core.CoverageKey]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock func.
func (k *KeyLocks) Lock(key core.CoverageKey) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
