package utils

import (
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sasha-s/go-deadlock"
)

// KeyedMutex serializes work per key. An entry lives only while some caller
// holds or waits for its key.
type KeyedMutex struct {
	locks *xsync.MapOf[string, *keyedEntry]
}

type keyedEntry struct {
	mu deadlock.Mutex
	// refs is only touched inside Compute, which runs under the map's bucket lock.
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: xsync.NewMapOf[string, *keyedEntry]()}
}

func (k *KeyedMutex) Lock(key string) (unlock func()) {
	entry, _ := k.locks.Compute(key, func(old *keyedEntry, loaded bool) (*keyedEntry, bool) {
		if !loaded {
			old = &keyedEntry{}
		}
		old.refs++
		return old, false
	})
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.locks.Compute(key, func(old *keyedEntry, loaded bool) (*keyedEntry, bool) {
			old.refs--
			return old, old.refs == 0
		})
	}
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	return k.locks.Size()
}
