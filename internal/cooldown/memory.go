package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultCapacity = 100_000

// MaxTTL bounds how long the memory table keeps an entry. Longer cooldowns
// are clamped.
const MaxTTL = 24 * time.Hour

type MemTable struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, time.Time]
}

func NewMemTable(capacity int) *MemTable {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemTable{entries: expirable.NewLRU[string, time.Time](capacity, nil, MaxTTL)}
}

func (t *MemTable) Acquire(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if expiry, ok := t.entries.Get(key); ok && now.Before(expiry) {
		return false, nil
	}
	t.entries.Add(key, now.Add(ttl))
	return true, nil
}

func (t *MemTable) Len() int {
	return t.entries.Len()
}
