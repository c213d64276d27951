package cooldown

import (
	"context"
	"time"
)

// Table tracks per-key expiry timestamps. Acquire succeeds when the key has no
// unexpired entry and records a new expiry of now+ttl.
type Table interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, now time.Time) (bool, error)
}

func Key(guildID, userID, rule string) string {
	return guildID + "/" + userID + "/" + rule
}
