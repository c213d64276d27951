package utils

import (
	"sync"
	"time"
)

// JoinWindow is a sliding window of join timestamps for one guild.
type JoinWindow struct {
	mu      sync.Mutex
	entries []time.Time
}

func NewJoinWindow() *JoinWindow {
	return &JoinWindow{}
}

// Record appends now, drops entries older than window and, once the window
// holds threshold entries, empties it and reports a trip. The whole sequence
// runs under the window's mutex.
func (w *JoinWindow) Record(now time.Time, window time.Duration, threshold int) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-window)
	kept := w.entries[:0]
	for _, entry := range w.entries {
		if entry.Before(cutoff) {
			continue
		}
		kept = append(kept, entry)
	}
	w.entries = append(kept, now)

	count := len(w.entries)
	if threshold > 0 && count >= threshold {
		w.entries = nil
		return count, true
	}
	return count, false
}

func (w *JoinWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
