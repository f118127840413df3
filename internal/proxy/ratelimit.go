package proxy

import (
	"time"
)

const rateWindow = time.Second

// slidingWindow is a per-caller timestamp deque covering the last second.
//
// Not self-locking; the owning proxy serializes access.
type slidingWindow struct {
	timestamps map[string][]time.Time
}

func newSlidingWindow() *slidingWindow {
	return &slidingWindow{timestamps: make(map[string][]time.Time)}
}

// allow prunes timestamps older than the window, then admits the call if the
// window is under capacity, recording the current timestamp.
func (w *slidingWindow) allow(caller string, now time.Time, limit int) bool {
	cutoff := now.Add(-rateWindow)

	window := w.timestamps[caller]
	kept := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		w.timestamps[caller] = kept
		return false
	}

	w.timestamps[caller] = append(kept, now)
	return true
}
