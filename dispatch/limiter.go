package dispatch

import (
	"sync"
	"time"

	"github.com/veyra/listwatch/errors"
)

// Limiter enforces a global ceiling on job starts per minute using a
// sliding window. It protects marketplace sites from a thundering herd
// when many monitors come due at once.
type Limiter struct {
	maxPerMinute int
	window       time.Duration
	mu           sync.Mutex
	startTimes   []time.Time
	timeNow      func() time.Time
}

// NewLimiter creates a rate limiter with real time.
func NewLimiter(maxPerMinute int) *Limiter {
	return NewLimiterWithClock(maxPerMinute, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing).
func NewLimiterWithClock(maxPerMinute int, timeNow func() time.Time) *Limiter {
	return &Limiter{
		maxPerMinute: maxPerMinute,
		window:       time.Minute,
		startTimes:   make([]time.Time, 0, maxPerMinute),
		timeNow:      timeNow,
	}
}

// Allow records a job start if the window has capacity. Returns an error
// when the limit is reached; the caller defers the job rather than failing it.
func (l *Limiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	l.removeExpired(now)

	if len(l.startTimes) >= l.maxPerMinute {
		return errors.Newf("rate limit exceeded: %d job starts in the last minute (limit %d)",
			len(l.startTimes), l.maxPerMinute)
	}

	l.startTimes = append(l.startTimes, now)
	return nil
}

// removeExpired drops start timestamps outside the sliding window.
// Must be called with the lock held; timestamps are ordered.
func (l *Limiter) removeExpired(now time.Time) {
	cutoff := now.Add(-l.window)
	expired := 0
	for _, ts := range l.startTimes {
		if !ts.After(cutoff) {
			expired++
		} else {
			break
		}
	}
	l.startTimes = l.startTimes[expired:]
}

// Stats returns starts in the current window and remaining capacity.
func (l *Limiter) Stats() (inWindow int, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removeExpired(l.timeNow())
	inWindow = len(l.startTimes)
	remaining = l.maxPerMinute - inWindow
	if remaining < 0 {
		remaining = 0
	}
	return inWindow, remaining
}

// Reset clears the limiter state.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startTimes = l.startTimes[:0]
}
