package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiterWithClock(3, clock.Now)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(), "call %d within limit", i+1)
	}
	err := l.Allow()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestLimiterWindowSlides(t *testing.T) {
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiterWithClock(2, clock.Now)

	require.NoError(t, l.Allow())
	clock.Advance(30 * time.Second)
	require.NoError(t, l.Allow())
	require.Error(t, l.Allow())

	// 61s after the first call it falls out of the window.
	clock.Advance(31 * time.Second)
	require.NoError(t, l.Allow())
	require.Error(t, l.Allow(), "second call is still in the window")
}

func TestLimiterStats(t *testing.T) {
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiterWithClock(5, clock.Now)

	require.NoError(t, l.Allow())
	require.NoError(t, l.Allow())

	inWindow, remaining := l.Stats()
	assert.Equal(t, 2, inWindow)
	assert.Equal(t, 3, remaining)

	clock.Advance(2 * time.Minute)
	inWindow, remaining = l.Stats()
	assert.Zero(t, inWindow)
	assert.Equal(t, 5, remaining)
}

func TestLimiterReset(t *testing.T) {
	clock := &queueClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLimiterWithClock(1, clock.Now)

	require.NoError(t, l.Allow())
	require.Error(t, l.Allow())

	l.Reset()
	require.NoError(t, l.Allow())
}
