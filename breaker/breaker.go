// Package breaker implements a keyed circuit breaker protecting scrape calls
// against failing or blocking sites.
//
// Each key (a site, or site:userhash for authenticated sites) tracks its own
// three-state machine: closed (calls pass through), open (calls rejected
// until a cooldown elapses), and half-open (one probe allowed through).
// Errors matching the configured ignore classifier pass through without
// touching any counter; session expiry is a per-user condition and must not
// trip protection meant for site-wide outages.
package breaker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit state for one key.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when a call is rejected because the circuit is open.
type ErrOpen struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %ds", e.Key, int(e.RetryAfter.Seconds()))
}

// Stats is a read-only snapshot of one key's circuit.
type Stats struct {
	Key                 string    `json:"key"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	LastFailureAt       time.Time `json:"last_failure_at"`
}

// entry holds the state machine for one key. Each entry carries its own
// mutex so unrelated sites never contend with each other.
type entry struct {
	mu             sync.Mutex
	state          State
	probing        bool
	failures       int
	totalFailures  int64
	totalSuccesses int64
	lastFailureAt  time.Time
}

// Breaker is a registry of per-key circuits. Safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*entry
	threshold int
	timeout   time.Duration
	ignore    func(error) bool
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets how many consecutive counted failures open a circuit.
func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

// WithOpenTimeout sets how long an open circuit rejects calls before
// allowing a half-open probe.
func WithOpenTimeout(d time.Duration) Option {
	return func(b *Breaker) { b.timeout = d }
}

// WithIgnore sets the error classifier. Errors for which fn returns true are
// re-raised to the caller without touching failure counters or state.
func WithIgnore(fn func(error) bool) Option {
	return func(b *Breaker) { b.ignore = fn }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// New creates a breaker with the engine defaults: 5 consecutive failures to
// open, 15 minute cooldown.
func New(logger *zap.SugaredLogger, opts ...Option) *Breaker {
	b := &Breaker{
		circuits:  make(map[string]*entry),
		threshold: 5,
		timeout:   15 * time.Minute,
		now:       time.Now,
		logger:    logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn under the circuit for key. While the circuit is open, fn
// is never invoked and an *ErrOpen is returned with the remaining cooldown.
// The first call at or after the cooldown transitions the circuit to
// half-open and is allowed through as the single probe; further calls are
// rejected until the probe resolves.
func (b *Breaker) Execute(key string, fn func() error) error {
	e := b.entry(key)
	timeout := b.openTimeout()

	e.mu.Lock()
	probe := false
	switch e.state {
	case StateOpen:
		elapsed := b.now().Sub(e.lastFailureAt)
		if elapsed < timeout {
			retryAfter := timeout - elapsed
			e.mu.Unlock()
			return &ErrOpen{Key: key, RetryAfter: retryAfter}
		}
		e.state = StateHalfOpen
		e.probing = true
		probe = true
		b.logger.Infow("Circuit half-open, allowing probe", "key", key)
	case StateHalfOpen:
		if e.probing {
			retryAfter := timeout - b.now().Sub(e.lastFailureAt)
			if retryAfter < 0 {
				retryAfter = 0
			}
			e.mu.Unlock()
			return &ErrOpen{Key: key, RetryAfter: retryAfter}
		}
		e.probing = true
		probe = true
	}
	e.mu.Unlock()

	// fn runs outside the lock so a slow scrape never blocks stats reads or
	// other callers' state checks on the same key.
	err := fn()

	if err != nil {
		if b.ignore != nil && b.ignore(err) {
			// Auth-class condition: not a site health signal. A probe slot
			// is released unresolved so the next call may probe again.
			if probe {
				e.mu.Lock()
				e.probing = false
				e.mu.Unlock()
			}
			return err
		}
		b.recordFailure(key, e)
		return err
	}

	b.recordSuccess(key, e)
	return nil
}

// ExecuteForUser runs fn under a per-user circuit for sites where failures
// are scoped to individual credentials. The key combines the domain with a
// stable short hash of the user id.
func (b *Breaker) ExecuteForUser(domain, userID string, fn func() error) error {
	return b.Execute(UserKey(domain, userID), fn)
}

// UserKey derives the per-user circuit key for a domain. The user id is
// hashed rather than truncated so distinct users can never collide on a
// shared prefix.
func UserKey(domain, userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return domain + ":" + hex.EncodeToString(sum[:])[:8]
}

func (b *Breaker) recordFailure(key string, e *entry) {
	threshold := b.failureThreshold()
	timeout := b.openTimeout()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures++
	e.totalFailures++
	e.lastFailureAt = b.now()
	e.probing = false

	switch e.state {
	case StateClosed:
		if e.failures >= threshold {
			e.state = StateOpen
			b.logger.Warnw("Circuit opened",
				"key", key,
				"consecutive_failures", e.failures,
				"cooldown", timeout,
			)
		}
	case StateHalfOpen:
		// Probe failed; back to open with a fresh cooldown clock.
		e.state = StateOpen
		b.logger.Warnw("Circuit probe failed, re-opening", "key", key)
	}
}

func (b *Breaker) recordSuccess(key string, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failures = 0
	e.totalSuccesses++
	e.probing = false
	if e.state == StateHalfOpen {
		e.state = StateClosed
		b.logger.Infow("Circuit closed after successful probe", "key", key)
	}
}

// SetThreshold retunes the consecutive-failure ceiling at runtime. Applies
// to failures recorded after the call; circuits already open are untouched.
func (b *Breaker) SetThreshold(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threshold = n
}

// SetOpenTimeout retunes the open-circuit cooldown at runtime.
func (b *Breaker) SetOpenTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = d
}

func (b *Breaker) failureThreshold() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threshold
}

func (b *Breaker) openTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

// entry returns the circuit for key, creating it lazily.
func (b *Breaker) entry(key string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.circuits[key]
	if !ok {
		e = &entry{state: StateClosed}
		b.circuits[key] = e
	}
	return e
}

// Stats returns the snapshot for one key. The second return is false if the
// key has never been used.
func (b *Breaker) Stats(key string) (Stats, bool) {
	b.mu.Lock()
	e, ok := b.circuits[key]
	b.mu.Unlock()
	if !ok {
		return Stats{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Key:                 key,
		State:               e.state.String(),
		ConsecutiveFailures: e.failures,
		TotalFailures:       e.totalFailures,
		TotalSuccesses:      e.totalSuccesses,
		LastFailureAt:       e.lastFailureAt,
	}, true
}

// AllStats returns snapshots for every known key, sorted by key.
func (b *Breaker) AllStats() []Stats {
	b.mu.Lock()
	keys := make([]string, 0, len(b.circuits))
	for k := range b.circuits {
		keys = append(keys, k)
	}
	b.mu.Unlock()
	sort.Strings(keys)

	stats := make([]Stats, 0, len(keys))
	for _, k := range keys {
		if s, ok := b.Stats(k); ok {
			stats = append(stats, s)
		}
	}
	return stats
}

// Reset clears the circuit for key back to closed with zeroed consecutive
// failures. Lifetime totals are preserved.
func (b *Breaker) Reset(key string) {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateClosed
	e.probing = false
	e.failures = 0
}

// ForceOpen trips the circuit for key immediately. Operational control for
// taking a misbehaving site out of rotation.
func (b *Breaker) ForceOpen(key string) {
	e := b.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateOpen
	e.lastFailureAt = b.now()
}

// ForceClose closes the circuit for key immediately.
func (b *Breaker) ForceClose(key string) {
	b.Reset(key)
}
