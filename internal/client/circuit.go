package client

import (
	"sync"
	"time"
)

// breaker throttles connect attempts after repeated failures. Failures
// accumulate only while they are consecutive within one cooldown window; a
// quiet window forgets them, so a backend that recovered between bursts does
// not trip it. At the threshold the breaker opens and refuses connects for
// the cooldown duration.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures    int
	lastFailure time.Time
	openUntil   time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// fail records one failed connect attempt, opening the breaker when the
// threshold is reached.
func (b *breaker) fail() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cooldown {
		b.failures = 0
	}
	b.lastFailure = now

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
		b.failures = 0
	}
}

// wait returns how much longer connects are refused, or 0 when allowed.
func (b *breaker) wait() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d := time.Until(b.openUntil); d > 0 {
		return d
	}
	return 0
}

// reset clears all failure history after a successful connect.
func (b *breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailure = time.Time{}
	b.openUntil = time.Time{}
}
