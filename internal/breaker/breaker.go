// Package breaker implements a small consecutive-failure circuit breaker
// shared by the Broker Adapter and the Tool Gateway (spec.md §4.3, §4.9):
// it opens after a threshold of consecutive failures/denials and closes
// again after a cooldown.
package breaker

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
)

// Breaker is safe for concurrent use.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	consecutive int
	st          state
	openedAt    time.Time
	now         func() time.Time
}

// New returns a breaker that opens after threshold consecutive failures
// and stays open for cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed. If the breaker is open but the
// cooldown has elapsed, it transitions to closed (half-open-as-closed: the
// next call's outcome decides whether it reopens).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == open {
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.st = closed
			b.consecutive = 0
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.st = closed
}

// RecordFailure increments the consecutive-failure counter and opens the
// breaker once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.st = open
		b.openedAt = b.now()
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.st == open && b.now().Sub(b.openedAt) >= b.cooldown {
		return false
	}
	return b.st == open
}
