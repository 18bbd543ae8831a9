package gemini

import (
	"sync"
	"time"
)

const (
	defaultMaxFailures     = 3
	defaultCircuitCooldown = 60 * time.Second
)

// circuitBreaker counts consecutive failures across all keys. After
// maxFailures the circuit opens for cooldown; calls during that window fail
// fast. The first success closes it.
type circuitBreaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	cooldown    time.Duration
	openUntil   time.Time
	now         func() time.Time
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	if cooldown <= 0 {
		cooldown = defaultCircuitCooldown
	}
	return &circuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// RecordSuccess closes the circuit.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

// RecordFailure counts one failure and opens the circuit when the threshold
// is reached.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.openUntil = b.now().Add(b.cooldown)
		b.failures = 0
	}
}
