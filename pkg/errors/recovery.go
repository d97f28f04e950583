package errors

import (
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without
// attempting it.
var ErrCircuitOpen = &AppError{Code: http.StatusServiceUnavailable, Message: "Circuit open"}

// Breaker is a circuit breaker for calls to an external service. After
// maxFailures consecutive failures it rejects calls for the cooldown
// period, then lets a probe through; a successful probe closes it again.
type Breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	failures    int
	openedAt    time.Time
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and stays open for cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Do runs fn unless the breaker is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	return !b.allow()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.maxFailures {
		return true
	}
	return time.Since(b.openedAt) >= b.cooldown
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.openedAt = time.Now()
	}
}
