package broker

import (
	"sync"
	"time"

	apperrors "simtrader/internal/errors"
)

// BreakerState is the state of the backend circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"    // requests flow
	BreakerOpen     BreakerState = "OPEN"      // requests fail fast
	BreakerHalfOpen BreakerState = "HALF_OPEN" // one probe request in flight
)

// BreakerConfig holds circuit breaker configuration. A zero FailureThreshold
// disables the breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before a probe is allowed.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the breaker used when none is configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         10 * time.Second,
	}
}

// breaker stops sending requests to a backend that keeps failing at the
// transport level or with 5xx responses.
type breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(cfg BreakerConfig) *breaker {
	return &breaker{cfg: cfg, now: time.Now, state: BreakerClosed}
}

// allow reports whether a request may be sent.
func (b *breaker) allow() error {
	if b.cfg.FailureThreshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return apperrors.ErrBackendUnavailable
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return apperrors.ErrBackendUnavailable
		}
		b.probing = true
	}
	return nil
}

// record counts the outcome of an allowed request.
func (b *breaker) record(failed bool) {
	if b.cfg.FailureThreshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if !failed {
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.failures = 0
	}
}

// release ends an allowed request that neither succeeded nor failed, such
// as one whose context was cancelled.
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
