package marketdata

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the circuit is open and calls are short-circuited.
var ErrBreakerOpen = errors.New("market feed circuit open")

// BreakerState is the circuit state (closed, open, half-open).
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker parameters for the market feed.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening; default 5
	SuccessThreshold int           // half-open successes before closing; default 2
	Cooldown         time.Duration // open duration before allowing a probe; default 30s
	OnStateChange    func(from, to BreakerState)
}

// Breaker protects the market feed by short-circuiting calls after repeated
// failures and letting probe requests through after the cooldown.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a Breaker with defaults applied for unset config values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// Do runs fn if the circuit allows it and records the outcome.
// Returns ErrBreakerOpen without calling fn while the circuit is open.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state (for metrics).
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow checks whether a call may proceed, moving open -> half-open after cooldown.
func (b *Breaker) allow() error {
	b.mu.Lock()
	if b.state == BreakerOpen {
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.transitionLocked(BreakerHalfOpen)
	}
	b.mu.Unlock()
	return nil
}

// record updates counters and state from a call outcome.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.failures = 0
			b.openedAt = time.Now()
			b.transitionLocked(BreakerOpen)
		}
		return
	}

	b.failures = 0
	b.successes++
	if b.state == BreakerHalfOpen && b.successes >= b.cfg.SuccessThreshold {
		b.successes = 0
		b.transitionLocked(BreakerClosed)
	}
}

// transitionLocked switches state and fires the hook. Must hold the mutex;
// the hook is invoked without it to keep metric callbacks out of the lock.
func (b *Breaker) transitionLocked(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		hook := b.cfg.OnStateChange
		b.mu.Unlock()
		hook(from, to)
		b.mu.Lock()
	}
}
