// Package breaker gates agent calls behind a circuit breaker. After a run
// of consecutive failures the breaker opens and suppresses calls for a
// cool-off period, then lets a single probe through before deciding
// whether to close again.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the breaker state.
type Status int

const (
	StatusDisabled Status = iota
	StatusClosed
	StatusHalfOpen
	StatusOpen
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusClosed:
		return "closed"
	case StatusHalfOpen:
		return "half_open"
	case StatusOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Breaker is a process-wide shared resource; all state mutation happens
// under the mutex. The OnStateChange hook runs while the lock is held and
// must not block.
type Breaker struct {
	mu sync.Mutex

	status       Status
	failureCount int
	openUntil    time.Time
	probeGranted bool

	threshold int
	cooloff   time.Duration

	onStateChange func(Status)
	logger        *zap.Logger
	now           func() time.Time
}

// Config holds breaker construction parameters. A Threshold <= 0 builds a
// permanently disabled breaker that allows everything and records nothing.
type Config struct {
	Threshold     int
	Cooloff       time.Duration
	OnStateChange func(Status)
}

// New creates a breaker.
func New(cfg Config, logger *zap.Logger) *Breaker {
	b := &Breaker{
		threshold:     cfg.Threshold,
		cooloff:       cfg.Cooloff,
		onStateChange: cfg.OnStateChange,
		logger:        logger,
		now:           time.Now,
		status:        StatusClosed,
	}
	if cfg.Threshold <= 0 {
		b.status = StatusDisabled
	}
	if b.onStateChange != nil {
		b.onStateChange(b.status)
	}
	return b
}

// ShouldAllow is the sole admission gate. While open it returns false
// until the cool-off elapses, then transitions to half-open and returns
// true exactly once per cool-off window.
func (b *Breaker) ShouldAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case StatusDisabled, StatusClosed:
		return true
	case StatusOpen:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.setStatusLocked(StatusHalfOpen)
		b.probeGranted = true
		return true
	case StatusHalfOpen:
		if b.probeGranted {
			return false
		}
		b.probeGranted = true
		return true
	}
	return true
}

// RecordSuccess clears the failure count; in half-open it closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case StatusDisabled:
		return
	case StatusClosed:
		b.failureCount = 0
	case StatusHalfOpen:
		b.failureCount = 0
		b.probeGranted = false
		b.setStatusLocked(StatusClosed)
	}
}

// RecordFailure increments the failure count; at the threshold the
// breaker opens. A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.status {
	case StatusDisabled, StatusOpen:
		return
	case StatusClosed:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.openLocked()
		}
	case StatusHalfOpen:
		b.openLocked()
	}
}

// Status returns the current state, resolving an elapsed open window to
// half-open so callers observe the same state ShouldAllow would act on.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusOpen && !b.now().Before(b.openUntil) {
		return StatusHalfOpen
	}
	return b.status
}

func (b *Breaker) openLocked() {
	b.failureCount = 0
	b.probeGranted = false
	b.openUntil = b.now().Add(b.cooloff)
	b.setStatusLocked(StatusOpen)
}

func (b *Breaker) setStatusLocked(status Status) {
	if b.status == status {
		return
	}
	prev := b.status
	b.status = status
	if b.onStateChange != nil {
		b.onStateChange(status)
	}
	if b.logger != nil {
		b.logger.Info("Circuit breaker state changed",
			zap.String("from", prev.String()),
			zap.String("to", status.String()),
		)
	}
}
