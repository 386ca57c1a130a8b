// Package resilience provides retry, circuit breaking and request pacing for
// calls to external services.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is where a CircuitBreaker stands.
type CircuitState int

// Circuit states.
const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

var stateNames = map[CircuitState]string{
	CircuitClosed:   "closed",
	CircuitOpen:     "open",
	CircuitHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling through while the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string        // service name for logs
	FailureThreshold int           // consecutive failures that open the circuit; default 5
	ResetTimeout     time.Duration // time open before a trial call; default 60s
}

// CircuitBreaker fails calls fast after a run of consecutive failures, so a
// batch of summaries against a dead API ends in seconds rather than one
// timeout per norm. After ResetTimeout one trial call is let through; its
// outcome closes or reopens the circuit.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time // zero while closed
	probing   bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Minute
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// ExecuteVal calls fn through cb.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if !cb.acquire() {
		var zero T
		return zero, ErrCircuitOpen
	}
	val, err := fn(ctx)
	cb.release(err)
	return val, err
}

// State reports the breaker's state as the next call would see it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	switch {
	case cb.openUntil.IsZero():
		return CircuitClosed
	case cb.probing || !cb.now().Before(cb.openUntil):
		return CircuitHalfOpen
	default:
		return CircuitOpen
	}
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.openUntil.IsZero() {
		return true
	}
	if cb.probing || cb.now().Before(cb.openUntil) {
		return false
	}
	cb.probing = true
	return true
}

func (cb *CircuitBreaker) release(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	before := cb.stateLocked()
	cb.probing = false

	if err == nil {
		cb.failures = 0
		cb.openUntil = time.Time{}
	} else {
		cb.failures++
		if before == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openUntil = cb.now().Add(cb.cfg.ResetTimeout)
		}
	}

	if after := cb.stateLocked(); after != before {
		zap.L().Info("circuit breaker state change",
			zap.String("service", cb.cfg.Name),
			zap.Stringer("from", before),
			zap.Stringer("to", after),
			zap.Int("consecutive_failures", cb.failures),
		)
	}
}
