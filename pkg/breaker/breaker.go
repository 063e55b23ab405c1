package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshvault/meshvault/pkg/logging"
)

// State captures the circuit breaker states.
type State int

const (
	// StateClosed indicates normal operation.
	StateClosed State = iota
	// StateOpen indicates the breaker is rejecting calls.
	StateOpen
	// StateHalfOpen indicates a single trial call is permitted.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ServiceUnavailableError is the synthetic error handed to fallbacks while the
// circuit is open.
type ServiceUnavailableError struct {
	Service string
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %s unavailable: circuit open", e.Service)
}

// Fallback handles a failed or rejected operation. Returning nil marks the
// degraded call as handled.
type Fallback func(ctx context.Context, cause error) error

// CircuitBreaker stops calling a failing operation after repeated failures and
// periodically allows a trial call to test recovery.
//
// Mutable state is mutex-guarded so a breaker instance can be shared across
// concurrent callers. Two callers may both observe a closed circuit and both
// run the operation; that window is an accepted trade-off for throughput and
// must not be serialized away.
type CircuitBreaker struct {
	mu sync.Mutex

	serviceName      string
	failureThreshold int
	resetTimeout     time.Duration

	state           State
	failureStreak   int
	lastFailureTime time.Time

	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64

	now    func() time.Time
	logger *logging.Logger
}

// New creates a circuit breaker for the named service. The failure threshold
// must be positive.
func New(serviceName string, failureThreshold int, resetTimeout time.Duration, logger *logging.Logger) (*CircuitBreaker, error) {
	if failureThreshold <= 0 {
		return nil, fmt.Errorf("circuit breaker %s: failure threshold must be positive, got %d", serviceName, failureThreshold)
	}
	return &CircuitBreaker{
		serviceName:      serviceName,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            StateClosed,
		now:              time.Now,
		logger:           logger,
	}, nil
}

// Execute runs operation through the breaker. While the circuit is open the
// operation is not invoked: the fallback receives a synthetic
// ServiceUnavailableError, or that error is returned when no fallback exists.
// On operation failure the fallback runs with the original error; a fallback
// error supersedes the original.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func() error, fallback Fallback) error {
	cb.mu.Lock()
	cb.updateState()

	if cb.state == StateOpen {
		cb.totalRejections++
		cb.logger.Warn("circuit open, rejecting call", "service", cb.serviceName, "rejections", cb.totalRejections)
		cb.mu.Unlock()

		unavailable := &ServiceUnavailableError{Service: cb.serviceName}
		if fallback == nil {
			return unavailable
		}
		return fallback(ctx, unavailable)
	}

	wasHalfOpen := cb.state == StateHalfOpen
	cb.mu.Unlock()

	err := operation()

	cb.mu.Lock()
	if err == nil {
		cb.totalSuccesses++
		if wasHalfOpen {
			cb.resetLocked()
			cb.logger.Info("trial call succeeded, circuit closed", "service", cb.serviceName)
		} else if cb.state == StateClosed {
			cb.failureStreak = 0
		}
		cb.mu.Unlock()
		return nil
	}

	cb.totalFailures++
	cb.failureStreak++
	cb.lastFailureTime = cb.now()
	if cb.failureStreak >= cb.failureThreshold || wasHalfOpen {
		cb.state = StateOpen
		cb.logger.Warn("circuit opened", "service", cb.serviceName, "failureStreak", cb.failureStreak, "error", err)
	}
	cb.mu.Unlock()

	if fallback == nil {
		return err
	}
	if fbErr := fallback(ctx, err); fbErr != nil {
		return fbErr
	}
	return nil
}

// Reset forces the circuit closed with a zero failure streak, regardless of
// the current state. It is the manual recovery path.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetLocked()
	cb.logger.Info("circuit manually reset", "service", cb.serviceName)
}

// State returns the breaker state after applying timeout-based transitions.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.updateState()
	return cb.state
}

// Metrics contains a point-in-time snapshot of breaker counters.
type Metrics struct {
	ServiceName             string        `json:"service_name"`
	State                   string        `json:"state"`
	FailureThreshold        int           `json:"failure_threshold"`
	ResetTimeout            time.Duration `json:"reset_timeout"`
	FailureStreak           int           `json:"failure_streak"`
	TotalSuccesses          int64         `json:"total_successes"`
	TotalFailures           int64         `json:"total_failures"`
	TotalRejections         int64         `json:"total_rejections"`
	SecondsSinceLastFailure *float64      `json:"seconds_since_last_failure,omitempty"`
}

// Metrics returns a snapshot of the breaker counters. It has no side effects
// on breaker state.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := Metrics{
		ServiceName:      cb.serviceName,
		State:            cb.state.String(),
		FailureThreshold: cb.failureThreshold,
		ResetTimeout:     cb.resetTimeout,
		FailureStreak:    cb.failureStreak,
		TotalSuccesses:   cb.totalSuccesses,
		TotalFailures:    cb.totalFailures,
		TotalRejections:  cb.totalRejections,
	}
	if !cb.lastFailureTime.IsZero() {
		since := cb.now().Sub(cb.lastFailureTime).Seconds()
		m.SecondsSinceLastFailure = &since
	}
	return m
}

// updateState moves an expired open circuit to half-open. Callers must hold
// the mutex.
func (cb *CircuitBreaker) updateState() {
	if cb.state == StateOpen && !cb.lastFailureTime.IsZero() &&
		cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		cb.state = StateHalfOpen
		cb.logger.Info("reset timeout elapsed, circuit half-open", "service", cb.serviceName)
	}
}

func (cb *CircuitBreaker) resetLocked() {
	cb.state = StateClosed
	cb.failureStreak = 0
	cb.lastFailureTime = time.Time{}
}

// Do runs a value-returning operation through the breaker. When the circuit is
// open or the operation fails, the fallback produces the degraded value.
func Do[T any](ctx context.Context, cb *CircuitBreaker, operation func() (T, error), fallback func(ctx context.Context, cause error) (T, error)) (T, error) {
	var result T
	var opFallback Fallback
	if fallback != nil {
		opFallback = func(ctx context.Context, cause error) error {
			value, err := fallback(ctx, cause)
			if err != nil {
				return err
			}
			result = value
			return nil
		}
	}

	err := cb.Execute(ctx, func() error {
		value, err := operation()
		if err != nil {
			return err
		}
		result = value
		return nil
	}, opFallback)

	return result, err
}
