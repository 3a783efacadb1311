package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/mcncl/worker-echo/internal/errors"
)

// CircuitState is the position of a CircuitBreaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// AllStates lists every state name, in declaration order. It is the label
// set handed to the circuit state gauge.
func AllStates() []string {
	return append([]string(nil), stateNames[:]...)
}

// CircuitBreakerConfig tunes when a CircuitBreaker opens and recovers
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open a closed circuit
	FailureThreshold int
	// SuccessThreshold consecutive probe successes close a half-open circuit
	SuccessThreshold int
	// Timeout is the cool-down before an open circuit lets a probe through
	Timeout time.Duration
	// MaxHalfOpenRequests caps probes admitted while half-open
	MaxHalfOpenRequests int
}

// DefaultCircuitBreakerConfig returns the settings used for the console sink
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 3,
	}
}

// CircuitStats is a point-in-time view of a CircuitBreaker
type CircuitStats struct {
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	Rejected             uint64    `json:"rejected"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastStateChange      time.Time `json:"last_state_change"`
}

// CircuitBreaker guards a Publisher. Once the sink keeps failing, console
// lines are refused up front until the cool-down passes, so a dead topic
// never slows down request handling.
type CircuitBreaker struct {
	next Publisher
	cfg  CircuitBreakerConfig
	now  func() time.Time

	mu        sync.RWMutex
	state     CircuitState
	failures  int
	successes int
	probes    int
	rejected  uint64
	failedAt  time.Time
	changedAt time.Time
	notify    func(from, to CircuitState)
}

// NewCircuitBreaker wraps pub. The breaker starts closed.
func NewCircuitBreaker(pub Publisher, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		next:      pub,
		cfg:       cfg,
		now:       time.Now,
		changedAt: time.Now(),
	}
}

// SetOnStateChange registers fn for transitions. fn runs on its own goroutine.
func (cb *CircuitBreaker) SetOnStateChange(fn func(from, to CircuitState)) {
	cb.mu.Lock()
	cb.notify = fn
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats snapshots the breaker counters
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitStats{
		State:                cb.state.String(),
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		Rejected:             cb.rejected,
		LastFailure:          cb.failedAt,
		LastStateChange:      cb.changedAt,
	}
}

// Publish forwards to the wrapped publisher unless the circuit refuses the
// call, in which case a connection error is returned without publishing.
func (cb *CircuitBreaker) Publish(ctx context.Context, data interface{}, attributes map[string]string) (string, error) {
	if err := cb.admit(); err != nil {
		return "", err
	}

	id, err := cb.next.Publish(ctx, data, attributes)
	cb.record(err)
	return id, err
}

// Close closes the wrapped publisher
func (cb *CircuitBreaker) Close() error {
	return cb.next.Close()
}

// Reset forces the circuit closed and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.moveTo(StateClosed)
	cb.failures, cb.successes, cb.probes = 0, 0, 0
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.failedAt) < cb.cfg.Timeout {
			cb.rejected++
			return errors.NewConnectionError("circuit breaker is open")
		}
		cb.moveTo(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.MaxHalfOpenRequests {
			cb.rejected++
			return errors.NewConnectionError("circuit breaker: too many requests in half-open state")
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
			cb.moveTo(StateClosed)
		}
		return
	}

	cb.successes = 0
	cb.failures++
	cb.failedAt = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.moveTo(StateOpen)
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.moveTo(StateOpen)
		}
	}
}

// moveTo requires mu held for writing
func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.changedAt = cb.now()
	cb.probes = 0

	if fn := cb.notify; fn != nil {
		go fn(from, to)
	}
}
