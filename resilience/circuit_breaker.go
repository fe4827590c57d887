package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-fallback/loader"
	"github.com/agentuity/go-fallback/logger"
	"github.com/cockroachdb/errors"
)

// ErrCircuitBreakerOpen is returned without calling the protected function
// while the breaker is open.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the breaker in logs
	Name string

	// MaxFailures is the number of consecutive failures opening the circuit
	MaxFailures int

	// Timeout is how long to wait before transitioning from Open to Half-Open
	Timeout time.Duration

	// MaxConcurrentRequests is the max requests allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// IsFailure decides which errors count against the circuit. Defaults to
	// DefaultIsFailure.
	IsFailure func(error) bool

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// Logger receives state transitions. Defaults to a console logger.
	Logger logger.Logger
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:                  "circuit-breaker",
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      3,
	}
}

// DefaultIsFailure counts every error except a missing value and a caller
// giving up: neither says anything about the health of the source.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, loader.ErrNotFound) && !errors.Is(err, context.Canceled)
}

// CircuitBreaker stops calling a failing source for a while, letting callers
// fail fast. It runs the protected function on the caller's goroutine and
// never imposes timeouts of its own.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    logger.Logger

	state           int32 // CircuitBreakerState
	failures        int32
	successes       int32
	requests        int32
	lastFailureTime int64 // Unix nano

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.IsFailure == nil {
		config.IsFailure = DefaultIsFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = 1
	}
	log := config.Logger
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	return &CircuitBreaker{
		config: config,
		log:    log.WithPrefix("[" + config.Name + "]"),
		state:  int32(StateClosed),
	}
}

// Execute runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	halfOpen, err := cb.beforeRequest()
	if err != nil {
		return err
	}
	err = fn()
	if halfOpen {
		atomic.AddInt32(&cb.requests, -1)
	}
	if err != nil {
		if cb.config.IsFailure(err) {
			cb.onFailure()
		}
		return err
	}
	cb.onSuccess()
	return nil
}

// beforeRequest checks if the request should be allowed, and whether it is a
// half-open probe
func (cb *CircuitBreaker) beforeRequest() (bool, error) {
	switch CircuitBreakerState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		return false, nil

	case StateOpen:
		if !cb.shouldAttemptReset() {
			return false, ErrCircuitBreakerOpen
		}
		cb.TransitionToHalfOpen()
		return cb.beforeRequest()

	case StateHalfOpen:
		if atomic.AddInt32(&cb.requests, 1) > int32(cb.config.MaxConcurrentRequests) {
			atomic.AddInt32(&cb.requests, -1)
			return false, ErrCircuitBreakerOpen
		}
		return true, nil

	default:
		return false, ErrCircuitBreakerOpen
	}
}

// onSuccess is called when a request succeeds
func (cb *CircuitBreaker) onSuccess() {
	switch CircuitBreakerState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)

	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.successes, 1)
		if int(successes) >= cb.config.SuccessThreshold {
			cb.transitionToClosed()
		}
	}
}

// onFailure is called when a request fails
func (cb *CircuitBreaker) onFailure() {
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, cb.config.Now().UnixNano())

	switch CircuitBreakerState(atomic.LoadInt32(&cb.state)) {
	case StateClosed:
		if int(failures) >= cb.config.MaxFailures {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

// shouldAttemptReset checks if enough time has passed to attempt a reset
func (cb *CircuitBreaker) shouldAttemptReset() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	return cb.config.Now().Sub(time.Unix(0, lastFailure)) >= cb.config.Timeout
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.SwapInt32(&cb.state, int32(StateClosed)) != int32(StateClosed) {
		cb.log.Info("circuit closed, source recovered")
	}
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.successes, 0)
	atomic.StoreInt32(&cb.requests, 0)
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.SwapInt32(&cb.state, int32(StateOpen)) != int32(StateOpen) {
		cb.log.Warn("circuit opened after %d failures, failing fast for %s", atomic.LoadInt32(&cb.failures), cb.config.Timeout)
	}
	atomic.StoreInt64(&cb.lastFailureTime, cb.config.Now().UnixNano())
}

// TransitionToHalfOpen transitions the circuit breaker to half-open state
func (cb *CircuitBreaker) TransitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.SwapInt32(&cb.state, int32(StateHalfOpen)) != int32(StateHalfOpen) {
		cb.log.Debug("circuit half-open, probing source")
		atomic.StoreInt32(&cb.successes, 0)
		atomic.StoreInt32(&cb.requests, 0)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// Failures returns the current failure count
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt32(&cb.failures))
}

// Successes returns the current success count (only relevant in half-open state)
func (cb *CircuitBreaker) Successes() int {
	return int(atomic.LoadInt32(&cb.successes))
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transitionToClosed()
}

// CircuitBreakerStats is a snapshot of a breaker
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
	Requests  int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	return CircuitBreakerStats{
		State:     cb.State(),
		Failures:  cb.Failures(),
		Successes: cb.Successes(),
		Requests:  int(atomic.LoadInt32(&cb.requests)),
	}
}
