package resilience

import (
	"context"
	"time"
)

// Executor composes bulkhead, circuit breaker, retry and timeout.
//
// Contract:
//   - Concurrency: safe for concurrent use when its components are.
//   - Errors: the innermost error is returned unchanged unless a component
//     replaces it (ErrBulkheadFull, ErrCircuitOpen, ErrTimeout,
//     ErrMaxRetriesExceeded).
type Executor struct {
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	retry          *Retry
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithBulkhead caps concurrent executions.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout})
	}
}

// CircuitBreaker returns the configured breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker {
	return e.circuitBreaker
}

// Bulkhead returns the configured bulkhead, or nil.
func (e *Executor) Bulkhead() *Bulkhead {
	return e.bulkhead
}

// Execute runs op through the configured patterns. The bulkhead is outermost
// so a rejected call never reaches the breaker. The circuit breaker counts a
// whole retried call once. The timeout is innermost so every attempt gets a
// fresh deadline.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// Policy is the provider-call policy read from configuration.
type Policy struct {
	Timeout             time.Duration
	MaxAttempts         int
	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration

	// MaxConcurrent caps calls in flight. Zero leaves them uncapped. A call
	// waits at most Timeout for a slot.
	MaxConcurrent int
}

// NewPolicyExecutor builds an Executor with timeout, retry, circuit breaker
// and, when MaxConcurrent is set, a bulkhead from p. Zero fields take
// component defaults.
func NewPolicyExecutor(p Policy) *Executor {
	opts := []ExecutorOption{
		WithCircuitBreaker(NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:  p.CircuitMaxFailures,
			ResetTimeout: p.CircuitResetTimeout,
		})),
		WithRetry(NewRetry(RetryConfig{
			MaxAttempts: p.MaxAttempts,
			Jitter:      true,
		})),
		WithTimeout(p.Timeout),
	}
	if p.MaxConcurrent > 0 {
		opts = append(opts, WithBulkhead(NewBulkhead(BulkheadConfig{
			MaxConcurrent: p.MaxConcurrent,
			MaxWait:       p.Timeout,
		})))
	}
	return NewExecutor(opts...)
}
