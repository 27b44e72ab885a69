// Package resilience bounds calls to external identity providers.
//
// Token introspection and JWKS fetches are network calls made while a tool
// invocation waits. Each call is wrapped so that it finishes in bounded time
// and never hangs the invocation:
//
//   - Timeout: every attempt gets its own deadline.
//   - Retry: transient failures are retried a bounded number of times with
//     backoff. Errors marked Permanent are returned at once.
//   - Circuit breaker: after repeated failures calls fail fast with
//     ErrCircuitOpen until the reset timeout elapses.
//
// An Executor composes the three:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 2})),
//	    resilience.WithTimeout(5*time.Second),
//	)
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return introspect(ctx, token)
//	})
//
// Callers treat ErrTimeout, ErrCircuitOpen and exhausted retries as "provider
// unavailable" and fail closed.
package resilience
