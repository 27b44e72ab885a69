package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jonwraymond/toolauth/resilience"
)

// Pinger is implemented by identity stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStoreChecker reports the identity store as unhealthy when Ping fails.
func NewStoreChecker(store Pinger) Checker {
	return NewCheckerFunc("identity_store", func(ctx context.Context) Result {
		if store == nil {
			return Unhealthy("no identity store configured", ErrCheckFailed)
		}
		if err := store.Ping(ctx); err != nil {
			return Unhealthy("identity store unreachable", err)
		}
		return Healthy("identity store reachable")
	})
}

// NewEndpointChecker issues a GET against url. Transport errors and 5xx
// responses are unhealthy. Any other response means the provider answered.
func NewEndpointChecker(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return NewCheckerFunc(name, func(ctx context.Context) Result {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Unhealthy("invalid endpoint", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return Unhealthy("endpoint unreachable", err)
		}
		_ = resp.Body.Close()

		details := map[string]any{"status_code": resp.StatusCode}
		if resp.StatusCode >= http.StatusInternalServerError {
			return Unhealthy("endpoint error", fmt.Errorf("%w: status %d", ErrCheckFailed, resp.StatusCode)).WithDetails(details)
		}
		return Healthy("endpoint reachable").WithDetails(details)
	})
}

// NewCircuitChecker maps a circuit breaker state to a health status:
// closed is healthy, half-open degraded, open unhealthy.
func NewCircuitChecker(name string, cb *resilience.CircuitBreaker) Checker {
	return NewCheckerFunc(name, func(context.Context) Result {
		if cb == nil {
			return Healthy("no circuit breaker")
		}
		state := cb.State()
		details := map[string]any{"state": state.String(), "failures": cb.Failures()}
		switch state {
		case resilience.StateOpen:
			return Unhealthy("provider circuit open", resilience.ErrCircuitOpen).WithDetails(details)
		case resilience.StateHalfOpen:
			return Degraded("provider circuit probing").WithDetails(details)
		default:
			return Healthy("provider circuit closed").WithDetails(details)
		}
	})
}
