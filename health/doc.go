// Package health reports whether the dependencies that identity resolution
// relies on are usable.
//
// Resolution fails closed when the identity store or the identity provider is
// unreachable, so an operator needs to see those conditions before traffic
// does. Checkers cover:
//
//   - the identity store (StoreChecker, via Ping)
//   - provider endpoints such as JWKS or introspection (EndpointChecker)
//   - the provider circuit breaker (CircuitChecker)
//
// An Aggregator runs checkers concurrently under one deadline and folds the
// results into an overall Status and a JSON-friendly Report.
//
//	agg := health.NewAggregator()
//	agg.Register(health.NewStoreChecker(store))
//	agg.Register(health.NewEndpointChecker("jwks", jwksURL, nil))
//	report := agg.Report(ctx)
package health
