// Package observe provides the logging, tracing and metrics used around
// identity resolution and tool dispatch.
//
// The Logger is a structured JSON logger that redacts credential-bearing
// fields. Tracing and metrics are OpenTelemetry; exporters are chosen by name
// (see package exporters). Every authorization decision is counted by mode,
// decision and reason; every dispatched invocation gets a span named
// toolauth.invoke.<tool>.
package observe
