// Package audit defines the structured authorization audit event and the sinks
// that accept it.
package audit
