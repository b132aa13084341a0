// Package sinks implements progress consumers: a structured log sink and a
// Prometheus sink backing the /metrics endpoint.
package sinks
