// Package sinks implements progress consumers: structured logging, Prometheus
// collectors, and an in-memory run status board served over HTTP.
package sinks
