// Package sinks implements progress consumers: structured logs, Prometheus
// collectors and the job run audit repository.
package sinks
