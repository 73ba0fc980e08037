// Package progress carries job run events from the orchestrator to pluggable
// sinks. The Hub buffers events on a channel, batches them on one background
// goroutine and fans each batch out to every sink (logs, Prometheus, the run
// audit table). Emit never blocks the job that produced the event.
package progress
