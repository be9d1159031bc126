// Package progress provides the lifecycle events the follower emits, a
// non-blocking hub that batches them on a background goroutine, and the sink
// interface used to fan batches out to logs and Prometheus.
package progress
