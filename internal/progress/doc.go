// Package progress carries run events from the roundup processor to pluggable
// sinks such as structured logs or Prometheus metrics. Link events are batched
// best effort; record and run outcomes are delivered promptly and never dropped.
package progress
