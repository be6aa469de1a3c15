// Package progress carries sync lifecycle events from scheduler workers to
// pluggable sinks. Workers emit without blocking; a background goroutine
// batches events and hands them to each sink with a per-sink timeout.
package progress
