// Package scheduler decides when sources are due and runs at most one
// collection worker per source.
//
// A Scheduler owns a mutex-guarded map from source ID to its live
// ingest.WorkerHandle. The control loop evaluates due sources once on Start
// and then on every tick; TriggerNow uses the same registration path, so a
// source can never have two workers in flight. The mutex only guards handle
// registration and removal and is never held across storage or network I/O.
package scheduler
