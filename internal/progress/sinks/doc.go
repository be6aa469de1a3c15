// Package sinks implements progress consumers: structured logging,
// Prometheus collectors and an in-memory run history for the admin API.
package sinks
