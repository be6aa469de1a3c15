package scheduler

import (
	"time"

	"github.com/JakeFAU/sourcesync/internal/progress"
)

// Default configuration values.
const (
	DefaultTickInterval   = 60 * time.Second
	DefaultStopTimeout    = 30 * time.Second
	DefaultCollectTimeout = 5 * time.Minute
)

// Config tunes the control loop and workers.
type Config struct {
	TickInterval   time.Duration
	StopTimeout    time.Duration
	CollectTimeout time.Duration
	// MaxConcurrent caps in-flight workers across all sources; zero means
	// unbounded.
	MaxConcurrent int64
	// DisableTicker keeps the loop idle so only TriggerNow and Tick dispatch.
	DisableTicker bool
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = DefaultCollectTimeout
	}
	if c.MaxConcurrent < 0 {
		c.MaxConcurrent = 0
	}
	return c
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithEmitter publishes sync progress events to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(s *Scheduler) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithOnComplete registers a callback run once per finished worker, after
// its handle has been removed.
func WithOnComplete(fn func(Result)) Option {
	return func(s *Scheduler) {
		s.onComplete = fn
	}
}
