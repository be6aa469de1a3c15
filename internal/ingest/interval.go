package ingest

import (
	"time"
)

var intervalDurations = map[Interval]time.Duration{
	IntervalSixHour:    6 * time.Hour,
	IntervalTwelveHour: 12 * time.Hour,
	IntervalOneDay:     24 * time.Hour,
	IntervalThreeDay:   72 * time.Hour,
	IntervalWeekly:     7 * 24 * time.Hour,
}

// Duration returns the cadence length of the interval.
func (i Interval) Duration() (time.Duration, error) {
	d, ok := intervalDurations[i]
	if !ok {
		return 0, &ConfigurationError{Field: "interval", Reason: "unknown interval " + string(i)}
	}
	return d, nil
}

// Valid reports whether i is a known interval.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// ComputeNextSync maps an interval to the absolute time of the next collection.
// It is pure and has no side effects.
func ComputeNextSync(interval Interval, now time.Time) (time.Time, error) {
	d, err := interval.Duration()
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d), nil
}
