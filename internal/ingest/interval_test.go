package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeNextSyncSixHourWithinADay(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	for i := 0; i < 48; i++ {
		now := base.Add(time.Duration(i) * 37 * time.Minute)
		next, err := ComputeNextSync(IntervalSixHour, now)
		require.NoError(t, err)
		require.True(t, next.After(now), "next sync must be in the future")
		require.False(t, next.After(now.Add(24*time.Hour)), "next sync must be within a day")
	}
}

func TestComputeNextSyncDurations(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	cases := map[Interval]time.Duration{
		IntervalSixHour:    6 * time.Hour,
		IntervalTwelveHour: 12 * time.Hour,
		IntervalOneDay:     24 * time.Hour,
		IntervalThreeDay:   72 * time.Hour,
		IntervalWeekly:     168 * time.Hour,
	}
	for interval, want := range cases {
		next, err := ComputeNextSync(interval, now)
		require.NoError(t, err)
		require.Equal(t, want, next.Sub(now), string(interval))
	}
}

func TestComputeNextSyncIsDeterministic(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	a, err := ComputeNextSync(IntervalThreeDay, now)
	require.NoError(t, err)
	b, err := ComputeNextSync(IntervalThreeDay, now)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestComputeNextSyncRejectsUnknownInterval(t *testing.T) {
	t.Parallel()

	_, err := ComputeNextSync(Interval("HOURLY"), time.Now())
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "interval", cfgErr.Field)
}
