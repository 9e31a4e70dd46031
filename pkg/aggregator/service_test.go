package aggregator

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/oxdb"
	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundToHourStart(t *testing.T) {
	ts := time.Date(2024, 6, 1, 8, 42, 17, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Unix(), roundToHourStart(ts))
	assert.Equal(t, roundToHourStart(ts)+3599, getHourEnd(roundToHourStart(ts)))
}

func TestUpdateAggregates(t *testing.T) {
	db, err := oxdb.Open(filepath.Join(t.TempDir(), "agg.db"))
	require.NoError(t, err)
	defer db.Close()

	hour := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for _, m := range []types.Measurement{
		{Oxygen: 98, HeartRate: 60, CapturedAt: hour.Add(-time.Minute)},
		{Oxygen: 90, HeartRate: 70, CapturedAt: hour},
		{Oxygen: 96, HeartRate: 80, CapturedAt: hour.Add(59*time.Minute + 59*time.Second)},
		{Oxygen: 50, HeartRate: 10, CapturedAt: hour.Add(time.Hour)},
	} {
		require.NoError(t, oxdb.InsertMeasurement(db, &m))
	}

	require.NoError(t, UpdateAggregates(db, hour.Add(30*time.Minute)))

	got, err := GetHourly(db, hour.Add(-2*time.Hour), hour.Add(2*time.Hour), hour.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)

	previous, current := got[0], got[1]
	assert.False(t, previous.IsCurrentTimeframe)
	assert.Equal(t, uint32(1), previous.Aggregate.SampleCount)

	assert.True(t, current.IsCurrentTimeframe)
	assert.Equal(t, hour.Unix(), current.Aggregate.HourStart)
	assert.Equal(t, uint32(2), current.Aggregate.SampleCount)
	assert.Equal(t, 93.0, current.Aggregate.AvgOxygen)
	assert.Equal(t, 90, current.Aggregate.MinOxygen)
	assert.Equal(t, 96, current.Aggregate.MaxOxygen)
	assert.Equal(t, 75.0, current.Aggregate.AvgHeartRate)
	assert.Equal(t, hour.Unix()+3599, current.EndTime)
}

func TestAggregateEmptyHour(t *testing.T) {
	db, err := oxdb.Open(filepath.Join(t.TempDir(), "agg.db"))
	require.NoError(t, err)
	defer db.Close()

	wrote, err := AggregateHour(db, 0)

	require.NoError(t, err)
	assert.False(t, wrote)
}

func TestLastCompletedHour(t *testing.T) {
	db, err := oxdb.Open(filepath.Join(t.TempDir(), "agg.db"))
	require.NoError(t, err)
	defer db.Close()

	hour := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for _, m := range []types.Measurement{
		{Oxygen: 94, HeartRate: 66, CapturedAt: hour.Add(10 * time.Minute)},
		{Oxygen: 98, HeartRate: 70, CapturedAt: hour.Add(20 * time.Minute)},
		{Oxygen: 91, HeartRate: 90, CapturedAt: hour.Add(time.Hour + time.Minute)},
	} {
		require.NoError(t, oxdb.InsertMeasurement(db, &m))
	}

	// Nothing aggregated yet
	got, err := LastCompletedHour(db, hour.Add(time.Hour+2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)

	now := hour.Add(time.Hour + 2*time.Minute)
	require.NoError(t, UpdateAggregates(db, now))

	got, err = LastCompletedHour(db, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsCurrentTimeframe)
	assert.Equal(t, hour.Unix(), got.Aggregate.HourStart)
	assert.Equal(t, uint32(2), got.Aggregate.SampleCount)
	assert.Equal(t, 94, got.Aggregate.MinOxygen)
	assert.Equal(t, 96.0, got.Aggregate.AvgOxygen)
}
