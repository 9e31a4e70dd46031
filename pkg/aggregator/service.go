package aggregator

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/oxdb"
)

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour (next hour start - 1)
func getHourEnd(hourStart int64) int64 {
	return time.Unix(hourStart, 0).Add(time.Hour).Unix() - 1
}

// AggregateHour summarises the measurements of the hour starting at hourStart.
// Returns false when the hour has no measurements, nothing is written then.
func AggregateHour(db *sql.DB, hourStart int64) (bool, error) {
	query := `
		SELECT
			AVG(oxygen) as avg_oxygen,
			MIN(oxygen) as min_oxygen,
			MAX(oxygen) as max_oxygen,
			AVG(heart_rate) as avg_heart_rate,
			COUNT(*) as count
		FROM measurements
		WHERE captured_at_ms >= ? AND captured_at_ms < ?
	`

	var (
		avgOxygen, avgHeartRate sql.NullFloat64
		minOxygen, maxOxygen    sql.NullInt64
		count                   uint32
	)
	err := db.QueryRow(query, hourStart*1000, (getHourEnd(hourStart)+1)*1000).
		Scan(&avgOxygen, &minOxygen, &maxOxygen, &avgHeartRate, &count)
	if err != nil {
		return false, err
	}

	// Only insert if we have data
	if count == 0 {
		return false, nil
	}

	return true, oxdb.UpsertAggregateHourly(db, &oxdb.AggregateHourly{
		HourStart:    hourStart,
		AvgOxygen:    avgOxygen.Float64,
		MinOxygen:    int(minOxygen.Int64),
		MaxOxygen:    int(maxOxygen.Int64),
		AvgHeartRate: avgHeartRate.Float64,
		SampleCount:  count,
	})
}

// UpdateAggregates refreshes the current hour and the one before it,
// so late measurements for the previous hour are still picked up.
func UpdateAggregates(db *sql.DB, now time.Time) error {
	current := roundToHourStart(now)
	previous := current - int64(time.Hour/time.Second)

	var errs []error
	for _, hourStart := range []int64{previous, current} {
		if _, err := AggregateHour(db, hourStart); err != nil {
			errs = append(errs, fmt.Errorf("aggregate hour %d: %w", hourStart, err))
		}
	}
	return errors.Join(errs...)
}

// GetHourly returns the hourly summaries between from and to, marking the one still in progress.
func GetHourly(db *sql.DB, from, to time.Time, now time.Time) ([]AggregateData, error) {
	rows, err := oxdb.GetAggregatesHourly(db, roundToHourStart(from), roundToHourStart(to))
	if err != nil {
		return nil, err
	}

	current := roundToHourStart(now)
	out := make([]AggregateData, 0, len(rows))
	for _, row := range rows {
		out = append(out, AggregateData{
			EndTime:            getHourEnd(row.HourStart),
			IsCurrentTimeframe: row.HourStart == current,
			Aggregate:          row,
		})
	}
	return out, nil
}

// LastCompletedHour returns the summary of the hour before the one now falls in,
// or nil when that hour had no measurements.
func LastCompletedHour(db *sql.DB, now time.Time) (*AggregateData, error) {
	previous := now.UTC().Truncate(time.Hour).Add(-time.Hour)
	rows, err := GetHourly(db, previous, previous, now)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
