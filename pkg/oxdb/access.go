package oxdb

import (
	"database/sql"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
)

func InsertMeasurement(db *sql.DB, m *types.Measurement) error {
	_, err := db.Exec(
		"INSERT INTO measurements (captured_at_ms, oxygen, heart_rate) "+
			"VALUES (?, ?, ?)",
		m.CapturedAt.UnixMilli(),
		m.Oxygen,
		m.HeartRate,
	)
	return err
}

func UpsertAggregateHourly(db *sql.DB, a *AggregateHourly) error {
	_, err := db.Exec(
		"INSERT OR REPLACE INTO aggregate_hourly "+
			"(hour_start, avg_oxygen, min_oxygen, max_oxygen, avg_heart_rate, sample_count) "+
			"VALUES (?, ?, ?, ?, ?, ?)",
		a.HourStart,
		a.AvgOxygen,
		a.MinOxygen,
		a.MaxOxygen,
		a.AvgHeartRate,
		a.SampleCount,
	)
	return err
}

// GetAggregatesHourly returns summaries with hour_start in [from, to].
func GetAggregatesHourly(db *sql.DB, from, to int64) ([]AggregateHourly, error) {
	rows, err := db.Query(
		"SELECT hour_start, avg_oxygen, min_oxygen, max_oxygen, avg_heart_rate, sample_count "+
			"FROM aggregate_hourly WHERE hour_start >= ? AND hour_start <= ? ORDER BY hour_start",
		from,
		to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AggregateHourly
	for rows.Next() {
		var a AggregateHourly
		if err := rows.Scan(&a.HourStart, &a.AvgOxygen, &a.MinOxygen, &a.MaxOxygen, &a.AvgHeartRate, &a.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
