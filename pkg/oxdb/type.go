package oxdb

// AggregateHourly summarises one hour of measurements.
type AggregateHourly struct {
	HourStart    int64   `db:"hour_start"`
	AvgOxygen    float64 `db:"avg_oxygen"`
	MinOxygen    int     `db:"min_oxygen"`
	MaxOxygen    int     `db:"max_oxygen"`
	AvgHeartRate float64 `db:"avg_heart_rate"`
	SampleCount  uint32  `db:"sample_count"`
}
