package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Header line written once at the top of every .o2d data file.
const CsvHeader = "Date, O2, HeartRate\n"

// Measurement is a single validated pulse oximeter reading.
// Only the interpreter creates these, and they are never modified afterwards.
type Measurement struct {
	Oxygen     int       `json:"oxygen"`
	HeartRate  int       `json:"heart_rate"`
	CapturedAt time.Time `json:"captured_at"`
}

// CSVLine renders the measurement as a newline-terminated .o2d data line.
func (m Measurement) CSVLine() string {
	return fmt.Sprintf("%s, %d, %d\n", m.CapturedAt.Format(time.RFC3339), m.Oxygen, m.HeartRate)
}

func (m Measurement) ToJsonBytes() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Measurement only holds ints and a time, marshalling can't fail
		return nil
	}
	return data
}

// Returns nil when the bytes are not a measurement.
func MeasurementFromJsonBytes(data []byte) *Measurement {
	var m Measurement
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	if m.CapturedAt.IsZero() {
		return nil
	}
	return &m
}
