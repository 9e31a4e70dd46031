package interpreter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
)

var (
	ErrEncoding     = errors.New("frame is not ascii")
	ErrTooShort     = errors.New("frame too short")
	ErrInvalidField = errors.New("invalid measurement field")
)

// Fixed field layout of an oximeter frame, offsets exclude the "Sp" prefix.
const (
	MinFrameLength  = 15
	oxygenOffset    = 5
	heartRateOffset = 12
	fieldWidth      = 3
)

// ParseMeasurement turns one frame into a measurement captured at capturedAt.
// Values are not range checked, a numeric "999" oxygen field is accepted as is.
//
// Offsets count from the first byte after "Sp". Instruments whose layout counts
// from the "S" of the prefix, such as "SpO2 097 HR 072\r\n", leave a 13 byte
// frame here and are rejected with ErrTooShort.
func ParseMeasurement(frame []byte, capturedAt time.Time) (types.Measurement, error) {
	for i, b := range frame {
		if b > 0x7F {
			return types.Measurement{}, fmt.Errorf("%w: byte 0x%02X at offset %d", ErrEncoding, b, i)
		}
	}

	text := string(frame)
	if len(text) < MinFrameLength {
		return types.Measurement{}, fmt.Errorf("%w: %d of %d characters", ErrTooShort, len(text), MinFrameLength)
	}

	oxygen, err := parseField(text, oxygenOffset)
	if err != nil {
		return types.Measurement{}, fmt.Errorf("oxygen: %w", err)
	}
	heartRate, err := parseField(text, heartRateOffset)
	if err != nil {
		return types.Measurement{}, fmt.Errorf("heart rate: %w", err)
	}

	return types.Measurement{
		Oxygen:     oxygen,
		HeartRate:  heartRate,
		CapturedAt: capturedAt,
	}, nil
}

func parseField(text string, offset int) (int, error) {
	raw := text[offset : offset+fieldWidth]
	field := strings.Trim(raw, " \t")
	if field == "" {
		return 0, fmt.Errorf("%w: %q is blank", ErrInvalidField, raw)
	}
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q is not numeric", ErrInvalidField, raw)
		}
	}

	value, err := strconv.Atoi(field)
	if err != nil {
		return 0, errors.Join(ErrInvalidField, err)
	}
	return value, nil
}

// FailureReason maps a parse error onto a short label for metrics and logs.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrTooShort):
		return "too_short"
	case errors.Is(err, ErrInvalidField):
		return "invalid_field"
	default:
		return "unknown"
	}
}
