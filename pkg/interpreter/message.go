package interpreter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/NotCoffee418/oxygen_monitor/pkg/types"
	"github.com/sigurn/crc16"
)

var (
	ErrMalformedMessage = errors.New("malformed measurement message")
	ErrChecksumMismatch = errors.New("measurement message checksum mismatch")
)

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// Message is what observers receive over the websocket.
// Crc is CRC16/ARC over the raw measurement JSON as 4 hex digits.
type Message struct {
	Measurement json.RawMessage `json:"measurement"`
	Crc         string          `json:"crc"`
}

func EncodeMessage(m types.Measurement) []byte {
	payload := m.ToJsonBytes()
	data, err := json.Marshal(Message{
		Measurement: payload,
		Crc:         checksum(payload),
	})
	if err != nil {
		return nil
	}
	return data
}

func DecodeMessage(data []byte) (*types.Measurement, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	if len(msg.Measurement) == 0 {
		return nil, fmt.Errorf("%w: no measurement", ErrMalformedMessage)
	}

	if given := strings.ToUpper(msg.Crc); given != checksum(msg.Measurement) {
		return nil, fmt.Errorf("%w: got %q", ErrChecksumMismatch, msg.Crc)
	}

	m := types.MeasurementFromJsonBytes(msg.Measurement)
	if m == nil {
		return nil, fmt.Errorf("%w: invalid measurement payload", ErrMalformedMessage)
	}
	return m, nil
}

func checksum(payload []byte) string {
	return fmt.Sprintf("%04X", crc16.Checksum(payload, crcTable))
}
