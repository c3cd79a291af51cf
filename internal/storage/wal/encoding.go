package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/aispark/pdmcore/internal/storage/types"
)

// Reading encoding format (binary, little-endian):
// - ClientID length (2 bytes) + ClientID string
// - MachineID length (2 bytes) + MachineID string
// - SensorType length (2 bytes) + SensorType string
// - TimestampMs (8 bytes)
// - Field presence bitmask (1 byte)
// - Present fields (8 bytes each, float64, in bitmask order)
// - Custom field count (2 bytes) + per field: name length (2 bytes) +
//   name + value (8 bytes)
// - Raw payload length (4 bytes) + raw JSON bytes
// - RecordedAtMs (8 bytes)

const (
	fieldTemperature = 1 << iota
	fieldVibration
	fieldPower
	fieldPressure
	fieldSpeed
	fieldEfficiency
)

// encodeReadings encodes a slice of readings into a binary format.
func encodeReadings(readings []types.Reading) ([]byte, error) {
	if len(readings) == 0 {
		return nil, nil
	}

	// Estimate size: ~160 bytes per reading average
	buf := make([]byte, 0, len(readings)*160)

	// Write reading count
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(readings)))

	for i := range readings {
		r := &readings[i]

		buf = appendString(buf, r.ClientID)
		buf = appendString(buf, r.MachineID)
		buf = appendString(buf, r.SensorType)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.TimestampMs))

		var mask byte
		values := make([]float64, 0, 6)
		add := func(bit byte, v *float64) {
			if v != nil {
				mask |= bit
				values = append(values, *v)
			}
		}
		add(fieldTemperature, r.Temperature)
		add(fieldVibration, r.Vibration)
		add(fieldPower, r.Power)
		add(fieldPressure, r.Pressure)
		add(fieldSpeed, r.Speed)
		add(fieldEfficiency, r.Efficiency)

		buf = append(buf, mask)
		for _, v := range values {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}

		// Custom fields in sorted order for deterministic encoding
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(r.Custom)))
		if len(r.Custom) > 0 {
			names := make([]string, 0, len(r.Custom))
			for name := range r.Custom {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				buf = appendString(buf, name)
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(r.Custom[name]))
			}
		}

		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(r.Raw)))
		buf = append(buf, r.Raw...)

		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.RecordedAtMs))
	}

	return buf, nil
}

// decodeReadings decodes a binary format into a slice of readings.
func decodeReadings(data []byte) ([]types.Reading, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for reading count")
	}

	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if count == 0 {
		return nil, nil
	}

	readings := make([]types.Reading, count)
	offset := 4

	for i := 0; i < count; i++ {
		var r types.Reading
		var err error

		r.ClientID, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("reading %d client_id: %w", i, err)
		}

		r.MachineID, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("reading %d machine_id: %w", i, err)
		}

		r.SensorType, offset, err = readString(data, offset)
		if err != nil {
			return nil, fmt.Errorf("reading %d sensor_type: %w", i, err)
		}

		if offset+8 > len(data) {
			return nil, fmt.Errorf("reading %d: data too short for timestamp", i)
		}
		r.TimestampMs = int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8

		if offset+1 > len(data) {
			return nil, fmt.Errorf("reading %d: data too short for field mask", i)
		}
		mask := data[offset]
		offset++

		readField := func(bit byte) *float64 {
			if mask&bit == 0 {
				return nil
			}
			v := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
			offset += 8
			return &v
		}

		fieldCount := 0
		for bit := byte(fieldTemperature); bit <= fieldEfficiency; bit <<= 1 {
			if mask&bit != 0 {
				fieldCount++
			}
		}
		if offset+fieldCount*8 > len(data) {
			return nil, fmt.Errorf("reading %d: data too short for field values", i)
		}

		r.Temperature = readField(fieldTemperature)
		r.Vibration = readField(fieldVibration)
		r.Power = readField(fieldPower)
		r.Pressure = readField(fieldPressure)
		r.Speed = readField(fieldSpeed)
		r.Efficiency = readField(fieldEfficiency)

		if offset+2 > len(data) {
			return nil, fmt.Errorf("reading %d: data too short for custom count", i)
		}
		customCount := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2

		if customCount > 0 {
			r.Custom = make(map[string]float64, customCount)
			for j := 0; j < customCount; j++ {
				var name string
				name, offset, err = readString(data, offset)
				if err != nil {
					return nil, fmt.Errorf("reading %d custom %d: %w", i, j, err)
				}
				if offset+8 > len(data) {
					return nil, fmt.Errorf("reading %d custom %d: data too short for value", i, j)
				}
				r.Custom[name] = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
				offset += 8
			}
		}

		if offset+4 > len(data) {
			return nil, fmt.Errorf("reading %d: data too short for raw length", i)
		}
		rawLen := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		if rawLen > 0 {
			if offset+rawLen > len(data) {
				return nil, fmt.Errorf("reading %d: data too short for raw payload", i)
			}
			r.Raw = json.RawMessage(append([]byte(nil), data[offset:offset+rawLen]...))
			offset += rawLen
		}

		if offset+8 > len(data) {
			return nil, fmt.Errorf("reading %d: data too short for recorded_at", i)
		}
		r.RecordedAtMs = int64(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8

		readings[i] = r
	}

	return readings, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
