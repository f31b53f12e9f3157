package ipmi

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedSensorModel is returned for sensors whose conversion is not
// linear. Their readings need the lookup tables of the IPMI specification.
var ErrUnsupportedSensorModel = errors.New("ipmi: unsupported sensor model")

// Record types.
const (
	RecordTypeFull    byte = 0x01
	RecordTypeCompact byte = 0x02
)

// Sensor type codes.
const (
	SensorTypeTemperature byte = 0x01
	SensorTypeVoltage     byte = 0x02
	SensorTypeFan         byte = 0x04
)

// Offsets into a sensor data record, header included.
const (
	offRecordType   = 3
	offSensorNumber = 7
	offSensorType   = 12
	offUnits        = 20
	offLinear       = 23
	offM            = 24
	offMTolerance   = 25
	offB            = 26
	offBAccuracy    = 27
	offRBExp        = 29
	offIDCode       = 47
	offIDString     = 48

	headerLen = 5
	maxIDLen  = 16
)

// Record is a decoded sensor data record.
type Record struct {
	RecordID     uint16
	Type         byte
	SensorNumber byte
	SensorType   byte
	ID           string
	M            int16
	B            int16
	RExp         int8
	BExp         int8
	Units        byte
	Linear       byte
}

// signed10 joins an 8-bit low part with the two high bits held in bits 7:6
// of packed and sign-extends the 10-bit result.
func signed10(low, packed byte) int16 {
	v := int16(low) | int16(packed>>6&0x03)<<8
	if v&0x200 != 0 {
		v -= 0x400
	}
	return v
}

// signed4 sign-extends a 4-bit value.
func signed4(nibble byte) int8 {
	v := int8(nibble & 0x0f)
	if v&0x08 != 0 {
		v -= 0x10
	}
	return v
}

// DecodeRecord decodes one record as returned by Get SDR, without the
// completion code and next record id.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) < headerLen {
		return Record{}, fmt.Errorf("sdr record: %w: %d bytes", ErrShortResponse, len(data))
	}
	r := Record{
		RecordID: uint16(data[0]) | uint16(data[1])<<8,
		Type:     data[offRecordType],
	}
	if r.Type != RecordTypeFull {
		return r, nil
	}
	if len(data) < offIDString {
		return Record{}, fmt.Errorf("sdr full record %d: %w: %d bytes", r.RecordID, ErrShortResponse, len(data))
	}

	r.SensorNumber = data[offSensorNumber]
	r.SensorType = data[offSensorType]
	r.Units = data[offUnits]
	r.Linear = data[offLinear]
	r.M = signed10(data[offM], data[offMTolerance])
	r.B = signed10(data[offB], data[offBAccuracy])
	r.RExp = signed4(data[offRBExp] >> 4)
	r.BExp = signed4(data[offRBExp])

	n := int(data[offIDCode] & 0x1f)
	if n > maxIDLen {
		n = maxIDLen
	}
	end := offIDString + n
	if end > len(data) {
		end = len(data)
	}
	r.ID = strings.TrimRight(string(data[offIDString:end]), "\x00 ")
	return r, nil
}

// Signed reports whether raw readings are two's complement.
func (r Record) Signed() bool {
	return r.Units&0xc0 != 0
}

// RawToFloat converts a raw reading byte with the record's linear model:
// (raw * M + B * 10^BExp) * 10^RExp.
func (r Record) RawToFloat(raw byte) (float64, error) {
	if r.Linear != 0 {
		return 0, fmt.Errorf("%w: sensor %d %q linearization 0x%02x", ErrUnsupportedSensorModel, r.SensorNumber, r.ID, r.Linear)
	}
	v := float64(raw)
	if r.Signed() {
		v = float64(int8(raw))
	}
	value := v * float64(r.M)
	value += float64(r.B) * math.Pow10(int(r.BExp))
	value *= math.Pow10(int(r.RExp))
	return value, nil
}

// Enumerate walks the SDR repository and returns its full sensor records in
// repository order. A repository that cannot be read yields no records; a
// failed fetch or a truncated record ends the walk and keeps the records
// read so far.
func Enumerate(t Transport) ([]Record, error) {
	info, err := call(t, cmdGetSDRRepositoryInfo, NetFnStorage, nil, 4)
	if err != nil {
		return nil, fmt.Errorf("sdr repository info: %w", err)
	}
	count := int(info[2]) | int(info[3])<<8

	var (
		records []Record
		lower   byte
		upper   byte
	)
	for i := 0; i < count; i++ {
		// reservation 0, record id, offset 0, read whole record
		resp, err := call(t, cmdGetSDR, NetFnStorage, []byte{0, 0, lower, upper, 0, 0xff}, 3)
		if err != nil {
			break
		}
		lower, upper = resp[1], resp[2]

		r, err := DecodeRecord(resp[3:])
		if err != nil {
			break
		}
		if r.Type == RecordTypeFull {
			records = append(records, r)
		}
		if lower == 0xff && upper == 0xff {
			break
		}
	}
	return records, nil
}
