package ipmi

import (
	"errors"
	"fmt"
)

type request struct {
	netfn, command byte
	data           []byte
}

// fakeBMC answers requests from a handler table keyed by netfn and command.
type fakeBMC struct {
	handlers map[[2]byte]func(data []byte) ([]byte, error)
	requests []request
	closed   bool
}

func newFakeBMC() *fakeBMC {
	return &fakeBMC{handlers: make(map[[2]byte]func([]byte) ([]byte, error))}
}

func (f *fakeBMC) handle(netfn, command byte, h func(data []byte) ([]byte, error)) {
	f.handlers[[2]byte{netfn, command}] = h
}

func (f *fakeBMC) Send(command, netfn byte, data []byte) ([]byte, error) {
	f.requests = append(f.requests, request{netfn: netfn, command: command, data: append([]byte(nil), data...)})
	h, ok := f.handlers[[2]byte{netfn, command}]
	if !ok {
		return nil, errors.New("no handler")
	}
	return h(data)
}

func (f *fakeBMC) Close() error {
	f.closed = true
	return nil
}

func (f *fakeBMC) sent(netfn, command byte) [][]byte {
	var out [][]byte
	for _, r := range f.requests {
		if r.netfn == netfn && r.command == command {
			out = append(out, r.data)
		}
	}
	return out
}

// withRepository serves records through Get SDR Repository Info and Get SDR,
// chaining record ids 0, 1, ... and ending with 0xffff.
func (f *fakeBMC) withRepository(records ...[]byte) {
	f.handle(NetFnStorage, cmdGetSDRRepositoryInfo, func([]byte) ([]byte, error) {
		return []byte{0, 0x51, byte(len(records)), byte(len(records) >> 8), 0, 0}, nil
	})
	f.handle(NetFnStorage, cmdGetSDR, func(data []byte) ([]byte, error) {
		id := int(data[2]) | int(data[3])<<8
		if id >= len(records) {
			return []byte{0xcb}, nil
		}
		next := []byte{byte(id + 1), byte((id + 1) >> 8)}
		if id == len(records)-1 {
			next = []byte{0xff, 0xff}
		}
		return append(append([]byte{0}, next...), records[id]...), nil
	})
}

// withDeviceID answers Get Device ID with the given manufacturer.
func (f *fakeBMC) withDeviceID(m Manufacturer) {
	f.handle(NetFnApp, cmdGetDeviceID, func([]byte) ([]byte, error) {
		return []byte{0, 0x20, 0x01, 0x01, 0x00, 0x02, 0xbf, byte(m), byte(m >> 8), byte(m >> 16), 0, 0}, nil
	})
}

// withReadings answers Get Sensor Reading from a map of sensor number to raw
// byte. Missing sensors complete with "sensor not present".
func (f *fakeBMC) withReadings(readings map[byte]byte, unavailable ...byte) {
	f.handle(NetFnSensorEvent, cmdGetSensorReading, func(data []byte) ([]byte, error) {
		for _, n := range unavailable {
			if n == data[0] {
				return []byte{0, 0, 0x20}, nil
			}
		}
		raw, ok := readings[data[0]]
		if !ok {
			return []byte{0xcb}, nil
		}
		return []byte{0, raw, 0xc0}, nil
	})
}

type recordSpec struct {
	id         uint16
	number     byte
	sensorType byte
	m, b       int16
	rExp, bExp int8
	units      byte
	linear     byte
	name       string
}

// fullRecord encodes a full sensor record, header included.
func fullRecord(s recordSpec) []byte {
	if len(s.name) > maxIDLen {
		panic(fmt.Sprintf("name %q too long", s.name))
	}
	data := make([]byte, offIDString+len(s.name))
	data[0], data[1] = byte(s.id), byte(s.id>>8)
	data[2] = 0x51
	data[offRecordType] = RecordTypeFull
	data[4] = byte(len(data) - headerLen)
	data[offSensorNumber] = s.number
	data[offSensorType] = s.sensorType
	data[offUnits] = s.units
	data[offLinear] = s.linear
	data[offM] = byte(s.m)
	data[offMTolerance] = byte(s.m>>8&0x03) << 6
	data[offB] = byte(s.b)
	data[offBAccuracy] = byte(s.b>>8&0x03) << 6
	data[offRBExp] = byte(s.rExp&0x0f)<<4 | byte(s.bExp&0x0f)
	data[offIDCode] = 0xc0 | byte(len(s.name))
	copy(data[offIDString:], s.name)
	return data
}
