package ipmi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigned10(t *testing.T) {
	tests := map[string]struct {
		low, packed byte
		want        int16
	}{
		"all ones":               {low: 0xff, packed: 0xc0, want: -1},
		"bit 8 only":             {low: 0x00, packed: 0x40, want: 256},
		"positive":               {low: 0x2a, packed: 0x00, want: 42},
		"most negative":          {low: 0x00, packed: 0x80, want: -512},
		"tolerance bits ignored": {low: 0x01, packed: 0x3f, want: 1},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.want, signed10(test.low, test.packed))
		})
	}
}

func TestSigned4(t *testing.T) {
	assert.Equal(t, int8(-1), signed4(0x0f))
	assert.Equal(t, int8(-8), signed4(0x08))
	assert.Equal(t, int8(7), signed4(0x07))
	assert.Equal(t, int8(0), signed4(0xf0))
}

func TestDecodeRecord(t *testing.T) {
	tests := map[string]struct {
		data    []byte
		want    Record
		wantErr bool
	}{
		"full record": {
			data: fullRecord(recordSpec{id: 7, number: 0x31, sensorType: SensorTypeTemperature,
				m: -1, b: 256, rExp: -2, bExp: 3, units: 0x80, name: "CPU Temp"}),
			want: Record{RecordID: 7, Type: RecordTypeFull, SensorNumber: 0x31, SensorType: SensorTypeTemperature,
				ID: "CPU Temp", M: -1, B: 256, RExp: -2, BExp: 3, Units: 0x80},
		},
		"compact record keeps header only": {
			data: []byte{0x02, 0x00, 0x51, RecordTypeCompact, 0x20, 0x20, 0x00, 0x10},
			want: Record{RecordID: 2, Type: RecordTypeCompact},
		},
		"short header": {
			data:    []byte{0x01, 0x00, 0x51},
			wantErr: true,
		},
		"truncated full record": {
			data:    fullRecord(recordSpec{id: 1, name: "FAN1"})[:30],
			wantErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := DecodeRecord(test.data)
			if test.wantErr {
				assert.ErrorIs(t, err, ErrShortResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, r)
		})
	}
}

func TestDecodeRecord_IDLengthClamped(t *testing.T) {
	data := fullRecord(recordSpec{id: 1, name: "System Temp"})
	data[offIDCode] = 0xc0 | 0x1f

	r, err := DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, "System Temp", r.ID)
}

func TestRecord_RawToFloat(t *testing.T) {
	tests := map[string]struct {
		record Record
		raw    byte
		want   float64
	}{
		"identity": {
			record: Record{M: 1},
			raw:    42,
			want:   42,
		},
		"offset with base exponent": {
			record: Record{M: 2, B: 10, BExp: 1},
			raw:    5,
			want:   110,
		},
		"result exponent": {
			record: Record{M: 1, RExp: -2},
			raw:    120,
			want:   1.2,
		},
		"signed reading": {
			record: Record{M: 1, Units: 0x80},
			raw:    0xf6,
			want:   -10,
		},
		"unsigned reading": {
			record: Record{M: 1},
			raw:    0xf6,
			want:   246,
		},
		"negative M": {
			record: Record{M: -1},
			raw:    3,
			want:   -3,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			v, err := test.record.RawToFloat(test.raw)
			require.NoError(t, err)
			assert.InDelta(t, test.want, v, 1e-9)
		})
	}
}

func TestRecord_RawToFloat_Unsupported(t *testing.T) {
	r := Record{SensorNumber: 4, ID: "FAN1", M: 1, Linear: 0x07}

	v, err := r.RawToFloat(10)
	assert.ErrorIs(t, err, ErrUnsupportedSensorModel)
	assert.Zero(t, v)
}

func TestEnumerate(t *testing.T) {
	tests := map[string]struct {
		setup     func(f *fakeBMC)
		wantIDs   []string
		wantErr   bool
		wantFetch int
	}{
		"full records in order": {
			setup: func(f *fakeBMC) {
				f.withRepository(
					fullRecord(recordSpec{id: 0, number: 1, sensorType: SensorTypeTemperature, m: 1, name: "CPU Temp"}),
					[]byte{0x01, 0x00, 0x51, RecordTypeCompact, 0x10, 0, 0, 0},
					fullRecord(recordSpec{id: 2, number: 2, sensorType: SensorTypeFan, m: 1, name: "FAN1"}),
				)
			},
			wantIDs:   []string{"CPU Temp", "FAN1"},
			wantFetch: 3,
		},
		"repository info fails": {
			setup: func(f *fakeBMC) {
				f.handle(NetFnStorage, cmdGetSDRRepositoryInfo, func([]byte) ([]byte, error) {
					return []byte{0xc1}, nil
				})
			},
			wantErr: true,
		},
		"repository info too short": {
			setup: func(f *fakeBMC) {
				f.handle(NetFnStorage, cmdGetSDRRepositoryInfo, func([]byte) ([]byte, error) {
					return []byte{0, 0x51}, nil
				})
			},
			wantErr: true,
		},
		"failed fetch ends walk": {
			setup: func(f *fakeBMC) {
				// claims three records, serves one
				f.handle(NetFnStorage, cmdGetSDRRepositoryInfo, func([]byte) ([]byte, error) {
					return []byte{0, 0x51, 3, 0, 0, 0}, nil
				})
				first := fullRecord(recordSpec{id: 0, number: 1, sensorType: SensorTypeVoltage, m: 1, name: "12V"})
				f.handle(NetFnStorage, cmdGetSDR, func(data []byte) ([]byte, error) {
					if data[2] == 0 {
						return append([]byte{0, 1, 0}, first...), nil
					}
					return nil, errors.New("timeout")
				})
			},
			wantIDs:   []string{"12V"},
			wantFetch: 2,
		},
		"end marker stops before count": {
			setup: func(f *fakeBMC) {
				rec := fullRecord(recordSpec{id: 0, number: 1, sensorType: SensorTypeVoltage, m: 1, name: "VBAT"})
				f.handle(NetFnStorage, cmdGetSDRRepositoryInfo, func([]byte) ([]byte, error) {
					return []byte{0, 0x51, 10, 0, 0, 0}, nil
				})
				f.handle(NetFnStorage, cmdGetSDR, func([]byte) ([]byte, error) {
					return append([]byte{0, 0xff, 0xff}, rec...), nil
				})
			},
			wantIDs:   []string{"VBAT"},
			wantFetch: 1,
		},
		"truncated record ends walk": {
			setup: func(f *fakeBMC) {
				f.withRepository(
					fullRecord(recordSpec{id: 0, number: 1, sensorType: SensorTypeVoltage, m: 1, name: "12V"}),
					fullRecord(recordSpec{id: 1, number: 2, sensorType: SensorTypeVoltage, m: 1, name: "VCORE"})[:20],
					fullRecord(recordSpec{id: 2, number: 3, sensorType: SensorTypeVoltage, m: 1, name: "3.3V"}),
				)
			},
			wantIDs:   []string{"12V"},
			wantFetch: 2,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFakeBMC()
			test.setup(f)

			records, err := Enumerate(f)
			if test.wantErr {
				assert.Error(t, err)
				assert.Empty(t, records)
				return
			}
			require.NoError(t, err)

			var ids []string
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, test.wantIDs, ids)
			assert.Len(t, f.sent(NetFnStorage, cmdGetSDR), test.wantFetch)
		})
	}
}

func TestEnumerate_Cursor(t *testing.T) {
	f := newFakeBMC()
	f.withRepository(
		fullRecord(recordSpec{id: 0, name: "A", m: 1}),
		fullRecord(recordSpec{id: 1, name: "B", m: 1}),
	)

	_, err := Enumerate(f)
	require.NoError(t, err)

	sent := f.sent(NetFnStorage, cmdGetSDR)
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0xff}, sent[0])
	assert.Equal(t, []byte{0, 0, 1, 0, 0, 0xff}, sent[1])
}
