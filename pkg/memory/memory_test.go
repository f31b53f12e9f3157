package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

func TestSource_Readings(t *testing.T) {
	s := newSource("Generic Memory", func() (Info, error) {
		return Info{Total: 16 * gib, Available: 4 * gib, SwapTotal: 4 * gib, SwapFree: 4 * gib}, nil
	})
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return ts }
	s.Update()

	got := map[string]sensor.Reading{}
	for _, r := range s.Readings() {
		assert.True(t, r.Valid)
		assert.Equal(t, "Generic Memory", r.Hardware)
		assert.Equal(t, ts, r.Timestamp)
		got[r.Name] = r
	}
	require.Len(t, got, 6)

	assert.Equal(t, sensor.KindLoad, got["Memory"].Kind)
	assert.InDelta(t, 75.0, got["Memory"].Value, 1e-9)
	assert.InDelta(t, 60.0, got["Virtual Memory"].Value, 1e-9)
	assert.Equal(t, sensor.KindData, got["Memory Used"].Kind)
	assert.InDelta(t, 12.0, got["Memory Used"].Value, 1e-9)
	assert.InDelta(t, 4.0, got["Memory Available"].Value, 1e-9)
	assert.InDelta(t, 12.0, got["Virtual Memory Used"].Value, 1e-9)
	assert.InDelta(t, 8.0, got["Virtual Memory Available"].Value, 1e-9)
}

func TestSource_ReadFailure(t *testing.T) {
	fail := true
	s := newSource("Generic Memory", func() (Info, error) {
		if fail {
			return Info{}, errors.New("unsupported")
		}
		return Info{Total: 8 * gib, Available: 8 * gib}, nil
	})

	s.Update()
	for _, r := range s.Readings() {
		assert.False(t, r.Valid, r.Name)
	}

	fail = false
	s.Update()
	for _, r := range s.Readings() {
		assert.True(t, r.Valid, r.Name)
	}
	assert.NoError(t, s.Close())
}

func TestSource_InconsistentCounters(t *testing.T) {
	s := newSource("mem", func() (Info, error) {
		return Info{Total: 2 * gib, Available: 3 * gib, SwapTotal: gib, SwapFree: 2 * gib}, nil
	})
	s.Update()

	for _, r := range s.Readings() {
		assert.GreaterOrEqual(t, r.Value, 0.0, r.Name)
		if r.Kind == sensor.KindLoad {
			assert.LessOrEqual(t, r.Value, 100.0, r.Name)
		}
	}
}
