package superio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

func newMuxChip(t *testing.T) (*fakePort, *IT87) {
	t.Helper()
	p := newFakePort()
	// chip fans 0, 1 and the shared input 2
	p.regs[0x0d], p.regs[0x18] = 0x46, 0x05
	p.regs[0x0e], p.regs[0x19] = 0x8c, 0x0a
	p.regs[0x0f], p.regs[0x1a] = 0x2c, 0x01
	p.gpio[muxGPIOBank] = 0xc1

	c, err := NewIT87(p, IT8728F, testAddress, WithGPIO(testGPIO))
	require.NoError(t, err)
	return p, c
}

func TestFanMux_Disabled(t *testing.T) {
	_, c := newMuxChip(t)
	lock := &fakeLock{busy: true}

	m := NewFanMux(c, lock, nil)
	assert.False(t, m.Enabled())
	assert.Equal(t, 2, m.ChannelCount(sensor.KindFan))
	assert.Equal(t, 9, m.ChannelCount(sensor.KindVoltage))

	require.NoError(t, m.Refresh())
	_, ok := m.Read(sensor.KindFan, 2)
	assert.False(t, ok)
	v, ok := m.Read(sensor.KindFan, 0)
	require.True(t, ok)
	assert.InDelta(t, 500.0, v, 1e-9)

	m.PostUpdate()
	assert.Zero(t, lock.acquired)
}

func TestFanMux_Rotation(t *testing.T) {
	p, c := newMuxChip(t)
	lock := &fakeLock{}

	m := NewFanMux(c, lock, nil)
	require.True(t, m.Enabled())
	assert.False(t, lock.held, "mutex not held after construction")
	assert.Equal(t, 5, m.ChannelCount(sensor.KindFan))

	_, ok := c.Read(sensor.KindFan, 2)
	assert.False(t, ok, "chip not refreshed yet")

	// selector starts on an unrelated value: no shared fan has data
	require.NoError(t, m.Refresh())
	for i := 2; i < 5; i++ {
		_, ok := m.Read(sensor.KindFan, i)
		assert.False(t, ok)
	}

	for tick := 0; tick < 6; tick++ {
		m.PostUpdate()
		assert.False(t, lock.held)
		want := muxSelectors[tick%3]
		assert.Equal(t, byte(0xc1&0xc7)|want<<3, p.gpio[muxGPIOBank])

		require.NoError(t, m.Refresh())
		for i := 2; i < 5; i++ {
			v, ok := m.Read(sensor.KindFan, i)
			if i-2 == tick%3 {
				require.True(t, ok, "tick %d fan %d", tick, i)
				assert.InDelta(t, 1.35e6/(300*2), v, 1e-9)
			} else {
				assert.False(t, ok, "tick %d fan %d", tick, i)
			}
		}
	}
	assert.Equal(t, 7, lock.acquired)
}

func TestFanMux_BusyTickKeepsSelector(t *testing.T) {
	p, c := newMuxChip(t)
	lock := &fakeLock{}
	m := NewFanMux(c, lock, nil)
	require.True(t, m.Enabled())

	m.PostUpdate()
	selected := p.gpio[muxGPIOBank]

	lock.busy = true
	m.PostUpdate()
	assert.Equal(t, selected, p.gpio[muxGPIOBank])

	lock.busy = false
	m.PostUpdate()
	assert.Equal(t, byte(0xc1&0xc7)|muxSelectors[1]<<3, p.gpio[muxGPIOBank])
}

func TestFanMux_Engine(t *testing.T) {
	_, c := newMuxChip(t)
	m := NewFanMux(c, &fakeLock{}, nil)

	layout := sensor.ChannelLayout{}
	for i := 0; i < 5; i++ {
		layout.Fans = append(layout.Fans, sensor.NewDescriptor("Fan", i))
	}
	e, err := sensor.NewEngine("it8728f", m, layout)
	require.NoError(t, err)

	for tick := 0; tick < 4; tick++ {
		e.Update()
	}
	for _, s := range e.Sensors() {
		assert.True(t, s.Active(), "fan %d sampled at least once", s.Index())
	}

	// once every selector has been routed, each shared fan keeps reporting
	// its last sample on the ticks it is not selected
	for tick := 0; tick < 3; tick++ {
		e.Update()
		for _, r := range e.Readings() {
			assert.True(t, r.Valid, "tick %d fan %d", tick, r.Index)
			assert.Greater(t, r.Value, 0.0, "tick %d fan %d", tick, r.Index)
		}
	}
	require.NoError(t, e.Close())
}
