package superio

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

// GPIOProvider is a provider with GPIO access.
type GPIOProvider interface {
	sensor.ChannelProvider
	sensor.GPIO
}

// FanMux settings of the GPIO selector found on boards that route three
// tachometer lines through one chip fan input.
const (
	muxGPIOBank   = 7
	muxDirectFans = 2
	muxSharedFan  = 2
	muxSelectMask = 0xc7

	// MuxLockTimeout bounds every wait for the bus mutex.
	MuxLockTimeout = 10 * time.Millisecond
)

var muxSelectors = []uint8{0x05, 0x03, 0x06}

// FanMux exposes the multiplexed fans of a GPIO-capable provider. Fans 0 and
// 1 are read directly; fans 2-4 share the chip's third fan input and a 3-bit
// selector in GPIO bits 3-5 chooses which one is routed to it. After every
// tick the selector advances, so each shared fan is sampled every third tick
// and reports no data in between.
//
// The selector is shared with other software, so it is only touched while
// holding the bus mutex. If the mutex cannot be taken at construction only
// the two direct fans are exposed.
type FanMux struct {
	inner GPIOProvider
	bus   BusLock
	log   *zap.Logger

	enabled  bool
	next     int
	selector uint8
	selValid bool
}

// NewFanMux wraps inner. The mutex is tried once, with MuxLockTimeout, to
// decide whether the shared fans are available; it is not held afterwards.
func NewFanMux(inner GPIOProvider, bus BusLock, log *zap.Logger) *FanMux {
	if log == nil {
		log = zap.NewNop()
	}
	m := &FanMux{inner: inner, bus: bus, log: log}
	if inner.ChannelCount(sensor.KindFan) > muxSharedFan && bus.TryAcquire(MuxLockTimeout) {
		bus.Release()
		m.enabled = true
	} else {
		log.Info("multiplexed fans disabled: bus mutex not available")
	}
	return m
}

// Enabled reports whether the multiplexed fans are exposed.
func (m *FanMux) Enabled() bool { return m.enabled }

func (m *FanMux) ChannelCount(kind sensor.Kind) int {
	if kind != sensor.KindFan {
		return m.inner.ChannelCount(kind)
	}
	if m.enabled {
		return muxDirectFans + len(muxSelectors)
	}
	return min(muxDirectFans, m.inner.ChannelCount(kind))
}

func (m *FanMux) Refresh() error {
	if err := m.inner.Refresh(); err != nil {
		return err
	}
	m.selValid = false
	if m.enabled {
		m.selector, m.selValid = m.inner.ReadGPIO(muxGPIOBank)
	}
	return nil
}

func (m *FanMux) Read(kind sensor.Kind, index int) (float64, bool) {
	if kind != sensor.KindFan || index < muxDirectFans {
		return m.inner.Read(kind, index)
	}
	if !m.enabled || index >= muxDirectFans+len(muxSelectors) || !m.selValid {
		return 0, false
	}
	if (m.selector>>3)&0x07 != muxSelectors[index-muxDirectFans] {
		return 0, false
	}
	return m.inner.Read(sensor.KindFan, muxSharedFan)
}

func (m *FanMux) SetControl(index int, value *uint8) error {
	return m.inner.SetControl(index, value)
}

// PostUpdate routes the next shared fan to the chip input. A tick on which
// the mutex is busy leaves the selector as is.
func (m *FanMux) PostUpdate() {
	if pu, ok := m.inner.(sensor.PostUpdater); ok {
		pu.PostUpdate()
	}
	if !m.enabled {
		return
	}
	if !m.bus.TryAcquire(MuxLockTimeout) {
		m.log.Debug("fan selector not advanced: bus mutex busy")
		return
	}
	defer m.bus.Release()

	gpio, ok := m.inner.ReadGPIO(muxGPIOBank)
	if !ok {
		return
	}
	m.inner.WriteGPIO(muxGPIOBank, gpio&muxSelectMask|muxSelectors[m.next]<<3)
	m.next = (m.next + 1) % len(muxSelectors)
}

func (m *FanMux) Close() error {
	if closer, ok := m.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var (
	_ sensor.ChannelProvider = (*FanMux)(nil)
	_ sensor.PostUpdater     = (*FanMux)(nil)
)
