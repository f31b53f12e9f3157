// Package nct7802 reads the Nuvoton NCT7802Y hardware monitor over I²C.
package nct7802

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

// DefaultAddress is the chip's address with all strap pins low.
const DefaultAddress = 0x28

const (
	regTempLSB    = 0x05
	regVoltageLSB = 0x0f
	regFanLSB     = 0x13
	regFanBase    = 0x10
	regPWMBase    = 0x60
	regSmartFan   = 0x64
	regVendorID   = 0xfd
	regChipID     = 0xfe

	vendorID = 0x50
	chipID   = 0xc3

	fanStopped = 0x1fff
)

var (
	// remote diodes 1-3 carry three extra bits in regTempLSB
	tempRegs     = []byte{0x01, 0x02, 0x03, 0x04, 0x06, 0x07}
	tempHasLSB   = []bool{true, true, true, false, false, false}
	voltageRegs  = []byte{0x09, 0x0a, 0x0c, 0x0d, 0x0e}
	voltageMilli = []float64{4, 2, 2, 2, 2}
)

const (
	numFans     = 3
	numControls = 3
)

var errNotNCT7802 = errors.New("nct7802: unexpected chip id")

type reading struct {
	value float64
	valid bool
}

type savedControl struct {
	saved bool
	auto  bool
	duty  byte
}

// Device is a ChannelProvider for one NCT7802Y.
type Device struct {
	dev    *i2c.Dev
	closer func() error
	log    *zap.Logger

	voltages     [5]reading
	temperatures [6]reading
	fans         [numFans]reading
	controls     [numControls]reading
	initial      [numControls]savedControl
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Device) {
		if log != nil {
			d.log = log
		}
	}
}

// Open initializes the host drivers, opens the named I²C bus (empty for the
// first one) and returns the chip at addr.
func Open(busName string, addr uint16, opts ...Option) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	d, err := New(bus, addr, opts...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	d.closer = bus.Close
	return d, nil
}

// New returns the chip at addr on bus after checking its identity.
func New(bus i2c.Bus, addr uint16, opts ...Option) (*Device, error) {
	d := &Device{
		dev: &i2c.Dev{Addr: addr, Bus: bus},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	vendor, err := d.readReg(regVendorID)
	if err != nil {
		return nil, fmt.Errorf("nct7802 at 0x%02x: %w", addr, err)
	}
	chip, err := d.readReg(regChipID)
	if err != nil {
		return nil, fmt.Errorf("nct7802 at 0x%02x: %w", addr, err)
	}
	if vendor != vendorID || chip != chipID {
		return nil, fmt.Errorf("%w: vendor 0x%02x chip 0x%02x at 0x%02x", errNotNCT7802, vendor, chip, addr)
	}
	return d, nil
}

func (d *Device) readReg(reg byte) (byte, error) {
	var buf [1]byte
	if err := d.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, fmt.Errorf("read register 0x%02x: %w", reg, err)
	}
	return buf[0], nil
}

func (d *Device) writeReg(reg, value byte) error {
	if err := d.dev.Tx([]byte{reg, value}, nil); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", reg, err)
	}
	return nil
}

func (d *Device) ChannelCount(kind sensor.Kind) int {
	switch kind {
	case sensor.KindVoltage:
		return len(d.voltages)
	case sensor.KindTemperature:
		return len(d.temperatures)
	case sensor.KindFan:
		return len(d.fans)
	case sensor.KindControl:
		return len(d.controls)
	}
	return 0
}

// Refresh reads all channels. The LSB registers latch on the MSB read, so
// every MSB is read right before its LSB.
func (d *Device) Refresh() error {
	for i, reg := range tempRegs {
		d.temperatures[i] = d.readTemperature(reg, tempHasLSB[i])
	}
	for i, reg := range voltageRegs {
		d.voltages[i] = d.readVoltage(reg, i)
	}
	for i := range d.fans {
		d.fans[i] = d.readFan(i)
	}
	for i := range d.controls {
		duty, err := d.readReg(regPWMBase + byte(i))
		d.controls[i] = reading{value: float64(duty) * 100 / 0xff, valid: err == nil}
	}
	return nil
}

func (d *Device) readTemperature(reg byte, hasLSB bool) reading {
	msb, err := d.readReg(reg)
	if err != nil {
		return reading{}
	}
	var lsb byte
	if hasLSB {
		if lsb, err = d.readReg(regTempLSB); err != nil {
			return reading{}
		}
	}
	// 11-bit two's complement, 0.125 °C per LSB
	raw := int16(uint16(msb)<<8|uint16(lsb)) >> 5
	return reading{value: float64(raw) * 0.125, valid: true}
}

func (d *Device) readVoltage(reg byte, index int) reading {
	msb, err := d.readReg(reg)
	if err != nil {
		return reading{}
	}
	lsb, err := d.readReg(regVoltageLSB)
	if err != nil {
		return reading{}
	}
	count := int(msb)<<2 | int(lsb>>6)&0x03
	return reading{value: float64(count) * voltageMilli[index] / 1000, valid: true}
}

func (d *Device) readFan(index int) reading {
	hi, err := d.readReg(regFanBase + byte(index))
	if err != nil {
		return reading{}
	}
	lo, err := d.readReg(regFanLSB)
	if err != nil {
		return reading{}
	}
	count := int(hi)<<5 | int(lo>>3)
	switch count {
	case 0:
		return reading{}
	case fanStopped:
		return reading{value: 0, valid: true}
	}
	return reading{value: 1350000 / float64(count), valid: true}
}

func (d *Device) Read(kind sensor.Kind, index int) (float64, bool) {
	var rs []reading
	switch kind {
	case sensor.KindVoltage:
		rs = d.voltages[:]
	case sensor.KindTemperature:
		rs = d.temperatures[:]
	case sensor.KindFan:
		rs = d.fans[:]
	case sensor.KindControl:
		rs = d.controls[:]
	}
	if index < 0 || index >= len(rs) || !rs[index].valid {
		return 0, false
	}
	return rs[index].value, true
}

func smartFanBit(index int) (reg byte, mask byte) {
	return regSmartFan + byte(index/2), 0x04 << (index % 2 * 4)
}

// SetControl switches a PWM output to manual duty, or back to the smart fan
// state it had before the first manual write.
func (d *Device) SetControl(index int, value *uint8) error {
	if index < 0 || index >= len(d.controls) {
		return fmt.Errorf("nct7802: no fan control %d", index)
	}
	reg, mask := smartFanBit(index)
	s := &d.initial[index]

	if value == nil {
		if !s.saved {
			return nil
		}
		if err := d.writeReg(regPWMBase+byte(index), s.duty); err != nil {
			return err
		}
		if err := d.updateBits(reg, mask, s.auto); err != nil {
			return err
		}
		s.saved = false
		d.log.Debug("fan control restored", zap.Int("index", index), zap.Bool("smart_fan", s.auto))
		return nil
	}

	if !s.saved {
		en, err := d.readReg(reg)
		if err != nil {
			return err
		}
		duty, err := d.readReg(regPWMBase + byte(index))
		if err != nil {
			return err
		}
		*s = savedControl{saved: true, auto: en&mask != 0, duty: duty}
	}
	if err := d.updateBits(reg, mask, false); err != nil {
		return err
	}
	return d.writeReg(regPWMBase+byte(index), *value)
}

func (d *Device) updateBits(reg, mask byte, set bool) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	if set {
		v |= mask
	} else {
		v &^= mask
	}
	return d.writeReg(reg, v)
}

// Close closes the bus when the device opened it.
func (d *Device) Close() error {
	if d.closer != nil {
		return d.closer()
	}
	return nil
}

var _ sensor.ChannelProvider = (*Device)(nil)
