package superio

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

// Model describes one member of the ITE IT87xx family.
type Model struct {
	Name         string
	VoltageGain  float64 // volts per ADC count
	Voltages     int
	Temperatures int
	Fans         int
	Controls     int
	Fan16Bit     bool // high tachometer byte in a second register
	ExtendedPWM  bool // separate 8-bit duty register per output
}

var (
	IT8705F = Model{Name: "IT8705F", VoltageGain: 0.016, Voltages: 9, Temperatures: 3, Fans: 3, Controls: 3}
	IT8712F = Model{Name: "IT8712F", VoltageGain: 0.016, Voltages: 9, Temperatures: 3, Fans: 5, Controls: 3, Fan16Bit: true}
	IT8721F = Model{Name: "IT8721F", VoltageGain: 0.012, Voltages: 9, Temperatures: 3, Fans: 5, Controls: 3, Fan16Bit: true, ExtendedPWM: true}
	IT8728F = Model{Name: "IT8728F", VoltageGain: 0.012, Voltages: 9, Temperatures: 3, Fans: 5, Controls: 3, Fan16Bit: true, ExtendedPWM: true}
	IT8620E = Model{Name: "IT8620E", VoltageGain: 0.012, Voltages: 9, Temperatures: 3, Fans: 5, Controls: 5, Fan16Bit: true, ExtendedPWM: true}
	IT8686E = Model{Name: "IT8686E", VoltageGain: 0.0109, Voltages: 9, Temperatures: 3, Fans: 5, Controls: 5, Fan16Bit: true, ExtendedPWM: true}
	IT8688E = Model{Name: "IT8688E", VoltageGain: 0.0109, Voltages: 9, Temperatures: 3, Fans: 5, Controls: 5, Fan16Bit: true, ExtendedPWM: true}
)

var models = []Model{IT8705F, IT8712F, IT8721F, IT8728F, IT8620E, IT8686E, IT8688E}

// LookupModel finds a model by case-insensitive name.
func LookupModel(name string) (Model, bool) {
	for _, m := range models {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Model{}, false
}

// Environment controller registers.
const (
	itAddressOffset = 0x05
	itDataOffset    = 0x06

	itVendorIDReg     = 0x58
	itVendorID        = 0x90
	itFanDivisorReg   = 0x0b
	itVoltageBaseReg  = 0x20
	itTemperatureBase = 0x29

	itGPIOBanks = 8
)

var (
	itFanTachReg     = []byte{0x0d, 0x0e, 0x0f, 0x80, 0x82}
	itFanTachExtReg  = []byte{0x18, 0x19, 0x1a, 0x81, 0x83}
	itFanPWMCtrlReg  = []byte{0x15, 0x16, 0x17, 0x7f, 0xa7, 0xaf}
	itFanPWMDutyReg  = []byte{0x63, 0x6b, 0x73, 0x7b, 0xa3, 0xab}
	errNotITEChip    = errors.New("superio: not an ITE environment controller")
	errBusNotGranted = errors.New("superio: bus mutex not acquired")
)

// BusLock serializes access to the LPC bus with other software.
type BusLock interface {
	TryAcquire(timeout time.Duration) bool
	Release()
}

type reading struct {
	value float64
	valid bool
}

type savedControl struct {
	saved bool
	ctrl  byte
	duty  byte
}

// IT87 is a ChannelProvider for the ITE IT87xx environment controller.
type IT87 struct {
	port        Port
	model       Model
	address     uint16
	gpioAddress uint16
	log         *zap.Logger
	bus         BusLock
	busTimeout  time.Duration

	voltages     []reading
	temperatures []reading
	fans         []reading
	controls     []reading
	initial      []savedControl
}

// IT87Option configures an IT87 provider.
type IT87Option func(*IT87)

// WithLogger sets the provider logger.
func WithLogger(log *zap.Logger) IT87Option {
	return func(c *IT87) {
		if log != nil {
			c.log = log
		}
	}
}

// WithGPIO enables GPIO access through the bank starting at address.
func WithGPIO(address uint16) IT87Option {
	return func(c *IT87) { c.gpioAddress = address }
}

// WithBusLock makes every refresh and control write hold lock. A refresh
// that cannot get it within timeout reports no data for the tick.
func WithBusLock(lock BusLock, timeout time.Duration) IT87Option {
	return func(c *IT87) {
		c.bus = lock
		c.busTimeout = timeout
	}
}

// NewIT87 returns a provider for the environment controller at address.
// The chip must answer with the ITE vendor id.
func NewIT87(port Port, model Model, address uint16, opts ...IT87Option) (*IT87, error) {
	c := &IT87{
		port:    port,
		model:   model,
		address: address,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.voltages = make([]reading, model.Voltages)
	c.temperatures = make([]reading, model.Temperatures)
	c.fans = make([]reading, min(model.Fans, len(itFanTachReg)))
	c.controls = make([]reading, min(model.Controls, len(itFanPWMCtrlReg)))
	c.initial = make([]savedControl, len(c.controls))

	vendor, err := c.readReg(itVendorIDReg)
	if err != nil {
		return nil, fmt.Errorf("%s at 0x%04x: %w", model.Name, address, err)
	}
	if vendor != itVendorID {
		return nil, fmt.Errorf("%s at 0x%04x: %w: vendor id 0x%02x", model.Name, address, errNotITEChip, vendor)
	}
	return c, nil
}

// Model returns the chip model.
func (c *IT87) Model() Model { return c.model }

func (c *IT87) readReg(reg byte) (byte, error) {
	if err := c.port.Out(c.address+itAddressOffset, reg); err != nil {
		return 0, err
	}
	return c.port.In(c.address + itDataOffset)
}

func (c *IT87) writeReg(reg, value byte) error {
	if err := c.port.Out(c.address+itAddressOffset, reg); err != nil {
		return err
	}
	return c.port.Out(c.address+itDataOffset, value)
}

func (c *IT87) lock() bool {
	if c.bus == nil {
		return true
	}
	return c.bus.TryAcquire(c.busTimeout)
}

func (c *IT87) unlock() {
	if c.bus != nil {
		c.bus.Release()
	}
}

func (c *IT87) ChannelCount(kind sensor.Kind) int {
	switch kind {
	case sensor.KindVoltage:
		return len(c.voltages)
	case sensor.KindTemperature:
		return len(c.temperatures)
	case sensor.KindFan:
		return len(c.fans)
	case sensor.KindControl:
		return len(c.controls)
	}
	return 0
}

// Refresh reads every register of a tick in one bus session.
func (c *IT87) Refresh() error {
	if !c.lock() {
		return errBusNotGranted
	}
	defer c.unlock()

	vendor, err := c.readReg(itVendorIDReg)
	if err != nil {
		return err
	}
	if vendor != itVendorID {
		return fmt.Errorf("%w: vendor id 0x%02x", errNotITEChip, vendor)
	}

	for i := range c.voltages {
		v, err := c.readReg(itVoltageBaseReg + byte(i))
		c.voltages[i] = reading{value: float64(v) * c.model.VoltageGain, valid: err == nil}
	}

	for i := range c.temperatures {
		v, err := c.readReg(itTemperatureBase + byte(i))
		t := int8(v)
		// 0 and 127 mean no diode attached
		c.temperatures[i] = reading{value: float64(t), valid: err == nil && t > 0 && t < 127}
	}

	c.refreshFans()
	c.refreshControls()
	return nil
}

func (c *IT87) refreshFans() {
	if c.model.Fan16Bit {
		for i := range c.fans {
			lo, err1 := c.readReg(itFanTachReg[i])
			hi, err2 := c.readReg(itFanTachExtReg[i])
			count := int(lo) | int(hi)<<8
			switch {
			case err1 != nil || err2 != nil || count <= 0x3f:
				c.fans[i] = reading{}
			case count == 0xffff:
				c.fans[i] = reading{value: 0, valid: true}
			default:
				c.fans[i] = reading{value: 1.35e6 / float64(count*2), valid: true}
			}
		}
		return
	}

	divisors, err := c.readReg(itFanDivisorReg)
	if err != nil {
		for i := range c.fans {
			c.fans[i] = reading{}
		}
		return
	}
	for i := range c.fans {
		count, err := c.readReg(itFanTachReg[i])
		if err != nil {
			c.fans[i] = reading{}
			continue
		}
		divisor := 2
		if i < 2 {
			divisor = 1 << int((divisors>>(3*i))&0x07)
		} else if divisors&0x40 != 0 {
			divisor = 8
		}
		if count > 0 && count < 0xff {
			c.fans[i] = reading{value: 1.35e6 / float64(int(count)*divisor), valid: true}
		} else {
			c.fans[i] = reading{value: 0, valid: true}
		}
	}
}

// refreshControls reads the duty of every PWM output in percent. Outputs in
// automatic mode on chips without a duty register have no readback.
func (c *IT87) refreshControls() {
	for i := range c.controls {
		if c.model.ExtendedPWM {
			duty, err := c.readReg(itFanPWMDutyReg[i])
			c.controls[i] = reading{value: float64(duty) * 100 / 0xff, valid: err == nil}
			continue
		}
		ctrl, err := c.readReg(itFanPWMCtrlReg[i])
		if err != nil || ctrl&0x80 != 0 {
			c.controls[i] = reading{}
			continue
		}
		c.controls[i] = reading{value: float64(ctrl&0x7f) * 100 / 0x7f, valid: true}
	}
}

func (c *IT87) Read(kind sensor.Kind, index int) (float64, bool) {
	var rs []reading
	switch kind {
	case sensor.KindVoltage:
		rs = c.voltages
	case sensor.KindTemperature:
		rs = c.temperatures
	case sensor.KindFan:
		rs = c.fans
	case sensor.KindControl:
		rs = c.controls
	}
	if index < 0 || index >= len(rs) || !rs[index].valid {
		return 0, false
	}
	return rs[index].value, true
}

// SetControl drives a PWM output. The register state found before the first
// software write is kept and written back when value is nil.
func (c *IT87) SetControl(index int, value *uint8) error {
	if index < 0 || index >= len(c.controls) {
		return fmt.Errorf("%s: no fan control %d", c.model.Name, index)
	}
	if !c.lock() {
		return errBusNotGranted
	}
	defer c.unlock()

	if value == nil {
		return c.restore(index)
	}
	if err := c.save(index); err != nil {
		return err
	}
	if c.model.ExtendedPWM {
		if err := c.writeReg(itFanPWMCtrlReg[index], c.initial[index].ctrl&0x7f); err != nil {
			return err
		}
		return c.writeReg(itFanPWMDutyReg[index], *value)
	}
	// 7-bit duty, bit 7 cleared selects software mode
	return c.writeReg(itFanPWMCtrlReg[index], *value>>1)
}

func (c *IT87) save(index int) error {
	s := &c.initial[index]
	if s.saved {
		return nil
	}
	ctrl, err := c.readReg(itFanPWMCtrlReg[index])
	if err != nil {
		return err
	}
	s.ctrl = ctrl
	if c.model.ExtendedPWM {
		if s.duty, err = c.readReg(itFanPWMDutyReg[index]); err != nil {
			return err
		}
	}
	s.saved = true
	return nil
}

func (c *IT87) restore(index int) error {
	s := &c.initial[index]
	if !s.saved {
		return nil
	}
	if c.model.ExtendedPWM {
		if err := c.writeReg(itFanPWMDutyReg[index], s.duty); err != nil {
			return err
		}
	}
	if err := c.writeReg(itFanPWMCtrlReg[index], s.ctrl); err != nil {
		return err
	}
	s.saved = false
	c.log.Debug("fan control restored", zap.Int("index", index), zap.Uint8("ctrl", s.ctrl))
	return nil
}

// ReadGPIO reads one GPIO bank.
func (c *IT87) ReadGPIO(index int) (uint8, bool) {
	if c.gpioAddress == 0 || index < 0 || index >= itGPIOBanks {
		return 0, false
	}
	v, err := c.port.In(c.gpioAddress + uint16(index))
	if err != nil {
		c.log.Debug("gpio read failed", zap.Int("bank", index), zap.Error(err))
		return 0, false
	}
	return v, true
}

// WriteGPIO writes one GPIO bank.
func (c *IT87) WriteGPIO(index int, value uint8) {
	if c.gpioAddress == 0 || index < 0 || index >= itGPIOBanks {
		return
	}
	if err := c.port.Out(c.gpioAddress+uint16(index), value); err != nil {
		c.log.Debug("gpio write failed", zap.Int("bank", index), zap.Error(err))
	}
}

// Close closes the port if it can be closed.
func (c *IT87) Close() error {
	if closer, ok := c.port.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var (
	_ sensor.ChannelProvider = (*IT87)(nil)
	_ sensor.GPIO            = (*IT87)(nil)
)
