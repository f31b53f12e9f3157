package ipmi

import (
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

// Manufacturer is an IANA enterprise number.
type Manufacturer uint32

const (
	ManufacturerUnknown    Manufacturer = 0
	ManufacturerIBM        Manufacturer = 2
	ManufacturerHPE        Manufacturer = 11
	ManufacturerDell       Manufacturer = 674
	ManufacturerSupermicro Manufacturer = 10876
	ManufacturerLenovo     Manufacturer = 19046
)

func (m Manufacturer) String() string {
	switch m {
	case ManufacturerIBM:
		return "ibm"
	case ManufacturerHPE:
		return "hpe"
	case ManufacturerDell:
		return "dell"
	case ManufacturerSupermicro:
		return "supermicro"
	case ManufacturerLenovo:
		return "lenovo"
	}
	return "unknown"
}

// Supermicro fan modes.
const (
	fanModeStandard byte = 0x00
	fanModeFull     byte = 0x01
)

var supermicroZones = []string{"CPU Zone", "Peripheral Zone"}

type channel struct {
	record Record
	value  float64
	valid  bool
}

// Provider exposes the temperature, voltage and fan records of a BMC as
// channels. Control channels are the fan zones of boards with a known OEM
// fan interface.
type Provider struct {
	transport    Transport
	log          *zap.Logger
	manufacturer Manufacturer

	temperatures []*channel
	voltages     []*channel
	fans         []*channel
	unsupported  []Record

	zones       []float64
	zonesValid  []bool
	manual      []bool
	initialMode byte
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProvider detects the BMC manufacturer and reads the SDR repository.
// A BMC without a readable repository yields a provider without channels.
func NewProvider(t Transport, opts ...Option) *Provider {
	p := &Provider{transport: t, log: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}

	if resp, err := call(t, cmdGetDeviceID, NetFnApp, nil, 10); err == nil {
		p.manufacturer = Manufacturer(uint32(resp[7]) | uint32(resp[8])<<8 | uint32(resp[9]&0x0f)<<16)
	} else {
		p.log.Debug("get device id failed", zap.Error(err))
	}

	records, err := Enumerate(t)
	if err != nil {
		p.log.Info("no sensor data records available", zap.Error(err))
	}
	for _, r := range records {
		if r.Linear != 0 {
			p.unsupported = append(p.unsupported, r)
			continue
		}
		c := &channel{record: r}
		switch r.SensorType {
		case SensorTypeTemperature:
			p.temperatures = append(p.temperatures, c)
		case SensorTypeVoltage:
			p.voltages = append(p.voltages, c)
		case SensorTypeFan:
			p.fans = append(p.fans, c)
		}
	}
	for _, r := range p.unsupported {
		p.log.Warn("skipping sensor with unsupported model",
			zap.Uint8("number", r.SensorNumber),
			zap.String("id", r.ID),
			zap.Uint8("linearization", r.Linear))
	}

	if p.manufacturer == ManufacturerSupermicro {
		p.initialMode = fanModeStandard
		if resp, err := call(t, cmdSupermicroFanMode, NetFnOEMSupermicro, []byte{0x00}, 2); err == nil {
			p.initialMode = resp[1]
		}
		p.zones = make([]float64, len(supermicroZones))
		p.zonesValid = make([]bool, len(supermicroZones))
		p.manual = make([]bool, len(supermicroZones))
	}
	return p
}

// Manufacturer returns the detected BMC manufacturer.
func (p *Provider) Manufacturer() Manufacturer { return p.manufacturer }

// Unsupported returns the records skipped because their conversion is not linear.
func (p *Provider) Unsupported() []Record { return p.unsupported }

func (p *Provider) channels(kind sensor.Kind) []*channel {
	switch kind {
	case sensor.KindTemperature:
		return p.temperatures
	case sensor.KindVoltage:
		return p.voltages
	case sensor.KindFan:
		return p.fans
	}
	return nil
}

func (p *Provider) ChannelCount(kind sensor.Kind) int {
	if kind == sensor.KindControl {
		return len(p.zones)
	}
	return len(p.channels(kind))
}

// Refresh reads every sensor. A failed reading only invalidates its channel.
func (p *Provider) Refresh() error {
	for _, kind := range []sensor.Kind{sensor.KindVoltage, sensor.KindTemperature, sensor.KindFan} {
		for _, c := range p.channels(kind) {
			c.value, c.valid = p.readSensor(c.record)
		}
	}
	for i := range p.zones {
		resp, err := call(p.transport, cmdSupermicroOEM, NetFnOEMSupermicro, []byte{0x66, 0x00, byte(i)}, 2)
		p.zonesValid[i] = err == nil
		if err == nil {
			p.zones[i] = float64(resp[1])
		}
	}
	return nil
}

func (p *Provider) readSensor(r Record) (float64, bool) {
	resp, err := call(p.transport, cmdGetSensorReading, NetFnSensorEvent, []byte{r.SensorNumber}, 2)
	if err != nil {
		return 0, false
	}
	// reading/state unavailable
	if len(resp) >= 3 && resp[2]&0x20 != 0 {
		return 0, false
	}
	v, err := r.RawToFloat(resp[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

func (p *Provider) Read(kind sensor.Kind, index int) (float64, bool) {
	if kind == sensor.KindControl {
		if index < 0 || index >= len(p.zones) || !p.zonesValid[index] {
			return 0, false
		}
		return p.zones[index], true
	}
	cs := p.channels(kind)
	if index < 0 || index >= len(cs) || !cs[index].valid {
		return 0, false
	}
	return cs[index].value, true
}

// SetControl sets a fan zone duty cycle. The 0-255 value is scaled to the
// 0-100 duty the BMC expects. The BMC fan mode is switched to full while any
// zone is under software control and restored once none is.
func (p *Provider) SetControl(index int, value *uint8) error {
	if index < 0 || index >= len(p.zones) {
		return fmt.Errorf("ipmi: no fan zone %d", index)
	}
	if value != nil {
		if !p.anyManual() {
			if _, err := call(p.transport, cmdSupermicroFanMode, NetFnOEMSupermicro, []byte{0x01, fanModeFull}, 1); err != nil {
				return fmt.Errorf("ipmi: set fan mode: %w", err)
			}
		}
		p.manual[index] = true
		duty := byte(math.Round(float64(*value) * 100 / 255))
		if _, err := call(p.transport, cmdSupermicroOEM, NetFnOEMSupermicro, []byte{0x66, 0x01, byte(index), duty}, 1); err != nil {
			return fmt.Errorf("ipmi: set zone %d duty: %w", index, err)
		}
		return nil
	}

	wasManual := p.manual[index]
	p.manual[index] = false
	if !wasManual || p.anyManual() {
		return nil
	}
	if _, err := call(p.transport, cmdSupermicroFanMode, NetFnOEMSupermicro, []byte{0x01, p.initialMode}, 1); err != nil {
		return fmt.Errorf("ipmi: restore fan mode: %w", err)
	}
	return nil
}

func (p *Provider) anyManual() bool {
	for _, m := range p.manual {
		if m {
			return true
		}
	}
	return false
}

// Layout names channels after the SDR id strings.
func (p *Provider) Layout() sensor.ChannelLayout {
	var l sensor.ChannelLayout
	for i, c := range p.voltages {
		l.Voltages = append(l.Voltages, sensor.NewDescriptor(c.record.ID, i))
	}
	for i, c := range p.temperatures {
		l.Temperatures = append(l.Temperatures, sensor.NewDescriptor(c.record.ID, i))
	}
	for i, c := range p.fans {
		l.Fans = append(l.Fans, sensor.NewDescriptor(c.record.ID, i))
	}
	for i := range p.zones {
		l.Controls = append(l.Controls, sensor.NewDescriptor(supermicroZones[i], i))
	}
	return l
}

// Close releases the transport if it can be closed.
func (p *Provider) Close() error {
	if c, ok := p.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ sensor.ChannelProvider = (*Provider)(nil)
