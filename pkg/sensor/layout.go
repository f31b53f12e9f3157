package sensor

// Descriptor names one channel of a provider and carries its board calibration.
type Descriptor struct {
	Name        string      `yaml:"name" json:"name"`
	Index       int         `yaml:"index" json:"index"`
	Calibration Calibration `yaml:"calibration" json:"calibration"`
	Hidden      bool        `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// NewDescriptor returns a visible descriptor with identity calibration.
func NewDescriptor(name string, index int) Descriptor {
	return Descriptor{Name: name, Index: index, Calibration: IdentityCalibration()}
}

// VoltageDescriptor returns a descriptor for a voltage input behind a
// resistor divider.
func VoltageDescriptor(name string, index int, ri, rf, vf float64) Descriptor {
	return Descriptor{Name: name, Index: index, Calibration: Calibration{Ri: ri, Rf: rf, Vf: vf}}
}

// TemperatureDescriptor returns a descriptor for a temperature input with a
// constant offset.
func TemperatureDescriptor(name string, index int, offset float64) Descriptor {
	c := IdentityCalibration()
	c.Offset = offset
	return Descriptor{Name: name, Index: index, Calibration: c}
}

// ChannelLayout lists the descriptors of a provider, one ordered list per
// channel kind. Indexes are validated against the provider when an Engine
// is built.
type ChannelLayout struct {
	Voltages     []Descriptor `yaml:"voltages,omitempty" json:"voltages,omitempty"`
	Temperatures []Descriptor `yaml:"temperatures,omitempty" json:"temperatures,omitempty"`
	Fans         []Descriptor `yaml:"fans,omitempty" json:"fans,omitempty"`
	Controls     []Descriptor `yaml:"controls,omitempty" json:"controls,omitempty"`
}

// Descriptors returns the list for kind. Kinds without channels yield nil.
func (l ChannelLayout) Descriptors(kind Kind) []Descriptor {
	switch kind {
	case KindVoltage:
		return l.Voltages
	case KindTemperature:
		return l.Temperatures
	case KindFan:
		return l.Fans
	case KindControl:
		return l.Controls
	}
	return nil
}

// Len returns the total number of descriptors.
func (l ChannelLayout) Len() int {
	return len(l.Voltages) + len(l.Temperatures) + len(l.Fans) + len(l.Controls)
}
