package sensor

import (
	"fmt"
	"time"
)

// Kind identifies the type of a channel or reading.
type Kind int

const (
	KindVoltage Kind = iota
	KindTemperature
	KindFan
	KindControl
	KindLoad
	KindData
)

// ChannelKinds are the kinds a ChannelProvider exposes, in tick order.
var ChannelKinds = []Kind{KindVoltage, KindTemperature, KindFan, KindControl}

func (k Kind) String() string {
	switch k {
	case KindVoltage:
		return "voltage"
	case KindTemperature:
		return "temperature"
	case KindFan:
		return "fan"
	case KindControl:
		return "control"
	case KindLoad:
		return "load"
	case KindData:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k := KindVoltage; k <= KindData; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Unit returns the physical unit readings of this kind are expressed in.
func (k Kind) Unit() string {
	switch k {
	case KindVoltage:
		return "V"
	case KindTemperature:
		return "°C"
	case KindFan:
		return "RPM"
	case KindControl, KindLoad:
		return "%"
	case KindData:
		return "GB"
	}
	return ""
}

// Reading is one published sample. Valid is false when the sensor has no
// value to report; Value is meaningless then.
type Reading struct {
	Hardware  string    `json:"hardware"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Index     int       `json:"index"`
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
	Hidden    bool      `json:"hidden,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelProvider is implemented by every hardware backend. Raw values are
// returned before calibration; a false second result means no data this tick.
type ChannelProvider interface {
	ChannelCount(kind Kind) int
	Refresh() error
	Read(kind Kind, index int) (float64, bool)
	// SetControl drives control channel index to value (0-255). A nil value
	// hands the channel back to the hardware's automatic mode.
	SetControl(index int, value *uint8) error
}

// GPIO is implemented by providers that can access a general purpose I/O bank.
type GPIO interface {
	ReadGPIO(index int) (uint8, bool)
	WriteGPIO(index int, value uint8)
}

// PostUpdater is implemented by providers that need to run after every
// sensor of a tick has been read.
type PostUpdater interface {
	PostUpdate()
}
