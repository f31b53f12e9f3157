package sensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCalibration is returned for calibrations that would divide by zero.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Calibration holds the resistor divider coefficients of a voltage input
// and the constant offset of a temperature input.
type Calibration struct {
	Ri     float64 `yaml:"ri" json:"ri"`
	Rf     float64 `yaml:"rf" json:"rf"`
	Vf     float64 `yaml:"vf" json:"vf"`
	Offset float64 `yaml:"offset" json:"offset"`
}

// IdentityCalibration leaves every reading unchanged.
func IdentityCalibration() Calibration {
	return Calibration{Ri: 0, Rf: 1, Vf: 0}
}

// Validate rejects coefficients that cannot be applied.
func (c Calibration) Validate() error {
	if c.Rf == 0 {
		return fmt.Errorf("%w: rf must not be zero (ri=%g vf=%g)", ErrInvalidCalibration, c.Ri, c.Vf)
	}
	return nil
}

// ApplyVoltage converts a raw ADC voltage into the board voltage.
// Non-finite input propagates unchanged in kind.
func ApplyVoltage(raw float64, c Calibration) float64 {
	return raw + (raw-c.Vf)*c.Ri/c.Rf
}

// ApplyTemperature adds a constant offset to a raw temperature.
func ApplyTemperature(raw, offset float64) float64 {
	return raw + offset
}

// PercentToByte converts a 0-100 duty cycle into the 0-255 register range.
func PercentToByte(percent float64) uint8 {
	if percent <= 0 {
		return 0
	}
	if percent >= 100 {
		return 255
	}
	return uint8(math.Round(percent * 255 / 100))
}
