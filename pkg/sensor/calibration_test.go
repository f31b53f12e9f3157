package sensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyVoltage(t *testing.T) {
	tests := map[string]struct {
		raw  float64
		cal  Calibration
		want float64
	}{
		"identity zero":     {raw: 0, cal: IdentityCalibration(), want: 0},
		"identity positive": {raw: 1.234, cal: IdentityCalibration(), want: 1.234},
		"identity negative": {raw: -3.5, cal: IdentityCalibration(), want: -3.5},
		"divider":           {raw: 5.0, cal: Calibration{Ri: 10, Rf: 10, Vf: 0}, want: 10.0},
		"12V rail":          {raw: 2.0, cal: Calibration{Ri: 5, Rf: 1, Vf: 0}, want: 12.0},
		"negative rail":     {raw: 3.0, cal: Calibration{Ri: 1, Rf: 1, Vf: 2}, want: 4.0},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.InDelta(t, test.want, ApplyVoltage(test.raw, test.cal), 1e-9)
		})
	}
}

func TestApplyVoltage_Affine(t *testing.T) {
	cal := Calibration{Ri: 6.49, Rf: 10, Vf: 0.3}
	f0 := ApplyVoltage(0, cal)
	f1 := ApplyVoltage(1, cal)
	slope := f1 - f0

	for _, x := range []float64{-2, 0.5, 1.75, 3.3, 12} {
		assert.InDelta(t, f0+slope*x, ApplyVoltage(x, cal), 1e-9)
	}
}

func TestApplyVoltage_NonFinite(t *testing.T) {
	assert.True(t, math.IsNaN(ApplyVoltage(math.NaN(), IdentityCalibration())))
	assert.True(t, math.IsInf(ApplyVoltage(math.Inf(1), Calibration{Ri: 1, Rf: 2}), 1))
	assert.True(t, math.IsNaN(ApplyTemperature(math.NaN(), 2)))
}

func TestApplyTemperature(t *testing.T) {
	assert.Equal(t, 42.0, ApplyTemperature(40, 2))
	assert.Equal(t, 40.0, ApplyTemperature(40, 0))
	assert.Equal(t, 35.5, ApplyTemperature(40, -4.5))
}

func TestCalibration_Validate(t *testing.T) {
	require.NoError(t, IdentityCalibration().Validate())
	require.NoError(t, Calibration{Ri: 10, Rf: 2}.Validate())

	err := Calibration{Ri: 10}.Validate()
	assert.ErrorIs(t, err, ErrInvalidCalibration)
}

func TestPercentToByte(t *testing.T) {
	tests := map[float64]uint8{
		-5:  0,
		0:   0,
		50:  128,
		100: 255,
		150: 255,
	}
	for in, want := range tests {
		assert.Equalf(t, want, PercentToByte(in), "percent %g", in)
	}
}
