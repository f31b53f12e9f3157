package sensor

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// Sensor is one named channel owned by an Engine.
type Sensor struct {
	engine *Engine

	name   string
	kind   Kind
	index  int
	hidden bool

	defaults    Calibration
	calibration Calibration

	value  float64
	valid  bool
	active bool
}

func (s *Sensor) Name() string { return s.name }
func (s *Sensor) Kind() Kind   { return s.kind }
func (s *Sensor) Index() int   { return s.index }
func (s *Sensor) Hidden() bool { return s.hidden }

// Value returns the last calibrated value. Voltages and temperatures report
// false when the last tick had no data; fans and controls keep their last
// reading until a new one arrives.
func (s *Sensor) Value() (float64, bool) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.value, s.valid
}

// Active reports whether the sensor is producing readings. Fans and controls
// stay active once they have produced one.
func (s *Sensor) Active() bool {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.active
}

// Calibration returns the coefficients currently applied.
func (s *Sensor) Calibration() Calibration {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.calibration
}

// SetCalibration overrides the board coefficients and persists the override.
func (s *Sensor) SetCalibration(c Calibration) error {
	if s.kind == KindVoltage {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.calibration = c
	s.storeParameters()
	return nil
}

// ResetCalibration restores the board coefficients.
func (s *Sensor) ResetCalibration() {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.calibration = s.defaults
	s.storeParameters()
}

func (s *Sensor) set(v float64) {
	s.value = v
	s.valid = true
	s.active = true
}

// clear records a tick without data. Fans and controls hold their last
// reading: multiplexed fans are sampled on a rotation and miss most ticks.
func (s *Sensor) clear() {
	if s.kind == KindFan || s.kind == KindControl {
		return
	}
	s.valid = false
	s.active = false
}

func (s *Sensor) parameters() map[string]*float64 {
	switch s.kind {
	case KindVoltage:
		return map[string]*float64{"ri": &s.calibration.Ri, "rf": &s.calibration.Rf, "vf": &s.calibration.Vf}
	case KindTemperature:
		return map[string]*float64{"offset": &s.calibration.Offset}
	}
	return nil
}

func (s *Sensor) loadParameters() {
	e := s.engine
	loaded := s.calibration
	for name, p := range s.parameters() {
		v, ok := e.settings.Get(e.key(s.kind, s.index, name))
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.log.Warn("ignoring stored parameter", zap.String("sensor", s.name), zap.String("parameter", name), zap.Error(err))
			continue
		}
		*p = f
	}
	if s.kind == KindVoltage && s.calibration.Validate() != nil {
		e.log.Warn("ignoring stored calibration", zap.String("sensor", s.name))
		s.calibration = loaded
	}
}

func (s *Sensor) storeParameters() {
	e := s.engine
	for name, p := range s.parameters() {
		e.settings.Set(e.key(s.kind, s.index, name), strconv.FormatFloat(*p, 'g', -1, 64))
	}
}

// ControlMode says who drives a control channel.
type ControlMode int

const (
	ModeUndefined ControlMode = iota
	ModeDefault
	ModeSoftware
)

func (m ControlMode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeSoftware:
		return "software"
	}
	return "undefined"
}

func parseControlMode(s string) ControlMode {
	switch s {
	case "default":
		return ModeDefault
	case "software":
		return ModeSoftware
	}
	return ModeUndefined
}

// Control is a fan control channel. In ModeDefault the hardware drives the
// fan; in ModeSoftware the channel is held at the software target percentage.
type Control struct {
	Sensor
	mode     ControlMode
	software float64
}

func (e *Engine) newControl(s *Sensor) *Control {
	c := &Control{Sensor: *s}
	c.mode = parseControlMode(e.stored(KindControl, s.index, "mode"))
	if v, err := strconv.ParseFloat(e.stored(KindControl, s.index, "value"), 64); err == nil && v >= 0 && v <= 100 {
		c.software = v
	} else if c.mode == ModeSoftware {
		c.mode = ModeDefault
	}
	if c.mode == ModeUndefined {
		c.mode = ModeDefault
	}
	return c
}

func (e *Engine) stored(kind Kind, index int, param string) string {
	v, _ := e.settings.Get(e.key(kind, index, param))
	return v
}

// Mode returns the current control mode.
func (c *Control) Mode() ControlMode {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return c.mode
}

// SoftwareValue returns the software target percentage.
func (c *Control) SoftwareValue() float64 {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return c.software
}

// SetDefault hands the channel back to the hardware. Calling it while
// already in default mode does nothing.
func (c *Control) SetDefault() error {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.engine.closed {
		return ErrClosed
	}
	if c.mode == ModeDefault {
		return nil
	}
	c.mode = ModeDefault
	c.store()
	return c.apply()
}

// SetSoftware drives the channel at percent (0-100).
func (c *Control) SetSoftware(percent float64) error {
	if !(percent >= 0 && percent <= 100) {
		return fmt.Errorf("control %s: value %g out of range [0, 100]", c.name, percent)
	}
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	if c.engine.closed {
		return ErrClosed
	}
	if c.mode == ModeSoftware && c.software == percent {
		return nil
	}
	c.mode = ModeSoftware
	c.software = percent
	c.store()
	return c.apply()
}

func (c *Control) store() {
	e := c.engine
	e.settings.Set(e.key(KindControl, c.index, "mode"), c.mode.String())
	e.settings.Set(e.key(KindControl, c.index, "value"), strconv.FormatFloat(c.software, 'g', -1, 64))
}

func (c *Control) apply() error {
	p := c.engine.provider
	if c.mode == ModeSoftware {
		v := PercentToByte(c.software)
		return p.SetControl(c.index, &v)
	}
	return p.SetControl(c.index, nil)
}
