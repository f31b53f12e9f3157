package sensor

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned by control operations after the engine was closed.
var ErrClosed = errors.New("sensor engine closed")

// Settings persists user choices across sessions.
type Settings interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

type noSettings struct{}

func (noSettings) Get(string) (string, bool) { return "", false }
func (noSettings) Set(string, string)        {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for provider failures.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithSettings sets the store control modes and parameter overrides are
// persisted in.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		if s != nil {
			e.settings = s
		}
	}
}

// WithClock replaces time.Now for reading timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns the sensors built from a ChannelLayout over one provider.
type Engine struct {
	mu       sync.Mutex
	name     string
	provider ChannelProvider
	settings Settings
	log      *zap.Logger
	now      func() time.Time

	voltages     []*Sensor
	temperatures []*Sensor
	fans         []*Sensor
	controls     []*Control

	closed bool
}

// NewEngine builds one sensor per descriptor whose index is within the
// provider's channel count; other descriptors are dropped. Control channels
// are pushed to their persisted mode (automatic unless software was chosen).
func NewEngine(name string, provider ChannelProvider, layout ChannelLayout, opts ...Option) (*Engine, error) {
	e := &Engine{
		name:     name,
		provider: provider,
		settings: noSettings{},
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With(zap.String("hardware", name))

	for _, kind := range ChannelKinds {
		count := provider.ChannelCount(kind)
		for _, d := range layout.Descriptors(kind) {
			if d.Index < 0 || d.Index >= count {
				continue
			}
			if kind == KindVoltage {
				if err := d.Calibration.Validate(); err != nil {
					return nil, fmt.Errorf("%s voltage %q: %w", name, d.Name, err)
				}
			}
			s := e.newSensor(kind, d)
			switch kind {
			case KindVoltage:
				e.voltages = append(e.voltages, s)
			case KindTemperature:
				e.temperatures = append(e.temperatures, s)
			case KindFan:
				e.fans = append(e.fans, s)
			case KindControl:
				e.controls = append(e.controls, e.newControl(s))
			}
		}
	}

	for _, c := range e.controls {
		if err := c.apply(); err != nil {
			e.log.Warn("cannot apply control mode", zap.String("sensor", c.name), zap.Error(err))
		}
	}
	return e, nil
}

func (e *Engine) newSensor(kind Kind, d Descriptor) *Sensor {
	s := &Sensor{
		engine:      e,
		name:        d.Name,
		kind:        kind,
		index:       d.Index,
		hidden:      d.Hidden,
		defaults:    d.Calibration,
		calibration: d.Calibration,
	}
	s.loadParameters()
	return s
}

// Name returns the hardware name readings are published under.
func (e *Engine) Name() string { return e.name }

// Update runs one tick: refresh the provider once, then read voltages,
// temperatures, fans and control readbacks in that order, then run the
// provider's post-update hook.
func (e *Engine) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if err := e.provider.Refresh(); err != nil {
		e.log.Debug("refresh failed", zap.Error(err))
		for _, s := range e.sensors() {
			s.clear()
		}
		return
	}

	for _, s := range e.voltages {
		raw, ok := e.provider.Read(KindVoltage, s.index)
		if !ok {
			s.clear()
			continue
		}
		s.set(ApplyVoltage(raw, s.calibration))
	}
	for _, s := range e.temperatures {
		raw, ok := e.provider.Read(KindTemperature, s.index)
		if !ok {
			s.clear()
			continue
		}
		s.set(ApplyTemperature(raw, s.calibration.Offset))
	}
	for _, s := range e.fans {
		raw, ok := e.provider.Read(KindFan, s.index)
		if !ok {
			s.clear()
			continue
		}
		s.set(raw)
	}
	for _, c := range e.controls {
		raw, ok := e.provider.Read(KindControl, c.index)
		if !ok {
			c.clear()
			continue
		}
		c.set(raw)
	}

	if pu, ok := e.provider.(PostUpdater); ok {
		pu.PostUpdate()
	}
}

// Close hands every control channel back to automatic mode and releases the
// provider. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for _, c := range e.controls {
		if err := e.provider.SetControl(c.index, nil); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", c.name, err))
		}
	}
	if closer, ok := e.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sensors returns every sensor in tick order, controls included.
func (e *Engine) Sensors() []*Sensor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sensors()
}

func (e *Engine) sensors() []*Sensor {
	out := make([]*Sensor, 0, len(e.voltages)+len(e.temperatures)+len(e.fans)+len(e.controls))
	out = append(out, e.voltages...)
	out = append(out, e.temperatures...)
	out = append(out, e.fans...)
	for _, c := range e.controls {
		out = append(out, &c.Sensor)
	}
	return out
}

// Controls returns the control sensors.
func (e *Engine) Controls() []*Control {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Control(nil), e.controls...)
}

// Control returns the control bound to channel index.
func (e *Engine) Control(index int) (*Control, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.controls {
		if c.index == index {
			return c, true
		}
	}
	return nil, false
}

// Sensor returns the sensor of kind bound to channel index.
func (e *Engine) Sensor(kind Kind, index int) (*Sensor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sensors() {
		if s.kind == kind && s.index == index {
			return s, true
		}
	}
	return nil, false
}

// Readings snapshots the current value of every sensor.
func (e *Engine) Readings() []Reading {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := e.now()
	sensors := e.sensors()
	out := make([]Reading, 0, len(sensors))
	for _, s := range sensors {
		out = append(out, Reading{
			Hardware:  e.name,
			Name:      s.name,
			Kind:      s.kind,
			Index:     s.index,
			Value:     s.value,
			Valid:     s.valid,
			Hidden:    s.hidden,
			Timestamp: ts,
		})
	}
	return out
}

func (e *Engine) key(kind Kind, index int, param string) string {
	return e.name + "/" + kind.String() + "/" + strconv.Itoa(index) + "/" + param
}
