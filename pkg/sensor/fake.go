package sensor

import (
	"math/rand"
	"sync"
)

// FakeProvider simulates a Super I/O chip with plausible random values.
// Controls in software mode report the value last written.
type FakeProvider struct {
	mu       sync.Mutex
	counts   map[Kind]int
	values   map[Kind][]float64
	controls []*uint8
}

// NewFakeProvider returns a simulated provider with the given channel counts.
func NewFakeProvider(voltages, temperatures, fans, controls int) *FakeProvider {
	f := &FakeProvider{
		counts: map[Kind]int{
			KindVoltage:     voltages,
			KindTemperature: temperatures,
			KindFan:         fans,
			KindControl:     controls,
		},
		values:   make(map[Kind][]float64),
		controls: make([]*uint8, controls),
	}
	for kind, n := range f.counts {
		f.values[kind] = make([]float64, n)
	}
	return f
}

func (f *FakeProvider) ChannelCount(kind Kind) int {
	return f.counts[kind]
}

func (f *FakeProvider) Refresh() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.values[KindVoltage] {
		// ADC inputs saturate at 4.08V on most chips
		f.values[KindVoltage][i] = rand.Float64() * 4.08
	}
	for i := range f.values[KindTemperature] {
		f.values[KindTemperature][i] = 25 + rand.Float64()*45
	}
	for i := range f.values[KindFan] {
		f.values[KindFan][i] = 600 + rand.Float64()*1400
	}
	for i, c := range f.controls {
		if c != nil {
			f.values[KindControl][i] = float64(*c) / 2.55
			continue
		}
		f.values[KindControl][i] = 30 + rand.Float64()*40
	}
	return nil
}

func (f *FakeProvider) Read(kind Kind, index int) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.values[kind]
	if index < 0 || index >= len(vs) {
		return 0, false
	}
	return vs[index], true
}

func (f *FakeProvider) SetControl(index int, value *uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if index < 0 || index >= len(f.controls) {
		return nil
	}
	if value == nil {
		f.controls[index] = nil
		return nil
	}
	v := *value
	f.controls[index] = &v
	return nil
}
