// Package memory publishes physical and virtual memory usage as sensors.
package memory

import (
	"sync"
	"time"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

// Info is a memory snapshot in bytes.
type Info struct {
	Total     uint64
	Available uint64
	SwapTotal uint64
	SwapFree  uint64
}

const gib = 1 << 30

// Source reads memory usage once per tick.
type Source struct {
	mu    sync.Mutex
	name  string
	stat  func() (Info, error)
	now   func() time.Time
	info  Info
	valid bool
}

// NewSource returns a source reading the operating system counters.
func NewSource(name string) *Source {
	return newSource(name, readInfo)
}

func newSource(name string, stat func() (Info, error)) *Source {
	return &Source{name: name, stat: stat, now: time.Now}
}

func (s *Source) Name() string { return s.name }

// Update takes a new snapshot. A failed read leaves every reading absent
// until the next tick.
func (s *Source) Update() {
	info, err := s.stat()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info, s.valid = info, err == nil && info.Total > 0
}

// Readings returns memory load in percent and used/available amounts in GiB.
func (s *Source) Readings() []sensor.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.info
	used := i.Total - min(i.Available, i.Total)
	virtualTotal := i.Total + i.SwapTotal
	virtualAvailable := min(i.Available, i.Total) + min(i.SwapFree, i.SwapTotal)
	virtualUsed := virtualTotal - virtualAvailable

	ts := s.now()
	reading := func(name string, kind sensor.Kind, index int, value float64) sensor.Reading {
		return sensor.Reading{
			Hardware:  s.name,
			Name:      name,
			Kind:      kind,
			Index:     index,
			Value:     value,
			Valid:     s.valid,
			Timestamp: ts,
		}
	}
	var load, virtualLoad float64
	if s.valid {
		load = float64(used) / float64(i.Total) * 100
		virtualLoad = float64(virtualUsed) / float64(virtualTotal) * 100
	}
	return []sensor.Reading{
		reading("Memory", sensor.KindLoad, 0, load),
		reading("Virtual Memory", sensor.KindLoad, 1, virtualLoad),
		reading("Memory Used", sensor.KindData, 0, float64(used)/gib),
		reading("Memory Available", sensor.KindData, 1, float64(min(i.Available, i.Total))/gib),
		reading("Virtual Memory Used", sensor.KindData, 2, float64(virtualUsed)/gib),
		reading("Virtual Memory Available", sensor.KindData, 3, float64(virtualAvailable)/gib),
	}
}

// Close does nothing; the source holds no resources.
func (s *Source) Close() error { return nil }
