// Package board resolves a chip family and board identity into the named,
// calibrated channel layout of that board. Board tables are plain data;
// unknown boards fall back to a generic layout.
package board

import (
	"fmt"
	"strings"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

// Family identifies a silicon family. Boards of the same vendor wire
// channels differently depending on the family of the monitoring chip.
type Family string

const (
	FamilyAny     Family = ""
	FamilyIT87    Family = "it87"
	FamilyNCT7802 Family = "nct7802"
)

// DefaultModel forces the generic layout.
const DefaultModel = "default"

// Key addresses one board table entry.
type Key struct {
	Family Family
	Vendor string
	Model  string
}

func newKey(family Family, vendor, model string) Key {
	return Key{
		Family: Family(strings.ToLower(string(family))),
		Vendor: strings.ToLower(strings.TrimSpace(vendor)),
		Model:  strings.ToLower(strings.TrimSpace(model)),
	}
}

// Board is one table entry.
type Board struct {
	Layout sensor.ChannelLayout
	// GPIOFanMux marks boards whose firmware multiplexes three extra fan
	// tachometers onto a single chip input through GPIO pins.
	GPIOFanMux bool
}

// Table maps boards to their channel wiring.
type Table map[Key]Board

// Add registers a board. Entries with FamilyAny match every chip family.
func (t Table) Add(family Family, vendor, model string, b Board) {
	t[newKey(family, vendor, model)] = b
}

// Lookup returns the board entry, preferring a family specific one.
func (t Table) Lookup(family Family, vendor, model string) (Board, bool) {
	k := newKey(family, vendor, model)
	if k.Vendor == "" || k.Model == "" || k.Model == DefaultModel {
		return Board{}, false
	}
	if b, ok := t[k]; ok {
		return b, true
	}
	k.Family = FamilyAny
	b, ok := t[k]
	return b, ok
}

// Counts holds the number of physical channels per kind.
type Counts struct {
	Voltages     int
	Temperatures int
	Fans         int
	Controls     int
}

// CountsOf reads the channel counts of a provider.
func CountsOf(p sensor.ChannelProvider) Counts {
	return Counts{
		Voltages:     p.ChannelCount(sensor.KindVoltage),
		Temperatures: p.ChannelCount(sensor.KindTemperature),
		Fans:         p.ChannelCount(sensor.KindFan),
		Controls:     p.ChannelCount(sensor.KindControl),
	}
}

// Resolve returns the board layout, or DefaultLayout(counts) when the board
// is unknown. It never fails.
func Resolve(t Table, family Family, vendor, model string, counts Counts) sensor.ChannelLayout {
	if b, ok := t.Lookup(family, vendor, model); ok {
		return b.Layout
	}
	return DefaultLayout(counts)
}

// DefaultLayout names every physical channel generically. Voltages are hidden
// since their coefficients are unknown.
func DefaultLayout(counts Counts) sensor.ChannelLayout {
	var l sensor.ChannelLayout
	for i := 0; i < counts.Voltages; i++ {
		d := sensor.NewDescriptor(fmt.Sprintf("Voltage #%d", i+1), i)
		d.Hidden = true
		l.Voltages = append(l.Voltages, d)
	}
	for i := 0; i < counts.Temperatures; i++ {
		l.Temperatures = append(l.Temperatures, sensor.NewDescriptor(fmt.Sprintf("Temperature #%d", i+1), i))
	}
	for i := 0; i < counts.Fans; i++ {
		l.Fans = append(l.Fans, sensor.NewDescriptor(fmt.Sprintf("Fan #%d", i+1), i))
	}
	for i := 0; i < counts.Controls; i++ {
		l.Controls = append(l.Controls, sensor.NewDescriptor(fmt.Sprintf("Fan Control #%d", i+1), i))
	}
	return l
}
