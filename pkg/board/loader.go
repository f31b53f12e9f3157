package board

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

//go:embed boards.yaml
var builtinBoards []byte

type fileFormat struct {
	Boards []boardEntry `yaml:"boards"`
}

type boardEntry struct {
	Family     Family       `yaml:"family"`
	Vendor     string       `yaml:"vendor"`
	Models     []string     `yaml:"models"`
	GPIOFanMux bool         `yaml:"gpio_fan_mux"`
	Layout     layoutFormat `yaml:"layout"`
}

type layoutFormat struct {
	Voltages     []descriptorFormat `yaml:"voltages"`
	Temperatures []descriptorFormat `yaml:"temperatures"`
	Fans         []descriptorFormat `yaml:"fans"`
	Controls     []descriptorFormat `yaml:"controls"`
}

type descriptorFormat struct {
	Name        string             `yaml:"name"`
	Index       int                `yaml:"index"`
	Hidden      bool               `yaml:"hidden"`
	Calibration *calibrationFormat `yaml:"calibration"`
}

// calibrationFormat leaves rf optional; an omitted rf means 1.
type calibrationFormat struct {
	Ri     float64  `yaml:"ri"`
	Rf     *float64 `yaml:"rf"`
	Vf     float64  `yaml:"vf"`
	Offset float64  `yaml:"offset"`
}

func (d descriptorFormat) descriptor() sensor.Descriptor {
	out := sensor.NewDescriptor(d.Name, d.Index)
	out.Hidden = d.Hidden
	if c := d.Calibration; c != nil {
		out.Calibration = sensor.Calibration{Ri: c.Ri, Rf: 1, Vf: c.Vf, Offset: c.Offset}
		if c.Rf != nil {
			out.Calibration.Rf = *c.Rf
		}
	}
	return out
}

func convert(ds []descriptorFormat) []sensor.Descriptor {
	if len(ds) == 0 {
		return nil
	}
	out := make([]sensor.Descriptor, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.descriptor())
	}
	return out
}

// LoadTable decodes a YAML board table.
func LoadTable(r io.Reader) (Table, error) {
	var f fileFormat
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse board table: %w", err)
	}

	t := make(Table)
	for i, b := range f.Boards {
		if b.Vendor == "" || len(b.Models) == 0 {
			return nil, fmt.Errorf("board entry %d: vendor and models are required", i)
		}
		entry := Board{
			Layout: sensor.ChannelLayout{
				Voltages:     convert(b.Layout.Voltages),
				Temperatures: convert(b.Layout.Temperatures),
				Fans:         convert(b.Layout.Fans),
				Controls:     convert(b.Layout.Controls),
			},
			GPIOFanMux: b.GPIOFanMux,
		}
		for _, m := range b.Models {
			t.Add(b.Family, b.Vendor, m, entry)
		}
	}
	return t, nil
}

// LoadFile decodes a YAML board table from path.
func LoadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open board table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

// Builtin returns the board table compiled into the binary.
func Builtin() Table {
	t, err := LoadTable(bytes.NewReader(builtinBoards))
	if err != nil {
		panic(fmt.Sprintf("builtin board table: %v", err))
	}
	return t
}

// Merge copies every entry of other into t, replacing existing boards.
func (t Table) Merge(other Table) {
	for k, v := range other {
		t[k] = v
	}
}
