package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ericogr/hwmon-to-mqtt/pkg/board"
	"github.com/ericogr/hwmon-to-mqtt/pkg/config"
	"github.com/ericogr/hwmon-to-mqtt/pkg/memory"
	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
	"github.com/ericogr/hwmon-to-mqtt/pkg/settings"
)

type recordingOutput struct {
	published [][]sensor.Reading
	closed    bool
}

func (o *recordingOutput) Publish(r []sensor.Reading) error {
	o.published = append(o.published, r)
	return nil
}

func (o *recordingOutput) Close() error {
	o.closed = true
	return nil
}

func TestInitOutputsSetsInterval(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "console", IntervalMs: 50}}}
	entries, err := initOutputs(&cfg, 123, nil, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 123, cfg.Outputs[0].IntervalMs)
	assert.Equal(t, 123, entries[0].IntervalMs)
	assert.Equal(t, 50, entries[1].IntervalMs)
}

func TestInitOutputsUnknown(t *testing.T) {
	cfg := config.Config{Outputs: []config.OutputConfig{{Type: "console"}, {Type: "syslog"}}}
	_, err := initOutputs(&cfg, 100, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestOutputEntryDue(t *testing.T) {
	e := &outputEntry{IntervalMs: 1000}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, e.due(t0), "first tick always publishes")
	assert.False(t, e.due(t0.Add(500*time.Millisecond)))
	assert.True(t, e.due(t0.Add(time.Second)))
	assert.False(t, e.due(t0.Add(1999*time.Millisecond)))
	assert.True(t, e.due(t0.Add(2*time.Second)))
}

func TestTick(t *testing.T) {
	fake := sensor.NewFakeProvider(0, 2, 1, 0)
	e, err := sensor.NewEngine("Simulated", fake, board.DefaultLayout(board.CountsOf(fake)))
	require.NoError(t, err)
	defer e.Close()

	fast := &recordingOutput{}
	slow := &recordingOutput{}
	entries := []*outputEntry{
		{Type: "fast", Output: fast, IntervalMs: 100},
		{Type: "slow", Output: slow, IntervalMs: 1000},
	}
	sources := []source{e, memory.NewSource("Generic Memory")}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tick(t0.Add(time.Duration(i)*100*time.Millisecond), sources, entries, zap.NewNop())
	}

	assert.Len(t, fast.published, 5)
	require.Len(t, slow.published, 1)
	var hardware []string
	for _, r := range slow.published[0] {
		hardware = append(hardware, r.Hardware)
	}
	assert.Contains(t, hardware, "Simulated")
	assert.Contains(t, hardware, "Generic Memory")
}

func TestControlLookup(t *testing.T) {
	fake := sensor.NewFakeProvider(0, 0, 1, 2)
	e, err := sensor.NewEngine("ITE IT8688E", fake, board.DefaultLayout(board.CountsOf(fake)))
	require.NoError(t, err)
	defer e.Close()

	lookup := controlLookup([]*sensor.Engine{e})

	c, ok := lookup("ite_it8688e", 1)
	require.True(t, ok)
	require.NoError(t, c.SetSoftware(60))
	ctrl, _ := e.Control(1)
	assert.Equal(t, sensor.ModeSoftware, ctrl.Mode())

	_, ok = lookup("ite_it8688e", 2)
	assert.False(t, ok)
	_, ok = lookup("nuvoton_nct7802y", 0)
	assert.False(t, ok)
}

func TestCalibrationLookup(t *testing.T) {
	fake := sensor.NewFakeProvider(2, 1, 0, 0)
	e, err := sensor.NewEngine("ITE IT8688E", fake, board.DefaultLayout(board.CountsOf(fake)))
	require.NoError(t, err)
	defer e.Close()

	lookup := calibrationLookup([]*sensor.Engine{e})

	c, ok := lookup("ite_it8688e", sensor.KindVoltage, 1)
	require.True(t, ok)
	require.NoError(t, c.SetCalibration(sensor.Calibration{Ri: 2, Rf: 1}))
	s, _ := e.Sensor(sensor.KindVoltage, 1)
	assert.Equal(t, sensor.Calibration{Ri: 2, Rf: 1}, s.Calibration())

	_, ok = lookup("ite_it8688e", sensor.KindTemperature, 0)
	assert.True(t, ok)
	_, ok = lookup("ite_it8688e", sensor.KindTemperature, 1)
	assert.False(t, ok)
	_, ok = lookup("nuvoton_nct7802y", sensor.KindVoltage, 0)
	assert.False(t, ok)
}

func TestBoardIdentity(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "board_vendor"), []byte("ASRock\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "board_name"), []byte("P55 Deluxe\n"), 0o644))

	vendor, model := boardIdentity(config.BoardConfig{}, dir)
	assert.Equal(t, "ASRock", vendor)
	assert.Equal(t, "P55 Deluxe", model)

	vendor, model = boardIdentity(config.BoardConfig{Model: "default"}, dir)
	assert.Equal(t, "ASRock", vendor)
	assert.Equal(t, "default", model, "configured values win")

	vendor, model = boardIdentity(config.BoardConfig{}, filepath.Join(dir, "missing"))
	assert.Empty(t, vendor)
	assert.Empty(t, model)
}

func TestBoardTable(t *testing.T) {
	table, err := boardTable("")
	require.NoError(t, err)
	assert.NotEmpty(t, table)

	path := filepath.Join(t.TempDir(), "boards.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = boardTable(path)
	assert.Error(t, err)

	_, err = boardTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenHardwareSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	h, err := openHardware(config.SourceSimulation, cfg, board.Table{}, "", "", nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "Simulated Super I/O", h.name)
	assert.Len(t, h.layout.Voltages, cfg.Simulation.Voltages)
	for _, d := range h.layout.Voltages {
		assert.False(t, d.Hidden, d.Name)
	}
	assert.Len(t, h.layout.Controls, cfg.Simulation.Controls)

	_, err = openHardware("lm75", cfg, board.Table{}, "", "", nil, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenSettings(t *testing.T) {
	s, err := openSettings("", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &settings.Memory{}, s)

	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err = openSettings(path, zap.NewNop())
	require.NoError(t, err)
	s.Set("k", "v")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
