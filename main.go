package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ericogr/hwmon-to-mqtt/pkg/board"
	"github.com/ericogr/hwmon-to-mqtt/pkg/config"
	"github.com/ericogr/hwmon-to-mqtt/pkg/hwmutex"
	"github.com/ericogr/hwmon-to-mqtt/pkg/ipmi"
	"github.com/ericogr/hwmon-to-mqtt/pkg/memory"
	"github.com/ericogr/hwmon-to-mqtt/pkg/nct7802"
	"github.com/ericogr/hwmon-to-mqtt/pkg/output"
	"github.com/ericogr/hwmon-to-mqtt/pkg/output/console"
	mqttout "github.com/ericogr/hwmon-to-mqtt/pkg/output/mqtt"
	promout "github.com/ericogr/hwmon-to-mqtt/pkg/output/prometheus"
	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
	"github.com/ericogr/hwmon-to-mqtt/pkg/settings"
	"github.com/ericogr/hwmon-to-mqtt/pkg/superio"
)

const dmiDir = "/sys/class/dmi/id"

// source is a group of readings updated together: a sensor engine over one
// chip, or the memory counters.
type source interface {
	Name() string
	Update()
	Readings() []sensor.Reading
	Close() error
}

type outputEntry struct {
	Type       string
	Output     output.Output
	IntervalMs int
	last       time.Time
}

// due reports whether the output should publish at now.
func (e *outputEntry) due(now time.Time) bool {
	if !e.last.IsZero() && now.Sub(e.last) < time.Duration(e.IntervalMs)*time.Millisecond {
		return false
	}
	e.last = now
	return true
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	return zapConfig.Build()
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	store, err := openSettings(cfg.SettingsPath, log)
	if err != nil {
		return err
	}
	table, err := boardTable(cfg.Board.Table)
	if err != nil {
		return err
	}
	vendor, model := boardIdentity(cfg.Board, dmiDir)
	log.Info("starting hwmon-to-mqtt", zap.String("vendor", vendor), zap.String("model", model), zap.Strings("sources", cfg.Sources))

	bus := hwmutex.New(cfg.LockDir, hwmutex.ISABus)
	var (
		sources []source
		engines []*sensor.Engine
	)
	defer func() {
		for _, s := range sources {
			if err := s.Close(); err != nil {
				log.Warn("close failed", zap.String("hardware", s.Name()), zap.Error(err))
			}
		}
	}()

	for _, name := range cfg.Sources {
		if name == config.SourceMemory {
			sources = append(sources, memory.NewSource("Generic Memory"))
			continue
		}
		h, err := openHardware(name, cfg, table, vendor, model, bus, log)
		if err != nil {
			// a missing chip never stops the others
			log.Warn("source unavailable", zap.String("source", name), zap.Error(err))
			continue
		}
		e, err := sensor.NewEngine(h.name, h.provider, h.layout,
			sensor.WithLogger(log.Named(name)),
			sensor.WithSettings(store),
		)
		if err != nil {
			if closer, ok := h.provider.(io.Closer); ok {
				_ = closer.Close()
			}
			return err
		}
		sources = append(sources, e)
		engines = append(engines, e)
	}
	if len(sources) == 0 {
		return errors.New("no source available")
	}

	mqttOpts := []mqttout.Option{
		mqttout.WithControls(controlLookup(engines)),
		mqttout.WithCalibrations(calibrationLookup(engines)),
	}
	entries, err := initOutputs(&cfg, cfg.IntervalMs, mqttOpts, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, e := range entries {
			if err := e.Output.Close(); err != nil {
				log.Warn("close output failed", zap.String("output", e.Type), zap.Error(err))
			}
		}
	}()

	ticker := time.NewTicker(time.Duration(cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		tick(time.Now(), sources, entries, log)
		select {
		case <-ctx.Done():
			log.Info("shutting down, restoring fan controls")
			return nil
		case <-ticker.C:
		}
	}
}

// tick updates every source once and hands the readings to the outputs
// whose interval has elapsed.
func tick(now time.Time, sources []source, entries []*outputEntry, log *zap.Logger) {
	var readings []sensor.Reading
	for _, s := range sources {
		s.Update()
		readings = append(readings, s.Readings()...)
	}
	for _, e := range entries {
		if !e.due(now) {
			continue
		}
		if err := e.Output.Publish(readings); err != nil {
			log.Warn("publish failed", zap.String("output", e.Type), zap.Error(err))
		}
	}
}

type hardware struct {
	name     string
	provider sensor.ChannelProvider
	layout   sensor.ChannelLayout
}

func openHardware(name string, cfg config.Config, table board.Table, vendor, model string, bus *hwmutex.Mutex, log *zap.Logger) (hardware, error) {
	switch name {
	case config.SourceSuperIO:
		return openSuperIO(cfg.SuperIO, table, vendor, model, bus, log.Named(name))
	case config.SourceNCT7802:
		dev, err := nct7802.Open(cfg.NCT7802.Bus, uint16(cfg.NCT7802.Address), nct7802.WithLogger(log.Named(name)))
		if err != nil {
			return hardware{}, err
		}
		layout := board.Resolve(table, board.FamilyNCT7802, vendor, model, board.CountsOf(dev))
		return hardware{name: "Nuvoton NCT7802Y", provider: dev, layout: layout}, nil
	case config.SourceIPMI:
		return openIPMI(cfg.IPMI, log.Named(name))
	case config.SourceSimulation:
		s := cfg.Simulation
		fake := sensor.NewFakeProvider(s.Voltages, s.Temperatures, s.Fans, s.Controls)
		// the default layout hides voltages, which a simulation wants to show
		layout := board.DefaultLayout(board.CountsOf(fake))
		for i := range layout.Voltages {
			layout.Voltages[i].Hidden = false
		}
		return hardware{name: "Simulated Super I/O", provider: fake, layout: layout}, nil
	}
	return hardware{}, fmt.Errorf("unknown source %q", name)
}

func openSuperIO(cfg config.SuperIOConfig, table board.Table, vendor, model string, bus *hwmutex.Mutex, log *zap.Logger) (hardware, error) {
	chipModel, ok := superio.LookupModel(cfg.Chip)
	if !ok {
		return hardware{}, fmt.Errorf("unknown super i/o chip %q", cfg.Chip)
	}
	port, err := superio.OpenPort(cfg.Device)
	if err != nil {
		return hardware{}, err
	}
	opts := []superio.IT87Option{
		superio.WithLogger(log),
		superio.WithBusLock(bus, superio.MuxLockTimeout),
	}
	if cfg.GPIOAddress != 0 {
		opts = append(opts, superio.WithGPIO(uint16(cfg.GPIOAddress)))
	}
	chip, err := superio.NewIT87(port, chipModel, uint16(cfg.Address), opts...)
	if err != nil {
		_ = port.Close()
		return hardware{}, err
	}

	var provider sensor.ChannelProvider = chip
	if b, ok := table.Lookup(board.FamilyIT87, vendor, model); ok && b.GPIOFanMux {
		if cfg.GPIOAddress == 0 {
			log.Warn("board multiplexes fans through gpio but no gpio address is configured")
		} else {
			provider = superio.NewFanMux(chip, bus, log)
		}
	}
	layout := board.Resolve(table, board.FamilyIT87, vendor, model, board.CountsOf(provider))
	return hardware{name: "ITE " + chipModel.Name, provider: provider, layout: layout}, nil
}

func openIPMI(cfg config.IPMIConfig, log *zap.Logger) (hardware, error) {
	t, err := ipmi.Open(cfg.Device, time.Duration(cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		return hardware{}, err
	}
	p := ipmi.NewProvider(t, ipmi.WithLogger(log))
	if cfg.Report {
		if err := p.Report(os.Stderr); err != nil {
			log.Warn("ipmi report failed", zap.Error(err))
		}
	}
	return hardware{name: "IPMI " + p.Manufacturer().String(), provider: p, layout: p.Layout()}, nil
}

func openSettings(path string, log *zap.Logger) (settings.Store, error) {
	if path == "" {
		log.Debug("no settings file, choices are kept in memory")
		return settings.NewMemory(), nil
	}
	return settings.OpenFile(path, log.Named("settings"))
}

func boardTable(path string) (board.Table, error) {
	table := board.Builtin()
	if path == "" {
		return table, nil
	}
	extra, err := board.LoadFile(path)
	if err != nil {
		return nil, err
	}
	table.Merge(extra)
	return table, nil
}

// boardIdentity returns the configured board, filling the blanks from the
// firmware DMI tables found in dir.
func boardIdentity(cfg config.BoardConfig, dir string) (vendor, model string) {
	vendor, model = cfg.Vendor, cfg.Model
	if vendor == "" {
		vendor = readDMI(dir, "board_vendor")
	}
	if model == "" {
		model = readDMI(dir, "board_name")
	}
	return vendor, model
}

func readDMI(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func controlLookup(engines []*sensor.Engine) mqttout.ControlLookup {
	return func(hardware string, index int) (mqttout.Controller, bool) {
		for _, e := range engines {
			if mqttout.Slug(e.Name()) != hardware {
				continue
			}
			if c, ok := e.Control(index); ok {
				return c, true
			}
		}
		return nil, false
	}
}

func calibrationLookup(engines []*sensor.Engine) mqttout.CalibrationLookup {
	return func(hardware string, kind sensor.Kind, index int) (mqttout.Calibrator, bool) {
		for _, e := range engines {
			if mqttout.Slug(e.Name()) != hardware {
				continue
			}
			if s, ok := e.Sensor(kind, index); ok {
				return s, true
			}
		}
		return nil, false
	}
}

// initOutputs builds every configured output. Outputs without an interval
// publish every interval ms.
func initOutputs(cfg *config.Config, interval int, mqttOpts []mqttout.Option, log *zap.Logger) ([]*outputEntry, error) {
	var entries []*outputEntry
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs == 0 {
			oc.IntervalMs = interval
		}

		var out output.Output
		switch strings.ToLower(oc.Type) {
		case config.OutputConsole:
			out = console.NewConsole()
		case config.OutputMQTT:
			mc := config.MQTTConfig{}
			if oc.MQTT != nil {
				mc = *oc.MQTT
			}
			opts := append([]mqttout.Option{mqttout.WithLogger(log.Named("mqtt"))}, mqttOpts...)
			m, err := mqttout.NewMQTT(mc, opts...)
			if err != nil {
				closeOutputs(entries)
				return nil, err
			}
			out = m
		case config.OutputPrometheus:
			pc := config.PrometheusConfig{}
			if oc.Prometheus != nil {
				pc = *oc.Prometheus
			}
			p, err := promout.Listen(pc, log.Named("prometheus"))
			if err != nil {
				closeOutputs(entries)
				return nil, err
			}
			out = p
		default:
			closeOutputs(entries)
			return nil, fmt.Errorf("unknown output type %q", oc.Type)
		}
		entries = append(entries, &outputEntry{Type: oc.Type, Output: out, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}

func closeOutputs(entries []*outputEntry) {
	for _, e := range entries {
		_ = e.Output.Close()
	}
}
