package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Source names.
const (
	SourceSuperIO    = "superio"
	SourceNCT7802    = "nct7802"
	SourceIPMI       = "ipmi"
	SourceMemory     = "memory"
	SourceSimulation = "simulation"
)

// Output types.
const (
	OutputConsole    = "console"
	OutputMQTT       = "mqtt"
	OutputPrometheus = "prometheus"
)

var (
	knownSources = []string{SourceSuperIO, SourceNCT7802, SourceIPMI, SourceMemory, SourceSimulation}
	knownOutputs = []string{OutputConsole, OutputMQTT, OutputPrometheus}
)

type MQTTConfig struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	// DiscoveryPrefix enables Home Assistant discovery under this prefix.
	DiscoveryPrefix string `json:"discovery_prefix,omitempty"`
	// Commands subscribes to <topic>/<hardware>/control/<index>/set and
	// <topic>/<hardware>/<kind>/<index>/calibration.
	Commands bool `json:"commands,omitempty"`
}

type PrometheusConfig struct {
	Listen string `json:"listen"`
	Path   string `json:"path"`
}

type OutputConfig struct {
	Type       string            `json:"type"`
	IntervalMs int               `json:"interval_ms,omitempty"`
	MQTT       *MQTTConfig       `json:"mqtt,omitempty"`
	Prometheus *PrometheusConfig `json:"prometheus,omitempty"`
}

type BoardConfig struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
	// Table is an optional YAML board table merged over the built-in one.
	Table string `json:"table,omitempty"`
}

type SuperIOConfig struct {
	Device      string `json:"device"`
	Chip        string `json:"chip"`
	Address     int    `json:"address"`
	GPIOAddress int    `json:"gpio_address"`
}

type NCT7802Config struct {
	Bus     string `json:"bus"`
	Address int    `json:"address"`
}

type IPMIConfig struct {
	Device    string `json:"device"`
	TimeoutMs int    `json:"timeout_ms"`
	// Report dumps the sensor data repository to stderr at startup.
	Report bool `json:"report,omitempty"`
}

type SimulationConfig struct {
	Voltages     int `json:"voltages"`
	Temperatures int `json:"temperatures"`
	Fans         int `json:"fans"`
	Controls     int `json:"controls"`
}

type Config struct {
	IntervalMs   int              `json:"interval_ms"`
	LogLevel     string           `json:"log_level"`
	SettingsPath string           `json:"settings_path"`
	LockDir      string           `json:"lock_dir"`
	Sources      []string         `json:"sources"`
	Board        BoardConfig      `json:"board"`
	SuperIO      SuperIOConfig    `json:"superio"`
	NCT7802      NCT7802Config    `json:"nct7802"`
	IPMI         IPMIConfig       `json:"ipmi"`
	Simulation   SimulationConfig `json:"simulation"`
	Outputs      []OutputConfig   `json:"outputs"`
}

func DefaultConfig() Config {
	return Config{
		IntervalMs: 1000,
		LogLevel:   "info",
		Sources:    []string{SourceSimulation, SourceMemory},
		SuperIO: SuperIOConfig{
			Device:  "/dev/port",
			Chip:    "it8688e",
			Address: 0x0a40,
		},
		NCT7802: NCT7802Config{
			Bus:     "",
			Address: 0x28,
		},
		IPMI: IPMIConfig{
			Device:    "/dev/ipmi0",
			TimeoutMs: 1000,
		},
		Simulation: SimulationConfig{Voltages: 4, Temperatures: 3, Fans: 3, Controls: 2},
		Outputs:    []OutputConfig{{Type: OutputConsole, IntervalMs: 1000}},
	}
}

// Load reads configuration from a JSON file (optional, --config) and
// command line flags. Flags override values present in the JSON file.
// pflag.ErrHelp is returned as is when help was requested.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("hwmon-to-mqtt", pflag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to JSON config file")
	flagInterval := fs.Int("interval-ms", 0, "Sensor update interval in ms")
	flagLogLevel := fs.String("log-level", "", "Log level: debug|info|warn|error")
	flagSettings := fs.String("settings", "", "Path to the YAML settings file (fan modes, calibration overrides)")
	flagLockDir := fs.String("lock-dir", "", "Directory for hardware mutex lock files")
	flagSources := fs.StringSlice("sources", nil, "Comma-separated sources (superio,nct7802,ipmi,memory,simulation)")
	flagVendor := fs.String("board-vendor", "", "Mainboard vendor used to name channels")
	flagModel := fs.String("board-model", "", "Mainboard model used to name channels")
	flagBoardTable := fs.String("board-table", "", "YAML board table merged over the built-in table")
	flagSIOChip := fs.String("superio-chip", "", "Super I/O chip model (e.g. it8688e)")
	flagSIOAddr := fs.String("superio-address", "", "Environment controller base address (decimal or 0x hex)")
	flagSIOGPIO := fs.String("superio-gpio-address", "", "GPIO base address (decimal or 0x hex)")
	flagI2CBus := fs.String("i2c-bus", "", "I2C bus of the NCT7802Y (e.g., '2' -> /dev/i2c-2)")
	flagI2CAddr := fs.String("i2c-address", "", "I2C address of the NCT7802Y (decimal or 0x hex)")
	flagIPMIDevice := fs.String("ipmi-device", "", "IPMI character device")
	flagIPMIReport := fs.Bool("ipmi-report", false, "Print the IPMI sensor repository at startup")
	flagOutputs := fs.StringSlice("outputs", nil, "Comma-separated outputs (console,mqtt,prometheus)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT topic base")
	flagDiscovery := fs.String("mqtt-discovery-prefix", "", "Home Assistant discovery prefix (e.g. homeassistant)")
	flagCommands := fs.Bool("mqtt-commands", false, "Accept fan control and calibration commands over MQTT")
	flagPromListen := fs.String("prometheus-listen", "", "Prometheus listen address (e.g. :9101)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		cfg.Outputs = nil
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Outputs == nil {
			cfg.Outputs = DefaultConfig().Outputs
		}
	}

	if fs.Changed("interval-ms") {
		cfg.IntervalMs = *flagInterval
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagSettings != "" {
		cfg.SettingsPath = *flagSettings
	}
	if *flagLockDir != "" {
		cfg.LockDir = *flagLockDir
	}
	if fs.Changed("sources") {
		cfg.Sources = normalize(*flagSources)
	}
	if *flagVendor != "" {
		cfg.Board.Vendor = *flagVendor
	}
	if *flagModel != "" {
		cfg.Board.Model = *flagModel
	}
	if *flagBoardTable != "" {
		cfg.Board.Table = *flagBoardTable
	}
	if *flagSIOChip != "" {
		cfg.SuperIO.Chip = *flagSIOChip
	}
	if *flagSIOAddr != "" {
		v, err := parseIntOrHex(*flagSIOAddr)
		if err != nil {
			return cfg, fmt.Errorf("superio-address: %w", err)
		}
		cfg.SuperIO.Address = v
	}
	if *flagSIOGPIO != "" {
		v, err := parseIntOrHex(*flagSIOGPIO)
		if err != nil {
			return cfg, fmt.Errorf("superio-gpio-address: %w", err)
		}
		cfg.SuperIO.GPIOAddress = v
	}
	if *flagI2CBus != "" {
		cfg.NCT7802.Bus = *flagI2CBus
	}
	if *flagI2CAddr != "" {
		v, err := parseIntOrHex(*flagI2CAddr)
		if err != nil {
			return cfg, fmt.Errorf("i2c-address: %w", err)
		}
		cfg.NCT7802.Address = v
	}
	if *flagIPMIDevice != "" {
		cfg.IPMI.Device = *flagIPMIDevice
	}
	if fs.Changed("ipmi-report") {
		cfg.IPMI.Report = *flagIPMIReport
	}

	if fs.Changed("outputs") {
		parts := normalize(*flagOutputs)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: p, IntervalMs: cfg.IntervalMs})
		}
		cfg.Outputs = outs
	}
	if *flagOutputIntervals != "" {
		intervals, err := parseKeyIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}

	// map mqtt flags into every mqtt output (create one if missing)
	mqttFlags := []string{"mqtt-server", "mqtt-user", "mqtt-pass", "mqtt-client-id", "mqtt-topic", "mqtt-discovery-prefix", "mqtt-commands"}
	if slices.ContainsFunc(mqttFlags, fs.Changed) {
		apply := func(m *MQTTConfig) {
			if *flagMQTTServer != "" {
				m.Server = *flagMQTTServer
			}
			if *flagMQTTUser != "" {
				m.Username = *flagMQTTUser
			}
			if *flagMQTTPass != "" {
				m.Password = *flagMQTTPass
			}
			if *flagClientID != "" {
				m.ClientID = *flagClientID
			}
			if *flagTopic != "" {
				m.Topic = *flagTopic
			}
			if *flagDiscovery != "" {
				m.DiscoveryPrefix = *flagDiscovery
			}
			if fs.Changed("mqtt-commands") {
				m.Commands = *flagCommands
			}
		}
		outputFor(&cfg, OutputMQTT, func(o *OutputConfig) {
			if o.MQTT == nil {
				o.MQTT = &MQTTConfig{}
			}
			apply(o.MQTT)
		})
	}
	if *flagPromListen != "" {
		outputFor(&cfg, OutputPrometheus, func(o *OutputConfig) {
			if o.Prometheus == nil {
				o.Prometheus = &PrometheusConfig{}
			}
			o.Prometheus.Listen = *flagPromListen
		})
	}

	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

// outputFor calls fn for every output of type typ, appending one if none exists.
func outputFor(cfg *Config, typ string, fn func(*OutputConfig)) {
	applied := false
	for i := range cfg.Outputs {
		if strings.EqualFold(cfg.Outputs[i].Type, typ) {
			fn(&cfg.Outputs[i])
			applied = true
		}
	}
	if !applied {
		cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: typ, IntervalMs: cfg.IntervalMs})
		fn(&cfg.Outputs[len(cfg.Outputs)-1])
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	if len(c.Sources) == 0 {
		return errors.New("at least one source is required")
	}
	for _, s := range c.Sources {
		if !slices.Contains(knownSources, s) {
			return fmt.Errorf("unknown source %q", s)
		}
	}
	for _, o := range c.Outputs {
		if !slices.Contains(knownOutputs, strings.ToLower(o.Type)) {
			return fmt.Errorf("unknown output %q", o.Type)
		}
		if o.IntervalMs < 0 {
			return fmt.Errorf("output %s: interval must be >= 0", o.Type)
		}
	}
	if slices.Contains(c.Sources, SourceSuperIO) && (c.SuperIO.Address <= 0 || c.SuperIO.Address > 0xffff) {
		return fmt.Errorf("superio address 0x%x out of range", c.SuperIO.Address)
	}
	if slices.Contains(c.Sources, SourceNCT7802) && (c.NCT7802.Address <= 0 || c.NCT7802.Address > 0x7f) {
		return fmt.Errorf("i2c address 0x%x out of range", c.NCT7802.Address)
	}
	if slices.Contains(c.Sources, SourceIPMI) && c.IPMI.TimeoutMs <= 0 {
		return fmt.Errorf("ipmi timeout_ms must be > 0, got %d", c.IPMI.TimeoutMs)
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	v, err := strconv.Atoi(s)
	return v, err
}

func normalize(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseKeyIntMap parses "a=1,b=2".
func parseKeyIntMap(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid entry '%s': want key=value", p)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid value in '%s': %w", p, err)
		}
		out[strings.TrimSpace(k)] = n
	}
	return out, nil
}
