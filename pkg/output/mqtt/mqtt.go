package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ericogr/hwmon-to-mqtt/pkg/config"
	"github.com/ericogr/hwmon-to-mqtt/pkg/sensor"
)

const (
	// defaults
	DefaultServer   = "tcp://localhost:1883"
	DefaultClientID = "hwmon-client"
	DefaultTopic    = "hwmon"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
	valueTemplate          = "{{ value_json.value }}"
)

// Controller is a fan control channel that accepts commands.
type Controller interface {
	SetDefault() error
	SetSoftware(percent float64) error
}

// ControlLookup finds control channel index of the hardware whose Slug is
// hardware.
type ControlLookup func(hardware string, index int) (Controller, bool)

// Calibrator is a voltage or temperature input whose coefficients can be
// overridden at runtime.
type Calibrator interface {
	Calibration() sensor.Calibration
	SetCalibration(c sensor.Calibration) error
	ResetCalibration()
}

// CalibrationLookup finds the input of kind at channel index on the hardware
// whose Slug is hardware.
type CalibrationLookup func(hardware string, kind sensor.Kind, index int) (Calibrator, bool)

// client is the part of mqtt.Client the output uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

type Option func(*MQTTOutput)

func WithLogger(log *zap.Logger) Option {
	return func(m *MQTTOutput) {
		if log != nil {
			m.log = log
		}
	}
}

// WithControls enables fan control commands when the config asks for them.
func WithControls(lookup ControlLookup) Option {
	return func(m *MQTTOutput) { m.controls = lookup }
}

// WithCalibrations enables calibration overrides when the config asks for
// commands.
func WithCalibrations(lookup CalibrationLookup) Option {
	return func(m *MQTTOutput) { m.calibrations = lookup }
}

type MQTTOutput struct {
	client       client
	cfg          config.MQTTConfig
	log          *zap.Logger
	controls     ControlLookup
	calibrations CalibrationLookup

	mu        sync.Mutex
	announced map[string]bool
}

func NewMQTT(cfg config.MQTTConfig, opts ...Option) (*MQTTOutput, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	clientOpts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		clientOpts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		clientOpts.SetPassword(cfg.Password)
	}
	c := mqtt.NewClient(clientOpts)
	token := c.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m, err := newOutput(c, cfg, opts...)
	if err != nil {
		c.Disconnect(250)
		return nil, err
	}
	return m, nil
}

func newOutput(c client, cfg config.MQTTConfig, opts ...Option) (*MQTTOutput, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	m := &MQTTOutput{
		client:    c,
		cfg:       cfg,
		log:       zap.NewNop(),
		announced: map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Commands {
		return m, nil
	}
	if m.controls != nil {
		if err := m.subscribe(cfg.Topic+"/+/control/+/set", m.handleCommand); err != nil {
			return nil, err
		}
	}
	if m.calibrations != nil {
		if err := m.subscribe(cfg.Topic+"/+/+/+/calibration", m.handleCalibration); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MQTTOutput) subscribe(filter string, handle func(topic string, payload []byte) error) error {
	token := m.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handle(msg.Topic(), msg.Payload()); err != nil {
			m.log.Warn("mqtt command rejected", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", filter, token.Error())
	}
	m.log.Info("accepting commands", zap.String("filter", filter))
	return nil
}

// Publish sends every present reading to its own state topic. Absent and
// hidden readings are skipped. With a discovery prefix configured, each
// sensor is announced to Home Assistant the first time it is published.
func (m *MQTTOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		if r.Hidden || !r.Valid {
			continue
		}
		topic := StateTopic(m.cfg.Topic, r)
		if m.cfg.DiscoveryPrefix != "" {
			m.announce(r, topic)
		}

		payload := map[string]interface{}{
			"value":     r.Value,
			"unit":      r.Kind.Unit(),
			"hardware":  r.Hardware,
			"name":      r.Name,
			"timestamp": r.Timestamp,
		}
		if err := publishJSON(m.client, topic, false, payload); err != nil {
			return err
		}
	}
	return nil
}

func (m *MQTTOutput) announce(r sensor.Reading, stateTopic string) {
	uid := m.uniqueID(r)
	m.mu.Lock()
	done := m.announced[uid]
	m.announced[uid] = true
	m.mu.Unlock()
	if done {
		return
	}

	dTopic := fmt.Sprintf("%s/sensor/%s/config", m.cfg.DiscoveryPrefix, uid)
	payload := baseDiscoveryPayload(r.Hardware+" "+r.Name, stateTopic, uid, r.Kind)
	if err := publishJSON(m.client, dTopic, true, payload); err != nil {
		m.log.Warn("mqtt discovery publish error", zap.String("topic", dTopic), zap.Error(err))
		m.mu.Lock()
		delete(m.announced, uid)
		m.mu.Unlock()
	}
}

func (m *MQTTOutput) uniqueID(r sensor.Reading) string {
	uid := fmt.Sprintf("%s_%s_%d", Slug(r.Hardware), r.Kind, r.Index)
	if m.cfg.ClientID != "" {
		uid = Slug(m.cfg.ClientID) + "_" + uid
	}
	return uid
}

// handleCommand applies <topic>/<hardware>/control/<index>/set. The payload
// is a percentage or "default" (alias "auto").
func (m *MQTTOutput) handleCommand(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, m.cfg.Topic+"/")
	parts := strings.Split(rest, "/")
	if !ok || len(parts) != 4 || parts[1] != "control" || parts[3] != "set" {
		return fmt.Errorf("unexpected command topic %q", topic)
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("control index: %w", err)
	}
	c, ok := m.controls(parts[0], index)
	if !ok {
		return fmt.Errorf("no control %d on %q", index, parts[0])
	}

	cmd := strings.ToLower(strings.TrimSpace(string(payload)))
	switch cmd {
	case "default", "auto":
		return c.SetDefault()
	case "":
		return errors.New("empty command")
	}
	percent, err := strconv.ParseFloat(cmd, 64)
	if err != nil {
		return fmt.Errorf("control value: %w", err)
	}
	return c.SetSoftware(percent)
}

// handleCalibration applies <topic>/<hardware>/<kind>/<index>/calibration
// to a voltage or temperature input. The payload is "default" (alias
// "reset") or a JSON object whose ri, rf, vf and offset keys replace the
// matching coefficients; absent keys keep their current value.
func (m *MQTTOutput) handleCalibration(topic string, payload []byte) error {
	rest, ok := strings.CutPrefix(topic, m.cfg.Topic+"/")
	parts := strings.Split(rest, "/")
	if !ok || len(parts) != 4 || parts[3] != "calibration" {
		return fmt.Errorf("unexpected calibration topic %q", topic)
	}
	kind, ok := sensor.ParseKind(parts[1])
	if !ok || (kind != sensor.KindVoltage && kind != sensor.KindTemperature) {
		return fmt.Errorf("%q inputs have no calibration", parts[1])
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("%s index: %w", kind, err)
	}
	cal, ok := m.calibrations(parts[0], kind, index)
	if !ok {
		return fmt.Errorf("no %s %d on %q", kind, index, parts[0])
	}

	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "default", "reset":
		cal.ResetCalibration()
		return nil
	case "":
		return errors.New("empty command")
	}
	c := cal.Calibration()
	if err := json.Unmarshal(payload, &c); err != nil {
		return fmt.Errorf("calibration payload: %w", err)
	}
	return cal.SetCalibration(c)
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// PublishRaw publishes a raw payload to the given topic. The caller can set the
// retain flag which is useful for discovery messages.
func (m *MQTTOutput) PublishRaw(topic string, payload []byte, retained bool) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(topic, 0, retained, payload)
	token.Wait()
	return token.Error()
}

// StateTopic returns <base>/<hardware>/<kind>/<index> for r.
func StateTopic(base string, r sensor.Reading) string {
	return fmt.Sprintf("%s/%s/%s/%d", base, Slug(r.Hardware), r.Kind, r.Index)
}

// Slug lowercases s and replaces every run of characters other than letters
// and digits with a single underscore.
func Slug(s string) string {
	var b strings.Builder
	pending := false
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(c)
			continue
		}
		pending = true
	}
	return b.String()
}

func deviceClass(kind sensor.Kind) string {
	switch kind {
	case sensor.KindVoltage:
		return "voltage"
	case sensor.KindTemperature:
		return "temperature"
	case sensor.KindData:
		return "data_size"
	}
	return ""
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string, kind sensor.Kind) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   kind.Unit(),
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       valueTemplate,
		keyJSONAttributesTopic: stateTopic,
	}
	if dc := deviceClass(kind); dc != "" {
		payload[keyDeviceClass] = dc
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(c client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := c.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
