// Package config loads the daemon configuration from a YAML or TOML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/printer"
	"gopkg.in/yaml.v3"
)

// Sensor kinds.
const (
	KindADC    = "adc"
	KindSwitch = "switch"
	KindNone   = "none"
)

// Config is the daemon configuration.
type Config struct {
	PollMs      int64  `yaml:"poll_ms" toml:"poll_ms" jsonschema:"minimum=1,description=Sensor cycle interval in milliseconds"`
	HeartbeatMs int64  `yaml:"heartbeat_ms" toml:"heartbeat_ms" jsonschema:"minimum=0,description=Heartbeat interval in milliseconds; 0 disables it"`
	Broker      string `yaml:"broker" toml:"broker"`
	HTTPPort    string `yaml:"http_port" toml:"http_port"`

	// Policy is one of edge, level or never.
	Policy   string   `yaml:"m600_send_on" toml:"m600_send_on" jsonschema:"enum=edge,enum=level,enum=never"`
	Autoload bool     `yaml:"autoload" toml:"autoload"`
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Disabled []string `yaml:"disabled_sensors" toml:"disabled_sensors"`

	// EngineState is the print engine state at startup, e.g. idle or
	// printing.
	EngineState     string `yaml:"engine_state" toml:"engine_state" jsonschema:"description=Print engine state at startup"`
	CalibrationFile string `yaml:"calibration_file" toml:"calibration_file" jsonschema:"description=YAML file holding ADC no-filament references"`

	Sensors SensorsConfig `yaml:"sensors" toml:"sensors"`
	Serial  SerialConfig  `yaml:"serial" toml:"serial"`
	GPIO    GPIOConfig    `yaml:"gpio" toml:"gpio"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

// SensorsConfig lists the physical sensors. Extruders are indexed by tool;
// Sides may be shorter and use kind none for tools without a side sensor.
type SensorsConfig struct {
	Extruders []SensorConfig `yaml:"extruders" toml:"extruders"`
	Sides     []SensorConfig `yaml:"sides" toml:"sides"`
	MMU       bool           `yaml:"mmu" toml:"mmu"`
}

// SensorConfig describes one physical sensor.
type SensorConfig struct {
	Name string `yaml:"name" toml:"name" jsonschema:"required"`
	Kind string `yaml:"kind" toml:"kind" jsonschema:"required,enum=adc,enum=switch,enum=none"`

	// Switch sensors.
	GPIOLine   *int  `yaml:"gpio_line,omitempty" toml:"gpio_line,omitempty"`
	Invert     bool  `yaml:"invert" toml:"invert"`
	DebounceMs int64 `yaml:"debounce_ms" toml:"debounce_ms"`

	// ADC sensors; zero means the default.
	Window     int   `yaml:"window" toml:"window"`
	LowerLimit int32 `yaml:"lower_limit" toml:"lower_limit"`
	UpperLimit int32 `yaml:"upper_limit" toml:"upper_limit"`
	Span       int32 `yaml:"span" toml:"span"`
}

// SerialConfig is the serial link that carries ADC samples. An empty
// device disables it.
type SerialConfig struct {
	Device        string `yaml:"device" toml:"device"`
	Baud          int    `yaml:"baud" toml:"baud"`
	ReadTimeoutMs int64  `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
}

// GPIOConfig selects the GPIO chip for switch sensors.
type GPIOConfig struct {
	Chip string `yaml:"chip" toml:"chip"`
}

// LogConfig is overridden by FSENSOR_LOG_LEVEL and FSENSOR_LOG_FORMAT.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is given: a single
// switch sensor on GPIO line 17.
func Default() Config {
	line := 17
	return Config{
		PollMs:      10,
		HeartbeatMs: 900000,
		Broker:      "tcp://localhost:1883",
		HTTPPort:    ":8080",
		Policy:      "edge",
		Autoload:    true,
		Enabled:     true,
		EngineState: "idle",
		Sensors: SensorsConfig{
			Extruders: []SensorConfig{{Name: "extruder0", Kind: KindSwitch, GPIOLine: &line, DebounceMs: 50}},
		},
		Serial: SerialConfig{Baud: 115200, ReadTimeoutMs: 500},
		GPIO:   GPIOConfig{Chip: "gpiochip0"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. The format is chosen by extension:
// .yaml, .yml or .toml.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fsensor.WrapError(err, fsensor.ErrCodeConfigInvalid, "failed to read config file")
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data in the format named by ext over the defaults and
// validates the result.
func Parse(data []byte, ext string) (Config, error) {
	cfg := Default()
	// A file that lists sensors replaces the default sensor set.
	cfg.Sensors.Extruders = nil

	var err error
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); errors.Is(err, io.EOF) {
			err = nil
		}
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&cfg)
	default:
		return Config{}, fsensor.NewError(fsensor.ErrCodeConfigInvalid, "", fmt.Sprintf("unsupported config format %q", ext))
	}
	if err != nil {
		return Config{}, fsensor.WrapError(err, fsensor.ErrCodeConfigInvalid, "failed to parse config")
	}
	if len(cfg.Sensors.Extruders) == 0 {
		cfg.Sensors.Extruders = Default().Sensors.Extruders
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(sensor, format string, args ...any) error {
	return fsensor.NewError(fsensor.ErrCodeConfigInvalid, sensor, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for values the daemon cannot run with.
func (c Config) Validate() error {
	if c.PollMs <= 0 {
		return invalid("", "poll_ms must be positive, got %d", c.PollMs)
	}
	if c.HeartbeatMs < 0 {
		return invalid("", "heartbeat_ms must not be negative, got %d", c.HeartbeatMs)
	}
	if _, ok := fsensor.ParseSendPolicy(c.Policy); !ok {
		return invalid("", "m600_send_on must be edge, level or never, got %q", c.Policy)
	}
	if _, ok := printer.ParseState(c.EngineState); !ok {
		return invalid("", "unknown engine_state %q", c.EngineState)
	}
	if n := len(c.Sensors.Extruders); n == 0 || n > fsensor.MaxTools {
		return invalid("", "need 1 to %d extruder sensors, got %d", fsensor.MaxTools, n)
	}
	if len(c.Sensors.Sides) > len(c.Sensors.Extruders) {
		return invalid("", "%d side sensors for %d tools", len(c.Sensors.Sides), len(c.Sensors.Extruders))
	}

	names := make(map[string]bool)
	lines := make(map[int]string)
	check := func(s SensorConfig, allowNone bool) error {
		switch s.Kind {
		case KindNone:
			if !allowNone {
				return invalid(s.Name, "extruder sensors cannot be of kind none")
			}
			return nil
		case KindADC:
			if s.GPIOLine != nil {
				return invalid(s.Name, "adc sensors are fed over serial, not gpio")
			}
			if s.LowerLimit != 0 && s.UpperLimit != 0 && s.LowerLimit >= s.UpperLimit {
				return invalid(s.Name, "lower_limit %d must be below upper_limit %d", s.LowerLimit, s.UpperLimit)
			}
			if s.Span < 0 || s.Window < 0 {
				return invalid(s.Name, "span and window must not be negative")
			}
		case KindSwitch:
			if s.DebounceMs < 0 {
				return invalid(s.Name, "debounce_ms must not be negative")
			}
		default:
			return invalid(s.Name, "unknown sensor kind %q", s.Kind)
		}
		if s.Name == "" {
			return invalid("", "sensor without a name")
		}
		if names[s.Name] {
			return invalid(s.Name, "duplicate sensor name")
		}
		names[s.Name] = true
		if s.GPIOLine != nil {
			if *s.GPIOLine < 0 {
				return invalid(s.Name, "gpio_line must not be negative")
			}
			if other, ok := lines[*s.GPIOLine]; ok {
				return invalid(s.Name, "gpio line %d already used by %s", *s.GPIOLine, other)
			}
			lines[*s.GPIOLine] = s.Name
		}
		return nil
	}
	for _, s := range c.Sensors.Extruders {
		if err := check(s, false); err != nil {
			return err
		}
	}
	for _, s := range c.Sensors.Sides {
		if err := check(s, true); err != nil {
			return err
		}
	}
	if c.Sensors.MMU && names[MMUSensorName] {
		return invalid(MMUSensorName, "name is reserved for the mmu sensor")
	}
	if c.Serial.Device != "" && c.Serial.Baud <= 0 {
		return invalid("", "serial baud must be positive, got %d", c.Serial.Baud)
	}
	return nil
}

// SendPolicy returns the parsed M600 policy.
func (c Config) SendPolicy() fsensor.SendPolicy {
	p, _ := fsensor.ParseSendPolicy(c.Policy)
	return p
}

// InitialEngineState returns the parsed startup engine state.
func (c Config) InitialEngineState() printer.State {
	st, _ := printer.ParseState(c.EngineState)
	return st
}

// SameHardware reports whether c and o describe the same sensors and
// sample sources. Hardware changes need a restart.
func (c Config) SameHardware(o Config) bool {
	return reflect.DeepEqual(c.Sensors, o.Sensors) && c.Serial == o.Serial && c.GPIO == o.GPIO
}
