package config

import (
	"time"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/serial"
)

// MMUSensorName is the name of the MMU-proxied sensor.
const MMUSensorName = "mmu"

// Hardware is the sensor set built from a configuration.
type Hardware struct {
	Extruders []fsensor.Sensor
	Sides     []fsensor.Sensor
	MMU       fsensor.Sensor
	// Lines are the GPIO lines feeding switch sensors.
	Lines []gpio.Line
}

// Build constructs the physical sensors. store persists ADC calibration and
// may be nil.
func (c Config) Build(store fsensor.CalibrationStore) Hardware {
	var hw Hardware
	for i, s := range c.Sensors.Extruders {
		hw.Extruders = append(hw.Extruders, c.sensor(s, store))
		hw.Lines = appendLine(hw.Lines, s, uint8(i), false)
	}
	for i, s := range c.Sensors.Sides {
		if s.Kind == KindNone {
			hw.Sides = append(hw.Sides, nil)
			continue
		}
		hw.Sides = append(hw.Sides, c.sensor(s, store))
		hw.Lines = appendLine(hw.Lines, s, uint8(i), true)
	}
	if c.Sensors.MMU {
		hw.MMU = fsensor.NewMMUSensor(MMUSensorName)
	}
	return hw
}

func (c Config) sensor(s SensorConfig, store fsensor.CalibrationStore) fsensor.Sensor {
	if s.Kind == KindADC {
		cfg := fsensor.DefaultADCConfig(s.Name)
		if s.Window > 0 {
			cfg.WindowSize = s.Window
		}
		if s.LowerLimit != 0 {
			cfg.LowerLimit = s.LowerLimit
		}
		if s.UpperLimit != 0 {
			cfg.UpperLimit = s.UpperLimit
		}
		if s.Span != 0 {
			cfg.Span = s.Span
		}
		cfg.Store = store
		return fsensor.NewADCSensor(cfg)
	}
	return fsensor.NewSwitchSensor(fsensor.SwitchConfig{
		Name:     s.Name,
		Invert:   s.Invert,
		Debounce: time.Duration(s.DebounceMs) * time.Millisecond,
	})
}

func appendLine(lines []gpio.Line, s SensorConfig, tool uint8, side bool) []gpio.Line {
	if s.GPIOLine == nil {
		return lines
	}
	return append(lines, gpio.Line{Offset: *s.GPIOLine, Tool: tool, Side: side})
}

// SerialPort returns the serial link settings.
func (c Config) SerialPort() serial.Config {
	return serial.Config{
		Device:      c.Serial.Device,
		Baud:        c.Serial.Baud,
		ReadTimeout: time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond,
	}
}
