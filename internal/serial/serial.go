// Package serial reads filament sensor samples streamed over a serial line
// by an external ADC board.
//
// Each line carries one sample:
//
//	fs <tool> <value>     extruder sensor of tool
//	side <tool> <value>   side sensor of tool
//	mmu <value>           MMU filament flag
//
// A value of "undef" or "nan" is the no-reading sentinel.
package serial

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/tarm/serial"
)

// Channel identifies the sensor a sample is addressed to.
type Channel uint8

const (
	ChannelExtruder Channel = iota
	ChannelSide
	ChannelMMU
)

// Sample is one parsed line.
type Sample struct {
	Channel Channel
	Tool    uint8
	Value   int32
}

// ParseLine parses one sample line.
func ParseLine(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Sample{}, fmt.Errorf("empty line")
	}

	var s Sample
	var valueField string
	switch strings.ToLower(fields[0]) {
	case "fs", "side":
		if len(fields) != 3 {
			return Sample{}, fmt.Errorf("%q: expected <kind> <tool> <value>", line)
		}
		tool, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return Sample{}, fmt.Errorf("%q: bad tool: %w", line, err)
		}
		s.Tool = uint8(tool)
		s.Channel = ChannelExtruder
		if strings.EqualFold(fields[0], "side") {
			s.Channel = ChannelSide
		}
		valueField = fields[2]
	case "mmu":
		if len(fields) != 2 {
			return Sample{}, fmt.Errorf("%q: expected mmu <value>", line)
		}
		s.Channel = ChannelMMU
		valueField = fields[1]
	default:
		return Sample{}, fmt.Errorf("%q: unknown sample kind", line)
	}

	switch strings.ToLower(valueField) {
	case "undef", "nan":
		s.Value = fsensor.UndefinedValue
	default:
		v, err := strconv.ParseInt(valueField, 10, 32)
		if err != nil {
			return Sample{}, fmt.Errorf("%q: bad value: %w", line, err)
		}
		s.Value = int32(v)
	}
	return s, nil
}

// Config describes the serial port.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the serial port.
func Open(cfg Config) (*serial.Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}
