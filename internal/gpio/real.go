//go:build linux

package gpio

import (
	"fmt"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/warthog618/go-gpiocdev"
)

// RealSource watches filament switches on a GPIO chip.
type RealSource struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

// NewRealSource requests every line as an input with pull-up and both edge
// detection. The initial level of each line is delivered before returning;
// later changes are delivered from the edge event handler.
func NewRealSource(chipName string, lines []Line, sink fsensor.SampleSink) (*RealSource, error) {
	if chipName == "" {
		chipName = DefaultChip
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	s := &RealSource{chip: chip}
	for _, l := range lines {
		l := l
		handler := func(evt gpiocdev.LineEvent) {
			value := 0
			if evt.Type == gpiocdev.LineEventRisingEdge {
				value = 1
			}
			deliver(sink, l, value)
		}
		line, err := chip.RequestLine(l.Offset, gpiocdev.AsInput, gpiocdev.WithPullUp,
			gpiocdev.WithBothEdges, gpiocdev.WithEventHandler(handler))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("request line %d: %w", l.Offset, err)
		}
		s.lines = append(s.lines, line)

		v, err := line.Value()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("read line %d: %w", l.Offset, err)
		}
		deliver(sink, l, v)
	}
	return s, nil
}

// Levels returns the current raw level of every line.
func (s *RealSource) Levels() ([]int, error) {
	out := make([]int, 0, len(s.lines))
	for _, line := range s.lines {
		v, err := line.Value()
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line.Offset(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Close releases GPIO resources.
// Reconfigures lines to plain inputs with pull-down (matching Pi boot
// defaults) before closing.
func (s *RealSource) Close() error {
	var errs []error

	for _, line := range s.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure line %d: %w", line.Offset(), err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line %d: %w", line.Offset(), err))
		}
	}
	s.lines = nil
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		s.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
