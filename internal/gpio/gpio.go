// Package gpio feeds filament switch levels from GPIO lines into the sensor
// pipeline. The real implementation uses the Linux GPIO character device
// and delivers samples from its edge event handler. The fake implementation
// allows testing without hardware.
package gpio

import "github.com/sweeney/filament-sensor/internal/fsensor"

// DefaultChip is the GPIO chip used when none is configured.
const DefaultChip = "gpiochip0"

// Line binds a GPIO line offset to the sensor channel it feeds.
type Line struct {
	Offset int
	Tool   uint8
	// Side selects the side sensor of Tool instead of its extruder sensor.
	Side bool
}

// Source delivers switch levels to a sink until closed.
type Source interface {
	// Levels returns the current raw level of every line, in line order.
	Levels() ([]int, error)

	// Close stops delivery and releases resources.
	Close() error
}

// deliver forwards one raw level to the channel bound to l.
func deliver(sink fsensor.SampleSink, l Line, value int) {
	if l.Side {
		sink.ProcessSideSample(int32(value), l.Tool)
		return
	}
	sink.ProcessExtruderSample(int32(value), l.Tool)
}
