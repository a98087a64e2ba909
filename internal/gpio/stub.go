//go:build !linux

package gpio

import (
	"errors"

	"github.com/sweeney/filament-sensor/internal/fsensor"
)

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chipName string, lines []Line, sink fsensor.SampleSink) (*RealSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Levels is not implemented on non-Linux platforms.
func (s *RealSource) Levels() ([]int, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSource) Close() error {
	return nil
}
