package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/filament-sensor/internal/fsensor"
)

// FakeSource is a test double that delivers scripted levels on demand.
type FakeSource struct {
	Lines []Line

	// Closed tracks if Close was called
	Closed bool

	// LevelsError, if set, will be returned by Levels()
	LevelsError error

	sink   fsensor.SampleSink
	mu     sync.Mutex
	levels []int
}

// NewFakeSource creates a FakeSource with every line at level 0.
func NewFakeSource(lines []Line, sink fsensor.SampleSink) *FakeSource {
	return &FakeSource{Lines: lines, sink: sink, levels: make([]int, len(lines))}
}

// Set changes the level of line i and delivers it as an edge event would.
func (f *FakeSource) Set(i, value int) error {
	f.mu.Lock()
	if f.Closed {
		f.mu.Unlock()
		return errors.New("gpio: source closed")
	}
	if i < 0 || i >= len(f.Lines) {
		f.mu.Unlock()
		return errors.New("gpio: no such line")
	}
	f.levels[i] = value
	l := f.Lines[i]
	f.mu.Unlock()

	deliver(f.sink, l, value)
	return nil
}

// Levels returns the last level set on each line.
func (f *FakeSource) Levels() ([]int, error) {
	if f.LevelsError != nil {
		return nil, f.LevelsError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.levels...), nil
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
