package fsensor

import "sync/atomic"

// MMUSensor proxies the filament flag reported by a multi-material unit.
// The MMU filters its own sensor, so samples are taken as they come.
type MMUSensor struct {
	base
	raw atomic.Int32
}

// NewMMUSensor creates a disabled MMU-proxied sensor.
func NewMMUSensor(name string) *MMUSensor {
	s := &MMUSensor{base: base{name: name}}
	s.raw.Store(UndefinedValue)
	return s
}

func (s *MMUSensor) ProcessSample(raw int32) { s.raw.Store(raw) }

func (s *MMUSensor) FilteredValue() int32 { return s.raw.Load() }

func (s *MMUSensor) Cycle() {
	switch raw := s.raw.Load(); {
	case !s.isEnabled():
		s.setState(StateDisabled)
	case raw == UndefinedValue:
		s.setState(StateNotConnected)
	case raw == 0:
		s.setState(StateNoFilament)
	default:
		s.setState(StateHasFilament)
	}
}
