package fsensor

import "sync/atomic"

// SampleProcessor is the part of a sensor reachable from sample producers.
type SampleProcessor interface {
	// ProcessSample takes one raw reading. It must not block or allocate.
	ProcessSample(raw int32)
}

// Sensor is a physical filament sensor.
type Sensor interface {
	SampleProcessor

	// Name identifies the sensor in logs and status output.
	Name() string

	// Cycle evaluates the latest filtered sample and updates the visible
	// state. Only the facade's cycle goroutine calls it.
	Cycle()

	// GenerateEvent returns one event per call based on the transition
	// since the previous call. It has exactly one consumer.
	GenerateEvent() Event

	// Get returns the visible state. Safe from any goroutine.
	Get() State

	// FilteredValue returns the sensor specific filtered reading.
	FilteredValue() int32

	// Enable and Disable are called from the cycle goroutine only.
	Enable()
	Disable()

	// Calibration requests are flags consumed during Cycle.
	SetCalibrateRequest(req CalibrateRequest)
	IsCalibrationFinished() bool
	SetLoadSettingsFlag()
	SetInvalidateCalibrationFlag()
}

// base carries the state and edge detection shared by every variant.
type base struct {
	name    string
	state   atomic.Uint32
	enabled atomic.Bool

	// lastEvaluated belongs to the GenerateEvent consumer and is kept apart
	// from state so that publishing and edge detection never interfere.
	lastEvaluated State
}

func (b *base) Name() string { return b.name }

func (b *base) Get() State { return State(b.state.Load()) }

func (b *base) setState(s State) { b.state.Store(uint32(s)) }

func (b *base) isEnabled() bool { return b.enabled.Load() }

// Enable and Disable leave an already matching sensor untouched so that a
// repeated enable update does not reset its state.
func (b *base) Enable() {
	if b.enabled.Swap(true) {
		return
	}
	b.setState(StateNotInitialized)
}

func (b *base) Disable() {
	if !b.enabled.Swap(false) && b.Get() == StateDisabled {
		return
	}
	b.setState(StateDisabled)
}

func (b *base) GenerateEvent() Event {
	st := b.Get()
	prev := b.lastEvaluated
	b.lastEvaluated = st

	switch {
	case prev == StateNoFilament && st == StateHasFilament:
		return EventEdgeInserted
	case prev == StateHasFilament && st == StateNoFilament:
		return EventEdgeRemoved
	case st == StateHasFilament:
		return EventHasFilament
	default:
		return EventNoFilament
	}
}

func (b *base) FilteredValue() int32 { return 0 }

func (b *base) SetCalibrateRequest(CalibrateRequest) {}

func (b *base) IsCalibrationFinished() bool { return true }

func (b *base) SetLoadSettingsFlag() {}

func (b *base) SetInvalidateCalibrationFlag() {}
