// Package fsensor contains the filament sensor pipeline: per-sensor sample
// filtering and classification, routing of raw samples to physical sensors,
// logical sensor mapping, and the Sensors facade that drives M600 and
// autoload dispatch.
//
// Sample intake (ProcessSample, Router.Process*Sample) is safe to call from
// producer goroutines standing in for interrupt context: it touches only
// atomics and never blocks, allocates or logs. Everything else runs on the
// single goroutine that calls Sensors.Cycle, except the documented
// thread-safe getters and lock/latch functions.
package fsensor

import "math"

// UndefinedValue is the raw sample sentinel meaning "no reading".
const UndefinedValue int32 = math.MinInt32

// MaxTools bounds the per-tool sensor tables.
const MaxTools = 8

// NoTool is the active tool index when no tool is picked.
const NoTool uint8 = math.MaxUint8

// State is the classification of a physical sensor.
type State uint8

const (
	StateNotInitialized State = iota
	StateHasFilament
	StateNoFilament
	StateNotConnected
	StateDisabled
	StateNotCalibrated
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "NOT_INITIALIZED"
	case StateHasFilament:
		return "HAS_FILAMENT"
	case StateNoFilament:
		return "NO_FILAMENT"
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateDisabled:
		return "DISABLED"
	case StateNotCalibrated:
		return "NOT_CALIBRATED"
	default:
		return "UNKNOWN"
	}
}

// Confident reports whether the state is a definite filament reading.
func (s State) Confident() bool {
	return s == StateHasFilament || s == StateNoFilament
}

// Event is produced once per cycle per physical sensor by GenerateEvent.
type Event uint8

const (
	EventNoFilament Event = iota
	EventHasFilament
	EventEdgeInserted
	EventEdgeRemoved
)

func (e Event) String() string {
	switch e {
	case EventNoFilament:
		return "NO_FILAMENT"
	case EventHasFilament:
		return "HAS_FILAMENT"
	case EventEdgeInserted:
		return "EDGE_INSERTED"
	case EventEdgeRemoved:
		return "EDGE_REMOVED"
	default:
		return "UNKNOWN"
	}
}

// IsEdge reports whether the event is a transition rather than a level.
func (e Event) IsEdge() bool {
	return e == EventEdgeInserted || e == EventEdgeRemoved
}

// Logical identifies a role-based filament sensor.
type Logical uint8

const (
	CurrentExtruder Logical = iota
	CurrentSide
	PrimaryRunout
	SecondaryRunout
	Autoload

	LogicalCount
)

func (l Logical) String() string {
	switch l {
	case CurrentExtruder:
		return "current_extruder"
	case CurrentSide:
		return "current_side"
	case PrimaryRunout:
		return "primary_runout"
	case SecondaryRunout:
		return "secondary_runout"
	case Autoload:
		return "autoload"
	default:
		return "unknown"
	}
}

// CalibrateRequest is consumed by a sensor during its Cycle.
type CalibrateRequest uint8

const (
	NoCalibration CalibrateRequest = iota
	CalibrateHasFilament
	CalibrateNoFilament
)

// SendPolicy selects when a runout triggers M600.
type SendPolicy uint8

const (
	SendUndefined SendPolicy = iota
	SendOnEdge
	SendOnLevel
	SendNever
)

// Code returns the single-character form reported to the UI.
func (p SendPolicy) Code() byte {
	switch p {
	case SendOnEdge:
		return 'e'
	case SendOnLevel:
		return 'l'
	case SendNever:
		return 'n'
	default:
		return 'x'
	}
}

func (p SendPolicy) String() string {
	switch p {
	case SendOnEdge:
		return "edge"
	case SendOnLevel:
		return "level"
	case SendNever:
		return "never"
	default:
		return "undefined"
	}
}

// ParseSendPolicy accepts "edge", "level" or "never".
func ParseSendPolicy(s string) (SendPolicy, bool) {
	switch s {
	case "edge", "e":
		return SendOnEdge, true
	case "level", "l":
		return SendOnLevel, true
	case "never", "n":
		return SendNever, true
	}
	return SendUndefined, false
}

// FilamentPosition is the coarse filament location reported to an MMU.
type FilamentPosition uint8

const (
	FilamentNotPresent FilamentPosition = iota
	FilamentAtFSensor
	FilamentInNozzle
	FilamentUnavailable
)

func (p FilamentPosition) String() string {
	switch p {
	case FilamentNotPresent:
		return "NOT_PRESENT"
	case FilamentAtFSensor:
		return "AT_FSENSOR"
	case FilamentInNozzle:
		return "IN_NOZZLE"
	default:
		return "UNAVAILABLE"
	}
}
