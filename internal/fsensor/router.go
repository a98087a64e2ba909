package fsensor

import (
	"fmt"
	"sync/atomic"
)

// SampleSink is the only surface exposed to sample producers. Both calls
// are lock-free and bounded; the tool index must identify the originating
// channel exactly, a sample delivered to the wrong sensor means a false
// runout.
type SampleSink interface {
	ProcessExtruderSample(raw int32, tool uint8)
	ProcessSideSample(raw int32, tool uint8)
}

// Router binds hardware channels to physical sensors. Its tables are
// filled once at construction and never change afterwards.
type Router struct {
	extruders [MaxTools]Sensor
	sides     [MaxTools]Sensor
	mmu       Sensor
	tools     int

	droppedExtruder atomic.Uint64
	droppedSide     atomic.Uint64
}

// NewRouter builds the routing tables. Extruder sensors are indexed by tool;
// sides may be shorter than extruders or contain nil entries for tools
// without a side sensor. mmu may be nil.
func NewRouter(extruders, sides []Sensor, mmu Sensor) (*Router, error) {
	if len(extruders) == 0 {
		return nil, NewError(ErrCodeConfigInvalid, "", "at least one extruder sensor is required")
	}
	if len(extruders) > MaxTools {
		return nil, NewError(ErrCodeSampleIndexUnbound, "", fmt.Sprintf("%d extruder sensors exceed %d tools", len(extruders), MaxTools))
	}
	if len(sides) > len(extruders) {
		return nil, NewError(ErrCodeSampleIndexUnbound, "", fmt.Sprintf("%d side sensors for %d tools", len(sides), len(extruders)))
	}
	r := &Router{mmu: mmu, tools: len(extruders)}
	for i, s := range extruders {
		if s == nil {
			return nil, NewError(ErrCodeConfigInvalid, "", fmt.Sprintf("tool %d has no extruder sensor", i))
		}
		r.extruders[i] = s
	}
	for i, s := range sides {
		r.sides[i] = s
	}
	return r, nil
}

// ProcessExtruderSample forwards a sample to the extruder sensor of tool.
func (r *Router) ProcessExtruderSample(raw int32, tool uint8) {
	if int(tool) >= r.tools || r.extruders[tool] == nil {
		r.droppedExtruder.Add(1)
		return
	}
	r.extruders[tool].ProcessSample(raw)
}

// ProcessSideSample forwards a sample to the side sensor of tool.
func (r *Router) ProcessSideSample(raw int32, tool uint8) {
	if int(tool) >= r.tools || r.sides[tool] == nil {
		r.droppedSide.Add(1)
		return
	}
	r.sides[tool].ProcessSample(raw)
}

// ProcessMMUSample forwards a sample to the MMU sensor, if any.
func (r *Router) ProcessMMUSample(raw int32) {
	if r.mmu != nil {
		r.mmu.ProcessSample(raw)
	}
}

// Tools returns the number of bound tools.
func (r *Router) Tools() int { return r.tools }

// Extruder returns the extruder sensor of tool, or nil.
func (r *Router) Extruder(tool uint8) Sensor {
	if int(tool) >= r.tools {
		return nil
	}
	return r.extruders[tool]
}

// Side returns the side sensor of tool, or nil.
func (r *Router) Side(tool uint8) Sensor {
	if int(tool) >= r.tools {
		return nil
	}
	return r.sides[tool]
}

// MMU returns the MMU sensor, or nil.
func (r *Router) MMU() Sensor { return r.mmu }

// HasSideSensors reports whether any tool has a side sensor.
func (r *Router) HasSideSensors() bool {
	for i := 0; i < r.tools; i++ {
		if r.sides[i] != nil {
			return true
		}
	}
	return false
}

// All returns every bound sensor: extruders, then sides, then the MMU.
func (r *Router) All() []Sensor {
	out := make([]Sensor, 0, 2*r.tools+1)
	for i := 0; i < r.tools; i++ {
		out = append(out, r.extruders[i])
	}
	for i := 0; i < r.tools; i++ {
		if r.sides[i] != nil {
			out = append(out, r.sides[i])
		}
	}
	if r.mmu != nil {
		out = append(out, r.mmu)
	}
	return out
}

// Dropped returns the number of extruder and side samples that arrived for
// unbound indices.
func (r *Router) Dropped() (extruder, side uint64) {
	return r.droppedExtruder.Load(), r.droppedSide.Load()
}
