package fsensor

import "sync/atomic"

// Topology is the routing-relevant printer configuration.
type Topology struct {
	Tool uint8
	MMU  bool
}

// Mapping is an immutable logical to physical sensor table.
type Mapping struct {
	Topology Topology
	sensors  [LogicalCount]Sensor
}

// Get returns the physical sensor behind l, or nil when l is unmapped.
func (m *Mapping) Get(l Logical) Sensor {
	if m == nil || l >= LogicalCount {
		return nil
	}
	return m.sensors[l]
}

// Names returns the physical sensor name per logical sensor ("" if unmapped).
func (m *Mapping) Names() map[Logical]string {
	out := make(map[Logical]string, LogicalCount)
	for l := Logical(0); l < LogicalCount; l++ {
		if s := m.Get(l); s != nil {
			out[l] = s.Name()
		} else {
			out[l] = ""
		}
	}
	return out
}

// Mapper resolves logical sensors through the current Mapping. Readers use
// Resolve and Current from any goroutine; ReconfigureIfNeeded runs on the
// cycle goroutine only.
type Mapper struct {
	router  *Router
	current atomic.Pointer[Mapping]

	last  Topology
	built bool
}

// NewMapper creates a mapper with no tool selected.
func NewMapper(r *Router) *Mapper {
	m := &Mapper{router: r}
	m.current.Store(m.Build(Topology{Tool: NoTool}))
	return m
}

// Resolve returns the physical sensor currently behind l.
func (m *Mapper) Resolve(l Logical) Sensor {
	return m.current.Load().Get(l)
}

// Current returns the installed mapping.
func (m *Mapper) Current() *Mapping {
	return m.current.Load()
}

// ReconfigureIfNeeded rebuilds the mapping when the topology changed since
// the last build, or unconditionally when force is set. It reports whether
// a new mapping was installed.
func (m *Mapper) ReconfigureIfNeeded(t Topology, force bool) bool {
	if m.built && !force && t == m.last {
		return false
	}
	next := m.Build(t)
	m.current.Store(next)
	m.last = t
	m.built = true
	return true
}

// Build computes the mapping for t without installing it.
func (m *Mapper) Build(t Topology) *Mapping {
	r := m.router
	mp := &Mapping{Topology: t}
	mmu := t.MMU && r.MMU() != nil

	extruder := r.Extruder(t.Tool)
	side := r.Side(t.Tool)

	mp.sensors[CurrentExtruder] = extruder
	mp.sensors[CurrentSide] = side

	switch {
	case mmu:
		mp.sensors[PrimaryRunout] = r.MMU()
		mp.sensors[SecondaryRunout] = extruder
	case side != nil:
		mp.sensors[PrimaryRunout] = side
		mp.sensors[SecondaryRunout] = extruder
		mp.sensors[Autoload] = extruder
	default:
		mp.sensors[PrimaryRunout] = extruder
		mp.sensors[Autoload] = extruder
	}
	return mp
}
