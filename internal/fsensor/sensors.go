package fsensor

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/filament-sensor/internal/logging"
	"github.com/sweeney/filament-sensor/internal/printer"
)

// G-code injected by the facade.
const (
	GcodeM600     = "M600"
	GcodeAutoload = "M1701"
)

// Engine exposes the print engine inputs read once per cycle.
type Engine interface {
	PrintState() printer.State
	ActiveTool() uint8
	MMUEnabled() bool
}

// Dispatcher receives the commands the facade decides to send.
type Dispatcher interface {
	InjectGcode(cmd string)
}

// Options configures a Sensors facade.
type Options struct {
	Policy          SendPolicy
	AutoloadEnabled bool
	// Enabled is the global sensor enable setting.
	Enabled bool
	// Disabled lists sensors that stay disabled while globally enabled.
	Disabled []string
	Log      *logrus.Entry
}

// Counts tracks facade activity since startup.
type Counts struct {
	Inserted uint64
	Removed  uint64
	M600     uint64
	Autoload uint64
}

// SensorInfo describes one physical sensor for status output.
type SensorInfo struct {
	Name     string
	State    State
	Filtered int32
}

// view pairs a mapping with the states recomputed against it, so readers
// never combine a new mapping with stale states.
type view struct {
	mapping *Mapping
	states  [LogicalCount]State
}

func (v *view) hasMMU(r *Router) bool {
	return v.mapping.Topology.MMU && r.MMU() != nil
}

// Sensors is the thread-safe facade over all filament sensors. Cycle must be
// called from a single goroutine; every other method is safe from any
// goroutine unless noted.
type Sensors struct {
	log        *logrus.Entry
	router     *Router
	mapper     *Mapper
	engine     Engine
	dispatcher Dispatcher

	cur atomic.Pointer[view]

	policy          atomic.Uint32
	autoloadEnabled atomic.Bool
	globalEnabled   atomic.Bool
	disabled        atomic.Pointer[map[string]bool]

	eventLock    atomic.Int32 // 0 == unlocked
	autoloadLock atomic.Int32 // 0 == unlocked
	m600Sent     atomic.Bool
	autoloadSent atomic.Bool

	enablePending      atomic.Bool
	enableProcessing   atomic.Bool
	reconfigurePending atomic.Bool

	inserted, removed, m600s, autoloads atomic.Uint64

	// cycle goroutine only
	all         []Sensor
	events      []Event
	lastDropped [2]uint64
}

// New creates the facade. Sensors are enabled according to opts on the
// first Cycle.
func New(router *Router, engine Engine, dispatcher Dispatcher, opts Options) *Sensors {
	log := opts.Log
	if log == nil {
		log = logging.NewLogger("fsensor")
	}
	s := &Sensors{
		log:        log,
		router:     router,
		mapper:     NewMapper(router),
		engine:     engine,
		dispatcher: dispatcher,
		all:        router.All(),
	}
	s.events = make([]Event, len(s.all))
	s.policy.Store(uint32(opts.Policy))
	s.autoloadEnabled.Store(opts.AutoloadEnabled)
	s.globalEnabled.Store(opts.Enabled)
	s.SetDisabledSensors(opts.Disabled)
	s.cur.Store(&view{mapping: s.mapper.Current()})
	s.enablePending.Store(true)
	s.reconfigurePending.Store(true)
	return s
}

// Cycle runs one evaluation pass: enable-state update, mapping
// reconfiguration, sensor cycles, logical state recomputation, event
// draining and M600/autoload policy, in that order.
func (s *Sensors) Cycle() {
	s.processEnableStateUpdate()
	s.reconfigureIfNeeded()

	for _, sn := range s.all {
		sn.Cycle()
	}

	v := s.recompute()

	for i, sn := range s.all {
		ev := sn.GenerateEvent()
		s.events[i] = ev
		switch ev {
		case EventEdgeInserted:
			s.inserted.Add(1)
			s.log.Infof("fsensor: %s filament inserted", sn.Name())
		case EventEdgeRemoved:
			s.removed.Add(1)
			s.log.Infof("fsensor: %s filament removed", sn.Name())
		}
	}

	s.processEvents(v)
	s.reportDropped()
}

func (s *Sensors) processEnableStateUpdate() {
	if !s.enablePending.Load() {
		return
	}
	// processing goes up before pending goes down so observers never see
	// both cleared mid-update.
	s.enableProcessing.Store(true)
	s.enablePending.Store(false)

	global := s.globalEnabled.Load()
	disabled := *s.disabled.Load()
	for _, sn := range s.all {
		if global && !disabled[sn.Name()] {
			sn.Enable()
		} else {
			sn.Disable()
		}
	}
	s.log.Debugf("fsensor: enable state applied (global=%t)", global)
	s.enableProcessing.Store(false)
}

func (s *Sensors) topology() Topology {
	return Topology{Tool: s.engine.ActiveTool(), MMU: s.engine.MMUEnabled()}
}

func (s *Sensors) reconfigureIfNeeded() {
	force := s.reconfigurePending.Swap(false)
	topo := s.topology()
	if !s.mapper.ReconfigureIfNeeded(topo, force) {
		return
	}
	names := s.mapper.Current().Names()
	s.log.WithFields(logrus.Fields{
		"tool":             topo.Tool,
		"mmu":              topo.MMU,
		"current_extruder": names[CurrentExtruder],
		"current_side":     names[CurrentSide],
		"primary_runout":   names[PrimaryRunout],
		"secondary_runout": names[SecondaryRunout],
		"autoload":         names[Autoload],
	}).Info("fsensor: logical sensors reconfigured")

	if after := s.topology(); after != topo {
		err := NewError(ErrCodeConfigRaceDetected, "",
			fmt.Sprintf("topology moved during rebuild (tool %d->%d, mmu %t->%t)", topo.Tool, after.Tool, topo.MMU, after.MMU))
		s.log.Warn(err)
		s.reconfigurePending.Store(true)
	}
}

// recompute reads every logical sensor through the freshly resolved
// mapping and publishes the pair.
func (s *Sensors) recompute() *view {
	m := s.mapper.Current()
	next := view{mapping: m}
	for l := Logical(0); l < LogicalCount; l++ {
		if sn := m.Get(l); sn != nil {
			next.states[l] = sn.Get()
		}
	}
	if prev := s.cur.Load(); *prev == next {
		return prev
	}
	v := &next
	s.cur.Store(v)
	return v
}

func (s *Sensors) eventFor(sn Sensor) Event {
	for i, c := range s.all {
		if c == sn {
			return s.events[i]
		}
	}
	return EventNoFilament
}

func (s *Sensors) processEvents(v *view) {
	if s.IsEvLocked() {
		return
	}

	ps := s.engine.PrintState()
	if ps.IsPrinting() {
		if !s.m600Sent.Load() && s.runoutTriggered(v) {
			s.m600Sent.Store(true)
			s.m600s.Add(1)
			s.log.Infof("fsensor: runout detected, injecting %s (policy=%s)", GcodeM600, s.SendPolicy())
			s.dispatcher.InjectGcode(GcodeM600)
		}
		return
	}

	if !ps.IsIdle() || !s.autoloadEnabled.Load() || s.IsAutoloadLocked() || s.autoloadSent.Load() {
		return
	}
	sn := v.mapping.Get(Autoload)
	if sn == nil || s.eventFor(sn) != EventEdgeInserted {
		return
	}
	s.autoloadSent.Store(true)
	s.autoloads.Add(1)
	s.log.Infof("fsensor: filament inserted into %s, injecting %s", sn.Name(), GcodeAutoload)
	s.dispatcher.InjectGcode(GcodeAutoload)
}

func (s *Sensors) runoutTriggered(v *view) bool {
	policy := s.SendPolicy()
	for _, l := range [...]Logical{PrimaryRunout, SecondaryRunout} {
		sn := v.mapping.Get(l)
		if sn == nil {
			continue
		}
		switch policy {
		case SendOnEdge:
			if s.eventFor(sn) == EventEdgeRemoved {
				return true
			}
		case SendOnLevel:
			if v.states[l] == StateNoFilament {
				return true
			}
		}
	}
	return false
}

func (s *Sensors) reportDropped() {
	ext, side := s.router.Dropped()
	if ext == s.lastDropped[0] && side == s.lastDropped[1] {
		return
	}
	s.log.WithFields(logrus.Fields{
		"code":     ErrCodeSampleIndexUnbound,
		"extruder": ext - s.lastDropped[0],
		"side":     side - s.lastDropped[1],
	}).Warn("fsensor: dropped samples for unbound tool index")
	s.lastDropped = [2]uint64{ext, side}
}

// Enable turns sensor evaluation on globally. The change is applied by the
// next Cycle.
func (s *Sensors) Enable() { s.SetEnabledGlobal(true) }

// Disable turns sensor evaluation off globally. The change is applied by
// the next Cycle.
func (s *Sensors) Disable() { s.SetEnabledGlobal(false) }

// SetEnabledGlobal stores the global enable setting and requests an update.
func (s *Sensors) SetEnabledGlobal(enabled bool) {
	s.globalEnabled.Store(enabled)
	s.RequestEnableStateUpdate()
}

// IsEnabledGlobal returns the global enable setting.
func (s *Sensors) IsEnabledGlobal() bool { return s.globalEnabled.Load() }

// SetDisabledSensors replaces the set of individually disabled sensors.
// Call RequestEnableStateUpdate to apply it.
func (s *Sensors) SetDisabledSensors(names []string) {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	s.disabled.Store(&m)
}

// RequestEnableStateUpdate asks the next Cycle to re-apply enable settings.
func (s *Sensors) RequestEnableStateUpdate() { s.enablePending.Store(true) }

// IsEnableStateUpdateProcessing reports whether a requested enable update
// has not been fully applied yet.
func (s *Sensors) IsEnableStateUpdateProcessing() bool {
	return s.enablePending.Load() || s.enableProcessing.Load()
}

// RequestReconfigure forces a mapping rebuild on the next Cycle.
func (s *Sensors) RequestReconfigure() { s.reconfigurePending.Store(true) }

func (s *Sensors) IncEvLock() { s.eventLock.Add(1) }

func (s *Sensors) DecEvLock() {
	if !decrement(&s.eventLock) {
		s.log.Error("fsensor: event lock released more often than taken")
	}
}

func (s *Sensors) IncAutoloadLock() { s.autoloadLock.Add(1) }

func (s *Sensors) DecAutoloadLock() {
	if !decrement(&s.autoloadLock) {
		s.log.Error("fsensor: autoload lock released more often than taken")
	}
}

// decrement lowers c by one unless it is already zero.
func decrement(c *atomic.Int32) bool {
	for {
		v := c.Load()
		if v <= 0 {
			return false
		}
		if c.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

func (s *Sensors) IsEvLocked() bool       { return s.eventLock.Load() > 0 }
func (s *Sensors) IsAutoloadLocked() bool { return s.autoloadLock.Load() > 0 }

// EvLockCount and AutoloadLockCount return the current reference counts.
func (s *Sensors) EvLockCount() int32       { return s.eventLock.Load() }
func (s *Sensors) AutoloadLockCount() int32 { return s.autoloadLock.Load() }

// ClrM600Sent and ClrAutoloadSent acknowledge a dispatch. Safe from any
// goroutine; only Cycle sets the latches.
func (s *Sensors) ClrM600Sent()     { s.m600Sent.Store(false) }
func (s *Sensors) ClrAutoloadSent() { s.autoloadSent.Store(false) }

func (s *Sensors) WasM600Sent() bool          { return s.m600Sent.Load() }
func (s *Sensors) IsAutoloadInProgress() bool { return s.autoloadSent.Load() }

// GetM600SendOn returns 'e', 'l', 'n' or 'x' for the active send policy.
func (s *Sensors) GetM600SendOn() byte { return s.SendPolicy().Code() }

func (s *Sensors) SendPolicy() SendPolicy           { return SendPolicy(s.policy.Load()) }
func (s *Sensors) SetSendPolicy(p SendPolicy)       { s.policy.Store(uint32(p)) }
func (s *Sensors) SetAutoloadEnabled(b bool)        { s.autoloadEnabled.Store(b) }
func (s *Sensors) IsAutoloadEnabled() bool          { return s.autoloadEnabled.Load() }
func (s *Sensors) Mapper() *Mapper                  { return s.mapper }
func (s *Sensors) Router() *Router                  { return s.router }
func (s *Sensors) DroppedSamples() (uint64, uint64) { return s.router.Dropped() }

// HasMMU reports whether the published mapping routes through the MMU.
func (s *Sensors) HasMMU() bool { return s.cur.Load().hasMMU(s.router) }

// ToolIndex returns the tool the published mapping was built for, or NoTool.
func (s *Sensors) ToolIndex() uint8 { return s.cur.Load().mapping.Topology.Tool }

// SensorState returns the cached state of a logical sensor. Unmapped
// logical sensors report StateNotInitialized.
func (s *Sensors) SensorState(l Logical) State {
	if l >= LogicalCount {
		return StateNotInitialized
	}
	return s.cur.Load().states[l]
}

// States returns all cached logical states from one consistent view.
func (s *Sensors) States() [LogicalCount]State {
	return s.cur.Load().states
}

// LogicalSensors returns the mapping the cached states were computed from.
// The mapping is shared and must not be modified.
func (s *Sensors) LogicalSensors() *Mapping {
	return s.cur.Load().mapping
}

// HasFilament reports whether the current extruder sensor confidently
// reads filament (expected == true) or no filament (expected == false).
// Disabled, uncalibrated, disconnected and unknown sensors always yield
// false.
func (s *Sensors) HasFilament(expected bool) bool {
	want := StateNoFilament
	if expected {
		want = StateHasFilament
	}
	return s.SensorState(CurrentExtruder) == want
}

// ToolHasFilament reports whether the extruder sensor of tool reads
// filament.
func (s *Sensors) ToolHasFilament(tool uint8) bool {
	sn := s.router.Extruder(tool)
	return sn != nil && sn.Get() == StateHasFilament
}

// MMUReadyToPrint reports whether an MMU is active and the extruder is
// empty, so the MMU can load the first filament.
func (s *Sensors) MMUReadyToPrint() bool {
	v := s.cur.Load()
	return v.hasMMU(s.router) && v.states[CurrentExtruder] == StateNoFilament
}

// WhereIsFilament reports the filament position as seen by the extruder
// sensor.
func (s *Sensors) WhereIsFilament() FilamentPosition {
	switch s.SensorState(CurrentExtruder) {
	case StateHasFilament:
		return FilamentAtFSensor
	case StateNoFilament:
		return FilamentNotPresent
	default:
		return FilamentUnavailable
	}
}

// Diagnose explains why a logical sensor has no confident reading. It
// returns nil when the reading is confident.
func (s *Sensors) Diagnose(l Logical) error {
	v := s.cur.Load()
	sn := v.mapping.Get(l)
	if sn == nil {
		return NewError(ErrCodeSensorUnmapped, l.String(), "no physical sensor for this role")
	}
	return stateError(sn.Name(), v.states[l])
}

// ForAllSensors calls f on every physical sensor.
func (s *Sensors) ForAllSensors(f func(Sensor)) {
	for _, sn := range s.router.All() {
		f(sn)
	}
}

// Physical returns the current state of every physical sensor.
func (s *Sensors) Physical() []SensorInfo {
	all := s.router.All()
	out := make([]SensorInfo, 0, len(all))
	for _, sn := range all {
		out = append(out, SensorInfo{Name: sn.Name(), State: sn.Get(), Filtered: sn.FilteredValue()})
	}
	return out
}

// Counts returns activity counters.
func (s *Sensors) Counts() Counts {
	return Counts{
		Inserted: s.inserted.Load(),
		Removed:  s.removed.Load(),
		M600:     s.m600s.Load(),
		Autoload: s.autoloads.Load(),
	}
}
