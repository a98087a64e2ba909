// Package status provides a thread-safe status tracker for the
// filament-sensor daemon. It is read by the HTTP handlers and the MQTT
// system events.
package status

import (
	"reflect"
	"sync"
	"time"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/printer"
	"github.com/sweeney/filament-sensor/internal/printstate"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string
	Policy      string
	ConfigFile  string
}

// LogicalReading is the state of one logical sensor.
type LogicalReading struct {
	Name     string
	Physical string // empty when unmapped
	State    fsensor.State
}

// SensorsView is a copy of the facade state taken on the cycle goroutine.
type SensorsView struct {
	Logical            []LogicalReading
	Physical           []fsensor.SensorInfo
	Enabled            bool
	Updating           bool
	Policy             fsensor.SendPolicy
	EvLock             int32
	AutoloadLock       int32
	M600Sent           bool
	AutoloadInProgress bool
	HasMMU             bool
	Tool               uint8
	Filament           fsensor.FilamentPosition
	Counts             fsensor.Counts
	DroppedExtruder    uint64
	DroppedSide        uint64
}

// CollectSensors reads the facade into a SensorsView.
func CollectSensors(s *fsensor.Sensors) SensorsView {
	mapping := s.LogicalSensors()
	states := s.States()
	v := SensorsView{
		Physical:           s.Physical(),
		Enabled:            s.IsEnabledGlobal(),
		Updating:           s.IsEnableStateUpdateProcessing(),
		Policy:             s.SendPolicy(),
		EvLock:             s.EvLockCount(),
		AutoloadLock:       s.AutoloadLockCount(),
		M600Sent:           s.WasM600Sent(),
		AutoloadInProgress: s.IsAutoloadInProgress(),
		HasMMU:             s.HasMMU(),
		Tool:               s.ToolIndex(),
		Filament:           s.WhereIsFilament(),
		Counts:             s.Counts(),
	}
	v.DroppedExtruder, v.DroppedSide = s.DroppedSamples()
	for l := fsensor.Logical(0); l < fsensor.LogicalCount; l++ {
		r := LogicalReading{Name: l.String(), State: states[l]}
		if sn := mapping.Get(l); sn != nil {
			r.Physical = sn.Name()
		}
		v.Logical = append(v.Logical, r)
	}
	return v
}

// PrinterView is the print engine and print screen state.
type PrinterView struct {
	Engine        printer.State
	Screen        printstate.State
	Buttons       printstate.Affordances
	MediaInserted bool
	Preheating    bool
	Gcodes        uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and stays valid after the lock is released.
type Snapshot struct {
	Sensors       SensorsView
	Printer       PrinterView
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether every logical sensor with a physical sensor behind
// it has a confident reading.
func (s Snapshot) Ready() bool {
	if !s.Sensors.Enabled || s.Sensors.Updating {
		return false
	}
	for _, r := range s.Sensors.Logical {
		if r.Physical != "" && !r.State.Confident() {
			return false
		}
	}
	return true
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[chan struct{}]struct{}
	// dirty is set when a setter changed the snapshot since the last
	// NotifyIfChanged.
	dirty bool
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		subs: make(map[chan struct{}]struct{}),
	}
}

// Update sets the sensor and printer state and reports whether it differs
// from the previous one. Called from the cycle loop on every tick.
func (t *Tracker) Update(sensors SensorsView, p PrinterView) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p == t.snap.Printer && reflect.DeepEqual(sensors, t.snap.Sensors) {
		return false
	}
	t.snap.Sensors = sensors
	t.snap.Printer = p
	t.dirty = true
	return true
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	if t.snap.MQTTConnected != connected {
		t.snap.MQTTConnected = connected
		t.dirty = true
	}
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	if !reflect.DeepEqual(t.snap.Network, info) {
		t.snap.Network = info
		t.dirty = true
	}
	t.mu.Unlock()
}

// SetConfig replaces the displayed configuration.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	if t.snap.Config != cfg {
		t.snap.Config = cfg
		t.dirty = true
	}
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

// Subscribe returns a channel signalled after Notify. The channel holds at
// most one pending signal. Call the returned function to unsubscribe.
func (t *Tracker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	return ch, func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
}

// Notify signals every subscriber that the state changed.
func (t *Tracker) Notify() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyLocked()
}

// NotifyIfChanged signals subscribers only when a setter changed the
// snapshot since the last call. It reports whether it signalled.
func (t *Tracker) NotifyIfChanged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return false
	}
	t.notifyLocked()
	return true
}

func (t *Tracker) notifyLocked() {
	t.dirty = false
	for ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
