package fsensor

import (
	"sync/atomic"
	"time"
)

// SwitchConfig configures a SwitchSensor.
type SwitchConfig struct {
	Name string
	// Invert treats a raw 0 as filament present.
	Invert bool
	// Debounce is how long a new reading must hold before it is published.
	Debounce time.Duration
	// Now is the clock used for debouncing; defaults to time.Now.
	Now func() time.Time
}

// debounceState tracks debounce for one switch.
type debounceState struct {
	// Current stable (debounced) state
	stable State
	// Pending state during debounce
	pending    State
	hasPending bool
	// Time when pending state was first observed
	pendingSince time.Time
	// Whether a first stable reading exists
	baselined bool
}

// SwitchSensor is a digital filament switch. Raw samples are 0, 1 or
// UndefinedValue.
type SwitchSensor struct {
	base
	cfg SwitchConfig
	raw atomic.Int32
	db  debounceState
}

// NewSwitchSensor creates a disabled switch sensor.
func NewSwitchSensor(cfg SwitchConfig) *SwitchSensor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &SwitchSensor{base: base{name: cfg.Name}, cfg: cfg}
	s.raw.Store(UndefinedValue)
	return s
}

func (s *SwitchSensor) ProcessSample(raw int32) { s.raw.Store(raw) }

func (s *SwitchSensor) FilteredValue() int32 { return s.raw.Load() }

func (s *SwitchSensor) Cycle() {
	if !s.isEnabled() {
		s.db = debounceState{}
		s.setState(StateDisabled)
		return
	}
	raw := s.raw.Load()
	if raw == UndefinedValue {
		// Force a fresh baseline once the signal returns.
		s.db = debounceState{}
		s.setState(StateNotConnected)
		return
	}

	present := raw != 0
	if s.cfg.Invert {
		present = !present
	}
	reading := StateNoFilament
	if present {
		reading = StateHasFilament
	}

	if st, ok := s.debounce(reading, s.cfg.Now()); ok {
		s.setState(st)
	} else if !s.db.baselined {
		s.setState(StateNotInitialized)
	}
}

// debounce returns the stable state once one exists.
func (s *SwitchSensor) debounce(reading State, now time.Time) (State, bool) {
	db := &s.db
	if s.cfg.Debounce <= 0 {
		db.stable, db.baselined, db.hasPending = reading, true, false
		return reading, true
	}

	if !db.baselined {
		if !db.hasPending || db.pending != reading {
			// Start observing, or restart after a change during baseline.
			db.pending, db.hasPending, db.pendingSince = reading, true, now
			return 0, false
		}
		if now.Sub(db.pendingSince) >= s.cfg.Debounce {
			db.stable, db.baselined, db.hasPending = reading, true, false
			return db.stable, true
		}
		return 0, false
	}

	if reading == db.stable {
		db.hasPending = false
		return db.stable, true
	}
	if !db.hasPending || db.pending != reading {
		db.pending, db.hasPending, db.pendingSince = reading, true, now
		return db.stable, true
	}
	if now.Sub(db.pendingSince) >= s.cfg.Debounce {
		db.stable, db.hasPending = reading, false
	}
	return db.stable, true
}
