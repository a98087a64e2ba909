// Package printstate derives the print screen state from the print engine
// and projects it onto the pause, tune and stop buttons.
package printstate

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sweeney/filament-sensor/internal/logging"
	"github.com/sweeney/filament-sensor/internal/printer"
)

// State is the print screen state.
type State uint8

const (
	Unset State = iota
	Initial
	Printing
	AbsorbingHeat
	Pausing
	Paused
	Resuming
	Reheating
	ReheatingDone
	Aborting
	Stopped
	Printed
)

var stateNames = [...]string{
	"unset", "initial", "printing", "absorbing_heat", "pausing", "paused",
	"resuming", "reheating", "reheating_done", "aborting", "stopped", "printed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Label is the caption of a button.
type Label string

const (
	LabelPause     Label = "Pause"
	LabelPausing   Label = "Pausing"
	LabelResume    Label = "Resume"
	LabelResuming  Label = "Resuming"
	LabelReheating Label = "Reheating"
	LabelReprint   Label = "Reprint"
	LabelHome      Label = "Home"
	LabelSkip      Label = "Skip"
	LabelStop      Label = "Stop"
	LabelTune      Label = "Tune"
)

// Button is one projected affordance.
type Button struct {
	Label   Label `json:"label"`
	Enabled bool  `json:"enabled"`
}

// Affordances are the three print screen buttons.
type Affordances struct {
	Pause Button `json:"pause"`
	Tune  Button `json:"tune"`
	Stop  Button `json:"stop"`
}

// Project computes the buttons for st. Aborting keeps the previous labels
// and disables everything.
func Project(st State, mediaInserted bool, prev Affordances) Affordances {
	var a Affordances

	switch st {
	case AbsorbingHeat:
		a.Pause = Button{LabelSkip, true}
	case Pausing:
		a.Pause = Button{LabelPausing, false}
	case Paused:
		a.Pause = Button{LabelResume, mediaInserted}
	case Resuming:
		a.Pause = Button{LabelResuming, false}
	case Reheating, ReheatingDone:
		a.Pause = Button{LabelReheating, false}
	case Stopped, Printed:
		a.Pause = Button{LabelReprint, true}
	case Aborting:
		a.Pause = Button{prev.Pause.Label, false}
	default:
		a.Pause = Button{LabelPause, true}
	}

	switch st {
	case Printing, AbsorbingHeat, Paused:
		a.Tune = Button{LabelTune, true}
	default:
		a.Tune = Button{LabelTune, false}
	}

	switch st {
	case Stopped, Printed:
		a.Stop = Button{LabelHome, true}
	case Pausing, Resuming:
		a.Stop = Button{LabelStop, false}
	case Aborting:
		a.Stop = Button{prev.Stop.Label, false}
	default:
		a.Stop = Button{LabelStop, true}
	}
	return a
}

// Engine is the part of the print engine the machine reads.
type Engine interface {
	PrintState() printer.State
	MediaInserted() bool
}

// Preheat reports whether the print is held for bed heat absorption.
type Preheat interface {
	IsWaiting() bool
}

// Controller carries out button actions.
type Controller interface {
	Pause()
	Resume()
	Abort()
	Reprint()
	Exit()
	SkipPreheat()
	OpenTune()
}

// Machine tracks the print screen state. Safe for concurrent use.
type Machine struct {
	engine  Engine
	preheat Preheat
	log     *logrus.Entry

	mu          sync.Mutex
	state       State
	stopPressed bool
	affordances Affordances
}

// NewMachine creates a machine in the Unset state. preheat may be nil.
func NewMachine(engine Engine, preheat Preheat) *Machine {
	return &Machine{
		engine:      engine,
		preheat:     preheat,
		log:         logging.NewLogger("printstate"),
		affordances: Project(Unset, false, Affordances{}),
	}
}

// fromEngine maps an engine state; ok is false for states that leave the
// screen state unchanged.
func (m *Machine) fromEngine(ps printer.State) (st State, clearStop, ok bool) {
	switch ps {
	case printer.StateIdle, printer.StateWaitGUI, printer.StatePrintPreviewInit,
		printer.StatePrintPreviewImage, printer.StatePrintPreviewQuestions, printer.StatePrintInit:
		return Initial, false, true
	case printer.StatePrinting:
		if m.preheat != nil && m.preheat.IsWaiting() {
			return AbsorbingHeat, false, true
		}
		return Printing, false, true
	case printer.StatePowerPanicAwaitingResume, printer.StatePaused:
		return Paused, false, true
	case printer.StatePausingBegin, printer.StatePausingFailedCode,
		printer.StatePausingWaitIdle, printer.StatePausingParkHead:
		return Pausing, false, true
	case printer.StateResumingReheating:
		return Reheating, true, true
	case printer.StateResumingBegin, printer.StateResumingUnparkHeadXY, printer.StateResumingUnparkHeadZE,
		printer.StateCrashRecoveryBegin, printer.StateCrashRecoveryRetracting, printer.StateCrashRecoveryLifting,
		printer.StateCrashRecoveryXYMeasure, printer.StateCrashRecoveryToolPickup, printer.StateCrashRecoveryXYHome,
		printer.StateCrashRecoveryAxisNOK, printer.StateCrashRecoveryRepeatedCrash, printer.StatePowerPanicResume:
		return Resuming, true, true
	case printer.StateAbortingBegin, printer.StateAbortingWaitIdle, printer.StateAbortingParkHead:
		return Aborting, true, true
	case printer.StateFinishingWaitIdle, printer.StateFinishingParkHead:
		return Printing, false, true
	case printer.StateAborted:
		return Stopped, true, true
	case printer.StateFinished, printer.StateExit:
		return Printed, false, true
	default:
		return 0, false, false
	}
}

// Update re-reads the engine and reports whether the state or the buttons
// changed.
func (m *Machine) Update() bool {
	ps := m.engine.PrintState()
	media := m.engine.MediaInserted()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, clearStop, ok := m.fromEngine(ps)
	if !ok {
		m.log.Warnf("printstate: unexpected engine state %s", ps)
		st = m.state
	}
	if clearStop {
		m.stopPressed = false
	}
	if m.stopPressed {
		st = Aborting
	}

	next := Project(st, media, m.affordances)
	if st == m.state && next == m.affordances {
		return false
	}
	if st != m.state {
		m.log.Debugf("printstate: %s -> %s (engine %s)", m.state, st, ps)
	}
	m.state = st
	m.affordances = next
	return true
}

// State returns the current screen state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Affordances returns the current buttons.
func (m *Machine) Affordances() Affordances {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.affordances
}

// StopPressed reports whether a confirmed stop is pending.
func (m *Machine) StopPressed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopPressed
}

func (m *Machine) snapshot() (State, Affordances) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.affordances
}

// PauseAction handles the pause button. It reports whether anything was
// done.
func (m *Machine) PauseAction(c Controller) bool {
	st, a := m.snapshot()
	if !a.Pause.Enabled {
		return false
	}
	switch st {
	case Printing:
		c.Pause()
	case AbsorbingHeat:
		c.SkipPreheat()
	case Paused:
		c.Resume()
	case Stopped, Printed:
		c.Reprint()
	default:
		return false
	}
	m.Update()
	return true
}

// StopAction handles the stop button. A stop during a print is carried out
// only if confirm returns true.
func (m *Machine) StopAction(c Controller, confirm func() bool) bool {
	st, a := m.snapshot()
	if !a.Stop.Enabled {
		return false
	}
	switch st {
	case Stopped, Printed:
		c.Exit()
		return true
	case Pausing, Resuming:
		return false
	}
	if confirm != nil && !confirm() {
		return false
	}
	m.mu.Lock()
	m.stopPressed = true
	m.mu.Unlock()
	c.Abort()
	m.Update()
	return true
}

// TuneAction handles the tune button.
func (m *Machine) TuneAction(c Controller) bool {
	st, a := m.snapshot()
	if !a.Tune.Enabled {
		return false
	}
	switch st {
	case Printing, AbsorbingHeat, Paused:
		c.OpenTune()
		return true
	}
	return false
}
