// Package printer holds the print engine variables the filament sensor
// core reads every cycle, and the G-code queue it injects commands into.
package printer

import (
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// State is the print engine's print state.
type State uint8

const (
	StateIdle State = iota
	StateWaitGUI
	StatePrintPreviewInit
	StatePrintPreviewImage
	StatePrintPreviewQuestions
	StatePrintInit
	StatePrinting
	StatePausingBegin
	StatePausingFailedCode
	StatePausingWaitIdle
	StatePausingParkHead
	StatePaused
	StateResumingBegin
	StateResumingReheating
	StateResumingUnparkHeadXY
	StateResumingUnparkHeadZE
	StateCrashRecoveryBegin
	StateCrashRecoveryRetracting
	StateCrashRecoveryLifting
	StateCrashRecoveryXYMeasure
	StateCrashRecoveryToolPickup
	StateCrashRecoveryXYHome
	StateCrashRecoveryAxisNOK
	StateCrashRecoveryRepeatedCrash
	StatePowerPanicResume
	StatePowerPanicAwaitingResume
	StatePowerPanicACFault
	StateAbortingBegin
	StateAbortingWaitIdle
	StateAbortingParkHead
	StateAborted
	StateFinishingWaitIdle
	StateFinishingParkHead
	StateFinished
	StateExit

	stateCount
)

var stateNames = [stateCount]string{
	"idle", "wait_gui", "print_preview_init", "print_preview_image",
	"print_preview_questions", "print_init", "printing", "pausing_begin",
	"pausing_failed_code", "pausing_wait_idle", "pausing_park_head", "paused",
	"resuming_begin", "resuming_reheating", "resuming_unpark_head_xy",
	"resuming_unpark_head_ze", "crash_recovery_begin", "crash_recovery_retracting",
	"crash_recovery_lifting", "crash_recovery_xy_measure", "crash_recovery_tool_pickup",
	"crash_recovery_xy_home", "crash_recovery_axis_nok", "crash_recovery_repeated_crash",
	"power_panic_resume", "power_panic_awaiting_resume", "power_panic_ac_fault",
	"aborting_begin", "aborting_wait_idle", "aborting_park_head", "aborted",
	"finishing_wait_idle", "finishing_park_head", "finished", "exit",
}

func (s State) String() string {
	if s < stateCount {
		return stateNames[s]
	}
	return "unknown"
}

// ParseState parses the snake_case name of a print state.
func ParseState(name string) (State, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// IsPrinting reports whether filament is being consumed by a running job.
func (s State) IsPrinting() bool { return s == StatePrinting }

// IsIdle reports whether no job is active.
func (s State) IsIdle() bool { return s == StateIdle }

// NoTool is the active tool value when no tool is picked.
const NoTool uint8 = 0xff

// Vars are the engine variables. All accessors are safe from any goroutine.
type Vars struct {
	state atomic.Uint32
	tool  atomic.Uint32
	media atomic.Bool
	mmu   atomic.Bool

	bedTemp   atomic.Uint64
	bedTarget atomic.Uint64

	mu   sync.Mutex
	file string
}

// NewVars returns idle engine variables with tool 0 active.
func NewVars() *Vars {
	return &Vars{}
}

func (v *Vars) PrintState() State       { return State(v.state.Load()) }
func (v *Vars) SetPrintState(s State)   { v.state.Store(uint32(s)) }
func (v *Vars) ActiveTool() uint8       { return uint8(v.tool.Load()) }
func (v *Vars) SetActiveTool(t uint8)   { v.tool.Store(uint32(t)) }
func (v *Vars) MediaInserted() bool     { return v.media.Load() }
func (v *Vars) SetMediaInserted(b bool) { v.media.Store(b) }
func (v *Vars) MMUEnabled() bool        { return v.mmu.Load() }
func (v *Vars) SetMMUEnabled(b bool)    { v.mmu.Store(b) }

// BedTemp and BedTarget are in degrees Celsius; a zero target means the
// heater is off.
func (v *Vars) BedTemp() float64   { return math.Float64frombits(v.bedTemp.Load()) }
func (v *Vars) BedTarget() float64 { return math.Float64frombits(v.bedTarget.Load()) }

// SetBed records the measured and target bed temperatures.
func (v *Vars) SetBed(temp, target float64) {
	v.bedTemp.Store(math.Float64bits(temp))
	v.bedTarget.Store(math.Float64bits(target))
}

// File returns the path of the last started print.
func (v *Vars) File() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.file
}

// SetFile records the path of the current print.
func (v *Vars) SetFile(path string) {
	v.mu.Lock()
	v.file = path
	v.mu.Unlock()
}

// Queue collects injected G-code until the main loop drains it.
type Queue struct {
	mu      sync.Mutex
	pending []string
	total   atomic.Uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// InjectGcode appends a command. Safe from any goroutine.
func (q *Queue) InjectGcode(cmd string) {
	q.mu.Lock()
	q.pending = append(q.pending, cmd)
	q.mu.Unlock()
	q.total.Add(1)
}

// Drain returns and clears the pending commands in injection order.
func (q *Queue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Total returns the number of commands injected since start.
func (q *Queue) Total() uint64 { return q.total.Load() }
