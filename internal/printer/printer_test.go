package printer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type skipper struct{ skipped int }

func (s *skipper) Skip() { s.skipped++ }

func TestParseState(t *testing.T) {
	for s := StateIdle; s < stateCount; s++ {
		got, ok := ParseState(s.String())
		require.True(t, ok, s.String())
		assert.Equal(t, s, got)
	}

	got, ok := ParseState("  Power_Panic_AC_Fault ")
	assert.True(t, ok)
	assert.Equal(t, StatePowerPanicACFault, got)

	_, ok = ParseState("flying")
	assert.False(t, ok)
	assert.Equal(t, "unknown", State(200).String())
}

func TestVarsDefaults(t *testing.T) {
	v := NewVars()
	assert.Equal(t, StateIdle, v.PrintState())
	assert.True(t, v.PrintState().IsIdle())
	assert.Equal(t, uint8(0), v.ActiveTool())
	assert.False(t, v.MediaInserted())
	assert.Zero(t, v.BedTarget())
	assert.Empty(t, v.File())

	v.SetBed(59.5, 60)
	assert.Equal(t, 59.5, v.BedTemp())
	assert.Equal(t, 60.0, v.BedTarget())
}

func TestQueueDrainsInOrder(t *testing.T) {
	q := NewQueue()
	q.InjectGcode("M600")
	q.InjectGcode("M1701")
	assert.Equal(t, []string{"M600", "M1701"}, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Equal(t, uint64(2), q.Total())
}

func TestQueueConcurrentInject(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.InjectGcode(fmt.Sprintf("G4 P%d", i))
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, q.Drain(), 800)
	assert.Equal(t, uint64(800), q.Total())
}

func TestController(t *testing.T) {
	vars := NewVars()
	queue := NewQueue()
	sk := &skipper{}
	c := &Controller{Vars: vars, Queue: queue, Preheat: sk}

	c.Pause()
	c.Resume()
	c.Abort()
	assert.Equal(t, []string{"M25", "M24", "M524"}, queue.Drain())

	c.Reprint()
	assert.Empty(t, queue.Drain(), "nothing printed yet")
	vars.SetFile("/usb/benchy.gcode")
	c.Reprint()
	assert.Equal(t, []string{"M23 /usb/benchy.gcode", "M24"}, queue.Drain())

	vars.SetPrintState(StateFinished)
	c.Exit()
	assert.Equal(t, StateIdle, vars.PrintState())

	c.SkipPreheat()
	assert.Equal(t, 1, sk.skipped)
	(&Controller{Vars: vars, Queue: queue}).SkipPreheat()

	c.OpenTune()
	assert.Empty(t, queue.Drain())
}
