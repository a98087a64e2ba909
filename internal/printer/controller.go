package printer

import "github.com/sweeney/filament-sensor/internal/logging"

// Skipper ends a preheat wait early.
type Skipper interface {
	Skip()
}

// Controller turns print screen button actions into engine commands.
type Controller struct {
	Vars    *Vars
	Queue   *Queue
	Preheat Skipper
}

func (c *Controller) Pause()  { c.Queue.InjectGcode("M25") }
func (c *Controller) Resume() { c.Queue.InjectGcode("M24") }
func (c *Controller) Abort()  { c.Queue.InjectGcode("M524") }

// Reprint restarts the last printed file.
func (c *Controller) Reprint() {
	file := c.Vars.File()
	if file == "" {
		logging.NewLogger("printer").Warn("printer: reprint requested but no file was printed")
		return
	}
	c.Queue.InjectGcode("M23 " + file)
	c.Queue.InjectGcode("M24")
}

// Exit leaves the finished or stopped print.
func (c *Controller) Exit() { c.Vars.SetPrintState(StateIdle) }

func (c *Controller) SkipPreheat() {
	if c.Preheat != nil {
		c.Preheat.Skip()
	}
}

// OpenTune is a UI transition; the host only records it.
func (c *Controller) OpenTune() {
	logging.NewLogger("printer").Info("printer: tune menu requested")
}
