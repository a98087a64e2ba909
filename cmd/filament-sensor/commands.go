package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/printer"
)

// commandBuffer bounds the commands waiting for the cycle goroutine.
const commandBuffer = 32

// enqueue hands a command from the MQTT callback goroutine to the loop.
func enqueue(cmds chan<- mqtt.Command, c mqtt.Command) {
	select {
	case cmds <- c:
	default:
		log.Warnf("command %q dropped, queue full", c.Name)
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "yes":
		return true, nil
	case "off", "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func (l *loop) findSensor(name string) fsensor.Sensor {
	var found fsensor.Sensor
	l.sensors.ForAllSensors(func(s fsensor.Sensor) {
		if s.Name() == name {
			found = s
		}
	})
	return found
}

// handleCommand applies one command received on TopicCommands. It runs on
// the cycle goroutine, so effects show up on the next tick.
func (l *loop) handleCommand(c mqtt.Command) error {
	log.Infof("command: %s %s", c.Name, strings.Join(c.Args, " "))

	switch c.Name {
	case "enable":
		l.sensors.Enable()
	case "disable":
		l.sensors.Disable()
	case "reconfigure":
		l.sensors.RequestReconfigure()
	case "clear_m600":
		l.sensors.ClrM600Sent()
	case "clear_autoload":
		l.sensors.ClrAutoloadSent()

	case "calibrate":
		sn := l.findSensor(c.Arg(0))
		if sn == nil {
			return fmt.Errorf("unknown sensor %q", c.Arg(0))
		}
		adc, ok := sn.(*fsensor.ADCSensor)
		if !ok {
			return fmt.Errorf("calibrate: %s is not an adc sensor", sn.Name())
		}
		switch c.Arg(1) {
		case "has_filament", "has":
			adc.SetCalibrateRequest(fsensor.CalibrateHasFilament)
		case "no_filament", "none":
			adc.SetCalibrateRequest(fsensor.CalibrateNoFilament)
		case "invalidate":
			adc.SetInvalidateCalibrationFlag()
		default:
			return fmt.Errorf("calibrate: expected has_filament, no_filament or invalidate, got %q", c.Arg(1))
		}

	case "lock", "unlock":
		inc, dec := l.sensors.IncEvLock, l.sensors.DecEvLock
		switch c.Arg(0) {
		case "events":
		case "autoload":
			inc, dec = l.sensors.IncAutoloadLock, l.sensors.DecAutoloadLock
		default:
			return fmt.Errorf("%s: expected events or autoload, got %q", c.Name, c.Arg(0))
		}
		if c.Name == "lock" {
			inc()
		} else {
			dec()
		}

	case "policy":
		p, ok := fsensor.ParseSendPolicy(c.Arg(0))
		if !ok {
			return fmt.Errorf("policy: expected edge, level or never, got %q", c.Arg(0))
		}
		l.sensors.SetSendPolicy(p)
	case "autoload":
		on, err := parseOnOff(c.Arg(0))
		if err != nil {
			return err
		}
		l.sensors.SetAutoloadEnabled(on)

	case "print_state":
		st, ok := printer.ParseState(c.Arg(0))
		if !ok {
			return fmt.Errorf("print_state: unknown state %q", c.Arg(0))
		}
		l.vars.SetPrintState(st)
	case "tool":
		if c.Arg(0) == "none" {
			l.vars.SetActiveTool(printer.NoTool)
			break
		}
		n, err := strconv.ParseUint(c.Arg(0), 10, 8)
		if err != nil || n == uint64(printer.NoTool) {
			return fmt.Errorf("tool: bad index %q", c.Arg(0))
		}
		l.vars.SetActiveTool(uint8(n))
	case "mmu":
		on, err := parseOnOff(c.Arg(0))
		if err != nil {
			return err
		}
		l.vars.SetMMUEnabled(on)
	case "media":
		on, err := parseOnOff(c.Arg(0))
		if err != nil {
			return err
		}
		l.vars.SetMediaInserted(on)
	case "file":
		if c.Arg(0) == "" {
			return fmt.Errorf("file: path missing")
		}
		l.vars.SetFile(c.Arg(0))
	case "bed":
		temp, err1 := strconv.ParseFloat(c.Arg(0), 64)
		target, err2 := strconv.ParseFloat(c.Arg(1), 64)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("bed: expected <temp> <target>")
		}
		l.vars.SetBed(temp, target)

	case "pause":
		if !l.machine.PauseAction(l.controller) {
			return fmt.Errorf("pause: button disabled in %s", l.machine.State())
		}
	case "stop":
		confirmed := c.Arg(0) == "confirm"
		if !l.machine.StopAction(l.controller, func() bool { return confirmed }) {
			return fmt.Errorf("stop: not carried out in %s (confirm with \"stop confirm\")", l.machine.State())
		}
	case "tune":
		if !l.machine.TuneAction(l.controller) {
			return fmt.Errorf("tune: button disabled in %s", l.machine.State())
		}

	default:
		return fmt.Errorf("unknown command")
	}
	return nil
}
