package main

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/filament-sensor/internal/config"
	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/logging"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/preheat"
	"github.com/sweeney/filament-sensor/internal/printer"
	"github.com/sweeney/filament-sensor/internal/printstate"
	"github.com/sweeney/filament-sensor/internal/status"
)

// loop owns the cycle goroutine: every tick runs the sensor facade and the
// print screen, then publishes what changed.
type loop struct {
	cfg        config.Config
	sensors    *fsensor.Sensors
	vars       *printer.Vars
	queue      *printer.Queue
	bed        *preheat.Bed
	machine    *printstate.Machine
	controller printstate.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	heartbeat  time.Duration
	// idle paces the preheat wait.
	idle func()
	now  func() time.Time

	prev          [fsensor.LogicalCount]fsensor.State
	prevPhysical  [fsensor.LogicalCount]string
	lastHeartbeat time.Time
	preheatArmed  bool
	waiters       sync.WaitGroup
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func (l *loop) run(ctx context.Context, tick <-chan time.Time, sig <-chan os.Signal, cmds <-chan mqtt.Command, reloads <-chan config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		l.waiters.Wait()
	}()
	l.lastHeartbeat = l.now()

	for {
		select {
		case s := <-sig:
			log.Infof("received %v, shutting down", s)
			cancel()
			l.waiters.Wait()
			l.shutdown(signalName(s))
			return nil

		case cmd := <-cmds:
			if err := l.handleCommand(cmd); err != nil {
				log.Warnf("command %q rejected: %v", cmd.Name, err)
			}

		case cfg := <-reloads:
			l.applyConfig(cfg)

		case <-tick:
			l.step(ctx)
		}
	}
}

func (l *loop) shutdown(reason string) {
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    reason,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refreshTracker()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", reason)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Warnf("failed to publish shutdown event: %v", err)
	} else {
		log.Info("published shutdown event")
	}
}

func (l *loop) step(ctx context.Context) {
	t := l.now()

	l.sensors.Cycle()
	l.bed.Update()
	l.armPreheat(ctx)
	l.machine.Update()

	l.publishStateChanges(t)
	l.publishGcode(t)

	if l.heartbeat > 0 && t.Sub(l.lastHeartbeat) >= l.heartbeat {
		l.lastHeartbeat = t
		l.sendHeartbeat(t)
	}

	if l.tracker != nil {
		l.refreshTracker()
		l.tracker.NotifyIfChanged()
	}
}

// armPreheat starts one heat absorption wait per print, as soon as the bed
// is close to its target.
func (l *loop) armPreheat(ctx context.Context) {
	switch l.machine.State() {
	case printstate.Initial, printstate.Stopped, printstate.Printed:
		l.preheatArmed = false
		return
	}
	if l.preheatArmed || !l.vars.PrintState().IsPrinting() || !l.bed.CanSkip() {
		return
	}
	l.preheatArmed = true
	l.waiters.Add(1)
	go func() {
		defer l.waiters.Done()
		log.Infof("preheat: waiting %v for the bed to absorb heat", l.bed.Remaining().Truncate(time.Second))
		err := l.bed.WaitForPreheat(ctx, l.idle, func(msg string) {
			if msg != "" {
				log.Debug(msg)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warnf("preheat: %v", err)
		}
	}()
}

func (l *loop) publishStateChanges(t time.Time) {
	states := l.sensors.States()
	mapping := l.sensors.LogicalSensors()
	for lg := fsensor.Logical(0); lg < fsensor.LogicalCount; lg++ {
		physical := ""
		if sn := mapping.Get(lg); sn != nil {
			physical = sn.Name()
		}
		if states[lg] == l.prev[lg] && physical == l.prevPhysical[lg] {
			continue
		}
		event := mqtt.SensorEvent{
			Timestamp: t,
			Sensor:    lg.String(),
			Physical:  physical,
			State:     states[lg].String(),
			Previous:  l.prev[lg].String(),
		}
		log.Infof("event: %s %s -> %s (%s)", event.Sensor, event.Previous, event.State, physical)
		if err := l.publisher.Publish(event); err != nil {
			log.Warnf("publish error: %v", err)
		}
		l.prev[lg] = states[lg]
		l.prevPhysical[lg] = physical
	}
}

func (l *loop) publishGcode(t time.Time) {
	for _, cmd := range l.queue.Drain() {
		log.Infof("gcode: %s", cmd)
		if err := l.publisher.PublishGcode(mqtt.GcodeEvent{Timestamp: t, Command: cmd}); err != nil {
			log.Warnf("gcode publish error: %v", err)
		}
	}
}

func (l *loop) sendHeartbeat(t time.Time) {
	counts := l.sensors.Counts()
	log.Infof("heartbeat: inserted=%d removed=%d m600=%d autoload=%d",
		counts.Inserted, counts.Removed, counts.M600, counts.Autoload)

	event := mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT"}
	if l.tracker != nil {
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		l.refreshTracker()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		log.Warnf("heartbeat publish error: %v", err)
	}
}

func (l *loop) printerView() status.PrinterView {
	return status.PrinterView{
		Engine:        l.vars.PrintState(),
		Screen:        l.machine.State(),
		Buttons:       l.machine.Affordances(),
		MediaInserted: l.vars.MediaInserted(),
		Preheating:    l.bed.IsWaiting(),
		Gcodes:        l.queue.Total(),
	}
}

// refreshTracker updates the status tracker for HTTP and heartbeat consumers.
func (l *loop) refreshTracker() {
	l.tracker.Update(status.CollectSensors(l.sensors), l.printerView())
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

// applyConfig takes over the runtime settings of a reloaded config. Sensor
// hardware is fixed at startup.
func (l *loop) applyConfig(cfg config.Config) {
	if !l.cfg.SameHardware(cfg) {
		log.Warn("config: sensor hardware changed, restart to apply")
		cfg.Sensors, cfg.Serial, cfg.GPIO = l.cfg.Sensors, l.cfg.Serial, l.cfg.GPIO
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	l.sensors.SetSendPolicy(cfg.SendPolicy())
	l.sensors.SetAutoloadEnabled(cfg.Autoload)
	l.sensors.SetDisabledSensors(cfg.Disabled)
	l.sensors.SetEnabledGlobal(cfg.Enabled)
	l.sensors.RequestReconfigure()
	l.heartbeat = time.Duration(cfg.HeartbeatMs) * time.Millisecond

	if l.tracker != nil {
		l.tracker.SetConfig(statusConfig(cfg, l.tracker.Snapshot().Config.ConfigFile))
	}
	log.Infof("config: applied policy=%s autoload=%t enabled=%t disabled=%v",
		cfg.Policy, cfg.Autoload, cfg.Enabled, cfg.Disabled)
	l.cfg = cfg
}
