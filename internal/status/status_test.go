package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/printer"
	"github.com/sweeney/filament-sensor/internal/printstate"
)

func sampleView() SensorsView {
	return SensorsView{
		Logical: []LogicalReading{
			{Name: "current_extruder", Physical: "extruder0", State: fsensor.StateHasFilament},
			{Name: "current_side", State: fsensor.StateNotInitialized},
			{Name: "primary_runout", Physical: "extruder0", State: fsensor.StateHasFilament},
		},
		Physical: []fsensor.SensorInfo{
			{Name: "extruder0", State: fsensor.StateHasFilament, Filtered: 900000},
			{Name: "mmu", State: fsensor.StateNotConnected, Filtered: fsensor.UndefinedValue},
		},
		Enabled:  true,
		Policy:   fsensor.SendOnEdge,
		Tool:     0,
		Filament: fsensor.FilamentAtFSensor,
		Counts:   fsensor.Counts{Inserted: 2, Removed: 1, M600: 1},
	}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{PollMs: 100, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 100 {
		t.Errorf("Config.PollMs: got %d, want 100", snap.Config.PollMs)
	}
	if snap.Config.HTTPPort != ":80" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":80")
	}
	if snap.Ready() {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Update(sampleView(), PrinterView{Engine: printer.StatePrinting, Screen: printstate.Printing})

	snap := tr.Snapshot()
	if snap.Sensors.Logical[0].State != fsensor.StateHasFilament {
		t.Errorf("current_extruder: got %s, want HAS_FILAMENT", snap.Sensors.Logical[0].State)
	}
	if snap.Printer.Screen != printstate.Printing {
		t.Errorf("Screen: got %s, want printing", snap.Printer.Screen)
	}
	if !snap.Ready() {
		t.Error("expected Ready=true, unmapped sensors do not count")
	}
	if snap.Sensors.Counts.Inserted != 2 {
		t.Errorf("Counts.Inserted: got %d, want 2", snap.Sensors.Counts.Inserted)
	}
}

func TestReadyRequiresConfidentMappedSensors(t *testing.T) {
	v := sampleView()
	v.Logical[0].State = fsensor.StateNotCalibrated
	snap := Snapshot{Sensors: v}
	if snap.Ready() {
		t.Error("expected Ready=false with an uncalibrated mapped sensor")
	}

	v = sampleView()
	v.Updating = true
	if (Snapshot{Sensors: v}).Ready() {
		t.Error("expected Ready=false during an enable update")
	}

	v = sampleView()
	v.Enabled = false
	if (Snapshot{Sensors: v}).Ready() {
		t.Error("expected Ready=false when disabled")
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.100", Status: "connected", SSID: "home"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected Network to be set")
	}
	if snap.Network.IP != "192.168.1.100" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.100")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(90 * time.Second)}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(sampleView(), PrinterView{})

	snap := tr.Snapshot()
	tr.Update(SensorsView{}, PrinterView{Screen: printstate.Paused})

	if len(snap.Sensors.Logical) != 3 {
		t.Error("snapshot should not change after a later update")
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		Sensors: sampleView(),
		Printer: PrinterView{
			Engine:  printer.StatePrinting,
			Screen:  printstate.Printing,
			Buttons: printstate.Project(printstate.Printing, true, printstate.Affordances{}),
			Gcodes:  3,
		},
		StartTime:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:           time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		MQTTConnected: true,
		Config:        Config{PollMs: 100, Broker: "tcp://localhost:1883", HTTPPort: ":80", Policy: "edge"},
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Event != "" {
		t.Errorf("expected empty event, got %q", s.Event)
	}
	if !s.Ready {
		t.Error("expected ready=true")
	}
	if s.UptimeSeconds != 60 {
		t.Errorf("uptime_seconds: got %d, want 60", s.UptimeSeconds)
	}
	if s.Sensors.Policy != "e" {
		t.Errorf("m600_send_on: got %q, want %q", s.Sensors.Policy, "e")
	}
	if s.Sensors.Tool == nil || *s.Sensors.Tool != 0 {
		t.Errorf("tool: got %v, want 0", s.Sensors.Tool)
	}
	if s.Sensors.Filament != "AT_FSENSOR" {
		t.Errorf("filament: got %q", s.Sensors.Filament)
	}
	if len(s.Sensors.Logical) != 3 || s.Sensors.Logical[2].Physical != "extruder0" {
		t.Errorf("unexpected logical sensors: %+v", s.Sensors.Logical)
	}
	if s.Sensors.Physical[1].Filtered != nil {
		t.Error("undefined filtered value should be null")
	}
	if s.Printer.Screen != "printing" || s.Printer.Engine != "printing" {
		t.Errorf("unexpected printer: %+v", s.Printer)
	}
	if !s.Printer.Buttons.Tune.Enabled {
		t.Error("tune should be enabled while printing")
	}
	if s.Counts.M600 != 1 || s.Counts.Gcode != 3 {
		t.Errorf("unexpected counts: %+v", s.Counts)
	}
	if s.Network != nil {
		t.Error("network should be omitted when nil")
	}
}

func TestFormatJSONNoTool(t *testing.T) {
	v := sampleView()
	v.Tool = fsensor.NoTool
	out := string(FormatJSON(Snapshot{Sensors: v}))
	if !strings.Contains(out, `"tool": null`) {
		t.Errorf("expected null tool, got:\n%s", out)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{Sensors: sampleView(), Now: time.Now(), StartTime: time.Now()}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	out := string(FormatStatusEvent(Snapshot{}, "HEARTBEAT", ""))
	if strings.Contains(out, `"reason"`) {
		t.Errorf("reason should be omitted: %s", out)
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{Network: &NetworkInfo{Type: "ethernet", IP: "10.0.0.5", Status: "up"}}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Network == nil {
		t.Fatal("expected network")
	}
	if parsed.Status.Network.IP != "10.0.0.5" {
		t.Errorf("network.ip: got %q", parsed.Status.Network.IP)
	}
}

func TestSubscribeNotify(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	ch, cancel := tr.Subscribe()

	tr.Notify()
	tr.Notify()
	select {
	case <-ch:
	default:
		t.Fatal("expected a signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	cancel()
	tr.Notify()
	select {
	case <-ch:
		t.Fatal("no signal expected after unsubscribe")
	default:
	}
}

func TestNotifyIfChanged(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	ch, cancel := tr.Subscribe()
	defer cancel()

	if !tr.Update(sampleView(), PrinterView{Gcodes: 1}) {
		t.Fatal("first update should report a change")
	}
	if !tr.NotifyIfChanged() {
		t.Fatal("expected a signal after a change")
	}
	<-ch

	if tr.Update(sampleView(), PrinterView{Gcodes: 1}) {
		t.Error("identical update should not report a change")
	}
	tr.SetMQTTConnected(false)
	tr.SetConfig(Config{})
	if tr.NotifyIfChanged() {
		t.Error("unchanged state should not signal")
	}
	select {
	case <-ch:
		t.Fatal("unexpected signal")
	default:
	}

	v := sampleView()
	v.Logical[0].State = fsensor.StateNoFilament
	if !tr.Update(v, PrinterView{Gcodes: 1}) {
		t.Error("changed reading should report a change")
	}
	tr.SetMQTTConnected(true)
	if !tr.NotifyIfChanged() {
		t.Error("expected a signal after a change")
	}
	if tr.NotifyIfChanged() {
		t.Error("change should be consumed by the first signal")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(sampleView(), PrinterView{Gcodes: uint64(i)})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
			tr.Notify()
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		ch, cancel := tr.Subscribe()
		defer cancel()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
			select {
			case <-ch:
			default:
			}
		}
	}()

	wg.Wait()
}
