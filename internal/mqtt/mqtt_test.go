package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestFormatPayload(t *testing.T) {
	event := SensorEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Sensor:    "primary_runout",
		Physical:  "side0",
		State:     "NO_FILAMENT",
		Previous:  "HAS_FILAMENT",
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.FSensor.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.FSensor.Timestamp)
	}
	if parsed.FSensor.Event != "STATE_CHANGE" {
		t.Errorf("unexpected event: %s", parsed.FSensor.Event)
	}
	if parsed.FSensor.Sensor != "primary_runout" {
		t.Errorf("unexpected sensor: %s", parsed.FSensor.Sensor)
	}
	if parsed.FSensor.State != "NO_FILAMENT" {
		t.Errorf("unexpected state: %s", parsed.FSensor.State)
	}
	if parsed.FSensor.Previous != "HAS_FILAMENT" {
		t.Errorf("unexpected previous: %s", parsed.FSensor.Previous)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	event := SensorEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Sensor:    "autoload",
		State:     "NOT_INITIALIZED",
		Previous:  "NOT_INITIALIZED",
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"fsensor":{"timestamp":"2026-02-03T10:30:45Z","event":"STATE_CHANGE","sensor":"autoload","state":"NOT_INITIALIZED","previous":"NOT_INITIALIZED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatGcodePayloadExactJSON(t *testing.T) {
	payload, err := FormatGcodePayload(GcodeEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Command:   "M600",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"gcode":{"timestamp":"2026-02-03T10:30:45Z","command":"M600"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	event := SensorEvent{Timestamp: time.Now(), Sensor: "current_extruder", State: "HAS_FILAMENT"}
	if err := f.Publish(event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishGcode(GcodeEvent{Timestamp: time.Now(), Command: "M1701"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.Events))
	}
	if f.Events[0].Sensor != "current_extruder" {
		t.Errorf("unexpected sensor: %s", f.Events[0].Sensor)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
	if len(f.Gcodes) != 1 || f.Gcodes[0].Command != "M1701" {
		t.Errorf("unexpected gcodes: %+v", f.Gcodes)
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	if err := f.Publish(SensorEvent{Timestamp: time.Now()}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishGcode(GcodeEvent{Timestamp: time.Now()}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 {
		t.Errorf("expected no events recorded on error, got %d", len(f.Events))
	}
}

func TestFakePublisherClose(t *testing.T) {
	f := NewFakePublisher()

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()

	f.Publish(SensorEvent{Timestamp: time.Now()})
	f.Close()
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Events) != 0 {
		t.Error("events should be cleared")
	}
	if len(f.Payloads) != 0 {
		t.Error("payloads should be cleared")
	}
	if f.Closed {
		t.Error("closed should be reset")
	}
	if f.PublishError != nil {
		t.Error("error should be cleared")
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{Topic, "printer/fsensor/events"},
		{TopicSystem, "printer/fsensor/system"},
		{TopicGcode, "printer/fsensor/gcode"},
		{TopicCommands, "printer/fsensor/cmd"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("unexpected topic: got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	system := parsed["system"].(map[string]interface{})
	if _, exists := system["reason"]; exists {
		t.Error("reason field should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("expected raw payload, got %s", payload)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload  string
		wantName string
		wantArgs []string
	}{
		{"enable", "enable", nil},
		{"  TOOL 1 \n", "tool", []string{"1"}},
		{"calibrate extruder0 no_filament", "calibrate", []string{"extruder0", "no_filament"}},
		{`{"command":"print_state","args":["printing"]}`, "print_state", []string{"printing"}},
		{`{"command":"Clear_M600"}`, "clear_m600", nil},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Name != tt.wantName {
				t.Errorf("name: got %q, want %q", cmd.Name, tt.wantName)
			}
			if len(cmd.Args) != len(tt.wantArgs) {
				t.Fatalf("args: got %v, want %v", cmd.Args, tt.wantArgs)
			}
			for i := range tt.wantArgs {
				if cmd.Arg(i) != tt.wantArgs[i] {
					t.Errorf("arg %d: got %q, want %q", i, cmd.Arg(i), tt.wantArgs[i])
				}
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, payload := range []string{"", "   ", `{"command":`, `{"args":["x"]}`} {
		if _, err := ParseCommand([]byte(payload)); err == nil {
			t.Errorf("expected error for %q", payload)
		}
	}
}

func TestFakePublisherDeliver(t *testing.T) {
	f := NewFakePublisher()
	var got []Command
	f.Subscribe(func(c Command) { got = append(got, c) })

	if err := f.Deliver([]byte("tool 2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Deliver(nil); err == nil {
		t.Error("expected error for empty payload")
	}
	if len(got) != 1 || got[0].Name != "tool" || got[0].Arg(0) != "2" {
		t.Errorf("unexpected commands: %+v", got)
	}
	if got[0].Arg(5) != "" {
		t.Error("missing argument should be empty")
	}
}
