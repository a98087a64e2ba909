// Package mqtt provides MQTT publishing and command subscription with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Topic is the MQTT topic for filament sensor state changes.
const Topic = "printer/fsensor/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "printer/fsensor/system"

// TopicGcode is the MQTT topic for G-code injected by the sensor core.
const TopicGcode = "printer/fsensor/gcode"

// TopicCommands is the MQTT topic commands are received on.
const TopicCommands = "printer/fsensor/cmd"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a sensor state change to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event SensorEvent) error

	// PublishGcode sends an injected command to the broker.
	PublishGcode(event GcodeEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Subscriber delivers commands received from the broker.
type Subscriber interface {
	// Subscribe registers handler for commands. The handler runs on the
	// client's callback goroutine.
	Subscribe(handler func(Command)) error
}

// SensorEvent is a change of a logical sensor's state.
type SensorEvent struct {
	Timestamp time.Time
	Sensor    string // logical sensor, e.g. "primary_runout"
	Physical  string // physical sensor behind it, empty if unmapped
	State     string
	Previous  string
}

// GcodeEvent is a command injected into the print engine.
type GcodeEvent struct {
	Timestamp time.Time
	Command   string
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	FSensor SensorPayload `json:"fsensor"`
}

// SensorPayload contains the sensor event details.
type SensorPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Sensor    string `json:"sensor"`
	Physical  string `json:"physical,omitempty"`
	State     string `json:"state"`
	Previous  string `json:"previous"`
}

// FormatPayload creates the JSON payload for a sensor event.
func FormatPayload(event SensorEvent) ([]byte, error) {
	payload := Payload{
		FSensor: SensorPayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     "STATE_CHANGE",
			Sensor:    event.Sensor,
			Physical:  event.Physical,
			State:     event.State,
			Previous:  event.Previous,
		},
	}
	return json.Marshal(payload)
}

// GcodePayload represents the MQTT message payload for injected G-code.
type GcodePayload struct {
	Gcode GcodePayloadInner `json:"gcode"`
}

// GcodePayloadInner contains the injected command.
type GcodePayloadInner struct {
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
}

// FormatGcodePayload creates the JSON payload for an injected command.
func FormatGcodePayload(event GcodeEvent) ([]byte, error) {
	return json.Marshal(GcodePayload{
		Gcode: GcodePayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Command:   event.Command,
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is a request received on TopicCommands.
type Command struct {
	Name string   `json:"command"`
	Args []string `json:"args,omitempty"`
}

// Arg returns argument i or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// ParseCommand accepts either a JSON object {"command": "...", "args": [...]}
// or a plain text line "name arg...".
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	var cmd Command
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return Command{}, fmt.Errorf("decode command: %w", err)
		}
	} else {
		fields := strings.Fields(text)
		cmd = Command{Name: fields[0], Args: fields[1:]}
	}

	cmd.Name = strings.ToLower(strings.TrimSpace(cmd.Name))
	if cmd.Name == "" {
		return Command{}, fmt.Errorf("command name missing")
	}
	if len(cmd.Args) == 0 {
		cmd.Args = nil
	}
	return cmd, nil
}
