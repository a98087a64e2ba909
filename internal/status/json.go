package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/printstate"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Sensors       SensorsJSON  `json:"sensors"`
	Printer       PrinterJSON  `json:"printer"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// SensorsJSON is the JSON representation of the sensor facade.
type SensorsJSON struct {
	Enabled            bool           `json:"enabled"`
	Policy             string         `json:"m600_send_on"`
	EvLock             int32          `json:"event_lock"`
	AutoloadLock       int32          `json:"autoload_lock"`
	M600Sent           bool           `json:"m600_sent"`
	AutoloadInProgress bool           `json:"autoload_in_progress"`
	MMU                bool           `json:"mmu"`
	Tool               *uint8         `json:"tool"`
	Filament           string         `json:"filament"`
	Logical            []LogicalJSON  `json:"logical"`
	Physical           []PhysicalJSON `json:"physical"`
	Dropped            DroppedJSON    `json:"dropped_samples"`
}

// LogicalJSON is one logical sensor.
type LogicalJSON struct {
	Name     string `json:"name"`
	Physical string `json:"physical,omitempty"`
	State    string `json:"state"`
}

// PhysicalJSON is one physical sensor.
type PhysicalJSON struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Filtered *int32 `json:"filtered"`
}

// DroppedJSON counts samples for unbound tool indices.
type DroppedJSON struct {
	Extruder uint64 `json:"extruder"`
	Side     uint64 `json:"side"`
}

// PrinterJSON is the print engine and screen state.
type PrinterJSON struct {
	Engine        string                 `json:"engine"`
	Screen        string                 `json:"screen"`
	Buttons       printstate.Affordances `json:"buttons"`
	MediaInserted bool                   `json:"media_inserted"`
	Preheating    bool                   `json:"preheating"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Inserted uint64 `json:"inserted"`
	Removed  uint64 `json:"removed"`
	M600     uint64 `json:"m600"`
	Autoload uint64 `json:"autoload"`
	Gcode    uint64 `json:"gcode"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	Policy      string `json:"policy"`
	ConfigFile  string `json:"config_file,omitempty"`
}

func buildSensors(v SensorsView) SensorsJSON {
	out := SensorsJSON{
		Enabled:            v.Enabled,
		Policy:             string(v.Policy.Code()),
		EvLock:             v.EvLock,
		AutoloadLock:       v.AutoloadLock,
		M600Sent:           v.M600Sent,
		AutoloadInProgress: v.AutoloadInProgress,
		MMU:                v.HasMMU,
		Filament:           v.Filament.String(),
		Logical:            []LogicalJSON{},
		Physical:           []PhysicalJSON{},
		Dropped:            DroppedJSON{Extruder: v.DroppedExtruder, Side: v.DroppedSide},
	}
	if v.Tool != fsensor.NoTool {
		tool := v.Tool
		out.Tool = &tool
	}
	for _, r := range v.Logical {
		out.Logical = append(out.Logical, LogicalJSON{Name: r.Name, Physical: r.Physical, State: r.State.String()})
	}
	for _, p := range v.Physical {
		pj := PhysicalJSON{Name: p.Name, State: p.State.String()}
		if p.Filtered != fsensor.UndefinedValue {
			f := p.Filtered
			pj.Filtered = &f
		}
		out.Physical = append(out.Physical, pj)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		Ready:   snap.Ready(),
		Sensors: buildSensors(snap.Sensors),
		Printer: PrinterJSON{
			Engine:        snap.Printer.Engine.String(),
			Screen:        snap.Printer.Screen.String(),
			Buttons:       snap.Printer.Buttons,
			MediaInserted: snap.Printer.MediaInserted,
			Preheating:    snap.Printer.Preheating,
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Inserted: snap.Sensors.Counts.Inserted,
			Removed:  snap.Sensors.Counts.Removed,
			M600:     snap.Sensors.Counts.M600,
			Autoload: snap.Sensors.Counts.Autoload,
			Gcode:    snap.Printer.Gcodes,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			Policy:      snap.Config.Policy,
			ConfigFile:  snap.Config.ConfigFile,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
