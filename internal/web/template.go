package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateClass": func(s fsensor.State) string {
		switch s {
		case fsensor.StateHasFilament:
			return "on"
		case fsensor.StateNoFilament:
			return "off"
		default:
			return "unknown"
		}
	},
	"toolName": func(t uint8) string {
		if t == fsensor.NoTool {
			return "none"
		}
		return fmt.Sprintf("T%d", t)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Filament Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #c60; font-weight: bold; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.disabled { color: #aaa; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Filament Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Logical sensors</h2>
<table id="logical">
{{range .Sensors.Logical}}<tr><th>{{.Name}}</th><td id="logical-{{.Name}}" class="{{stateClass .State}}">{{.State}}{{if .Physical}} ({{.Physical}}){{end}}</td></tr>
{{end}}</table>

<h2>Physical sensors</h2>
<table>
{{range .Sensors.Physical}}<tr><th>{{.Name}}</th><td class="{{stateClass .State}}">{{.State}}</td></tr>
{{end}}</table>

<h2>Facade</h2>
<table>
<tr><th>Enabled</th><td>{{if .Sensors.Enabled}}yes{{else}}no{{end}}{{if .Sensors.Updating}} (updating){{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>M600 policy</th><td>{{.Sensors.Policy}}</td></tr>
<tr><th>Tool</th><td>{{toolName .Sensors.Tool}}</td></tr>
<tr><th>MMU</th><td>{{if .Sensors.HasMMU}}yes{{else}}no{{end}}</td></tr>
<tr><th>Filament</th><td id="filament">{{.Sensors.Filament}}</td></tr>
<tr><th>Event lock</th><td>{{.Sensors.EvLock}}</td></tr>
<tr><th>Autoload lock</th><td>{{.Sensors.AutoloadLock}}</td></tr>
<tr><th>M600 sent</th><td>{{if .Sensors.M600Sent}}yes{{else}}no{{end}}</td></tr>
<tr><th>Autoload in progress</th><td>{{if .Sensors.AutoloadInProgress}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Printer</h2>
<table>
<tr><th>Engine</th><td id="engine">{{.Printer.Engine}}</td></tr>
<tr><th>Screen</th><td id="screen">{{.Printer.Screen}}</td></tr>
<tr><th>Buttons</th><td id="buttons"><span class="{{if not .Printer.Buttons.Pause.Enabled}}disabled{{end}}">[{{.Printer.Buttons.Pause.Label}}]</span> <span class="{{if not .Printer.Buttons.Tune.Enabled}}disabled{{end}}">[{{.Printer.Buttons.Tune.Label}}]</span> <span class="{{if not .Printer.Buttons.Stop.Enabled}}disabled{{end}}">[{{.Printer.Buttons.Stop.Label}}]</span></td></tr>
<tr><th>Media</th><td>{{if .Printer.MediaInserted}}inserted{{else}}none{{end}}</td></tr>
<tr><th>Preheating</th><td>{{if .Printer.Preheating}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Inserted</th><td>{{.Sensors.Counts.Inserted}}</td></tr>
<tr><th>Removed</th><td>{{.Sensors.Counts.Removed}}</td></tr>
<tr><th>M600</th><td>{{.Sensors.Counts.M600}}</td></tr>
<tr><th>Autoload</th><td>{{.Sensors.Counts.Autoload}}</td></tr>
<tr><th>G-code</th><td>{{.Printer.Gcodes}}</td></tr>
<tr><th>Dropped samples</th><td>{{.Sensors.DroppedExtruder}} extruder, {{.Sensors.DroppedSide}} side</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
{{if .Config.ConfigFile}}<tr><th>Config</th><td>{{.Config.ConfigFile}}</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function stateClass(s) {
    return s === "HAS_FILAMENT" ? "on" : s === "NO_FILAMENT" ? "off" : "unknown";
  }

  function apply(st) {
    (st.sensors.logical || []).forEach(function(l) {
      var el = document.getElementById("logical-" + l.name);
      if (!el) return;
      el.textContent = l.state + (l.physical ? " (" + l.physical + ")" : "");
      el.className = stateClass(l.state);
    });
    document.getElementById("filament").textContent = st.sensors.filament;
    document.getElementById("engine").textContent = st.printer.engine;
    document.getElementById("screen").textContent = st.printer.screen;
  }

  function connect() {
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onmessage = function(ev) {
      try { apply(JSON.parse(ev.data).status); } catch (e) {}
    };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
