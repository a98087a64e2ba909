package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/printer"
	"github.com/sweeney/filament-sensor/internal/printstate"
	"github.com/sweeney/filament-sensor/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		PollMs:      100,
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		HTTPPort:    ":80",
		Policy:      "edge",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv, tr
}

func loadedView() status.SensorsView {
	return status.SensorsView{
		Logical: []status.LogicalReading{
			{Name: "current_extruder", Physical: "extruder0", State: fsensor.StateHasFilament},
			{Name: "autoload", Physical: "extruder0", State: fsensor.StateHasFilament},
		},
		Physical: []fsensor.SensorInfo{{Name: "extruder0", State: fsensor.StateHasFilament, Filtered: 1}},
		Enabled:  true,
		Policy:   fsensor.SendOnEdge,
		Filament: fsensor.FilamentAtFSensor,
		Counts:   fsensor.Counts{Inserted: 5, Removed: 2},
	}
}

func getStatus(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()
	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(loadedView(), status.PrinterView{Engine: printer.StateIdle, Screen: printstate.Initial})
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	sj := getStatus(t, ts.URL)
	if got := sj.Status.Sensors.Logical[0].State; got != "HAS_FILAMENT" {
		t.Errorf("current_extruder: got %q, want HAS_FILAMENT", got)
	}
	if !sj.Status.Ready {
		t.Error("expected Ready=true")
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.Status.MQTT.Broker)
	}
	if sj.Status.Counts.Inserted != 5 {
		t.Errorf("Counts.Inserted: got %d, want 5", sj.Status.Counts.Inserted)
	}
	if sj.Status.Counts.Removed != 2 {
		t.Errorf("Counts.Removed: got %d, want 2", sj.Status.Counts.Removed)
	}
	if sj.Status.Config.PollMs != 100 {
		t.Errorf("Config.PollMs: got %d, want 100", sj.Status.Config.PollMs)
	}
	if sj.Status.Printer.Screen != "initial" {
		t.Errorf("Printer.Screen: got %q, want initial", sj.Status.Printer.Screen)
	}
}

func TestJSONNotReadyBeforeFirstCycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	sj := getStatus(t, ts.URL)
	if sj.Status.Ready {
		t.Error("expected Ready=false before the first cycle")
	}
	if len(sj.Status.Sensors.Logical) != 0 {
		t.Errorf("expected no logical sensors, got %d", len(sj.Status.Sensors.Logical))
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getStatus(t, ts.URL)
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, _, tr := newTestServer(t)
	tr.Update(loadedView(), status.PrinterView{
		Screen:  printstate.Printing,
		Buttons: printstate.Project(printstate.Printing, true, printstate.Affordances{}),
	})
	tr.SetNetwork(&status.NetworkInfo{Type: "wifi", IP: "10.0.0.2", Status: "up", SSID: "shop"})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"current_extruder", "HAS_FILAMENT", "extruder0", "[Pause]", "edge", "10.0.0.2"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, _, tr := newTestServer(t)

	if getStatus(t, ts.URL).Status.Ready {
		t.Error("expected Ready=false initially")
	}

	v := loadedView()
	v.Logical[0].State = fsensor.StateNoFilament
	tr.Update(v, status.PrinterView{})
	tr.SetMQTTConnected(true)

	sj := getStatus(t, ts.URL)
	if !sj.Status.Ready {
		t.Error("expected Ready=true after update")
	}
	if got := sj.Status.Sensors.Logical[0].State; got != "NO_FILAMENT" {
		t.Errorf("current_extruder: got %q, want NO_FILAMENT", got)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) status.StatusJSON {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var sj status.StatusJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return sj
}

func TestWebsocketStreamsUpdates(t *testing.T) {
	ts, _, tr := newTestServer(t)
	conn := dialWS(t, ts)

	first := readStatus(t, conn)
	if first.Status.Ready {
		t.Error("expected Ready=false in the initial snapshot")
	}

	tr.Update(loadedView(), status.PrinterView{Screen: printstate.Paused})
	tr.Notify()

	next := readStatus(t, conn)
	if !next.Status.Ready {
		t.Error("expected Ready=true after notify")
	}
	if next.Status.Printer.Screen != "paused" {
		t.Errorf("screen: got %q, want paused", next.Status.Printer.Screen)
	}
}

func TestWebsocketClosedOnShutdown(t *testing.T) {
	ts, srv, _ := newTestServer(t)
	conn := dialWS(t, ts)
	readStatus(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

func TestWebsocketRejectsPlainRequest(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
