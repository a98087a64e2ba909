// Command filament-sensor runs the filament sensor pipeline against GPIO and
// serial sample sources and publishes sensor state and injected G-code to
// MQTT.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/sweeney/filament-sensor/internal/config"
	"github.com/sweeney/filament-sensor/internal/fsensor"
	"github.com/sweeney/filament-sensor/internal/gpio"
	"github.com/sweeney/filament-sensor/internal/logging"
	"github.com/sweeney/filament-sensor/internal/mqtt"
	"github.com/sweeney/filament-sensor/internal/preheat"
	"github.com/sweeney/filament-sensor/internal/printer"
	"github.com/sweeney/filament-sensor/internal/printstate"
	"github.com/sweeney/filament-sensor/internal/serial"
	"github.com/sweeney/filament-sensor/internal/status"
	"github.com/sweeney/filament-sensor/internal/web"
)

var log = logging.NewLogger("main")

// options are the command line flags. Flags that were set override the
// config file.
type options struct {
	configFile string
	broker     string
	httpAddr   string
	poll       time.Duration
	heartbeat  time.Duration
	printState bool
	serialDev  string
	gpioChip   string
	policy     string
	logLevel   string
}

func bindFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVarP(&o.configFile, "config", "c", "", "Path to a YAML or TOML config file")
	fs.StringVar(&o.broker, "broker", "", "MQTT broker address")
	fs.StringVar(&o.httpAddr, "http", "", "HTTP status address")
	fs.DurationVar(&o.poll, "poll", 0, "Sensor cycle interval")
	fs.DurationVar(&o.heartbeat, "heartbeat", 0, "Heartbeat interval (0 to disable)")
	fs.BoolVar(&o.printState, "print-state", false, "Print current GPIO levels and exit")
	fs.StringVar(&o.serialDev, "serial", "", "Serial device carrying ADC samples")
	fs.StringVar(&o.gpioChip, "gpio-chip", "", "GPIO chip for switch sensors")
	fs.StringVar(&o.policy, "m600-send-on", "", "M600 policy: edge, level or never")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level")
}

// resolveConfig loads the config file, or the defaults, and applies the
// flags that were set.
func resolveConfig(fs *pflag.FlagSet, o *options) (config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		if cfg, err = config.Load(o.configFile); err != nil {
			return config.Config{}, err
		}
	}
	if fs.Changed("broker") {
		cfg.Broker = o.broker
	}
	if fs.Changed("http") {
		cfg.HTTPPort = o.httpAddr
	}
	if fs.Changed("poll") {
		cfg.PollMs = o.poll.Milliseconds()
	}
	if fs.Changed("heartbeat") {
		cfg.HeartbeatMs = o.heartbeat.Milliseconds()
	}
	if fs.Changed("serial") {
		cfg.Serial.Device = o.serialDev
	}
	if fs.Changed("gpio-chip") {
		cfg.GPIO.Chip = o.gpioChip
	}
	if fs.Changed("m600-send-on") {
		cfg.Policy = o.policy
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:           "filament-sensor",
		Short:         "Filament runout and autoload sensor daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd.Flags(), &o)
			if err != nil {
				return err
			}
			logging.Configure(cfg.Log.Level, cfg.Log.Format)
			if o.printState {
				return printLevels(cfg, os.Stdout)
			}
			return run(cfg, o.configFile)
		},
	}
	bindFlags(cmd.Flags(), &o)
	cmd.AddCommand(newSchemaCommand())
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// printLevels reads every configured GPIO line once.
func printLevels(cfg config.Config, w io.Writer) error {
	hw := cfg.Build(nil)
	if len(hw.Lines) == 0 {
		fmt.Fprintln(w, "no gpio lines configured")
		return nil
	}
	router, err := fsensor.NewRouter(hw.Extruders, hw.Sides, hw.MMU)
	if err != nil {
		return err
	}
	src, err := gpio.NewRealSource(cfg.GPIO.Chip, hw.Lines, router)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer src.Close()
	return writeLevels(w, hw, src)
}

func writeLevels(w io.Writer, hw config.Hardware, src gpio.Source) error {
	levels, err := src.Levels()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	for i, l := range hw.Lines {
		sn := hw.Extruders[l.Tool]
		if l.Side {
			sn = hw.Sides[l.Tool]
		}
		fmt.Fprintf(w, "%s (line %d): %d\n", sn.Name(), l.Offset, levels[i])
	}
	return nil
}

func statusConfig(cfg config.Config, file string) status.Config {
	return status.Config{
		PollMs:      cfg.PollMs,
		HeartbeatMs: cfg.HeartbeatMs,
		Broker:      cfg.Broker,
		HTTPPort:    cfg.HTTPPort,
		Policy:      cfg.Policy,
		ConfigFile:  file,
	}
}

func run(cfg config.Config, configFile string) error {
	var store fsensor.CalibrationStore
	if cfg.CalibrationFile != "" {
		fs, err := config.OpenFileStore(cfg.CalibrationFile)
		if err != nil {
			return err
		}
		store = fs
	}

	hw := cfg.Build(store)
	router, err := fsensor.NewRouter(hw.Extruders, hw.Sides, hw.MMU)
	if err != nil {
		return fmt.Errorf("init sensors: %w", err)
	}

	vars := printer.NewVars()
	vars.SetPrintState(cfg.InitialEngineState())
	queue := printer.NewQueue()
	sensors := fsensor.New(router, vars, queue, fsensor.Options{
		Policy:          cfg.SendPolicy(),
		AutoloadEnabled: cfg.Autoload,
		Enabled:         cfg.Enabled,
		Disabled:        cfg.Disabled,
	})
	bed := preheat.New(vars, nil)
	machine := printstate.NewMachine(vars, bed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sample producers
	if len(hw.Lines) > 0 {
		src, err := gpio.NewRealSource(cfg.GPIO.Chip, hw.Lines, router)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer src.Close()
	}
	if cfg.Serial.Device != "" {
		port, err := serial.Open(cfg.SerialPort())
		if err != nil {
			return err
		}
		defer port.Close()
		stream := serial.NewStream(router)
		stream.Follow = true
		go func() {
			if err := stream.Run(ctx, port); err != nil && ctx.Err() == nil {
				log.Errorf("serial: stream stopped: %v", err)
			}
		}()
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.Broker)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg, configFile))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Warnf("failed to publish startup event: %v", err)
	} else {
		log.Info("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTPPort != "" {
		srv := web.New(cfg.HTTPPort, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Infof("http status server listening on %s", cfg.HTTPPort)
	}

	cmds := make(chan mqtt.Command, commandBuffer)
	if err := publisher.Subscribe(func(c mqtt.Command) { enqueue(cmds, c) }); err != nil {
		log.Warnf("failed to subscribe to commands: %v", err)
	}

	reloads := make(chan config.Config, 1)
	if configFile != "" {
		go func() {
			err := config.Watch(ctx, configFile, config.DefaultDebounce, func(c config.Config) {
				select {
				case reloads <- c:
				default:
					log.Warn("config: reload dropped, previous one still pending")
				}
			})
			if err != nil {
				log.Warnf("config: watch disabled: %v", err)
			}
		}()
	}

	poll := time.Duration(cfg.PollMs) * time.Millisecond
	log.Infof("started: poll=%v broker=%s heartbeat=%dms tools=%d policy=%s",
		poll, cfg.Broker, cfg.HeartbeatMs, router.Tools(), cfg.Policy)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	l := &loop{
		cfg:        cfg,
		sensors:    sensors,
		vars:       vars,
		queue:      queue,
		bed:        bed,
		machine:    machine,
		controller: &printer.Controller{Vars: vars, Queue: queue, Preheat: bed},
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		heartbeat:  time.Duration(cfg.HeartbeatMs) * time.Millisecond,
		idle:       func() { time.Sleep(poll) },
		now:        time.Now,
	}
	return l.run(ctx, ticker.C, sigCh, cmds, reloads)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
