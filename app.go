package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/roverbrain/brain"
	"github.com/kwv/roverbrain/internal/log"
)

const (
	defaultConfigFile = "config.yaml"
	// Pose is published every Nth control tick.
	posePublishEvery = 5
	shutdownTimeout  = 5 * time.Second
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *brain.Config
	Core       *brain.Core
	Metrics    *brain.Metrics
	MQTTClient *brain.MQTTClient
	Publisher  *brain.Publisher
	Watchdog   *brain.Watchdog
	Chassis    *brain.Chassis
	Out        io.Writer

	// CLI Flags (effectively dependencies)
	ConfigFile        string
	ReplayFile        string
	OutputFile        string
	RenderFormat      string
	VectorFormat      string
	GeoJSONFile       string
	LogLevel          string
	DefaultConfigPath string
	GridSpacing       float64
	HttpPort          int
	RenderOnly        bool
	MqttMode          bool
	HttpMode          bool

	tripped   bool
	persistMu sync.Mutex
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Metrics: brain.NewMetrics(),
		Out:     os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ReplayFile = opts.ReplayFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.GeoJSONFile = opts.GeoJSONFile
	a.LogLevel = opts.LogLevel
	a.DefaultConfigPath = opts.WriteDefaultConfig
	a.GridSpacing = opts.GridSpacing
	a.HttpPort = opts.HttpPort
	a.RenderOnly = opts.RenderOnly
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the configuration file. A missing default config.yaml
// falls back to built-in defaults; an explicitly named file must exist.
func (a *App) loadConfig() error {
	path := a.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}

	cfg, err := brain.LoadConfig(path)
	if err != nil {
		if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) || path != defaultConfigFile {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = brain.DefaultConfig()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("default config: %w", err)
		}
	}

	level := cfg.Log.Level
	if a.LogLevel != "" {
		level = a.LogLevel
	}
	log.Init(level)
	if err != nil {
		log.Info("no config file, using defaults", "path", path)
	} else {
		log.Info("loaded config", "path", path)
	}

	a.Config = cfg
	return nil
}

// buildCore creates the core and optionally seeds it from the landmark cache.
func (a *App) buildCore(restore bool) {
	a.Core = brain.NewCore(*a.Config, a.Metrics)
	path := a.Config.Persistence.LandmarkCache
	if !restore || path == "" {
		return
	}
	cache, err := brain.LoadLandmarks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("no landmark cache yet", "path", path)
		} else {
			log.Warn("failed to load landmark cache", "path", path, "error", err)
		}
		return
	}
	a.Core.Restore(cache.Landmarks)
}

// WriteDefaultConfig writes a fully defaulted configuration file.
func (a *App) WriteDefaultConfig() error {
	if err := brain.SaveConfig(a.DefaultConfigPath, brain.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote default configuration to %s\n", a.DefaultConfigPath)
	return nil
}

// RunReplay feeds a recorded log through a fresh core and prints the result.
func (a *App) RunReplay() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.buildCore(false)

	f, err := os.Open(a.ReplayFile)
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := brain.Replay(ctx, f, a.Core)
	if err != nil {
		return fmt.Errorf("replay %s: %w", a.ReplayFile, err)
	}
	if err := sum.WriteSummary(a.Out); err != nil {
		return err
	}
	return a.writeOutputs(sum.Final)
}

// RunRender draws the cached landmark map.
func (a *App) RunRender() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.buildCore(true)
	return a.writeOutputs(a.Core.Snapshot())
}

// writeOutputs writes the rendered map and GeoJSON export requested on the
// command line.
func (a *App) writeOutputs(s brain.State) error {
	if a.RenderOnly {
		switch a.RenderFormat {
		case "", "raster":
			if err := a.renderRaster(a.OutputFile, s); err != nil {
				return err
			}
		case "vector":
			if err := a.renderVector(a.vectorOutputPath(), s); err != nil {
				return err
			}
		case "both":
			if err := a.renderRaster(a.OutputFile, s); err != nil {
				return err
			}
			if err := a.renderVector(a.vectorOutputPath(), s); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown render format %q", a.RenderFormat)
		}
	}

	if a.GeoJSONFile != "" {
		data, err := json.MarshalIndent(brain.LandmarksToGeoJSON(s, a.Core.Bounds()), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal geojson: %w", err)
		}
		if err := os.WriteFile(a.GeoJSONFile, data, 0644); err != nil {
			return fmt.Errorf("write geojson: %w", err)
		}
		fmt.Fprintf(a.Out, "Wrote GeoJSON to %s\n", a.GeoJSONFile)
	}
	return nil
}

func (a *App) vectorOutputPath() string {
	format := a.VectorFormat
	if format == "" {
		format = "svg"
	}
	base := strings.TrimSuffix(a.OutputFile, filepath.Ext(a.OutputFile))
	if a.RenderFormat == "both" {
		return base + "-vector." + format
	}
	return base + "." + format
}

func (a *App) renderRaster(path string, s brain.State) error {
	r := brain.NewMapRenderer(a.Core.Bounds())
	r.GridSpacing = a.GridSpacing

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := brain.EncodePNG(f, r.Render(s)); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote map to %s\n", path)
	return nil
}

func (a *App) renderVector(path string, s brain.State) error {
	r := brain.NewVectorRenderer(a.Core.Bounds())
	r.GridSpacing = a.GridSpacing

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	switch a.VectorFormat {
	case "", "svg":
		err = r.RenderToSVG(f, s)
	case "png":
		err = r.RenderToPNG(f, s)
	default:
		return fmt.Errorf("unknown vector format %q", a.VectorFormat)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote vector map to %s\n", path)
	return nil
}

// RunService runs the control loop, MQTT transport and HTTP server until
// interrupted.
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

func (a *App) serve(ctx context.Context) error {
	fmt.Fprintln(a.Out, "Starting roverbrain service...")

	if err := a.loadConfig(); err != nil {
		return err
	}
	a.buildCore(true)
	a.Watchdog = brain.NewWatchdog(time.Duration(a.Config.Pose.CommandTimeout * float64(time.Second)))

	if port := a.Config.Chassis.Port; port != "" {
		chassis, err := brain.OpenChassis(a.Config.Chassis)
		if err != nil {
			return fmt.Errorf("open chassis: %w", err)
		}
		a.Chassis = chassis
		defer func() {
			if err := chassis.Close(); err != nil {
				log.Warn("closing chassis", "error", err)
			}
		}()
	}

	if a.MqttMode {
		client, err := brain.InitMQTT(a.Config, brain.Handlers{
			Detections: a.handleDetections,
			Control:    a.handleControl,
			Command:    a.handleCommand,
		})
		if err != nil {
			return fmt.Errorf("initialize mqtt: %w", err)
		}
		if client == nil {
			return errors.New("mqtt broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
		a.Publisher = brain.NewPublisher(client.GetClient(), client.Topics(), a.Config.MQTT.QoS)
		defer client.Disconnect()
	}

	var server *http.Server
	if a.HttpMode {
		port := a.HttpPort
		if port == 0 {
			port = a.Config.HTTP.Port
		}
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", port),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("http server starting", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", "error", err)
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.controlLoop(ctx)
	}()

	a.printServiceInfo(server)

	<-ctx.Done()
	fmt.Fprintln(a.Out, "\nShutting down service...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}
	wg.Wait()
	a.persist()
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

func (a *App) printServiceInfo(server *http.Server) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	fmt.Fprintf(a.Out, "Session: %s\n", a.Core.SessionID())
	fmt.Fprintf(a.Out, "Kinematics: %s, control rate %.0f Hz\n", a.Core.Kinematics(), a.Config.Pose.ControlRate)
	if a.Chassis != nil {
		fmt.Fprintf(a.Out, "Chassis: %s @ %d baud\n", a.Config.Chassis.Port, a.Config.Chassis.BaudRate)
	}

	if a.MQTTClient != nil {
		t := a.MQTTClient.Topics()
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Subscribed: %s, %s, %s\n", t.Detections, t.Control, t.Command)
		fmt.Fprintf(a.Out, "  Publishing: %s, %s, %s, %s\n", t.Pose, t.Landmarks, t.Decision, t.Wheels)
	}

	if server != nil {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (%s):\n", server.Addr)
		fmt.Fprintln(a.Out, "  GET  /health             - Health check")
		fmt.Fprintln(a.Out, "  GET  /state              - Pose, landmarks, decision")
		fmt.Fprintln(a.Out, "  GET  /landmarks          - Landmark list")
		fmt.Fprintln(a.Out, "  GET  /landmarks.geojson  - Landmarks and pose as GeoJSON")
		fmt.Fprintln(a.Out, "  GET  /map.png, /map.svg  - Rendered map")
		fmt.Fprintln(a.Out, "  GET  /grid.png           - Occupancy grid")
		fmt.Fprintln(a.Out, "  GET  /metrics            - Prometheus metrics")
		fmt.Fprintln(a.Out, "  POST /reset, /reset-tracks, /kinematics?mode=")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}

// controlLoop integrates the latest drive command at the control rate.
func (a *App) controlLoop(ctx context.Context) {
	period := time.Duration(float64(time.Second) / a.Config.Pose.ControlRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			a.controlStep(dt, tick%posePublishEvery == 0)
		}
	}
}

// controlStep applies one control period. It is only called from the
// control loop goroutine.
func (a *App) controlStep(dt float64, publishPose bool) {
	cmd, tripped := a.Watchdog.Current()
	if tripped && !a.tripped {
		a.Metrics.WatchdogTripped()
		log.Warn("command watchdog tripped, stopping", "timeout", a.Config.Pose.CommandTimeout)
	}
	a.tripped = tripped

	shaped := cmd.Shape(a.Config.Drive)
	a.Core.ControlTick(brain.ControlSample{Throttle: shaped.Throttle, Steering: shaped.Steering, DT: dt})

	if a.Core.Kinematics() == brain.ModeDifferential {
		wheels := brain.MixDifferential(shaped.Throttle, shaped.Steering, a.Config.Drive.MaxWheel)
		if a.Chassis != nil {
			if err := a.Chassis.SetWheels(wheels); err != nil {
				log.Warn("chassis command failed", "error", err)
			}
		}
		if a.Publisher != nil {
			logPublishError("wheels", a.Publisher.PublishWheels(wheels))
		}
	}
	if a.Publisher != nil && publishPose {
		logPublishError("pose", a.Publisher.PublishPose(a.Core.SessionID(), a.Core.Pose(), a.Core.Kinematics()))
	}
}

func (a *App) handleDetections(batch brain.DetectionBatch) {
	r := a.Core.PerceptionTick(batch)
	if a.Publisher != nil {
		logPublishError("perception", a.Publisher.PublishResult(a.Core.SessionID(), r))
	}
	if r.Fuse.Changed() {
		a.persist()
	}
}

func (a *App) handleControl(s brain.ControlSample) {
	a.Watchdog.Feed(brain.DriveCommand{Throttle: s.Throttle, Steering: s.Steering})
}

func (a *App) handleCommand(cmd brain.Command) {
	if err := a.applyCommand(cmd); err != nil {
		log.Warn("command rejected", "command", cmd.Command, "error", err)
	}
}

// applyCommand runs a command and republishes whatever it changed.
func (a *App) applyCommand(cmd brain.Command) error {
	if err := a.Core.Apply(cmd); err != nil {
		return err
	}
	if cmd.Command == brain.CommandReset {
		a.persist()
	}
	if a.Publisher != nil {
		session := a.Core.SessionID()
		logPublishError("pose", a.Publisher.PublishPose(session, a.Core.Pose(), a.Core.Kinematics()))
		if cmd.Command == brain.CommandReset {
			logPublishError("landmarks", a.Publisher.PublishLandmarks(session, a.Core.Landmarks()))
		}
	}
	return nil
}

// persist writes the landmark cache when one is configured.
func (a *App) persist() {
	if a.Config == nil || a.Core == nil || a.Config.Persistence.LandmarkCache == "" {
		return
	}
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	cache := brain.LandmarkCache{
		SessionID: a.Core.SessionID(),
		SavedAt:   time.Now().UTC(),
		Landmarks: a.Core.Landmarks(),
	}
	if err := brain.SaveLandmarks(cache, a.Config.Persistence.LandmarkCache); err != nil {
		log.Warn("failed to save landmark cache", "error", err)
	}
}

func logPublishError(what string, err error) {
	if err == nil || errors.Is(err, brain.ErrNotConnected) {
		return
	}
	log.Warn("publish failed", "what", what, "error", err)
}
