package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/kwv/roverbrain/brain"
)

const rockLine = `{"type":"detections","imageWidth":640,"detections":[{"box":[300,200,340,240],"confidence":0.9,"label":"rock","distance":1.0}]}`

// newTestApp returns an app with a default core, a landmark cache in a temp
// dir and a connected mock MQTT client.
func newTestApp(t *testing.T) (*App, *brain.MockClient) {
	t.Helper()
	a := NewApp()
	a.Out = io.Discard
	a.Config = brain.DefaultConfig()
	a.Config.Persistence.LandmarkCache = filepath.Join(t.TempDir(), "landmarks.json")
	a.buildCore(false)
	a.Watchdog = brain.NewWatchdog(0)

	mock := brain.NewMockClient()
	mock.SetConnected(true)
	a.Publisher = brain.NewPublisher(mock, brain.NewTopics("rover"), 0)
	return a, mock
}

func rockAhead() brain.DetectionBatch {
	return brain.DetectionBatch{
		ImageWidth: 640,
		Detections: []brain.Detection{{Box: brain.Box{300, 200, 340, 240}, Confidence: 0.9, Label: "rock", Distance: 1}},
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func scrapeMetrics(t *testing.T, m *brain.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.Metrics == nil {
		t.Error("Metrics should be initialized")
	}
	if app.Out == nil {
		t.Error("Out should default to stdout")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	opts := AppOptions{
		ConfigFile:         "rover.yaml",
		ReplayFile:         "drive.jsonl",
		OutputFile:         "out.png",
		RenderFormat:       "both",
		VectorFormat:       "png",
		GeoJSONFile:        "map.geojson",
		LogLevel:           "debug",
		WriteDefaultConfig: "default.yaml",
		GridSpacing:        0.5,
		HttpPort:           9090,
		RenderOnly:         true,
		MqttMode:           true,
		HttpMode:           true,
	}

	app.ApplyOptions(opts)

	if app.ConfigFile != "rover.yaml" {
		t.Errorf("ConfigFile = %s, want rover.yaml", app.ConfigFile)
	}
	if app.ReplayFile != "drive.jsonl" {
		t.Errorf("ReplayFile = %s, want drive.jsonl", app.ReplayFile)
	}
	if app.DefaultConfigPath != "default.yaml" {
		t.Errorf("DefaultConfigPath = %s, want default.yaml", app.DefaultConfigPath)
	}
	if app.GridSpacing != 0.5 {
		t.Errorf("GridSpacing = %f, want 0.5", app.GridSpacing)
	}
	if app.HttpPort != 9090 {
		t.Errorf("HttpPort = %d, want 9090", app.HttpPort)
	}
	if !app.RenderOnly || !app.MqttMode || !app.HttpMode {
		t.Error("mode flags not applied")
	}
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	app := NewApp()
	app.ConfigFile = defaultConfigFile
	if err := app.loadConfig(); err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if app.Config.Map.Width != brain.DefaultMapWidth {
		t.Errorf("Map.Width = %f, want default", app.Config.Map.Width)
	}
}

func TestLoadConfig_ExplicitFileMustExist(t *testing.T) {
	app := NewApp()
	app.ConfigFile = filepath.Join(t.TempDir(), "rover.yaml")
	if err := app.loadConfig(); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.DefaultConfigPath = filepath.Join(t.TempDir(), "config.yaml")

	if err := app.WriteDefaultConfig(); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	cfg, err := brain.LoadConfig(app.DefaultConfigPath)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.HTTP.Port != brain.DefaultHTTPPort {
		t.Errorf("HTTP.Port = %d, want %d", cfg.HTTP.Port, brain.DefaultHTTPPort)
	}
	if !strings.Contains(out.String(), "Wrote default configuration") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunReplay_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	replay := strings.Repeat(rockLine+"\n", 3)

	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.ConfigFile = writeFile(t, dir, "config.yaml", "log:\n  level: error\n")
	app.ReplayFile = writeFile(t, dir, "drive.jsonl", replay)
	app.RenderOnly = true
	app.RenderFormat = "both"
	app.VectorFormat = "svg"
	app.GridSpacing = 1
	app.OutputFile = filepath.Join(dir, "map.png")
	app.GeoJSONFile = filepath.Join(dir, "map.geojson")

	if err := app.RunReplay(); err != nil {
		t.Fatalf("RunReplay: %v", err)
	}
	if !strings.Contains(out.String(), "records: 3") {
		t.Errorf("summary missing from output: %s", out.String())
	}

	f, err := os.Open(app.OutputFile)
	if err != nil {
		t.Fatalf("raster output: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("raster output is not a PNG: %v", err)
	}

	svg, err := os.ReadFile(filepath.Join(dir, "map-vector.svg"))
	if err != nil {
		t.Fatalf("vector output: %v", err)
	}
	if !bytes.Contains(svg, []byte("<svg")) {
		t.Error("vector output is not an SVG")
	}

	data, err := os.ReadFile(app.GeoJSONFile)
	if err != nil {
		t.Fatalf("geojson output: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("geojson output does not parse: %v", err)
	}
	// landmark, rover, arena
	if len(fc.Features) != 3 {
		t.Errorf("features = %d, want 3", len(fc.Features))
	}
}

func TestRunReplay_MissingFile(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.Out = io.Discard
	app.ConfigFile = writeFile(t, dir, "config.yaml", "")
	app.ReplayFile = filepath.Join(dir, "missing.jsonl")
	if err := app.RunReplay(); err == nil {
		t.Error("expected error for missing replay file")
	}
}

func TestRunRender_RestoresCache(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "landmarks.json")
	err := brain.SaveLandmarks(brain.LandmarkCache{
		SessionID: "old",
		Landmarks: []brain.Landmark{
			{ID: 4, X: 1, Y: 1, Radius: 0.3, Label: "rock", Observations: 10},
			{ID: 9, X: 3, Y: 4, Radius: 0.04, Label: "crater", Observations: 2},
		},
	}, cachePath)
	if err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	app := NewApp()
	app.Out = io.Discard
	app.ConfigFile = writeFile(t, dir, "config.yaml", "persistence:\n  landmarkCache: "+cachePath+"\n")
	app.GeoJSONFile = filepath.Join(dir, "out.geojson")

	if err := app.RunRender(); err != nil {
		t.Fatalf("RunRender: %v", err)
	}
	landmarks := app.Core.Landmarks()
	if len(landmarks) != 2 {
		t.Fatalf("restored %d landmarks, want 2", len(landmarks))
	}
	if !landmarks[0].Locked {
		t.Error("landmark at the observation cap should restore locked")
	}
	if _, err := os.Stat(filepath.Join(dir, "rover-map.png")); !os.IsNotExist(err) {
		t.Error("no map should be rendered without -render")
	}
}

func TestRunRender_UnknownFormat(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	app.Out = io.Discard
	app.ConfigFile = writeFile(t, dir, "config.yaml", "")
	app.RenderOnly = true
	app.RenderFormat = "ascii"
	app.OutputFile = filepath.Join(dir, "map.png")
	if err := app.RunRender(); err == nil || !strings.Contains(err.Error(), "unknown render format") {
		t.Errorf("expected unknown render format error, got %v", err)
	}
}

func TestControlStep_DrivesAndPublishes(t *testing.T) {
	app, mock := newTestApp(t)
	if err := app.Core.SetKinematics(brain.ModeDifferential); err != nil {
		t.Fatal(err)
	}

	app.handleControl(brain.ControlSample{Throttle: 1})
	app.controlStep(0.1, true)

	if got := app.Core.Pose().Y; got < 2.5349 || got > 2.5351 {
		t.Errorf("pose Y = %f, want 2.535", got)
	}

	msg, ok := mock.LastPublished("rover/wheels")
	if !ok {
		t.Fatal("expected wheel speeds in differential mode")
	}
	var wheels brain.WheelsMessage
	if err := json.Unmarshal(msg.Payload, &wheels); err != nil {
		t.Fatal(err)
	}
	if wheels.Left != 1 || wheels.Right != 1 {
		t.Errorf("wheels = %+v, want 1/1", wheels.WheelSpeeds)
	}
	if _, ok := mock.LastPublished("rover/pose"); !ok {
		t.Error("expected pose publish")
	}
}

type recordingLine struct {
	bytes.Buffer
}

func (*recordingLine) Close() error { return nil }

func TestControlStep_FeedsChassis(t *testing.T) {
	app, _ := newTestApp(t)
	line := &recordingLine{}
	app.Chassis = brain.NewChassis(line, 0.35)

	app.handleControl(brain.ControlSample{Throttle: 1})
	app.controlStep(0.1, false)
	if line.Len() != 0 {
		t.Errorf("ackermann mode must not drive the chassis, wrote %q", line.String())
	}

	if err := app.Core.SetKinematics(brain.ModeDifferential); err != nil {
		t.Fatal(err)
	}
	app.controlStep(0.1, false)
	if got := strings.TrimSpace(line.String()); got != `{"T":1,"L":0.35,"R":0.35}` {
		t.Errorf("chassis line = %s", got)
	}
}

func TestControlStep_WatchdogStopsRover(t *testing.T) {
	app, _ := newTestApp(t)
	app.Watchdog = brain.NewWatchdog(time.Millisecond)

	app.handleControl(brain.ControlSample{Throttle: 1})
	time.Sleep(5 * time.Millisecond)

	start := app.Core.Pose()
	app.controlStep(0.1, false)
	app.controlStep(0.1, false)
	if app.Core.Pose() != start {
		t.Errorf("rover moved after the watchdog tripped: %+v", app.Core.Pose())
	}

	if body := scrapeMetrics(t, app.Metrics); !strings.Contains(body, "rover_watchdog_trips_total 1") {
		t.Errorf("expected exactly one watchdog trip, metrics:\n%s", body)
	}
}

func TestHandleDetections_PersistsAndPublishes(t *testing.T) {
	app, mock := newTestApp(t)
	for i := 0; i < 3; i++ {
		app.handleDetections(rockAhead())
	}

	cache, err := brain.LoadLandmarks(app.Config.Persistence.LandmarkCache)
	if err != nil {
		t.Fatalf("landmark cache not written: %v", err)
	}
	if len(cache.Landmarks) != 1 {
		t.Errorf("cached %d landmarks, want 1", len(cache.Landmarks))
	}
	if cache.SessionID != app.Core.SessionID() {
		t.Errorf("cache session %s, want %s", cache.SessionID, app.Core.SessionID())
	}

	if _, ok := mock.LastPublished("rover/landmarks"); !ok {
		t.Error("expected landmarks publish")
	}
	if _, ok := mock.LastPublished("rover/decision"); !ok {
		t.Error("expected decision publish")
	}
}

func TestApplyCommand_Reset(t *testing.T) {
	app, mock := newTestApp(t)
	for i := 0; i < 3; i++ {
		app.handleDetections(rockAhead())
	}
	session := app.Core.SessionID()

	if err := app.applyCommand(brain.Command{Command: brain.CommandReset}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if app.Core.SessionID() == session {
		t.Error("reset should rotate the session")
	}

	msg, ok := mock.LastPublished("rover/landmarks")
	if !ok {
		t.Fatal("expected landmarks republished after reset")
	}
	var lm brain.LandmarksMessage
	if err := json.Unmarshal(msg.Payload, &lm); err != nil {
		t.Fatal(err)
	}
	if len(lm.Landmarks) != 0 || lm.SessionID != app.Core.SessionID() {
		t.Errorf("unexpected landmarks message after reset: %+v", lm)
	}

	cache, err := brain.LoadLandmarks(app.Config.Persistence.LandmarkCache)
	if err != nil {
		t.Fatal(err)
	}
	if len(cache.Landmarks) != 0 {
		t.Errorf("cache still holds %d landmarks after reset", len(cache.Landmarks))
	}
}

func TestApplyCommand_Rejected(t *testing.T) {
	app, _ := newTestApp(t)
	if err := app.applyCommand(brain.Command{Command: "warp"}); err == nil {
		t.Error("expected unknown command error")
	}
	if err := app.applyCommand(brain.Command{Command: brain.CommandKinematics, Mode: "hover"}); err == nil {
		t.Error("expected unknown kinematics error")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	app.ConfigFile = writeFile(t, dir, "config.yaml", "log:\n  level: error\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := app.serve(ctx); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !strings.Contains(out.String(), "Service stopped") {
		t.Errorf("expected clean shutdown, got: %s", out.String())
	}
}

func TestServe_MQTTWithoutBroker(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MQTT_BROKER", "")
	app := NewApp()
	app.Out = io.Discard
	app.MqttMode = true
	app.ConfigFile = writeFile(t, dir, "config.yaml", "")
	if err := app.serve(context.Background()); err == nil || !strings.Contains(err.Error(), "broker not configured") {
		t.Errorf("expected broker error, got %v", err)
	}
}
