package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kwv/roverbrain/brain"
)

// TestMQTTServiceConfigLoading tests configuration loading for MQTT service
func TestMQTTServiceConfigLoading(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		shouldError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configYAML: `mqtt:
  broker: "tcp://localhost:1883"
  topicPrefix: "mars/r1"
  clientId: "test-client"
  qos: 1
`,
		},
		{
			name: "defaults only",
			configYAML: `mqtt:
  broker: "tcp://localhost:1883"
`,
		},
		{
			name: "qos out of range",
			configYAML: `mqtt:
  broker: "tcp://localhost:1883"
  qos: 5
`,
			shouldError: true,
			errorMsg:    "qos",
		},
		{
			name: "unknown kinematics",
			configYAML: `pose:
  mode: hovercraft
`,
			shouldError: true,
			errorMsg:    "pose.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}

			config, err := brain.LoadConfig(configPath)

			if tt.shouldError {
				if err == nil {
					t.Fatalf("Expected error containing '%s', got nil", tt.errorMsg)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q should mention %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if config.MQTT.TopicPrefix == "" {
				t.Error("topic prefix should default")
			}
		})
	}
}

// mqttApp wires an app to a connected mock client the way serve does.
func mqttApp(t *testing.T) (*App, *brain.MockClient) {
	t.Helper()
	app, _ := newTestApp(t)

	mock := brain.NewMockClient()
	if err := mock.Connect().Error(); err != nil {
		t.Fatal(err)
	}
	client := brain.NewMQTTClientWithMock(mock, app.Config, brain.Handlers{
		Detections: app.handleDetections,
		Control:    app.handleControl,
		Command:    app.handleCommand,
	})
	client.OnConnect()
	app.MQTTClient = client
	app.Publisher = brain.NewPublisher(mock, client.Topics(), app.Config.MQTT.QoS)
	return app, mock
}

func TestMQTTService_DetectionsFlow(t *testing.T) {
	app, mock := mqttApp(t)
	payload := `{"imageWidth":640,"detections":[{"box":[300,200,340,240],"confidence":0.9,"label":"rock","distance":0.5}]}`

	for i := 0; i < 3; i++ {
		mock.SimulateMessage("rover/detections", []byte(payload))
	}

	if n := len(app.Core.Landmarks()); n != 1 {
		t.Fatalf("landmarks = %d, want 1", n)
	}

	msg, ok := mock.LastPublished("rover/decision")
	if !ok {
		t.Fatal("expected a decision message")
	}
	if msg.Retain {
		t.Error("decisions must not be retained")
	}
	var d brain.DecisionMessage
	if err := json.Unmarshal(msg.Payload, &d); err != nil {
		t.Fatal(err)
	}
	if d.Decision != brain.TurnLeft {
		t.Errorf("decision = %s, want turn_left for a rock 0.5 m ahead", d.Decision)
	}
	if d.Summary == "" {
		t.Error("decision should carry a summary for the explainer")
	}

	lm, ok := mock.LastPublished("rover/landmarks")
	if !ok || !lm.Retain {
		t.Error("landmarks should be published retained")
	}
}

func TestMQTTService_MalformedPayloadDropped(t *testing.T) {
	app, mock := mqttApp(t)
	before := len(mock.GetPublishedMessages())

	mock.SimulateMessage("rover/detections", []byte(`{"detections":[{"box":[0,0,1,1]}]}`))
	mock.SimulateMessage("rover/detections", []byte(`not json`))
	mock.SimulateMessage("rover/control", []byte(``))

	if after := len(mock.GetPublishedMessages()); after != before {
		t.Errorf("malformed payloads produced %d publishes", after-before)
	}
	if len(app.Core.Landmarks()) != 0 {
		t.Error("malformed payloads must not reach the core")
	}
}

func TestMQTTService_ControlFeedsWatchdog(t *testing.T) {
	app, mock := mqttApp(t)
	mock.SimulateMessage("rover/control", []byte(`{"throttle":1,"steering":0}`))

	app.controlStep(0.1, true)
	if got := app.Core.Pose().Y; got < 2.5499 || got > 2.5501 {
		t.Errorf("pose Y = %f, want 2.55", got)
	}

	msg, ok := mock.LastPublished("rover/pose")
	if !ok {
		t.Fatal("expected pose publish")
	}
	var p brain.PoseMessage
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.SessionID != app.Core.SessionID() || p.Kinematics != brain.ModeAckermann {
		t.Errorf("unexpected pose message: %+v", p)
	}
	if _, ok := mock.LastPublished("rover/wheels"); ok {
		t.Error("wheel speeds are only published in differential mode")
	}
}

func TestMQTTService_Commands(t *testing.T) {
	app, mock := mqttApp(t)
	for i := 0; i < 3; i++ {
		app.handleDetections(rockAhead())
	}

	mock.SimulateMessage("rover/command", []byte(`{"command":"kinematics","mode":"differential"}`))
	if app.Core.Kinematics() != brain.ModeDifferential {
		t.Error("kinematics command not applied")
	}

	mock.SimulateMessage("rover/command", []byte(`"reset_tracks"`))
	if len(app.Core.Landmarks()) != 1 {
		t.Error("reset_tracks must keep landmarks")
	}

	mock.SimulateMessage("rover/command", []byte(`{"command":"reset"}`))
	if len(app.Core.Landmarks()) != 0 {
		t.Error("reset should clear landmarks")
	}

	// Unknown commands are logged and ignored.
	mock.SimulateMessage("rover/command", []byte(`{"command":"self_destruct"}`))
	if app.Core.Kinematics() != brain.ModeDifferential {
		t.Error("unknown command changed state")
	}
}
