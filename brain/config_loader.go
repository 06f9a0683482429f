package brain

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Sentinel errors returned at the service edges.
var (
	ErrNotConnected      = errors.New("mqtt client not connected")
	ErrUnknownKinematics = errors.New("unknown kinematics mode")
	ErrEmptyPayload      = errors.New("empty payload")
	ErrUnknownCommand    = errors.New("unknown command")
)

// LoadConfig loads the configuration from a YAML file, fills defaults,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides deployment endpoints and secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_TOPIC_PREFIX"); v != "" {
		c.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("CHASSIS_PORT"); v != "" {
		c.Chassis.Port = v
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	t := c.Tracker
	if t.IoUThreshold <= 0 || t.IoUThreshold > 1 {
		return fmt.Errorf("tracker.iouThreshold must be in (0, 1], got %v", t.IoUThreshold)
	}
	if t.MinHitsToConfirm < 1 {
		return fmt.Errorf("tracker.minHitsToConfirm must be positive")
	}
	if t.MaxMissesToLose < 1 {
		return fmt.Errorf("tracker.maxMissesToLose must be positive")
	}
	if t.DistanceHistory < 1 {
		return fmt.Errorf("tracker.distanceHistory must be positive")
	}

	m := c.Map
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("map extents must be positive, got %vx%v", m.Width, m.Height)
	}
	if m.MergeRadius < 0 {
		return fmt.Errorf("map.mergeRadius must not be negative")
	}
	if m.MaxObservations < 1 {
		return fmt.Errorf("map.maxObservations must be positive")
	}
	if m.BlendWeight <= 0 || m.BlendWeight > 1 {
		return fmt.Errorf("map.blendWeight must be in (0, 1], got %v", m.BlendWeight)
	}
	if m.GridResolution <= 0 {
		return fmt.Errorf("map.gridResolution must be positive")
	}

	p := c.Pose
	if _, err := ParseKinematicsMode(string(p.Mode)); err != nil {
		return fmt.Errorf("pose.mode: %w", err)
	}
	start := c.StartPose()
	if start.X < 0 || start.X > m.Width || start.Y < 0 || start.Y > m.Height {
		return fmt.Errorf("pose.start (%v, %v) is outside the %vx%v map", start.X, start.Y, m.Width, m.Height)
	}
	a := p.Ackermann
	if a.MaxSpeed <= 0 || a.LeftTurnRadius <= 0 || a.RightTurnRadius <= 0 || a.MinSpeed < 0 {
		return fmt.Errorf("pose.ackermann constants must be positive")
	}
	d := p.Differential
	if d.MaxSpeed <= 0 || d.MaxTurnRateLeft <= 0 || d.MaxTurnRateRight <= 0 {
		return fmt.Errorf("pose.differential constants must be positive")
	}
	if p.ControlRate <= 0 {
		return fmt.Errorf("pose.controlRate must be positive")
	}
	if p.CommandTimeout < 0 {
		return fmt.Errorf("pose.commandTimeout must not be negative")
	}

	if c.Decision.SafeMargin < 0 {
		return fmt.Errorf("decision.safeMargin must not be negative")
	}
	if c.Decision.FrontHalfAngle <= 0 || c.Decision.FrontHalfAngle >= math.Pi {
		return fmt.Errorf("decision.frontHalfAngle must be in (0, pi)")
	}

	if c.Camera.ImageWidth <= 0 {
		return fmt.Errorf("camera.imageWidth must be positive")
	}
	if c.Camera.HalfFOV <= 0 || c.Camera.HalfFOV >= math.Pi {
		return fmt.Errorf("camera.halfFov must be in (0, pi)")
	}

	if c.Drive.Deadzone < 0 || c.Drive.Deadzone >= 1 {
		return fmt.Errorf("drive.deadzone must be in [0, 1)")
	}
	if _, err := c.Chassis.SerialMode(); err != nil {
		return fmt.Errorf("chassis: %w", err)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	return nil
}
