package brain

import "math"

// Config represents the full configuration file
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	Tracker     TrackerConfig     `yaml:"tracker" json:"tracker"`
	Map         MapConfig         `yaml:"map" json:"map"`
	Pose        PoseConfig        `yaml:"pose" json:"pose"`
	Decision    DecisionConfig    `yaml:"decision" json:"decision"`
	Camera      CameraConfig      `yaml:"camera" json:"camera"`
	Drive       DriveConfig       `yaml:"drive" json:"drive"`
	Chassis     ChassisConfig     `yaml:"chassis" json:"chassis"`
	HTTP        HTTPConfig        `yaml:"http" json:"http"`
	Log         LogConfig         `yaml:"log" json:"log"`
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID    string `yaml:"clientId" json:"clientId"`
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"-"`
	TopicPrefix string `yaml:"topicPrefix" json:"topicPrefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
}

// TrackerConfig tunes the IoU multi-object tracker.
type TrackerConfig struct {
	IoUThreshold     float64 `yaml:"iouThreshold" json:"iouThreshold"`
	MinHitsToConfirm int     `yaml:"minHitsToConfirm" json:"minHitsToConfirm"`
	MaxMissesToLose  int     `yaml:"maxMissesToLose" json:"maxMissesToLose"`
	DistanceHistory  int     `yaml:"distanceHistory" json:"distanceHistory"`
}

// MapConfig describes the arena and the landmark fusion constants.
type MapConfig struct {
	Width           float64 `yaml:"width" json:"width"`   // meters
	Height          float64 `yaml:"height" json:"height"` // meters
	MergeRadius     float64 `yaml:"mergeRadius" json:"mergeRadius"`
	MaxObservations int     `yaml:"maxObservations" json:"maxObservations"`
	BlendWeight     float64 `yaml:"blendWeight" json:"blendWeight"` // weight of the new observation
	DefaultRadius   float64 `yaml:"defaultRadius" json:"defaultRadius"`
	GridResolution  float64 `yaml:"gridResolution" json:"gridResolution"`
}

// PoseConfig selects the drivetrain model and its constants.
type PoseConfig struct {
	Mode           KinematicsMode     `yaml:"mode" json:"mode"`
	Start          *Pose              `yaml:"start,omitempty" json:"start,omitempty"`
	Ackermann      AckermannConfig    `yaml:"ackermann" json:"ackermann"`
	Differential   DifferentialConfig `yaml:"differential" json:"differential"`
	ControlRate    float64            `yaml:"controlRate" json:"controlRate"`       // Hz
	CommandTimeout float64            `yaml:"commandTimeout" json:"commandTimeout"` // seconds
}

// AckermannConfig holds the single-steerable-axle constants. The turn radii are
// calibrated separately because the steering linkage is not symmetric.
type AckermannConfig struct {
	MaxSpeed        float64 `yaml:"maxSpeed" json:"maxSpeed"`
	LeftTurnRadius  float64 `yaml:"leftTurnRadius" json:"leftTurnRadius"`
	RightTurnRadius float64 `yaml:"rightTurnRadius" json:"rightTurnRadius"`
	MinSpeed        float64 `yaml:"minSpeed" json:"minSpeed"`
}

// DifferentialConfig holds the skid-steer constants.
type DifferentialConfig struct {
	MaxSpeed         float64 `yaml:"maxSpeed" json:"maxSpeed"`
	MaxTurnRateLeft  float64 `yaml:"maxTurnRateLeft" json:"maxTurnRateLeft"`
	MaxTurnRateRight float64 `yaml:"maxTurnRateRight" json:"maxTurnRateRight"`
}

// DecisionConfig tunes the sector rule.
type DecisionConfig struct {
	SafeMargin     float64 `yaml:"safeMargin" json:"safeMargin"`
	FrontHalfAngle float64 `yaml:"frontHalfAngle" json:"frontHalfAngle"`
}

// CameraConfig holds the fixed field-of-view assumption used for projection.
type CameraConfig struct {
	ImageWidth float64 `yaml:"imageWidth" json:"imageWidth"`
	HalfFOV    float64 `yaml:"halfFov" json:"halfFov"` // radians
}

// DriveConfig shapes raw stick input before it reaches the pose estimator.
type DriveConfig struct {
	Deadzone      float64 `yaml:"deadzone" json:"deadzone"`
	ThrottleScale float64 `yaml:"throttleScale" json:"throttleScale"`
	SteeringScale float64 `yaml:"steeringScale" json:"steeringScale"`
	MaxWheel      float64 `yaml:"maxWheel" json:"maxWheel"`
}

// ChassisConfig points at the serial line of the wheel sub-controller. An
// empty port disables it.
type ChassisConfig struct {
	Port       string  `yaml:"port,omitempty" json:"port,omitempty"`
	BaudRate   int     `yaml:"baudRate" json:"baudRate"`
	DataBits   int     `yaml:"dataBits" json:"dataBits"`
	StopBits   int     `yaml:"stopBits" json:"stopBits"`
	Parity     string  `yaml:"parity" json:"parity"`
	SpeedScale float64 `yaml:"speedScale" json:"speedScale"` // m/s at full wheel command
}

// HTTPConfig holds the HTTP listener settings
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// LogConfig selects the log level
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// PersistenceConfig points at the landmark cache. Empty disables persistence.
type PersistenceConfig struct {
	LandmarkCache string `yaml:"landmarkCache,omitempty" json:"landmarkCache,omitempty"`
}

// Defaults
const (
	DefaultIoUThreshold     = 0.3
	DefaultMinHitsToConfirm = 3
	DefaultMaxMissesToLose  = 5
	DefaultDistanceHistory  = 10

	DefaultMapWidth        = 5.0
	DefaultMapHeight       = 5.0
	DefaultMergeRadius     = 0.6
	DefaultMaxObservations = 10
	DefaultBlendWeight     = 0.3
	DefaultLandmarkRadius  = 0.3
	DefaultGridResolution  = 0.02

	DefaultSafeMargin     = 0.5
	DefaultFrontHalfAngle = 0.35

	DefaultImageWidth = 640
	DefaultHalfFOV    = 0.5

	DefaultControlRate    = 50
	DefaultCommandTimeout = 0.5

	DefaultChassisBaud       = 115200
	DefaultChassisSpeedScale = 0.35

	DefaultHTTPPort    = 4080
	DefaultTopicPrefix = "rover"
	DefaultClientID    = "roverbrain"
)

// DefaultConfig returns a configuration with every field set to its default.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// DefaultStartPose is the map center, facing +Y.
func DefaultStartPose(m MapConfig) Pose {
	return Pose{X: m.Width / 2, Y: m.Height / 2, Theta: math.Pi / 2}
}

// ApplyDefaults fills every zero-valued field with its default
func (c *Config) ApplyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = DefaultTopicPrefix
	}

	t := &c.Tracker
	if t.IoUThreshold == 0 {
		t.IoUThreshold = DefaultIoUThreshold
	}
	if t.MinHitsToConfirm == 0 {
		t.MinHitsToConfirm = DefaultMinHitsToConfirm
	}
	if t.MaxMissesToLose == 0 {
		t.MaxMissesToLose = DefaultMaxMissesToLose
	}
	if t.DistanceHistory == 0 {
		t.DistanceHistory = DefaultDistanceHistory
	}

	m := &c.Map
	if m.Width == 0 {
		m.Width = DefaultMapWidth
	}
	if m.Height == 0 {
		m.Height = DefaultMapHeight
	}
	if m.MergeRadius == 0 {
		m.MergeRadius = DefaultMergeRadius
	}
	if m.MaxObservations == 0 {
		m.MaxObservations = DefaultMaxObservations
	}
	if m.BlendWeight == 0 {
		m.BlendWeight = DefaultBlendWeight
	}
	if m.DefaultRadius == 0 {
		m.DefaultRadius = DefaultLandmarkRadius
	}
	if m.GridResolution == 0 {
		m.GridResolution = DefaultGridResolution
	}

	p := &c.Pose
	if p.Mode == "" {
		p.Mode = ModeAckermann
	}
	if p.Start == nil {
		start := DefaultStartPose(c.Map)
		p.Start = &start
	}
	if p.Ackermann.MaxSpeed == 0 {
		p.Ackermann.MaxSpeed = 0.5
	}
	if p.Ackermann.LeftTurnRadius == 0 {
		p.Ackermann.LeftTurnRadius = 0.45
	}
	if p.Ackermann.RightTurnRadius == 0 {
		p.Ackermann.RightTurnRadius = 0.55
	}
	if p.Ackermann.MinSpeed == 0 {
		p.Ackermann.MinSpeed = 1e-3
	}
	if p.Differential.MaxSpeed == 0 {
		p.Differential.MaxSpeed = 0.35
	}
	if p.Differential.MaxTurnRateLeft == 0 {
		p.Differential.MaxTurnRateLeft = 2.0
	}
	if p.Differential.MaxTurnRateRight == 0 {
		p.Differential.MaxTurnRateRight = 2.0
	}
	if p.ControlRate == 0 {
		p.ControlRate = DefaultControlRate
	}
	if p.CommandTimeout == 0 {
		p.CommandTimeout = DefaultCommandTimeout
	}

	if c.Decision.SafeMargin == 0 {
		c.Decision.SafeMargin = DefaultSafeMargin
	}
	if c.Decision.FrontHalfAngle == 0 {
		c.Decision.FrontHalfAngle = DefaultFrontHalfAngle
	}

	if c.Camera.ImageWidth == 0 {
		c.Camera.ImageWidth = DefaultImageWidth
	}
	if c.Camera.HalfFOV == 0 {
		c.Camera.HalfFOV = DefaultHalfFOV
	}

	if c.Drive.ThrottleScale == 0 {
		c.Drive.ThrottleScale = 1
	}
	if c.Drive.SteeringScale == 0 {
		c.Drive.SteeringScale = 1
	}
	if c.Drive.MaxWheel == 0 {
		c.Drive.MaxWheel = 1
	}

	ch := &c.Chassis
	if ch.BaudRate == 0 {
		ch.BaudRate = DefaultChassisBaud
	}
	if ch.DataBits == 0 {
		ch.DataBits = 8
	}
	if ch.StopBits == 0 {
		ch.StopBits = 1
	}
	if ch.Parity == "" {
		ch.Parity = "N"
	}
	if ch.SpeedScale == 0 {
		ch.SpeedScale = DefaultChassisSpeedScale
	}

	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// StartPose returns the configured start pose, or the map-center default.
func (c *Config) StartPose() Pose {
	if c.Pose.Start != nil {
		return *c.Pose.Start
	}
	return DefaultStartPose(c.Map)
}
