package brain

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/kwv/roverbrain/internal/log"
)

// KinematicsMode names a drivetrain model.
type KinematicsMode string

const (
	ModeAckermann    KinematicsMode = "ackermann"
	ModeDifferential KinematicsMode = "differential"
)

// ParseKinematicsMode accepts the mode names case-insensitively.
func ParseKinematicsMode(s string) (KinematicsMode, error) {
	switch KinematicsMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAckermann:
		return ModeAckermann, nil
	case ModeDifferential:
		return ModeDifferential, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKinematics, s)
}

// KinematicModel converts a normalized drive command into body velocities.
type KinematicModel interface {
	Mode() KinematicsMode
	// Velocities returns linear speed (m/s) and turn rate (rad/s, positive is
	// counter-clockwise) for throttle and steering in [-1, 1].
	Velocities(throttle, steering float64) (v, omega float64)
}

// AckermannModel is a single steerable axle. It only turns while moving, and
// the left and right minimum turn radii differ.
type AckermannModel struct {
	cfg AckermannConfig
}

func NewAckermannModel(cfg AckermannConfig) AckermannModel {
	return AckermannModel{cfg: cfg}
}

func (AckermannModel) Mode() KinematicsMode { return ModeAckermann }

func (m AckermannModel) Velocities(throttle, steering float64) (float64, float64) {
	v := throttle * m.cfg.MaxSpeed
	if math.Abs(v) <= m.cfg.MinSpeed || steering == 0 {
		return v, 0
	}
	radius := m.cfg.RightTurnRadius
	if steering > 0 {
		radius = m.cfg.LeftTurnRadius
	}
	return v, v * steering / radius
}

// DifferentialModel is a skid-steer drivetrain; it can rotate in place.
type DifferentialModel struct {
	cfg DifferentialConfig
}

func NewDifferentialModel(cfg DifferentialConfig) DifferentialModel {
	return DifferentialModel{cfg: cfg}
}

func (DifferentialModel) Mode() KinematicsMode { return ModeDifferential }

func (m DifferentialModel) Velocities(throttle, steering float64) (float64, float64) {
	rate := m.cfg.MaxTurnRateRight
	if steering > 0 {
		rate = m.cfg.MaxTurnRateLeft
	}
	return throttle * m.cfg.MaxSpeed, steering * rate
}

// Odometry is the drift state accumulated since the last reset.
type Odometry struct {
	Distance float64 `json:"distance"` // meters travelled, unsigned
	Rotation float64 `json:"rotation"` // radians turned, unsigned
	Ticks    int     `json:"ticks"`
}

// PoseEstimator integrates drive commands into a pose by dead reckoning.
// Update is the only writer; readers get consistent copies.
type PoseEstimator struct {
	mu       sync.RWMutex
	pose     Pose
	start    Pose
	bounds   orb.Bound
	models   map[KinematicsMode]KinematicModel
	active   KinematicModel
	odometry Odometry
}

// NewPoseEstimator creates an estimator at the configured start pose.
func NewPoseEstimator(cfg PoseConfig, m MapConfig) *PoseEstimator {
	start := DefaultStartPose(m)
	if cfg.Start != nil {
		start = *cfg.Start
	}
	models := map[KinematicsMode]KinematicModel{
		ModeAckermann:    NewAckermannModel(cfg.Ackermann),
		ModeDifferential: NewDifferentialModel(cfg.Differential),
	}
	active, ok := models[cfg.Mode]
	if !ok {
		active = models[ModeAckermann]
	}
	p := &PoseEstimator{
		start:  start,
		bounds: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{m.Width, m.Height}},
		models: models,
		active: active,
	}
	p.pose = clampPose(start, p.bounds)
	return p
}

// Update advances the pose by one Euler step. Throttle and steering are
// clamped to [-1, 1]; a dt that is not a positive finite number leaves the
// pose unchanged.
func (p *PoseEstimator) Update(throttle, steering, dt float64) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return
	}
	throttle = clampUnit(throttle)
	steering = clampUnit(steering)

	p.mu.Lock()
	defer p.mu.Unlock()

	v, omega := p.active.Velocities(throttle, steering)
	next := Pose{
		X:     p.pose.X + v*math.Cos(p.pose.Theta)*dt,
		Y:     p.pose.Y + v*math.Sin(p.pose.Theta)*dt,
		Theta: p.pose.Theta + omega*dt,
	}
	p.pose = clampPose(next, p.bounds)

	p.odometry.Distance += math.Abs(v * dt)
	p.odometry.Rotation += math.Abs(omega * dt)
	p.odometry.Ticks++
}

// Pose returns a snapshot of the current pose.
func (p *PoseEstimator) Pose() Pose {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pose
}

// Odometry returns the drift state accumulated since the last reset.
func (p *PoseEstimator) Odometry() Odometry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.odometry
}

// Bounds returns the map extents the pose is clamped to.
func (p *PoseEstimator) Bounds() orb.Bound {
	return p.bounds
}

// Kinematics returns the active drivetrain mode.
func (p *PoseEstimator) Kinematics() KinematicsMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.Mode()
}

// SetKinematics switches the drivetrain model without moving the rover.
func (p *PoseEstimator) SetKinematics(mode KinematicsMode) error {
	model, ok := p.models[mode]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKinematics, mode)
	}
	p.mu.Lock()
	prev := p.active.Mode()
	p.active = model
	p.mu.Unlock()

	if prev != mode {
		log.Info("kinematics switched", "from", prev, "to", mode)
	}
	return nil
}

// Reset re-homes the rover to the start pose and clears the drift state.
func (p *PoseEstimator) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pose = clampPose(p.start, p.bounds)
	p.odometry = Odometry{}
}

func clampPose(p Pose, b orb.Bound) Pose {
	p.X = math.Min(math.Max(p.X, b.Min.X()), b.Max.X())
	p.Y = math.Min(math.Max(p.Y, b.Min.Y()), b.Max.Y())
	return p
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, -1), 1)
}
