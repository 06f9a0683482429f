package brain

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/kwv/roverbrain/internal/log"
)

// PerceptionResult is everything one perception tick produced.
type PerceptionResult struct {
	Pose      Pose             `json:"pose"`
	Tracks    []ConfirmedTrack `json:"tracks"`
	Landmarks []Landmark       `json:"landmarks"`
	Decision  Action           `json:"decision"`
	Sectors   SectorReport     `json:"sectors"`
	Summary   string           `json:"summary"`
	Fuse      FuseStats        `json:"-"`
}

// State is a consistent snapshot of the whole world model.
type State struct {
	SessionID  string           `json:"sessionId"`
	Pose       Pose             `json:"pose"`
	Kinematics KinematicsMode   `json:"kinematics"`
	Odometry   Odometry         `json:"odometry"`
	Tracks     []ConfirmedTrack `json:"tracks"`
	Landmarks  []Landmark       `json:"landmarks"`
	Decision   Action           `json:"decision"`
	Sectors    SectorReport     `json:"sectors"`
	Summary    string           `json:"summary"`
}

// Core owns the pose estimator, tracker, landmark map and decision rule.
// ControlTick and PerceptionTick may run concurrently from different
// goroutines; the pose is the only state they share.
type Core struct {
	cfg     Config
	pose    *PoseEstimator
	metrics *Metrics

	mu        sync.Mutex // serializes perception and everything below
	tracker   *Tracker
	landmarks *LandmarkMap
	session   uuid.UUID
	tracks    []ConfirmedTrack
	decision  Action
	sectors   SectorReport
}

// NewCore builds a core from a defaulted configuration. metrics may be nil.
func NewCore(cfg Config, metrics *Metrics) *Core {
	c := &Core{
		cfg:       cfg,
		pose:      NewPoseEstimator(cfg.Pose, cfg.Map),
		metrics:   metrics,
		tracker:   NewTracker(cfg.Tracker),
		landmarks: NewLandmarkMap(cfg.Map, cfg.Camera),
		session:   uuid.New(),
		decision:  GoStraight,
	}
	metrics.setPose(c.pose.Pose())
	return c
}

// Config returns the configuration the core was built with.
func (c *Core) Config() Config {
	return c.cfg
}

// ControlTick advances the pose by one drive sample.
func (c *Core) ControlTick(s ControlSample) {
	c.pose.Update(s.Throttle, s.Steering, s.DT)
	c.metrics.observeControl(c.pose.Pose())
}

// PerceptionTick runs tracker, map fusion and the decision rule on one batch.
func (c *Core) PerceptionTick(batch DetectionBatch) PerceptionResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	width := batch.ImageWidth
	if width <= 0 {
		width = c.cfg.Camera.ImageWidth
	}

	tracks := c.tracker.Update(batch.Detections)
	pose := c.pose.Pose()
	fs := c.landmarks.Fuse(SightingsFromTracks(tracks), width, pose)
	landmarks := c.landmarks.Landmarks()
	sectors := Analyze(c.cfg.Decision, pose, landmarks)
	action := Choose(sectors)

	if action != c.decision {
		log.Debug("decision changed", "from", c.decision, "to", action)
	}
	c.tracks = tracks
	c.decision = action
	c.sectors = sectors

	c.metrics.observePerception(len(batch.Detections), c.tracker.Stats(), fs, action)
	c.metrics.setLandmarks(landmarks)

	return PerceptionResult{
		Pose:      pose,
		Tracks:    tracks,
		Landmarks: landmarks,
		Decision:  action,
		Sectors:   sectors,
		Summary:   Explain(action, pose, sectors),
		Fuse:      fs,
	}
}

// Decide re-evaluates the decision rule against the current pose without
// touching the tracker or the map.
func (c *Core) Decide() (Action, SectorReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sectors := Analyze(c.cfg.Decision, c.pose.Pose(), c.landmarks.Landmarks())
	c.sectors = sectors
	c.decision = Choose(sectors)
	return c.decision, sectors
}

// ResetMap clears the landmarks and tracks, re-homes the pose and starts a
// new session.
func (c *Core) ResetMap() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.landmarks.Reset()
	c.tracker.Reset()
	c.pose.Reset()
	c.tracks = nil
	c.decision = GoStraight
	c.sectors = SectorReport{}
	c.session = uuid.New()

	c.metrics.setLandmarks(nil)
	c.metrics.setPose(c.pose.Pose())
	log.Info("map reset", "session", c.session.String())
}

// ResetTracks clears the tracker only. Landmarks stay, but their track
// associations are dropped since ids restart.
func (c *Core) ResetTracks() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tracker.Reset()
	c.landmarks.ForgetTracks()
	c.tracks = nil
	log.Info("tracks reset")
}

// Apply executes a mission control command.
func (c *Core) Apply(cmd Command) error {
	switch cmd.Command {
	case CommandReset:
		c.ResetMap()
	case CommandResetTracks:
		c.ResetTracks()
	case CommandKinematics:
		return c.SetKinematics(cmd.Mode)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	return nil
}

// SetKinematics switches the drivetrain model without moving the rover.
func (c *Core) SetKinematics(mode KinematicsMode) error {
	return c.pose.SetKinematics(mode)
}

// Kinematics returns the active drivetrain model.
func (c *Core) Kinematics() KinematicsMode {
	return c.pose.Kinematics()
}

// Bounds returns the map extents.
func (c *Core) Bounds() orb.Bound {
	return c.pose.Bounds()
}

// Pose returns a snapshot of the current pose.
func (c *Core) Pose() Pose {
	return c.pose.Pose()
}

// SessionID identifies the current mapping session.
func (c *Core) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.String()
}

// Landmarks returns a snapshot of the landmark list.
func (c *Core) Landmarks() []Landmark {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.landmarks.Landmarks()
}

// Snapshot returns a consistent copy of the world model.
func (c *Core) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	pose := c.pose.Pose()
	return State{
		SessionID:  c.session.String(),
		Pose:       pose,
		Kinematics: c.pose.Kinematics(),
		Odometry:   c.pose.Odometry(),
		Tracks:     append([]ConfirmedTrack(nil), c.tracks...),
		Landmarks:  c.landmarks.Landmarks(),
		Decision:   c.decision,
		Sectors:    c.sectors,
		Summary:    Explain(c.decision, pose, c.sectors),
	}
}

// Restore seeds the map with persisted landmarks.
func (c *Core) Restore(landmarks []Landmark) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.landmarks.Restore(landmarks)
	c.metrics.setLandmarks(c.landmarks.Landmarks())
	log.Info("landmarks restored", "count", len(landmarks))
}
