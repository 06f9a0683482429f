package brain

import (
	"math"
	"sync"
	"time"
)

// ShapeAxis zeroes v inside the deadzone and clamps it to [-1, 1]. Outside the
// deadzone the remaining travel is rescaled so output starts at 0.
func ShapeAxis(v, deadzone float64) float64 {
	v = clampUnit(v)
	if math.Abs(v) <= deadzone {
		return 0
	}
	if deadzone <= 0 {
		return v
	}
	return math.Copysign((math.Abs(v)-deadzone)/(1-deadzone), v)
}

// DriveCommand is a raw stick command.
type DriveCommand struct {
	Throttle float64 `json:"throttle"`
	Steering float64 `json:"steering"`
}

// Shape applies the deadzone and the throttle and steering scale factors.
func (c DriveCommand) Shape(cfg DriveConfig) DriveCommand {
	ts, ss := cfg.ThrottleScale, cfg.SteeringScale
	if ts == 0 {
		ts = 1
	}
	if ss == 0 {
		ss = 1
	}
	return DriveCommand{
		Throttle: clampUnit(ShapeAxis(c.Throttle, cfg.Deadzone) * ts),
		Steering: clampUnit(ShapeAxis(c.Steering, cfg.Deadzone) * ss),
	}
}

// WheelSpeeds is a left/right command for a skid-steer drivetrain.
type WheelSpeeds struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// MixDifferential mixes throttle and steering into wheel speeds. Positive
// steering turns left, so the right side runs faster.
func MixDifferential(throttle, steering, maxWheel float64) WheelSpeeds {
	if maxWheel <= 0 {
		maxWheel = 1
	}
	clamp := func(v float64) float64 { return math.Min(math.Max(v, -maxWheel), maxWheel) }
	return WheelSpeeds{
		Left:  clamp(throttle - 0.5*steering),
		Right: clamp(throttle + 0.5*steering),
	}
}

// Watchdog holds the latest drive command and zeroes it once no command has
// arrived within the timeout.
type Watchdog struct {
	mu      sync.Mutex
	timeout time.Duration
	cmd     DriveCommand
	last    time.Time
	tripped bool
	now     func() time.Time
}

// NewWatchdog creates a watchdog. A zero timeout never trips.
func NewWatchdog(timeout time.Duration) *Watchdog {
	return &Watchdog{timeout: timeout, now: time.Now}
}

// Feed records a fresh command.
func (w *Watchdog) Feed(cmd DriveCommand) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cmd = cmd
	w.last = w.now()
	w.tripped = false
}

// Current returns the command to apply now and whether the watchdog has
// tripped since the last Feed.
func (w *Watchdog) Current() (DriveCommand, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout > 0 && !w.last.IsZero() && w.now().Sub(w.last) > w.timeout {
		w.cmd = DriveCommand{}
		w.tripped = true
	}
	return w.cmd, w.tripped
}
