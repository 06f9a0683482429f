package brain

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Sector is an angular partition relative to the rover heading.
type Sector string

const (
	SectorFront Sector = "front"
	SectorLeft  Sector = "left"
	SectorRight Sector = "right"
)

// SectorOf classifies a normalized bearing.
func SectorOf(bearing, frontHalfAngle float64) Sector {
	switch {
	case math.Abs(bearing) < frontHalfAngle:
		return SectorFront
	case bearing > 0:
		return SectorLeft
	default:
		return SectorRight
	}
}

// Blocker is a landmark close enough to obstruct the rover.
type Blocker struct {
	LandmarkID int     `json:"landmarkId"`
	Label      string  `json:"label"`
	Bearing    float64 `json:"bearing"`
	Distance   float64 `json:"distance"`
	Clearance  float64 `json:"clearance"` // distance - radius
}

// SectorSummary describes one sector.
type SectorSummary struct {
	Landmarks int      `json:"landmarks"`
	Blocking  int      `json:"blocking"`
	Nearest   *Blocker `json:"nearest,omitempty"` // nearest blocking landmark
}

// Blocked reports whether any landmark in the sector is blocking.
func (s SectorSummary) Blocked() bool {
	return s.Blocking > 0
}

// SectorReport is the per-sector view the decision is derived from.
type SectorReport struct {
	Front SectorSummary `json:"front"`
	Left  SectorSummary `json:"left"`
	Right SectorSummary `json:"right"`
}

func (r *SectorReport) summary(s Sector) *SectorSummary {
	switch s {
	case SectorFront:
		return &r.Front
	case SectorLeft:
		return &r.Left
	default:
		return &r.Right
	}
}

// Analyze partitions landmarks into sectors around the pose.
func Analyze(cfg DecisionConfig, pose Pose, landmarks []Landmark) SectorReport {
	if cfg.FrontHalfAngle == 0 {
		cfg.FrontHalfAngle = DefaultFrontHalfAngle
	}
	if cfg.SafeMargin == 0 {
		cfg.SafeMargin = DefaultSafeMargin
	}
	var r SectorReport
	for _, l := range landmarks {
		bearing, dist := BearingTo(pose, orb.Point{l.X, l.Y})
		sum := r.summary(SectorOf(bearing, cfg.FrontHalfAngle))
		sum.Landmarks++
		if dist >= l.Radius+cfg.SafeMargin {
			continue
		}
		sum.Blocking++
		b := &Blocker{
			LandmarkID: l.ID,
			Label:      l.Label,
			Bearing:    bearing,
			Distance:   dist,
			Clearance:  dist - l.Radius,
		}
		if sum.Nearest == nil || b.Clearance < sum.Nearest.Clearance {
			sum.Nearest = b
		}
	}
	return r
}

// Choose applies the avoidance rule to a sector report.
func Choose(r SectorReport) Action {
	switch {
	case !r.Front.Blocked():
		return GoStraight
	case !r.Left.Blocked():
		return TurnLeft
	case !r.Right.Blocked():
		return TurnRight
	default:
		return Stop
	}
}

// Decide picks a navigation action from the pose and the landmark list. It is
// a pure function of its arguments.
func Decide(cfg DecisionConfig, pose Pose, landmarks []Landmark) Action {
	return Choose(Analyze(cfg, pose, landmarks))
}

// Explain renders a short plain-text summary of a decision for downstream
// narration.
func Explain(action Action, pose Pose, r SectorReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at (%.2f, %.2f) heading %.0f°.",
		action, pose.X, pose.Y, NormalizeAngle(pose.Theta)*180/math.Pi)

	for _, s := range []Sector{SectorFront, SectorLeft, SectorRight} {
		sum := r.summary(s)
		if !sum.Blocked() {
			fmt.Fprintf(&b, " %s clear (%d seen).", s, sum.Landmarks)
			continue
		}
		n := sum.Nearest
		fmt.Fprintf(&b, " %s blocked by %d, nearest %s #%d at %.2f m.",
			s, sum.Blocking, n.Label, n.LandmarkID, n.Distance)
	}
	return b.String()
}
