package brain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Box is an image-space bounding box [x1, y1, x2, y2] in pixels.
type Box [4]float64

// Width returns the horizontal extent of the box (never negative).
func (b Box) Width() float64 {
	return math.Max(0, b[2]-b[0])
}

// Height returns the vertical extent of the box (never negative).
func (b Box) Height() float64 {
	return math.Max(0, b[3]-b[1])
}

// Area returns the signed box area as computed from its corners.
// Inverted boxes yield a non-positive area.
func (b Box) Area() float64 {
	return (b[2] - b[0]) * (b[3] - b[1])
}

// CenterX returns the horizontal center of the box
func (b Box) CenterX() float64 {
	return (b[0] + b[2]) / 2
}

// Detection is one observation of one object in one camera frame, produced by
// the external detector.
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
	Distance   float64 `json:"distance"`
	// Area is the estimated ground-plane footprint in m², when the detector
	// produced a segmentation mask.
	Area *float64 `json:"area,omitempty"`
}

// DetectionBatch is everything the detector saw in one frame.
type DetectionBatch struct {
	ImageWidth float64     `json:"imageWidth"`
	Detections []Detection `json:"detections"`
	Timestamp  int64       `json:"timestamp,omitempty"`
}

// ControlSample is one drive command together with the wall time elapsed since
// the previous sample.
type ControlSample struct {
	Throttle float64 `json:"throttle"`
	Steering float64 `json:"steering"`
	DT       float64 `json:"dt"`
}

// TrackState is the lifecycle state of a Track.
type TrackState int

const (
	TrackTentative TrackState = iota
	TrackConfirmed
	TrackLost
)

func (s TrackState) String() string {
	switch s {
	case TrackTentative:
		return "tentative"
	case TrackConfirmed:
		return "confirmed"
	case TrackLost:
		return "lost"
	default:
		return fmt.Sprintf("TrackState(%d)", int(s))
	}
}

// MarshalText encodes the state by name
func (s TrackState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConfirmedTrack is the tracker's per-frame output for a confirmed track.
// Distance is the mean of the track's recent distance history.
type ConfirmedTrack struct {
	TrackID      int     `json:"trackId"`
	Label        string  `json:"label"`
	Box          Box     `json:"box"`
	Distance     float64 `json:"distance"`
	Radius       float64 `json:"radius,omitempty"` // 0 when no area estimate was seen
	Observations int     `json:"observations"`
}

// Pose is the rover pose in world meters. Theta is in radians, counter-clockwise
// from +X, and is not wrapped.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Landmark is a persistent world-space object in the map.
type Landmark struct {
	ID            int     `json:"id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Radius        float64 `json:"radius"`
	Label         string  `json:"label"`
	SizeClass     string  `json:"sizeClass,omitempty"`
	SourceTrackID *int    `json:"sourceTrackId,omitempty"`
	Observations  int     `json:"observationCount"`
	Locked        bool    `json:"locked"`
}

// clone returns a deep copy so callers never share SourceTrackID storage.
func (l Landmark) clone() Landmark {
	if l.SourceTrackID != nil {
		id := *l.SourceTrackID
		l.SourceTrackID = &id
	}
	return l
}

// Action is a discrete navigation decision.
type Action string

const (
	GoStraight Action = "go_straight"
	TurnLeft   Action = "turn_left"
	TurnRight  Action = "turn_right"
	Stop       Action = "stop"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case GoStraight, TurnLeft, TurnRight, Stop:
		return true
	}
	return false
}

// Source says where a sighting came from. It is either a TrackSource or an
// Untracked value.
type Source interface {
	isSource()
}

// TrackSource marks a sighting produced by a confirmed tracker track.
type TrackSource struct {
	TrackID int
}

// Untracked marks a sighting that carries no track identity, e.g. a raw
// detection forwarded straight to the map.
type Untracked struct{}

func (TrackSource) isSource() {}
func (Untracked) isSource()   {}

// Sighting is one object observation handed to the landmark map.
type Sighting struct {
	Label    string
	Box      Box
	Distance float64
	Radius   float64 // 0 means unknown; the map default is used
	Source   Source
}

// SightingsFromTracks converts confirmed tracks into tracked sightings.
func SightingsFromTracks(tracks []ConfirmedTrack) []Sighting {
	out := make([]Sighting, len(tracks))
	for i, t := range tracks {
		out[i] = Sighting{
			Label:    t.Label,
			Box:      t.Box,
			Distance: t.Distance,
			Radius:   t.Radius,
			Source:   TrackSource{TrackID: t.TrackID},
		}
	}
	return out
}

// SightingsFromDetections converts raw detections into untracked sightings.
func SightingsFromDetections(dets []Detection) []Sighting {
	out := make([]Sighting, len(dets))
	for i, d := range dets {
		out[i] = Sighting{
			Label:    d.Label,
			Box:      d.Box,
			Distance: d.Distance,
			Radius:   radiusFromArea(d.Area),
			Source:   Untracked{},
		}
	}
	return out
}

// radiusFromArea converts an optional area estimate into an equivalent disc radius.
func radiusFromArea(area *float64) float64 {
	if area == nil || *area <= 0 {
		return 0
	}
	return math.Sqrt(*area / math.Pi)
}

// Mission control commands.
const (
	CommandReset       = "reset"
	CommandResetTracks = "reset_tracks"
	CommandKinematics  = "kinematics"
)

// Command is a control message from mission control.
type Command struct {
	Command string         `json:"command"`
	Mode    KinematicsMode `json:"mode,omitempty"`
}

// UnmarshalJSON accepts both {"command":"reset"} objects and bare "reset" strings.
func (c *Command) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		c.Command = plain
		c.Mode = ""
		return nil
	}
	type alias Command
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Command(a)
	return nil
}
