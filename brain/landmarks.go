package brain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/kwv/roverbrain/internal/log"
)

// Crater size classes, by landmark radius in meters.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"

	craterSmallMax  = 0.03
	craterMediumMax = 0.055
)

// ClassifySize returns the size class of a labelled landmark. Only craters are
// classified; every other label yields "".
func ClassifySize(label string, radius float64) string {
	if label != "crater" {
		return ""
	}
	switch {
	case radius < craterSmallMax:
		return SizeSmall
	case radius < craterMediumMax:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// Project converts a sighting into world coordinates. The horizontal box
// center is mapped linearly onto [-halfFOV, halfFOV] (left of center is a
// positive, counter-clockwise offset) and combined with the distance estimate.
func Project(s Sighting, imageWidth, halfFOV float64, pose Pose) orb.Point {
	mid := imageWidth / 2
	norm := 0.0
	if mid > 0 {
		norm = (s.Box.CenterX() - mid) / mid
	}
	offset := -norm * halfFOV
	local := orb.Point{s.Distance * math.Cos(offset), s.Distance * math.Sin(offset)}
	return PoseFrame(pose).Apply(local)
}

// FuseOutcome says what one sighting did to the map.
type FuseOutcome int

const (
	FuseCreated FuseOutcome = iota
	FuseUpdated
	FuseMerged
	FuseLockedRejected
	FuseSkipped
)

// FuseStats counts the outcomes of one Fuse call.
type FuseStats struct {
	Created  int
	Updated  int // blended via track association
	Merged   int // blended via proximity
	Rejected int // track already bound to a locked landmark
	Locked   int // newly locked this call
	Skipped  int
}

// Changed reports whether the call modified any landmark.
func (s FuseStats) Changed() bool {
	return s.Created+s.Updated+s.Merged > 0
}

// LandmarkMap fuses sightings into a deduplicated set of world landmarks.
// It is not safe for concurrent use.
type LandmarkMap struct {
	cfg       MapConfig
	halfFOV   float64
	landmarks []*Landmark
	byTrack   map[int]*Landmark
	nextID    int

	lockedThisCall int
}

// NewLandmarkMap creates an empty map.
func NewLandmarkMap(cfg MapConfig, camera CameraConfig) *LandmarkMap {
	if cfg.MergeRadius == 0 {
		cfg.MergeRadius = DefaultMergeRadius
	}
	if cfg.MaxObservations == 0 {
		cfg.MaxObservations = DefaultMaxObservations
	}
	if cfg.BlendWeight == 0 {
		cfg.BlendWeight = DefaultBlendWeight
	}
	if cfg.DefaultRadius == 0 {
		cfg.DefaultRadius = DefaultLandmarkRadius
	}
	halfFOV := camera.HalfFOV
	if halfFOV == 0 {
		halfFOV = DefaultHalfFOV
	}
	return &LandmarkMap{
		cfg:     cfg,
		halfFOV: halfFOV,
		byTrack: make(map[int]*Landmark),
		nextID:  1,
	}
}

// Fuse projects each sighting with the given pose and merges it into the map.
func (m *LandmarkMap) Fuse(sightings []Sighting, imageWidth float64, pose Pose) FuseStats {
	var stats FuseStats
	for _, s := range sightings {
		switch m.fuseOne(s, imageWidth, pose) {
		case FuseCreated:
			stats.Created++
		case FuseUpdated:
			stats.Updated++
		case FuseMerged:
			stats.Merged++
		case FuseLockedRejected:
			stats.Rejected++
		case FuseSkipped:
			stats.Skipped++
		}
	}
	stats.Locked = m.lockedThisCall
	m.lockedThisCall = 0
	return stats
}

func (m *LandmarkMap) fuseOne(s Sighting, imageWidth float64, pose Pose) FuseOutcome {
	if math.IsNaN(s.Distance) || math.IsInf(s.Distance, 0) || s.Distance < 0 {
		return FuseSkipped
	}
	p := Project(s, imageWidth, m.halfFOV, pose)
	radius := s.Radius
	if radius <= 0 {
		radius = m.cfg.DefaultRadius
	}

	var trackID int
	tracked := false
	switch src := s.Source.(type) {
	case TrackSource:
		trackID, tracked = src.TrackID, true
		if l, ok := m.byTrack[src.TrackID]; ok {
			if l.Locked {
				return FuseLockedRejected
			}
			m.blend(l, p, radius)
			return FuseUpdated
		}
	case Untracked, nil:
	}

	if l := m.nearest(s.Label, p); l != nil {
		m.blend(l, p, radius)
		return FuseMerged
	}

	l := &Landmark{
		ID:           m.nextID,
		X:            p.X(),
		Y:            p.Y(),
		Radius:       radius,
		Label:        s.Label,
		SizeClass:    ClassifySize(s.Label, radius),
		Observations: 1,
	}
	m.nextID++
	if tracked {
		id := trackID
		l.SourceTrackID = &id
		m.byTrack[trackID] = l
	}
	m.landmarks = append(m.landmarks, l)
	m.lockIfDone(l)
	log.Debug("landmark created", "landmark", l.ID, "label", l.Label, "x", l.X, "y", l.Y)
	return FuseCreated
}

// nearest returns the closest unlocked same-label landmark within the merge
// radius.
func (m *LandmarkMap) nearest(label string, p orb.Point) *Landmark {
	var best *Landmark
	bestDist := math.Inf(1)
	for _, l := range m.landmarks {
		if l.Locked || l.Label != label {
			continue
		}
		d := planar.Distance(orb.Point{l.X, l.Y}, p)
		if d < m.cfg.MergeRadius && d < bestDist {
			best, bestDist = l, d
		}
	}
	return best
}

func (m *LandmarkMap) blend(l *Landmark, p orb.Point, radius float64) {
	w := m.cfg.BlendWeight
	l.X = l.X*(1-w) + p.X()*w
	l.Y = l.Y*(1-w) + p.Y()*w
	l.Radius = l.Radius*(1-w) + radius*w
	l.SizeClass = ClassifySize(l.Label, l.Radius)
	l.Observations++
	m.lockIfDone(l)
}

func (m *LandmarkMap) lockIfDone(l *Landmark) {
	if !l.Locked && l.Observations >= m.cfg.MaxObservations {
		l.Locked = true
		m.lockedThisCall++
		log.Info("landmark locked", "landmark", l.ID, "label", l.Label, "x", l.X, "y", l.Y)
	}
}

// Landmarks returns copies of every landmark, in creation order.
func (m *LandmarkMap) Landmarks() []Landmark {
	out := make([]Landmark, len(m.landmarks))
	for i, l := range m.landmarks {
		out[i] = l.clone()
	}
	return out
}

// Len returns the number of landmarks.
func (m *LandmarkMap) Len() int {
	return len(m.landmarks)
}

// Reset removes every landmark and restarts id numbering.
func (m *LandmarkMap) Reset() {
	m.landmarks = nil
	m.byTrack = make(map[int]*Landmark)
	m.nextID = 1
}

// ForgetTracks drops every track association. Landmarks keep their
// SourceTrackID for reference, but later sightings fall through to the
// proximity merge. Call it whenever the tracker restarts its id numbering.
func (m *LandmarkMap) ForgetTracks() {
	m.byTrack = make(map[int]*Landmark)
}

// Restore replaces the map contents with previously saved landmarks. Track
// associations are not restored since track ids do not survive a restart.
func (m *LandmarkMap) Restore(landmarks []Landmark) {
	m.Reset()
	for _, saved := range landmarks {
		l := saved.clone()
		l.SourceTrackID = nil
		if l.Observations >= m.cfg.MaxObservations {
			l.Locked = true
		}
		m.landmarks = append(m.landmarks, &l)
		if l.ID >= m.nextID {
			m.nextID = l.ID + 1
		}
	}
}
