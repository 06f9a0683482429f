package brain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Coordinates are map-local meters, not WGS84; consumers treat the
// collection as a planar CRS.

// LandmarksToGeoJSON builds a FeatureCollection with one Point per landmark,
// the rover pose, and the map boundary.
func LandmarksToGeoJSON(s State, bounds orb.Bound) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, l := range s.Landmarks {
		f := geojson.NewFeature(orb.Point{l.X, l.Y})
		f.ID = l.ID
		f.Properties["kind"] = "landmark"
		f.Properties["label"] = l.Label
		f.Properties["radius"] = l.Radius
		f.Properties["observations"] = l.Observations
		f.Properties["locked"] = l.Locked
		if l.SizeClass != "" {
			f.Properties["sizeClass"] = l.SizeClass
		}
		fc.Append(f)
	}

	rover := geojson.NewFeature(orb.Point{s.Pose.X, s.Pose.Y})
	rover.Properties["kind"] = "rover"
	rover.Properties["theta"] = s.Pose.Theta
	rover.Properties["decision"] = string(s.Decision)
	rover.Properties["sessionId"] = s.SessionID
	fc.Append(rover)

	arena := geojson.NewFeature(bounds.ToPolygon())
	arena.Properties["kind"] = "arena"
	fc.Append(arena)

	return fc
}
