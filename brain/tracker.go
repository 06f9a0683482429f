package brain

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kwv/roverbrain/internal/log"
)

// IoU returns the intersection-over-union of two boxes. A degenerate union
// yields 0.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a[0], b[0])
	iy1 := math.Max(a[1], b[1])
	ix2 := math.Min(a[2], b[2])
	iy2 := math.Min(a[3], b[3])

	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Track is the tracker's belief about one physical object across frames.
type Track struct {
	ID                int
	Label             string
	Box               Box
	DistanceHistory   []float64
	State             TrackState
	Hits              int
	Misses            int
	TotalObservations int
	Radius            float64
}

// MeanDistance returns the mean of the bounded distance history.
func (t *Track) MeanDistance() float64 {
	if len(t.DistanceHistory) == 0 {
		return 0
	}
	return stat.Mean(t.DistanceHistory, nil)
}

func (t *Track) observe(det Detection, capacity int) {
	t.Box = det.Box
	t.DistanceHistory = append(t.DistanceHistory, det.Distance)
	if over := len(t.DistanceHistory) - capacity; over > 0 {
		t.DistanceHistory = append(t.DistanceHistory[:0], t.DistanceHistory[over:]...)
	}
	if r := radiusFromArea(det.Area); r > 0 {
		t.Radius = r
	}
	t.TotalObservations++
}

func (t *Track) hit(det Detection, capacity int) {
	t.observe(det, capacity)
	t.Hits++
	t.Misses = 0
}

func (t *Track) miss() {
	t.Misses++
	t.Hits = 0
}

// TrackerStats summarises the lifecycle events of the last Update.
type TrackerStats struct {
	Created   int
	Confirmed int
	Lost      int
	Active    int
}

// Tracker associates per-frame detections into persistent tracks using greedy
// highest-IoU-first matching. It is not safe for concurrent use.
type Tracker struct {
	cfg    TrackerConfig
	tracks []*Track
	nextID int
	last   TrackerStats
}

// NewTracker creates a tracker. Zero config fields take their defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.IoUThreshold == 0 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	if cfg.MinHitsToConfirm == 0 {
		cfg.MinHitsToConfirm = DefaultMinHitsToConfirm
	}
	if cfg.MaxMissesToLose == 0 {
		cfg.MaxMissesToLose = DefaultMaxMissesToLose
	}
	if cfg.DistanceHistory == 0 {
		cfg.DistanceHistory = DefaultDistanceHistory
	}
	return &Tracker{cfg: cfg, nextID: 1}
}

// Update ingests one frame of detections and returns every confirmed track.
func (tr *Tracker) Update(dets []Detection) []ConfirmedTrack {
	stats := TrackerStats{}

	trackMatched := make([]bool, len(tr.tracks))
	detMatched := make([]bool, len(dets))

	scores := make([][]float64, len(tr.tracks))
	for i, t := range tr.tracks {
		scores[i] = make([]float64, len(dets))
		for j, d := range dets {
			if t.Label == d.Label {
				scores[i][j] = IoU(t.Box, d.Box)
			}
		}
	}

	// Greedy: take the best remaining pair until it falls below threshold.
	// Ties resolve to the first pair in track-then-detection order.
	for {
		bi, bj, best := -1, -1, -1.0
		for i := range scores {
			if trackMatched[i] {
				continue
			}
			for j, s := range scores[i] {
				if detMatched[j] || math.IsNaN(s) {
					continue
				}
				if s > best {
					bi, bj, best = i, j, s
				}
			}
		}
		if bi < 0 || best < tr.cfg.IoUThreshold {
			break
		}
		tr.tracks[bi].hit(dets[bj], tr.cfg.DistanceHistory)
		trackMatched[bi] = true
		detMatched[bj] = true
	}

	for i, t := range tr.tracks {
		if !trackMatched[i] {
			t.miss()
		}
	}

	for j, d := range dets {
		if detMatched[j] {
			continue
		}
		t := &Track{ID: tr.nextID, Label: d.Label, State: TrackTentative}
		tr.nextID++
		t.observe(d, tr.cfg.DistanceHistory)
		t.Hits = 1
		tr.tracks = append(tr.tracks, t)
		stats.Created++
	}

	kept := tr.tracks[:0]
	for _, t := range tr.tracks {
		if t.State == TrackTentative && t.Hits >= tr.cfg.MinHitsToConfirm {
			t.State = TrackConfirmed
			stats.Confirmed++
			log.Debug("track confirmed", "track", t.ID, "label", t.Label)
		}
		if t.Misses >= tr.cfg.MaxMissesToLose {
			t.State = TrackLost
			stats.Lost++
			log.Debug("track lost", "track", t.ID, "label", t.Label)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(tr.tracks); i++ {
		tr.tracks[i] = nil
	}
	tr.tracks = kept
	stats.Active = len(tr.tracks)
	tr.last = stats

	return tr.Confirmed()
}

// Confirmed returns the confirmed tracks without advancing the tracker.
func (tr *Tracker) Confirmed() []ConfirmedTrack {
	out := make([]ConfirmedTrack, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		if t.State != TrackConfirmed {
			continue
		}
		out = append(out, ConfirmedTrack{
			TrackID:      t.ID,
			Label:        t.Label,
			Box:          t.Box,
			Distance:     t.MeanDistance(),
			Radius:       t.Radius,
			Observations: t.TotalObservations,
		})
	}
	return out
}

// Tracks returns copies of every active track.
func (tr *Tracker) Tracks() []Track {
	out := make([]Track, len(tr.tracks))
	for i, t := range tr.tracks {
		out[i] = *t
		out[i].DistanceHistory = append([]float64(nil), t.DistanceHistory...)
	}
	return out
}

// Stats returns the lifecycle counts of the most recent Update.
func (tr *Tracker) Stats() TrackerStats {
	return tr.last
}

// Reset clears all tracks and restarts id numbering.
func (tr *Tracker) Reset() {
	tr.tracks = nil
	tr.nextID = 1
	tr.last = TrackerStats{}
}
