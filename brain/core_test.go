package brain

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) (*Core, *Metrics) {
	t.Helper()
	m := NewMetrics()
	return NewCore(*DefaultConfig(), m), m
}

// rockAhead is a centered rock 1 m in front of the rover.
func rockAhead() DetectionBatch {
	return DetectionBatch{
		ImageWidth: 640,
		Detections: []Detection{det("rock", centered(), 1.0)},
	}
}

func TestCore_PerceptionPipeline(t *testing.T) {
	c, _ := newTestCore(t)

	r := c.PerceptionTick(rockAhead())
	assert.Empty(t, r.Tracks)
	assert.Empty(t, r.Landmarks)
	assert.Equal(t, GoStraight, r.Decision)

	c.PerceptionTick(rockAhead())
	r = c.PerceptionTick(rockAhead())
	require.Len(t, r.Tracks, 1)
	require.Len(t, r.Landmarks, 1)
	assert.InDelta(t, 2.5, r.Landmarks[0].X, 1e-9)
	assert.InDelta(t, 3.5, r.Landmarks[0].Y, 1e-9)
	assert.Equal(t, 1, *r.Landmarks[0].SourceTrackID)
	assert.Equal(t, GoStraight, r.Decision, "1 m is beyond radius + margin")
	assert.Equal(t, 1, r.Fuse.Created)
	assert.NotEmpty(t, r.Summary)
}

func TestCore_ObstacleTriggersTurn(t *testing.T) {
	c, _ := newTestCore(t)
	batch := DetectionBatch{ImageWidth: 640, Detections: []Detection{det("rock", centered(), 0.5)}}
	var r PerceptionResult
	for i := 0; i < 3; i++ {
		r = c.PerceptionTick(batch)
	}
	assert.Equal(t, TurnLeft, r.Decision)
	assert.Equal(t, 1, r.Sectors.Front.Blocking)
}

func TestCore_ControlTickMovesPose(t *testing.T) {
	c, _ := newTestCore(t)
	for i := 0; i < 10; i++ {
		c.ControlTick(ControlSample{Throttle: 1, DT: 0.1})
	}
	assert.InDelta(t, 3.0, c.Pose().Y, 1e-9)

	// The decision now sees the rover 0.5 m closer to the same landmark.
	c.Restore([]Landmark{{ID: 1, X: 2.5, Y: 3.6, Radius: 0.3, Label: "rock", Observations: 3}})
	action, sectors := c.Decide()
	assert.Equal(t, TurnLeft, action)
	assert.True(t, sectors.Front.Blocked())
}

func TestCore_ResetMap(t *testing.T) {
	c, _ := newTestCore(t)
	for i := 0; i < 3; i++ {
		c.PerceptionTick(rockAhead())
	}
	c.ControlTick(ControlSample{Throttle: 1, Steering: 0.5, DT: 0.5})
	session := c.SessionID()

	c.ResetMap()

	s := c.Snapshot()
	assert.Empty(t, s.Landmarks)
	assert.Empty(t, s.Tracks)
	assert.Equal(t, Pose{X: 2.5, Y: 2.5, Theta: math.Pi / 2}, s.Pose)
	assert.Equal(t, Odometry{}, s.Odometry)
	assert.NotEqual(t, session, s.SessionID)
	assert.Equal(t, GoStraight, s.Decision)

	c.PerceptionTick(rockAhead())
	c.PerceptionTick(rockAhead())
	r := c.PerceptionTick(rockAhead())
	require.Len(t, r.Tracks, 1)
	assert.Equal(t, 1, r.Tracks[0].TrackID, "track ids restart after reset")
}

func TestCore_ResetTracksKeepsLandmarks(t *testing.T) {
	c, _ := newTestCore(t)
	for i := 0; i < 3; i++ {
		c.PerceptionTick(rockAhead())
	}
	session := c.SessionID()

	c.ResetTracks()

	s := c.Snapshot()
	assert.Len(t, s.Landmarks, 1)
	assert.Empty(t, s.Tracks)
	assert.Equal(t, session, s.SessionID)
}

func TestCore_SetKinematics(t *testing.T) {
	c, _ := newTestCore(t)
	require.NoError(t, c.SetKinematics(ModeDifferential))
	c.ControlTick(ControlSample{Steering: 1, DT: 0.5})
	assert.InDelta(t, math.Pi/2+1.0, c.Pose().Theta, 1e-9)
	assert.Equal(t, ModeDifferential, c.Snapshot().Kinematics)

	assert.ErrorIs(t, c.SetKinematics("walker"), ErrUnknownKinematics)
}

func TestCore_DefaultImageWidth(t *testing.T) {
	c, _ := newTestCore(t)
	batch := rockAhead()
	batch.ImageWidth = 0
	for i := 0; i < 3; i++ {
		c.PerceptionTick(batch)
	}
	lms := c.Landmarks()
	require.Len(t, lms, 1)
	assert.InDelta(t, 2.5, lms[0].X, 1e-9, "640 px default keeps the box centered")
}

func TestCore_ConcurrentTicks(t *testing.T) {
	c, _ := newTestCore(t)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 300; i++ {
			c.ControlTick(ControlSample{Throttle: 0.3, Steering: 0.2, DT: 0.01})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.PerceptionTick(rockAhead())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s := c.Snapshot()
			assert.True(t, s.Decision.Valid())
		}
	}()
	wg.Wait()
}

func TestCore_Metrics(t *testing.T) {
	c, m := newTestCore(t)
	for i := 0; i < 3; i++ {
		c.PerceptionTick(rockAhead())
	}
	c.ControlTick(ControlSample{Throttle: 1, DT: 0.1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	for _, want := range []string{
		"rover_detections_total 3",
		"rover_tracks_confirmed_total 1",
		"rover_landmarks_created_total 1",
		"rover_landmarks 1",
		`rover_decisions_total{action="go_straight"} 3`,
		"rover_control_ticks_total 1",
	} {
		assert.True(t, strings.Contains(text, want), "metrics missing %q", want)
	}
}

func TestCore_NilMetrics(t *testing.T) {
	c := NewCore(*DefaultConfig(), nil)
	assert.NotPanics(t, func() {
		c.ControlTick(ControlSample{Throttle: 1, DT: 0.1})
		c.PerceptionTick(rockAhead())
		c.ResetMap()
	})
}
