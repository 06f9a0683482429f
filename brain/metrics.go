package brain

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the core's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	detections       prometheus.Counter
	tracksConfirmed  prometheus.Counter
	tracksLost       prometheus.Counter
	landmarksCreated prometheus.Counter
	landmarkUpdates  prometheus.Counter
	lockedRejections prometheus.Counter
	decisions        *prometheus.CounterVec
	controlTicks     prometheus.Counter
	watchdogTrips    prometheus.Counter
	perceptionTicks  prometheus.Counter

	activeTracks    prometheus.Gauge
	landmarks       prometheus.Gauge
	lockedLandmarks prometheus.Gauge
	pose            *prometheus.GaugeVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_detections_total",
			Help: "Detections ingested by the tracker",
		}),
		tracksConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_tracks_confirmed_total",
			Help: "Tracks promoted from tentative to confirmed",
		}),
		tracksLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_tracks_lost_total",
			Help: "Tracks purged after too many misses",
		}),
		landmarksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_landmarks_created_total",
			Help: "Landmarks added to the map",
		}),
		landmarkUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_landmark_updates_total",
			Help: "Sightings blended into an existing landmark",
		}),
		lockedRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_landmark_locked_rejections_total",
			Help: "Tracked sightings discarded because their landmark is locked",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rover_decisions_total",
			Help: "Navigation decisions by action",
		}, []string{"action"}),
		controlTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_control_ticks_total",
			Help: "Pose integration steps",
		}),
		watchdogTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_watchdog_trips_total",
			Help: "Times the drive command was zeroed for lack of input",
		}),
		perceptionTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rover_perception_ticks_total",
			Help: "Detection batches processed",
		}),

		activeTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_active_tracks",
			Help: "Tracks currently held by the tracker",
		}),
		landmarks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_landmarks",
			Help: "Landmarks in the map",
		}),
		lockedLandmarks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rover_landmarks_locked",
			Help: "Landmarks whose position is frozen",
		}),
		pose: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rover_pose",
			Help: "Current pose estimate (x and y in meters, theta in radians)",
		}, []string{"axis"}),
	}

	m.registry.MustRegister(
		m.detections, m.tracksConfirmed, m.tracksLost,
		m.landmarksCreated, m.landmarkUpdates, m.lockedRejections,
		m.decisions, m.controlTicks, m.watchdogTrips, m.perceptionTicks,
		m.activeTracks, m.landmarks, m.lockedLandmarks, m.pose,
	)
	for _, a := range []Action{GoStraight, TurnLeft, TurnRight, Stop} {
		m.decisions.WithLabelValues(string(a))
	}
	return m
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeControl(p Pose) {
	if m == nil {
		return
	}
	m.controlTicks.Inc()
	m.setPose(p)
}

func (m *Metrics) setPose(p Pose) {
	if m == nil {
		return
	}
	m.pose.WithLabelValues("x").Set(p.X)
	m.pose.WithLabelValues("y").Set(p.Y)
	m.pose.WithLabelValues("theta").Set(p.Theta)
}

func (m *Metrics) observePerception(detections int, ts TrackerStats, fs FuseStats, action Action) {
	if m == nil {
		return
	}
	m.perceptionTicks.Inc()
	m.detections.Add(float64(detections))
	m.tracksConfirmed.Add(float64(ts.Confirmed))
	m.tracksLost.Add(float64(ts.Lost))
	m.activeTracks.Set(float64(ts.Active))
	m.landmarksCreated.Add(float64(fs.Created))
	m.landmarkUpdates.Add(float64(fs.Updated + fs.Merged))
	m.lockedRejections.Add(float64(fs.Rejected))
	m.decisions.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) setLandmarks(landmarks []Landmark) {
	if m == nil {
		return
	}
	locked := 0
	for _, l := range landmarks {
		if l.Locked {
			locked++
		}
	}
	m.landmarks.Set(float64(len(landmarks)))
	m.lockedLandmarks.Set(float64(locked))
}

// WatchdogTripped records a drive-command timeout.
func (m *Metrics) WatchdogTripped() {
	if m == nil {
		return
	}
	m.watchdogTrips.Inc()
}
