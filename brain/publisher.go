package brain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/roverbrain/internal/log"
)

// PoseMessage is published retained on <prefix>/pose.
type PoseMessage struct {
	SessionID  string         `json:"sessionId"`
	Pose       Pose           `json:"pose"`
	Kinematics KinematicsMode `json:"kinematics"`
	Timestamp  int64          `json:"timestamp"`
}

// LandmarksMessage is published retained on <prefix>/landmarks.
type LandmarksMessage struct {
	SessionID string     `json:"sessionId"`
	Landmarks []Landmark `json:"landmarks"`
	Timestamp int64      `json:"timestamp"`
}

// DecisionMessage is published on <prefix>/decision for the explainer.
type DecisionMessage struct {
	SessionID string       `json:"sessionId"`
	Decision  Action       `json:"decision"`
	Pose      Pose         `json:"pose"`
	Sectors   SectorReport `json:"sectors"`
	Summary   string       `json:"summary"`
	Timestamp int64        `json:"timestamp"`
}

// WheelsMessage is published on <prefix>/wheels in differential mode.
type WheelsMessage struct {
	WheelSpeeds
	Timestamp int64 `json:"timestamp"`
}

// Publisher publishes the world model to MQTT
type Publisher struct {
	client mqtt.Client
	topics Topics
	qos    byte
	now    func() time.Time

	mu           sync.Mutex
	lastDecision Action
}

// NewPublisher creates a publisher. If client is nil, every publish returns
// ErrNotConnected.
func NewPublisher(client mqtt.Client, topics Topics, qos byte) *Publisher {
	return &Publisher{
		client: client,
		topics: topics,
		qos:    qos,
		now:    time.Now,
	}
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// PublishPose publishes the pose, retained.
func (p *Publisher) PublishPose(session string, pose Pose, mode KinematicsMode) error {
	return p.publish(p.topics.Pose, true, PoseMessage{
		SessionID:  session,
		Pose:       pose,
		Kinematics: mode,
		Timestamp:  p.now().UnixMilli(),
	})
}

// PublishLandmarks publishes the full landmark list, retained.
func (p *Publisher) PublishLandmarks(session string, landmarks []Landmark) error {
	if landmarks == nil {
		landmarks = []Landmark{}
	}
	return p.publish(p.topics.Landmarks, true, LandmarksMessage{
		SessionID: session,
		Landmarks: landmarks,
		Timestamp: p.now().UnixMilli(),
	})
}

// PublishDecision publishes a decision with its sector summary.
func (p *Publisher) PublishDecision(session string, action Action, pose Pose, sectors SectorReport) error {
	err := p.publish(p.topics.Decision, false, DecisionMessage{
		SessionID: session,
		Decision:  action,
		Pose:      pose,
		Sectors:   sectors,
		Summary:   Explain(action, pose, sectors),
		Timestamp: p.now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	changed := p.lastDecision != action
	p.lastDecision = action
	p.mu.Unlock()
	if changed {
		log.Info("decision", "action", action, "front", sectors.Front.Blocking,
			"left", sectors.Left.Blocking, "right", sectors.Right.Blocking)
	}
	return nil
}

// PublishWheels publishes mixed wheel speeds.
func (p *Publisher) PublishWheels(w WheelSpeeds) error {
	return p.publish(p.topics.Wheels, false, WheelsMessage{
		WheelSpeeds: w,
		Timestamp:   p.now().UnixMilli(),
	})
}

// PublishResult publishes everything a perception tick changed.
func (p *Publisher) PublishResult(session string, r PerceptionResult) error {
	if r.Fuse.Changed() {
		if err := p.PublishLandmarks(session, r.Landmarks); err != nil {
			return err
		}
	}
	return p.PublishDecision(session, r.Decision, r.Pose, r.Sectors)
}
