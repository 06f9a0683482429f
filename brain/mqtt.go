package brain

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/roverbrain/internal/log"
)

// Topics are the MQTT topics under one prefix.
type Topics struct {
	Detections string
	Control    string
	Command    string
	Pose       string
	Landmarks  string
	Decision   string
	Wheels     string
}

// NewTopics derives every topic from the prefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Detections: prefix + "/detections",
		Control:    prefix + "/control",
		Command:    prefix + "/command",
		Pose:       prefix + "/pose",
		Landmarks:  prefix + "/landmarks",
		Decision:   prefix + "/decision",
		Wheels:     prefix + "/wheels",
	}
}

// Handlers receive decoded inbound messages. Nil handlers are skipped.
type Handlers struct {
	Detections func(DetectionBatch)
	Control    func(ControlSample)
	Command    func(Command)
}

// MQTTClient manages the MQTT connection and inbound subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	topics      Topics
	handlers    Handlers
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates the MQTT client and starts connecting in the background.
// If no broker is configured, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handlers Handlers) (*MQTTClient, error) {
	if config == nil || config.MQTT.Broker == "" {
		log.Info("MQTT disabled: no broker configured")
		return nil, nil
	}

	client := &MQTTClient{
		config:   config,
		topics:   NewTopics(config.MQTT.TopicPrefix),
		handlers: handlers,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.MQTT.Broker)

	clientID := config.MQTT.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts.SetClientID(clientID)

	if config.MQTT.Username != "" {
		opts.SetUsername(config.MQTT.Username)
		opts.SetPassword(config.MQTT.Password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true) // control samples must be applied in order

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Info("connecting to MQTT broker", "broker", c.config.MQTT.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Warn("MQTT connection failed", "error", token.Error())
		} else {
			log.Warn("MQTT connection timeout")
		}

		log.Info("retrying MQTT connection", "delay", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the inbound topics
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{c.topics.Detections, c.detectionsHandler},
		{c.topics.Control, c.controlHandler},
		{c.topics.Command, c.commandHandler},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, c.config.MQTT.QoS, s.handler)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Error("subscribe failed", "topic", s.topic, "error", token.Error())
			continue
		}
		log.Info("subscribed", "topic", s.topic)
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Warn("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Info("MQTT reconnecting")
}

func (c *MQTTClient) detectionsHandler(_ mqtt.Client, msg mqtt.Message) {
	batch, err := DecodeDetectionBatch(msg.Payload())
	if err != nil {
		log.Warn("dropping detections payload", "topic", msg.Topic(), "error", err)
		return
	}
	if c.handlers.Detections != nil {
		c.handlers.Detections(batch)
	}
}

func (c *MQTTClient) controlHandler(_ mqtt.Client, msg mqtt.Message) {
	sample, err := DecodeControlSample(msg.Payload())
	if err != nil {
		log.Warn("dropping control payload", "topic", msg.Topic(), "error", err)
		return
	}
	if c.handlers.Control != nil {
		c.handlers.Control(sample)
	}
}

func (c *MQTTClient) commandHandler(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := DecodeCommand(msg.Payload())
	if err != nil {
		log.Warn("dropping command payload", "topic", msg.Topic(), "error", err)
		return
	}
	log.Info("command received", "command", cmd.Command, "mode", cmd.Mode)
	if c.handlers.Command != nil {
		c.handlers.Command(cmd)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Topics returns the topic set in use.
func (c *MQTTClient) Topics() Topics {
	return c.topics
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// NewMQTTClientWithMock wraps an existing mqtt.Client, typically a MockClient.
// The caller is responsible for connecting it; OnConnect performs subscriptions.
func NewMQTTClientWithMock(client mqtt.Client, config *Config, handlers Handlers) *MQTTClient {
	return &MQTTClient{
		client:   client,
		config:   config,
		topics:   NewTopics(config.MQTT.TopicPrefix),
		handlers: handlers,
	}
}

// OnConnect runs the subscription logic against the wrapped client.
func (c *MQTTClient) OnConnect() {
	c.onConnect(c.client)
}
