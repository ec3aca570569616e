package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

// MQTTConfig configures the MQTT bridge. An empty BrokerURL disables it.
type MQTTConfig struct {
	BrokerURL   string `mapstructure:"broker_url" yaml:"broker_url"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool { return strings.TrimSpace(c.BrokerURL) != "" }

// publisher is the part of paho.Client the bridge uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher forwards bus events to an MQTT broker so external dashboards
// can follow runs. Topics are <prefix>/<run id>/<event type>.
type MQTTPublisher struct {
	client publisher
	prefix string
	qos    byte
	logger *slog.Logger
}

// DialMQTT connects to the broker described by cfg.
func DialMQTT(cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mqtt broker url is empty")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gisengine"
	}
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return newMQTTPublisher(client, cfg, logger), nil
}

func newMQTTPublisher(client publisher, cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "gisengine/runs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: cfg.QoS, logger: logger}
}

// Topic returns the topic e is published on.
func (p *MQTTPublisher) Topic(e Event) string {
	run := e.RunID
	if run == "" {
		run = "_"
	}
	return p.prefix + "/" + run + "/" + string(e.Type)
}

// Handle publishes e. It is meant to be passed to Bus.SubscribeAll.
func (p *MQTTPublisher) Handle(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("encode event for mqtt", slog.String("error", err.Error()))
		return
	}
	token := p.client.Publish(p.Topic(e), p.qos, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.logger.Warn("mqtt publish timed out", slog.String("event", string(e.Type)))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("mqtt publish failed", slog.String("event", string(e.Type)), slog.String("error", err.Error()))
	}
}

// Attach subscribes p to every event on bus and returns the detach function.
func (p *MQTTPublisher) Attach(bus *Bus) func() {
	return bus.SubscribeAll(p.Handle)
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
